// Package models defines the trust zone aggregate: the delegation container,
// its governance configuration, and member role assignments.
package models

import (
	"regexp"
	"strings"
	"time"

	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// Status is the zone lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// CanTransitionTo reports whether the lifecycle move is legal. Archived is
// terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusActive || next == StatusArchived
	case StatusActive:
		return next == StatusSuspended || next == StatusArchived
	case StatusSuspended:
		return next == StatusActive || next == StatusArchived
	default:
		return false
	}
}

// Role is a zone-scoped role bound through a ZoneAssignment.
type Role string

const (
	RoleExecutor  Role = "executor"
	RoleApprover  Role = "approver"
	RoleEvaluator Role = "evaluator"
	RoleGardener  Role = "gardener"
)

// ValidRole reports whether the role is one of the closed set.
func ValidRole(r Role) bool {
	switch r {
	case RoleExecutor, RoleApprover, RoleEvaluator, RoleGardener:
		return true
	}
	return false
}

// TrustZone is a delegation container. ParentID is the single nullable parent
// reference; the tree is an arena of records keyed by id, never an embedded
// object graph.
type TrustZone struct {
	ID               id.ZoneID
	OrgID            id.OrgID
	ParentID         id.ZoneID // nil UUID means root
	Name             string
	Slug             string
	Description      string
	Status           Status
	CreatedBy        id.MemberID
	Responsibilities string

	ResourceScope    *ResourceScope
	Constraints      *Constraints
	DecisionModel    DecisionModelConfig
	ApprovalPolicy   *ApprovalPolicy
	EscalationPolicy *EscalationPolicy
	EvaluationPolicy *EvaluationPolicy

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRoot reports whether the zone has no parent.
func (z *TrustZone) IsRoot() bool { return z.ParentID.IsNil() }

// AllowsMutation reports whether the zone status permits state-changing
// actions. Suspended and archived zones stay readable.
func (z *TrustZone) AllowsMutation() bool {
	return z.Status == StatusActive || z.Status == StatusDraft
}

// ZoneAssignment binds a member to a role within a zone. Many-to-many across
// (member, zone, role).
type ZoneAssignment struct {
	ID         id.AssignmentID
	ZoneID     id.ZoneID
	MemberID   id.MemberID
	Role       Role
	AssignedBy id.MemberID
	CreatedAt  time.Time
}

// ResourceScope bounds what a zone's members may touch. A child zone's scope
// must be a subset of its parent's.
type ResourceScope struct {
	AllowedBoards     []string `json:"allowed_boards,omitempty"`
	AllowedAgentTypes []string `json:"allowed_agent_types,omitempty"`
	BudgetLimit       *float64 `json:"budget_limit,omitempty"`
}

// ResourceContext carries the payload attributes checked against a scope.
type ResourceContext struct {
	BoardID      string
	AgentType    string
	BudgetAmount *float64
}

// Check validates the context against the scope. The reason is empty on
// success and describes the violation on failure.
func (s *ResourceScope) Check(ctx ResourceContext) (bool, string) {
	if s == nil {
		return true, ""
	}
	if len(s.AllowedBoards) > 0 && ctx.BoardID != "" && !contains(s.AllowedBoards, ctx.BoardID) {
		return false, "board " + ctx.BoardID + " is not in zone's allowed boards"
	}
	if len(s.AllowedAgentTypes) > 0 && ctx.AgentType != "" && !contains(s.AllowedAgentTypes, ctx.AgentType) {
		return false, "agent type '" + ctx.AgentType + "' is not in zone's allowed agent types"
	}
	if s.BudgetLimit != nil && ctx.BudgetAmount != nil && *ctx.BudgetAmount > *s.BudgetLimit {
		return false, "budget amount exceeds zone limit"
	}
	return true, ""
}

// SubsetOf reports whether this scope is at most as wide as the parent scope.
// A nil parent scope is unbounded; a nil child scope inherits the parent's
// bounds at check time so it never widens.
func (s *ResourceScope) SubsetOf(parent *ResourceScope) (bool, string) {
	if parent == nil || s == nil {
		return true, ""
	}
	if len(parent.AllowedBoards) > 0 {
		if len(s.AllowedBoards) == 0 {
			return false, "child zone cannot drop the parent's board restriction"
		}
		for _, b := range s.AllowedBoards {
			if !contains(parent.AllowedBoards, b) {
				return false, "child zone cannot allow board " + b + " outside parent scope"
			}
		}
	}
	if len(parent.AllowedAgentTypes) > 0 {
		if len(s.AllowedAgentTypes) == 0 {
			return false, "child zone cannot drop the parent's agent type restriction"
		}
		for _, a := range s.AllowedAgentTypes {
			if !contains(parent.AllowedAgentTypes, a) {
				return false, "child zone cannot allow agent type " + a + " outside parent scope"
			}
		}
	}
	if parent.BudgetLimit != nil {
		if s.BudgetLimit == nil || *s.BudgetLimit > *parent.BudgetLimit {
			return false, "child zone budget limit cannot exceed parent's"
		}
	}
	return true, ""
}

// Constraints are zone-level allow/deny rules on actions. Parent-blocked
// actions must remain blocked in children; child-allowed actions must be a
// subset of the parent's allowed actions.
type Constraints struct {
	AllowedActions []string `json:"allowed_actions,omitempty"`
	BlockedActions []string `json:"blocked_actions,omitempty"`
}

// Allows checks a single action against this constraint set. Blocked wins over
// allowed; an empty allow list permits everything not blocked.
func (c *Constraints) Allows(action string) bool {
	if c == nil {
		return true
	}
	if contains(c.BlockedActions, action) {
		return false
	}
	if len(c.AllowedActions) > 0 {
		return contains(c.AllowedActions, action)
	}
	return true
}

// ValidateNarrowing checks that child constraints only narrow the parent's.
func ValidateNarrowing(parent, child *Constraints) error {
	if parent == nil || child == nil {
		return nil
	}
	for _, blocked := range parent.BlockedActions {
		if !contains(child.BlockedActions, blocked) {
			return dErrors.New(dErrors.CodeConstraintViolation,
				"child zone cannot unblock parent-blocked action: "+blocked)
		}
	}
	if len(parent.AllowedActions) > 0 && len(child.AllowedActions) > 0 {
		for _, allowed := range child.AllowedActions {
			if !contains(parent.AllowedActions, allowed) {
				return dErrors.New(dErrors.CodeConstraintViolation,
					"child zone cannot allow action not allowed by parent: "+allowed)
			}
		}
	}
	return nil
}

// ApprovalPolicy configures how proposals in the zone find reviewers.
type ApprovalPolicy struct {
	AutoApproveTypes  []string      `json:"auto_approve_types,omitempty"`
	StaticReviewers   []id.MemberID `json:"static_reviewers,omitempty"`
	SelectionStrategy string        `json:"reviewer_selection_strategy,omitempty"` // "" | "gardener"
}

// EscalationPolicy configures the zone's escalation behavior.
type EscalationPolicy struct {
	CosignerThreshold      int     `json:"cosigner_threshold,omitempty"`
	MaxPerWindow           int     `json:"max_per_window,omitempty"`
	WindowHours            int     `json:"window_hours,omitempty"`
	AutoEscalateAfterHours float64 `json:"auto_escalate_after_hours,omitempty"`
	// FailClosed expires deadlocked proposals instead of escalating them.
	FailClosed bool `json:"fail_closed,omitempty"`
}

// DefaultCosignerThreshold guards governance escalations against single-actor
// attacks when the zone does not configure its own threshold.
const DefaultCosignerThreshold = 2

// CosignersRequired returns the configured co-signer threshold, at least 1.
func (p *EscalationPolicy) CosignersRequired() int {
	if p == nil || p.CosignerThreshold < 1 {
		return DefaultCosignerThreshold
	}
	return p.CosignerThreshold
}

// Window returns the rate-limit window, defaulting to 24 hours.
func (p *EscalationPolicy) Window() time.Duration {
	if p == nil || p.WindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(p.WindowHours) * time.Hour
}

// DefaultMaxEscalations caps escalations per actor per zone per window when the
// zone does not configure its own limit.
const DefaultMaxEscalations = 5

// MaxEscalations returns the per-actor escalation cap for one window.
func (p *EscalationPolicy) MaxEscalations() int {
	if p == nil || p.MaxPerWindow <= 0 {
		return DefaultMaxEscalations
	}
	return p.MaxPerWindow
}

// AutoEscalateAfter returns how long an escalation may sit unresolved before
// the sweep re-targets it one level up. Zero disables auto-escalation.
func (p *EscalationPolicy) AutoEscalateAfter() time.Duration {
	if p == nil || p.AutoEscalateAfterHours <= 0 {
		return 0
	}
	return time.Duration(p.AutoEscalateAfterHours * float64(time.Hour))
}

// EvaluationPolicy sets the incentive thresholds applied at finalization.
type EvaluationPolicy struct {
	PositiveThreshold float64 `json:"positive_threshold,omitempty"` // default 0.8
	NegativeThreshold float64 `json:"negative_threshold,omitempty"` // default 0.4
	TimeoutHours      float64 `json:"timeout_hours,omitempty"`
}

// PositiveCutoff returns the aggregate score at or above which the executor
// earns a positive incentive signal.
func (p *EvaluationPolicy) PositiveCutoff() float64 {
	if p == nil || p.PositiveThreshold <= 0 {
		return 0.8
	}
	return p.PositiveThreshold
}

// NegativeCutoff returns the aggregate score below which the executor earns a
// negative incentive signal.
func (p *EvaluationPolicy) NegativeCutoff() float64 {
	if p == nil || p.NegativeThreshold <= 0 {
		return 0.4
	}
	return p.NegativeThreshold
}

// EvaluationTimeout returns how long an evaluation may wait for its required
// evaluators before finalization is allowed anyway. Defaults to 72 hours.
func (p *EvaluationPolicy) EvaluationTimeout() time.Duration {
	if p == nil || p.TimeoutHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(p.TimeoutHours * float64(time.Hour))
}

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugSpaces   = regexp.MustCompile(`[\s_]+`)
	slugCollapse = regexp.MustCompile(`-+`)
)

// Slugify generates a URL-safe slug from a zone name.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugSpaces.ReplaceAllString(slug, "-")
	return strings.Trim(slugCollapse.ReplaceAllString(slug, "-"), "-")
}

// NewTrustZone validates and constructs a zone in draft status.
func NewTrustZone(zoneID id.ZoneID, orgID id.OrgID, createdBy id.MemberID, name, slug string, now time.Time) (*TrustZone, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "zone name is required")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeValidation, "zone name must be at most 128 characters")
	}
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "zone slug could not be derived from name")
	}
	return &TrustZone{
		ID:        zoneID,
		OrgID:     orgID,
		Name:      name,
		Slug:      slug,
		Status:    StatusDraft,
		CreatedBy: createdBy,
		DecisionModel: DecisionModelConfig{
			Type:      ModelThreshold,
			Threshold: 1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
