// Package models defines proposals and their approval requests.
package models

import (
	"strings"
	"time"

	zone "arbor/internal/zone/models"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// Type is the closed set of proposal types.
type Type string

const (
	TypeTaskExecution      Type = "task_execution"
	TypeResourceAllocation Type = "resource_allocation"
	TypeZoneChange         Type = "zone_change"
	TypeMembershipChange   Type = "membership_change"
)

// ValidType reports whether the type is one of the closed set.
func ValidType(t Type) bool {
	switch t {
	case TypeTaskExecution, TypeResourceAllocation, TypeZoneChange, TypeMembershipChange:
		return true
	}
	return false
}

// Status is the proposal lifecycle state. Approved, rejected, and expired are
// terminal; escalated hands control to the escalation engine and re-enters as
// approved or rejected.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusEscalated     Status = "escalated"
	StatusExpired       Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// RiskLevel is derived from proposal type and resource magnitude, never set by
// the caller.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Decision is one reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAbstain Decision = "abstain"
)

// ValidDecision reports whether the decision is one of the closed set.
func ValidDecision(d Decision) bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionAbstain
}

// Payload describes the requested action. Fields are interpreted per proposal
// type; Details carries anything the governance core does not interpret.
type Payload struct {
	Action       string         `json:"action,omitempty"`
	BoardID      string         `json:"board_id,omitempty"`
	AgentType    string         `json:"agent_type,omitempty"`
	BudgetAmount *float64       `json:"budget_amount,omitempty"`
	TargetMember id.MemberID    `json:"target_member,omitempty"`
	TargetZone   id.ZoneID      `json:"target_zone,omitempty"`
	Role         string         `json:"role,omitempty"`
	Remove       bool           `json:"remove,omitempty"`
	Changes      map[string]any `json:"changes,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// ResourceContext extracts the scope-checkable attributes.
func (p Payload) ResourceContext() zone.ResourceContext {
	return zone.ResourceContext{
		BoardID:      p.BoardID,
		AgentType:    p.AgentType,
		BudgetAmount: p.BudgetAmount,
	}
}

// Proposal is a request for zone action. Version is bumped on every write;
// concurrent finalization attempts lose on the version check instead of
// silently overwriting each other.
type Proposal struct {
	ID        id.ProposalID
	ZoneID    id.ZoneID
	OrgID     id.OrgID
	AuthorID  id.MemberID
	Type      Type
	Status    Status
	RiskLevel RiskLevel
	Title     string
	Payload   Payload

	// SubjectID is the member the proposed action is about, when any. Used
	// for conflict-of-interest exclusion.
	SubjectID id.MemberID

	ConflictFlags []string
	Version       int
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    time.Time // zero until a terminal state
}

// ApprovalRequest is one reviewer's decision slot. Immutable once decided.
type ApprovalRequest struct {
	ID              id.ApprovalRequestID
	ProposalID      id.ProposalID
	ReviewerID      id.MemberID
	ReviewerRole    zone.Role
	SelectionReason string
	Decision        Decision // empty until decided
	Rationale       string
	DecidedAt       time.Time // zero until decided
	CreatedAt       time.Time
}

// Decided reports whether the reviewer has recorded a verdict.
func (r *ApprovalRequest) Decided() bool { return r.Decision != "" }

// highBudget is the budget magnitude that pushes risk up a level.
const highBudget = 1000.0

// DeriveRisk computes the risk level from proposal type and payload magnitude.
// A deterministic table lookup; membership and zone changes are structurally
// riskier than task execution.
func DeriveRisk(t Type, payload Payload) RiskLevel {
	base := map[Type]RiskLevel{
		TypeTaskExecution:      RiskLow,
		TypeResourceAllocation: RiskMedium,
		TypeMembershipChange:   RiskMedium,
		TypeZoneChange:         RiskHigh,
	}[t]

	if payload.BudgetAmount != nil && *payload.BudgetAmount >= highBudget {
		base = raise(base)
	}
	return base
}

func raise(r RiskLevel) RiskLevel {
	switch r {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskHigh
	}
}

// ReviewerCount maps risk to panel size. Low risk keeps the single-reviewer
// fast path; high risk forces a real panel.
func ReviewerCount(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	default:
		return 3
	}
}

// DefaultExpiry bounds how long a proposal may sit in review.
const DefaultExpiry = 72 * time.Hour

// NewProposal validates and constructs a proposal in pending review.
func NewProposal(proposalID id.ProposalID, zoneID id.ZoneID, orgID id.OrgID, author id.MemberID, t Type, title string, payload Payload, now time.Time) (*Proposal, error) {
	if !ValidType(t) {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown proposal type: "+string(t))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "proposal title is required")
	}
	return &Proposal{
		ID:        proposalID,
		ZoneID:    zoneID,
		OrgID:     orgID,
		AuthorID:  author,
		Type:      t,
		Status:    StatusPendingReview,
		RiskLevel: DeriveRisk(t, payload),
		Title:     title,
		Payload:   payload,
		SubjectID: payload.TargetMember,
		Version:   1,
		ExpiresAt: now.Add(DefaultExpiry),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
