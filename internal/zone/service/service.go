// Package service orchestrates trust zone lifecycle and role assignments.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbor/internal/audit"
	zonemetrics "arbor/internal/zone/metrics"
	"arbor/internal/zone/models"
	"arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
	"arbor/pkg/platform/sentinel"
)

// maxTreeDepth bounds ancestry walks. A chain longer than this means the tree
// is corrupt, not deep.
const maxTreeDepth = 64

// ProposalCounter reports how many proposals reference a zone. Used to decide
// between hard delete and archive.
type ProposalCounter interface {
	CountByZone(ctx context.Context, zoneID id.ZoneID) (int, error)
}

// Recorder appends audit entries inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service orchestrates zone and assignment management.
type Service struct {
	zones       store.ZoneStore
	assignments store.AssignmentStore
	proposals   ProposalCounter
	recorder    Recorder
	logger      *slog.Logger
	metrics     *zonemetrics.Metrics
	tx          StoreTx
	now         func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *zonemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithProposalCounter(c ProposalCounter) Option {
	return func(s *Service) {
		s.proposals = c
	}
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(zones store.ZoneStore, assignments store.AssignmentStore, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		zones:       zones,
		assignments: assignments,
		recorder:    recorder,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = newInMemoryStoreTx()
	}
	return s
}

// CreateZoneParams carries the caller-supplied zone definition.
type CreateZoneParams struct {
	OrgID            id.OrgID
	ParentID         id.ZoneID
	Name             string
	Slug             string
	Description      string
	Responsibilities string
	ResourceScope    *models.ResourceScope
	Constraints      *models.Constraints
	DecisionModel    *models.DecisionModelConfig
	ApprovalPolicy   *models.ApprovalPolicy
	EscalationPolicy *models.EscalationPolicy
	EvaluationPolicy *models.EvaluationPolicy
}

// CreateZone creates a zone in draft status. When a parent is given, the new
// zone's scope and constraints must narrow the parent's.
func (s *Service) CreateZone(ctx context.Context, createdBy id.MemberID, params CreateZoneParams) (*models.TrustZone, error) {
	if params.OrgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "organization ID required")
	}
	if createdBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "creator member ID required")
	}

	var zone *models.TrustZone
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := models.NewTrustZone(id.NewZoneID(), params.OrgID, createdBy, params.Name, params.Slug, s.now())
		if err != nil {
			return err
		}
		z.Description = strings.TrimSpace(params.Description)
		z.Responsibilities = strings.TrimSpace(params.Responsibilities)
		z.ResourceScope = params.ResourceScope
		z.Constraints = params.Constraints
		z.ApprovalPolicy = params.ApprovalPolicy
		z.EscalationPolicy = params.EscalationPolicy
		z.EvaluationPolicy = params.EvaluationPolicy
		if params.DecisionModel != nil {
			z.DecisionModel = *params.DecisionModel
		}
		if err := z.DecisionModel.Validate(); err != nil {
			return err
		}

		if !params.ParentID.IsNil() {
			parent, err := s.zones.FindByID(txCtx, params.ParentID)
			if err != nil {
				return wrapZoneErr(err, "failed to load parent zone")
			}
			if parent.OrgID != params.OrgID {
				return dErrors.New(dErrors.CodeValidation, "parent zone belongs to a different organization")
			}
			if parent.Status == models.StatusArchived {
				return dErrors.New(dErrors.CodeConflict, "cannot create a child of an archived zone")
			}
			if err := checkNarrowing(parent, z); err != nil {
				return err
			}
			z.ParentID = params.ParentID
		}

		if err := s.zones.CreateIfSlugAvailable(txCtx, z); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "zone slug must be unique within the organization")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create zone")
		}

		if err := s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     z.ID,
			ActorID:    createdBy,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionZoneCreate,
			TargetType: "zone",
			TargetID:   z.ID.String(),
			Metadata:   map[string]any{"name": z.Name, "slug": z.Slug},
		}); err != nil {
			return err
		}

		zone = z
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementZoneCreated()
	}
	return zone, nil
}

// GetZone fetches a zone by ID.
func (s *Service) GetZone(ctx context.Context, zoneID id.ZoneID) (*models.TrustZone, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	zone, err := s.zones.FindByID(ctx, zoneID)
	if err != nil {
		return nil, wrapZoneErr(err, "failed to load zone")
	}
	return zone, nil
}

// GetZoneBySlug fetches a zone by slug within an organization.
func (s *Service) GetZoneBySlug(ctx context.Context, orgID id.OrgID, slug string) (*models.TrustZone, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone slug is required")
	}
	zone, err := s.zones.FindBySlug(ctx, orgID, slug)
	if err != nil {
		return nil, wrapZoneErr(err, "failed to load zone")
	}
	return zone, nil
}

// ListZones returns all zones in an organization.
func (s *Service) ListZones(ctx context.Context, orgID id.OrgID) ([]*models.TrustZone, error) {
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "organization ID required")
	}
	zones, err := s.zones.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list zones")
	}
	return zones, nil
}

// ListChildren returns a zone's direct children.
func (s *Service) ListChildren(ctx context.Context, zoneID id.ZoneID) ([]*models.TrustZone, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	children, err := s.zones.ListChildren(ctx, zoneID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list child zones")
	}
	return children, nil
}

// UpdateZoneParams carries mutable zone fields. Nil pointers leave the current
// value untouched.
type UpdateZoneParams struct {
	Name             *string
	Description      *string
	Responsibilities *string
	ResourceScope    *models.ResourceScope
	Constraints      *models.Constraints
	DecisionModel    *models.DecisionModelConfig
	ApprovalPolicy   *models.ApprovalPolicy
	EscalationPolicy *models.EscalationPolicy
	EvaluationPolicy *models.EvaluationPolicy
}

// UpdateZone applies governance configuration changes. Scope and constraint
// changes are validated against the parent and against every child so the
// narrowing invariant holds in both directions.
func (s *Service) UpdateZone(ctx context.Context, zoneID id.ZoneID, actorID id.MemberID, params UpdateZoneParams) (*models.TrustZone, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}

	var zone *models.TrustZone
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, zoneID)
		if err != nil {
			return wrapZoneErr(err, "failed to load zone")
		}
		if z.Status == models.StatusArchived {
			return dErrors.New(dErrors.CodeConflict, "archived zones cannot be updated")
		}

		changed := map[string]any{}
		if params.Name != nil {
			name := strings.TrimSpace(*params.Name)
			if name == "" {
				return dErrors.New(dErrors.CodeValidation, "zone name is required")
			}
			z.Name = name
			changed["name"] = name
		}
		if params.Description != nil {
			z.Description = strings.TrimSpace(*params.Description)
			changed["description"] = z.Description
		}
		if params.Responsibilities != nil {
			z.Responsibilities = strings.TrimSpace(*params.Responsibilities)
			changed["responsibilities"] = z.Responsibilities
		}
		if params.ResourceScope != nil {
			z.ResourceScope = params.ResourceScope
			changed["resource_scope"] = true
		}
		if params.Constraints != nil {
			z.Constraints = params.Constraints
			changed["constraints"] = true
		}
		if params.DecisionModel != nil {
			if err := params.DecisionModel.Validate(); err != nil {
				return err
			}
			z.DecisionModel = *params.DecisionModel
			changed["decision_model"] = string(params.DecisionModel.Type)
		}
		if params.ApprovalPolicy != nil {
			z.ApprovalPolicy = params.ApprovalPolicy
			changed["approval_policy"] = true
		}
		if params.EscalationPolicy != nil {
			z.EscalationPolicy = params.EscalationPolicy
			changed["escalation_policy"] = true
		}
		if params.EvaluationPolicy != nil {
			z.EvaluationPolicy = params.EvaluationPolicy
			changed["evaluation_policy"] = true
		}

		if params.ResourceScope != nil || params.Constraints != nil {
			if !z.ParentID.IsNil() {
				parent, err := s.zones.FindByID(txCtx, z.ParentID)
				if err != nil {
					return wrapZoneErr(err, "failed to load parent zone")
				}
				if err := checkNarrowing(parent, z); err != nil {
					return err
				}
			}
			children, err := s.zones.ListChildren(txCtx, z.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list child zones")
			}
			for _, child := range children {
				if err := checkNarrowing(z, child); err != nil {
					return dErrors.Wrap(err, dErrors.CodeConstraintViolation,
						"update would widen zone beyond child "+child.Slug)
				}
			}
		}

		z.UpdatedAt = s.now()
		if err := s.zones.Update(txCtx, z); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update zone")
		}

		if err := s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     z.ID,
			ActorID:    actorID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionZoneUpdate,
			TargetType: "zone",
			TargetID:   z.ID.String(),
			Metadata:   changed,
		}); err != nil {
			return err
		}

		zone = z
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zone, nil
}

// MoveZone reparents a zone. The new ancestry must stay acyclic and the moved
// zone must still narrow its new parent.
func (s *Service) MoveZone(ctx context.Context, zoneID, newParentID id.ZoneID, actorID id.MemberID) (*models.TrustZone, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	if zoneID == newParentID {
		return nil, dErrors.New(dErrors.CodeValidation, "zone cannot be its own parent")
	}

	var zone *models.TrustZone
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, zoneID)
		if err != nil {
			return wrapZoneErr(err, "failed to load zone")
		}
		if z.Status == models.StatusArchived {
			return dErrors.New(dErrors.CodeConflict, "archived zones cannot be moved")
		}

		if !newParentID.IsNil() {
			parent, err := s.zones.FindByID(txCtx, newParentID)
			if err != nil {
				return wrapZoneErr(err, "failed to load new parent zone")
			}
			if parent.OrgID != z.OrgID {
				return dErrors.New(dErrors.CodeValidation, "new parent belongs to a different organization")
			}
			ancestors, err := s.Ancestors(txCtx, newParentID)
			if err != nil {
				return err
			}
			for _, a := range ancestors {
				if a.ID == zoneID {
					return dErrors.New(dErrors.CodeValidation, "move would create a cycle in the zone tree")
				}
			}
			if err := checkNarrowing(parent, z); err != nil {
				return err
			}
		}

		z.ParentID = newParentID
		z.UpdatedAt = s.now()
		if err := s.zones.Update(txCtx, z); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to move zone")
		}

		if err := s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     z.ID,
			ActorID:    actorID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionZoneUpdate,
			TargetType: "zone",
			TargetID:   z.ID.String(),
			Metadata:   map[string]any{"moved_to_parent": newParentID.String()},
		}); err != nil {
			return err
		}

		zone = z
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zone, nil
}

// ChangeStatus applies a lifecycle transition. Suspension and archival cascade
// downward: a suspended zone cannot keep an active child, and archival
// archives the whole subtree.
func (s *Service) ChangeStatus(ctx context.Context, zoneID id.ZoneID, actorID id.MemberID, next models.Status) (*models.TrustZone, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}

	var zone *models.TrustZone
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, zoneID)
		if err != nil {
			return wrapZoneErr(err, "failed to load zone")
		}
		if !z.Status.CanTransitionTo(next) {
			return dErrors.New(dErrors.CodeConflict,
				"illegal status transition from "+string(z.Status)+" to "+string(next))
		}
		if next == models.StatusActive && !z.ParentID.IsNil() {
			parent, err := s.zones.FindByID(txCtx, z.ParentID)
			if err != nil {
				return wrapZoneErr(err, "failed to load parent zone")
			}
			if parent.Status != models.StatusActive {
				return dErrors.New(dErrors.CodeConflict, "cannot activate a zone under an inactive parent")
			}
		}

		prev := z.Status
		z.Status = next
		z.UpdatedAt = s.now()
		if err := s.zones.Update(txCtx, z); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update zone status")
		}

		if next == models.StatusSuspended || next == models.StatusArchived {
			if err := s.cascadeStatus(txCtx, z.ID, next, 0); err != nil {
				return err
			}
		}

		action := audit.ActionZoneStatusChange
		if next == models.StatusArchived {
			action = audit.ActionZoneArchive
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     z.ID,
			ActorID:    actorID,
			ActorType:  audit.ActorHuman,
			Action:     action,
			TargetType: "zone",
			TargetID:   z.ID.String(),
			Metadata:   map[string]any{"from": string(prev), "to": string(next)},
		}); err != nil {
			return err
		}

		zone = z
		return nil
	})
	if err != nil {
		return nil, err
	}

	if next == models.StatusArchived && s.metrics != nil {
		s.metrics.IncrementZoneArchived()
	}
	return zone, nil
}

// ArchiveZone archives the zone and its subtree. Zones with history are never
// hard-deleted.
func (s *Service) ArchiveZone(ctx context.Context, zoneID id.ZoneID, actorID id.MemberID) (*models.TrustZone, error) {
	return s.ChangeStatus(ctx, zoneID, actorID, models.StatusArchived)
}

// DeleteZone hard-deletes a zone. Allowed only while the zone has no children,
// no assignments, and no proposals; anything with history must be archived.
func (s *Service) DeleteZone(ctx context.Context, zoneID id.ZoneID, actorID id.MemberID) error {
	if zoneID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, zoneID)
		if err != nil {
			return wrapZoneErr(err, "failed to load zone")
		}

		children, err := s.zones.ListChildren(txCtx, zoneID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list child zones")
		}
		if len(children) > 0 {
			return dErrors.New(dErrors.CodeConflict, "zone has child zones; archive it instead")
		}
		assignments, err := s.assignments.ListByZone(txCtx, zoneID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list assignments")
		}
		if len(assignments) > 0 {
			return dErrors.New(dErrors.CodeConflict, "zone has role assignments; archive it instead")
		}
		if s.proposals != nil {
			count, err := s.proposals.CountByZone(txCtx, zoneID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count proposals")
			}
			if count > 0 {
				return dErrors.New(dErrors.CodeConflict, "zone has proposals; archive it instead")
			}
		}

		if err := s.zones.Delete(txCtx, zoneID); err != nil {
			return wrapZoneErr(err, "failed to delete zone")
		}
		return s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     z.ID,
			ActorID:    actorID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionZoneArchive,
			TargetType: "zone",
			TargetID:   z.ID.String(),
			Metadata:   map[string]any{"deleted": true},
		})
	})
}

// AssignRole binds a member to a zone role. Duplicate assignments conflict.
func (s *Service) AssignRole(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID, role models.Role, assignedBy id.MemberID) (*models.ZoneAssignment, error) {
	if zoneID.IsNil() || memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID and member ID required")
	}
	if !models.ValidRole(role) {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown zone role: "+string(role))
	}

	var assignment *models.ZoneAssignment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, zoneID)
		if err != nil {
			return wrapZoneErr(err, "failed to load zone")
		}
		if !z.AllowsMutation() {
			return dErrors.New(dErrors.CodeConflict, "zone status does not allow new assignments")
		}

		a := &models.ZoneAssignment{
			ID:         id.AssignmentID(uuid.New()),
			ZoneID:     zoneID,
			MemberID:   memberID,
			Role:       role,
			AssignedBy: assignedBy,
			CreatedAt:  s.now(),
		}
		if err := s.assignments.Create(txCtx, a); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "member already holds this role in the zone")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create assignment")
		}

		if err := s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     zoneID,
			ActorID:    assignedBy,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionAssignmentCreate,
			TargetType: "assignment",
			TargetID:   a.ID.String(),
			Metadata:   map[string]any{"member_id": memberID.String(), "role": string(role)},
		}); err != nil {
			return err
		}

		assignment = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// RemoveRole removes a member's role from a zone.
func (s *Service) RemoveRole(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID, role models.Role, removedBy id.MemberID) error {
	if zoneID.IsNil() || memberID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "zone ID and member ID required")
	}
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, zoneID)
		if err != nil {
			return wrapZoneErr(err, "failed to load zone")
		}
		if err := s.assignments.Remove(txCtx, zoneID, memberID, role); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "assignment not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove assignment")
		}
		return s.recorder.Record(txCtx, audit.Entry{
			OrgID:      z.OrgID,
			ZoneID:     zoneID,
			ActorID:    removedBy,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionAssignmentRemove,
			TargetType: "assignment",
			TargetID:   memberID.String(),
			Metadata:   map[string]any{"member_id": memberID.String(), "role": string(role)},
		})
	})
}

// ListAssignments returns all role assignments in a zone.
func (s *Service) ListAssignments(ctx context.Context, zoneID id.ZoneID) ([]*models.ZoneAssignment, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	out, err := s.assignments.ListByZone(ctx, zoneID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list assignments")
	}
	return out, nil
}

// Ancestors walks the parent chain from the given zone upward, nearest first.
// A cycle or over-deep chain surfaces as an invariant violation so operators
// see corruption instead of an infinite loop.
func (s *Service) Ancestors(ctx context.Context, zoneID id.ZoneID) ([]*models.TrustZone, error) {
	var out []*models.TrustZone
	visited := map[id.ZoneID]bool{zoneID: true}

	current, err := s.zones.FindByID(ctx, zoneID)
	if err != nil {
		return nil, wrapZoneErr(err, "failed to load zone")
	}
	for !current.ParentID.IsNil() {
		if len(out) >= maxTreeDepth {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "zone ancestry exceeds maximum depth")
		}
		if visited[current.ParentID] {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "cycle detected in zone ancestry")
		}
		visited[current.ParentID] = true
		parent, err := s.zones.FindByID(ctx, current.ParentID)
		if err != nil {
			return nil, wrapZoneErr(err, "failed to load ancestor zone")
		}
		out = append(out, parent)
		current = parent
	}
	return out, nil
}

func (s *Service) cascadeStatus(ctx context.Context, zoneID id.ZoneID, next models.Status, depth int) error {
	if depth > maxTreeDepth {
		return dErrors.New(dErrors.CodeInvariantViolation, "zone tree exceeds maximum depth")
	}
	children, err := s.zones.ListChildren(ctx, zoneID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list child zones")
	}
	for _, child := range children {
		if child.Status == models.StatusArchived {
			continue
		}
		if !child.Status.CanTransitionTo(next) && child.Status != next {
			continue
		}
		if child.Status != next {
			child.Status = next
			child.UpdatedAt = s.now()
			if err := s.zones.Update(ctx, child); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cascade status to child zone")
			}
		}
		if err := s.cascadeStatus(ctx, child.ID, next, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func checkNarrowing(parent, child *models.TrustZone) error {
	if ok, reason := child.ResourceScope.SubsetOf(parent.ResourceScope); !ok {
		return dErrors.New(dErrors.CodeConstraintViolation, reason)
	}
	return models.ValidateNarrowing(parent.Constraints, child.Constraints)
}

func wrapZoneErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "zone not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
