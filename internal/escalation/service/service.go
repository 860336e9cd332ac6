// Package service implements the escalation engine: action escalations that
// contest a specific proposal decision, and governance escalations that
// contest a zone's deciding body and need co-signers before activating.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"arbor/internal/audit"
	escalationmetrics "arbor/internal/escalation/metrics"
	"arbor/internal/escalation/models"
	"arbor/internal/escalation/store"
	proposalmodels "arbor/internal/proposal/models"
	proposalservice "arbor/internal/proposal/service"
	zone "arbor/internal/zone/models"
	"arbor/internal/zone/resolver"
	zonestore "arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
	"arbor/pkg/platform/sentinel"
)

// Recorder appends audit entries inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// PermissionResolver answers zone permission questions.
type PermissionResolver interface {
	Resolve(ctx context.Context, actor resolver.Actor, zoneID id.ZoneID, action string, resource zone.ResourceContext) (resolver.Decision, error)
}

// ProposalEngine is the slice of the proposal service the escalation engine
// drives: pausing a contested proposal, opening replacement or meta proposals
// in the target zone, and re-entering escalated proposals with a verdict.
type ProposalEngine interface {
	Get(ctx context.Context, proposalID id.ProposalID) (*proposalmodels.Proposal, []*proposalmodels.ApprovalRequest, error)
	Create(ctx context.Context, actor resolver.Actor, params proposalservice.CreateParams) (*proposalmodels.Proposal, error)
	MarkEscalated(ctx context.Context, proposalID id.ProposalID, reason string) (*proposalmodels.Proposal, error)
	ResolveEscalated(ctx context.Context, proposalID id.ProposalID, approve bool, actorID id.MemberID) (*proposalmodels.Proposal, error)
}

// Service orchestrates escalation lifecycle management.
type Service struct {
	escalations store.EscalationStore
	cosigners   store.CosignerStore
	zones       zonestore.ZoneStore
	resolver    PermissionResolver
	proposals   ProposalEngine
	recorder    Recorder
	logger      *slog.Logger
	metrics     *escalationmetrics.Metrics
	tx          StoreTx
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *escalationmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) { s.tx = tx }
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(escalations store.EscalationStore, cosigners store.CosignerStore, zones zonestore.ZoneStore,
	perm PermissionResolver, proposals ProposalEngine, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		escalations: escalations,
		cosigners:   cosigners,
		zones:       zones,
		resolver:    perm,
		proposals:   proposals,
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

// RaiseAction contests a specific proposal decision. The contested proposal
// is paused and a replacement proposal opens in the parent zone, where the
// parent's approvers own the final verdict.
func (s *Service) RaiseAction(ctx context.Context, actor resolver.Actor, proposalID id.ProposalID, reason string) (*models.Escalation, error) {
	if proposalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "proposal ID required")
	}

	p, _, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, dErrors.New(dErrors.CodeStateConflict, "cannot escalate a resolved proposal")
	}

	source, parent, err := s.sourceAndParent(ctx, p.ZoneID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, source.ID, "escalation.trigger"); err != nil {
		return nil, err
	}

	var escalation *models.Escalation
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		// Counted inside the transaction so concurrent raises by the same
		// actor cannot both slip under the cap.
		if err := s.checkRateLimit(txCtx, source, actor.MemberID); err != nil {
			return err
		}

		e, err := models.NewEscalation(id.NewEscalationID(), source.OrgID, source.ID, parent.ID,
			models.TypeAction, reason, actor.MemberID, s.now())
		if err != nil {
			return err
		}
		e.ProposalID = p.ID
		e.CosignersRequired = 1

		if _, err := s.proposals.MarkEscalated(txCtx, p.ID, reason); err != nil {
			return err
		}
		if err := s.escalations.Create(txCtx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create escalation")
		}

		replacement, err := s.proposals.Create(txCtx, actor, proposalservice.CreateParams{
			ZoneID:  parent.ID,
			Type:    p.Type,
			Title:   "Escalated: " + p.Title,
			Payload: p.Payload,
		})
		if err != nil {
			return err
		}
		e.ResultingProposalID = replacement.ID
		e.UpdatedAt = s.now()
		if err := s.escalations.Update(txCtx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update escalation")
		}

		if err := s.recordEscalationAudit(txCtx, e, audit.ActionEscalationAction, actor.MemberID, map[string]any{
			"proposal_id": p.ID.String(), "replacement_id": replacement.ID.String(),
		}); err != nil {
			return err
		}
		escalation = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementRaised(string(models.TypeAction))
	}
	return escalation, nil
}

// RaiseGovernance contests a zone's deciding body. The raiser counts as the
// first co-signer; the escalation stays pending until the co-signer threshold
// is met.
func (s *Service) RaiseGovernance(ctx context.Context, actor resolver.Actor, zoneID id.ZoneID, reason string) (*models.Escalation, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}

	source, parent, err := s.sourceAndParent(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, source.ID, "escalation.trigger"); err != nil {
		return nil, err
	}

	var escalation *models.Escalation
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.checkRateLimit(txCtx, source, actor.MemberID); err != nil {
			return err
		}

		e, err := models.NewEscalation(id.NewEscalationID(), source.OrgID, source.ID, parent.ID,
			models.TypeGovernance, reason, actor.MemberID, s.now())
		if err != nil {
			return err
		}
		e.CosignersRequired = source.EscalationPolicy.CosignersRequired()

		if err := s.escalations.Create(txCtx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create escalation")
		}
		if err := s.cosigners.Add(txCtx, &models.Cosigner{
			EscalationID: e.ID, MemberID: actor.MemberID, CreatedAt: s.now(),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record raiser co-signature")
		}
		if err := s.recordEscalationAudit(txCtx, e, audit.ActionEscalationGov, actor.MemberID, map[string]any{
			"cosigners_required": e.CosignersRequired,
		}); err != nil {
			return err
		}

		if e.CosignersRequired <= 1 {
			if err := s.activateGovernance(txCtx, e, actor); err != nil {
				return err
			}
		}
		escalation = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementRaised(string(models.TypeGovernance))
	}
	return escalation, nil
}

// Cosign endorses a pending governance escalation. Duplicate co-signs by the
// same member are no-ops. Crossing the co-signer threshold activates the
// escalation.
func (s *Service) Cosign(ctx context.Context, actor resolver.Actor, escalationID id.EscalationID) (*models.Escalation, error) {
	if escalationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "escalation ID required")
	}

	var escalation *models.Escalation
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.escalations.FindByID(txCtx, escalationID)
		if err != nil {
			return wrapStoreErr(err, "escalation not found", "failed to load escalation")
		}
		if e.Type != models.TypeGovernance {
			return dErrors.New(dErrors.CodeConflict, "only governance escalations take co-signatures")
		}
		if e.Status != models.StatusPending {
			return dErrors.New(dErrors.CodeStateConflict, "escalation is no longer pending")
		}
		if err := s.authorize(txCtx, actor, e.SourceZoneID, "escalation.trigger"); err != nil {
			return err
		}

		err = s.cosigners.Add(txCtx, &models.Cosigner{
			EscalationID: e.ID, MemberID: actor.MemberID, CreatedAt: s.now(),
		})
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			escalation = e
			return nil
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record co-signature")
		}

		if err := s.recordEscalationAudit(txCtx, e, audit.ActionEscalationCosign, actor.MemberID, nil); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.IncrementCosigns()
		}

		count, err := s.cosigners.Count(txCtx, e.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count co-signatures")
		}
		if count >= e.CosignersRequired {
			if err := s.activateGovernance(txCtx, e, actor); err != nil {
				return err
			}
		}
		escalation = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escalation, nil
}

// activateGovernance moves a governance escalation to accepted and opens a
// zone-change meta-proposal in the target zone so the parent's reviewers can
// rework the contested zone's assignments.
func (s *Service) activateGovernance(ctx context.Context, e *models.Escalation, actor resolver.Actor) error {
	meta, err := s.proposals.Create(ctx, actor, proposalservice.CreateParams{
		ZoneID: e.TargetZoneID,
		Type:   proposalmodels.TypeZoneChange,
		Title:  "Governance review: " + e.Reason,
		Payload: proposalmodels.Payload{
			TargetZone: e.SourceZoneID,
			Details:    map[string]any{"escalation_id": e.ID.String(), "reason": e.Reason},
		},
	})
	if err != nil {
		return err
	}

	e.Status = models.StatusAccepted
	e.ResultingProposalID = meta.ID
	e.UpdatedAt = s.now()
	if err := s.escalations.Update(ctx, e); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate escalation")
	}
	return s.recordEscalationAudit(ctx, e, audit.ActionEscalationResolve, actor.MemberID, map[string]any{
		"status": string(models.StatusAccepted), "meta_proposal_id": meta.ID.String(),
	})
}

// Resolve closes an escalation with the target zone approvers' verdict. For
// action escalations the verdict re-enters the paused proposal; a negative
// verdict dismisses the escalation and rejects it.
func (s *Service) Resolve(ctx context.Context, actor resolver.Actor, escalationID id.EscalationID, approve bool) (*models.Escalation, error) {
	if escalationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "escalation ID required")
	}

	var escalation *models.Escalation
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.escalations.FindByID(txCtx, escalationID)
		if err != nil {
			return wrapStoreErr(err, "escalation not found", "failed to load escalation")
		}
		if e.Status.Terminal() {
			return dErrors.New(dErrors.CodeStateConflict, "escalation is already resolved")
		}
		if e.Type == models.TypeGovernance && e.Status == models.StatusPending {
			return dErrors.New(dErrors.CodeStateConflict, "governance escalation has not reached its co-signer threshold")
		}
		if err := s.authorize(txCtx, actor, e.TargetZoneID, "escalation.resolve"); err != nil {
			return err
		}

		if e.Type == models.TypeAction && !e.ProposalID.IsNil() {
			if _, err := s.proposals.ResolveEscalated(txCtx, e.ProposalID, approve, actor.MemberID); err != nil {
				return err
			}
		}

		if approve {
			e.Status = models.StatusResolved
		} else {
			e.Status = models.StatusDismissed
		}
		e.ResolvedAt = s.now()
		e.UpdatedAt = s.now()
		if err := s.escalations.Update(txCtx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve escalation")
		}
		if err := s.recordEscalationAudit(txCtx, e, audit.ActionEscalationResolve, actor.MemberID, map[string]any{
			"status": string(e.Status), "approve": approve,
		}); err != nil {
			return err
		}
		escalation = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementResolved(string(escalation.Status))
	}
	return escalation, nil
}

// Get fetches an escalation with its co-signers.
func (s *Service) Get(ctx context.Context, escalationID id.EscalationID) (*models.Escalation, []*models.Cosigner, error) {
	if escalationID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "escalation ID required")
	}
	e, err := s.escalations.FindByID(ctx, escalationID)
	if err != nil {
		return nil, nil, wrapStoreErr(err, "escalation not found", "failed to load escalation")
	}
	cosigners, err := s.cosigners.List(ctx, escalationID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load co-signers")
	}
	return e, cosigners, nil
}

// ListByTargetZone returns the escalations a zone's approvers are asked to
// resolve.
func (s *Service) ListByTargetZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Escalation, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	out, err := s.escalations.ListByTargetZone(ctx, zoneID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list escalations")
	}
	return out, nil
}

// EscalateDeadlock records an action escalation for a proposal whose decision
// model reached no branch. Called by the proposal engine inside its
// finalizing transaction, so it only writes the escalation record; the parent
// zone's approvers take it from there via Resolve.
func (s *Service) EscalateDeadlock(ctx context.Context, p *proposalmodels.Proposal, reason string) error {
	z, err := s.zones.FindByID(ctx, p.ZoneID)
	if err != nil {
		return wrapStoreErr(err, "zone not found", "failed to load zone")
	}
	if z.IsRoot() {
		return dErrors.New(dErrors.CodeConflict, "root zone has no parent to escalate to")
	}

	e, err := models.NewEscalation(id.NewEscalationID(), p.OrgID, z.ID, z.ParentID,
		models.TypeAction, reason, id.MemberID{}, s.now())
	if err != nil {
		return err
	}
	e.ProposalID = p.ID
	e.CosignersRequired = 1

	if err := s.escalations.Create(ctx, e); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create deadlock escalation")
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		OrgID:      e.OrgID,
		ZoneID:     e.SourceZoneID,
		ActorType:  audit.ActorSystem,
		Action:     audit.ActionEscalationAction,
		TargetType: "escalation",
		TargetID:   e.ID.String(),
		Metadata:   map[string]any{"proposal_id": p.ID.String(), "reason": reason},
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementRaised(string(models.TypeAction))
	}
	return nil
}

// SweepStale re-targets unresolved escalations one level up once the source
// zone's auto-escalate window elapses. Returns how many moved.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	stale, err := s.escalations.ListPendingBefore(ctx, s.now())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending escalations")
	}

	moved := 0
	for _, candidate := range stale {
		err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			e, err := s.escalations.FindByID(txCtx, candidate.ID)
			if err != nil {
				return wrapStoreErr(err, "escalation not found", "failed to load escalation")
			}
			if e.Status.Terminal() {
				return nil
			}

			source, err := s.zones.FindByID(txCtx, e.SourceZoneID)
			if err != nil {
				return wrapStoreErr(err, "zone not found", "failed to load zone")
			}
			after := source.EscalationPolicy.AutoEscalateAfter()
			if after <= 0 || s.now().Sub(e.UpdatedAt) < after {
				return nil
			}

			target, err := s.zones.FindByID(txCtx, e.TargetZoneID)
			if err != nil {
				return wrapStoreErr(err, "zone not found", "failed to load zone")
			}
			if target.IsRoot() {
				if s.logger != nil {
					s.logger.Warn("stale escalation already targets the root zone",
						"escalation_id", e.ID, "zone_id", target.ID)
				}
				return nil
			}

			e.TargetZoneID = target.ParentID
			e.UpdatedAt = s.now()
			if err := s.escalations.Update(txCtx, e); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-target escalation")
			}
			moved++
			return s.recorder.Record(txCtx, audit.Entry{
				OrgID:      e.OrgID,
				ZoneID:     e.SourceZoneID,
				ActorType:  audit.ActorSystem,
				Action:     audit.ActionEscalationAction,
				TargetType: "escalation",
				TargetID:   e.ID.String(),
				Metadata:   map[string]any{"retargeted_to": e.TargetZoneID.String()},
			})
		})
		if err != nil && s.logger != nil {
			s.logger.Error("failed to sweep stale escalation", "escalation_id", candidate.ID, "error", err)
		}
	}
	return moved, nil
}

// sourceAndParent loads a zone and its parent; root zones cannot escalate.
func (s *Service) sourceAndParent(ctx context.Context, zoneID id.ZoneID) (*zone.TrustZone, *zone.TrustZone, error) {
	source, err := s.zones.FindByID(ctx, zoneID)
	if err != nil {
		return nil, nil, wrapStoreErr(err, "zone not found", "failed to load zone")
	}
	if source.IsRoot() {
		return nil, nil, dErrors.New(dErrors.CodeConflict, "root zone has no parent to escalate to")
	}
	parent, err := s.zones.FindByID(ctx, source.ParentID)
	if err != nil {
		return nil, nil, wrapStoreErr(err, "parent zone not found", "failed to load parent zone")
	}
	return source, parent, nil
}

func (s *Service) authorize(ctx context.Context, actor resolver.Actor, zoneID id.ZoneID, action string) error {
	decision, err := s.resolver.Resolve(ctx, actor, zoneID, action, zone.ResourceContext{})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return dErrors.New(dErrors.CodePermissionDenied, decision.Reason)
	}
	return nil
}

// checkRateLimit enforces the per-actor per-zone escalation cap.
func (s *Service) checkRateLimit(ctx context.Context, z *zone.TrustZone, memberID id.MemberID) error {
	window := z.EscalationPolicy.Window()
	limit := z.EscalationPolicy.MaxEscalations()

	count, err := s.escalations.CountRaisedSince(ctx, z.ID, memberID, s.now().Add(-window))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check escalation rate limit")
	}
	if count >= limit {
		if s.metrics != nil {
			s.metrics.IncrementRateLimited()
		}
		return dErrors.NewRetryAfter(dErrors.CodeRateLimited,
			fmt.Sprintf("escalation limit of %d per %s reached for this zone", limit, window), window)
	}
	return nil
}

func (s *Service) recordEscalationAudit(ctx context.Context, e *models.Escalation, action string, actorID id.MemberID, metadata map[string]any) error {
	return s.recorder.Record(ctx, audit.Entry{
		OrgID:      e.OrgID,
		ZoneID:     e.SourceZoneID,
		ActorID:    actorID,
		ActorType:  audit.ActorHuman,
		Action:     action,
		TargetType: "escalation",
		TargetID:   e.ID.String(),
		Metadata:   metadata,
	})
}

func wrapStoreErr(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}

// Verify the proposal engine's callback contract.
var _ proposalservice.DeadlockEscalator = (*Service)(nil)
