// Package service orchestrates the proposal and approval engine: creation
// with risk derivation and reviewer selection, decision recording against the
// zone's decision model, payload execution, and expiry sweeping.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"arbor/internal/audit"
	"arbor/internal/gardener"
	proposalmetrics "arbor/internal/proposal/metrics"
	"arbor/internal/proposal/models"
	"arbor/internal/proposal/store"
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

// ReviewerSelector picks reviewers for a proposal.
type ReviewerSelector interface {
	SelectReviewers(ctx context.Context, req gardener.SelectionRequest) ([]gardener.Selection, error)
}

// CandidatePool builds the eligible reviewer pool for a zone.
type CandidatePool interface {
	Build(ctx context.Context, zoneID id.ZoneID, exclude map[id.MemberID]bool) ([]gardener.Candidate, error)
}

// OutcomeSink receives review outcomes at proposal resolution. The gardener's
// stats store implements it.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, outcome gardener.ReviewOutcome, at time.Time) error
}

// Executor applies an approved proposal's payload.
type Executor interface {
	Execute(ctx context.Context, p *models.Proposal) error
}

// DeadlockEscalator raises an action escalation for a deadlocked proposal.
type DeadlockEscalator interface {
	EscalateDeadlock(ctx context.Context, p *models.Proposal, reason string) error
}

// Service orchestrates proposal lifecycle management.
type Service struct {
	proposals store.ProposalStore
	approvals store.ApprovalStore
	zones     zonestore.ZoneStore
	resolver  PermissionResolver
	pool      CandidatePool
	selector  ReviewerSelector
	outcomes  OutcomeSink
	executor  Executor
	escalator DeadlockEscalator
	recorder  Recorder
	logger    *slog.Logger
	metrics   *proposalmetrics.Metrics
	tx        StoreTx
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *proposalmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) { s.tx = tx }
}

func WithExecutor(e Executor) Option {
	return func(s *Service) { s.executor = e }
}

func WithDeadlockEscalator(e DeadlockEscalator) Option {
	return func(s *Service) { s.escalator = e }
}

// BindDeadlockEscalator wires the escalation engine after construction. The
// two services reference each other, so the escalator side binds last.
func (s *Service) BindDeadlockEscalator(e DeadlockEscalator) {
	s.escalator = e
}

func WithOutcomeSink(o OutcomeSink) Option {
	return func(s *Service) { s.outcomes = o }
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(proposals store.ProposalStore, approvals store.ApprovalStore, zones zonestore.ZoneStore,
	perm PermissionResolver, pool CandidatePool, selector ReviewerSelector, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		proposals: proposals,
		approvals: approvals,
		zones:     zones,
		resolver:  perm,
		pool:      pool,
		selector:  selector,
		recorder:  recorder,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = newInMemoryStoreTx()
	}
	return s
}

// CreateParams carries the caller-supplied proposal definition.
type CreateParams struct {
	ZoneID  id.ZoneID
	Type    models.Type
	Title   string
	Payload models.Payload
}

// Create creates a proposal, derives its risk, and selects its review panel.
// Auto-approved types skip review and execute immediately.
func (s *Service) Create(ctx context.Context, actor resolver.Actor, params CreateParams) (*models.Proposal, error) {
	if params.ZoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}

	decision, err := s.resolver.Resolve(ctx, actor, params.ZoneID, "proposal.create", params.Payload.ResourceContext())
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePermissionDenied, decision.Reason)
	}

	var proposal *models.Proposal
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, params.ZoneID)
		if err != nil {
			return wrapStoreErr(err, "zone not found", "failed to load zone")
		}
		if z.Status != zone.StatusActive {
			return dErrors.New(dErrors.CodeConflict, "proposals require an active zone")
		}

		p, err := models.NewProposal(id.NewProposalID(), z.ID, z.OrgID, actor.MemberID,
			params.Type, params.Title, params.Payload, s.now())
		if err != nil {
			return err
		}

		if autoApproved(z.ApprovalPolicy, p.Type) {
			p.Status = models.StatusApproved
			p.ResolvedAt = s.now()
			if err := s.proposals.Create(txCtx, p); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create proposal")
			}
			if err := s.recordProposalAudit(txCtx, p, audit.ActionProposalCreate, map[string]any{
				"type": string(p.Type), "risk": string(p.RiskLevel), "auto_approved": true,
			}); err != nil {
				return err
			}
			if err := s.execute(txCtx, p); err != nil {
				return err
			}
			proposal = p
			return nil
		}

		selections, flags, err := s.selectPanel(txCtx, z, p)
		if err != nil {
			return err
		}
		p.ConflictFlags = flags

		if err := s.proposals.Create(txCtx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create proposal")
		}

		requests := make([]*models.ApprovalRequest, 0, len(selections))
		for _, sel := range selections {
			requests = append(requests, &models.ApprovalRequest{
				ID:              id.NewApprovalRequestID(),
				ProposalID:      p.ID,
				ReviewerID:      sel.MemberID,
				ReviewerRole:    sel.Role,
				SelectionReason: sel.Reason,
				CreatedAt:       s.now(),
			})
		}
		if err := s.approvals.CreateBatch(txCtx, requests); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval requests")
		}

		if err := s.recordProposalAudit(txCtx, p, audit.ActionProposalCreate, map[string]any{
			"type": string(p.Type), "risk": string(p.RiskLevel), "reviewers": len(requests),
		}); err != nil {
			return err
		}

		proposal = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementCreated(string(proposal.Type), string(proposal.RiskLevel))
		if proposal.Status == models.StatusApproved {
			s.metrics.IncrementResolved(string(models.StatusApproved))
		}
	}
	return proposal, nil
}

// selectPanel picks reviewers honoring static reviewer lists and excluding
// conflicted members. Conflicted candidates are excluded, not warned about.
func (s *Service) selectPanel(ctx context.Context, z *zone.TrustZone, p *models.Proposal) ([]gardener.Selection, []string, error) {
	exclude := map[id.MemberID]bool{p.AuthorID: true}
	flags := []string{"author_excluded:" + p.AuthorID.String()}
	if !p.SubjectID.IsNil() && p.SubjectID != p.AuthorID {
		exclude[p.SubjectID] = true
		flags = append(flags, "subject_excluded:"+p.SubjectID.String())
	}

	required := models.ReviewerCount(p.RiskLevel)
	model := z.DecisionModel
	if (model.Type == zone.ModelThreshold || model.Type == zone.ModelConsensus) && model.Threshold > required {
		required = model.Threshold
	}

	if policy := z.ApprovalPolicy; policy != nil && len(policy.StaticReviewers) > 0 {
		selections := make([]gardener.Selection, 0, len(policy.StaticReviewers))
		for _, reviewer := range policy.StaticReviewers {
			if exclude[reviewer] {
				continue
			}
			selections = append(selections, gardener.Selection{
				MemberID: reviewer,
				Role:     zone.RoleApprover,
				Rank:     len(selections) + 1,
				Reason:   gardener.StrategyStatic,
			})
		}
		if len(selections) < required {
			return nil, nil, dErrors.New(dErrors.CodeConflict,
				"static reviewer list does not cover the required panel size")
		}
		return selections[:required], flags, nil
	}

	candidates, err := s.pool.Build(ctx, z.ID, exclude)
	if err != nil {
		return nil, nil, err
	}
	selections, err := s.selector.SelectReviewers(ctx, gardener.SelectionRequest{
		ProposalID:   p.ID,
		ZoneID:       z.ID,
		ProposalType: string(p.Type),
		RiskLevel:    string(p.RiskLevel),
		Candidates:   candidates,
		Required:     required,
	})
	if err != nil {
		return nil, nil, err
	}
	return selections, flags, nil
}

// Get fetches a proposal with its approval requests.
func (s *Service) Get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, []*models.ApprovalRequest, error) {
	if proposalID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "proposal ID required")
	}
	p, err := s.proposals.FindByID(ctx, proposalID)
	if err != nil {
		return nil, nil, wrapStoreErr(err, "proposal not found", "failed to load proposal")
	}
	requests, err := s.approvals.ListByProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval requests")
	}
	return p, requests, nil
}

// ListByZone returns a zone's proposals.
func (s *Service) ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Proposal, error) {
	if zoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	out, err := s.proposals.ListByZone(ctx, zoneID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}
	return out, nil
}

// RecordDecision records one reviewer's verdict and finalizes the proposal if
// the zone's decision model is satisfied. The whole step runs in a single
// transaction that re-reads proposal state; a concurrent finalize loses on
// the version check and surfaces as a retryable state conflict.
func (s *Service) RecordDecision(ctx context.Context, reviewerID id.MemberID, proposalID id.ProposalID, decision models.Decision, rationale string) (*models.Proposal, error) {
	if proposalID.IsNil() || reviewerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "proposal ID and reviewer ID required")
	}
	if !models.ValidDecision(decision) {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown decision: "+string(decision))
	}

	var proposal *models.Proposal
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.proposals.FindByID(txCtx, proposalID)
		if err != nil {
			return wrapStoreErr(err, "proposal not found", "failed to load proposal")
		}
		if p.Status != models.StatusPendingReview {
			return dErrors.New(dErrors.CodeStateConflict, "proposal is no longer pending review")
		}

		request, err := s.approvals.FindByProposalReviewer(txCtx, proposalID, reviewerID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodePermissionDenied, "actor is not a reviewer on this proposal")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
		}
		if request.Decided() {
			return dErrors.New(dErrors.CodeConflict, "decision already recorded and immutable")
		}

		request.Decision = decision
		request.Rationale = rationale
		request.DecidedAt = s.now()
		if err := s.approvals.Update(txCtx, request); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
		}

		if err := s.recorder.Record(txCtx, audit.Entry{
			OrgID:      p.OrgID,
			ZoneID:     p.ZoneID,
			ActorID:    reviewerID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionProposalDecision,
			TargetType: "proposal",
			TargetID:   p.ID.String(),
			Metadata:   map[string]any{"decision": string(decision)},
		}); err != nil {
			return err
		}

		z, err := s.zones.FindByID(txCtx, p.ZoneID)
		if err != nil {
			return wrapStoreErr(err, "zone not found", "failed to load zone")
		}
		requests, err := s.approvals.ListByProposal(txCtx, proposalID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval requests")
		}

		// A deadlocked outcome (even split, consensus not reached) keeps the
		// proposal pending; the deadline sweep owns escalate-or-expire.
		outcome := models.Evaluate(z.DecisionModel, requests, p.CreatedAt, s.now())
		if outcome.Final {
			if err := s.finalize(txCtx, p, requests, outcome.Approved); err != nil {
				return err
			}
		}

		proposal = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementDecision(string(decision))
		if proposal.Status.Terminal() {
			s.metrics.IncrementResolved(string(proposal.Status))
		}
	}
	return proposal, nil
}

// MarkEscalated pauses a pending proposal so the escalation engine owns its
// outcome. Already-escalated proposals pass through unchanged.
func (s *Service) MarkEscalated(ctx context.Context, proposalID id.ProposalID, reason string) (*models.Proposal, error) {
	if proposalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "proposal ID required")
	}

	var proposal *models.Proposal
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.proposals.FindByID(txCtx, proposalID)
		if err != nil {
			return wrapStoreErr(err, "proposal not found", "failed to load proposal")
		}
		if p.Status == models.StatusEscalated {
			proposal = p
			return nil
		}
		if p.Status != models.StatusPendingReview {
			return dErrors.New(dErrors.CodeStateConflict, "only pending proposals can be escalated")
		}

		p.Status = models.StatusEscalated
		p.UpdatedAt = s.now()
		if err := s.proposals.Update(txCtx, p); err != nil {
			if errors.Is(err, sentinel.ErrVersionConflict) {
				return dErrors.New(dErrors.CodeStateConflict, "proposal was finalized concurrently, retry with fresh state")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to escalate proposal")
		}
		if err := s.recordProposalAudit(txCtx, p, audit.ActionProposalResolve, map[string]any{
			"status": string(models.StatusEscalated), "reason": reason,
		}); err != nil {
			return err
		}
		proposal = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// ResolveEscalated re-enters an escalated proposal with the escalation
// engine's verdict. Reviewers whose decision disagrees with the final outcome
// are recorded as overturned in the gardener's stats.
func (s *Service) ResolveEscalated(ctx context.Context, proposalID id.ProposalID, approve bool, actorID id.MemberID) (*models.Proposal, error) {
	if proposalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "proposal ID required")
	}

	var proposal *models.Proposal
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.proposals.FindByID(txCtx, proposalID)
		if err != nil {
			return wrapStoreErr(err, "proposal not found", "failed to load proposal")
		}
		if p.Status != models.StatusEscalated {
			return dErrors.New(dErrors.CodeStateConflict, "proposal is not escalated")
		}
		requests, err := s.approvals.ListByProposal(txCtx, proposalID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval requests")
		}
		if err := s.finalizeWith(txCtx, p, requests, approve, true, actorID); err != nil {
			return err
		}
		proposal = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementResolved(string(proposal.Status))
	}
	return proposal, nil
}

// SweepExpired finalizes or escalates pending proposals whose expiry passed.
// Consensus models may still finalize here through their timeout fallback.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.proposals.ListExpiredPending(ctx, s.now())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired proposals")
	}

	swept := 0
	for _, candidate := range expired {
		err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			p, err := s.proposals.FindByID(txCtx, candidate.ID)
			if err != nil {
				return wrapStoreErr(err, "proposal not found", "failed to load proposal")
			}
			if p.Status != models.StatusPendingReview {
				return nil
			}
			z, err := s.zones.FindByID(txCtx, p.ZoneID)
			if err != nil {
				return wrapStoreErr(err, "zone not found", "failed to load zone")
			}
			requests, err := s.approvals.ListByProposal(txCtx, p.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval requests")
			}

			outcome := models.Evaluate(z.DecisionModel, requests, p.CreatedAt, s.now())
			if outcome.Final {
				return s.finalize(txCtx, p, requests, outcome.Approved)
			}
			return s.handleDeadlock(txCtx, p, z, "review deadline exceeded without a final outcome")
		})
		if err != nil {
			if s.logger != nil {
				s.logger.Error("failed to sweep expired proposal", "proposal_id", candidate.ID, "error", err)
			}
			continue
		}
		swept++
	}
	return swept, nil
}

func (s *Service) finalize(ctx context.Context, p *models.Proposal, requests []*models.ApprovalRequest, approve bool) error {
	return s.finalizeWith(ctx, p, requests, approve, false, id.MemberID{})
}

func (s *Service) finalizeWith(ctx context.Context, p *models.Proposal, requests []*models.ApprovalRequest, approve, overturnCheck bool, actorID id.MemberID) error {
	if approve {
		p.Status = models.StatusApproved
	} else {
		p.Status = models.StatusRejected
	}
	p.ResolvedAt = s.now()
	p.UpdatedAt = s.now()
	if err := s.proposals.Update(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrVersionConflict) {
			return dErrors.New(dErrors.CodeStateConflict, "proposal was finalized concurrently, retry with fresh state")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize proposal")
	}

	s.recordReviewOutcomes(ctx, p, requests, approve, overturnCheck)

	actor := actorID
	actorType := audit.ActorSystem
	if !actor.IsNil() {
		actorType = audit.ActorHuman
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		OrgID:      p.OrgID,
		ZoneID:     p.ZoneID,
		ActorID:    actor,
		ActorType:  actorType,
		Action:     audit.ActionProposalResolve,
		TargetType: "proposal",
		TargetID:   p.ID.String(),
		Metadata:   map[string]any{"status": string(p.Status)},
	}); err != nil {
		return err
	}

	if approve {
		return s.execute(ctx, p)
	}
	return nil
}

// recordReviewOutcomes feeds the gardener's selection history. Best-effort:
// stats are advisory and must not roll back a finalized proposal.
func (s *Service) recordReviewOutcomes(ctx context.Context, p *models.Proposal, requests []*models.ApprovalRequest, approve, overturnCheck bool) {
	if s.outcomes == nil {
		return
	}
	finalDecision := models.DecisionReject
	if approve {
		finalDecision = models.DecisionApprove
	}
	for _, r := range requests {
		outcome := gardener.ReviewOutcome{
			MemberID:       r.ReviewerID,
			ReviewedInTime: r.Decided() && !r.DecidedAt.After(p.ExpiresAt),
			Overturned:     overturnCheck && r.Decided() && r.Decision != models.DecisionAbstain && r.Decision != finalDecision,
		}
		if err := s.outcomes.RecordOutcome(ctx, outcome, s.now()); err != nil && s.logger != nil {
			s.logger.Warn("failed to record review outcome", "reviewer_id", r.ReviewerID, "error", err)
		}
	}
}

// execute applies an approved payload. Execution runs inside the finalizing
// transaction so an invalid payload rolls the approval back rather than
// leaving an approved-but-unexecuted proposal.
func (s *Service) execute(ctx context.Context, p *models.Proposal) error {
	if s.executor != nil {
		if err := s.executor.Execute(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to execute proposal payload")
		}
	}
	return s.recordProposalAudit(ctx, p, audit.ActionProposalExecute, map[string]any{
		"type": string(p.Type),
	})
}

func (s *Service) handleDeadlock(ctx context.Context, p *models.Proposal, z *zone.TrustZone, reason string) error {
	if s.metrics != nil {
		s.metrics.IncrementDeadlocked()
	}

	failClosed := z.EscalationPolicy != nil && z.EscalationPolicy.FailClosed
	if failClosed || s.escalator == nil || z.IsRoot() {
		p.Status = models.StatusExpired
		p.ResolvedAt = s.now()
		p.UpdatedAt = s.now()
		if err := s.proposals.Update(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrVersionConflict) {
				return dErrors.New(dErrors.CodeStateConflict, "proposal was finalized concurrently, retry with fresh state")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire proposal")
		}
		return s.recordProposalAudit(ctx, p, audit.ActionProposalExpire, map[string]any{"reason": reason})
	}

	p.Status = models.StatusEscalated
	p.UpdatedAt = s.now()
	if err := s.proposals.Update(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrVersionConflict) {
			return dErrors.New(dErrors.CodeStateConflict, "proposal was finalized concurrently, retry with fresh state")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to escalate proposal")
	}
	if err := s.escalator.EscalateDeadlock(ctx, p, reason); err != nil {
		return err
	}
	return s.recordProposalAudit(ctx, p, audit.ActionProposalResolve, map[string]any{
		"status": string(models.StatusEscalated), "reason": reason,
	})
}

func (s *Service) recordProposalAudit(ctx context.Context, p *models.Proposal, action string, metadata map[string]any) error {
	return s.recorder.Record(ctx, audit.Entry{
		OrgID:      p.OrgID,
		ZoneID:     p.ZoneID,
		ActorID:    p.AuthorID,
		ActorType:  audit.ActorHuman,
		Action:     action,
		TargetType: "proposal",
		TargetID:   p.ID.String(),
		Metadata:   metadata,
	})
}

func autoApproved(policy *zone.ApprovalPolicy, t models.Type) bool {
	if policy == nil {
		return false
	}
	for _, auto := range policy.AutoApproveTypes {
		if auto == string(t) {
			return true
		}
	}
	return false
}

func wrapStoreErr(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}
