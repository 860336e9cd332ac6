// Package service implements the evaluation engine: scoring completed
// delegated work, irreversible finalization with weighted aggregation, and
// the incentive signals that feed reputation back into reviewer selection.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"arbor/internal/audit"
	evaluationmetrics "arbor/internal/evaluation/metrics"
	"arbor/internal/evaluation/models"
	"arbor/internal/evaluation/store"
	proposalmodels "arbor/internal/proposal/models"
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

// ProposalReader exposes the evaluated proposal's review panel so reviewers
// who decided in time can be rewarded at finalization.
type ProposalReader interface {
	Get(ctx context.Context, proposalID id.ProposalID) (*proposalmodels.Proposal, []*proposalmodels.ApprovalRequest, error)
}

// Service orchestrates evaluation lifecycle management.
type Service struct {
	evaluations store.EvaluationStore
	scores      store.ScoreStore
	signals     store.SignalStore
	zones       zonestore.ZoneStore
	assignments zonestore.AssignmentStore
	resolver    PermissionResolver
	proposals   ProposalReader
	recorder    Recorder
	logger      *slog.Logger
	metrics     *evaluationmetrics.Metrics
	tx          StoreTx
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *evaluationmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) { s.tx = tx }
}

// WithProposalReader enables reviewer reward signals for evaluations linked
// to a proposal.
func WithProposalReader(p ProposalReader) Option {
	return func(s *Service) { s.proposals = p }
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(evaluations store.EvaluationStore, scores store.ScoreStore, signals store.SignalStore,
	zones zonestore.ZoneStore, assignments zonestore.AssignmentStore,
	perm PermissionResolver, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		evaluations: evaluations,
		scores:      scores,
		signals:     signals,
		zones:       zones,
		assignments: assignments,
		resolver:    perm,
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

// CreateParams opens an evaluation of one executor's work.
type CreateParams struct {
	ZoneID     id.ZoneID
	ProposalID id.ProposalID // optional link to the approved proposal
	ExecutorID id.MemberID
}

// Create opens an evaluation.
func (s *Service) Create(ctx context.Context, actor resolver.Actor, params CreateParams) (*models.Evaluation, error) {
	if params.ZoneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}
	if err := s.authorize(ctx, actor, params.ZoneID, "evaluation.create"); err != nil {
		return nil, err
	}

	var evaluation *models.Evaluation
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		z, err := s.zones.FindByID(txCtx, params.ZoneID)
		if err != nil {
			return wrapStoreErr(err, "zone not found", "failed to load zone")
		}

		e, err := models.NewEvaluation(id.NewEvaluationID(), z.OrgID, z.ID,
			params.ProposalID, params.ExecutorID, s.now())
		if err != nil {
			return err
		}
		if err := s.evaluations.Create(txCtx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create evaluation")
		}
		if err := s.recordAudit(txCtx, e, audit.ActionEvaluationCreate, actor.MemberID, map[string]any{
			"executor_id": e.ExecutorID.String(),
		}); err != nil {
			return err
		}
		evaluation = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evaluation, nil
}

// ScoreParams is one evaluator's score on one criterion.
type ScoreParams struct {
	Criterion string
	Weight    float64
	Score     float64
	Rationale string
}

// Score appends one score entry to an open evaluation.
func (s *Service) Score(ctx context.Context, actor resolver.Actor, evaluationID id.EvaluationID, params ScoreParams) (*models.ScoreEntry, error) {
	if evaluationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "evaluation ID required")
	}

	var entry *models.ScoreEntry
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.evaluations.FindByID(txCtx, evaluationID)
		if err != nil {
			return wrapStoreErr(err, "evaluation not found", "failed to load evaluation")
		}
		if e.Finalized() {
			return dErrors.New(dErrors.CodeStateConflict, "evaluation is finalized and immutable")
		}
		if err := s.authorize(txCtx, actor, e.ZoneID, "evaluation.submit"); err != nil {
			return err
		}

		scoreEntry, err := models.NewScoreEntry(id.NewScoreEntryID(), e.ID, actor.MemberID,
			params.Criterion, params.Weight, params.Score, params.Rationale, s.now())
		if err != nil {
			return err
		}
		if err := s.scores.Append(txCtx, scoreEntry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append score entry")
		}
		if err := s.recordAudit(txCtx, e, audit.ActionEvaluationScore, actor.MemberID, map[string]any{
			"criterion": scoreEntry.Criterion, "score": scoreEntry.Score,
		}); err != nil {
			return err
		}
		entry = scoreEntry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get fetches an evaluation with its score entries.
func (s *Service) Get(ctx context.Context, evaluationID id.EvaluationID) (*models.Evaluation, []*models.ScoreEntry, error) {
	if evaluationID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "evaluation ID required")
	}
	e, err := s.evaluations.FindByID(ctx, evaluationID)
	if err != nil {
		return nil, nil, wrapStoreErr(err, "evaluation not found", "failed to load evaluation")
	}
	entries, err := s.scores.ListByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load score entries")
	}
	return e, entries, nil
}

// Finalize closes an evaluation once every required evaluator has scored or
// the zone's evaluation timeout has elapsed. It computes the weighted
// aggregate, generates incentive signals, and is irreversible. Signals are
// recorded in the finalizing transaction; reputation application happens
// separately through ApplySignals.
func (s *Service) Finalize(ctx context.Context, actor resolver.Actor, evaluationID id.EvaluationID) (*models.Evaluation, error) {
	if evaluationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "evaluation ID required")
	}

	var evaluation *models.Evaluation
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.evaluations.FindByID(txCtx, evaluationID)
		if err != nil {
			return wrapStoreErr(err, "evaluation not found", "failed to load evaluation")
		}
		if e.Finalized() {
			return dErrors.New(dErrors.CodeStateConflict, "evaluation is already finalized")
		}
		if err := s.authorize(txCtx, actor, e.ZoneID, "evaluation.submit"); err != nil {
			return err
		}

		z, err := s.zones.FindByID(txCtx, e.ZoneID)
		if err != nil {
			return wrapStoreErr(err, "zone not found", "failed to load zone")
		}
		entries, err := s.scores.ListByEvaluation(txCtx, e.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load score entries")
		}
		if len(entries) == 0 {
			return dErrors.New(dErrors.CodeConflict, "evaluation has no scores to aggregate")
		}
		if err := s.checkReadiness(txCtx, e, z, entries); err != nil {
			return err
		}

		e.AggregateScore = models.Aggregate(entries)
		e.Status = models.StatusFinalized
		e.FinalizedAt = s.now()
		e.UpdatedAt = s.now()
		if err := s.evaluations.Update(txCtx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize evaluation")
		}

		signals, err := s.generateSignals(txCtx, e, z)
		if err != nil {
			return err
		}
		if len(signals) > 0 {
			if err := s.signals.CreateBatch(txCtx, signals); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record incentive signals")
			}
		}

		if err := s.recordAudit(txCtx, e, audit.ActionEvaluationFinal, actor.MemberID, map[string]any{
			"aggregate":          e.AggregateScore,
			"criterion_averages": models.CriterionAverages(entries),
			"signals":            len(signals),
		}); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.ObserveFinalized(e.AggregateScore)
			for _, sig := range signals {
				s.metrics.IncrementSignalsCreated(string(sig.Type))
			}
		}
		evaluation = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evaluation, nil
}

// checkReadiness enforces the finalization gate: every zone evaluator has
// scored, or the evaluation timeout elapsed.
func (s *Service) checkReadiness(ctx context.Context, e *models.Evaluation, z *zone.TrustZone, entries []*models.ScoreEntry) error {
	if s.now().Sub(e.CreatedAt) >= z.EvaluationPolicy.EvaluationTimeout() {
		return nil
	}

	required, err := s.assignments.ListByZoneRole(ctx, z.ID, zone.RoleEvaluator)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list zone evaluators")
	}
	scored := make(map[id.MemberID]bool, len(entries))
	for _, entry := range entries {
		scored[entry.EvaluatorID] = true
	}
	for _, assignment := range required {
		if !scored[assignment.MemberID] {
			return dErrors.New(dErrors.CodeConflict,
				"evaluation cannot finalize: evaluator "+assignment.MemberID.String()+" has not scored")
		}
	}
	return nil
}

// generateSignals derives the executor signal from the aggregate and rewards
// reviewers of the linked proposal who decided within the review window.
func (s *Service) generateSignals(ctx context.Context, e *models.Evaluation, z *zone.TrustZone) ([]*models.IncentiveSignal, error) {
	signalType, magnitude := models.DeriveExecutorSignal(e.AggregateScore,
		z.EvaluationPolicy.PositiveCutoff(), z.EvaluationPolicy.NegativeCutoff())

	signals := []*models.IncentiveSignal{{
		ID:           id.NewSignalID(),
		EvaluationID: e.ID,
		TargetID:     e.ExecutorID,
		Type:         signalType,
		Magnitude:    magnitude,
		Reason:       "evaluation aggregate " + signalTypeReason(signalType),
		CreatedAt:    s.now(),
	}}

	if s.proposals == nil || e.ProposalID.IsNil() {
		return signals, nil
	}
	p, requests, err := s.proposals.Get(ctx, e.ProposalID)
	if err != nil {
		// The reviewer reward is a bonus, not a correctness requirement.
		if s.logger != nil {
			s.logger.Warn("failed to load proposal for reviewer rewards",
				"proposal_id", e.ProposalID, "error", err)
		}
		return signals, nil
	}
	for _, r := range requests {
		if !r.Decided() || r.DecidedAt.After(p.ExpiresAt) {
			continue
		}
		signals = append(signals, &models.IncentiveSignal{
			ID:           id.NewSignalID(),
			EvaluationID: e.ID,
			TargetID:     r.ReviewerID,
			Type:         models.SignalPositive,
			Magnitude:    models.ReviewerRewardMagnitude,
			Reason:       "timely review of proposal " + p.ID.String(),
			CreatedAt:    s.now(),
		})
	}
	return signals, nil
}

func signalTypeReason(t models.SignalType) string {
	switch t {
	case models.SignalPositive:
		return "above positive threshold"
	case models.SignalNegative:
		return "below negative threshold"
	default:
		return "within neutral band"
	}
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

func (s *Service) recordAudit(ctx context.Context, e *models.Evaluation, action string, actorID id.MemberID, metadata map[string]any) error {
	return s.recorder.Record(ctx, audit.Entry{
		OrgID:      e.OrgID,
		ZoneID:     e.ZoneID,
		ActorID:    actorID,
		ActorType:  audit.ActorHuman,
		Action:     action,
		TargetType: "evaluation",
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
