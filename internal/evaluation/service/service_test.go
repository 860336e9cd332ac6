package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"arbor/internal/audit"
	"arbor/internal/evaluation/models"
	"arbor/internal/evaluation/store"
	"arbor/internal/member"
	proposalmodels "arbor/internal/proposal/models"
	zone "arbor/internal/zone/models"
	"arbor/internal/zone/resolver"
	zonestore "arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// fakeProposalReader serves a canned proposal with its review panel.
type fakeProposalReader struct {
	proposal *proposalmodels.Proposal
	requests []*proposalmodels.ApprovalRequest
	err      error
}

func (f *fakeProposalReader) Get(_ context.Context, _ id.ProposalID) (*proposalmodels.Proposal, []*proposalmodels.ApprovalRequest, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.proposal, f.requests, nil
}

type ServiceSuite struct {
	suite.Suite

	zones       *zonestore.InMemoryZoneStore
	assignments *zonestore.InMemoryAssignmentStore
	evaluations *store.InMemoryEvaluationStore
	scores      *store.InMemoryScoreStore
	signals     *store.InMemorySignalStore
	reputations *member.InMemoryReputationStore
	auditStore  *audit.InMemoryStore
	reader      *fakeProposalReader
	svc         *Service
	applier     *Applier

	orgID      id.OrgID
	zone       *zone.TrustZone
	evaluators []id.MemberID
	executor   id.MemberID
	clock      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.zones = zonestore.NewInMemoryZoneStore()
	s.assignments = zonestore.NewInMemoryAssignmentStore()
	s.evaluations = store.NewInMemoryEvaluationStore()
	s.scores = store.NewInMemoryScoreStore()
	s.signals = store.NewInMemorySignalStore()
	s.reputations = member.NewInMemoryReputationStore()
	s.auditStore = audit.NewInMemoryStore()
	s.reader = &fakeProposalReader{}

	perm := resolver.New(s.zones, s.assignments)
	s.clock = time.Now()
	s.svc = New(s.evaluations, s.scores, s.signals, s.zones, s.assignments,
		perm, audit.NewRecorder(s.auditStore),
		WithProposalReader(s.reader),
		WithClock(func() time.Time { return s.clock }),
	)
	s.applier = s.svc.NewApplier(s.reputations)

	s.orgID = id.NewOrgID()
	s.executor = id.NewMemberID()
	s.evaluators = nil
	s.zone = s.newZone(2, nil)
}

func (s *ServiceSuite) newZone(evaluatorCount int, policy *zone.EvaluationPolicy) *zone.TrustZone {
	ctx := context.Background()
	z := &zone.TrustZone{
		ID: id.NewZoneID(), OrgID: s.orgID,
		Name: "zone", Slug: "zone-" + id.NewZoneID().String(),
		Status: zone.StatusActive, EvaluationPolicy: policy,
	}
	s.Require().NoError(s.zones.CreateIfSlugAvailable(ctx, z))
	for i := 0; i < evaluatorCount; i++ {
		evaluator := id.NewMemberID()
		s.evaluators = append(s.evaluators, evaluator)
		s.Require().NoError(s.assignments.Create(ctx, &zone.ZoneAssignment{
			ID: id.NewAssignmentID(), ZoneID: z.ID, MemberID: evaluator, Role: zone.RoleEvaluator,
		}))
	}
	return z
}

func (s *ServiceSuite) actorFor(memberID id.MemberID) resolver.Actor {
	return resolver.Actor{MemberID: memberID, OrgID: s.orgID, OrgRole: member.RoleMember}
}

func (s *ServiceSuite) open(proposalID id.ProposalID) *models.Evaluation {
	e, err := s.svc.Create(context.Background(), s.actorFor(s.evaluators[0]), CreateParams{
		ZoneID: s.zone.ID, ProposalID: proposalID, ExecutorID: s.executor,
	})
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) score(evaluator id.MemberID, evaluationID id.EvaluationID, criterion string, weight, score float64) {
	_, err := s.svc.Score(context.Background(), s.actorFor(evaluator), evaluationID, ScoreParams{
		Criterion: criterion, Weight: weight, Score: score,
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestCreateRequiresEvaluatorRole() {
	outsider := s.actorFor(id.NewMemberID())
	outsider.OrgRole = ""
	_, err := s.svc.Create(context.Background(), outsider, CreateParams{
		ZoneID: s.zone.ID, ExecutorID: s.executor,
	})
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
}

func (s *ServiceSuite) TestScoreValidatesRange() {
	e := s.open(id.ProposalID{})
	_, err := s.svc.Score(context.Background(), s.actorFor(s.evaluators[0]), e.ID, ScoreParams{
		Criterion: "quality", Weight: 1, Score: 1.5,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestFinalizeWaitsForAllEvaluators() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)

	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Contains(err.Error(), s.evaluators[1].String())
}

func (s *ServiceSuite) TestFinalizeAggregatesWhenAllScored() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 3, 1.0)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.0)

	finalized, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFinalized, finalized.Status)
	s.InDelta(0.75, finalized.AggregateScore, 1e-9)
	s.False(finalized.FinalizedAt.IsZero())
}

func (s *ServiceSuite) TestFinalizeAfterTimeoutSkipsMissingEvaluators() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)

	s.clock = s.clock.Add(73 * time.Hour)
	finalized, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFinalized, finalized.Status)
}

func (s *ServiceSuite) TestFinalizeIsIrreversible() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.9)

	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)

	_, err = s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[1]), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	_, err = s.svc.Score(context.Background(), s.actorFor(s.evaluators[1]), e.ID, ScoreParams{
		Criterion: "quality", Weight: 1, Score: 0.1,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *ServiceSuite) TestFinalizeWithoutScoresRejected() {
	e := s.open(id.ProposalID{})
	s.clock = s.clock.Add(73 * time.Hour)
	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestFinalizeGeneratesExecutorSignal() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.9)

	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)

	pending, err := s.signals.ListUnapplied(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(s.executor, pending[0].TargetID)
	s.Equal(models.SignalPositive, pending[0].Type)
	s.InDelta(0.9*1.5, pending[0].Magnitude, 1e-9)
	s.False(pending[0].Applied)
}

func (s *ServiceSuite) TestFinalizeRewardsTimelyReviewers() {
	proposalID := id.NewProposalID()
	timely := id.NewMemberID()
	late := id.NewMemberID()
	undecided := id.NewMemberID()
	expiry := s.clock.Add(72 * time.Hour)
	s.reader.proposal = &proposalmodels.Proposal{ID: proposalID, ExpiresAt: expiry}
	s.reader.requests = []*proposalmodels.ApprovalRequest{
		{ReviewerID: timely, Decision: proposalmodels.DecisionApprove, DecidedAt: expiry.Add(-time.Hour)},
		{ReviewerID: late, Decision: proposalmodels.DecisionReject, DecidedAt: expiry.Add(time.Hour)},
		{ReviewerID: undecided},
	}

	e := s.open(proposalID)
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.5)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.5)

	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)

	pending, err := s.signals.ListUnapplied(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)

	byTarget := make(map[id.MemberID]*models.IncentiveSignal)
	for _, sig := range pending {
		byTarget[sig.TargetID] = sig
	}
	s.Equal(models.SignalNeutral, byTarget[s.executor].Type)
	s.Require().Contains(byTarget, timely)
	s.InDelta(models.ReviewerRewardMagnitude, byTarget[timely].Magnitude, 1e-9)
	s.NotContains(byTarget, late)
	s.NotContains(byTarget, undecided)
}

func (s *ServiceSuite) TestApplyPendingAdjustsReputation() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.9)
	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)

	before, err := s.reputations.Get(context.Background(), s.executor)
	s.Require().NoError(err)

	applied, err := s.applier.ApplyPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal(1, applied)

	after, err := s.reputations.Get(context.Background(), s.executor)
	s.Require().NoError(err)
	s.InDelta(before.Score+0.9*1.5, after.Score, 1e-9)
}

func (s *ServiceSuite) TestSignalApplicationIsIdempotent() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.9)
	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)

	pending, err := s.signals.ListUnapplied(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	signalID := pending[0].ID

	applied, err := s.applier.ApplyPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal(1, applied)
	after, err := s.reputations.Get(context.Background(), s.executor)
	s.Require().NoError(err)

	// A second run has nothing left, and a targeted retry is a no-op.
	applied, err = s.applier.ApplyPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal(0, applied)
	s.Require().NoError(s.applier.ApplySignal(context.Background(), signalID))

	unchanged, err := s.reputations.Get(context.Background(), s.executor)
	s.Require().NoError(err)
	s.InDelta(after.Score, unchanged.Score, 1e-9)
}

func (s *ServiceSuite) TestAuditTrailCoversLifecycle() {
	e := s.open(id.ProposalID{})
	s.score(s.evaluators[0], e.ID, "quality", 1, 0.9)
	s.score(s.evaluators[1], e.ID, "quality", 1, 0.9)
	_, err := s.svc.Finalize(context.Background(), s.actorFor(s.evaluators[0]), e.ID)
	s.Require().NoError(err)
	_, err = s.applier.ApplyPending(context.Background(), 10)
	s.Require().NoError(err)

	entries, err := audit.NewRecorder(s.auditStore).List(context.Background(), audit.Filter{})
	s.Require().NoError(err)
	actions := make(map[string]bool)
	for _, entry := range entries {
		actions[entry.Action] = true
	}
	for _, want := range []string{
		audit.ActionEvaluationCreate, audit.ActionEvaluationScore,
		audit.ActionEvaluationFinal, audit.ActionSignalApply,
	} {
		s.True(actions[want], "missing audit action %s", want)
	}
}
