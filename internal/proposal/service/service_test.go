package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"arbor/internal/audit"
	"arbor/internal/gardener"
	"arbor/internal/member"
	"arbor/internal/proposal/models"
	"arbor/internal/proposal/store"
	zone "arbor/internal/zone/models"
	"arbor/internal/zone/resolver"
	zonestore "arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type fakeEscalator struct {
	calls atomic.Int32
}

func (f *fakeEscalator) EscalateDeadlock(_ context.Context, _ *models.Proposal, _ string) error {
	f.calls.Add(1)
	return nil
}

type ServiceSuite struct {
	suite.Suite

	zones       *zonestore.InMemoryZoneStore
	assignments *zonestore.InMemoryAssignmentStore
	proposals   *store.InMemoryProposalStore
	approvals   *store.InMemoryApprovalStore
	auditStore  *audit.InMemoryStore
	stats       *gardener.InMemoryStatsStore
	escalator   *fakeEscalator
	svc         *Service

	orgID     id.OrgID
	author    resolver.Actor
	reviewers []id.MemberID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.zones = zonestore.NewInMemoryZoneStore()
	s.assignments = zonestore.NewInMemoryAssignmentStore()
	s.proposals = store.NewInMemoryProposalStore()
	s.approvals = store.NewInMemoryApprovalStore()
	s.auditStore = audit.NewInMemoryStore()
	s.stats = gardener.NewInMemoryStatsStore()
	s.escalator = &fakeEscalator{}

	reputations := member.NewInMemoryReputationStore()
	perm := resolver.New(s.zones, s.assignments)
	pool := gardener.NewPoolBuilder(perm, s.stats, reputations)
	selector := gardener.NewSelector(s.stats)

	s.svc = New(s.proposals, s.approvals, s.zones, perm, pool, selector,
		audit.NewRecorder(s.auditStore),
		WithOutcomeSink(s.stats),
		WithDeadlockEscalator(s.escalator),
	)

	s.orgID = id.NewOrgID()
	s.author = resolver.Actor{MemberID: id.NewMemberID(), OrgID: s.orgID, OrgRole: member.RoleMember}
	s.reviewers = nil
}

// newZone creates an active zone under a root so deadlocks can escalate.
func (s *ServiceSuite) newZone(model zone.DecisionModelConfig, reviewerCount int, mutate func(*zone.TrustZone)) *zone.TrustZone {
	ctx := context.Background()

	root := &zone.TrustZone{
		ID: id.NewZoneID(), OrgID: s.orgID, Name: "root", Slug: "root-" + id.NewZoneID().String(),
		Status: zone.StatusActive, DecisionModel: zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
	}
	s.Require().NoError(s.zones.CreateIfSlugAvailable(ctx, root))

	z := &zone.TrustZone{
		ID: id.NewZoneID(), OrgID: s.orgID, ParentID: root.ID,
		Name: "zone", Slug: "zone-" + id.NewZoneID().String(),
		Status: zone.StatusActive, DecisionModel: model,
	}
	if mutate != nil {
		mutate(z)
	}
	s.Require().NoError(s.zones.CreateIfSlugAvailable(ctx, z))

	for i := 0; i < reviewerCount; i++ {
		reviewer := id.NewMemberID()
		s.reviewers = append(s.reviewers, reviewer)
		s.Require().NoError(s.assignments.Create(ctx, &zone.ZoneAssignment{
			ID: id.NewAssignmentID(), ZoneID: z.ID, MemberID: reviewer, Role: zone.RoleApprover,
		}))
	}
	return z
}

func (s *ServiceSuite) create(z *zone.TrustZone, t models.Type, payload models.Payload) *models.Proposal {
	p, err := s.svc.Create(context.Background(), s.author, CreateParams{
		ZoneID: z.ID, Type: t, Title: "test proposal", Payload: payload,
	})
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) TestCreateRequiresPermission() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 1, nil)

	outsider := resolver.Actor{MemberID: id.NewMemberID(), OrgID: s.orgID}
	_, err := s.svc.Create(context.Background(), outsider, CreateParams{
		ZoneID: z.ID, Type: models.TypeTaskExecution, Title: "nope",
	})
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
}

func (s *ServiceSuite) TestCreateExcludesAuthorFromPanel() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 2, nil)

	// The author also holds approver in the zone but must never review
	// their own proposal.
	s.Require().NoError(s.assignments.Create(context.Background(), &zone.ZoneAssignment{
		ID: id.NewAssignmentID(), ZoneID: z.ID, MemberID: s.author.MemberID, Role: zone.RoleApprover,
	}))

	p := s.create(z, models.TypeTaskExecution, models.Payload{})
	requests, err := s.approvals.ListByProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(requests)
	for _, r := range requests {
		s.NotEqual(s.author.MemberID, r.ReviewerID)
		s.NotEmpty(r.SelectionReason)
	}
	s.Contains(p.ConflictFlags, "author_excluded:"+s.author.MemberID.String())
}

func (s *ServiceSuite) TestCreateExcludesSubjectFromPanel() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 3, nil)
	subject := s.reviewers[0]

	p := s.create(z, models.TypeMembershipChange, models.Payload{
		TargetMember: subject, Role: string(zone.RoleExecutor),
	})
	requests, err := s.approvals.ListByProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	for _, r := range requests {
		s.NotEqual(subject, r.ReviewerID, "subject of the proposal must never review it")
	}
}

func (s *ServiceSuite) TestAutoApproveSkipsReview() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 1, func(z *zone.TrustZone) {
		z.ApprovalPolicy = &zone.ApprovalPolicy{AutoApproveTypes: []string{string(models.TypeTaskExecution)}}
	})

	p := s.create(z, models.TypeTaskExecution, models.Payload{})
	s.Equal(models.StatusApproved, p.Status)

	requests, err := s.approvals.ListByProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Empty(requests)
}

func (s *ServiceSuite) TestStaticReviewersUsedWhenConfigured() {
	static := []id.MemberID{id.NewMemberID(), id.NewMemberID()}
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 0, func(z *zone.TrustZone) {
		z.ApprovalPolicy = &zone.ApprovalPolicy{StaticReviewers: static}
	})

	p := s.create(z, models.TypeTaskExecution, models.Payload{})
	requests, err := s.approvals.ListByProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Require().Len(requests, 1)
	s.Equal(static[0], requests[0].ReviewerID)
	s.Equal(gardener.StrategyStatic, requests[0].SelectionReason)
}

func (s *ServiceSuite) TestRecordDecisionFinalizesThreshold() {
	// High risk puts all three reviewers on the panel.
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 2}, 3, nil)
	p := s.create(z, models.TypeZoneChange, models.Payload{})

	ctx := context.Background()
	got, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "fine")
	s.Require().NoError(err)
	s.Equal(models.StatusPendingReview, got.Status)

	got, err = s.svc.RecordDecision(ctx, s.reviewers[1], p.ID, models.DecisionApprove, "fine")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.False(got.ResolvedAt.IsZero())

	// Terminal proposals reject further decisions with a state conflict.
	_, err = s.svc.RecordDecision(ctx, s.reviewers[2], p.ID, models.DecisionReject, "late")
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *ServiceSuite) TestDecisionsAreImmutable() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 2}, 2, nil)
	p := s.create(z, models.TypeTaskExecution, models.Payload{})

	ctx := context.Background()
	_, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionAbstain, "")
	s.Require().NoError(err)

	_, err = s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "changed my mind")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestNonReviewerCannotDecide() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 1, nil)
	p := s.create(z, models.TypeTaskExecution, models.Payload{})

	_, err := s.svc.RecordDecision(context.Background(), id.NewMemberID(), p.ID, models.DecisionApprove, "")
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
}

func (s *ServiceSuite) TestConcurrentDecisionsFinalizeExactlyOnce() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelUnilateral}, 3, nil)
	p := s.create(z, models.TypeZoneChange, models.Payload{})

	var successes, conflicts atomic.Int32
	var g errgroup.Group
	for _, reviewer := range s.reviewers {
		g.Go(func() error {
			_, err := s.svc.RecordDecision(context.Background(), reviewer, p.ID, models.DecisionApprove, "")
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeStateConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int32(1), successes.Load(), "exactly one decision causes the terminal transition")
	s.Equal(int32(2), conflicts.Load())

	final, _, err := s.svc.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, final.Status)
}

func (s *ServiceSuite) TestEvenSplitStaysPendingUntilDeadline() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelMajority}, 2, nil)
	p := s.create(z, models.TypeResourceAllocation, models.Payload{})

	ctx := context.Background()
	_, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "")
	s.Require().NoError(err)
	got, err := s.svc.RecordDecision(ctx, s.reviewers[1], p.ID, models.DecisionReject, "")
	s.Require().NoError(err)

	// No strict majority, but the deadline has not passed: the proposal
	// stays open and nothing escalates yet.
	s.Equal(models.StatusPendingReview, got.Status)
	s.Equal(int32(0), s.escalator.calls.Load())

	s.svc.now = func() time.Time { return time.Now().Add(models.DefaultExpiry + time.Hour) }
	swept, err := s.svc.SweepExpired(ctx)
	s.Require().NoError(err)
	s.Equal(1, swept)

	final, _, err := s.svc.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusEscalated, final.Status)
	s.Equal(int32(1), s.escalator.calls.Load())
}

func (s *ServiceSuite) TestDeadlockExpiresWhenFailClosed() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelMajority}, 2, func(z *zone.TrustZone) {
		z.EscalationPolicy = &zone.EscalationPolicy{FailClosed: true}
	})
	p := s.create(z, models.TypeResourceAllocation, models.Payload{})

	ctx := context.Background()
	_, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "")
	s.Require().NoError(err)
	got, err := s.svc.RecordDecision(ctx, s.reviewers[1], p.ID, models.DecisionReject, "")
	s.Require().NoError(err)
	s.Equal(models.StatusPendingReview, got.Status)

	s.svc.now = func() time.Time { return time.Now().Add(models.DefaultExpiry + time.Hour) }
	swept, err := s.svc.SweepExpired(ctx)
	s.Require().NoError(err)
	s.Equal(1, swept)

	final, _, err := s.svc.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, final.Status)
	s.Equal(int32(0), s.escalator.calls.Load())
}

func (s *ServiceSuite) TestSweepExpiredEscalatesDeadlockedProposals() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 2}, 2, nil)
	p := s.create(z, models.TypeTaskExecution, models.Payload{})

	// Move the clock past the proposal's expiry.
	s.svc.now = func() time.Time { return time.Now().Add(models.DefaultExpiry + time.Hour) }

	swept, err := s.svc.SweepExpired(context.Background())
	s.Require().NoError(err)
	s.Equal(1, swept)

	got, _, err := s.svc.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusEscalated, got.Status)
	s.Equal(int32(1), s.escalator.calls.Load())
}

func (s *ServiceSuite) TestSweepFinalizesConsensusPastTimeout() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelConsensus, Threshold: 2, TimeoutHours: 48}, 3, nil)
	p := s.create(z, models.TypeZoneChange, models.Payload{})

	ctx := context.Background()
	_, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "")
	s.Require().NoError(err)
	_, err = s.svc.RecordDecision(ctx, s.reviewers[1], p.ID, models.DecisionApprove, "")
	s.Require().NoError(err)
	got, err := s.svc.RecordDecision(ctx, s.reviewers[2], p.ID, models.DecisionReject, "")
	s.Require().NoError(err)
	s.Equal(models.StatusPendingReview, got.Status, "mixed consensus panel waits for the timeout")

	s.svc.now = func() time.Time { return time.Now().Add(models.DefaultExpiry + time.Hour) }
	swept, err := s.svc.SweepExpired(ctx)
	s.Require().NoError(err)
	s.Equal(1, swept)

	final, _, err := s.svc.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, final.Status, "threshold fallback approves 2 of 3")
}

func (s *ServiceSuite) TestResolveEscalatedRecordsOverturns() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelMajority}, 2, nil)
	p := s.create(z, models.TypeResourceAllocation, models.Payload{})

	ctx := context.Background()
	_, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "")
	s.Require().NoError(err)
	_, err = s.svc.RecordDecision(ctx, s.reviewers[1], p.ID, models.DecisionReject, "")
	s.Require().NoError(err)

	// The split deadlocks at the deadline and escalates to the parent zone.
	s.svc.now = func() time.Time { return time.Now().Add(models.DefaultExpiry + time.Hour) }
	_, err = s.svc.SweepExpired(ctx)
	s.Require().NoError(err)

	parentApprover := id.NewMemberID()
	got, err := s.svc.ResolveEscalated(ctx, p.ID, true, parentApprover)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)

	// The rejecting reviewer was overturned; the approving one was not.
	st, err := s.stats.Get(ctx, s.reviewers[1])
	s.Require().NoError(err)
	s.Equal(1, st.OverturnedCount)
	st, err = s.stats.Get(ctx, s.reviewers[0])
	s.Require().NoError(err)
	s.Equal(0, st.OverturnedCount)
}

func (s *ServiceSuite) TestAuditTrailCoversLifecycle() {
	z := s.newZone(zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, 1, nil)
	p := s.create(z, models.TypeTaskExecution, models.Payload{})

	ctx := context.Background()
	_, err := s.svc.RecordDecision(ctx, s.reviewers[0], p.ID, models.DecisionApprove, "")
	s.Require().NoError(err)

	entries, err := s.auditStore.List(ctx, audit.Filter{ZoneID: z.ID})
	s.Require().NoError(err)

	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, audit.ActionProposalCreate)
	s.Contains(actions, audit.ActionProposalDecision)
	s.Contains(actions, audit.ActionProposalResolve)
	s.Contains(actions, audit.ActionProposalExecute)
}
