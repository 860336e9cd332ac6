package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbor/internal/audit"
	"arbor/internal/escalation/models"
	"arbor/internal/escalation/store"
	"arbor/internal/gardener"
	"arbor/internal/member"
	proposalmodels "arbor/internal/proposal/models"
	proposalservice "arbor/internal/proposal/service"
	proposalstore "arbor/internal/proposal/store"
	zone "arbor/internal/zone/models"
	"arbor/internal/zone/resolver"
	zonestore "arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// env wires a two-level zone tree (root -> child) with real in-memory stores
// and the real proposal engine behind the escalation service.
type env struct {
	t           *testing.T
	zones       *zonestore.InMemoryZoneStore
	assignments *zonestore.InMemoryAssignmentStore
	escalations *store.InMemoryEscalationStore
	cosigners   *store.InMemoryCosignerStore
	proposalSvc *proposalservice.Service
	svc         *Service
	now         func() time.Time

	orgID id.OrgID
	root  *zone.TrustZone
	child *zone.TrustZone

	rootApprovers  []id.MemberID
	childApprovers []id.MemberID
}

func newEnv(t *testing.T, childModel zone.DecisionModelConfig, childPolicy *zone.EscalationPolicy) *env {
	t.Helper()
	ctx := context.Background()

	e := &env{
		t:           t,
		zones:       zonestore.NewInMemoryZoneStore(),
		assignments: zonestore.NewInMemoryAssignmentStore(),
		escalations: store.NewInMemoryEscalationStore(),
		cosigners:   store.NewInMemoryCosignerStore(),
		orgID:       id.NewOrgID(),
		now:         time.Now,
	}

	e.root = &zone.TrustZone{
		ID: id.NewZoneID(), OrgID: e.orgID, Name: "root", Slug: "root",
		Status: zone.StatusActive, DecisionModel: zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
	}
	e.child = &zone.TrustZone{
		ID: id.NewZoneID(), OrgID: e.orgID, ParentID: e.root.ID, Name: "child", Slug: "child",
		Status: zone.StatusActive, DecisionModel: childModel, EscalationPolicy: childPolicy,
	}
	if err := e.zones.CreateIfSlugAvailable(ctx, e.root); err != nil {
		t.Fatalf("create root: %v", err)
	}
	if err := e.zones.CreateIfSlugAvailable(ctx, e.child); err != nil {
		t.Fatalf("create child: %v", err)
	}

	// Three approvers per level so even high-risk panels can be filled.
	for i := 0; i < 3; i++ {
		e.rootApprovers = append(e.rootApprovers, e.assign(e.root.ID))
		e.childApprovers = append(e.childApprovers, e.assign(e.child.ID))
	}

	auditRecorder := audit.NewRecorder(audit.NewInMemoryStore())
	perm := resolver.New(e.zones, e.assignments)
	stats := gardener.NewInMemoryStatsStore()
	pool := gardener.NewPoolBuilder(perm, stats, member.NewInMemoryReputationStore())
	selector := gardener.NewSelector(stats)

	e.proposalSvc = proposalservice.New(
		proposalstore.NewInMemoryProposalStore(), proposalstore.NewInMemoryApprovalStore(),
		e.zones, perm, pool, selector, auditRecorder,
		proposalservice.WithClock(func() time.Time { return e.now() }))
	e.svc = New(e.escalations, e.cosigners, e.zones, perm, e.proposalSvc, auditRecorder)
	e.proposalSvc.BindDeadlockEscalator(e.svc)
	return e
}

func (e *env) assign(zoneID id.ZoneID) id.MemberID {
	e.t.Helper()
	memberID := id.NewMemberID()
	err := e.assignments.Create(context.Background(), &zone.ZoneAssignment{
		ID: id.NewAssignmentID(), ZoneID: zoneID, MemberID: memberID, Role: zone.RoleApprover,
	})
	if err != nil {
		e.t.Fatalf("assign approver: %v", err)
	}
	return memberID
}

func (e *env) actor() resolver.Actor {
	return resolver.Actor{MemberID: id.NewMemberID(), OrgID: e.orgID, OrgRole: member.RoleMember}
}

func (e *env) pendingProposal(author resolver.Actor) *proposalmodels.Proposal {
	e.t.Helper()
	// Medium risk yields a two-reviewer panel, enough for a majority deadlock.
	p, err := e.proposalSvc.Create(context.Background(), author, proposalservice.CreateParams{
		ZoneID: e.child.ID, Type: proposalmodels.TypeResourceAllocation, Title: "reserve compute budget",
	})
	if err != nil {
		e.t.Fatalf("create proposal: %v", err)
	}
	return p
}

func TestRaiseActionPausesProposalAndOpensReplacement(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 2}, nil)
	ctx := context.Background()
	author := e.actor()
	p := e.pendingProposal(author)

	esc, err := e.svc.RaiseAction(ctx, e.actor(), p.ID, "reviewers are sitting on this")
	if err != nil {
		t.Fatalf("raise action: %v", err)
	}
	if esc.Type != models.TypeAction || esc.TargetZoneID != e.root.ID {
		t.Fatalf("unexpected escalation: %+v", esc)
	}
	if esc.ResultingProposalID.IsNil() {
		t.Fatal("expected a replacement proposal in the parent zone")
	}

	paused, _, err := e.proposalSvc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if paused.Status != proposalmodels.StatusEscalated {
		t.Fatalf("expected contested proposal paused, got %s", paused.Status)
	}

	replacement, _, err := e.proposalSvc.Get(ctx, esc.ResultingProposalID)
	if err != nil {
		t.Fatalf("get replacement: %v", err)
	}
	if replacement.ZoneID != e.root.ID {
		t.Fatalf("replacement should live in the parent zone, got %s", replacement.ZoneID)
	}
}

func TestRaiseActionFromRootZoneRejected(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1}, nil)
	ctx := context.Background()

	p, err := e.proposalSvc.Create(ctx, e.actor(), proposalservice.CreateParams{
		ZoneID: e.root.ID, Type: proposalmodels.TypeTaskExecution, Title: "root work",
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	_, err = e.svc.RaiseAction(ctx, e.actor(), p.ID, "contest")
	if !dErrors.HasCode(err, dErrors.CodeConflict) {
		t.Fatalf("expected conflict for root zone escalation, got %v", err)
	}
}

func TestGovernanceCosignThresholdActivates(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
		&zone.EscalationPolicy{CosignerThreshold: 3})
	ctx := context.Background()

	esc, err := e.svc.RaiseGovernance(ctx, e.actor(), e.child.ID, "approvers rubber-stamp everything")
	if err != nil {
		t.Fatalf("raise governance: %v", err)
	}
	if esc.Status != models.StatusPending {
		t.Fatalf("expected pending before threshold, got %s", esc.Status)
	}

	if _, err := e.svc.Cosign(ctx, e.actor(), esc.ID); err != nil {
		t.Fatalf("second cosign: %v", err)
	}
	got, cosigners, err := e.svc.Get(ctx, esc.ID)
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if got.Status != models.StatusPending || len(cosigners) != 2 {
		t.Fatalf("expected pending with 2 cosigners, got %s with %d", got.Status, len(cosigners))
	}

	// Third co-signer crosses the threshold and activates.
	got, err = e.svc.Cosign(ctx, e.actor(), esc.ID)
	if err != nil {
		t.Fatalf("third cosign: %v", err)
	}
	if got.Status != models.StatusAccepted {
		t.Fatalf("expected accepted after threshold, got %s", got.Status)
	}
	if got.ResultingProposalID.IsNil() {
		t.Fatal("expected a governance meta-proposal in the parent zone")
	}
	meta, _, err := e.proposalSvc.Get(ctx, got.ResultingProposalID)
	if err != nil {
		t.Fatalf("get meta proposal: %v", err)
	}
	if meta.Type != proposalmodels.TypeZoneChange || meta.ZoneID != e.root.ID {
		t.Fatalf("unexpected meta proposal: %+v", meta)
	}
}

func TestCosignIdempotent(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
		&zone.EscalationPolicy{CosignerThreshold: 3})
	ctx := context.Background()

	esc, err := e.svc.RaiseGovernance(ctx, e.actor(), e.child.ID, "concentration of power")
	if err != nil {
		t.Fatalf("raise governance: %v", err)
	}

	cosigner := e.actor()
	for i := 0; i < 3; i++ {
		if _, err := e.svc.Cosign(ctx, cosigner, esc.ID); err != nil {
			t.Fatalf("cosign attempt %d: %v", i, err)
		}
	}

	_, cosigners, err := e.svc.Get(ctx, esc.ID)
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if len(cosigners) != 2 {
		t.Fatalf("duplicate cosigns must not count, got %d cosigners", len(cosigners))
	}
}

func TestRateLimitBlocksRepeatEscalation(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
		&zone.EscalationPolicy{MaxPerWindow: 1, CosignerThreshold: 3})
	ctx := context.Background()
	actor := e.actor()

	if _, err := e.svc.RaiseGovernance(ctx, actor, e.child.ID, "first concern"); err != nil {
		t.Fatalf("first escalation: %v", err)
	}
	_, err := e.svc.RaiseGovernance(ctx, actor, e.child.ID, "second concern")
	if !dErrors.HasCode(err, dErrors.CodeRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	var de *dErrors.Error
	if !errors.As(err, &de) || de.RetryAfter <= 0 {
		t.Fatalf("expected a retry-after hint on the rate limit error, got %+v", err)
	}

	// Another actor is not affected by the first actor's usage.
	if _, err := e.svc.RaiseGovernance(ctx, e.actor(), e.child.ID, "independent concern"); err != nil {
		t.Fatalf("independent actor should not be limited: %v", err)
	}
}

func TestRateLimitHoldsUnderConcurrentRaises(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
		&zone.EscalationPolicy{MaxPerWindow: 1, CosignerThreshold: 3})
	ctx := context.Background()
	actor := e.actor()

	var succeeded, limited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.RaiseGovernance(ctx, actor, e.child.ID, "concurrent concern")
			switch {
			case err == nil:
				succeeded.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRateLimited):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || limited.Load() != 3 {
		t.Fatalf("expected exactly one raise under a cap of 1, got %d succeeded / %d limited",
			succeeded.Load(), limited.Load())
	}
}

func TestDeadlockEscalationResolvedByParentApprover(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelMajority}, nil)
	ctx := context.Background()
	p := e.pendingProposal(e.actor())

	requests, err := panelOf(e, p.ID)
	if err != nil {
		t.Fatalf("load panel: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected a 2-reviewer panel, got %d", len(requests))
	}
	if _, err := e.proposalSvc.RecordDecision(ctx, requests[0], p.ID, proposalmodels.DecisionApprove, ""); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	if _, err := e.proposalSvc.RecordDecision(ctx, requests[1], p.ID, proposalmodels.DecisionReject, ""); err != nil {
		t.Fatalf("second decision: %v", err)
	}

	// The split keeps the proposal pending; the deadline sweep escalates it.
	e.now = func() time.Time { return time.Now().Add(proposalmodels.DefaultExpiry + time.Hour) }
	if _, err := e.proposalSvc.SweepExpired(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	escalations, err := e.svc.ListByTargetZone(ctx, e.root.ID)
	if err != nil {
		t.Fatalf("list escalations: %v", err)
	}
	if len(escalations) != 1 || escalations[0].ProposalID != p.ID {
		t.Fatalf("expected one deadlock escalation for the proposal, got %+v", escalations)
	}

	// A root-zone approver overturns in favour of the proposal.
	approver := resolver.Actor{MemberID: e.rootApprovers[0], OrgID: e.orgID, OrgRole: member.RoleMember}
	resolved, err := e.svc.Resolve(ctx, approver, escalations[0].ID, true)
	if err != nil {
		t.Fatalf("resolve escalation: %v", err)
	}
	if resolved.Status != models.StatusResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}

	final, _, err := e.proposalSvc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if final.Status != proposalmodels.StatusApproved {
		t.Fatalf("expected approved proposal after overturn, got %s", final.Status)
	}
}

func TestResolveRequiresTargetZoneRights(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelMajority}, nil)
	ctx := context.Background()
	p := e.pendingProposal(e.actor())

	requests, err := panelOf(e, p.ID)
	if err != nil {
		t.Fatalf("load panel: %v", err)
	}
	if _, err := e.proposalSvc.RecordDecision(ctx, requests[0], p.ID, proposalmodels.DecisionApprove, ""); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	if _, err := e.proposalSvc.RecordDecision(ctx, requests[1], p.ID, proposalmodels.DecisionReject, ""); err != nil {
		t.Fatalf("second decision: %v", err)
	}
	e.now = func() time.Time { return time.Now().Add(proposalmodels.DefaultExpiry + time.Hour) }
	if _, err := e.proposalSvc.SweepExpired(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	escalations, err := e.svc.ListByTargetZone(ctx, e.root.ID)
	if err != nil || len(escalations) != 1 {
		t.Fatalf("expected one escalation, got %v (%v)", escalations, err)
	}

	// A child-zone approver has no standing in the target zone.
	outsider := resolver.Actor{MemberID: e.childApprovers[0], OrgID: e.orgID, OrgRole: member.RoleMember}
	_, err = e.svc.Resolve(ctx, outsider, escalations[0].ID, true)
	if !dErrors.HasCode(err, dErrors.CodePermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestResolveGovernanceBeforeActivationRejected(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
		&zone.EscalationPolicy{CosignerThreshold: 3})
	ctx := context.Background()

	esc, err := e.svc.RaiseGovernance(ctx, e.actor(), e.child.ID, "premature")
	if err != nil {
		t.Fatalf("raise governance: %v", err)
	}

	approver := resolver.Actor{MemberID: e.rootApprovers[0], OrgID: e.orgID, OrgRole: member.RoleMember}
	_, err = e.svc.Resolve(ctx, approver, esc.ID, true)
	if !dErrors.HasCode(err, dErrors.CodeStateConflict) {
		t.Fatalf("expected state conflict before activation, got %v", err)
	}
}

func TestSweepStaleRetargetsUpward(t *testing.T) {
	e := newEnv(t, zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
		&zone.EscalationPolicy{CosignerThreshold: 3, AutoEscalateAfterHours: 1})
	ctx := context.Background()

	// Grow the tree one level: root -> mid -> child, re-parenting child under mid.
	mid := &zone.TrustZone{
		ID: id.NewZoneID(), OrgID: e.orgID, ParentID: e.root.ID, Name: "mid", Slug: "mid",
		Status: zone.StatusActive, DecisionModel: zone.DecisionModelConfig{Type: zone.ModelThreshold, Threshold: 1},
	}
	if err := e.zones.CreateIfSlugAvailable(ctx, mid); err != nil {
		t.Fatalf("create mid: %v", err)
	}
	e.child.ParentID = mid.ID
	if err := e.zones.Update(ctx, e.child); err != nil {
		t.Fatalf("re-parent child: %v", err)
	}

	esc, err := e.svc.RaiseGovernance(ctx, e.actor(), e.child.ID, "stuck review culture")
	if err != nil {
		t.Fatalf("raise governance: %v", err)
	}
	if esc.TargetZoneID != mid.ID {
		t.Fatalf("expected escalation targeting mid, got %s", esc.TargetZoneID)
	}

	e.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	moved, err := e.svc.SweepStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected one re-targeted escalation, got %d", moved)
	}

	got, _, err := e.svc.Get(ctx, esc.ID)
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if got.TargetZoneID != e.root.ID {
		t.Fatalf("expected escalation re-targeted to root, got %s", got.TargetZoneID)
	}
}

// panelOf returns the reviewer ids selected for a proposal.
func panelOf(e *env, proposalID id.ProposalID) ([]id.MemberID, error) {
	_, requests, err := e.proposalSvc.Get(context.Background(), proposalID)
	if err != nil {
		return nil, err
	}
	out := make([]id.MemberID, 0, len(requests))
	for _, r := range requests {
		out = append(out, r.ReviewerID)
	}
	return out, nil
}
