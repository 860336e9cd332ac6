package gardener_test

//go:generate mockgen -source=scorer.go -destination=mocks/scorer_mock.go -package=mocks Scorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"arbor/internal/gardener"
	"arbor/internal/gardener/mocks"
	"arbor/internal/member"
	"arbor/internal/zone/models"
	"arbor/internal/zone/resolver"
	"arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

func candidate(role models.Role, accuracy, response, reputation float64) gardener.Candidate {
	return gardener.Candidate{
		MemberID:       id.NewMemberID(),
		Role:           role,
		Reputation:     reputation,
		ReviewAccuracy: accuracy,
		ResponseRate:   response,
	}
}

func TestSelectReviewersFallbackOrdering(t *testing.T) {
	sel := gardener.NewSelector(gardener.NewInMemoryStatsStore())

	bestApprover := candidate(models.RoleApprover, 0.9, 0.8, 5)
	weakApprover := candidate(models.RoleApprover, 0.5, 0.9, 9)
	topGardener := candidate(models.RoleGardener, 1.0, 1.0, 10)

	selections, err := sel.SelectReviewers(context.Background(), gardener.SelectionRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{topGardener, weakApprover, bestApprover},
		Required:   2,
	})
	require.NoError(t, err)
	require.Len(t, selections, 2)

	// Approvers outrank gardeners regardless of track record; accuracy breaks
	// the tie between approvers.
	assert.Equal(t, bestApprover.MemberID, selections[0].MemberID)
	assert.Equal(t, weakApprover.MemberID, selections[1].MemberID)
	assert.Equal(t, 1, selections[0].Rank)
	assert.Contains(t, selections[0].Reason, gardener.StrategyFallback)
}

func TestSelectReviewersLeastRecentlySelectedBreaksTies(t *testing.T) {
	stats := gardener.NewInMemoryStatsStore()
	sel := gardener.NewSelector(stats)

	a := candidate(models.RoleApprover, 0.8, 0.8, 5)
	b := candidate(models.RoleApprover, 0.8, 0.8, 5)
	require.NoError(t, stats.MarkSelected(context.Background(), a.MemberID, time.Now()))
	a.LastSelectedAt = time.Now()

	selections, err := sel.SelectReviewers(context.Background(), gardener.SelectionRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{a, b},
		Required:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, b.MemberID, selections[0].MemberID, "never-selected candidate should win the tie")
}

func TestSelectReviewersUsesScorerWhenAvailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	scorer := mocks.NewMockScorer(ctrl)
	sel := gardener.NewSelector(gardener.NewInMemoryStatsStore(), gardener.WithScorer(scorer))

	low := candidate(models.RoleApprover, 0.9, 0.9, 9)
	high := candidate(models.RoleGardener, 0.1, 0.1, 1)

	scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(map[id.MemberID]float64{
		low.MemberID:  0.2,
		high.MemberID: 0.9,
	}, nil)

	selections, err := sel.SelectReviewers(context.Background(), gardener.SelectionRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{low, high},
		Required:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, high.MemberID, selections[0].MemberID)
	assert.Contains(t, selections[0].Reason, gardener.StrategyScorer)
}

func TestSelectReviewersFallsBackOnScorerFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	scorer := mocks.NewMockScorer(ctrl)
	sel := gardener.NewSelector(gardener.NewInMemoryStatsStore(), gardener.WithScorer(scorer))

	best := candidate(models.RoleApprover, 0.9, 0.9, 9)
	other := candidate(models.RoleApprover, 0.1, 0.1, 1)

	scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(nil, errors.New("scorer down"))

	selections, err := sel.SelectReviewers(context.Background(), gardener.SelectionRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{other, best},
		Required:   1,
	})
	require.NoError(t, err, "scorer failure must never surface to the caller")
	assert.Equal(t, best.MemberID, selections[0].MemberID)
	assert.Contains(t, selections[0].Reason, gardener.StrategyFallback)
}

func TestSelectReviewersInsufficientPool(t *testing.T) {
	sel := gardener.NewSelector(gardener.NewInMemoryStatsStore())

	_, err := sel.SelectReviewers(context.Background(), gardener.SelectionRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{candidate(models.RoleApprover, 0.5, 0.5, 5)},
		Required:   3,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestSelectionMarksReviewersSelected(t *testing.T) {
	stats := gardener.NewInMemoryStatsStore()
	sel := gardener.NewSelector(stats)

	c := candidate(models.RoleApprover, 0.5, 0.5, 5)
	_, err := sel.SelectReviewers(context.Background(), gardener.SelectionRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{c},
		Required:   1,
	})
	require.NoError(t, err)

	st, err := stats.Get(context.Background(), c.MemberID)
	require.NoError(t, err)
	assert.False(t, st.LastSelectedAt.IsZero())
}

func TestPoolBuilderUsesReviewEligibility(t *testing.T) {
	ctx := context.Background()
	zones := store.NewInMemoryZoneStore()
	assignments := store.NewInMemoryAssignmentStore()
	stats := gardener.NewInMemoryStatsStore()
	reputations := member.NewInMemoryReputationStore()
	builder := gardener.NewPoolBuilder(resolver.New(zones, assignments), stats, reputations)

	orgID := id.NewOrgID()
	root := &models.TrustZone{
		ID: id.NewZoneID(), OrgID: orgID, Name: "root", Slug: "root", Status: models.StatusActive,
	}
	child := &models.TrustZone{
		ID: id.NewZoneID(), OrgID: orgID, ParentID: root.ID, Name: "child", Slug: "child",
		Status: models.StatusActive,
	}
	require.NoError(t, zones.CreateIfSlugAvailable(ctx, root))
	require.NoError(t, zones.CreateIfSlugAvailable(ctx, child))

	approver := id.NewMemberID()
	ancestor := id.NewMemberID()
	dual := id.NewMemberID()
	conflicted := id.NewMemberID()
	executor := id.NewMemberID()

	for _, a := range []*models.ZoneAssignment{
		{ID: id.NewAssignmentID(), ZoneID: child.ID, MemberID: approver, Role: models.RoleApprover},
		{ID: id.NewAssignmentID(), ZoneID: root.ID, MemberID: ancestor, Role: models.RoleApprover},
		{ID: id.NewAssignmentID(), ZoneID: child.ID, MemberID: dual, Role: models.RoleGardener},
		{ID: id.NewAssignmentID(), ZoneID: child.ID, MemberID: dual, Role: models.RoleApprover},
		{ID: id.NewAssignmentID(), ZoneID: child.ID, MemberID: conflicted, Role: models.RoleApprover},
		{ID: id.NewAssignmentID(), ZoneID: child.ID, MemberID: executor, Role: models.RoleExecutor},
	} {
		require.NoError(t, assignments.Create(ctx, a))
	}

	pool, err := builder.Build(ctx, child.ID, map[id.MemberID]bool{conflicted: true})
	require.NoError(t, err)
	require.Len(t, pool, 3)

	roles := map[id.MemberID]models.Role{}
	for _, c := range pool {
		roles[c.MemberID] = c.Role
	}
	assert.Equal(t, models.RoleApprover, roles[approver])
	assert.Equal(t, models.RoleApprover, roles[ancestor], "approver held on an ancestor reviews in the child")
	assert.Equal(t, models.RoleApprover, roles[dual], "member holding both roles counts as approver")
	assert.NotContains(t, roles, conflicted)
	assert.NotContains(t, roles, executor)
}

func TestPoolBuilderEmptyWhenConstraintsBlockReview(t *testing.T) {
	ctx := context.Background()
	zones := store.NewInMemoryZoneStore()
	assignments := store.NewInMemoryAssignmentStore()
	builder := gardener.NewPoolBuilder(resolver.New(zones, assignments),
		gardener.NewInMemoryStatsStore(), member.NewInMemoryReputationStore())

	locked := &models.TrustZone{
		ID: id.NewZoneID(), OrgID: id.NewOrgID(), Name: "locked", Slug: "locked",
		Status:      models.StatusActive,
		Constraints: &models.Constraints{BlockedActions: []string{"proposal.review"}},
	}
	require.NoError(t, zones.CreateIfSlugAvailable(ctx, locked))
	require.NoError(t, assignments.Create(ctx, &models.ZoneAssignment{
		ID: id.NewAssignmentID(), ZoneID: locked.ID, MemberID: id.NewMemberID(), Role: models.RoleApprover,
	}))

	pool, err := builder.Build(ctx, locked.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, pool, "a zone whose constraints block review has no candidates")
}
