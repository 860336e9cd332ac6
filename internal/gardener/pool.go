package gardener

import (
	"context"

	"arbor/internal/member"
	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// ReviewEligibility lists the members allowed to review proposals in a zone.
// The permission resolver implements it, so the pool reflects ancestor-held
// roles and zone constraints rather than raw assignment rows.
type ReviewEligibility interface {
	ReviewerRoles(ctx context.Context, zoneID id.ZoneID) (map[id.MemberID]models.Role, error)
}

// PoolBuilder assembles the candidate pool for a zone: members eligible to
// review there, minus excluded (conflicted) members, enriched with the track
// record the ranking needs.
type PoolBuilder struct {
	eligibility ReviewEligibility
	stats       StatsStore
	reputations member.ReputationStore
}

func NewPoolBuilder(eligibility ReviewEligibility, stats StatsStore, reputations member.ReputationStore) *PoolBuilder {
	return &PoolBuilder{eligibility: eligibility, stats: stats, reputations: reputations}
}

// Build returns the review-eligible candidates for the zone.
func (b *PoolBuilder) Build(ctx context.Context, zoneID id.ZoneID, exclude map[id.MemberID]bool) ([]Candidate, error) {
	roleByMember, err := b.eligibility.ReviewerRoles(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	for m := range roleByMember {
		if exclude[m] {
			delete(roleByMember, m)
		}
	}
	if len(roleByMember) == 0 {
		return nil, nil
	}

	memberIDs := make([]id.MemberID, 0, len(roleByMember))
	for m := range roleByMember {
		memberIDs = append(memberIDs, m)
	}
	stats, err := b.stats.GetMany(ctx, memberIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reviewer stats")
	}

	candidates := make([]Candidate, 0, len(memberIDs))
	for _, m := range memberIDs {
		rep, err := b.reputations.Get(ctx, m)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reputation")
		}
		st := stats[m]
		candidates = append(candidates, Candidate{
			MemberID:        m,
			Role:            roleByMember[m],
			Reputation:      rep.Score,
			ReviewAccuracy:  st.Accuracy(),
			ResponseRate:    st.ResponseRate(),
			PastReviewCount: st.ReviewCount,
			LastSelectedAt:  st.LastSelectedAt,
		})
	}
	return candidates, nil
}
