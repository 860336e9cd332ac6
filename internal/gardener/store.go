package gardener

import (
	"context"
	"sync"
	"time"

	id "arbor/pkg/domain"
)

// StatsStore persists reviewer selection history. Get returns a zero record
// for members with no history.
type StatsStore interface {
	Get(ctx context.Context, memberID id.MemberID) (ReviewerStats, error)
	GetMany(ctx context.Context, memberIDs []id.MemberID) (map[id.MemberID]ReviewerStats, error)
	MarkSelected(ctx context.Context, memberID id.MemberID, at time.Time) error
	RecordOutcome(ctx context.Context, outcome ReviewOutcome, at time.Time) error
}

// InMemoryStatsStore keeps reviewer stats in a map. Used in tests.
type InMemoryStatsStore struct {
	mu    sync.RWMutex
	stats map[id.MemberID]ReviewerStats
}

func NewInMemoryStatsStore() *InMemoryStatsStore {
	return &InMemoryStatsStore{stats: make(map[id.MemberID]ReviewerStats)}
}

func (s *InMemoryStatsStore) Get(_ context.Context, memberID id.MemberID) (ReviewerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[memberID]
	if !ok {
		return ReviewerStats{MemberID: memberID}, nil
	}
	return st, nil
}

func (s *InMemoryStatsStore) GetMany(_ context.Context, memberIDs []id.MemberID) (map[id.MemberID]ReviewerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.MemberID]ReviewerStats, len(memberIDs))
	for _, m := range memberIDs {
		if st, ok := s.stats[m]; ok {
			out[m] = st
		} else {
			out[m] = ReviewerStats{MemberID: m}
		}
	}
	return out, nil
}

func (s *InMemoryStatsStore) MarkSelected(_ context.Context, memberID id.MemberID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[memberID]
	st.MemberID = memberID
	st.LastSelectedAt = at
	st.UpdatedAt = at
	s.stats[memberID] = st
	return nil
}

func (s *InMemoryStatsStore) RecordOutcome(_ context.Context, outcome ReviewOutcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[outcome.MemberID]
	st.MemberID = outcome.MemberID
	st.ReviewCount++
	if outcome.ReviewedInTime {
		st.InTimeCount++
	}
	if outcome.Overturned {
		st.OverturnedCount++
	}
	st.UpdatedAt = at
	s.stats[outcome.MemberID] = st
	return nil
}
