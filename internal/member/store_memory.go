package member

import (
	"context"
	"sync"
	"time"

	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
)

// InMemoryStore keeps members in a map. Used in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	members map[id.MemberID]*Member
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{members: make(map[id.MemberID]*Member)}
}

func (s *InMemoryStore) Create(_ context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[m.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, memberID id.MemberID) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) ListByOrg(_ context.Context, orgID id.OrgID) ([]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Member
	for _, m := range s.members {
		if m.OrgID == orgID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryReputationStore keeps reputation records in a map. Used in tests.
type InMemoryReputationStore struct {
	mu      sync.Mutex
	records map[id.MemberID]*Reputation
	now     func() time.Time
}

func NewInMemoryReputationStore() *InMemoryReputationStore {
	return &InMemoryReputationStore{
		records: make(map[id.MemberID]*Reputation),
		now:     time.Now,
	}
}

func (s *InMemoryReputationStore) Get(_ context.Context, memberID id.MemberID) (*Reputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.get(memberID)
	cp := *rep
	return &cp, nil
}

func (s *InMemoryReputationStore) Adjust(_ context.Context, memberID id.MemberID, delta float64) (*Reputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.get(memberID)
	rep.Score = Clamp(rep.Score + delta)
	rep.UpdatedAt = s.now()
	cp := *rep
	return &cp, nil
}

func (s *InMemoryReputationStore) get(memberID id.MemberID) *Reputation {
	rep, ok := s.records[memberID]
	if !ok {
		rep = &Reputation{MemberID: memberID}
		s.records[memberID] = rep
	}
	return rep
}
