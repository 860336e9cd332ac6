package store

import (
	"context"
	"sync"
	"time"

	"arbor/internal/escalation/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
)

// InMemoryEscalationStore keeps escalations in a map. Used in tests.
type InMemoryEscalationStore struct {
	mu          sync.RWMutex
	escalations map[id.EscalationID]*models.Escalation
}

func NewInMemoryEscalationStore() *InMemoryEscalationStore {
	return &InMemoryEscalationStore{escalations: make(map[id.EscalationID]*models.Escalation)}
}

func (s *InMemoryEscalationStore) Create(_ context.Context, e *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

func (s *InMemoryEscalationStore) Update(_ context.Context, e *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

func (s *InMemoryEscalationStore) FindByID(_ context.Context, escalationID id.EscalationID) (*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escalations[escalationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *InMemoryEscalationStore) ListByTargetZone(_ context.Context, zoneID id.ZoneID) ([]*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Escalation
	for _, e := range s.escalations {
		if e.TargetZoneID == zoneID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryEscalationStore) CountRaisedSince(_ context.Context, zoneID id.ZoneID, memberID id.MemberID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.escalations {
		if e.SourceZoneID == zoneID && e.RaisedBy == memberID && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryEscalationStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Escalation
	for _, e := range s.escalations {
		if !e.Status.Terminal() && e.CreatedAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryCosignerStore keeps co-signatures in a slice. Used in tests.
type InMemoryCosignerStore struct {
	mu       sync.RWMutex
	cosigner []*models.Cosigner
}

func NewInMemoryCosignerStore() *InMemoryCosignerStore {
	return &InMemoryCosignerStore{}
}

func (s *InMemoryCosignerStore) Add(_ context.Context, c *models.Cosigner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.cosigner {
		if existing.EscalationID == c.EscalationID && existing.MemberID == c.MemberID {
			return sentinel.ErrAlreadyUsed
		}
	}
	cp := *c
	s.cosigner = append(s.cosigner, &cp)
	return nil
}

func (s *InMemoryCosignerStore) Count(_ context.Context, escalationID id.EscalationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.cosigner {
		if c.EscalationID == escalationID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryCosignerStore) List(_ context.Context, escalationID id.EscalationID) ([]*models.Cosigner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Cosigner
	for _, c := range s.cosigner {
		if c.EscalationID == escalationID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}
