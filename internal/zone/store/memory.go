package store

import (
	"context"
	"strings"
	"sync"

	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
)

// InMemoryZoneStore keeps zones in a map. Used in tests.
type InMemoryZoneStore struct {
	mu    sync.RWMutex
	zones map[id.ZoneID]*models.TrustZone
}

func NewInMemoryZoneStore() *InMemoryZoneStore {
	return &InMemoryZoneStore{zones: make(map[id.ZoneID]*models.TrustZone)}
}

func (s *InMemoryZoneStore) CreateIfSlugAvailable(_ context.Context, zone *models.TrustZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range s.zones {
		if z.OrgID == zone.OrgID && strings.EqualFold(z.Slug, zone.Slug) {
			return sentinel.ErrAlreadyUsed
		}
	}
	cp := cloneZone(zone)
	s.zones[zone.ID] = cp
	return nil
}

func (s *InMemoryZoneStore) Update(_ context.Context, zone *models.TrustZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[zone.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.zones[zone.ID] = cloneZone(zone)
	return nil
}

func (s *InMemoryZoneStore) FindByID(_ context.Context, zoneID id.ZoneID) (*models.TrustZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[zoneID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneZone(z), nil
}

func (s *InMemoryZoneStore) FindBySlug(_ context.Context, orgID id.OrgID, slug string) (*models.TrustZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, z := range s.zones {
		if z.OrgID == orgID && strings.EqualFold(z.Slug, slug) {
			return cloneZone(z), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryZoneStore) ListByOrg(_ context.Context, orgID id.OrgID) ([]*models.TrustZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TrustZone
	for _, z := range s.zones {
		if z.OrgID == orgID {
			out = append(out, cloneZone(z))
		}
	}
	return out, nil
}

func (s *InMemoryZoneStore) ListChildren(_ context.Context, zoneID id.ZoneID) ([]*models.TrustZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TrustZone
	for _, z := range s.zones {
		if z.ParentID == zoneID {
			out = append(out, cloneZone(z))
		}
	}
	return out, nil
}

func (s *InMemoryZoneStore) Delete(_ context.Context, zoneID id.ZoneID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[zoneID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.zones, zoneID)
	return nil
}

func cloneZone(z *models.TrustZone) *models.TrustZone {
	cp := *z
	return &cp
}

// InMemoryAssignmentStore keeps assignments in a slice. Used in tests.
type InMemoryAssignmentStore struct {
	mu          sync.RWMutex
	assignments []*models.ZoneAssignment
}

func NewInMemoryAssignmentStore() *InMemoryAssignmentStore {
	return &InMemoryAssignmentStore{}
}

func (s *InMemoryAssignmentStore) Create(_ context.Context, a *models.ZoneAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.ZoneID == a.ZoneID && existing.MemberID == a.MemberID && existing.Role == a.Role {
			return sentinel.ErrAlreadyUsed
		}
	}
	cp := *a
	s.assignments = append(s.assignments, &cp)
	return nil
}

func (s *InMemoryAssignmentStore) Remove(_ context.Context, zoneID id.ZoneID, memberID id.MemberID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.ZoneID == zoneID && a.MemberID == memberID && a.Role == role {
			s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryAssignmentStore) ListByZone(_ context.Context, zoneID id.ZoneID) ([]*models.ZoneAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ZoneAssignment
	for _, a := range s.assignments {
		if a.ZoneID == zoneID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryAssignmentStore) ListByZoneRole(_ context.Context, zoneID id.ZoneID, role models.Role) ([]*models.ZoneAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ZoneAssignment
	for _, a := range s.assignments {
		if a.ZoneID == zoneID && a.Role == role {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryAssignmentStore) ListByMember(_ context.Context, memberID id.MemberID) ([]*models.ZoneAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ZoneAssignment
	for _, a := range s.assignments {
		if a.MemberID == memberID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryAssignmentStore) FindByZoneMember(_ context.Context, zoneID id.ZoneID, memberID id.MemberID) ([]*models.ZoneAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ZoneAssignment
	for _, a := range s.assignments {
		if a.ZoneID == zoneID && a.MemberID == memberID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
