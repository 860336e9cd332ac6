package store

import (
	"context"
	"sync"
	"time"

	"arbor/internal/proposal/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
)

// InMemoryProposalStore keeps proposals in a map. Used in tests. The version
// check mirrors the postgres store so concurrency tests exercise the same
// conflict path.
type InMemoryProposalStore struct {
	mu        sync.RWMutex
	proposals map[id.ProposalID]*models.Proposal
}

func NewInMemoryProposalStore() *InMemoryProposalStore {
	return &InMemoryProposalStore{proposals: make(map[id.ProposalID]*models.Proposal)}
}

func (s *InMemoryProposalStore) Create(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *InMemoryProposalStore) Update(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.proposals[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != p.Version {
		return sentinel.ErrVersionConflict
	}
	cp := *p
	cp.Version++
	s.proposals[p.ID] = &cp
	p.Version = cp.Version
	return nil
}

func (s *InMemoryProposalStore) FindByID(_ context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryProposalStore) ListByZone(_ context.Context, zoneID id.ZoneID) ([]*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Proposal
	for _, p := range s.proposals {
		if p.ZoneID == zoneID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryProposalStore) CountByZone(_ context.Context, zoneID id.ZoneID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.proposals {
		if p.ZoneID == zoneID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryProposalStore) ListExpiredPending(_ context.Context, now time.Time) ([]*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Proposal
	for _, p := range s.proposals {
		if p.Status == models.StatusPendingReview && p.ExpiresAt.Before(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryApprovalStore keeps approval requests in a slice. Used in tests.
type InMemoryApprovalStore struct {
	mu       sync.RWMutex
	requests []*models.ApprovalRequest
}

func NewInMemoryApprovalStore() *InMemoryApprovalStore {
	return &InMemoryApprovalStore{}
}

func (s *InMemoryApprovalStore) CreateBatch(_ context.Context, requests []*models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range requests {
		cp := *r
		s.requests = append(s.requests, &cp)
	}
	return nil
}

func (s *InMemoryApprovalStore) Update(_ context.Context, r *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.requests {
		if existing.ID == r.ID {
			cp := *r
			s.requests[i] = &cp
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryApprovalStore) ListByProposal(_ context.Context, proposalID id.ProposalID) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApprovalRequest
	for _, r := range s.requests {
		if r.ProposalID == proposalID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryApprovalStore) FindByProposalReviewer(_ context.Context, proposalID id.ProposalID, reviewerID id.MemberID) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.ProposalID == proposalID && r.ReviewerID == reviewerID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}
