package store

import (
	"context"
	"sync"
	"time"

	"arbor/internal/evaluation/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
)

// InMemoryEvaluationStore keeps evaluations in a map. Used in tests.
type InMemoryEvaluationStore struct {
	mu          sync.RWMutex
	evaluations map[id.EvaluationID]*models.Evaluation
}

func NewInMemoryEvaluationStore() *InMemoryEvaluationStore {
	return &InMemoryEvaluationStore{evaluations: make(map[id.EvaluationID]*models.Evaluation)}
}

func (s *InMemoryEvaluationStore) Create(_ context.Context, e *models.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluations[e.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *e
	s.evaluations[e.ID] = &cp
	return nil
}

func (s *InMemoryEvaluationStore) Update(_ context.Context, e *models.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluations[e.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *e
	s.evaluations[e.ID] = &cp
	return nil
}

func (s *InMemoryEvaluationStore) FindByID(_ context.Context, evaluationID id.EvaluationID) (*models.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evaluations[evaluationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *InMemoryEvaluationStore) ListByZone(_ context.Context, zoneID id.ZoneID) ([]*models.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Evaluation
	for _, e := range s.evaluations {
		if e.ZoneID == zoneID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryScoreStore keeps score entries in a slice. Used in tests.
type InMemoryScoreStore struct {
	mu      sync.RWMutex
	entries []*models.ScoreEntry
}

func NewInMemoryScoreStore() *InMemoryScoreStore {
	return &InMemoryScoreStore{}
}

func (s *InMemoryScoreStore) Append(_ context.Context, entry *models.ScoreEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemoryScoreStore) ListByEvaluation(_ context.Context, evaluationID id.EvaluationID) ([]*models.ScoreEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ScoreEntry
	for _, e := range s.entries {
		if e.EvaluationID == evaluationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemorySignalStore keeps incentive signals in a map. Used in tests.
type InMemorySignalStore struct {
	mu      sync.RWMutex
	signals map[id.SignalID]*models.IncentiveSignal
	order   []id.SignalID
	now     func() time.Time
}

func NewInMemorySignalStore() *InMemorySignalStore {
	return &InMemorySignalStore{
		signals: make(map[id.SignalID]*models.IncentiveSignal),
		now:     time.Now,
	}
}

func (s *InMemorySignalStore) CreateBatch(_ context.Context, signals []*models.IncentiveSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		if _, ok := s.signals[sig.ID]; ok {
			return sentinel.ErrAlreadyUsed
		}
		cp := *sig
		s.signals[sig.ID] = &cp
		s.order = append(s.order, sig.ID)
	}
	return nil
}

func (s *InMemorySignalStore) FindByID(_ context.Context, signalID id.SignalID) (*models.IncentiveSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

func (s *InMemorySignalStore) ListUnapplied(_ context.Context, limit int) ([]*models.IncentiveSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.IncentiveSignal
	for _, signalID := range s.order {
		sig := s.signals[signalID]
		if sig.Applied {
			continue
		}
		cp := *sig
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkApplied reports whether this call transitioned the signal; a second
// call for the same signal returns false so appliers stay idempotent.
func (s *InMemorySignalStore) MarkApplied(_ context.Context, signalID id.SignalID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if sig.Applied {
		return false, nil
	}
	sig.Applied = true
	sig.AppliedAt = s.now()
	return true, nil
}
