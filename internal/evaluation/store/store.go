// Package store persists evaluations, score entries, and incentive signals.
package store

import (
	"context"

	"arbor/internal/evaluation/models"
	id "arbor/pkg/domain"
)

// EvaluationStore persists evaluation records.
type EvaluationStore interface {
	Create(ctx context.Context, e *models.Evaluation) error
	Update(ctx context.Context, e *models.Evaluation) error
	FindByID(ctx context.Context, evaluationID id.EvaluationID) (*models.Evaluation, error)
	ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Evaluation, error)
}

// ScoreStore persists score entries. Entries are append-only.
type ScoreStore interface {
	Append(ctx context.Context, entry *models.ScoreEntry) error
	ListByEvaluation(ctx context.Context, evaluationID id.EvaluationID) ([]*models.ScoreEntry, error)
}

// SignalStore persists incentive signals. Signals are created unapplied in
// the finalizing transaction; MarkApplied flips the flag in the separate
// application transaction and is a no-op for already-applied signals.
type SignalStore interface {
	CreateBatch(ctx context.Context, signals []*models.IncentiveSignal) error
	FindByID(ctx context.Context, signalID id.SignalID) (*models.IncentiveSignal, error)
	ListUnapplied(ctx context.Context, limit int) ([]*models.IncentiveSignal, error)
	MarkApplied(ctx context.Context, signalID id.SignalID) (bool, error)
}
