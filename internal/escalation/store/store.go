// Package store persists escalations and their co-signers.
package store

import (
	"context"
	"time"

	"arbor/internal/escalation/models"
	id "arbor/pkg/domain"
)

// EscalationStore persists escalation records. Implementations return
// sentinel.ErrNotFound for missing records and sentinel.ErrAlreadyUsed for
// duplicate inserts.
type EscalationStore interface {
	Create(ctx context.Context, e *models.Escalation) error
	Update(ctx context.Context, e *models.Escalation) error
	FindByID(ctx context.Context, escalationID id.EscalationID) (*models.Escalation, error)
	ListByTargetZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Escalation, error)
	// CountRaisedSince counts escalations a member raised from a source zone
	// after the cutoff. Feeds the rate limiter.
	CountRaisedSince(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID, since time.Time) (int, error)
	// ListPendingBefore returns non-terminal escalations created before the
	// cutoff. Feeds the stale-escalation sweep.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Escalation, error)
}

// CosignerStore persists co-signatures. Add returns sentinel.ErrAlreadyUsed
// when the (escalation, member) pair already exists; the service treats that
// as a no-op to keep co-signing idempotent.
type CosignerStore interface {
	Add(ctx context.Context, c *models.Cosigner) error
	Count(ctx context.Context, escalationID id.EscalationID) (int, error)
	List(ctx context.Context, escalationID id.EscalationID) ([]*models.Cosigner, error)
}
