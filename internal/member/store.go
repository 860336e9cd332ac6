package member

import (
	"context"

	id "arbor/pkg/domain"
)

// Store persists members.
type Store interface {
	Create(ctx context.Context, m *Member) error
	FindByID(ctx context.Context, memberID id.MemberID) (*Member, error)
	ListByOrg(ctx context.Context, orgID id.OrgID) ([]*Member, error)
}

// ReputationStore persists per-member reputation records.
type ReputationStore interface {
	// Get returns the member's reputation, creating a zero record on first read.
	Get(ctx context.Context, memberID id.MemberID) (*Reputation, error)
	// Adjust applies a delta to the member's score, clamped to the valid range,
	// and returns the updated record.
	Adjust(ctx context.Context, memberID id.MemberID, delta float64) (*Reputation, error)
}
