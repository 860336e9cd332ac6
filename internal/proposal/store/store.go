// Package store persists proposals and approval requests.
package store

import (
	"context"
	"time"

	"arbor/internal/proposal/models"
	id "arbor/pkg/domain"
)

// ProposalStore persists proposals. Update enforces the optimistic version
// check: implementations match on (id, version), bump the version, and return
// sentinel.ErrVersionConflict when the row moved underneath the caller.
type ProposalStore interface {
	Create(ctx context.Context, p *models.Proposal) error
	Update(ctx context.Context, p *models.Proposal) error
	FindByID(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error)
	ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Proposal, error)
	CountByZone(ctx context.Context, zoneID id.ZoneID) (int, error)
	// ListExpiredPending returns pending proposals whose expiry passed.
	ListExpiredPending(ctx context.Context, now time.Time) ([]*models.Proposal, error)
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	CreateBatch(ctx context.Context, requests []*models.ApprovalRequest) error
	Update(ctx context.Context, r *models.ApprovalRequest) error
	ListByProposal(ctx context.Context, proposalID id.ProposalID) ([]*models.ApprovalRequest, error)
	FindByProposalReviewer(ctx context.Context, proposalID id.ProposalID, reviewerID id.MemberID) (*models.ApprovalRequest, error)
}
