// Package store persists trust zones and their role assignments.
package store

import (
	"context"

	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
)

// ZoneStore persists trust zones. Implementations return sentinel errors so
// the service layer translates them into domain errors exactly once.
type ZoneStore interface {
	CreateIfSlugAvailable(ctx context.Context, zone *models.TrustZone) error
	Update(ctx context.Context, zone *models.TrustZone) error
	FindByID(ctx context.Context, zoneID id.ZoneID) (*models.TrustZone, error)
	FindBySlug(ctx context.Context, orgID id.OrgID, slug string) (*models.TrustZone, error)
	ListByOrg(ctx context.Context, orgID id.OrgID) ([]*models.TrustZone, error)
	ListChildren(ctx context.Context, zoneID id.ZoneID) ([]*models.TrustZone, error)
	Delete(ctx context.Context, zoneID id.ZoneID) error
}

// AssignmentStore persists zone role assignments.
type AssignmentStore interface {
	Create(ctx context.Context, a *models.ZoneAssignment) error
	Remove(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID, role models.Role) error
	ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.ZoneAssignment, error)
	ListByZoneRole(ctx context.Context, zoneID id.ZoneID, role models.Role) ([]*models.ZoneAssignment, error)
	ListByMember(ctx context.Context, memberID id.MemberID) ([]*models.ZoneAssignment, error)
	FindByZoneMember(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID) ([]*models.ZoneAssignment, error)
}
