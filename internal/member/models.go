package member

import (
	"time"

	id "arbor/pkg/domain"
)

// OrgRole is the organization-level role used as the resolver's fallback when
// an actor holds no zone assignment anywhere on the ancestry path.
type OrgRole string

const (
	RoleOwner  OrgRole = "owner"
	RoleAdmin  OrgRole = "admin"
	RoleMember OrgRole = "member"
)

// Member is an organization member (human or agent) that can hold zone
// assignments, author proposals, and accrue reputation.
type Member struct {
	ID          id.MemberID
	OrgID       id.OrgID
	Role        OrgRole
	DisplayName string
	CreatedAt   time.Time
}

// Reputation score bounds. Incentive signals are clamped into this range.
const (
	MinReputation = 0.0
	MaxReputation = 10.0
)

// Reputation is the per-member record written by the evaluation engine and
// read by the gardener's fallback ranking. It is fetched and updated through
// the same transactional boundary as every other entity, never cached
// in-process.
type Reputation struct {
	MemberID  id.MemberID
	Score     float64
	UpdatedAt time.Time
}

// Clamp bounds a score into the valid reputation range.
func Clamp(score float64) float64 {
	if score < MinReputation {
		return MinReputation
	}
	if score > MaxReputation {
		return MaxReputation
	}
	return score
}
