package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"arbor/internal/member"
	"arbor/internal/zone/models"
	"arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type ResolverSuite struct {
	suite.Suite

	zones       *store.InMemoryZoneStore
	assignments *store.InMemoryAssignmentStore
	resolver    *Resolver

	orgID id.OrgID
	root  *models.TrustZone
	child *models.TrustZone
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.zones = store.NewInMemoryZoneStore()
	s.assignments = store.NewInMemoryAssignmentStore()
	s.resolver = New(s.zones, s.assignments)
	s.orgID = id.NewOrgID()

	s.root = s.addZone("root", id.ZoneID{}, models.StatusActive, nil, nil)
	s.child = s.addZone("child", s.root.ID, models.StatusActive, nil, nil)
}

func (s *ResolverSuite) addZone(slug string, parent id.ZoneID, status models.Status, scope *models.ResourceScope, constraints *models.Constraints) *models.TrustZone {
	z := &models.TrustZone{
		ID:            id.NewZoneID(),
		OrgID:         s.orgID,
		ParentID:      parent,
		Name:          slug,
		Slug:          slug,
		Status:        status,
		ResourceScope: scope,
		Constraints:   constraints,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.Require().NoError(s.zones.CreateIfSlugAvailable(context.Background(), z))
	return z
}

func (s *ResolverSuite) assign(zoneID id.ZoneID, memberID id.MemberID, role models.Role) {
	s.Require().NoError(s.assignments.Create(context.Background(), &models.ZoneAssignment{
		ID:       id.NewAssignmentID(),
		ZoneID:   zoneID,
		MemberID: memberID,
		Role:     role,
	}))
}

func (s *ResolverSuite) actor(role member.OrgRole) Actor {
	return Actor{MemberID: id.NewMemberID(), OrgID: s.orgID, OrgRole: role}
}

func (s *ResolverSuite) resolve(actor Actor, zoneID id.ZoneID, action string) Decision {
	d, err := s.resolver.Resolve(context.Background(), actor, zoneID, action, models.ResourceContext{})
	s.Require().NoError(err)
	return d
}

func (s *ResolverSuite) TestNoAssignmentNoOrgFallbackDenied() {
	d := s.resolve(s.actor(""), s.child.ID, "task.create")
	s.False(d.Allowed)
	s.NotEmpty(d.Reason)
}

func (s *ResolverSuite) TestDirectAssignmentGrants() {
	actor := s.actor(member.RoleMember)
	s.assign(s.child.ID, actor.MemberID, models.RoleExecutor)

	d := s.resolve(actor, s.child.ID, "task.create")
	s.True(d.Allowed)
	s.Equal(models.RoleExecutor, d.Role)
	s.Equal(s.child.ID, d.SourceZone)
}

func (s *ResolverSuite) TestAncestorAssignmentGrants() {
	actor := s.actor("")
	s.assign(s.root.ID, actor.MemberID, models.RoleApprover)

	d := s.resolve(actor, s.child.ID, "proposal.review")
	s.True(d.Allowed)
	s.Equal(s.root.ID, d.SourceZone)
}

func (s *ResolverSuite) TestRolePermissionBoundaries() {
	actor := s.actor("")
	s.assign(s.child.ID, actor.MemberID, models.RoleEvaluator)

	s.True(s.resolve(actor, s.child.ID, "evaluation.submit").Allowed)
	s.False(s.resolve(actor, s.child.ID, "proposal.approve").Allowed)
}

func (s *ResolverSuite) TestOrgAdminBypassesZoneRoles() {
	d := s.resolve(s.actor(member.RoleAdmin), s.child.ID, "proposal.approve")
	s.True(d.Allowed)

	// Owner wildcard covers actions admins do not have.
	s.False(s.resolve(s.actor(member.RoleAdmin), s.child.ID, "org.billing").Allowed)
	s.True(s.resolve(s.actor(member.RoleOwner), s.child.ID, "org.billing").Allowed)
}

func (s *ResolverSuite) TestSuspendedZoneDeniesMutationsAllowsReads() {
	suspended := s.addZone("suspended", s.root.ID, models.StatusSuspended, nil, nil)
	admin := s.actor(member.RoleAdmin)

	s.False(s.resolve(admin, suspended.ID, "task.create").Allowed)
	s.True(s.resolve(admin, suspended.ID, "zone.read").Allowed)
}

func (s *ResolverSuite) TestAncestorConstraintsIntersected() {
	blocked := s.addZone("locked", s.root.ID, models.StatusActive,
		nil, &models.Constraints{BlockedActions: []string{"task.create"}})
	leaf := s.addZone("leaf", blocked.ID, models.StatusActive, nil, nil)

	actor := s.actor("")
	s.assign(leaf.ID, actor.MemberID, models.RoleExecutor)

	d := s.resolve(actor, leaf.ID, "task.create")
	s.False(d.Allowed)
	s.Contains(d.Reason, "locked")

	s.True(s.resolve(actor, leaf.ID, "task.update").Allowed)
}

func (s *ResolverSuite) TestResourceScopeCheckedAlongChain() {
	budget := 100.0
	scoped := s.addZone("scoped", s.root.ID, models.StatusActive,
		&models.ResourceScope{BudgetLimit: &budget}, nil)

	actor := s.actor("")
	s.assign(scoped.ID, actor.MemberID, models.RoleExecutor)

	over := 250.0
	d, err := s.resolver.Resolve(context.Background(), actor, scoped.ID, "task.create",
		models.ResourceContext{BudgetAmount: &over})
	s.Require().NoError(err)
	s.False(d.Allowed)

	under := 50.0
	d, err = s.resolver.Resolve(context.Background(), actor, scoped.ID, "task.create",
		models.ResourceContext{BudgetAmount: &under})
	s.Require().NoError(err)
	s.True(d.Allowed)
}

func (s *ResolverSuite) TestCyclicAncestryIsInvariantViolation() {
	a := s.addZone("cyc-a", id.ZoneID{}, models.StatusActive, nil, nil)
	b := s.addZone("cyc-b", a.ID, models.StatusActive, nil, nil)

	// Corrupt the tree directly; the write path would reject this.
	a.ParentID = b.ID
	s.Require().NoError(s.zones.Update(context.Background(), a))

	_, err := s.resolver.Resolve(context.Background(), s.actor(member.RoleAdmin), b.ID, "zone.read", models.ResourceContext{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ResolverSuite) TestUnknownZoneNotFound() {
	_, err := s.resolver.Resolve(context.Background(), s.actor(member.RoleAdmin), id.NewZoneID(), "zone.read", models.ResourceContext{})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ResolverSuite) TestReviewerRolesWalkAncestry() {
	rootApprover := id.NewMemberID()
	childGardener := id.NewMemberID()
	evaluator := id.NewMemberID()
	s.assign(s.root.ID, rootApprover, models.RoleApprover)
	s.assign(s.child.ID, childGardener, models.RoleGardener)
	s.assign(s.child.ID, evaluator, models.RoleEvaluator)

	roles, err := s.resolver.ReviewerRoles(context.Background(), s.child.ID)
	s.Require().NoError(err)
	s.Len(roles, 2)
	s.Equal(models.RoleApprover, roles[rootApprover], "ancestor approver reviews in descendants")
	s.Equal(models.RoleGardener, roles[childGardener])
	s.NotContains(roles, evaluator, "evaluators hold no review permission")
}

func (s *ResolverSuite) TestReviewerRolesNearestAssignmentWins() {
	memberID := id.NewMemberID()
	s.assign(s.root.ID, memberID, models.RoleApprover)
	s.assign(s.child.ID, memberID, models.RoleGardener)

	roles, err := s.resolver.ReviewerRoles(context.Background(), s.child.ID)
	s.Require().NoError(err)
	s.Equal(models.RoleGardener, roles[memberID])
}

func (s *ResolverSuite) TestReviewerRolesEmptyWhenConstraintsBlockReview() {
	locked := s.addZone("review-locked", s.root.ID, models.StatusActive,
		nil, &models.Constraints{BlockedActions: []string{"proposal.review"}})
	s.assign(locked.ID, id.NewMemberID(), models.RoleApprover)
	s.assign(s.root.ID, id.NewMemberID(), models.RoleApprover)

	roles, err := s.resolver.ReviewerRoles(context.Background(), locked.ID)
	s.Require().NoError(err)
	s.Empty(roles, "blocked proposal.review leaves no eligible reviewers")
}
