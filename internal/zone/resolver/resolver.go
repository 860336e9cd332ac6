// Package resolver answers "may this actor perform this action in this zone".
// Permissions are zone-scoped through role assignments; an org-admin fallback
// always applies; ancestor constraints are re-intersected defensively even
// though narrowing is validated at write time.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"arbor/internal/member"
	zonemetrics "arbor/internal/zone/metrics"
	"arbor/internal/zone/models"
	"arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
	"arbor/pkg/platform/sentinel"
)

// maxTreeDepth bounds the ancestry walk. Cycles are rejected at write time;
// hitting this limit means the tree is corrupt.
const maxTreeDepth = 64

// Zone-scoped permissions by role.
var zoneRolePermissions = map[models.Role][]string{
	models.RoleExecutor:  {"zone.read", "zone.execute", "task.create", "task.update"},
	models.RoleApprover:  {"zone.read", "proposal.review", "proposal.approve", "proposal.reject", "escalation.resolve"},
	models.RoleEvaluator: {"zone.read", "evaluation.create", "evaluation.submit"},
	models.RoleGardener:  {"zone.read", "zone.write", "proposal.review", "reviewer.select"},
}

// Organization-level permissions by org role. Owner is a wildcard.
var orgRolePermissions = map[member.OrgRole][]string{
	member.RoleOwner: {"*"},
	member.RoleAdmin: {
		"zone.read", "zone.write", "zone.create", "zone.archive", "zone.assign",
		"proposal.create", "proposal.review", "proposal.approve", "proposal.reject",
		"escalation.trigger", "escalation.resolve",
		"evaluation.create", "evaluation.submit",
		"reviewer.select", "audit.read",
	},
	member.RoleMember: {"zone.read", "proposal.create", "escalation.trigger"},
}

// Actor is the identity a permission question is asked about.
type Actor struct {
	MemberID id.MemberID
	OrgID    id.OrgID
	OrgRole  member.OrgRole
}

// Decision is the resolver's answer. Reason is always populated on deny and
// describes the grant on allow.
type Decision struct {
	Allowed    bool
	Reason     string
	Role       models.Role // zone role that granted access, empty for org grants
	SourceZone id.ZoneID   // zone whose assignment granted access
}

func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }
func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }

// Resolver evaluates actions against the zone tree.
type Resolver struct {
	zones       store.ZoneStore
	assignments store.AssignmentStore
	metrics     *zonemetrics.Metrics
}

type Option func(*Resolver)

func WithMetrics(m *zonemetrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func New(zones store.ZoneStore, assignments store.AssignmentStore, opts ...Option) *Resolver {
	r := &Resolver{zones: zones, assignments: assignments}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks whether the actor may perform the action in the zone.
// Resource bounds are checked when the action carries a resource context.
func (r *Resolver) Resolve(ctx context.Context, actor Actor, zoneID id.ZoneID, action string, resource models.ResourceContext) (Decision, error) {
	start := time.Now()
	decision, err := r.resolve(ctx, actor, zoneID, action, resource)
	if err == nil && r.metrics != nil {
		r.metrics.ObserveResolve(start, decision.Allowed)
	}
	return decision, err
}

func (r *Resolver) resolve(ctx context.Context, actor Actor, zoneID id.ZoneID, action string, resource models.ResourceContext) (Decision, error) {
	if actor.MemberID.IsNil() {
		return deny("actor identity required"), nil
	}
	if zoneID.IsNil() {
		return Decision{}, dErrors.New(dErrors.CodeBadRequest, "zone ID required")
	}

	chain, err := r.ancestryChain(ctx, zoneID)
	if err != nil {
		return Decision{}, err
	}
	zone := chain[0]

	// Suspended and archived zones stay readable but reject mutations for
	// everyone, org admins included.
	if !zone.AllowsMutation() && isMutating(action) {
		return deny("zone is " + string(zone.Status) + " and rejects mutating actions"), nil
	}

	// Org owner and admin bypass zone role checks but not zone status.
	if granted(orgRolePermissions[actor.OrgRole], action) {
		return allow("granted by organization role " + string(actor.OrgRole)), nil
	}

	// Defensive re-intersection of the constraint chain. Blocked anywhere in
	// the ancestry wins; any allow-list in the ancestry must contain the action.
	for _, z := range chain {
		if !z.Constraints.Allows(action) {
			return deny("action blocked by constraints of zone " + z.Slug), nil
		}
	}
	for _, z := range chain {
		if ok, reason := z.ResourceScope.Check(resource); !ok {
			return deny(reason), nil
		}
	}

	// Nearest assignment wins: direct zone first, then ancestors upward.
	for _, z := range chain {
		assignments, err := r.assignments.FindByZoneMember(ctx, z.ID, actor.MemberID)
		if err != nil {
			return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load zone assignments")
		}
		for _, a := range assignments {
			if granted(zoneRolePermissions[a.Role], action) {
				return Decision{
					Allowed:    true,
					Reason:     "granted by role " + string(a.Role) + " in zone " + z.Slug,
					Role:       a.Role,
					SourceZone: z.ID,
				}, nil
			}
		}
	}

	return deny("no role grants action " + action), nil
}

// ReviewerRoles returns every member who may review proposals in the zone,
// mapped to the role that grants review. Assignments on ancestors count and
// the nearest one wins; within a zone an approver assignment beats a gardener
// one. A constraint anywhere in the ancestry that blocks proposal.review
// empties the pool. Reviewer selection builds its candidate pool from this.
func (r *Resolver) ReviewerRoles(ctx context.Context, zoneID id.ZoneID) (map[id.MemberID]models.Role, error) {
	chain, err := r.ancestryChain(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	for _, z := range chain {
		if !z.Constraints.Allows("proposal.review") {
			return nil, nil
		}
	}

	eligible := map[id.MemberID]models.Role{}
	for _, z := range chain {
		assignments, err := r.assignments.ListByZone(ctx, z.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load zone assignments")
		}
		zoneRoles := map[id.MemberID]models.Role{}
		for _, a := range assignments {
			if !granted(zoneRolePermissions[a.Role], "proposal.review") {
				continue
			}
			if existing, ok := zoneRoles[a.MemberID]; ok && existing == models.RoleApprover {
				continue
			}
			zoneRoles[a.MemberID] = a.Role
		}
		for m, role := range zoneRoles {
			if _, ok := eligible[m]; !ok {
				eligible[m] = role
			}
		}
	}
	return eligible, nil
}

// ancestryChain returns the zone and its ancestors, nearest first.
func (r *Resolver) ancestryChain(ctx context.Context, zoneID id.ZoneID) ([]*models.TrustZone, error) {
	var chain []*models.TrustZone
	visited := map[id.ZoneID]bool{}

	current := zoneID
	for !current.IsNil() {
		if len(chain) >= maxTreeDepth || visited[current] {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "cycle or over-deep chain in zone ancestry")
		}
		visited[current] = true
		z, err := r.zones.FindByID(ctx, current)
		if err != nil {
			if len(chain) == 0 && isNotFound(err) {
				return nil, dErrors.New(dErrors.CodeNotFound, "zone not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load zone ancestry")
		}
		chain = append(chain, z)
		current = z.ParentID
	}
	return chain, nil
}

func granted(permissions []string, action string) bool {
	for _, p := range permissions {
		if p == "*" || p == action {
			return true
		}
	}
	return false
}

// isMutating treats read and audit-trail actions as safe; everything else
// changes state.
func isMutating(action string) bool {
	return !strings.HasSuffix(action, ".read") && !strings.HasSuffix(action, ".view")
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound)
}
