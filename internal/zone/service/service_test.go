package service

import (
	"context"
	"testing"

	"arbor/internal/audit"
	"arbor/internal/zone/models"
	"arbor/internal/zone/store"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

func newTestService() (*Service, *audit.InMemoryStore) {
	auditStore := audit.NewInMemoryStore()
	svc := New(
		store.NewInMemoryZoneStore(),
		store.NewInMemoryAssignmentStore(),
		audit.NewRecorder(auditStore),
	)
	return svc, auditStore
}

func TestCreateZoneValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	if _, err := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: ""}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := svc.CreateZone(ctx, creator, CreateZoneParams{Name: "Platform"}); err == nil {
		t.Fatalf("expected error for missing org ID")
	}

	zone, err := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Platform Team"})
	if err != nil {
		t.Fatalf("expected zone creation to succeed: %v", err)
	}
	if zone.Slug != "platform-team" {
		t.Fatalf("expected derived slug platform-team, got %s", zone.Slug)
	}
	if zone.Status != models.StatusDraft {
		t.Fatalf("expected draft status, got %s", zone.Status)
	}

	if _, err := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "platform team"}); err == nil {
		t.Fatalf("expected conflict for duplicate slug")
	}
}

func TestCreateZoneNarrowing(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	parentBudget := 1000.0
	parent, err := svc.CreateZone(ctx, creator, CreateZoneParams{
		OrgID: orgID,
		Name:  "Engineering",
		ResourceScope: &models.ResourceScope{
			AllowedBoards: []string{"eng", "infra"},
			BudgetLimit:   &parentBudget,
		},
		Constraints: &models.Constraints{BlockedActions: []string{"zone.archive"}},
	})
	if err != nil {
		t.Fatalf("unexpected error creating parent: %v", err)
	}

	wideBudget := 5000.0
	_, err = svc.CreateZone(ctx, creator, CreateZoneParams{
		OrgID:         orgID,
		ParentID:      parent.ID,
		Name:          "Infra",
		ResourceScope: &models.ResourceScope{AllowedBoards: []string{"infra"}, BudgetLimit: &wideBudget},
	})
	if !dErrors.HasCode(err, dErrors.CodeConstraintViolation) {
		t.Fatalf("expected constraint violation for wider budget, got %v", err)
	}

	_, err = svc.CreateZone(ctx, creator, CreateZoneParams{
		OrgID:       orgID,
		ParentID:    parent.ID,
		Name:        "Infra",
		Constraints: &models.Constraints{AllowedActions: []string{"task.create"}},
	})
	if !dErrors.HasCode(err, dErrors.CodeConstraintViolation) {
		t.Fatalf("expected constraint violation for unblocked parent action, got %v", err)
	}

	childBudget := 500.0
	child, err := svc.CreateZone(ctx, creator, CreateZoneParams{
		OrgID:         orgID,
		ParentID:      parent.ID,
		Name:          "Infra",
		ResourceScope: &models.ResourceScope{AllowedBoards: []string{"infra"}, BudgetLimit: &childBudget},
		Constraints:   &models.Constraints{BlockedActions: []string{"zone.archive", "zone.execute"}},
	})
	if err != nil {
		t.Fatalf("expected narrowing child to succeed: %v", err)
	}
	if child.ParentID != parent.ID {
		t.Fatalf("expected child parented under %s", parent.ID)
	}
}

func TestUpdateZoneRejectsWideningBeyondChildren(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	parent, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Parent"})
	_, err := svc.CreateZone(ctx, creator, CreateZoneParams{
		OrgID:       orgID,
		ParentID:    parent.ID,
		Name:        "Child",
		Constraints: &models.Constraints{BlockedActions: []string{"task.create"}},
	})
	if err != nil {
		t.Fatalf("unexpected error creating child: %v", err)
	}

	// Blocking an action in the parent that the child does not block breaks
	// narrowing from the child's side.
	_, err = svc.UpdateZone(ctx, parent.ID, creator, UpdateZoneParams{
		Constraints: &models.Constraints{BlockedActions: []string{"zone.execute"}},
	})
	if !dErrors.HasCode(err, dErrors.CodeConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestMoveZoneRejectsCycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	a, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "A"})
	b, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "B", ParentID: a.ID})
	c, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "C", ParentID: b.ID})

	if _, err := svc.MoveZone(ctx, a.ID, c.ID, creator); err == nil {
		t.Fatalf("expected cycle rejection moving root under grandchild")
	}
	if _, err := svc.MoveZone(ctx, a.ID, a.ID, creator); err == nil {
		t.Fatalf("expected rejection of self-parenting")
	}

	moved, err := svc.MoveZone(ctx, c.ID, a.ID, creator)
	if err != nil {
		t.Fatalf("expected legal move to succeed: %v", err)
	}
	if moved.ParentID != a.ID {
		t.Fatalf("expected C reparented under A")
	}
}

func TestStatusTransitionsAndCascade(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	parent, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Parent"})
	child, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Child", ParentID: parent.ID})

	if _, err := svc.ChangeStatus(ctx, child.ID, creator, models.StatusActive); err == nil {
		t.Fatalf("expected activation under draft parent to fail")
	}

	if _, err := svc.ChangeStatus(ctx, parent.ID, creator, models.StatusActive); err != nil {
		t.Fatalf("unexpected error activating parent: %v", err)
	}
	if _, err := svc.ChangeStatus(ctx, child.ID, creator, models.StatusActive); err != nil {
		t.Fatalf("unexpected error activating child: %v", err)
	}

	if _, err := svc.ChangeStatus(ctx, parent.ID, creator, models.StatusSuspended); err != nil {
		t.Fatalf("unexpected error suspending parent: %v", err)
	}
	got, _ := svc.GetZone(ctx, child.ID)
	if got.Status != models.StatusSuspended {
		t.Fatalf("expected suspension to cascade to child, got %s", got.Status)
	}

	if _, err := svc.ArchiveZone(ctx, parent.ID, creator); err != nil {
		t.Fatalf("unexpected error archiving parent: %v", err)
	}
	got, _ = svc.GetZone(ctx, child.ID)
	if got.Status != models.StatusArchived {
		t.Fatalf("expected archival to cascade to child, got %s", got.Status)
	}

	// Archived is terminal.
	if _, err := svc.ChangeStatus(ctx, parent.ID, creator, models.StatusActive); err == nil {
		t.Fatalf("expected reactivation of archived zone to fail")
	}
}

func TestDeleteZoneRequiresNoHistory(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	zone, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Ephemeral"})
	if _, err := svc.AssignRole(ctx, zone.ID, id.NewMemberID(), models.RoleExecutor, creator); err != nil {
		t.Fatalf("unexpected error assigning role: %v", err)
	}

	if err := svc.DeleteZone(ctx, zone.ID, creator); !dErrors.HasCode(err, dErrors.CodeConflict) {
		t.Fatalf("expected conflict deleting zone with assignments, got %v", err)
	}

	empty, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Empty"})
	if err := svc.DeleteZone(ctx, empty.ID, creator); err != nil {
		t.Fatalf("expected delete of empty zone to succeed: %v", err)
	}
	if _, err := svc.GetZone(ctx, empty.ID); !dErrors.HasCode(err, dErrors.CodeNotFound) {
		t.Fatalf("expected deleted zone to be gone, got %v", err)
	}
}

func TestAssignmentLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()
	memberID := id.NewMemberID()

	zone, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Ops"})

	if _, err := svc.AssignRole(ctx, zone.ID, memberID, models.Role("janitor"), creator); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	if _, err := svc.AssignRole(ctx, zone.ID, memberID, models.RoleApprover, creator); err != nil {
		t.Fatalf("unexpected error assigning role: %v", err)
	}
	if _, err := svc.AssignRole(ctx, zone.ID, memberID, models.RoleApprover, creator); !dErrors.HasCode(err, dErrors.CodeConflict) {
		t.Fatalf("expected duplicate assignment conflict")
	}

	assignments, err := svc.ListAssignments(ctx, zone.ID)
	if err != nil || len(assignments) != 1 {
		t.Fatalf("expected one assignment, got %d (err %v)", len(assignments), err)
	}

	if err := svc.RemoveRole(ctx, zone.ID, memberID, models.RoleApprover, creator); err != nil {
		t.Fatalf("unexpected error removing role: %v", err)
	}
	if err := svc.RemoveRole(ctx, zone.ID, memberID, models.RoleApprover, creator); !dErrors.HasCode(err, dErrors.CodeNotFound) {
		t.Fatalf("expected removing missing assignment to fail with not found")
	}
}

func TestAuditTrailWrittenForMutations(t *testing.T) {
	svc, auditStore := newTestService()
	ctx := context.Background()
	orgID := id.NewOrgID()
	creator := id.NewMemberID()

	zone, _ := svc.CreateZone(ctx, creator, CreateZoneParams{OrgID: orgID, Name: "Audited"})
	_, _ = svc.ChangeStatus(ctx, zone.ID, creator, models.StatusActive)
	_, _ = svc.AssignRole(ctx, zone.ID, id.NewMemberID(), models.RoleExecutor, creator)

	entries, err := auditStore.List(ctx, audit.Filter{OrgID: orgID})
	if err != nil {
		t.Fatalf("unexpected error listing audit trail: %v", err)
	}
	want := []string{audit.ActionZoneCreate, audit.ActionZoneStatusChange, audit.ActionAssignmentCreate}
	if len(entries) != len(want) {
		t.Fatalf("expected %d audit entries, got %d", len(want), len(entries))
	}
	for i, action := range want {
		if entries[i].Action != action {
			t.Fatalf("expected entry %d action %s, got %s", i, action, entries[i].Action)
		}
	}
}
