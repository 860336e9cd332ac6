package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
	txctx "arbor/pkg/platform/tx"
)

// PostgresZoneStore persists trust zones in PostgreSQL. Governance policies
// are stored as JSONB columns; the tree is a flat table with a nullable
// parent_id.
type PostgresZoneStore struct {
	db *sql.DB
}

func NewPostgresZoneStore(db *sql.DB) *PostgresZoneStore {
	return &PostgresZoneStore{db: db}
}

const zoneColumns = `id, org_id, parent_id, name, slug, description, status, created_by,
	responsibilities, resource_scope, constraints, decision_model,
	approval_policy, escalation_policy, evaluation_policy, created_at, updated_at`

func (s *PostgresZoneStore) CreateIfSlugAvailable(ctx context.Context, zone *models.TrustZone) error {
	scope, constraints, decision, approval, escalation, evaluation, err := marshalPolicies(zone)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO trust_zones (` + zoneColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(zone.ID), uuid.UUID(zone.OrgID), nullableParent(zone.ParentID),
		zone.Name, zone.Slug, zone.Description, string(zone.Status), uuid.UUID(zone.CreatedBy),
		zone.Responsibilities, scope, constraints, decision, approval, escalation, evaluation,
		zone.CreatedAt, zone.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("zone slug must be unique per organization: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create zone: %w", err)
	}
	return nil
}

func (s *PostgresZoneStore) Update(ctx context.Context, zone *models.TrustZone) error {
	scope, constraints, decision, approval, escalation, evaluation, err := marshalPolicies(zone)
	if err != nil {
		return err
	}
	query := `
		UPDATE trust_zones
		SET parent_id = $2, name = $3, description = $4, status = $5,
		    responsibilities = $6, resource_scope = $7, constraints = $8,
		    decision_model = $9, approval_policy = $10, escalation_policy = $11,
		    evaluation_policy = $12, updated_at = $13
		WHERE id = $1
	`
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(zone.ID), nullableParent(zone.ParentID), zone.Name, zone.Description,
		string(zone.Status), zone.Responsibilities, scope, constraints, decision,
		approval, escalation, evaluation, zone.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update zone: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresZoneStore) FindByID(ctx context.Context, zoneID id.ZoneID) (*models.TrustZone, error) {
	query := `SELECT ` + zoneColumns + ` FROM trust_zones WHERE id = $1`
	zone, err := scanZone(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(zoneID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find zone by id: %w", err)
	}
	return zone, nil
}

func (s *PostgresZoneStore) FindBySlug(ctx context.Context, orgID id.OrgID, slug string) (*models.TrustZone, error) {
	query := `SELECT ` + zoneColumns + ` FROM trust_zones WHERE org_id = $1 AND lower(slug) = lower($2)`
	zone, err := scanZone(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(orgID), slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find zone by slug: %w", err)
	}
	return zone, nil
}

func (s *PostgresZoneStore) ListByOrg(ctx context.Context, orgID id.OrgID) ([]*models.TrustZone, error) {
	query := `SELECT ` + zoneColumns + ` FROM trust_zones WHERE org_id = $1 ORDER BY created_at`
	return s.list(ctx, query, uuid.UUID(orgID))
}

func (s *PostgresZoneStore) ListChildren(ctx context.Context, zoneID id.ZoneID) ([]*models.TrustZone, error) {
	query := `SELECT ` + zoneColumns + ` FROM trust_zones WHERE parent_id = $1 ORDER BY created_at`
	return s.list(ctx, query, uuid.UUID(zoneID))
}

func (s *PostgresZoneStore) Delete(ctx context.Context, zoneID id.ZoneID) error {
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx,
		`DELETE FROM trust_zones WHERE id = $1`, uuid.UUID(zoneID))
	if err != nil {
		return fmt.Errorf("delete zone: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresZoneStore) list(ctx context.Context, query string, args ...any) ([]*models.TrustZone, error) {
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	var out []*models.TrustZone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, zone)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanZone(row rowScanner) (*models.TrustZone, error) {
	var (
		z          models.TrustZone
		zoneID     uuid.UUID
		orgID      uuid.UUID
		parentID   sql.Null[uuid.UUID]
		status     string
		createdBy  uuid.UUID
		scope      []byte
		constr     []byte
		decision   []byte
		approval   []byte
		escalation []byte
		evaluation []byte
	)
	if err := row.Scan(&zoneID, &orgID, &parentID, &z.Name, &z.Slug, &z.Description,
		&status, &createdBy, &z.Responsibilities, &scope, &constr, &decision,
		&approval, &escalation, &evaluation, &z.CreatedAt, &z.UpdatedAt); err != nil {
		return nil, err
	}
	z.ID = id.ZoneID(zoneID)
	z.OrgID = id.OrgID(orgID)
	if parentID.Valid {
		z.ParentID = id.ZoneID(parentID.V)
	}
	z.Status = models.Status(status)
	z.CreatedBy = id.MemberID(createdBy)

	if err := unmarshalInto(scope, &z.ResourceScope); err != nil {
		return nil, err
	}
	if err := unmarshalInto(constr, &z.Constraints); err != nil {
		return nil, err
	}
	if len(decision) > 0 {
		if err := json.Unmarshal(decision, &z.DecisionModel); err != nil {
			return nil, err
		}
	}
	if err := unmarshalInto(approval, &z.ApprovalPolicy); err != nil {
		return nil, err
	}
	if err := unmarshalInto(escalation, &z.EscalationPolicy); err != nil {
		return nil, err
	}
	if err := unmarshalInto(evaluation, &z.EvaluationPolicy); err != nil {
		return nil, err
	}
	return &z, nil
}

func marshalPolicies(zone *models.TrustZone) (scope, constraints, decision, approval, escalation, evaluation []byte, err error) {
	if scope, err = marshalOrNil(zone.ResourceScope); err != nil {
		return
	}
	if constraints, err = marshalOrNil(zone.Constraints); err != nil {
		return
	}
	if decision, err = json.Marshal(zone.DecisionModel); err != nil {
		return
	}
	if approval, err = marshalOrNil(zone.ApprovalPolicy); err != nil {
		return
	}
	if escalation, err = marshalOrNil(zone.EscalationPolicy); err != nil {
		return
	}
	evaluation, err = marshalOrNil(zone.EvaluationPolicy)
	return
}

func marshalOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalInto[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func nullableParent(parentID id.ZoneID) any {
	if parentID.IsNil() {
		return nil
	}
	return uuid.UUID(parentID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresAssignmentStore persists zone role assignments in PostgreSQL.
type PostgresAssignmentStore struct {
	db *sql.DB
}

func NewPostgresAssignmentStore(db *sql.DB) *PostgresAssignmentStore {
	return &PostgresAssignmentStore{db: db}
}

func (s *PostgresAssignmentStore) Create(ctx context.Context, a *models.ZoneAssignment) error {
	query := `
		INSERT INTO zone_assignments (id, zone_id, member_id, role, assigned_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(a.ID), uuid.UUID(a.ZoneID), uuid.UUID(a.MemberID),
		string(a.Role), uuid.UUID(a.AssignedBy), a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("assignment already exists: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (s *PostgresAssignmentStore) Remove(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID, role models.Role) error {
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx,
		`DELETE FROM zone_assignments WHERE zone_id = $1 AND member_id = $2 AND role = $3`,
		uuid.UUID(zoneID), uuid.UUID(memberID), string(role))
	if err != nil {
		return fmt.Errorf("remove assignment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresAssignmentStore) ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.ZoneAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, zone_id, member_id, role, assigned_by, created_at
		 FROM zone_assignments WHERE zone_id = $1 ORDER BY created_at`,
		uuid.UUID(zoneID))
}

func (s *PostgresAssignmentStore) ListByZoneRole(ctx context.Context, zoneID id.ZoneID, role models.Role) ([]*models.ZoneAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, zone_id, member_id, role, assigned_by, created_at
		 FROM zone_assignments WHERE zone_id = $1 AND role = $2 ORDER BY created_at`,
		uuid.UUID(zoneID), string(role))
}

func (s *PostgresAssignmentStore) ListByMember(ctx context.Context, memberID id.MemberID) ([]*models.ZoneAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, zone_id, member_id, role, assigned_by, created_at
		 FROM zone_assignments WHERE member_id = $1 ORDER BY created_at`,
		uuid.UUID(memberID))
}

func (s *PostgresAssignmentStore) FindByZoneMember(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID) ([]*models.ZoneAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, zone_id, member_id, role, assigned_by, created_at
		 FROM zone_assignments WHERE zone_id = $1 AND member_id = $2 ORDER BY created_at`,
		uuid.UUID(zoneID), uuid.UUID(memberID))
}

func (s *PostgresAssignmentStore) listAssignments(ctx context.Context, query string, args ...any) ([]*models.ZoneAssignment, error) {
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.ZoneAssignment
	for rows.Next() {
		var (
			a          models.ZoneAssignment
			assignID   uuid.UUID
			zoneID     uuid.UUID
			memberID   uuid.UUID
			role       string
			assignedBy uuid.UUID
		)
		if err := rows.Scan(&assignID, &zoneID, &memberID, &role, &assignedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.ID = id.AssignmentID(assignID)
		a.ZoneID = id.ZoneID(zoneID)
		a.MemberID = id.MemberID(memberID)
		a.Role = models.Role(role)
		a.AssignedBy = id.MemberID(assignedBy)
		out = append(out, &a)
	}
	return out, rows.Err()
}
