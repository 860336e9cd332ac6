package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"arbor/internal/escalation/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
	txctx "arbor/pkg/platform/tx"
)

// PostgresEscalationStore persists escalations in PostgreSQL.
type PostgresEscalationStore struct {
	db *sql.DB
}

func NewPostgresEscalationStore(db *sql.DB) *PostgresEscalationStore {
	return &PostgresEscalationStore{db: db}
}

const escalationColumns = `id, org_id, source_zone_id, target_zone_id, type, status, reason,
	raised_by, proposal_id, resulting_proposal_id, cosigners_required,
	created_at, updated_at, resolved_at`

func (s *PostgresEscalationStore) Create(ctx context.Context, e *models.Escalation) error {
	query := `
		INSERT INTO escalations (` + escalationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.OrgID), uuid.UUID(e.SourceZoneID), uuid.UUID(e.TargetZoneID),
		string(e.Type), string(e.Status), e.Reason,
		nullableUUID(uuid.UUID(e.RaisedBy)), nullableUUID(uuid.UUID(e.ProposalID)),
		nullableUUID(uuid.UUID(e.ResultingProposalID)), e.CosignersRequired,
		e.CreatedAt, e.UpdatedAt, nullableTime(e.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create escalation: %w", err)
	}
	return nil
}

func (s *PostgresEscalationStore) Update(ctx context.Context, e *models.Escalation) error {
	query := `
		UPDATE escalations
		SET target_zone_id = $2, status = $3, resulting_proposal_id = $4,
		    updated_at = $5, resolved_at = $6
		WHERE id = $1
	`
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.TargetZoneID), string(e.Status),
		nullableUUID(uuid.UUID(e.ResultingProposalID)),
		e.UpdatedAt, nullableTime(e.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresEscalationStore) FindByID(ctx context.Context, escalationID id.EscalationID) (*models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE id = $1`
	e, err := scanEscalation(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(escalationID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find escalation: %w", err)
	}
	return e, nil
}

func (s *PostgresEscalationStore) ListByTargetZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE target_zone_id = $1 ORDER BY created_at`
	return s.list(ctx, query, uuid.UUID(zoneID))
}

func (s *PostgresEscalationStore) CountRaisedSince(ctx context.Context, zoneID id.ZoneID, memberID id.MemberID, since time.Time) (int, error) {
	var count int
	err := txctx.Resolve(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM escalations WHERE source_zone_id = $1 AND raised_by = $2 AND created_at >= $3`,
		uuid.UUID(zoneID), uuid.UUID(memberID), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count escalations: %w", err)
	}
	return count, nil
}

func (s *PostgresEscalationStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations
		WHERE status IN ('pending', 'accepted') AND created_at < $1 ORDER BY created_at`
	return s.list(ctx, query, cutoff)
}

func (s *PostgresEscalationStore) list(ctx context.Context, query string, args ...any) ([]*models.Escalation, error) {
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []*models.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (*models.Escalation, error) {
	var (
		e            models.Escalation
		escalationID uuid.UUID
		orgID        uuid.UUID
		sourceZone   uuid.UUID
		targetZone   uuid.UUID
		typ          string
		status       string
		raisedBy     sql.Null[uuid.UUID]
		proposalID   sql.Null[uuid.UUID]
		resultingID  sql.Null[uuid.UUID]
		resolvedAt   sql.NullTime
	)
	if err := row.Scan(&escalationID, &orgID, &sourceZone, &targetZone, &typ, &status,
		&e.Reason, &raisedBy, &proposalID, &resultingID, &e.CosignersRequired,
		&e.CreatedAt, &e.UpdatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	e.ID = id.EscalationID(escalationID)
	e.OrgID = id.OrgID(orgID)
	e.SourceZoneID = id.ZoneID(sourceZone)
	e.TargetZoneID = id.ZoneID(targetZone)
	e.Type = models.Type(typ)
	e.Status = models.Status(status)
	if raisedBy.Valid {
		e.RaisedBy = id.MemberID(raisedBy.V)
	}
	if proposalID.Valid {
		e.ProposalID = id.ProposalID(proposalID.V)
	}
	if resultingID.Valid {
		e.ResultingProposalID = id.ProposalID(resultingID.V)
	}
	if resolvedAt.Valid {
		e.ResolvedAt = resolvedAt.Time
	}
	return &e, nil
}

// PostgresCosignerStore persists co-signatures in PostgreSQL. The unique
// (escalation_id, member_id) constraint makes duplicate co-signs surface as
// ErrAlreadyUsed.
type PostgresCosignerStore struct {
	db *sql.DB
}

func NewPostgresCosignerStore(db *sql.DB) *PostgresCosignerStore {
	return &PostgresCosignerStore{db: db}
}

func (s *PostgresCosignerStore) Add(ctx context.Context, c *models.Cosigner) error {
	query := `INSERT INTO escalation_cosigners (escalation_id, member_id, created_at) VALUES ($1, $2, $3)`
	_, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(c.EscalationID), uuid.UUID(c.MemberID), c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("add cosigner: %w", err)
	}
	return nil
}

func (s *PostgresCosignerStore) Count(ctx context.Context, escalationID id.EscalationID) (int, error) {
	var count int
	err := txctx.Resolve(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM escalation_cosigners WHERE escalation_id = $1`,
		uuid.UUID(escalationID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cosigners: %w", err)
	}
	return count, nil
}

func (s *PostgresCosignerStore) List(ctx context.Context, escalationID id.EscalationID) ([]*models.Cosigner, error) {
	query := `SELECT escalation_id, member_id, created_at FROM escalation_cosigners
		WHERE escalation_id = $1 ORDER BY created_at`
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(escalationID))
	if err != nil {
		return nil, fmt.Errorf("list cosigners: %w", err)
	}
	defer rows.Close()

	var out []*models.Cosigner
	for rows.Next() {
		var (
			c            models.Cosigner
			escalationID uuid.UUID
			memberID     uuid.UUID
		)
		if err := rows.Scan(&escalationID, &memberID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cosigner: %w", err)
		}
		c.EscalationID = id.EscalationID(escalationID)
		c.MemberID = id.MemberID(memberID)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
