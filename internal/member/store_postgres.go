package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
	txctx "arbor/pkg/platform/tx"
)

// PostgresStore persists members in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (id, org_id, role, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(m.ID), uuid.UUID(m.OrgID), string(m.Role), m.DisplayName, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("member already exists: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, memberID id.MemberID) (*Member, error) {
	query := `
		SELECT id, org_id, role, display_name, created_at
		FROM members
		WHERE id = $1
	`
	row := txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(memberID))
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find member by id: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListByOrg(ctx context.Context, orgID id.OrgID) ([]*Member, error) {
	query := `
		SELECT id, org_id, role, display_name, created_at
		FROM members
		WHERE org_id = $1
		ORDER BY created_at
	`
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(orgID))
	if err != nil {
		return nil, fmt.Errorf("list members by org: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*Member, error) {
	var (
		m        Member
		memberID uuid.UUID
		orgID    uuid.UUID
		role     string
	)
	if err := row.Scan(&memberID, &orgID, &role, &m.DisplayName, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ID = id.MemberID(memberID)
	m.OrgID = id.OrgID(orgID)
	m.Role = OrgRole(role)
	return &m, nil
}

// PostgresReputationStore persists reputation records in PostgreSQL.
type PostgresReputationStore struct {
	db *sql.DB
}

func NewPostgresReputation(db *sql.DB) *PostgresReputationStore {
	return &PostgresReputationStore{db: db}
}

func (s *PostgresReputationStore) Get(ctx context.Context, memberID id.MemberID) (*Reputation, error) {
	query := `
		SELECT member_id, score, updated_at
		FROM reputations
		WHERE member_id = $1
	`
	var (
		rep Reputation
		mid uuid.UUID
	)
	err := txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(memberID)).
		Scan(&mid, &rep.Score, &rep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Reputation{MemberID: memberID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	rep.MemberID = id.MemberID(mid)
	return &rep, nil
}

// Adjust upserts the record and clamps in SQL so concurrent adjustments
// serialize on the row rather than racing a read-modify-write.
func (s *PostgresReputationStore) Adjust(ctx context.Context, memberID id.MemberID, delta float64) (*Reputation, error) {
	query := `
		INSERT INTO reputations (member_id, score, updated_at)
		VALUES ($1, LEAST(GREATEST($2, $3), $4), now())
		ON CONFLICT (member_id) DO UPDATE
		SET score = LEAST(GREATEST(reputations.score + $2, $3), $4), updated_at = now()
		RETURNING member_id, score, updated_at
	`
	var (
		rep Reputation
		mid uuid.UUID
	)
	err := txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(memberID), delta, MinReputation, MaxReputation).
		Scan(&mid, &rep.Score, &rep.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("adjust reputation: %w", err)
	}
	rep.MemberID = id.MemberID(mid)
	return &rep, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
