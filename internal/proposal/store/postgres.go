package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"arbor/internal/proposal/models"
	zone "arbor/internal/zone/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
	txctx "arbor/pkg/platform/tx"
)

// PostgresProposalStore persists proposals in PostgreSQL.
type PostgresProposalStore struct {
	db *sql.DB
}

func NewPostgresProposalStore(db *sql.DB) *PostgresProposalStore {
	return &PostgresProposalStore{db: db}
}

const proposalColumns = `id, zone_id, org_id, author_id, type, status, risk_level, title,
	payload, subject_id, conflict_flags, version, expires_at, created_at, updated_at, resolved_at`

func (s *PostgresProposalStore) Create(ctx context.Context, p *models.Proposal) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	flags, err := json.Marshal(p.ConflictFlags)
	if err != nil {
		return fmt.Errorf("encode conflict flags: %w", err)
	}
	query := `
		INSERT INTO proposals (` + proposalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), uuid.UUID(p.ZoneID), uuid.UUID(p.OrgID), uuid.UUID(p.AuthorID),
		string(p.Type), string(p.Status), string(p.RiskLevel), p.Title,
		payload, nullableMember(p.SubjectID), flags, p.Version,
		p.ExpiresAt, p.CreatedAt, p.UpdatedAt, nullableTime(p.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// Update writes the proposal only if the stored version still matches,
// bumping the version on success. A lost race surfaces as ErrVersionConflict.
func (s *PostgresProposalStore) Update(ctx context.Context, p *models.Proposal) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	flags, err := json.Marshal(p.ConflictFlags)
	if err != nil {
		return fmt.Errorf("encode conflict flags: %w", err)
	}
	query := `
		UPDATE proposals
		SET status = $3, risk_level = $4, title = $5, payload = $6, subject_id = $7,
		    conflict_flags = $8, version = version + 1, expires_at = $9,
		    updated_at = $10, resolved_at = $11
		WHERE id = $1 AND version = $2
	`
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.Version, string(p.Status), string(p.RiskLevel), p.Title,
		payload, nullableMember(p.SubjectID), flags,
		p.ExpiresAt, p.UpdatedAt, nullableTime(p.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if n == 0 {
		if _, findErr := s.FindByID(ctx, p.ID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *PostgresProposalStore) FindByID(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	p, err := scanProposal(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(proposalID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find proposal: %w", err)
	}
	return p, nil
}

func (s *PostgresProposalStore) ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE zone_id = $1 ORDER BY created_at`
	return s.list(ctx, query, uuid.UUID(zoneID))
}

func (s *PostgresProposalStore) CountByZone(ctx context.Context, zoneID id.ZoneID) (int, error) {
	var count int
	err := txctx.Resolve(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proposals WHERE zone_id = $1`, uuid.UUID(zoneID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return count, nil
}

func (s *PostgresProposalStore) ListExpiredPending(ctx context.Context, now time.Time) ([]*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE status = 'pending_review' AND expires_at < $1 ORDER BY expires_at`
	return s.list(ctx, query, now)
}

func (s *PostgresProposalStore) list(ctx context.Context, query string, args ...any) ([]*models.Proposal, error) {
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []*models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p          models.Proposal
		proposalID uuid.UUID
		zoneID     uuid.UUID
		orgID      uuid.UUID
		authorID   uuid.UUID
		typ        string
		status     string
		risk       string
		payload    []byte
		subjectID  sql.Null[uuid.UUID]
		flags      []byte
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&proposalID, &zoneID, &orgID, &authorID, &typ, &status, &risk,
		&p.Title, &payload, &subjectID, &flags, &p.Version,
		&p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	p.ID = id.ProposalID(proposalID)
	p.ZoneID = id.ZoneID(zoneID)
	p.OrgID = id.OrgID(orgID)
	p.AuthorID = id.MemberID(authorID)
	p.Type = models.Type(typ)
	p.Status = models.Status(status)
	p.RiskLevel = models.RiskLevel(risk)
	if subjectID.Valid {
		p.SubjectID = id.MemberID(subjectID.V)
	}
	if resolvedAt.Valid {
		p.ResolvedAt = resolvedAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p.Payload); err != nil {
			return nil, err
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &p.ConflictFlags); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// PostgresApprovalStore persists approval requests in PostgreSQL.
type PostgresApprovalStore struct {
	db *sql.DB
}

func NewPostgresApprovalStore(db *sql.DB) *PostgresApprovalStore {
	return &PostgresApprovalStore{db: db}
}

const approvalColumns = `id, proposal_id, reviewer_id, reviewer_role, selection_reason,
	decision, rationale, decided_at, created_at`

func (s *PostgresApprovalStore) CreateBatch(ctx context.Context, requests []*models.ApprovalRequest) error {
	q := txctx.Resolve(ctx, s.db)
	query := `
		INSERT INTO approval_requests (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, r := range requests {
		_, err := q.ExecContext(ctx, query,
			uuid.UUID(r.ID), uuid.UUID(r.ProposalID), uuid.UUID(r.ReviewerID),
			string(r.ReviewerRole), r.SelectionReason,
			nullableString(string(r.Decision)), r.Rationale,
			nullableTime(r.DecidedAt), r.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("create approval request: %w", err)
		}
	}
	return nil
}

func (s *PostgresApprovalStore) Update(ctx context.Context, r *models.ApprovalRequest) error {
	query := `
		UPDATE approval_requests
		SET decision = $2, rationale = $3, decided_at = $4
		WHERE id = $1
	`
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(r.ID), nullableString(string(r.Decision)), r.Rationale, nullableTime(r.DecidedAt))
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresApprovalStore) ListByProposal(ctx context.Context, proposalID id.ProposalID) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE proposal_id = $1 ORDER BY created_at, id`
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(proposalID))
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresApprovalStore) FindByProposalReviewer(ctx context.Context, proposalID id.ProposalID, reviewerID id.MemberID) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE proposal_id = $1 AND reviewer_id = $2`
	r, err := scanApproval(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(proposalID), uuid.UUID(reviewerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return r, nil
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var (
		r          models.ApprovalRequest
		requestID  uuid.UUID
		proposalID uuid.UUID
		reviewerID uuid.UUID
		role       string
		decision   sql.NullString
		decidedAt  sql.NullTime
	)
	if err := row.Scan(&requestID, &proposalID, &reviewerID, &role, &r.SelectionReason,
		&decision, &r.Rationale, &decidedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ID = id.ApprovalRequestID(requestID)
	r.ProposalID = id.ProposalID(proposalID)
	r.ReviewerID = id.MemberID(reviewerID)
	r.ReviewerRole = zone.Role(role)
	if decision.Valid {
		r.Decision = models.Decision(decision.String)
	}
	if decidedAt.Valid {
		r.DecidedAt = decidedAt.Time
	}
	return &r, nil
}

func nullableMember(memberID id.MemberID) any {
	if memberID.IsNil() {
		return nil
	}
	return uuid.UUID(memberID)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
