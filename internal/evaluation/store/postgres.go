package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"arbor/internal/evaluation/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/sentinel"
	txctx "arbor/pkg/platform/tx"
)

// PostgresEvaluationStore persists evaluations in PostgreSQL.
type PostgresEvaluationStore struct {
	db *sql.DB
}

func NewPostgresEvaluationStore(db *sql.DB) *PostgresEvaluationStore {
	return &PostgresEvaluationStore{db: db}
}

const evaluationColumns = `id, org_id, zone_id, proposal_id, executor_id, status,
	aggregate_score, created_at, updated_at, finalized_at`

func (s *PostgresEvaluationStore) Create(ctx context.Context, e *models.Evaluation) error {
	query := `
		INSERT INTO evaluations (` + evaluationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.OrgID), uuid.UUID(e.ZoneID),
		nullableUUID(uuid.UUID(e.ProposalID)), uuid.UUID(e.ExecutorID), string(e.Status),
		e.AggregateScore, e.CreatedAt, e.UpdatedAt, nullableTime(e.FinalizedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

func (s *PostgresEvaluationStore) Update(ctx context.Context, e *models.Evaluation) error {
	query := `
		UPDATE evaluations
		SET status = $2, aggregate_score = $3, updated_at = $4, finalized_at = $5
		WHERE id = $1
	`
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(e.ID), string(e.Status), e.AggregateScore, e.UpdatedAt, nullableTime(e.FinalizedAt))
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresEvaluationStore) FindByID(ctx context.Context, evaluationID id.EvaluationID) (*models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = $1`
	e, err := scanEvaluation(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(evaluationID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find evaluation: %w", err)
	}
	return e, nil
}

func (s *PostgresEvaluationStore) ListByZone(ctx context.Context, zoneID id.ZoneID) ([]*models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE zone_id = $1 ORDER BY created_at`
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(zoneID))
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*models.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (*models.Evaluation, error) {
	var (
		e            models.Evaluation
		evaluationID uuid.UUID
		orgID        uuid.UUID
		zoneID       uuid.UUID
		proposalID   sql.Null[uuid.UUID]
		executorID   uuid.UUID
		status       string
		finalizedAt  sql.NullTime
	)
	if err := row.Scan(&evaluationID, &orgID, &zoneID, &proposalID, &executorID, &status,
		&e.AggregateScore, &e.CreatedAt, &e.UpdatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	e.ID = id.EvaluationID(evaluationID)
	e.OrgID = id.OrgID(orgID)
	e.ZoneID = id.ZoneID(zoneID)
	e.ExecutorID = id.MemberID(executorID)
	e.Status = models.Status(status)
	if proposalID.Valid {
		e.ProposalID = id.ProposalID(proposalID.V)
	}
	if finalizedAt.Valid {
		e.FinalizedAt = finalizedAt.Time
	}
	return &e, nil
}

// PostgresScoreStore persists score entries in PostgreSQL.
type PostgresScoreStore struct {
	db *sql.DB
}

func NewPostgresScoreStore(db *sql.DB) *PostgresScoreStore {
	return &PostgresScoreStore{db: db}
}

const scoreColumns = `id, evaluation_id, evaluator_id, criterion, weight, score, rationale, created_at`

func (s *PostgresScoreStore) Append(ctx context.Context, entry *models.ScoreEntry) error {
	query := `
		INSERT INTO evaluation_scores (` + scoreColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(entry.ID), uuid.UUID(entry.EvaluationID), uuid.UUID(entry.EvaluatorID),
		entry.Criterion, entry.Weight, entry.Score, entry.Rationale, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("append score entry: %w", err)
	}
	return nil
}

func (s *PostgresScoreStore) ListByEvaluation(ctx context.Context, evaluationID id.EvaluationID) ([]*models.ScoreEntry, error) {
	query := `SELECT ` + scoreColumns + ` FROM evaluation_scores WHERE evaluation_id = $1 ORDER BY created_at, id`
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(evaluationID))
	if err != nil {
		return nil, fmt.Errorf("list score entries: %w", err)
	}
	defer rows.Close()

	var out []*models.ScoreEntry
	for rows.Next() {
		var (
			entry        models.ScoreEntry
			entryID      uuid.UUID
			evaluationID uuid.UUID
			evaluatorID  uuid.UUID
		)
		if err := rows.Scan(&entryID, &evaluationID, &evaluatorID, &entry.Criterion,
			&entry.Weight, &entry.Score, &entry.Rationale, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score entry: %w", err)
		}
		entry.ID = id.ScoreEntryID(entryID)
		entry.EvaluationID = id.EvaluationID(evaluationID)
		entry.EvaluatorID = id.MemberID(evaluatorID)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// PostgresSignalStore persists incentive signals in PostgreSQL.
type PostgresSignalStore struct {
	db *sql.DB
}

func NewPostgresSignalStore(db *sql.DB) *PostgresSignalStore {
	return &PostgresSignalStore{db: db}
}

const signalColumns = `id, evaluation_id, target_id, type, magnitude, reason, applied, applied_at, created_at`

func (s *PostgresSignalStore) CreateBatch(ctx context.Context, signals []*models.IncentiveSignal) error {
	q := txctx.Resolve(ctx, s.db)
	query := `
		INSERT INTO incentive_signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, sig := range signals {
		_, err := q.ExecContext(ctx, query,
			uuid.UUID(sig.ID), uuid.UUID(sig.EvaluationID), uuid.UUID(sig.TargetID),
			string(sig.Type), sig.Magnitude, sig.Reason,
			sig.Applied, nullableTime(sig.AppliedAt), sig.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("create incentive signal: %w", err)
		}
	}
	return nil
}

func (s *PostgresSignalStore) FindByID(ctx context.Context, signalID id.SignalID) (*models.IncentiveSignal, error) {
	query := `SELECT ` + signalColumns + ` FROM incentive_signals WHERE id = $1`
	sig, err := scanSignal(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(signalID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find incentive signal: %w", err)
	}
	return sig, nil
}

func (s *PostgresSignalStore) ListUnapplied(ctx context.Context, limit int) ([]*models.IncentiveSignal, error) {
	query := `SELECT ` + signalColumns + ` FROM incentive_signals WHERE NOT applied ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unapplied signals: %w", err)
	}
	defer rows.Close()

	var out []*models.IncentiveSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incentive signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// MarkApplied flips the applied flag, reporting whether this call did the
// transition. The WHERE NOT applied guard keeps concurrent appliers from
// double-applying the same signal.
func (s *PostgresSignalStore) MarkApplied(ctx context.Context, signalID id.SignalID) (bool, error) {
	query := `UPDATE incentive_signals SET applied = TRUE, applied_at = NOW() WHERE id = $1 AND NOT applied`
	res, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(signalID))
	if err != nil {
		return false, fmt.Errorf("mark signal applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark signal applied: %w", err)
	}
	if n == 0 {
		if _, findErr := s.FindByID(ctx, signalID); errors.Is(findErr, sentinel.ErrNotFound) {
			return false, sentinel.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func scanSignal(row rowScanner) (*models.IncentiveSignal, error) {
	var (
		sig          models.IncentiveSignal
		signalID     uuid.UUID
		evaluationID uuid.UUID
		targetID     uuid.UUID
		typ          string
		appliedAt    sql.NullTime
	)
	if err := row.Scan(&signalID, &evaluationID, &targetID, &typ, &sig.Magnitude,
		&sig.Reason, &sig.Applied, &appliedAt, &sig.CreatedAt); err != nil {
		return nil, err
	}
	sig.ID = id.SignalID(signalID)
	sig.EvaluationID = id.EvaluationID(evaluationID)
	sig.TargetID = id.MemberID(targetID)
	sig.Type = models.SignalType(typ)
	if appliedAt.Valid {
		sig.AppliedAt = appliedAt.Time
	}
	return &sig, nil
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
