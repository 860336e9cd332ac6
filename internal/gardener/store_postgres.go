package gardener

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "arbor/pkg/domain"
	txctx "arbor/pkg/platform/tx"
)

// PostgresStatsStore persists reviewer stats in PostgreSQL. Updates are
// upserts so the first outcome for a member creates the row.
type PostgresStatsStore struct {
	db *sql.DB
}

func NewPostgresStatsStore(db *sql.DB) *PostgresStatsStore {
	return &PostgresStatsStore{db: db}
}

func (s *PostgresStatsStore) Get(ctx context.Context, memberID id.MemberID) (ReviewerStats, error) {
	query := `
		SELECT member_id, review_count, in_time_count, overturned_count, last_selected_at, updated_at
		FROM reviewer_stats WHERE member_id = $1
	`
	st, err := scanStats(txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(memberID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReviewerStats{MemberID: memberID}, nil
		}
		return ReviewerStats{}, fmt.Errorf("get reviewer stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStatsStore) GetMany(ctx context.Context, memberIDs []id.MemberID) (map[id.MemberID]ReviewerStats, error) {
	out := make(map[id.MemberID]ReviewerStats, len(memberIDs))
	if len(memberIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(memberIDs))
	placeholders := make([]string, len(memberIDs))
	for i, m := range memberIDs {
		args[i] = uuid.UUID(m)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		out[m] = ReviewerStats{MemberID: m}
	}
	query := `
		SELECT member_id, review_count, in_time_count, overturned_count, last_selected_at, updated_at
		FROM reviewer_stats WHERE member_id IN (` + strings.Join(placeholders, ", ") + `)`
	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviewer stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reviewer stats: %w", err)
		}
		out[st.MemberID] = st
	}
	return out, rows.Err()
}

func (s *PostgresStatsStore) MarkSelected(ctx context.Context, memberID id.MemberID, at time.Time) error {
	query := `
		INSERT INTO reviewer_stats (member_id, last_selected_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (member_id) DO UPDATE SET last_selected_at = $2, updated_at = $2
	`
	if _, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(memberID), at); err != nil {
		return fmt.Errorf("mark reviewer selected: %w", err)
	}
	return nil
}

func (s *PostgresStatsStore) RecordOutcome(ctx context.Context, outcome ReviewOutcome, at time.Time) error {
	inTime, overturned := 0, 0
	if outcome.ReviewedInTime {
		inTime = 1
	}
	if outcome.Overturned {
		overturned = 1
	}
	query := `
		INSERT INTO reviewer_stats (member_id, review_count, in_time_count, overturned_count, updated_at)
		VALUES ($1, 1, $2, $3, $4)
		ON CONFLICT (member_id) DO UPDATE SET
			review_count = reviewer_stats.review_count + 1,
			in_time_count = reviewer_stats.in_time_count + $2,
			overturned_count = reviewer_stats.overturned_count + $3,
			updated_at = $4
	`
	if _, err := txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(outcome.MemberID), inTime, overturned, at); err != nil {
		return fmt.Errorf("record review outcome: %w", err)
	}
	return nil
}

type statsScanner interface {
	Scan(dest ...any) error
}

func scanStats(row statsScanner) (ReviewerStats, error) {
	var (
		st           ReviewerStats
		memberID     uuid.UUID
		lastSelected sql.NullTime
	)
	if err := row.Scan(&memberID, &st.ReviewCount, &st.InTimeCount, &st.OverturnedCount,
		&lastSelected, &st.UpdatedAt); err != nil {
		return ReviewerStats{}, err
	}
	st.MemberID = id.MemberID(memberID)
	if lastSelected.Valid {
		st.LastSelectedAt = lastSelected.Time
	}
	return st, nil
}
