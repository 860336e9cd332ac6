package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	id "arbor/pkg/domain"
	txctx "arbor/pkg/platform/tx"
)

// PostgresStore persists audit entries in PostgreSQL. It joins the caller's
// transaction when one is carried on the context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	query := `
		INSERT INTO audit_entries (id, org_id, zone_id, actor_id, actor_type, action, target_type, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = txctx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.OrgID),
		nullableZone(entry.ZoneID),
		uuid.UUID(entry.ActorID),
		string(entry.ActorType),
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, org_id, zone_id, actor_id, actor_type, action, target_type, target_id, metadata, created_at
		FROM audit_entries
		WHERE ($1::uuid IS NULL OR org_id = $1)
		  AND ($2::uuid IS NULL OR zone_id = $2)
		  AND ($3::uuid IS NULL OR actor_id = $3)
		  AND ($4 = '' OR action = $4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at <= $6)
		ORDER BY created_at DESC
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + strconv.Itoa(limit)

	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query,
		nullableUUID(uuid.UUID(filter.OrgID)),
		nullableUUID(uuid.UUID(filter.ZoneID)),
		nullableUUID(uuid.UUID(filter.ActorID)),
		filter.Action,
		nullableTime(filter.Since),
		nullableTime(filter.Until),
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			entryID   uuid.UUID
			orgID     uuid.UUID
			zoneID    sql.Null[uuid.UUID]
			actorID   uuid.UUID
			actorType string
			metadata  []byte
		)
		if err := rows.Scan(&entryID, &orgID, &zoneID, &actorID, &actorType,
			&e.Action, &e.TargetType, &e.TargetID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id.AuditEntryID(entryID)
		e.OrgID = id.OrgID(orgID)
		if zoneID.Valid {
			e.ZoneID = id.ZoneID(zoneID.V)
		}
		e.ActorID = id.MemberID(actorID)
		e.ActorType = ActorType(actorType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableZone(zoneID id.ZoneID) any {
	if zoneID.IsNil() {
		return nil
	}
	return uuid.UUID(zoneID)
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
