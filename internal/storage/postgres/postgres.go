// Package postgres is the PostgreSQL entity store, using lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"queuewatch/internal/reconciler"
	"queuewatch/pkg/logging"
)

// Store persists entities in a single PostgreSQL table.
type Store struct {
	db    *sql.DB
	table string
}

// Open connects to dsn, verifies the connection and creates the entity
// table and its indexes if they do not exist.
func Open(ctx context.Context, dsn, table string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := New(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.CreateTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool. The table is not created.
func New(db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if table == "" {
		table = "queue_entities"
	}
	return &Store{db: db, table: table}, nil
}

func (s *Store) quotedTable() string {
	return pq.QuoteIdentifier(s.table)
}

// CreateTable creates the entity table and its indexes.
// If they already exist, it does not create them again.
func (s *Store) CreateTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	table := s.quotedTable()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			partition_key   TEXT        NOT NULL,
			identity        TEXT        NOT NULL,
			reference_day   DATE        NOT NULL,
			status          TEXT        NOT NULL,
			first_seen_at   TIMESTAMPTZ NOT NULL,
			last_seen_at    TIMESTAMPTZ NOT NULL,
			finalized_at    TIMESTAMPTZ,
			finalize_reason TEXT,
			payload         JSONB       NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (partition_key, identity)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(s.table+"_active_idx") +
			` ON ` + table + ` (partition_key, last_seen_at) WHERE status <> 'FINALIZED'`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(s.table+"_day_idx") +
			` ON ` + table + ` (reference_day, partition_key)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}

	logging.Info("Storage", "Checked/created table %s", s.table)
	return nil
}

// Upsert inserts an entity or refreshes an existing one. Rows already
// finalized are not touched. The status rank only increases.
func (s *Store) Upsert(ctx context.Context, entity reconciler.Entity) error {
	payload, err := encodePayload(entity.Payload)
	if err != nil {
		return err
	}

	query := `INSERT INTO ` + s.quotedTable() + ` AS e
		(partition_key, identity, reference_day, status, first_seen_at, last_seen_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (partition_key, identity) DO UPDATE SET
			last_seen_at = GREATEST(e.last_seen_at, EXCLUDED.last_seen_at),
			status = CASE
				WHEN e.status = 'WAITING' AND EXCLUDED.status = 'IN_SERVICE' THEN 'IN_SERVICE'
				ELSE e.status
			END,
			payload = EXCLUDED.payload
		WHERE e.status <> 'FINALIZED'`

	status := entity.Status
	if status == "" {
		status = reconciler.StatusWaiting
	}

	_, err = s.db.ExecContext(ctx, query,
		entity.PartitionKey,
		entity.Identity,
		entity.ReferenceDay,
		string(status),
		entity.FirstSeenAt,
		entity.LastSeenAt,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", entity.PartitionKey, entity.Identity, err)
	}
	return nil
}

// ActiveEntities returns the non-finalized entities of partitionKey whose
// last_seen_at is at or before olderThan. A zero olderThan returns all.
func (s *Store) ActiveEntities(ctx context.Context, partitionKey string, olderThan time.Time) ([]reconciler.Entity, error) {
	var cutoff sql.NullTime
	if !olderThan.IsZero() {
		cutoff = sql.NullTime{Time: olderThan, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+s.quotedTable()+`
		WHERE partition_key = $1
		  AND status <> 'FINALIZED'
		  AND ($2::timestamptz IS NULL OR last_seen_at <= $2)
		ORDER BY first_seen_at, identity`,
		partitionKey, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select active entities of %s: %w", partitionKey, err)
	}
	return scanEntities(rows)
}

// Finalize closes an entity. Already finalized and unknown entities are
// left alone.
func (s *Store) Finalize(ctx context.Context, partitionKey, identity string, at time.Time, reason reconciler.FinalizeReason) error {
	_, err := s.db.ExecContext(ctx, `UPDATE `+s.quotedTable()+`
		SET status = 'FINALIZED', finalized_at = $3, finalize_reason = $4
		WHERE partition_key = $1 AND identity = $2 AND status <> 'FINALIZED'`,
		partitionKey, identity, at, string(reason))
	if err != nil {
		return fmt.Errorf("finalize %s/%s: %w", partitionKey, identity, err)
	}
	return nil
}

// EntitiesForDay returns the entities of one reference day. An empty
// partitionKey selects every partition.
func (s *Store) EntitiesForDay(ctx context.Context, partitionKey, day string) ([]reconciler.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+s.quotedTable()+`
		WHERE reference_day = $1::date
		  AND ($2 = '' OR partition_key = $2)
		ORDER BY partition_key, first_seen_at, identity`,
		day, partitionKey)
	if err != nil {
		return nil, fmt.Errorf("select entities of %s: %w", day, err)
	}
	return scanEntities(rows)
}

// Purge deletes every entity whose reference day is before beforeDay.
func (s *Store) Purge(ctx context.Context, beforeDay string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.quotedTable()+` WHERE reference_day < $1::date`, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", beforeDay, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", beforeDay, err)
	}
	return int(n), nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const columns = `partition_key, identity, to_char(reference_day, 'YYYY-MM-DD'), status,
	first_seen_at, last_seen_at, finalized_at, COALESCE(finalize_reason, ''), payload`

func scanEntities(rows *sql.Rows) ([]reconciler.Entity, error) {
	defer rows.Close()

	var out []reconciler.Entity
	for rows.Next() {
		var (
			e           reconciler.Entity
			status      string
			reason      string
			finalizedAt sql.NullTime
			payload     []byte
		)
		if err := rows.Scan(
			&e.PartitionKey,
			&e.Identity,
			&e.ReferenceDay,
			&status,
			&e.FirstSeenAt,
			&e.LastSeenAt,
			&finalizedAt,
			&reason,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}

		e.Status = reconciler.Status(status)
		e.FinalizeReason = reconciler.FinalizeReason(reason)
		if finalizedAt.Valid {
			at := finalizedAt.Time
			e.FinalizedAt = &at
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s/%s: %w", e.PartitionKey, e.Identity, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func encodePayload(payload map[string]string) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
