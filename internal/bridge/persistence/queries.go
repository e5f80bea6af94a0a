package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQL schema for the event stream, applied by Migrate. Two tables: the
// append-only event log and the snapshot checkpoints.
const migrateSQL = `
CREATE TABLE IF NOT EXISTS moduforge_events (
    transaction_id TEXT PRIMARY KEY,
    parent_version BIGINT NOT NULL,
    steps_encoded  BYTEA NOT NULL,
    meta_encoded   BYTEA NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS moduforge_events_parent_version_idx
    ON moduforge_events (parent_version);

CREATE TABLE IF NOT EXISTS moduforge_snapshots (
    version     BIGINT PRIMARY KEY,
    doc_encoded BYTEA NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const appendEventSQL = `
INSERT INTO moduforge_events (transaction_id, parent_version, steps_encoded, meta_encoded, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (transaction_id) DO NOTHING
`

const latestSnapshotSQL = `
SELECT version, doc_encoded, created_at
FROM moduforge_snapshots
ORDER BY version DESC
LIMIT 1
`

const writeSnapshotSQL = `
INSERT INTO moduforge_snapshots (version, doc_encoded, created_at)
VALUES ($1, $2, now())
ON CONFLICT (version) DO UPDATE SET doc_encoded = EXCLUDED.doc_encoded
`

const compactSQL = `
DELETE FROM moduforge_events WHERE parent_version < $1
`

const replaySQL = `
SELECT transaction_id, parent_version, steps_encoded, meta_encoded, created_at
FROM moduforge_events
WHERE parent_version >= $1
ORDER BY parent_version ASC, created_at ASC
`

// Queries is the hand-written querier over the shared pgx pool. One method
// per statement; batch appends go through a single transaction so a crashed
// writer never leaves half a dispatch on the stream.
type Queries struct {
	pool *pgxpool.Pool
}

// NewQueries wraps a pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// Migrate creates the bridge's tables if they do not exist.
func (q *Queries) Migrate(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, migrateSQL); err != nil {
		return fmt.Errorf("persistence: migrate: %w", err)
	}
	return nil
}

func (q *Queries) AppendBatch(ctx context.Context, events []PersistedEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("persistence: begin append batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	for _, ev := range events {
		if _, err := tx.Exec(ctx, appendEventSQL, ev.TransactionID, int64(ev.ParentVersion), ev.StepsEncoded, ev.MetaEncoded); err != nil {
			return fmt.Errorf("persistence: append event %s: %w", ev.TransactionID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persistence: commit append batch: %w", err)
	}
	return nil
}

func (q *Queries) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	var version int64
	err := q.pool.QueryRow(ctx, latestSnapshotSQL).Scan(&version, &snap.DocEncoded, &snap.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: latest snapshot: %w", err)
	}
	snap.Version = uint64(version)
	return &snap, nil
}

func (q *Queries) WriteSnapshot(ctx context.Context, snapshot Snapshot) error {
	if _, err := q.pool.Exec(ctx, writeSnapshotSQL, int64(snapshot.Version), snapshot.DocEncoded); err != nil {
		return fmt.Errorf("persistence: write snapshot: %w", err)
	}
	return nil
}

func (q *Queries) Compact(ctx context.Context, beforeVersion uint64) error {
	if _, err := q.pool.Exec(ctx, compactSQL, int64(beforeVersion)); err != nil {
		return fmt.Errorf("persistence: compact: %w", err)
	}
	return nil
}

func (q *Queries) Replay(ctx context.Context, fromVersion uint64) ([]PersistedEvent, error) {
	rows, err := q.pool.Query(ctx, replaySQL, int64(fromVersion))
	if err != nil {
		return nil, fmt.Errorf("persistence: replay: %w", err)
	}
	defer rows.Close()

	var out []PersistedEvent
	for rows.Next() {
		var ev PersistedEvent
		var version int64
		if err := rows.Scan(&ev.TransactionID, &version, &ev.StepsEncoded, &ev.MetaEncoded, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("persistence: scan replay row: %w", err)
		}
		ev.ParentVersion = uint64(version)
		out = append(out, ev)
	}
	return out, rows.Err()
}
