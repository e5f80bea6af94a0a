// Package persistence implements the event-store bridge: committed
// transactions are encoded into an append-only stream with periodic
// snapshots, replayable to reconstruct any state the runtime has produced.
package persistence

import (
	"context"
	"time"
)

// PersistedEvent is one committed transaction on the event stream. Events
// are issued in commit order, strictly monotonic by parent version within
// one runtime.
type PersistedEvent struct {
	TransactionID string
	ParentVersion uint64
	StepsEncoded  []byte
	MetaEncoded   []byte
	Timestamp     time.Time
}

// Snapshot is a full-document checkpoint; replay resumes from the latest
// snapshot instead of the beginning of the stream.
type Snapshot struct {
	Version    uint64
	DocEncoded []byte
	CreatedAt  time.Time
}

// Store is the durable side of the bridge. Implementations must preserve
// append order and be replayable: appending the same batch twice (e.g.
// after a retried job) must not corrupt the stream, which the SQL
// implementation guarantees with an ON CONFLICT guard on transaction id.
type Store interface {
	AppendBatch(ctx context.Context, events []PersistedEvent) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	WriteSnapshot(ctx context.Context, snapshot Snapshot) error
	// Compact drops events whose parent version is below beforeVersion;
	// callers only compact below an existing snapshot.
	Compact(ctx context.Context, beforeVersion uint64) error
	// Replay returns events whose parent version is at or after fromVersion,
	// in order.
	Replay(ctx context.Context, fromVersion uint64) ([]PersistedEvent, error)
}
