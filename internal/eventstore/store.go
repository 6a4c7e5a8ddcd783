package eventstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrConcurrencyConflict is returned by Append when expected_version does
// not match the stream's current version. ActualVersion carries the
// version the caller should have supplied, so the caller can decide
// whether to retry (after reloading) or surface the conflict.
type ErrConcurrencyConflict struct {
	StreamID       string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ErrConcurrencyConflict) Error() string {
	return fmt.Sprintf("eventstore: concurrency conflict on stream %s: expected version %d, actual %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// ErrStreamNotFound names a stream that has never had anything appended to
// it. Neither MemoryStore nor PostgresStore returns it: Load and Replay on
// such a stream return no events and a nil error.
var ErrStreamNotFound = errors.New("eventstore: stream not found")

// Store is the append-only, stream-partitioned event log contract every
// aggregate is built on.
type Store interface {
	// Append commits event onto stream_id, assigning stream_version =
	// expected_version + 1. If the stream's current version does not
	// equal expected_version, it fails with *ErrConcurrencyConflict and
	// commits nothing.
	Append(ctx context.Context, streamID string, expectedVersion int, eventType, causationID string, payload interface{}) (EventEnvelope, error)

	// Load returns every envelope on stream_id from fromVersion (exclusive)
	// onward, in version order. fromVersion of 0 loads the whole stream.
	Load(ctx context.Context, streamID string, fromVersion int) ([]EventEnvelope, error)

	// CurrentVersion returns the stream's current version, or 0 if the
	// stream has never been appended to.
	CurrentVersion(ctx context.Context, streamID string) (int, error)

	// SaveSnapshot persists a fold of the stream's state as of version.
	// Failure to save is never fatal to the caller; it only means replay
	// starts further back next time.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LatestSnapshot returns the most recent snapshot for a stream, or
	// (Snapshot{}, false, nil) if none exists.
	LatestSnapshot(ctx context.Context, streamID string) (Snapshot, bool, error)

	// FindByCausationID returns the first committed envelope carrying
	// causationID, if any. The coordinator uses this for request
	// idempotency: a resubmission of the same request_id must never
	// append twice.
	FindByCausationID(ctx context.Context, causationID string) (EventEnvelope, bool, error)
}

// Replay loads a snapshot (if any) plus every envelope after it, ready for
// a caller to fold into current state. It never loads more of the stream
// than necessary.
func Replay(ctx context.Context, store Store, streamID string) (Snapshot, []EventEnvelope, error) {
	snap, ok, err := store.LatestSnapshot(ctx, streamID)
	if err != nil {
		return Snapshot{}, nil, err
	}
	fromVersion := 0
	if ok {
		fromVersion = snap.Version
	}
	events, err := store.Load(ctx, streamID, fromVersion)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, events, nil
}
