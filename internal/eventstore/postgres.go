package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// pqUniqueViolation is the error code Postgres raises for a unique-index
// violation (23505). A concurrent Append racing past the row lock and
// hitting the (stream_id, stream_version) unique index surfaces here.
const pqUniqueViolation = "23505"

// PostgresStore is the durable Store backing. Append locks the stream's
// latest row with SELECT ... FOR UPDATE and compares its version against
// expected_version in application code; the unique index on
// (stream_id, stream_version) is the storage key and catches the race the
// row lock cannot (two first appends to a brand-new stream).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB. Schema management
// (migrations) happens outside this package.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, streamID string, expectedVersion int, eventType, causationID string, payload interface{}) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("eventstore: marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("eventstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT stream_version FROM events WHERE stream_id = $1 ORDER BY stream_version DESC LIMIT 1 FOR UPDATE`,
		streamID,
	).Scan(&currentVersion)
	if err == sql.ErrNoRows {
		currentVersion = 0
	} else if err != nil {
		return EventEnvelope{}, fmt.Errorf("eventstore: lock stream: %w", err)
	}

	if currentVersion != expectedVersion {
		return EventEnvelope{}, &ErrConcurrencyConflict{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	env, err := NewEnvelope(streamID, causationID, eventType, json.RawMessage(raw))
	if err != nil {
		return EventEnvelope{}, err
	}
	env.StreamVersion = expectedVersion + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, stream_id, stream_version, occurred_at, causation_id, type, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		env.EventID, env.StreamID, env.StreamVersion, env.OccurredAt, env.CausationID, env.Type, []byte(env.Payload),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return EventEnvelope{}, &ErrConcurrencyConflict{
				StreamID:        streamID,
				ExpectedVersion: expectedVersion,
				ActualVersion:   env.StreamVersion,
			}
		}
		return EventEnvelope{}, fmt.Errorf("eventstore: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return EventEnvelope{}, fmt.Errorf("eventstore: commit: %w", err)
	}

	return env, nil
}

func (s *PostgresStore) Load(ctx context.Context, streamID string, fromVersion int) ([]EventEnvelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, stream_id, stream_version, occurred_at, causation_id, type, payload
		 FROM events WHERE stream_id = $1 AND stream_version > $2 ORDER BY stream_version ASC`,
		streamID, fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("eventstore: load stream: %w", err)
	}
	defer rows.Close()

	var events []EventEnvelope
	for rows.Next() {
		var env EventEnvelope
		var payload []byte
		if err := rows.Scan(&env.EventID, &env.StreamID, &env.StreamVersion, &env.OccurredAt, &env.CausationID, &env.Type, &payload); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		env.Payload = payload
		events = append(events, env)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CurrentVersion(ctx context.Context, streamID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(stream_version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("eventstore: current version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (stream_id, version, state, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (stream_id) DO UPDATE SET version = $2, state = $3, saved_at = $4
		 WHERE snapshots.version < $2`,
		snap.StreamID, snap.Version, []byte(snap.State), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("eventstore: save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByCausationID(ctx context.Context, causationID string) (EventEnvelope, bool, error) {
	var env EventEnvelope
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, stream_id, stream_version, occurred_at, causation_id, type, payload
		 FROM events WHERE causation_id = $1 LIMIT 1`,
		causationID,
	).Scan(&env.EventID, &env.StreamID, &env.StreamVersion, &env.OccurredAt, &env.CausationID, &env.Type, &payload)
	if err == sql.ErrNoRows {
		return EventEnvelope{}, false, nil
	}
	if err != nil {
		return EventEnvelope{}, false, fmt.Errorf("eventstore: find by causation id: %w", err)
	}
	env.Payload = payload
	return env, true, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, streamID string) (Snapshot, bool, error) {
	var snap Snapshot
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_id, version, state, saved_at FROM snapshots WHERE stream_id = $1`,
		streamID,
	).Scan(&snap.StreamID, &snap.Version, &state, &snap.SavedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("eventstore: latest snapshot: %w", err)
	}
	snap.State = state
	return snap, true, nil
}
