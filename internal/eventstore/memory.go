package eventstore

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by the coordinator's
// own test harness. It implements the identical optimistic-concurrency
// contract as PostgresStore so aggregate and coordinator logic can be
// exercised without a database.
type MemoryStore struct {
	mu        sync.Mutex
	streams   map[string][]EventEnvelope
	snapshots map[string]Snapshot
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   make(map[string][]EventEnvelope),
		snapshots: make(map[string]Snapshot),
	}
}

func (s *MemoryStore) Append(ctx context.Context, streamID string, expectedVersion int, eventType, causationID string, payload interface{}) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.streams[streamID])
	if current != expectedVersion {
		return EventEnvelope{}, &ErrConcurrencyConflict{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current,
		}
	}

	env, err := NewEnvelope(streamID, causationID, eventType, json.RawMessage(raw))
	if err != nil {
		return EventEnvelope{}, err
	}
	env.StreamVersion = expectedVersion + 1
	s.streams[streamID] = append(s.streams[streamID], env)
	return env, nil
}

func (s *MemoryStore) Load(ctx context.Context, streamID string, fromVersion int) ([]EventEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.streams[streamID]
	var out []EventEnvelope
	for _, env := range all {
		if env.StreamVersion > fromVersion {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *MemoryStore) CurrentVersion(ctx context.Context, streamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[streamID]), nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snapshots[snap.StreamID]; ok && existing.Version >= snap.Version {
		return nil
	}
	s.snapshots[snap.StreamID] = snap
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context, streamID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[streamID]
	return snap, ok, nil
}

func (s *MemoryStore) FindByCausationID(ctx context.Context, causationID string) (EventEnvelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, events := range s.streams {
		for _, env := range events {
			if env.CausationID == causationID {
				return env, true, nil
			}
		}
	}
	return EventEnvelope{}, false, nil
}
