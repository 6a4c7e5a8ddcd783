// Package eventstore is the append-only, stream-partitioned event log
// backing every aggregate in the enrollment engine. A stream is identified
// by stream_id (one stream per student, one per section); every append is
// guarded by an expected_version check so two concurrent writers to the
// same stream can never both succeed.
package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants, one per DomainEvent variant the coordinator emits.
const (
	EventEnrollmentRequested  = "EnrollmentRequested"
	EventStudentEnrolled      = "StudentEnrolled"
	EventStudentWaitlisted    = "StudentWaitlisted"
	EventEnrollmentDenied     = "EnrollmentDenied"
	EventEnrollmentDropped    = "EnrollmentDropped"
	EventWaitlistPromoted     = "WaitlistPromoted"
	EventWaitlistCancelled    = "WaitlistCancelled"
)

// EventEnvelope is the canonical wire and storage representation of one
// committed domain event. This supersedes the several overlapping
// event-shaped structs this stack used to carry per service; every stream,
// regardless of aggregate type, stores and emits exactly this shape.
type EventEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	StreamVersion int             `json:"stream_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CausationID   string          `json:"causation_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh event ID and the current
// time, leaving StreamVersion for the store to assign on commit.
func NewEnvelope(streamID, causationID, eventType string, payload interface{}) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		EventID:     uuid.New(),
		StreamID:    streamID,
		CausationID: causationID,
		Type:        eventType,
		Payload:     raw,
		OccurredAt:  time.Now(),
	}, nil
}

// DecodePayload unmarshals an envelope's payload into a concrete event
// struct.
func DecodePayload[T any](env EventEnvelope) (T, error) {
	var out T
	err := json.Unmarshal(env.Payload, &out)
	return out, err
}

// Snapshot is a point-in-time materialization of a stream's folded state,
// used to bound replay cost on long-lived streams.
type Snapshot struct {
	StreamID string
	Version  int
	State    json.RawMessage
	SavedAt  time.Time
}
