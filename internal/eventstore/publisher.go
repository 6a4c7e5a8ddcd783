package eventstore

import (
	"context"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/campusforge/enrollment-engine/pkg/messaging"
)

// StreamName is the JetStream stream every committed envelope is published
// onto, subject-partitioned by event type as enrollment.events.<type>.
const StreamName = "ENROLLMENT_EVENTS"

// SubjectPrefix is the subject namespace committed envelopes publish under.
const SubjectPrefix = "enrollment.events."

// PublishingStore decorates a Store so every successful Append is followed
// by a publish of the committed envelope onto the message bus, for
// out-of-process observers (audit mirrors, the notification collaborator).
// The durability commit inside the wrapped Store always happens before the
// publish; a publish failure is logged here but never unwinds an
// already-committed append.
type PublishingStore struct {
	Store
	msgClient *messaging.Client
}

// NewPublishingStore wraps store so every commit is followed by a publish
// onto SubjectPrefix+eventType.
func NewPublishingStore(store Store, msgClient *messaging.Client) *PublishingStore {
	return &PublishingStore{Store: store, msgClient: msgClient}
}

// EnsureStream idempotently creates the backing JetStream stream. Call once
// at startup before the first Append.
func (p *PublishingStore) EnsureStream() error {
	_, err := p.msgClient.EnsureStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + "*"},
		Storage:  nats.FileStorage,
	})
	return err
}

func (p *PublishingStore) Append(ctx context.Context, streamID string, expectedVersion int, eventType, causationID string, payload interface{}) (EventEnvelope, error) {
	env, err := p.Store.Append(ctx, streamID, expectedVersion, eventType, causationID, payload)
	if err != nil {
		return EventEnvelope{}, err
	}

	// The append already committed; a publish failure is logged, not
	// propagated, so a message bus outage never turns a successful write
	// into an apparent failure for the caller.
	subject := SubjectPrefix + env.Type
	if pubErr := p.msgClient.Publish(ctx, subject, env); pubErr != nil {
		log.Printf("eventstore: committed %s/%d but publish to %s failed: %v", streamID, env.StreamVersion, subject, pubErr)
	}
	return env, nil
}
