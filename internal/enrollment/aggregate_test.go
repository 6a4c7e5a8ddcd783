package enrollment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusforge/enrollment-engine/internal/eventstore"
)

func TestReplayStudentEnrollThenDrop(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()

	_, err := store.Append(ctx, "student:s1", 0, eventstore.EventStudentEnrolled, "req-1",
		EnrolledPayload{EnrollmentID: "e1", SectionID: "SEC1", Credits: 3})
	require.NoError(t, err)

	events, err := store.Load(ctx, "student:s1", 0)
	require.NoError(t, err)

	agg, err := ReplayStudent("s1", StudentAggregate{}, events)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.CreditsThisTerm)
	assert.True(t, agg.HasActiveEnrollmentIn("SEC1"))

	_, err = store.Append(ctx, "student:s1", 1, eventstore.EventEnrollmentDropped, "req-2",
		DroppedPayload{EnrollmentID: "e1"})
	require.NoError(t, err)

	events, err = store.Load(ctx, "student:s1", 0)
	require.NoError(t, err)
	agg, err = ReplayStudent("s1", StudentAggregate{}, events)
	require.NoError(t, err)
	assert.Equal(t, 0, agg.CreditsThisTerm)
	assert.False(t, agg.HasActiveEnrollmentIn("SEC1"))
	assert.Equal(t, StatusDropped, agg.Enrollments["e1"].Status)
}

func TestReplayStudentWaitlistThenCancel(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()

	_, err := store.Append(ctx, "student:s1", 0, eventstore.EventStudentWaitlisted, "req-1",
		WaitlistedPayload{EnrollmentID: "e1", SectionID: "SEC1", Position: 1})
	require.NoError(t, err)

	events, err := store.Load(ctx, "student:s1", 0)
	require.NoError(t, err)
	agg, err := ReplayStudent("s1", StudentAggregate{}, events)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitlisted, agg.Enrollments["e1"].Status)
	assert.False(t, agg.HasActiveEnrollmentIn("SEC1"), "a waitlisted seat is not an active enrollment")

	_, err = store.Append(ctx, "student:s1", 1, eventstore.EventWaitlistCancelled, "req-2",
		WaitlistCancelledPayload{EnrollmentID: "e1"})
	require.NoError(t, err)

	events, err = store.Load(ctx, "student:s1", 0)
	require.NoError(t, err)
	agg, err = ReplayStudent("s1", StudentAggregate{}, events)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, agg.Enrollments["e1"].Status)
}

func TestReplaySectionTracksCapacityAndWaitlist(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()

	_, err := store.Append(ctx, "section:SEC1", 0, eventstore.EventStudentEnrolled, "req-1",
		EnrolledPayload{EnrollmentID: "e1", SectionID: "SEC1"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "section:SEC1", 1, eventstore.EventStudentWaitlisted, "req-2",
		WaitlistedPayload{EnrollmentID: "e2", SectionID: "SEC1", Position: 1})
	require.NoError(t, err)

	events, err := store.Load(ctx, "section:SEC1", 0)
	require.NoError(t, err)
	agg, err := ReplaySection("SEC1", SectionAggregate{}, events)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.EnrolledCount)
	require.Len(t, agg.Waitlist, 1)
	assert.Equal(t, "e2", agg.Waitlist[0].EnrollmentID)

	_, err = store.Append(ctx, "section:SEC1", 2, eventstore.EventEnrollmentDropped, "req-3",
		DroppedPayload{EnrollmentID: "e1"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "section:SEC1", 3, eventstore.EventWaitlistPromoted, "req-4",
		EnrolledPayload{EnrollmentID: "e2", SectionID: "SEC1"})
	require.NoError(t, err)

	events, err = store.Load(ctx, "section:SEC1", 0)
	require.NoError(t, err)
	agg, err = ReplaySection("SEC1", SectionAggregate{}, events)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.EnrolledCount, "drop then promotion nets back to one enrolled")
	assert.Empty(t, agg.Waitlist, "a promoted waiter leaves the waitlist")
}

func TestReplayFromSnapshotOnlyAppliesLaterEvents(t *testing.T) {
	seed := StudentAggregate{
		StudentID:       "s1",
		Version:         1,
		CreditsThisTerm: 3,
		Enrollments: map[string]Enrollment{
			"e1": {EnrollmentID: "e1", SectionID: "SEC1", Status: StatusEnrolled, Credits: 3},
		},
	}
	env, err := eventstore.NewEnvelope("student:s1", "req-2", eventstore.EventEnrollmentDropped, DroppedPayload{EnrollmentID: "e1"})
	require.NoError(t, err)
	env.StreamVersion = 2

	agg, err := ReplayStudent("s1", seed, []eventstore.EventEnvelope{env})
	require.NoError(t, err)
	assert.Equal(t, 0, agg.CreditsThisTerm)
}
