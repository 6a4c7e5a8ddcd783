// Package enrollment implements the event-sourced student/section
// aggregates and the coordinator that drives submit_enrollment,
// drop_enrollment, and audit_state against them.
package enrollment

import (
	"time"

	"github.com/campusforge/enrollment-engine/internal/eventstore"
)

// Status is the lifecycle state of one enrollment.
type Status int

const (
	StatusEnrolled Status = iota
	StatusWaitlisted
	StatusDropped
	StatusCancelled
)

// Enrollment is derived purely from events; it is never mutated in place -
// a status change is always a new event folded into a new value.
type Enrollment struct {
	EnrollmentID string
	SectionID    string
	Status       Status
	Credits      int
	EnrolledAt   time.Time
	DroppedAt    time.Time
}

// StudentAggregate is the replayed state of one student's stream.
type StudentAggregate struct {
	StudentID        string
	Version          int
	Enrollments      map[string]Enrollment // by enrollment_id
	CreditsThisTerm  int
	LastEventSeq     int
}

// ActiveEnrollments returns every enrollment currently in enrolled status.
func (s StudentAggregate) ActiveEnrollments() []Enrollment {
	var out []Enrollment
	for _, e := range s.Enrollments {
		if e.Status == StatusEnrolled {
			out = append(out, e)
		}
	}
	return out
}

// HasActiveEnrollmentIn reports whether the student holds an enrolled
// (not waitlisted, dropped, or cancelled) seat in sectionID - invariant I3.
func (s StudentAggregate) HasActiveEnrollmentIn(sectionID string) bool {
	for _, e := range s.Enrollments {
		if e.SectionID == sectionID && e.Status == StatusEnrolled {
			return true
		}
	}
	return false
}

// Waiter is one entry in a section's FIFO waitlist.
type Waiter struct {
	StudentID    string
	EnrollmentID string
}

// SectionAggregate is the replayed state of one section's stream.
type SectionAggregate struct {
	SectionID     string
	Version       int
	EnrolledCount int
	Waitlist      []Waiter // ordered, head is next to promote
}

// EnrolledPayload is the event payload for EventStudentEnrolled /
// EventWaitlistPromoted (promotion folds identically to a fresh enroll).
type EnrolledPayload struct {
	EnrollmentID string `json:"enrollment_id"`
	SectionID    string `json:"section_id"`
	Credits      int    `json:"credits"`
}

// WaitlistedPayload is the event payload for EventStudentWaitlisted.
type WaitlistedPayload struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id"`
	SectionID    string `json:"section_id"`
	Position     int    `json:"position"`
}

// DroppedPayload is the event payload for EventEnrollmentDropped.
type DroppedPayload struct {
	EnrollmentID string `json:"enrollment_id"`
}

// RejectedPayload is the event payload for EventEnrollmentDenied.
type RejectedPayload struct {
	RequestID  string `json:"request_id"`
	ReasonCode string `json:"reason_code"`
}

// WaitlistCancelledPayload is the event payload for the compensating
// cancellation appended when a dual-append's second leg fails.
type WaitlistCancelledPayload struct {
	EnrollmentID string `json:"enrollment_id"`
}

// CapacityPayload is the section-stream payload of StudentEnrolled and
// WaitlistPromoted, each of which consumes one seat. A seat is released by
// EnrollmentDropped, which carries a DroppedPayload.
type CapacityPayload struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id"`
}

// ApplyStudentEvent folds one envelope into a StudentAggregate, returning
// the new state. It never mutates state in place.
func ApplyStudentEvent(state StudentAggregate, env eventstore.EventEnvelope) (StudentAggregate, error) {
	next := state
	next.Version = env.StreamVersion
	next.LastEventSeq = env.StreamVersion
	if next.Enrollments == nil {
		next.Enrollments = make(map[string]Enrollment)
	} else {
		cloned := make(map[string]Enrollment, len(next.Enrollments))
		for k, v := range next.Enrollments {
			cloned[k] = v
		}
		next.Enrollments = cloned
	}

	switch env.Type {
	case eventstore.EventStudentEnrolled, eventstore.EventWaitlistPromoted:
		p, err := eventstore.DecodePayload[EnrolledPayload](env)
		if err != nil {
			return state, err
		}
		next.Enrollments[p.EnrollmentID] = Enrollment{
			EnrollmentID: p.EnrollmentID,
			SectionID:    p.SectionID,
			Status:       StatusEnrolled,
			Credits:      p.Credits,
			EnrolledAt:   env.OccurredAt,
		}
		next.CreditsThisTerm += p.Credits

	case eventstore.EventStudentWaitlisted:
		p, err := eventstore.DecodePayload[WaitlistedPayload](env)
		if err != nil {
			return state, err
		}
		next.Enrollments[p.EnrollmentID] = Enrollment{
			EnrollmentID: p.EnrollmentID,
			SectionID:    p.SectionID,
			Status:       StatusWaitlisted,
		}

	case eventstore.EventEnrollmentDropped:
		p, err := eventstore.DecodePayload[DroppedPayload](env)
		if err != nil {
			return state, err
		}
		if e, ok := next.Enrollments[p.EnrollmentID]; ok {
			if e.Status == StatusEnrolled {
				next.CreditsThisTerm -= e.Credits
			}
			e.Status = StatusDropped
			e.DroppedAt = env.OccurredAt
			next.Enrollments[p.EnrollmentID] = e
		}

	case eventstore.EventWaitlistCancelled:
		p, err := eventstore.DecodePayload[WaitlistCancelledPayload](env)
		if err != nil {
			return state, err
		}
		if e, ok := next.Enrollments[p.EnrollmentID]; ok {
			if e.Status == StatusEnrolled {
				next.CreditsThisTerm -= e.Credits
			}
			e.Status = StatusCancelled
			next.Enrollments[p.EnrollmentID] = e
		}

	case eventstore.EventEnrollmentDenied, eventstore.EventEnrollmentRequested:
		// Recorded for audit only; no aggregate state changes.
	}

	return next, nil
}

// ApplySectionEvent folds one envelope into a SectionAggregate.
func ApplySectionEvent(state SectionAggregate, env eventstore.EventEnvelope) (SectionAggregate, error) {
	next := state
	next.Version = env.StreamVersion
	next.Waitlist = append([]Waiter(nil), next.Waitlist...)

	switch env.Type {
	case eventstore.EventStudentEnrolled:
		next.EnrolledCount++

	case eventstore.EventWaitlistPromoted:
		p, err := eventstore.DecodePayload[EnrolledPayload](env)
		if err != nil {
			return state, err
		}
		next.EnrolledCount++
		filtered := next.Waitlist[:0]
		for _, w := range next.Waitlist {
			if w.EnrollmentID != p.EnrollmentID {
				filtered = append(filtered, w)
			}
		}
		next.Waitlist = filtered

	case eventstore.EventStudentWaitlisted:
		p, err := eventstore.DecodePayload[WaitlistedPayload](env)
		if err != nil {
			return state, err
		}
		next.Waitlist = append(next.Waitlist, Waiter{EnrollmentID: p.EnrollmentID, StudentID: p.StudentID})

	case eventstore.EventEnrollmentDropped:
		next.EnrolledCount--

	case eventstore.EventWaitlistCancelled:
		p, err := eventstore.DecodePayload[WaitlistCancelledPayload](env)
		if err != nil {
			return state, err
		}
		filtered := next.Waitlist[:0]
		for _, w := range next.Waitlist {
			if w.EnrollmentID != p.EnrollmentID {
				filtered = append(filtered, w)
			}
		}
		next.Waitlist = filtered
	}

	return next, nil
}

// ReplayStudent folds a full list of envelopes into a StudentAggregate,
// starting from a zero-value aggregate unless seed is supplied (the result
// of a prior snapshot).
func ReplayStudent(studentID string, seed StudentAggregate, events []eventstore.EventEnvelope) (StudentAggregate, error) {
	state := seed
	if state.StudentID == "" {
		state.StudentID = studentID
	}
	for _, env := range events {
		var err error
		state, err = ApplyStudentEvent(state, env)
		if err != nil {
			return StudentAggregate{}, err
		}
	}
	return state, nil
}

// ReplaySection folds a full list of envelopes into a SectionAggregate.
func ReplaySection(sectionID string, seed SectionAggregate, events []eventstore.EventEnvelope) (SectionAggregate, error) {
	state := seed
	if state.SectionID == "" {
		state.SectionID = sectionID
	}
	for _, env := range events {
		var err error
		state, err = ApplySectionEvent(state, env)
		if err != nil {
			return SectionAggregate{}, err
		}
	}
	return state, nil
}
