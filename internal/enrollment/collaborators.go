package enrollment

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a collaborator when the requested section or
// student does not exist.
var ErrNotFound = errors.New("enrollment: not found")

// ErrCollaboratorUnavailable is returned by a collaborator on a transient
// failure (timeout, connection refused); the coordinator maps this to
// Denied(TRANSIENT) without appending anything.
var ErrCollaboratorUnavailable = errors.New("enrollment: collaborator unavailable")

// SectionView is the externally owned section metadata the coordinator
// reads on every submission. The notification/registrar systems that own
// this data are out of scope; the coordinator only ever reads it.
type SectionView struct {
	SectionID       string
	CourseID        string
	Schedule        []SectionTimeSlot
	MaxCapacity     int
	MaxWaitlist     int
	InstructorID    string
	AddDropDeadline time.Time
	Semester        string
	Prerequisites   []string
	MinStanding     int
	Credits         int
}

// SectionTimeSlot mirrors schedule.TimeSlot without importing the Day enum
// into the collaborator boundary, keeping the external contract a plain
// value shape.
type SectionTimeSlot struct {
	Day   int
	Start int
	End   int
}

// StudentProfileView is the externally owned student metadata the
// coordinator reads on every submission.
type StudentProfileView struct {
	StudentID            string
	CompletedCourses     []string
	GPA                  float64
	Standing             int
	PriorityWindowOpenAt time.Time
	// CreditCap is the student's term credit-hour ceiling. Zero means the
	// registrar has no override on file; the coordinator falls back to its
	// configured default cap.
	CreditCap int
}

// SectionCollaborator fetches section metadata. Implementations may call
// out to another service; the coordinator treats any error other than
// ErrNotFound as transient.
type SectionCollaborator interface {
	GetSection(ctx context.Context, sectionID string) (SectionView, error)
}

// StudentProfileCollaborator fetches student profile metadata.
type StudentProfileCollaborator interface {
	GetStudentProfile(ctx context.Context, studentID string) (StudentProfileView, error)
}
