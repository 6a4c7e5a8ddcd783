// Package policy implements the composable admission rules evaluated for
// every enrollment request, and the engine that orders, runs, and aggregates
// them into a verdict.
//
// Each policy is pure: it inspects a request, the target section, and a
// snapshot of the requesting student, and returns a Result. No policy ever
// mutates the section or student snapshot, and no policy performs I/O -
// everything it needs is handed to it.
package policy

import "time"

// Outcome is the kind of result a policy produced.
type Outcome int

const (
	// OutcomeAllow means the policy raised no objection.
	OutcomeAllow Outcome = iota
	// OutcomeDeny means the policy blocks the request outright.
	OutcomeDeny
	// OutcomeAllowWithCaveat means the policy allows the request but
	// attaches a caveat the engine must account for (today, only the
	// waitlist caveat exists).
	OutcomeAllowWithCaveat
)

// Reason codes surfaced on Deny and AllowWithCaveat results.
const (
	ReasonMissingPrereq = "MISSING_PREREQ"
	ReasonPoorStanding  = "POOR_STANDING"
	ReasonTimeConflict  = "TIME_CONFLICT"
	ReasonFull          = "FULL"
	ReasonCreditLimit   = "CREDIT_LIMIT"
	ReasonWindowClosed  = "WINDOW_CLOSED"

	CaveatWaitlist = "WAITLIST"
)

// Result is the outcome of evaluating a single policy.
type Result struct {
	PolicyName string
	Outcome    Outcome
	ReasonCode string // set on Deny and AllowWithCaveat
	Message    string
}

// Allow builds an Allow result for the named policy.
func Allow(policyName string) Result {
	return Result{PolicyName: policyName, Outcome: OutcomeAllow}
}

// Deny builds a Deny result for the named policy.
func Deny(policyName, reasonCode, message string) Result {
	return Result{PolicyName: policyName, Outcome: OutcomeDeny, ReasonCode: reasonCode, Message: message}
}

// AllowWithCaveat builds an AllowWithCaveat result for the named policy.
func AllowWithCaveat(policyName, caveatCode, message string) Result {
	return Result{PolicyName: policyName, Outcome: OutcomeAllowWithCaveat, ReasonCode: caveatCode, Message: message}
}

// EnrolledSection summarizes one of the student's currently enrolled
// sections, enough for TimeConflictPolicy to check overlap without needing
// the full section record.
type EnrolledSection struct {
	SectionID string
	Schedule  []TimeSlotView
}

// TimeSlotView avoids importing the schedule package's Day type into every
// caller; policies that need real overlap semantics convert at the edges.
type TimeSlotView struct {
	Day   int
	Start int
	End   int
}

// Section is the subset of externally-owned section metadata a policy needs.
type Section struct {
	SectionID        string
	CourseID         string
	Schedule         []TimeSlotView
	MaxCapacity      int
	EnrolledCount    int
	MaxWaitlist      int
	WaitlistSize     int
	InstructorID     string
	AddDropDeadline  time.Time
	Semester         string
	Prerequisites    []string
	MinStanding      int
	Credits          int
}

// StudentSnapshot is the subset of student state a policy needs: the
// profile collaborator data plus the student's own aggregate-derived state.
type StudentSnapshot struct {
	StudentID             string
	CompletedCourses      []string
	Standing              int
	PriorityWindowOpenAt  time.Time
	CreditsThisTerm       int
	CreditCap             int
	EnrolledSections      []EnrolledSection
}

// Environment carries ambient facts a policy may need that are neither part
// of the request, the section, nor the student (today: the current time).
type Environment struct {
	Now time.Time
}

// Request is the enrollment request under evaluation.
type Request struct {
	RequestID string
	StudentID string
	SectionID string
	SubmittedAt time.Time
}

// Policy is one admission rule. Priority determines evaluation order
// (ascending - lower runs first); ShortCircuitOnDeny determines whether a
// Deny from this policy stops evaluation immediately.
type Policy interface {
	Name() string
	Priority() int
	ShortCircuitOnDeny() bool
	Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result
}
