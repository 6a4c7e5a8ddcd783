package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/campusforge/enrollment-engine/internal/audit"
	"github.com/campusforge/enrollment-engine/internal/eventstore"
	"github.com/campusforge/enrollment-engine/internal/lockmgr"
	"github.com/campusforge/enrollment-engine/internal/policy"
)

// Reason codes specific to the coordinator (as opposed to the policy
// library's reason codes, which it also surfaces verbatim on Denied).
const (
	ReasonBusy              = "BUSY"
	ReasonTransient         = "TRANSIENT"
	ReasonTimeout           = "TIMEOUT"
	ReasonUnknownSection    = "UNKNOWN_SECTION"
	ReasonUnknownStudent    = "UNKNOWN_STUDENT"
	ReasonDeadlinePassed    = "DEADLINE_PASSED"
	ReasonUnauthorized      = "UNAUTHORIZED"
	ReasonForbidden         = "FORBIDDEN"
	ReasonUnknownEnrollment = "UNKNOWN_ENROLLMENT"
	ReasonAlreadyDropped    = "ALREADY_DROPPED"
)

// VerdictKind is the coordinator's top-level decision for a request.
type VerdictKind int

const (
	DecisionEnrolled VerdictKind = iota
	DecisionWaitlisted
	DecisionDenied
	// DecisionNoChange reports a no-op: the caller asked for a state change
	// that has already happened (dropping an already-dropped/cancelled
	// enrollment). It is not an error and not a fresh outcome - the
	// response simply echoes the enrollment's current status.
	DecisionNoChange
)

// Decision is returned by every coordinator operation.
type Decision struct {
	Verdict      VerdictKind
	EnrollmentID string
	ReasonCode   string
	Message      string
	PolicyTrace  []policy.TraceEntry
}

// Actor identifies the caller of a coordinator operation, resolved from
// the bearer token upstream of this package.
type Actor struct {
	ID      string
	IsAdmin bool
}

func (a Actor) authorizedFor(studentID string) bool {
	return a.IsAdmin || a.ID == studentID
}

// Config tunes the coordinator's timing and retry behavior.
type Config struct {
	WaitTimeout      time.Duration // default 5s
	HoldTTL          time.Duration // default 30s
	MaxRetries       int           // default 3
	RetryBaseDelay   time.Duration // default 10ms
	RetryCap         time.Duration // default 500ms
	SnapshotInterval int           // default 100
	CreditCapDefault int           // used when a student profile carries no override
}

// DefaultConfig returns the spec's default timing constants.
func DefaultConfig() Config {
	return Config{
		WaitTimeout:      5 * time.Second,
		HoldTTL:          30 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   10 * time.Millisecond,
		RetryCap:         500 * time.Millisecond,
		SnapshotInterval: 100,
		CreditCapDefault: 18,
	}
}

// Coordinator drives submit_enrollment, drop_enrollment, and audit_state
// against the event store, lock manager, and policy engine.
type Coordinator struct {
	store    eventstore.Store
	locks    *lockmgr.Manager
	engine   *policy.Engine
	cache    *AggregateCache
	sections SectionCollaborator
	profiles StudentProfileCollaborator
	auditLog *audit.Chain
	cfg      Config

	replaySF singleflight.Group
}

// NewCoordinator wires the coordinator's collaborators together.
func NewCoordinator(
	store eventstore.Store,
	locks *lockmgr.Manager,
	engine *policy.Engine,
	cache *AggregateCache,
	sections SectionCollaborator,
	profiles StudentProfileCollaborator,
	auditLog *audit.Chain,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		store:    store,
		locks:    locks,
		engine:   engine,
		cache:    cache,
		sections: sections,
		profiles: profiles,
		auditLog: auditLog,
		cfg:      cfg,
	}
}

// StudentView replays a student's stream for read-only callers (the
// gateway's GET enrollments), bypassing the idempotency/lock/policy
// machinery that SubmitEnrollment and DropEnrollment need.
func (c *Coordinator) StudentView(ctx context.Context, studentID string) (StudentAggregate, error) {
	return c.loadStudent(ctx, studentID)
}

func studentStreamID(studentID string) string { return "student:" + studentID }
func sectionStreamID(sectionID string) string { return "section:" + sectionID }

// loadStudent replays (or fetches from cache) the student's aggregate,
// collapsing concurrent replays of the same stream into one in-flight
// call via singleflight - a hot section accepting many simultaneous
// requests should not cause N redundant replays of the same student.
func (c *Coordinator) loadStudent(ctx context.Context, studentID string) (StudentAggregate, error) {
	if agg, ok := c.cache.GetStudent(ctx, studentID); ok {
		return agg, nil
	}

	v, err, _ := c.replaySF.Do("student:"+studentID, func() (interface{}, error) {
		snap, events, err := eventstore.Replay(ctx, c.store, studentStreamID(studentID))
		if err != nil {
			return StudentAggregate{}, err
		}
		var seed StudentAggregate
		if snap.Version > 0 {
			if err := json.Unmarshal(snap.State, &seed); err != nil {
				return StudentAggregate{}, err
			}
		}
		agg, err := ReplayStudent(studentID, seed, events)
		if err != nil {
			return StudentAggregate{}, err
		}
		c.cache.PutStudent(ctx, agg)
		return agg, nil
	})
	if err != nil {
		return StudentAggregate{}, err
	}
	return v.(StudentAggregate), nil
}

func (c *Coordinator) loadSection(ctx context.Context, sectionID string) (SectionAggregate, error) {
	if agg, ok := c.cache.GetSection(ctx, sectionID); ok {
		return agg, nil
	}

	v, err, _ := c.replaySF.Do("section:"+sectionID, func() (interface{}, error) {
		snap, events, err := eventstore.Replay(ctx, c.store, sectionStreamID(sectionID))
		if err != nil {
			return SectionAggregate{}, err
		}
		var seed SectionAggregate
		if snap.Version > 0 {
			if err := json.Unmarshal(snap.State, &seed); err != nil {
				return SectionAggregate{}, err
			}
		}
		agg, err := ReplaySection(sectionID, seed, events)
		if err != nil {
			return SectionAggregate{}, err
		}
		c.cache.PutSection(ctx, agg)
		return agg, nil
	})
	if err != nil {
		return SectionAggregate{}, err
	}
	return v.(SectionAggregate), nil
}

// SubmitEnrollment implements the nine-step admission protocol.
func (c *Coordinator) SubmitEnrollment(ctx context.Context, actor Actor, req policy.Request) (Decision, error) {
	log.Printf("coordinator: submit_enrollment start request_id=%s student_id=%s section_id=%s", req.RequestID, req.StudentID, req.SectionID)

	// Step 1: authorize.
	if !actor.authorizedFor(req.StudentID) {
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonForbidden}, nil
	}

	// Step 2: request idempotency.
	if env, found, err := c.store.FindByCausationID(ctx, req.RequestID); err == nil && found {
		return decisionFromEnvelope(env), nil
	}

	// Collaborator reads happen before the lock: they are read-only and
	// must not hold section serialization hostage to an external call.
	section, err := c.sections.GetSection(ctx, req.SectionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{Verdict: DecisionDenied, ReasonCode: ReasonUnknownSection}, nil
		}
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonTransient}, nil
	}
	profile, err := c.profiles.GetStudentProfile(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{Verdict: DecisionDenied, ReasonCode: ReasonUnknownStudent}, nil
		}
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonTransient}, nil
	}

	lockName := lockmgr.SectionLockName(req.SectionID)
	owner := req.RequestID

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff(c.cfg.RetryBaseDelay, c.cfg.RetryCap, attempt)
		}

		// Step 3: acquire the section lock.
		if _, err := c.locks.Acquire(lockName, owner, c.cfg.HoldTTL, c.cfg.WaitTimeout); err != nil {
			return Decision{Verdict: DecisionDenied, ReasonCode: ReasonBusy}, nil
		}

		decision, retryable, err := c.attemptSubmit(ctx, actor, req, section, profile)
		_ = c.locks.Release(lockName, owner)
		if err != nil {
			return Decision{}, err
		}
		if retryable {
			log.Printf("coordinator: submit_enrollment concurrency retry request_id=%s student_id=%s section_id=%s attempt=%d", req.RequestID, req.StudentID, req.SectionID, attempt)
			continue
		}
		log.Printf("coordinator: submit_enrollment done request_id=%s student_id=%s section_id=%s reason_code=%s", req.RequestID, req.StudentID, req.SectionID, decision.ReasonCode)
		return decision, nil
	}

	log.Printf("coordinator: submit_enrollment exhausted retries request_id=%s student_id=%s section_id=%s", req.RequestID, req.StudentID, req.SectionID)
	return Decision{Verdict: DecisionDenied, ReasonCode: ReasonBusy}, nil
}

// attemptSubmit runs steps 4-9 of submit_enrollment once, assuming the
// section lock is already held. It returns retryable=true only when a
// ConcurrencyConflict means the whole attempt must be redone from a fresh
// replay.
func (c *Coordinator) attemptSubmit(ctx context.Context, actor Actor, req policy.Request, section SectionView, profile StudentProfileView) (Decision, bool, error) {
	studentAgg, err := c.loadStudent(ctx, req.StudentID)
	if err != nil {
		return Decision{}, false, fmt.Errorf("enrollment: replay student stream: %w", err)
	}
	sectionAgg, err := c.loadSection(ctx, req.SectionID)
	if err != nil {
		return Decision{}, false, fmt.Errorf("enrollment: replay section stream: %w", err)
	}

	beforeSummary := summarizeStudent(studentAgg)

	studentSnapshot, err := c.toStudentSnapshot(ctx, profile, studentAgg)
	if err != nil {
		return Decision{}, false, fmt.Errorf("enrollment: resolve enrolled section schedules: %w", err)
	}
	verdict := c.engine.Evaluate(req, toPolicySection(section, sectionAgg), studentSnapshot, policy.Environment{Now: time.Now()})

	var decision Decision
	var retryable bool
	var appendErr error

	switch verdict.Outcome {
	case policy.VerdictDeny:
		decision, appendErr = c.recordRejection(ctx, req, studentAgg.Version, verdict)
	case policy.VerdictWaitlist:
		decision, retryable, appendErr = c.recordWaitlist(ctx, req, section, studentAgg, sectionAgg, verdict)
	default:
		decision, retryable, appendErr = c.recordEnrollment(ctx, req, section, studentAgg, sectionAgg, verdict)
	}

	if appendErr != nil {
		var conflict *eventstore.ErrConcurrencyConflict
		if errors.As(appendErr, &conflict) {
			// A stale cached aggregate caused the stale expected_version; drop
			// it so the next attempt replays fresh instead of repeating the
			// same conflict forever.
			c.cache.InvalidateStudent(ctx, req.StudentID)
			c.cache.InvalidateSection(ctx, req.SectionID)
			return Decision{}, true, nil
		}
		return Decision{}, false, appendErr
	}
	if retryable {
		c.cache.InvalidateStudent(ctx, req.StudentID)
		c.cache.InvalidateSection(ctx, req.SectionID)
		return Decision{}, true, nil
	}

	c.cache.InvalidateStudent(ctx, req.StudentID)
	c.cache.InvalidateSection(ctx, req.SectionID)

	// Step 9: audit entry.
	afterSummary := decision
	c.appendAudit(actor.ID, auditActionFor(decision), req.SectionID, beforeSummary, afterSummary)

	return decision, false, nil
}

func (c *Coordinator) recordRejection(ctx context.Context, req policy.Request, studentVersion int, verdict policy.Verdict) (Decision, error) {
	_, err := c.store.Append(ctx, studentStreamID(req.StudentID), studentVersion,
		eventstore.EventEnrollmentDenied, req.RequestID,
		RejectedPayload{RequestID: req.RequestID, ReasonCode: verdict.ReasonCode})
	if err != nil {
		return Decision{}, err
	}
	return Decision{Verdict: DecisionDenied, ReasonCode: verdict.ReasonCode, PolicyTrace: verdict.Trace}, nil
}

func (c *Coordinator) recordWaitlist(ctx context.Context, req policy.Request, section SectionView, studentAgg StudentAggregate, sectionAgg SectionAggregate, verdict policy.Verdict) (Decision, bool, error) {
	enrollmentID := req.RequestID
	position := len(sectionAgg.Waitlist) + 1

	studentPayload := WaitlistedPayload{EnrollmentID: enrollmentID, StudentID: req.StudentID, SectionID: req.SectionID, Position: position}
	sectionPayload := WaitlistedPayload{EnrollmentID: enrollmentID, StudentID: req.StudentID, SectionID: req.SectionID, Position: position}

	g, gctx := errgroup.WithContext(ctx)
	var studentErr, sectionErr error
	g.Go(func() error {
		_, studentErr = c.store.Append(gctx, studentStreamID(req.StudentID), studentAgg.Version,
			eventstore.EventStudentWaitlisted, req.RequestID, studentPayload)
		return studentErr
	})
	g.Go(func() error {
		_, sectionErr = c.store.Append(gctx, sectionStreamID(req.SectionID), sectionAgg.Version,
			eventstore.EventStudentWaitlisted, req.RequestID, sectionPayload)
		return sectionErr
	})
	_ = g.Wait()

	if studentErr == nil && sectionErr == nil {
		return Decision{Verdict: DecisionWaitlisted, EnrollmentID: enrollmentID, ReasonCode: verdict.CaveatCode, PolicyTrace: verdict.Trace}, false, nil
	}

	if studentErr != nil {
		return Decision{}, false, studentErr
	}
	if sectionErr != nil {
		// Student leg succeeded, section leg failed: append a compensating
		// cancellation so net aggregate state is unchanged, then surface
		// the original failure (conflict -> whole attempt retries).
		_, compErr := c.store.Append(ctx, studentStreamID(req.StudentID), studentAgg.Version+1,
			eventstore.EventWaitlistCancelled, req.RequestID, WaitlistCancelledPayload{EnrollmentID: enrollmentID})
		if compErr != nil {
			return Decision{}, false, fmt.Errorf("enrollment: compensating cancel failed after partial waitlist: %w", compErr)
		}
		return Decision{}, false, sectionErr
	}
	return Decision{}, false, nil
}

func (c *Coordinator) recordEnrollment(ctx context.Context, req policy.Request, section SectionView, studentAgg StudentAggregate, sectionAgg SectionAggregate, verdict policy.Verdict) (Decision, bool, error) {
	enrollmentID := req.RequestID

	g, gctx := errgroup.WithContext(ctx)
	var studentErr, sectionErr error
	g.Go(func() error {
		_, studentErr = c.store.Append(gctx, studentStreamID(req.StudentID), studentAgg.Version,
			eventstore.EventStudentEnrolled, req.RequestID,
			EnrolledPayload{EnrollmentID: enrollmentID, SectionID: req.SectionID, Credits: section.Credits})
		return studentErr
	})
	g.Go(func() error {
		_, sectionErr = c.store.Append(gctx, sectionStreamID(req.SectionID), sectionAgg.Version,
			eventstore.EventStudentEnrolled, req.RequestID,
			CapacityPayload{EnrollmentID: enrollmentID, StudentID: req.StudentID})
		return sectionErr
	})
	_ = g.Wait()

	if studentErr == nil && sectionErr == nil {
		return Decision{Verdict: DecisionEnrolled, EnrollmentID: enrollmentID, PolicyTrace: verdict.Trace}, false, nil
	}
	if studentErr != nil {
		return Decision{}, false, studentErr
	}
	// Section leg failed after the student leg committed: compensate by
	// cancelling the student-side grant rather than leaving a phantom
	// enrolled seat with no matching capacity consumption.
	_, compErr := c.store.Append(ctx, studentStreamID(req.StudentID), studentAgg.Version+1,
		eventstore.EventWaitlistCancelled, req.RequestID, WaitlistCancelledPayload{EnrollmentID: enrollmentID})
	if compErr != nil {
		return Decision{}, false, fmt.Errorf("enrollment: compensating cancel failed after partial enroll: %w", compErr)
	}
	return Decision{}, false, sectionErr
}

// DropEnrollment implements drop_enrollment, including head-of-waitlist
// promotion when the dropped section has a waiting student.
func (c *Coordinator) DropEnrollment(ctx context.Context, actor Actor, enrollmentID, studentID string) (Decision, error) {
	log.Printf("coordinator: drop_enrollment start enrollment_id=%s student_id=%s", enrollmentID, studentID)
	if !actor.authorizedFor(studentID) {
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonForbidden}, nil
	}

	studentAgg, err := c.loadStudent(ctx, studentID)
	if err != nil {
		return Decision{}, fmt.Errorf("enrollment: replay student stream: %w", err)
	}
	enr, ok := studentAgg.Enrollments[enrollmentID]
	if !ok {
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonUnknownEnrollment}, nil
	}
	if enr.Status != StatusEnrolled {
		// Already dropped/cancelled/waitlisted: a no-op that reports the
		// enrollment's current status rather than denying the request.
		return Decision{Verdict: noChangeVerdict(enr.Status), EnrollmentID: enrollmentID, ReasonCode: ReasonAlreadyDropped}, nil
	}

	section, err := c.sections.GetSection(ctx, enr.SectionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{Verdict: DecisionDenied, ReasonCode: ReasonUnknownSection}, nil
		}
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonTransient}, nil
	}
	if !section.AddDropDeadline.IsZero() && time.Now().After(section.AddDropDeadline) {
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonDeadlinePassed}, nil
	}

	lockName := lockmgr.SectionLockName(enr.SectionID)
	owner := "drop:" + enrollmentID
	if _, err := c.locks.Acquire(lockName, owner, c.cfg.HoldTTL, c.cfg.WaitTimeout); err != nil {
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonBusy}, nil
	}
	defer c.locks.Release(lockName, owner)

	sectionAgg, err := c.loadSection(ctx, enr.SectionID)
	if err != nil {
		return Decision{}, fmt.Errorf("enrollment: replay section stream: %w", err)
	}

	_, err = c.store.Append(ctx, studentStreamID(studentID), studentAgg.Version, eventstore.EventEnrollmentDropped,
		enrollmentID, DroppedPayload{EnrollmentID: enrollmentID})
	if err != nil {
		return Decision{}, fmt.Errorf("enrollment: append drop: %w", err)
	}
	_, err = c.store.Append(ctx, sectionStreamID(enr.SectionID), sectionAgg.Version, eventstore.EventEnrollmentDropped,
		enrollmentID, DroppedPayload{EnrollmentID: enrollmentID})
	if err != nil {
		return Decision{}, fmt.Errorf("enrollment: append capacity release: %w", err)
	}

	c.cache.InvalidateStudent(ctx, studentID)
	c.cache.InvalidateSection(ctx, enr.SectionID)

	decision := Decision{Verdict: DecisionEnrolled, EnrollmentID: enrollmentID, Message: "dropped"}

	// Promote the head waiter, if any. Failure here must not roll back
	// the drop; a background reconciler retries a stuck promotion.
	sectionAgg, err = c.loadSection(ctx, enr.SectionID)
	if err == nil && len(sectionAgg.Waitlist) > 0 {
		head := sectionAgg.Waitlist[0]
		c.promote(ctx, head, enr.SectionID, section.Credits)
	}

	c.appendAudit(actor.ID, "DROP", enr.SectionID, enr, decision)
	log.Printf("coordinator: drop_enrollment done enrollment_id=%s student_id=%s section_id=%s", enrollmentID, studentID, enr.SectionID)
	return decision, nil
}

// promote re-runs the full policy engine for the head waiter as a fresh
// enrollment attempt rather than granting the seat unconditionally: the
// student's standing, credit load, or schedule may have changed while they
// waited, and promotion grants no privileged bypass of those checks. A
// denial here simply leaves the student on the waitlist; a later drop in
// the section or the reconciler's periodic promotion sweep re-attempts it.
func (c *Coordinator) promote(ctx context.Context, head Waiter, sectionID string, credits int) {
	studentID := head.StudentID
	causationID := "promotion:" + head.EnrollmentID

	section, err := c.sections.GetSection(ctx, sectionID)
	if err != nil {
		return
	}
	profile, err := c.profiles.GetStudentProfile(ctx, studentID)
	if err != nil {
		return
	}
	studentAgg, err := c.loadStudent(ctx, studentID)
	if err != nil {
		return
	}
	sectionAgg, err := c.loadSection(ctx, sectionID)
	if err != nil {
		return
	}

	studentSnapshot, err := c.toStudentSnapshot(ctx, profile, studentAgg)
	if err != nil {
		return
	}
	req := policy.Request{RequestID: causationID, StudentID: studentID, SectionID: sectionID, SubmittedAt: time.Now()}
	verdict := c.engine.Evaluate(req, toPolicySection(section, sectionAgg), studentSnapshot, policy.Environment{Now: time.Now()})
	if verdict.Outcome != policy.VerdictEnroll {
		return
	}

	_, err = c.store.Append(ctx, studentStreamID(studentID), studentAgg.Version,
		eventstore.EventWaitlistPromoted, causationID,
		EnrolledPayload{EnrollmentID: head.EnrollmentID, SectionID: sectionID, Credits: credits})
	if err != nil {
		return
	}
	_, err = c.store.Append(ctx, sectionStreamID(sectionID), sectionAgg.Version,
		eventstore.EventWaitlistPromoted, causationID,
		CapacityPayload{EnrollmentID: head.EnrollmentID, StudentID: studentID})
	if err != nil {
		return
	}
	c.cache.InvalidateStudent(ctx, studentID)
	c.cache.InvalidateSection(ctx, sectionID)
}

// Violation describes one invariant breach surfaced by AuditState. Witness
// holds event IDs that demonstrate the breach; AuditState leaves it empty,
// so Detail is the only evidence in a report. AuditState never attempts to
// auto-repair.
type Violation struct {
	StreamID  string
	Invariant string
	Detail    string
	Witness   []string
}

// AuditReport is the result of one audit_state pass.
type AuditReport struct {
	GeneratedAt time.Time
	Violations  []Violation
	Stats       policy.Stats
}

// AuditState walks every given student and section stream, replaying each
// from scratch (bypassing the cache, since a cache bug is exactly the kind
// of thing an audit needs to catch) and checking the invariants that are
// cheap to verify from a single aggregate's replayed state:
//
//   - reported as "I1": CreditsThisTerm equals the sum of credits across
//     active enrollments. This is a credit bookkeeping check only; pairwise
//     time overlap between a student's active enrollments is not checked.
//   - I2: a section's EnrolledCount never exceeds its max capacity and its
//     waitlist never exceeds max_waitlist. Capacity figures are read from
//     the section collaborator, since they are not in the stream; a section
//     whose metadata cannot be read is skipped.
//   - I3: a student never holds two simultaneously active enrollments in
//     the same section.
func (c *Coordinator) AuditState(ctx context.Context, studentIDs, sectionIDs []string) (AuditReport, error) {
	report := AuditReport{GeneratedAt: time.Now(), Stats: c.engine.Stats()}

	for _, studentID := range studentIDs {
		events, err := c.store.Load(ctx, studentStreamID(studentID), 0)
		if err != nil {
			return AuditReport{}, fmt.Errorf("enrollment: audit load student %s: %w", studentID, err)
		}
		agg, err := ReplayStudent(studentID, StudentAggregate{}, events)
		if err != nil {
			return AuditReport{}, fmt.Errorf("enrollment: audit replay student %s: %w", studentID, err)
		}

		var computedCredits int
		bySection := make(map[string]int)
		for _, e := range agg.Enrollments {
			if e.Status != StatusEnrolled {
				continue
			}
			computedCredits += e.Credits
			bySection[e.SectionID]++
		}
		if computedCredits != agg.CreditsThisTerm {
			report.Violations = append(report.Violations, Violation{
				StreamID:  studentStreamID(studentID),
				Invariant: "I1",
				Detail:    fmt.Sprintf("credits_this_term=%d but active enrollments sum to %d", agg.CreditsThisTerm, computedCredits),
			})
		}
		for sectionID, count := range bySection {
			if count > 1 {
				report.Violations = append(report.Violations, Violation{
					StreamID:  studentStreamID(studentID),
					Invariant: "I3",
					Detail:    fmt.Sprintf("%d simultaneously active enrollments in section %s", count, sectionID),
				})
			}
		}
	}

	for _, sectionID := range sectionIDs {
		events, err := c.store.Load(ctx, sectionStreamID(sectionID), 0)
		if err != nil {
			return AuditReport{}, fmt.Errorf("enrollment: audit load section %s: %w", sectionID, err)
		}
		agg, err := ReplaySection(sectionID, SectionAggregate{}, events)
		if err != nil {
			return AuditReport{}, fmt.Errorf("enrollment: audit replay section %s: %w", sectionID, err)
		}
		view, err := c.sections.GetSection(ctx, sectionID)
		if err != nil {
			continue // collaborator-owned capacity unavailable; skip I2 for this section rather than fail the whole pass
		}
		if agg.EnrolledCount > view.MaxCapacity {
			report.Violations = append(report.Violations, Violation{
				StreamID:  sectionStreamID(sectionID),
				Invariant: "I2",
				Detail:    fmt.Sprintf("enrolled_count=%d exceeds max_capacity=%d", agg.EnrolledCount, view.MaxCapacity),
			})
		}
		if len(agg.Waitlist) > view.MaxWaitlist {
			report.Violations = append(report.Violations, Violation{
				StreamID:  sectionStreamID(sectionID),
				Invariant: "I2",
				Detail:    fmt.Sprintf("waitlist_size=%d exceeds max_waitlist=%d", len(agg.Waitlist), view.MaxWaitlist),
			})
		}
	}

	return report, nil
}

// PromotablesIn returns the section IDs among candidates that currently hold
// open seats (enrolled_count < max_capacity) and a non-empty waitlist - the
// set the reconciler should retry promotion against.
func (c *Coordinator) PromotablesIn(ctx context.Context, candidateSectionIDs []string) []string {
	var out []string
	for _, sectionID := range candidateSectionIDs {
		view, err := c.sections.GetSection(ctx, sectionID)
		if err != nil {
			continue
		}
		agg, err := c.loadSection(ctx, sectionID)
		if err != nil {
			continue
		}
		if agg.EnrolledCount < view.MaxCapacity && len(agg.Waitlist) > 0 {
			out = append(out, sectionID)
		}
	}
	return out
}

// RetryPromotion re-attempts head-of-waitlist promotion for sectionID,
// exactly the step DropEnrollment already takes inline; the reconciler
// calls this for sections a prior promotion attempt failed to clear.
func (c *Coordinator) RetryPromotion(ctx context.Context, sectionID string) {
	view, err := c.sections.GetSection(ctx, sectionID)
	if err != nil {
		return
	}
	agg, err := c.loadSection(ctx, sectionID)
	if err != nil || len(agg.Waitlist) == 0 {
		return
	}
	c.promote(ctx, agg.Waitlist[0], sectionID, view.Credits)
}

func (c *Coordinator) appendAudit(actorID, action, resource string, before, after interface{}) {
	if _, err := c.auditLog.Append(actorID, action, resource, before, after); err != nil {
		log.Printf("coordinator: append audit entry failed actor=%s action=%s resource=%s: %v", actorID, action, resource, err)
	}
}

// noChangeVerdict maps a non-enrolled status to the verdict a repeated
// drop should report: waitlisted is still an active, reportable state, so
// it keeps its own verdict; dropped and cancelled both collapse to
// DecisionNoChange since neither is a fresh outcome.
func noChangeVerdict(status Status) VerdictKind {
	if status == StatusWaitlisted {
		return DecisionWaitlisted
	}
	return DecisionNoChange
}

func auditActionFor(d Decision) string {
	switch d.Verdict {
	case DecisionEnrolled:
		return "ENROLL"
	case DecisionWaitlisted:
		return "WAITLIST"
	default:
		return "REJECT"
	}
}

func summarizeStudent(agg StudentAggregate) map[string]interface{} {
	return map[string]interface{}{
		"version":           agg.Version,
		"credits_this_term": agg.CreditsThisTerm,
		"active_count":      len(agg.ActiveEnrollments()),
	}
}

func decisionFromEnvelope(env eventstore.EventEnvelope) Decision {
	switch env.Type {
	case eventstore.EventStudentEnrolled:
		p, _ := eventstore.DecodePayload[EnrolledPayload](env)
		return Decision{Verdict: DecisionEnrolled, EnrollmentID: p.EnrollmentID}
	case eventstore.EventStudentWaitlisted:
		p, _ := eventstore.DecodePayload[WaitlistedPayload](env)
		return Decision{Verdict: DecisionWaitlisted, EnrollmentID: p.EnrollmentID}
	case eventstore.EventEnrollmentDenied:
		p, _ := eventstore.DecodePayload[RejectedPayload](env)
		return Decision{Verdict: DecisionDenied, ReasonCode: p.ReasonCode}
	default:
		return Decision{Verdict: DecisionDenied, ReasonCode: ReasonTransient}
	}
}

func toPolicySection(section SectionView, agg SectionAggregate) policy.Section {
	slots := make([]policy.TimeSlotView, len(section.Schedule))
	for i, s := range section.Schedule {
		slots[i] = policy.TimeSlotView{Day: s.Day, Start: s.Start, End: s.End}
	}
	return policy.Section{
		SectionID:       section.SectionID,
		CourseID:        section.CourseID,
		Schedule:        slots,
		MaxCapacity:     section.MaxCapacity,
		EnrolledCount:   agg.EnrolledCount,
		MaxWaitlist:     section.MaxWaitlist,
		WaitlistSize:    len(agg.Waitlist),
		InstructorID:    section.InstructorID,
		AddDropDeadline: section.AddDropDeadline,
		Semester:        section.Semester,
		Prerequisites:   section.Prerequisites,
		MinStanding:     section.MinStanding,
		Credits:         section.Credits,
	}
}

// toStudentSnapshot builds the policy-facing student snapshot, resolving
// each actively enrolled section's meeting schedule from the section
// collaborator so TimeConflictPolicy can compare real slots rather than
// bare section IDs. A cap override of zero on the profile falls back to
// the coordinator's configured default.
func (c *Coordinator) toStudentSnapshot(ctx context.Context, profile StudentProfileView, agg StudentAggregate) (policy.StudentSnapshot, error) {
	var enrolled []policy.EnrolledSection
	for _, e := range agg.ActiveEnrollments() {
		view, err := c.sections.GetSection(ctx, e.SectionID)
		if err != nil {
			return policy.StudentSnapshot{}, err
		}
		slots := make([]policy.TimeSlotView, len(view.Schedule))
		for i, s := range view.Schedule {
			slots[i] = policy.TimeSlotView{Day: s.Day, Start: s.Start, End: s.End}
		}
		enrolled = append(enrolled, policy.EnrolledSection{SectionID: e.SectionID, Schedule: slots})
	}

	creditCap := profile.CreditCap
	if creditCap == 0 {
		creditCap = c.cfg.CreditCapDefault
	}

	return policy.StudentSnapshot{
		StudentID:            profile.StudentID,
		CompletedCourses:     profile.CompletedCourses,
		Standing:             profile.Standing,
		PriorityWindowOpenAt: profile.PriorityWindowOpenAt,
		CreditsThisTerm:      agg.CreditsThisTerm,
		CreditCap:            creditCap,
		EnrolledSections:     enrolled,
	}, nil
}

func backoff(base, ceiling time.Duration, attempt int) {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > ceiling {
		d = ceiling
	}
	jitter := time.Duration(float64(d) * (rand.Float64()*0.5 - 0.25))
	time.Sleep(d + jitter)
}
