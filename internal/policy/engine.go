package policy

import (
	"sort"
	"sync"
	"time"
)

// VerdictOutcome is the final, aggregated decision for a request after all
// applicable policies have run.
type VerdictOutcome int

const (
	VerdictEnroll VerdictOutcome = iota
	VerdictWaitlist
	VerdictDeny
)

// TraceEntry records one policy's result in evaluation order, so an audit
// reader can see exactly which policies ran and in what order before the
// verdict was reached.
type TraceEntry struct {
	PolicyName string
	Outcome    Outcome
	ReasonCode string
	Message    string
}

// Verdict is the engine's aggregated decision plus the full evaluation
// trace that produced it.
type Verdict struct {
	Outcome    VerdictOutcome
	ReasonCode string // set when Outcome is VerdictDeny
	CaveatCode string // set when Outcome is VerdictWaitlist
	Trace      []TraceEntry
}

// Stats accumulates running counters across every evaluation the engine has
// performed, for the audit_state surface.
type Stats struct {
	mu              sync.Mutex
	Evaluations     int64
	Denials         int64
	DenialsByReason map[string]int64
	Waitlists       int64
	Enrollments     int64
	totalLatency    time.Duration
}

func newStats() *Stats {
	return &Stats{DenialsByReason: make(map[string]int64)}
}

func (s *Stats) record(v Verdict, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Evaluations++
	s.totalLatency += elapsed
	switch v.Outcome {
	case VerdictDeny:
		s.Denials++
		s.DenialsByReason[v.ReasonCode]++
	case VerdictWaitlist:
		s.Waitlists++
	case VerdictEnroll:
		s.Enrollments++
	}
}

// AverageLatency returns the mean evaluation duration across all recorded
// evaluations. Zero if none have run yet.
func (s *Stats) AverageLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Evaluations == 0 {
		return 0
	}
	return s.totalLatency / time.Duration(s.Evaluations)
}

// Snapshot returns a point-in-time copy of the counters, safe to hand to a
// caller outside the lock.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	byReason := make(map[string]int64, len(s.DenialsByReason))
	for k, v := range s.DenialsByReason {
		byReason[k] = v
	}
	return Stats{
		Evaluations:     s.Evaluations,
		Denials:         s.Denials,
		DenialsByReason: byReason,
		Waitlists:       s.Waitlists,
		Enrollments:     s.Enrollments,
		totalLatency:    s.totalLatency,
	}
}

// Engine evaluates an ordered set of policies against an enrollment request
// and aggregates their individual results into one Verdict.
type Engine struct {
	policies []Policy
	stats    *Stats
}

// NewEngine builds an Engine from the given policies, sorting them by
// ascending priority once so Evaluate never has to re-sort per call.
func NewEngine(policies ...Policy) *Engine {
	sorted := make([]Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Engine{policies: sorted, stats: newStats()}
}

// DefaultPolicies returns the six enrollment policies, unsorted; pass them
// to NewEngine.
func DefaultPolicies() []Policy {
	return []Policy{
		PriorityEnrollmentPolicy{},
		PrerequisitePolicy{},
		AcademicStandingPolicy{},
		TimeConflictPolicy{},
		CapacityPolicy{},
		CreditLimitPolicy{},
	}
}

// Evaluate walks the registered policies in priority order. A short-circuit
// policy that denies stops evaluation immediately; the spec requires that
// every later policy is skipped, not merely that its result is ignored, so
// that a policy further down the chain can never contribute to the audit
// trace for a request already rejected upstream. Non-short-circuit denials
// and caveats (today, only CapacityPolicy) continue to be overridden by any
// short-circuit deny that runs afterward.
func (e *Engine) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Verdict {
	start := time.Now()
	trace := make([]TraceEntry, 0, len(e.policies))

	outcome := VerdictEnroll
	var reasonCode, caveatCode string

	for _, p := range e.policies {
		res := p.Evaluate(req, section, student, env)
		trace = append(trace, TraceEntry{
			PolicyName: res.PolicyName,
			Outcome:    res.Outcome,
			ReasonCode: res.ReasonCode,
			Message:    res.Message,
		})

		switch res.Outcome {
		case OutcomeDeny:
			outcome = VerdictDeny
			reasonCode = res.ReasonCode
			if p.ShortCircuitOnDeny() {
				v := Verdict{Outcome: outcome, ReasonCode: reasonCode, CaveatCode: caveatCode, Trace: trace}
				e.stats.record(v, time.Since(start))
				return v
			}
		case OutcomeAllowWithCaveat:
			if outcome != VerdictDeny {
				outcome = VerdictWaitlist
				caveatCode = res.ReasonCode
			}
		}
	}

	v := Verdict{Outcome: outcome, ReasonCode: reasonCode, CaveatCode: caveatCode, Trace: trace}
	e.stats.record(v, time.Since(start))
	return v
}

// Stats returns a snapshot of the engine's running evaluation counters.
func (e *Engine) Stats() Stats {
	return e.stats.Snapshot()
}
