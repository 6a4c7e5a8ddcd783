package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PrerequisitePolicy denies when the student has not completed every
// course the section lists as a prerequisite.
type PrerequisitePolicy struct{}

func (PrerequisitePolicy) Name() string            { return "PrerequisitePolicy" }
func (PrerequisitePolicy) Priority() int           { return 10 }
func (PrerequisitePolicy) ShortCircuitOnDeny() bool { return true }

func (p PrerequisitePolicy) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result {
	if len(section.Prerequisites) == 0 {
		return Allow(p.Name())
	}
	completed := make(map[string]struct{}, len(student.CompletedCourses))
	for _, c := range student.CompletedCourses {
		completed[c] = struct{}{}
	}
	for _, prereq := range section.Prerequisites {
		if _, ok := completed[prereq]; !ok {
			return Deny(p.Name(), ReasonMissingPrereq, fmt.Sprintf("missing prerequisite %s", prereq))
		}
	}
	return Allow(p.Name())
}

// AcademicStandingPolicy denies when the student's standing falls below
// the section's minimum required standing.
type AcademicStandingPolicy struct{}

func (AcademicStandingPolicy) Name() string            { return "AcademicStandingPolicy" }
func (AcademicStandingPolicy) Priority() int           { return 20 }
func (AcademicStandingPolicy) ShortCircuitOnDeny() bool { return true }

func (p AcademicStandingPolicy) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result {
	if student.Standing < section.MinStanding {
		return Deny(p.Name(), ReasonPoorStanding, fmt.Sprintf("standing %d below required %d", student.Standing, section.MinStanding))
	}
	return Allow(p.Name())
}

// TimeConflictPolicy denies when the section's meeting schedule overlaps
// any section the student is already enrolled in.
type TimeConflictPolicy struct{}

func (TimeConflictPolicy) Name() string            { return "TimeConflictPolicy" }
func (TimeConflictPolicy) Priority() int           { return 30 }
func (TimeConflictPolicy) ShortCircuitOnDeny() bool { return true }

func (p TimeConflictPolicy) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result {
	for _, enrolled := range student.EnrolledSections {
		if enrolled.SectionID == section.SectionID {
			continue
		}
		if slotsOverlap(section.Schedule, enrolled.Schedule) {
			return Deny(p.Name(), ReasonTimeConflict, fmt.Sprintf("conflicts with enrolled section %s", enrolled.SectionID))
		}
	}
	return Allow(p.Name())
}

func slotsOverlap(a, b []TimeSlotView) bool {
	for _, sa := range a {
		for _, sb := range b {
			if sa.Day != sb.Day {
				continue
			}
			if sa.Start < sb.End && sb.Start < sa.End {
				return true
			}
		}
	}
	return false
}

// CapacityPolicy allows while seats remain, allows with a waitlist caveat
// while waitlist space remains, and denies once both are exhausted. It
// never short-circuits: later policies still see the request even when
// this one would waitlist it, since a later short-circuit deny (e.g. a
// time conflict) must still take precedence over a waitlist offer.
type CapacityPolicy struct{}

func (CapacityPolicy) Name() string            { return "CapacityPolicy" }
func (CapacityPolicy) Priority() int           { return 40 }
func (CapacityPolicy) ShortCircuitOnDeny() bool { return false }

func (p CapacityPolicy) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result {
	if section.EnrolledCount < section.MaxCapacity {
		return Allow(p.Name())
	}
	if section.WaitlistSize < section.MaxWaitlist {
		return AllowWithCaveat(p.Name(), CaveatWaitlist, "section full, offering waitlist seat")
	}
	return Deny(p.Name(), ReasonFull, "section and waitlist both full")
}

// CreditLimitPolicy denies when enrolling would push the student's
// credit-hour load for the term past their cap. Credit hours arrive as
// whole ints; the sum and comparison are done in decimal.Decimal.
type CreditLimitPolicy struct{}

func (CreditLimitPolicy) Name() string            { return "CreditLimitPolicy" }
func (CreditLimitPolicy) Priority() int           { return 50 }
func (CreditLimitPolicy) ShortCircuitOnDeny() bool { return true }

func (p CreditLimitPolicy) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result {
	current := decimal.NewFromInt(int64(student.CreditsThisTerm))
	adding := decimal.NewFromInt(int64(section.Credits))
	creditCap := decimal.NewFromInt(int64(student.CreditCap))
	if current.Add(adding).GreaterThan(creditCap) {
		return Deny(p.Name(), ReasonCreditLimit, fmt.Sprintf("would exceed credit cap of %s", creditCap.String()))
	}
	return Allow(p.Name())
}

// PriorityEnrollmentPolicy denies submissions made before the student's
// priority registration window has opened.
type PriorityEnrollmentPolicy struct{}

func (PriorityEnrollmentPolicy) Name() string            { return "PriorityEnrollmentPolicy" }
func (PriorityEnrollmentPolicy) Priority() int           { return 5 }
func (PriorityEnrollmentPolicy) ShortCircuitOnDeny() bool { return true }

func (p PriorityEnrollmentPolicy) Evaluate(req Request, section Section, student StudentSnapshot, env Environment) Result {
	if student.PriorityWindowOpenAt.IsZero() {
		return Allow(p.Name())
	}
	if env.Now.Before(student.PriorityWindowOpenAt) {
		return Deny(p.Name(), ReasonWindowClosed, "priority enrollment window not yet open")
	}
	return Allow(p.Name())
}
