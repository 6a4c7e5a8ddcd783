package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrerequisitePolicy(t *testing.T) {
	p := PrerequisitePolicy{}

	t.Run("allows when no prerequisites", func(t *testing.T) {
		res := p.Evaluate(Request{}, Section{}, StudentSnapshot{}, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("allows when all prerequisites completed", func(t *testing.T) {
		section := Section{Prerequisites: []string{"CS101", "MATH201"}}
		student := StudentSnapshot{CompletedCourses: []string{"CS101", "MATH201", "ENG100"}}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("denies when a prerequisite is missing", func(t *testing.T) {
		section := Section{Prerequisites: []string{"CS101", "MATH201"}}
		student := StudentSnapshot{CompletedCourses: []string{"CS101"}}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Equal(t, ReasonMissingPrereq, res.ReasonCode)
	})
}

func TestAcademicStandingPolicy(t *testing.T) {
	p := AcademicStandingPolicy{}

	t.Run("denies below minimum standing", func(t *testing.T) {
		section := Section{MinStanding: 3}
		student := StudentSnapshot{Standing: 2}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Equal(t, ReasonPoorStanding, res.ReasonCode)
	})

	t.Run("allows at minimum standing", func(t *testing.T) {
		section := Section{MinStanding: 3}
		student := StudentSnapshot{Standing: 3}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})
}

func TestTimeConflictPolicy(t *testing.T) {
	p := TimeConflictPolicy{}
	section := Section{
		SectionID: "SEC2",
		Schedule:  []TimeSlotView{{Day: 0, Start: 600, End: 660}},
	}

	t.Run("denies overlapping enrolled section", func(t *testing.T) {
		student := StudentSnapshot{
			EnrolledSections: []EnrolledSection{
				{SectionID: "SEC1", Schedule: []TimeSlotView{{Day: 0, Start: 630, End: 690}}},
			},
		}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Equal(t, ReasonTimeConflict, res.ReasonCode)
	})

	t.Run("allows adjacent, non-overlapping section", func(t *testing.T) {
		student := StudentSnapshot{
			EnrolledSections: []EnrolledSection{
				{SectionID: "SEC1", Schedule: []TimeSlotView{{Day: 0, Start: 660, End: 720}}},
			},
		}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("ignores overlap against itself (re-evaluating the same section)", func(t *testing.T) {
		student := StudentSnapshot{
			EnrolledSections: []EnrolledSection{
				{SectionID: "SEC2", Schedule: section.Schedule},
			},
		}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})
}

func TestCapacityPolicy(t *testing.T) {
	p := CapacityPolicy{}

	t.Run("allows when seats remain", func(t *testing.T) {
		section := Section{MaxCapacity: 30, EnrolledCount: 29}
		res := p.Evaluate(Request{}, section, StudentSnapshot{}, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("offers waitlist when section full but waitlist has room", func(t *testing.T) {
		section := Section{MaxCapacity: 30, EnrolledCount: 30, MaxWaitlist: 5, WaitlistSize: 2}
		res := p.Evaluate(Request{}, section, StudentSnapshot{}, Environment{})
		assert.Equal(t, OutcomeAllowWithCaveat, res.Outcome)
		assert.Equal(t, CaveatWaitlist, res.ReasonCode)
	})

	t.Run("denies when section and waitlist both full", func(t *testing.T) {
		section := Section{MaxCapacity: 30, EnrolledCount: 30, MaxWaitlist: 5, WaitlistSize: 5}
		res := p.Evaluate(Request{}, section, StudentSnapshot{}, Environment{})
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Equal(t, ReasonFull, res.ReasonCode)
	})
}

func TestCreditLimitPolicy(t *testing.T) {
	p := CreditLimitPolicy{}

	t.Run("allows within credit cap", func(t *testing.T) {
		student := StudentSnapshot{CreditsThisTerm: 12, CreditCap: 18}
		section := Section{Credits: 3}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("allows exactly at the cap", func(t *testing.T) {
		student := StudentSnapshot{CreditsThisTerm: 15, CreditCap: 18}
		section := Section{Credits: 3}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("denies over the cap", func(t *testing.T) {
		student := StudentSnapshot{CreditsThisTerm: 16, CreditCap: 18}
		section := Section{Credits: 3}
		res := p.Evaluate(Request{}, section, student, Environment{})
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Equal(t, ReasonCreditLimit, res.ReasonCode)
	})
}

func TestPriorityEnrollmentPolicy(t *testing.T) {
	p := PriorityEnrollmentPolicy{}
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	t.Run("allows when no priority window is configured", func(t *testing.T) {
		res := p.Evaluate(Request{}, Section{}, StudentSnapshot{}, Environment{Now: now})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})

	t.Run("denies before the priority window opens", func(t *testing.T) {
		student := StudentSnapshot{PriorityWindowOpenAt: now.Add(time.Hour)}
		res := p.Evaluate(Request{}, Section{}, student, Environment{Now: now})
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Equal(t, ReasonWindowClosed, res.ReasonCode)
	})

	t.Run("allows after the priority window opens", func(t *testing.T) {
		student := StudentSnapshot{PriorityWindowOpenAt: now.Add(-time.Hour)}
		res := p.Evaluate(Request{}, Section{}, student, Environment{Now: now})
		assert.Equal(t, OutcomeAllow, res.Outcome)
	})
}
