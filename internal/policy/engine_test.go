package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineSortsPoliciesByPriority(t *testing.T) {
	e := NewEngine(CapacityPolicy{}, PrerequisitePolicy{}, PriorityEnrollmentPolicy{})
	require.Len(t, e.policies, 3)
	assert.Equal(t, "PriorityEnrollmentPolicy", e.policies[0].Name())
	assert.Equal(t, "PrerequisitePolicy", e.policies[1].Name())
	assert.Equal(t, "CapacityPolicy", e.policies[2].Name())
}

func TestEngineEnrollsWhenEverythingPasses(t *testing.T) {
	e := NewEngine(DefaultPolicies()...)
	section := Section{
		SectionID: "SEC1", MaxCapacity: 30, EnrolledCount: 10,
		MinStanding: 0, Credits: 3,
	}
	student := StudentSnapshot{CreditsThisTerm: 9, CreditCap: 18}
	v := e.Evaluate(Request{}, section, student, Environment{Now: time.Now()})

	assert.Equal(t, VerdictEnroll, v.Outcome)
	assert.Len(t, v.Trace, len(DefaultPolicies()))
}

func TestEngineShortCircuitsOnDeny(t *testing.T) {
	e := NewEngine(DefaultPolicies()...)
	section := Section{
		SectionID:     "SEC1",
		Prerequisites: []string{"CS101"},
		MaxCapacity:   30,
	}
	student := StudentSnapshot{}
	v := e.Evaluate(Request{}, section, student, Environment{Now: time.Now()})

	assert.Equal(t, VerdictDeny, v.Outcome)
	assert.Equal(t, ReasonMissingPrereq, v.ReasonCode)
	// PriorityEnrollmentPolicy (priority 5) runs, then PrerequisitePolicy
	// (priority 10) denies and short-circuits: capacity/credit/time-conflict
	// never run.
	assert.Len(t, v.Trace, 2)
}

func TestEngineWaitlistCaveatSurvivesLaterNonDenyPolicies(t *testing.T) {
	e := NewEngine(DefaultPolicies()...)
	section := Section{
		SectionID: "SEC1", MaxCapacity: 30, EnrolledCount: 30,
		MaxWaitlist: 5, WaitlistSize: 0, Credits: 3,
	}
	student := StudentSnapshot{CreditsThisTerm: 9, CreditCap: 18}
	v := e.Evaluate(Request{}, section, student, Environment{Now: time.Now()})

	assert.Equal(t, VerdictWaitlist, v.Outcome)
	assert.Equal(t, CaveatWaitlist, v.CaveatCode)
}

func TestEngineLaterShortCircuitDenyOverridesEarlierWaitlistCaveat(t *testing.T) {
	e := NewEngine(DefaultPolicies()...)
	section := Section{
		SectionID: "SEC1", MaxCapacity: 30, EnrolledCount: 30,
		MaxWaitlist: 5, WaitlistSize: 0, Credits: 3,
	}
	student := StudentSnapshot{CreditsThisTerm: 17, CreditCap: 18}
	v := e.Evaluate(Request{}, section, student, Environment{Now: time.Now()})

	// CapacityPolicy (40) offers a waitlist caveat; CreditLimitPolicy (50)
	// then denies outright. Deny must win over an earlier caveat.
	assert.Equal(t, VerdictDeny, v.Outcome)
	assert.Equal(t, ReasonCreditLimit, v.ReasonCode)
}

func TestEngineStatsAccumulate(t *testing.T) {
	e := NewEngine(DefaultPolicies()...)
	section := Section{SectionID: "SEC1", MaxCapacity: 30, Credits: 3}
	student := StudentSnapshot{CreditCap: 18}

	e.Evaluate(Request{}, section, student, Environment{Now: time.Now()})
	e.Evaluate(Request{}, Section{Prerequisites: []string{"CS101"}}, student, Environment{Now: time.Now()})

	stats := e.Stats()
	assert.EqualValues(t, 2, stats.Evaluations)
	assert.EqualValues(t, 1, stats.Enrollments)
	assert.EqualValues(t, 1, stats.Denials)
	assert.EqualValues(t, 1, stats.DenialsByReason[ReasonMissingPrereq])
}
