package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Cover/internal/assignment"
	"github.com/MikeSquared-Agency/Cover/internal/eligibility"
	"github.com/MikeSquared-Agency/Cover/internal/features"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

func TestCycleStatusValues(t *testing.T) {
	statuses := []CycleStatus{CycleCompleted, CycleEmpty, CycleFailed}
	expected := []string{"completed", "empty", "failed"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], s)
		}
	}
}

func TestRecommendationsFromPlans(t *testing.T) {
	cycleID := uuid.New()
	travel := 2500.0
	plans := []*assignment.Plan{
		{
			RecommendationID: uuid.NewString(),
			Objective:        -12,
			Assigned:         []assignment.AssignedPair{{EmployeeID: "E1", ClientID: "C1", PairIndex: 0}},
			Unassigned:       []string{"C2"},
			AvgTravelTime:    &travel,
		},
		{RecommendationID: uuid.NewString(), Objective: -10},
	}

	recs, err := RecommendationsFromPlans(cycleID, plans)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 0, recs[0].Rank)
	assert.Equal(t, 1, recs[1].Rank)
	assert.Equal(t, cycleID, recs[0].CycleID)
	assert.Equal(t, plans[0].RecommendationID, recs[0].ID.String())
	assert.Equal(t, int64(-12), recs[0].Objective)
	assert.Equal(t, []string{"C2"}, recs[0].Unassigned)
	assert.Equal(t, &travel, recs[0].AvgTravelTime)
}

func TestRecommendationsFromPlansRejectsBadID(t *testing.T) {
	_, err := RecommendationsFromPlans(uuid.New(), []*assignment.Plan{{RecommendationID: "not-a-uuid"}})
	assert.Error(t, err)
}

func TestHistoryFromPlan(t *testing.T) {
	snap := &roster.Snapshot{
		Employees: []roster.Employee{{ID: "E1", Availability: roster.BaseAvailability, CommuteTime: map[string]float64{"S1": 4200}}},
		Clients:   []roster.Client{{ID: "C1", School: "S1", Priority: 7}},
	}
	cache := features.Build(snap, eligibility.Result{Pairs: []eligibility.Pair{{Employee: 0, Client: 0}}}, nil)
	date := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)
	plan := &assignment.Plan{Assigned: []assignment.AssignedPair{{EmployeeID: "E1", ClientID: "C1", PairIndex: 0}}}

	rows := HistoryFromPlan(date, plan, cache)
	require.Len(t, rows, 1)
	assert.Equal(t, "E1", rows[0].EmployeeID)
	assert.Equal(t, "C1", rows[0].ClientID)
	assert.Equal(t, date, rows[0].Date)
	assert.Equal(t, 4200.0, rows[0].Features.TravelTime)
	assert.Equal(t, 7, rows[0].Features.Priority)
}
