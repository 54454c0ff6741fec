package engine

import (
	"context"
	"io"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/features"
	"github.com/MikeSquared-Agency/Cover/internal/objective"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
	"github.com/MikeSquared-Agency/Cover/internal/solver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// farScorer flags every pair with a commute above 10 km.
type farScorer struct{}

func (farScorer) Score(f features.Features) float64 {
	if f.TravelTime > 10000 {
		return -0.8
	}
	return -0.4
}

func (s farScorer) Predict(f features.Features) anomaly.Verdict {
	if s.Score(f) < -0.5 {
		return anomaly.Abnormal
	}
	return anomaly.Normal
}

func defaultOptions() Options {
	return Options{
		Weights:          objective.DefaultWeights(),
		PreserveCoverage: true,
		SolveTimeout:     5 * time.Second,
	}
}

func daySnapshot() *roster.Snapshot {
	return &roster.Snapshot{
		Date: time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
		Employees: []roster.Employee{
			{ID: "E1", Qualifications: roster.NewSet("nursing"), Availability: roster.BaseAvailability, CommuteTime: map[string]float64{"S1": 5000, "S2": 15000}},
			{ID: "E2", Qualifications: roster.NewSet(), Availability: roster.BaseAvailability, CommuteTime: map[string]float64{"S1": 2000, "S2": 3000}},
			{ID: "E3", Qualifications: roster.NewSet(), Availability: roster.BaseAvailability, CommuteTime: map[string]float64{}},
			{ID: "bad", Availability: roster.BaseAvailability},
		},
		Clients: []roster.Client{
			{ID: "C1", School: "S1", NeededQualifications: roster.NewSet("nursing"), Priority: 1},
			{ID: "C2", School: "S2", NeededQualifications: roster.NewSet(), Priority: 50},
		},
	}
}

func TestRunProducesGroupsAndComments(t *testing.T) {
	e, err := New(&solver.BranchAndBound{}, nil, defaultOptions(), discardLogger())
	require.NoError(t, err)

	out, err := e.Run(context.Background(), daySnapshot())
	require.NoError(t, err)

	assert.NotEmpty(t, out.CycleID)
	assert.Equal(t, 3, out.EligiblePairs)
	require.Len(t, out.Rejected, 1)
	assert.Equal(t, "bad", out.Rejected[0].ID)
	require.NotEmpty(t, out.Plans)
	assert.Nil(t, out.Verdicts)

	p0 := out.Plans[0].ByClient()
	assert.Equal(t, "E1", p0["C1"])
	assert.Equal(t, "E2", p0["C2"])

	require.Len(t, out.Groups, 2)
	for _, g := range out.Groups {
		assert.Equal(t, out.Plans[0].RecommendationID, g[0].RecommendationID)
		ex := out.Explain(g[0])
		assert.Contains(t, ex.Short, "average distance")
		assert.NotEmpty(t, ex.Lines)
	}

	j := comments.FromEvents(out.CycleID, out.Comments)
	assert.Equal(t, []string{features.CommentNoClients}, j.For(comments.Employee("E3")))
	assert.Equal(t, []string{"distance: 5.00 km"}, j.For(comments.Pair("E1", "C1")))
}

func TestRunWithScorerAddsVerdicts(t *testing.T) {
	e, err := New(&solver.BranchAndBound{}, farScorer{}, defaultOptions(), discardLogger())
	require.NoError(t, err)

	snap := daySnapshot()
	// Only E1 can reach C2 now, at 15 km.
	snap.Employees[1].CommuteTime = map[string]float64{"S1": 2000}
	snap.Clients[0].NeededQualifications = roster.NewSet()
	snap.Clients[0].Priority = 60

	out, err := e.Run(context.Background(), snap)
	require.NoError(t, err)
	require.NotEmpty(t, out.Plans)

	for _, g := range out.Groups {
		for _, s := range g {
			_, ok := out.Verdicts[PairKey(s.EmployeeID, s.ClientID)]
			assert.True(t, ok)
		}
	}
	if v, ok := out.Verdicts[PairKey("E1", "C2")]; ok {
		assert.Equal(t, anomaly.Abnormal, v.Verdict)
		j := comments.FromEvents(out.CycleID, out.Comments)
		assert.Contains(t, j.For(comments.Pair("E1", "C2")), features.CommentAbnormal)
	}
}

func TestRunEmptySnapshot(t *testing.T) {
	e, err := New(&solver.BranchAndBound{}, nil, defaultOptions(), discardLogger())
	require.NoError(t, err)

	out, err := e.Run(context.Background(), &roster.Snapshot{})
	require.NoError(t, err)
	require.Len(t, out.Plans, 1)
	assert.Empty(t, out.Plans[0].Assigned)
	assert.Empty(t, out.Groups)
}

func TestRunCancelledYieldsNoPlans(t *testing.T) {
	e, err := New(&solver.BranchAndBound{}, nil, defaultOptions(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := e.Run(ctx, daySnapshot())
	require.NoError(t, err)
	assert.Empty(t, out.Plans)
	assert.True(t, out.StoppedEarly)
}

func TestNewRejectsInvalidWeights(t *testing.T) {
	opts := defaultOptions()
	opts.Weights.Priority = -1
	_, err := New(&solver.BranchAndBound{}, nil, opts, discardLogger())
	assert.Error(t, err)
}

// busyDay builds a day where every employee reaches every school.
func busyDay(seed uint64, employees, clients int) *roster.Snapshot {
	rng := rand.New(rand.NewPCG(seed, seed))
	schools := []string{"S1", "S2", "S3", "S4"}
	snap := &roster.Snapshot{Date: time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)}
	for i := 0; i < employees; i++ {
		commute := make(map[string]float64, len(schools))
		for _, s := range schools {
			commute[s] = 1000 + rng.Float64()*40000
		}
		snap.Employees = append(snap.Employees, roster.Employee{
			ID:             fmt.Sprintf("E%02d", i),
			Qualifications: roster.NewSet(),
			Availability:   roster.BaseAvailability,
			CommuteTime:    commute,
		})
	}
	for j := 0; j < clients; j++ {
		snap.Clients = append(snap.Clients, roster.Client{
			ID:                   fmt.Sprintf("C%02d", j),
			School:               schools[rng.IntN(len(schools))],
			NeededQualifications: roster.NewSet(),
			Priority:             1 + rng.IntN(100),
		})
	}
	return snap
}

func TestRunFullDayYieldsThreePlans(t *testing.T) {
	opts := defaultOptions()
	opts.SolveTimeout = 30 * time.Second
	e, err := New(&solver.BranchAndBound{RelativeGap: 0.01}, nil, opts, discardLogger())
	require.NoError(t, err)

	out, err := e.Run(context.Background(), busyDay(17, 30, 20))
	require.NoError(t, err)

	require.Len(t, out.Plans, 3)
	assert.False(t, out.StoppedEarly)
	require.Len(t, out.Groups, 20)
	for _, g := range out.Groups {
		assert.Len(t, g, 3)
	}
	for n, p := range out.Plans {
		assert.Empty(t, p.Unassigned, "plan %d", n)
		if n > 0 {
			assert.Greater(t, p.Objective, out.Plans[n-1].Objective)
		}
	}
	assert.Less(t, out.Elapsed, 3*opts.SolveTimeout)
}

func TestRunIgnoresRejectedRows(t *testing.T) {
	e, err := New(&solver.BranchAndBound{}, nil, defaultOptions(), discardLogger())
	require.NoError(t, err)

	snap := daySnapshot()
	snap.Clients = append(snap.Clients, roster.Client{ID: "badclient"})
	out, err := e.Run(context.Background(), snap)
	require.NoError(t, err)

	require.Len(t, out.Rejected, 2)
	require.NotEmpty(t, out.Plans)
	for _, p := range out.Plans {
		assert.NotContains(t, p.Unassigned, "badclient")
	}
	j := comments.FromEvents(out.CycleID, out.Comments)
	assert.Empty(t, j.For(comments.Employee("bad")))
	assert.Empty(t, j.For(comments.Client("badclient")))
}
