package features

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/eligibility"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() *roster.Snapshot {
	until := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	clientUntil := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	sex := "f"
	return &roster.Snapshot{
		Employees: []roster.Employee{
			{
				ID:                        "e1",
				Qualifications:            roster.NewSet("nursing"),
				HasCar:                    true,
				Availability:              roster.BaseAvailability,
				CommuteTime:               map[string]float64{"s1": 4000, "s2": 12000},
				ClientExperience:          map[string]int{"c1": 3},
				ShortTermClientExperience: map[string]int{"c1": 1},
				SchoolExperience:          map[string]int{"s1": 7},
				AvailableUntil:            &until,
			},
			{
				ID:             "e2",
				Qualifications: roster.NewSet(),
				Availability:   roster.Interval{Start: 8, End: 13},
				CommuteTime:    map[string]float64{"s2": 2500},
			},
			{
				ID:             "e3",
				Qualifications: roster.NewSet(),
				Availability:   roster.BaseAvailability,
				CommuteTime:    map[string]float64{},
			},
		},
		Clients: []roster.Client{
			{ID: "c1", School: "s1", NeededQualifications: roster.NewSet("nursing"), Priority: 2, RequiredSex: &sex, AvailableUntil: &clientUntil},
			{ID: "c2", School: "s2", NeededQualifications: roster.NewSet(), Priority: 100, TimeWindow: &roster.Interval{Start: 8, End: 12}},
		},
	}
}

func TestComputeJoinsAttributes(t *testing.T) {
	snap := testSnapshot()

	f := Compute(&snap.Employees[0], &snap.Clients[0])
	assert.Equal(t, 4000.0, f.TravelTime)
	assert.Equal(t, 3, f.ClientExperience)
	assert.Equal(t, 1, f.ShortTermClientExperience)
	assert.Equal(t, 7, f.SchoolExperience)
	assert.Equal(t, 2, f.Priority)
	assert.True(t, f.BaseAvailability)
	assert.True(t, f.Mobility)
	assert.True(t, f.SexRelevant)
	assert.True(t, f.QualificationsMet)
	require.NotNil(t, f.AvailabilityGap)
	assert.Equal(t, 10, *f.AvailabilityGap)
	assert.Nil(t, f.TimeWindowDiff)

	g := Compute(&snap.Employees[1], &snap.Clients[1])
	assert.Equal(t, 2500.0, g.TravelTime)
	assert.Zero(t, g.ClientExperience)
	assert.False(t, g.BaseAvailability)
	assert.False(t, g.SexRelevant)
	assert.Nil(t, g.AvailabilityGap)
	require.NotNil(t, g.TimeWindowDiff)
	assert.InDelta(t, 1.0, *g.TimeWindowDiff, 1e-9)
}

func TestVectorOrder(t *testing.T) {
	gap := -2
	f := Features{
		TravelTime:                1500,
		ClientExperience:          1,
		ShortTermClientExperience: 2,
		SchoolExperience:          3,
		Priority:                  4,
		BaseAvailability:          true,
		Mobility:                  false,
		SexRelevant:               true,
		QualificationsMet:         true,
		AvailabilityGap:           &gap,
	}
	assert.Equal(t, []float64{1500, 1, 2, 3, 4, 1, 0, 1, 1, -2}, f.Vector())
	assert.Len(t, f.Vector(), len(Names))

	f.AvailabilityGap = nil
	assert.Equal(t, 0.0, f.Vector()[9])
}

func TestBuildCatchmentComments(t *testing.T) {
	snap := testSnapshot()
	res := eligibility.Filter(snap, discardLogger())
	j := comments.NewJournal("cycle")

	cache := Build(snap, res, j)
	require.Equal(t, 3, cache.Len())

	// e1 reaches c1 and c2, e2 only c2, e3 nothing.
	assert.Empty(t, j.For(comments.Employee("e1")))
	assert.Equal(t, []string{CommentOneClient}, j.For(comments.Employee("e2")))
	assert.Equal(t, []string{CommentNoClients}, j.For(comments.Employee("e3")))

	for k, p := range cache.Pairs() {
		assert.Equal(t, Compute(&snap.Employees[p.Employee], &snap.Clients[p.Client]), cache.Get(k))
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	snap := testSnapshot()

	run := func() ([]byte, []byte) {
		res := eligibility.Filter(snap, discardLogger())
		cache := Build(snap, res, comments.NewJournal("c"))
		pairs, err := json.Marshal(cache.Pairs())
		require.NoError(t, err)
		recs, err := json.Marshal(cache.Records())
		require.NoError(t, err)
		return pairs, recs
	}

	p1, r1 := run()
	p2, r2 := run()
	assert.Equal(t, p1, p2)
	assert.Equal(t, r1, r2)
}

func TestBuildWithNilJournal(t *testing.T) {
	snap := testSnapshot()
	res := eligibility.Filter(snap, discardLogger())
	assert.NotPanics(t, func() { Build(snap, res, nil) })
}

func TestBuildSkipsRejectedEmployees(t *testing.T) {
	snap := testSnapshot()
	snap.Employees = append(snap.Employees, roster.Employee{ID: "broken", CommuteTime: map[string]float64{}})
	res := eligibility.Filter(snap, discardLogger())
	require.Len(t, res.Rejected, 1)

	j := comments.NewJournal("cycle")
	Build(snap, res, j)
	assert.Empty(t, j.For(comments.Employee("broken")))
	assert.Equal(t, []string{CommentNoClients}, j.For(comments.Employee("e3")))
}
