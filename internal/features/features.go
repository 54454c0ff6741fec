// Package features precomputes the per-pair feature records consumed by both
// the objective builder and the abnormality scorer.
package features

import (
	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/eligibility"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

const (
	CommentNoClients  = "no clients within the catchment area"
	CommentOneClient  = "only one client within the catchment area"
	CommentAbnormal   = "assignment looks abnormal compared to past assignments"
	CommentDistanceKm = "distance: %.2f km"
)

// Names is the feature order of Vector and of the scorer's training data.
var Names = []string{
	"timeToSchool",
	"cl_experience",
	"short_term_cl_experience",
	"school_experience",
	"priority",
	"ma_availability",
	"mobility",
	"geschlecht_relevant",
	"qualifications_met",
	"availability_gap",
}

// Features is the fixed record for one eligible pair.
type Features struct {
	TravelTime                float64  `json:"travel_time"`
	ClientExperience          int      `json:"client_experience"`
	ShortTermClientExperience int      `json:"short_term_client_experience"`
	SchoolExperience          int      `json:"school_experience"`
	Priority                  int      `json:"priority"`
	BaseAvailability          bool     `json:"base_availability"`
	Mobility                  bool     `json:"mobility"`
	SexRelevant               bool     `json:"sex_relevant"`
	QualificationsMet         bool     `json:"qualifications_met"`
	AvailabilityGap           *int     `json:"availability_gap,omitempty"`
	TimeWindowDiff            *float64 `json:"time_window_diff,omitempty"`
}

// Vector returns the record in Names order. A missing availability gap is 0.
func (f Features) Vector() []float64 {
	gap := 0.0
	if f.AvailabilityGap != nil {
		gap = float64(*f.AvailabilityGap)
	}
	return []float64{
		f.TravelTime,
		float64(f.ClientExperience),
		float64(f.ShortTermClientExperience),
		float64(f.SchoolExperience),
		float64(f.Priority),
		boolFloat(f.BaseAvailability),
		boolFloat(f.Mobility),
		boolFloat(f.SexRelevant),
		boolFloat(f.QualificationsMet),
		gap,
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Compute joins one employee and one client into a feature record.
func Compute(e *roster.Employee, c *roster.Client) Features {
	travel, _ := e.Reaches(c.School)
	f := Features{
		TravelTime:                travel,
		ClientExperience:          e.ClientExperience[c.ID],
		ShortTermClientExperience: e.ShortTermClientExperience[c.ID],
		SchoolExperience:          e.SchoolExperience[c.School],
		Priority:                  c.Priority,
		BaseAvailability:          e.HasBaseAvailability(),
		Mobility:                  e.HasCar,
		SexRelevant:               c.RequiredSex != nil,
		QualificationsMet:         e.Qualifications.Covers(c.NeededQualifications),
		AvailabilityGap:           roster.DaysBetween(e.AvailableUntil, c.AvailableUntil),
	}
	if c.TimeWindow != nil {
		diff := e.Availability.End - c.TimeWindow.End
		f.TimeWindowDiff = &diff
	}
	return f
}

// Cache holds the feature records of one cycle, indexed like the pair list
// it was built from. It is read-only after Build.
type Cache struct {
	snap  *roster.Snapshot
	elig  eligibility.Result
	pairs []eligibility.Pair
	recs  []Features
}

// Build computes the records for the eligible pairs of elig and notes valid
// employees whose catchment area holds zero or one client. Rows the filter
// rejected get no comment.
func Build(snap *roster.Snapshot, elig eligibility.Result, journal *comments.Journal) *Cache {
	c := &Cache{
		snap:  snap,
		elig:  elig,
		pairs: elig.Pairs,
		recs:  make([]Features, len(elig.Pairs)),
	}
	reachable := make([]int, len(snap.Employees))
	for k, p := range elig.Pairs {
		c.recs[k] = Compute(&snap.Employees[p.Employee], &snap.Clients[p.Client])
		reachable[p.Employee]++
	}

	for i := range snap.Employees {
		if !elig.EmployeeValid(i) {
			continue
		}
		switch reachable[i] {
		case 0:
			journal.Add(comments.Employee(snap.Employees[i].ID), CommentNoClients)
		case 1:
			journal.Add(comments.Employee(snap.Employees[i].ID), CommentOneClient)
		}
	}
	return c
}

func (c *Cache) Len() int { return len(c.recs) }

// Get returns the record of the k-th pair.
func (c *Cache) Get(k int) Features { return c.recs[k] }

// Pair returns the k-th pair.
func (c *Cache) Pair(k int) eligibility.Pair { return c.pairs[k] }

func (c *Cache) Pairs() []eligibility.Pair { return c.pairs }

func (c *Cache) Snapshot() *roster.Snapshot { return c.snap }

// ClientValid reports whether client row j survived validation.
func (c *Cache) ClientValid(j int) bool { return c.elig.ClientValid(j) }

// Records returns a copy of all records in pair order.
func (c *Cache) Records() []Features {
	out := make([]Features, len(c.recs))
	copy(out, c.recs)
	return out
}
