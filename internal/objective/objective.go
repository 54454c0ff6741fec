// Package objective turns pair features into the scaled-integer cost model
// minimised by the assignment solver.
package objective

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/features"
)

// Scale turns real-valued terms into integers before weighting.
const Scale int64 = 1_000_000

// Weights of the soft cost terms. Experience counts are minimised as-is.
type Weights struct {
	Unassigned                float64 `yaml:"unassigned" json:"unassigned"`
	TravelTime                float64 `yaml:"travel_time" json:"travel_time"`
	TimeWindow                float64 `yaml:"time_window" json:"time_window"`
	Priority                  float64 `yaml:"priority" json:"priority"`
	Abnormality               float64 `yaml:"abnormality" json:"abnormality"`
	ClientExperience          float64 `yaml:"client_experience" json:"client_experience"`
	SchoolExperience          float64 `yaml:"school_experience" json:"school_experience"`
	ShortTermClientExperience float64 `yaml:"short_term_client_experience" json:"short_term_client_experience"`
}

func DefaultWeights() Weights {
	return Weights{
		Unassigned:                5,
		TravelTime:                2,
		TimeWindow:                1,
		Priority:                  3,
		Abnormality:               1,
		ClientExperience:          1,
		SchoolExperience:          1,
		ShortTermClientExperience: 1,
	}
}

func (w Weights) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"unassigned", w.Unassigned},
		{"travel_time", w.TravelTime},
		{"time_window", w.TimeWindow},
		{"priority", w.Priority},
		{"abnormality", w.Abnormality},
		{"client_experience", w.ClientExperience},
		{"school_experience", w.SchoolExperience},
		{"short_term_client_experience", w.ShortTermClientExperience},
	}
	var errs []error
	for _, n := range named {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) || n.v < 0 {
			errs = append(errs, fmt.Errorf("weight %s must be a finite non-negative number, got %v", n.name, n.v))
		}
	}
	return errors.Join(errs...)
}

// Stats are population statistics of one term over the current pair pool.
type Stats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

func ComputeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Stats{Mean: mean, Std: math.Sqrt(sq / float64(len(values))), N: len(values)}
}

// Normalize returns the z-score of v, or 0 when the pool has no spread.
func Normalize(v float64, s Stats) float64 {
	if s.Std == 0 {
		return 0
	}
	return (v - s.Mean) / s.Std
}

// Terms is the weighted, scaled contribution of each soft term to one pair.
type Terms struct {
	TravelTime                int64 `json:"travel_time"`
	TimeWindow                int64 `json:"time_window"`
	Priority                  int64 `json:"priority"`
	Abnormality               int64 `json:"abnormality"`
	ClientExperience          int64 `json:"client_experience"`
	SchoolExperience          int64 `json:"school_experience"`
	ShortTermClientExperience int64 `json:"short_term_client_experience"`
}

func (t Terms) Total() int64 {
	return t.TravelTime + t.TimeWindow + t.Priority + t.Abnormality +
		t.ClientExperience + t.SchoolExperience + t.ShortTermClientExperience
}

// Objective is the cost model of one cycle, indexed like the feature cache.
type Objective struct {
	Weights    Weights
	Scale      int64
	Travel     Stats
	TimeWindow Stats
	Priority   Stats

	// Unassigned is the effective per-client penalty for leaving a client open.
	Unassigned int64
	// Lifted reports whether Unassigned was raised above the configured weight.
	Lifted bool

	terms  []Terms
	costs  []int64
	scores []float64
	scored bool
}

// Build computes the per-pair costs. A nil scorer, or a zero abnormality
// weight, omits the abnormality term.
func Build(cache *features.Cache, scorer anomaly.Scorer, w Weights, scale int64, logger *slog.Logger) *Objective {
	n := cache.Len()
	o := &Objective{
		Weights: w,
		Scale:   scale,
		terms:   make([]Terms, n),
		costs:   make([]int64, n),
	}

	travel := make([]float64, 0, n)
	window := make([]float64, 0, n)
	priority := make([]float64, 0, n)
	for k := 0; k < n; k++ {
		f := cache.Get(k)
		travel = append(travel, f.TravelTime)
		priority = append(priority, float64(f.Priority))
		if f.TimeWindowDiff != nil {
			window = append(window, *f.TimeWindowDiff)
		}
	}
	o.Travel = ComputeStats(travel)
	o.TimeWindow = ComputeStats(window)
	o.Priority = ComputeStats(priority)

	if scorer != nil && w.Abnormality > 0 {
		o.scored = true
		o.scores = make([]float64, n)
	}

	for k := 0; k < n; k++ {
		f := cache.Get(k)
		t := Terms{
			TravelTime:                o.term(w.TravelTime, Normalize(f.TravelTime, o.Travel)),
			Priority:                  o.term(w.Priority, Normalize(float64(f.Priority), o.Priority)),
			ClientExperience:          o.term(w.ClientExperience, float64(f.ClientExperience)),
			SchoolExperience:          o.term(w.SchoolExperience, float64(f.SchoolExperience)),
			ShortTermClientExperience: o.term(w.ShortTermClientExperience, float64(f.ShortTermClientExperience)),
		}
		if f.TimeWindowDiff != nil {
			t.TimeWindow = o.term(w.TimeWindow, Normalize(*f.TimeWindowDiff, o.TimeWindow))
		}
		if o.scored {
			s := scorer.Score(f)
			o.scores[k] = s
			t.Abnormality = o.term(w.Abnormality, -s)
		}
		o.terms[k] = t
		o.costs[k] = t.Total()
	}

	o.Unassigned, o.Lifted = dominantPenalty(cache, o.costs, round(w.Unassigned*float64(scale)))
	if o.Lifted {
		logger.Info("unassigned penalty lifted to dominate soft costs",
			"configured", round(w.Unassigned*float64(scale)),
			"effective", o.Unassigned,
		)
	}

	logger.Debug("objective built",
		"pairs", n,
		"travel_mean", o.Travel.Mean, "travel_std", o.Travel.Std,
		"window_pairs", o.TimeWindow.N,
		"priority_mean", o.Priority.Mean, "priority_std", o.Priority.Std,
		"abnormality", o.scored,
	)
	return o
}

// term scales a real value to an integer and applies the weight.
func (o *Objective) term(weight, v float64) int64 {
	scaled := round(v * float64(o.Scale))
	return round(weight * float64(scaled))
}

func round(v float64) int64 { return int64(math.Round(v)) }

// dominantPenalty returns a penalty larger than any possible swing in soft
// cost across all clients, so covering one more client always wins.
func dominantPenalty(cache *features.Cache, costs []int64, configured int64) (int64, bool) {
	type span struct {
		hi, lo int64
		seen   bool
	}
	spans := make(map[int]*span)
	for k, c := range costs {
		j := cache.Pair(k).Client
		s, ok := spans[j]
		if !ok {
			s = &span{}
			spans[j] = s
		}
		if !s.seen || c > s.hi {
			s.hi = c
		}
		if !s.seen || c < s.lo {
			s.lo = c
		}
		s.seen = true
	}
	var bound int64 = 1
	for _, s := range spans {
		bound += max(0, s.hi) - min(0, s.lo)
	}
	if configured >= bound {
		return configured, false
	}
	return bound, true
}

func (o *Objective) Len() int { return len(o.costs) }

// PairCost is the summed coefficient of the k-th pair.
func (o *Objective) PairCost(k int) int64 { return o.costs[k] }

// Breakdown is the per-term coefficient of the k-th pair.
func (o *Objective) Breakdown(k int) Terms { return o.terms[k] }

// Score returns the abnormality score used for the k-th pair, if scoring was on.
func (o *Objective) Score(k int) (float64, bool) {
	if !o.scored {
		return 0, false
	}
	return o.scores[k], true
}

// AbnormalityEnabled reports whether the abnormality term is part of the costs.
func (o *Objective) AbnormalityEnabled() bool { return o.scored }
