// Package alternatives re-solves the assignment model under a rising
// objective floor to collect several distinct plans, then regroups them per
// client into ranked suggestion lists.
package alternatives

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/MikeSquared-Agency/Cover/internal/assignment"
	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/solver"
)

const (
	DefaultIterations = 3
	DefaultRatchet    = 0.10
)

// BuildFunc builds a fresh model for one iteration.
type BuildFunc func(floor *int64, maxUnassigned *int) *assignment.Model

type Generator struct {
	Iterations int
	Ratchet    float64
	// PreserveCoverage keeps later plans from leaving more clients open than
	// the first one.
	PreserveCoverage bool
	Logger           *slog.Logger
}

func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{
		Iterations:       DefaultIterations,
		Ratchet:          DefaultRatchet,
		PreserveCoverage: true,
		Logger:           logger,
	}
}

type Result struct {
	Plans []*assignment.Plan
	// Floors[n] is the floor plan n was solved under; nil for the first.
	Floors []*int64
	// StoppedEarly is set when an iteration found no solution.
	StoppedEarly bool
}

// Floor returns the minimum objective the next iteration must exceed.
func (g *Generator) Floor(v int64) int64 {
	return v + int64(math.Round(math.Abs(float64(v))*g.Ratchet))
}

// Generate runs up to Iterations solves. A no-solution outcome ends the loop
// and keeps the plans found so far; zero plans is a valid result.
func (g *Generator) Generate(ctx context.Context, build BuildFunc, s solver.Solver, journal *comments.Journal) (*Result, error) {
	res := &Result{}
	var floor *int64
	var limit *int

	for n := 0; n < g.Iterations; n++ {
		m := build(floor, limit)
		v, ok, err := m.Solve(ctx, s)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", n, err)
		}
		if !ok {
			g.Logger.Info("no further alternative", "iteration", n, "plans", len(res.Plans))
			res.StoppedEarly = true
			break
		}
		plan, err := m.ExtractResults(journal)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", n, err)
		}
		res.Plans = append(res.Plans, plan)
		res.Floors = append(res.Floors, floor)
		g.Logger.Debug("alternative solved",
			"iteration", n,
			"objective", v,
			"optimal", m.Solution().Optimal,
			"assigned", len(plan.Assigned),
			"unassigned", len(plan.Unassigned),
			"recommendation_id", plan.RecommendationID,
		)

		next := g.Floor(v)
		floor = &next
		if n == 0 && g.PreserveCoverage {
			open := len(plan.Unassigned)
			limit = &open
		}
	}
	return res, nil
}

// Suggestion is one ranked candidate for a client.
type Suggestion struct {
	EmployeeID       string `json:"employee_id"`
	ClientID         string `json:"client_id"`
	RecommendationID string `json:"recommendation_id"`
	PairIndex        int    `json:"pair_index"`
}

// Transpose groups plans per client: for each client assigned in the first
// plan, in that plan's order, its pairing there followed by its pairing in
// each later plan that assigns it.
func Transpose(plans []*assignment.Plan) [][]Suggestion {
	if len(plans) == 0 {
		return nil
	}
	later := make([]map[string]assignment.AssignedPair, len(plans))
	for n, p := range plans[1:] {
		idx := make(map[string]assignment.AssignedPair, len(p.Assigned))
		for _, a := range p.Assigned {
			idx[a.ClientID] = a
		}
		later[n+1] = idx
	}

	groups := make([][]Suggestion, 0, len(plans[0].Assigned))
	for _, a := range plans[0].Assigned {
		group := []Suggestion{suggestion(a, plans[0].RecommendationID)}
		for n := 1; n < len(plans); n++ {
			if alt, ok := later[n][a.ClientID]; ok {
				group = append(group, suggestion(alt, plans[n].RecommendationID))
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func suggestion(a assignment.AssignedPair, rec string) Suggestion {
	return Suggestion{EmployeeID: a.EmployeeID, ClientID: a.ClientID, RecommendationID: rec, PairIndex: a.PairIndex}
}
