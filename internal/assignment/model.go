// Package assignment builds the one-to-one assignment model of a cycle,
// hands it to a solver and reads plans back out.
package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/features"
	"github.com/MikeSquared-Agency/Cover/internal/objective"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
	"github.com/MikeSquared-Agency/Cover/internal/solver"
)

// ErrNotSolved is returned when results are read before a successful Solve.
var ErrNotSolved = errors.New("model not solved")

// Model is built fresh for every solve. It is not reused across iterations.
type Model struct {
	snap  *roster.Snapshot
	cache *features.Cache

	problem  *solver.Model
	solution *solver.Solution
	// clients maps solver client indices to snapshot rows.
	clients []int

	// newID is swapped in tests.
	newID func() uuid.UUID
}

// Build creates the solver model for the cached pairs. Only clients that
// passed validation take part. floor, when set, requires the objective to be
// strictly greater. maxUnassigned, when set, caps the number of open clients.
func Build(snap *roster.Snapshot, cache *features.Cache, obj *objective.Objective, floor *int64, maxUnassigned *int) *Model {
	var clients []int
	index := make([]int, len(snap.Clients))
	for j := range snap.Clients {
		index[j] = -1
		if cache.ClientValid(j) {
			index[j] = len(clients)
			clients = append(clients, j)
		}
	}

	p := &solver.Model{
		Employees:      len(snap.Employees),
		Clients:        len(clients),
		Pairs:          make([]solver.Pair, cache.Len()),
		UnassignedCost: make([]int64, len(clients)),
		Floor:          floor,
		MaxUnassigned:  maxUnassigned,
	}
	for k := range p.Pairs {
		pr := cache.Pair(k)
		p.Pairs[k] = solver.Pair{Employee: pr.Employee, Client: index[pr.Client], Cost: obj.PairCost(k)}
	}
	for c := range p.UnassignedCost {
		p.UnassignedCost[c] = obj.Unassigned
	}
	return &Model{snap: snap, cache: cache, problem: p, clients: clients, newID: uuid.New}
}

// Problem exposes the solver-level model.
func (m *Model) Problem() *solver.Model { return m.problem }

// Solve runs the solver. ok is false when no solution exists within the
// solver's limits; err is reserved for malformed models.
func (m *Model) Solve(ctx context.Context, s solver.Solver) (int64, bool, error) {
	sol, err := s.Solve(ctx, m.problem)
	if errors.Is(err, solver.ErrNoSolution) {
		m.solution = nil
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("solving assignment model: %w", err)
	}
	m.solution = sol
	return sol.Objective, true, nil
}

// Solution returns the last successful solution, or nil.
func (m *Model) Solution() *solver.Solution { return m.solution }

type AssignedPair struct {
	EmployeeID string `json:"employee_id"`
	ClientID   string `json:"client_id"`
	// PairIndex indexes the feature cache and objective of the cycle.
	PairIndex int `json:"pair_index"`
}

// Plan is one solved assignment with its aggregates.
type Plan struct {
	RecommendationID string         `json:"recommendation_id"`
	Objective        int64          `json:"objective"`
	Assigned         []AssignedPair `json:"assigned"`
	Unassigned       []string       `json:"unassigned"`
	AvgTravelTime    *float64       `json:"avg_travel_time,omitempty"`
	AvgPriority      *float64       `json:"avg_priority,omitempty"`
	Nodes            int64          `json:"nodes"`
}

// ExtractResults reads the solved assignment and records the plan's summary
// comments under a fresh recommendation id.
func (m *Model) ExtractResults(journal *comments.Journal) (*Plan, error) {
	if m.solution == nil {
		return nil, ErrNotSolved
	}
	sol := m.solution
	plan := &Plan{
		RecommendationID: m.newID().String(),
		Objective:        sol.Objective,
		Assigned:         []AssignedPair{},
		Unassigned:       []string{},
		Nodes:            sol.Stats.Nodes,
	}

	var travel, priority float64
	for k, on := range sol.Selected {
		if !on {
			continue
		}
		pr := m.cache.Pair(k)
		e := m.snap.Employees[pr.Employee]
		c := m.snap.Clients[pr.Client]
		plan.Assigned = append(plan.Assigned, AssignedPair{EmployeeID: e.ID, ClientID: c.ID, PairIndex: k})

		f := m.cache.Get(k)
		travel += f.TravelTime
		priority += float64(f.Priority)
	}
	for c, open := range sol.Unassigned {
		if open {
			plan.Unassigned = append(plan.Unassigned, m.snap.Clients[m.clients[c]].ID)
		}
	}

	rec := comments.Recommendation(plan.RecommendationID)
	if n := float64(len(plan.Assigned)); n > 0 {
		avgTravel := travel / n
		avgPriority := priority / n
		plan.AvgTravelTime = &avgTravel
		plan.AvgPriority = &avgPriority
		journal.Add(rec, fmt.Sprintf("average distance: %.2f km", avgTravel/1000))
		journal.Add(rec, fmt.Sprintf("average priority: %.2f", avgPriority))
	} else {
		journal.Add(rec, "no assignments found")
	}
	return plan, nil
}

// ByClient maps each assigned client id to its employee id.
func (p *Plan) ByClient() map[string]string {
	out := make(map[string]string, len(p.Assigned))
	for _, a := range p.Assigned {
		out[a.ClientID] = a.EmployeeID
	}
	return out
}
