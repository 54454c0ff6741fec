// Package solver finds minimum-cost one-to-one assignments between employees
// and clients, with optional objective floor and coverage constraints.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoSolution covers infeasibility, and timeouts, cancellation or node
// limits hit before any feasible solution was found.
var ErrNoSolution = errors.New("no solution")

// Pair is one assignment variable. Cost is its objective coefficient.
type Pair struct {
	Employee int   `json:"employee"`
	Client   int   `json:"client"`
	Cost     int64 `json:"cost"`
}

// Model is a minimisation over boolean pair variables x_p with
//
//	objective = Σ_j UnassignedCost[j]·u_j + Σ_p Cost_p·x_p
//	u_j       = 1 − Σ_{p: client(p)=j} x_p
//	Σ_{p: employee(p)=i} x_p ≤ 1
//
// plus objective > *Floor and Σ_j u_j ≤ *MaxUnassigned when set.
type Model struct {
	Employees      int
	Clients        int
	Pairs          []Pair
	UnassignedCost []int64
	Floor          *int64
	MaxUnassigned  *int
}

func (m *Model) Validate() error {
	if m.Employees < 0 || m.Clients < 0 {
		return fmt.Errorf("invalid model size %dx%d", m.Employees, m.Clients)
	}
	if len(m.UnassignedCost) != m.Clients {
		return fmt.Errorf("unassigned costs for %d clients, want %d", len(m.UnassignedCost), m.Clients)
	}
	seen := make(map[[2]int]struct{}, len(m.Pairs))
	for k, p := range m.Pairs {
		if p.Employee < 0 || p.Employee >= m.Employees || p.Client < 0 || p.Client >= m.Clients {
			return fmt.Errorf("pair %d (%d,%d) out of range", k, p.Employee, p.Client)
		}
		key := [2]int{p.Employee, p.Client}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("pair %d (%d,%d) duplicated", k, p.Employee, p.Client)
		}
		seen[key] = struct{}{}
	}
	if m.MaxUnassigned != nil && *m.MaxUnassigned < 0 {
		return fmt.Errorf("negative unassigned limit %d", *m.MaxUnassigned)
	}
	return nil
}

// Evaluate checks that selected is a valid one-to-one assignment and returns
// its objective and per-client unassigned flags. Floor and coverage limits are
// not checked.
func (m *Model) Evaluate(selected []bool) (int64, []bool, error) {
	if len(selected) != len(m.Pairs) {
		return 0, nil, fmt.Errorf("selection has %d entries, want %d", len(selected), len(m.Pairs))
	}
	empUsed := make([]bool, m.Employees)
	assigned := make([]bool, m.Clients)
	var obj int64
	for k, on := range selected {
		if !on {
			continue
		}
		p := m.Pairs[k]
		if empUsed[p.Employee] {
			return 0, nil, fmt.Errorf("employee %d assigned twice", p.Employee)
		}
		if assigned[p.Client] {
			return 0, nil, fmt.Errorf("client %d assigned twice", p.Client)
		}
		empUsed[p.Employee] = true
		assigned[p.Client] = true
		obj += p.Cost
	}
	unassigned := make([]bool, m.Clients)
	for j := range unassigned {
		if !assigned[j] {
			unassigned[j] = true
			obj += m.UnassignedCost[j]
		}
	}
	return obj, unassigned, nil
}

type Stats struct {
	Nodes   int64         `json:"nodes"`
	Elapsed time.Duration `json:"elapsed"`
}

type Solution struct {
	Objective  int64  `json:"objective"`
	Selected   []bool `json:"selected"`
	Unassigned []bool `json:"unassigned"`
	// Optimal is false when a limit stopped the search and this is the best
	// solution found so far.
	Optimal    bool   `json:"optimal"`
	Stats      Stats  `json:"stats"`
}

// UnassignedCount returns the number of clients left open.
func (s *Solution) UnassignedCount() int {
	n := 0
	for _, u := range s.Unassigned {
		if u {
			n++
		}
	}
	return n
}

// Solver returns an optimal solution, or the best one found when a limit
// stops the search, or an error wrapping ErrNoSolution. Any other error
// signals a malformed model.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}

// reduced rewrites pair costs relative to leaving their client unassigned:
// objective = base + Σ_p reduced_p·x_p.
func reduced(m *Model) (base int64, r []int64) {
	for _, u := range m.UnassignedCost {
		base += u
	}
	r = make([]int64, len(m.Pairs))
	for k, p := range m.Pairs {
		r[k] = p.Cost - m.UnassignedCost[p.Client]
	}
	return base, r
}

func solutionFromChoice(m *Model, choice []int, objective int64) *Solution {
	sol := &Solution{
		Objective:  objective,
		Selected:   make([]bool, len(m.Pairs)),
		Unassigned: make([]bool, m.Clients),
	}
	for j, p := range choice {
		if p < 0 {
			sol.Unassigned[j] = true
			continue
		}
		sol.Selected[p] = true
	}
	return sol
}
