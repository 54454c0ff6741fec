package solver

import (
	"context"
	"math"
)

const forbidden = int64(1) << 60

// kuhnMunkres returns, per row, the column of a minimum-cost assignment of
// every row to a distinct column. Each row needs at least one finite column
// and there must be at least as many columns as rows. ctx is checked once per
// row.
func kuhnMunkres(ctx context.Context, cost [][]int64, cols int) ([]int, error) {
	n := len(cost)
	// Potentials, 1-indexed; match[c] is the row matched to column c.
	const inf = math.MaxInt64 / 2
	u := make([]int64, n+1)
	v := make([]int64, cols+1)
	match := make([]int, cols+1)
	way := make([]int, cols+1)
	minv := make([]int64, cols+1)
	used := make([]bool, cols+1)

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match[0] = i
		j0 := 0
		for c := range minv {
			minv[c] = inf
			used[c] = false
		}
		for {
			used[j0] = true
			i0 := match[j0]
			delta := int64(inf)
			j1 := 0
			for c := 1; c <= cols; c++ {
				if used[c] {
					continue
				}
				cur := cost[i0-1][c-1] - u[i0] - v[c]
				if cur < minv[c] {
					minv[c] = cur
					way[c] = j0
				}
				if minv[c] < delta {
					delta = minv[c]
					j1 = c
				}
			}
			for c := 0; c <= cols; c++ {
				if used[c] {
					u[match[c]] += delta
					v[c] -= delta
				} else {
					minv[c] -= delta
				}
			}
			j0 = j1
			if match[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			match[j0] = match[j1]
			j0 = j1
		}
	}

	rowCol := make([]int, n)
	for c := 1; c <= cols; c++ {
		if match[c] > 0 {
			rowCol[match[c]-1] = c - 1
		}
	}
	return rowCol, nil
}

// hungarian solves the unconstrained model exactly. Rows are clients;
// columns are employees followed by one private "unassigned" column per
// client, so every row always has a finite option.
func hungarian(ctx context.Context, m *Model) (*Solution, error) {
	base, r := reduced(m)
	n := m.Clients
	cols := m.Employees + m.Clients

	cost := make([][]int64, n)
	pairAt := make([]int, n*m.Employees)
	for j := range cost {
		cost[j] = make([]int64, cols)
		for c := range cost[j] {
			cost[j][c] = forbidden
		}
		cost[j][m.Employees+j] = 0
	}
	for i := range pairAt {
		pairAt[i] = -1
	}
	for k, p := range m.Pairs {
		cost[p.Client][p.Employee] = r[k]
		pairAt[p.Client*m.Employees+p.Employee] = k
	}

	rowCol, err := kuhnMunkres(ctx, cost, cols)
	if err != nil {
		return nil, err
	}

	choice := make([]int, n)
	obj := base
	for j, col := range rowCol {
		choice[j] = -1
		if col >= m.Employees {
			continue
		}
		if k := pairAt[j*m.Employees+col]; k >= 0 {
			choice[j] = k
			obj += r[k]
		}
	}
	sol := solutionFromChoice(m, choice, obj)
	sol.Optimal = true
	return sol, nil
}
