package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// BranchAndBound is an exact depth-first search over clients. Without a
// floor or coverage limit it returns the Kuhn–Munkres optimum directly.
//
// Every node is bounded by the cheapest completion of its remaining clients,
// itself solved exactly with Kuhn–Munkres. A node whose cheapest completion
// already meets the floor and the coverage limit is closed without
// branching. When a limit stops the search the best solution found so far
// is returned with Optimal unset.
type BranchAndBound struct {
	// Timeout bounds one Solve call. Zero means only ctx applies.
	Timeout time.Duration
	// MaxNodes bounds the number of evaluated nodes. Zero means unlimited.
	MaxNodes int64
	// RelativeGap closes nodes that cannot beat the incumbent by more than
	// this fraction of its magnitude. Zero means exact.
	RelativeGap float64
}

var errNodeLimit = errors.New("node limit reached")

func (b *BranchAndBound) Solve(ctx context.Context, m *Model) (*Solution, error) {
	start := time.Now()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating model: %w", err)
	}
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSolution, err)
	}

	if m.Floor == nil && m.MaxUnassigned == nil {
		sol, err := hungarian(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSolution, err)
		}
		sol.Stats.Elapsed = time.Since(start)
		return sol, nil
	}

	s := newSearch(ctx, m, b.MaxNodes, b.RelativeGap)
	if root, ok := s.evaluate(0, 0, s.fixedOpen); ok {
		s.explore(root)
	}
	if !s.haveBest {
		if s.aborted != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSolution, s.aborted)
		}
		return nil, ErrNoSolution
	}
	sol := solutionFromChoice(m, s.bestChoice, s.bestVal)
	sol.Optimal = s.aborted == nil
	sol.Stats = Stats{Nodes: s.nodes, Elapsed: time.Since(start)}
	return sol, nil
}

type search struct {
	ctx      context.Context
	m        *Model
	maxNodes int64
	gap      float64

	base    int64
	reduced []int64
	order   []int   // clients with at least one candidate, fewest first
	cands   [][]int // per client: pair indices by ascending reduced cost
	// fixedOpen counts clients without any candidate pair.
	fixedOpen int

	empUsed []bool
	choice  []int

	nodes   int64
	aborted error

	haveBest   bool
	bestVal    int64
	bestChoice []int
}

func newSearch(ctx context.Context, m *Model, maxNodes int64, gap float64) *search {
	base, r := reduced(m)
	s := &search{
		ctx:        ctx,
		m:          m,
		maxNodes:   maxNodes,
		gap:        gap,
		base:       base,
		reduced:    r,
		cands:      make([][]int, m.Clients),
		empUsed:    make([]bool, m.Employees),
		choice:     make([]int, m.Clients),
		bestChoice: make([]int, m.Clients),
	}
	for k, p := range m.Pairs {
		s.cands[p.Client] = append(s.cands[p.Client], k)
	}
	for j := range s.cands {
		s.choice[j] = -1
		c := s.cands[j]
		sort.SliceStable(c, func(a, b int) bool { return r[c[a]] < r[c[b]] })
		if len(c) == 0 {
			s.fixedOpen++
			continue
		}
		s.order = append(s.order, j)
	}
	sort.SliceStable(s.order, func(a, b int) bool {
		return len(s.cands[s.order[a]]) < len(s.cands[s.order[b]])
	})
	return s
}

func (s *search) tick() bool {
	s.nodes++
	if s.maxNodes > 0 && s.nodes > s.maxNodes {
		s.aborted = errNodeLimit
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.aborted = err
		return false
	}
	return true
}

// node is a partial assignment fixing s.order[:pos]. cur is the reduced cost
// fixed so far and open the number of clients left unassigned so far.
type node struct {
	pos  int
	cur  int64
	open int

	// dead nodes have no completion meeting the floor or coverage limit.
	dead bool
	// lo is the objective of the cheapest completion, fill its choice per
	// remaining client (-1 for open) and fillOpen its open count.
	lo       int64
	fill     []int
	fillOpen int
	// feasible means the cheapest completion meets every constraint and is
	// therefore the best solution below this node.
	feasible bool
}

// evaluate bounds a node. It reports false when a limit stopped the search.
func (s *search) evaluate(pos int, cur int64, open int) (*node, bool) {
	if !s.tick() {
		return nil, false
	}
	m := s.m
	nd := &node{pos: pos, cur: cur, open: open}
	rest := s.order[pos:]

	limited := m.MaxUnassigned != nil
	budget, minOpen := 0, 0
	if limited {
		budget = *m.MaxUnassigned - open
		minOpen = len(rest) - s.maxMatching(rest)
		if minOpen > budget {
			nd.dead = true
			return nd, true
		}
	}

	fill, val, err := s.cheapest(rest)
	if err != nil {
		s.aborted = err
		return nil, false
	}
	nd.fill = fill
	nd.lo = s.base + cur + val
	for _, k := range fill {
		if k < 0 {
			nd.fillOpen++
		}
	}
	nd.feasible = (m.Floor == nil || nd.lo > *m.Floor) && (!limited || nd.fillOpen <= budget)
	if nd.feasible || m.Floor == nil {
		return nd, true
	}

	hi, err := s.dearest(rest, limited && minOpen == budget)
	if err != nil {
		s.aborted = err
		return nil, false
	}
	if s.base+cur+hi <= *m.Floor {
		nd.dead = true
	}
	return nd, true
}

// pruned reports whether nothing below nd can improve on the incumbent.
func (s *search) pruned(nd *node) bool {
	if !s.haveBest {
		return false
	}
	bound := nd.lo
	if f := s.m.Floor; f != nil && bound <= *f {
		bound = *f + 1
	}
	slack := int64(s.gap * math.Abs(float64(s.bestVal)))
	return bound >= s.bestVal-slack
}

type child struct {
	pair int // -1 leaves the client open
	nd   *node
}

func (s *search) explore(nd *node) {
	if s.aborted != nil || nd.dead || s.pruned(nd) {
		return
	}
	if nd.feasible {
		s.record(nd)
		return
	}
	if nd.pos == len(s.order) {
		return
	}
	m := s.m
	j := s.order[nd.pos]

	var kids []child
	for _, k := range s.cands[j] {
		e := m.Pairs[k].Employee
		if s.empUsed[e] {
			continue
		}
		s.empUsed[e] = true
		c, ok := s.evaluate(nd.pos+1, nd.cur+s.reduced[k], nd.open)
		s.empUsed[e] = false
		if !ok {
			return
		}
		if !c.dead {
			kids = append(kids, child{pair: k, nd: c})
		}
	}
	if m.MaxUnassigned == nil || nd.open+1 <= *m.MaxUnassigned {
		c, ok := s.evaluate(nd.pos+1, nd.cur, nd.open+1)
		if !ok {
			return
		}
		if !c.dead {
			kids = append(kids, child{pair: -1, nd: c})
		}
	}

	// Children whose cheapest completion clears the floor come first, cheapest
	// first. The rest follow closest to the floor first.
	above := func(n *node) bool { return m.Floor == nil || n.lo > *m.Floor }
	sort.SliceStable(kids, func(a, b int) bool {
		x, y := kids[a].nd, kids[b].nd
		if above(x) != above(y) {
			return above(x)
		}
		if above(x) {
			return x.lo < y.lo
		}
		return x.lo > y.lo
	})

	for _, kid := range kids {
		e := -1
		if kid.pair >= 0 {
			e = m.Pairs[kid.pair].Employee
			s.empUsed[e] = true
		}
		s.choice[j] = kid.pair
		s.explore(kid.nd)
		s.choice[j] = -1
		if e >= 0 {
			s.empUsed[e] = false
		}
		if s.aborted != nil {
			return
		}
	}
}

func (s *search) record(nd *node) {
	if s.haveBest && nd.lo >= s.bestVal {
		return
	}
	s.haveBest = true
	s.bestVal = nd.lo
	copy(s.bestChoice, s.choice)
	for r, j := range s.order[nd.pos:] {
		s.bestChoice[j] = nd.fill[r]
	}
}

// matrix lays out the remaining clients as rows against every employee plus
// one private open column per row. Used employees and non-candidates are
// forbidden; cell gives the cost of a free candidate pair.
func (s *search) matrix(rest []int, cell func(k int) int64) [][]int64 {
	emps := s.m.Employees
	cost := make([][]int64, len(rest))
	for r, j := range rest {
		row := make([]int64, emps+len(rest))
		for c := range row {
			row[c] = forbidden
		}
		row[emps+r] = 0
		for _, k := range s.cands[j] {
			if e := s.m.Pairs[k].Employee; !s.empUsed[e] {
				row[e] = cell(k)
			}
		}
		cost[r] = row
	}
	return cost
}

// pairsOf maps an assignment of matrix columns back to pair indices.
func (s *search) pairsOf(rest []int, rowCol []int) []int {
	out := make([]int, len(rest))
	for r, j := range rest {
		out[r] = -1
		if rowCol[r] >= s.m.Employees {
			continue
		}
		for _, k := range s.cands[j] {
			if s.m.Pairs[k].Employee == rowCol[r] {
				out[r] = k
				break
			}
		}
	}
	return out
}

// cheapest returns the minimum reduced-cost completion of rest.
func (s *search) cheapest(rest []int) ([]int, int64, error) {
	if len(rest) == 0 {
		return nil, 0, nil
	}
	rowCol, err := kuhnMunkres(s.ctx, s.matrix(rest, func(k int) int64 { return s.reduced[k] }), s.m.Employees+len(rest))
	if err != nil {
		return nil, 0, err
	}
	fill := s.pairsOf(rest, rowCol)
	var val int64
	for _, k := range fill {
		if k >= 0 {
			val += s.reduced[k]
		}
	}
	return fill, val, nil
}

// dearest returns an upper bound on the reduced cost of any completion of
// rest. With fullCoverage set every completion must match as many clients as
// possible and the bound is exact; otherwise employee conflicts are relaxed.
func (s *search) dearest(rest []int, fullCoverage bool) (int64, error) {
	if !fullCoverage {
		var hi int64
		for _, j := range rest {
			var ch int64
			for _, k := range s.cands[j] {
				if !s.empUsed[s.m.Pairs[k].Employee] {
					ch = max(ch, s.reduced[k])
				}
			}
			hi += ch
		}
		return hi, nil
	}
	if len(rest) == 0 {
		return 0, nil
	}

	// big outweighs any cost difference, so the minimum first maximises the
	// number of matched rows and then their reduced cost.
	var big int64 = 1
	for _, j := range rest {
		var m int64
		for _, k := range s.cands[j] {
			m = max(m, abs(s.reduced[k]))
		}
		big += 2 * m
	}
	cost := s.matrix(rest, func(k int) int64 { return -s.reduced[k] - big })
	rowCol, err := kuhnMunkres(s.ctx, cost, s.m.Employees+len(rest))
	if err != nil {
		return 0, err
	}
	var hi int64
	for _, k := range s.pairsOf(rest, rowCol) {
		if k >= 0 {
			hi += s.reduced[k]
		}
	}
	return hi, nil
}

// maxMatching returns the largest number of rest clients that free
// employees can cover at once.
func (s *search) maxMatching(rest []int) int {
	owner := make([]int, s.m.Employees)
	seen := make([]bool, s.m.Employees)
	size := 0
	for r := range rest {
		clear(seen)
		if s.augment(rest, r, seen, owner) {
			size++
		}
	}
	return size
}

// augment looks for an alternating path from row r; owner holds row+1 per
// employee, 0 when unmatched.
func (s *search) augment(rest []int, r int, seen []bool, owner []int) bool {
	for _, k := range s.cands[rest[r]] {
		e := s.m.Pairs[k].Employee
		if s.empUsed[e] || seen[e] {
			continue
		}
		seen[e] = true
		if owner[e] == 0 || s.augment(rest, owner[e]-1, seen, owner) {
			owner[e] = r + 1
			return true
		}
	}
	return false
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
