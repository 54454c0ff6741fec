// Package engine runs one solve cycle: eligibility, features, objective,
// alternative plans and per-pair anomaly verdicts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Cover/internal/alternatives"
	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/assignment"
	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/eligibility"
	"github.com/MikeSquared-Agency/Cover/internal/features"
	"github.com/MikeSquared-Agency/Cover/internal/objective"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
	"github.com/MikeSquared-Agency/Cover/internal/solver"
)

type Engine struct {
	solver       solver.Solver
	scorer       anomaly.Scorer
	weights      objective.Weights
	generator    *alternatives.Generator
	solveTimeout time.Duration
	logger       *slog.Logger
}

type Options struct {
	Weights          objective.Weights
	Iterations       int
	Ratchet          float64
	PreserveCoverage bool
	SolveTimeout     time.Duration
}

// New builds an engine. A nil scorer omits the abnormality term.
func New(s solver.Solver, scorer anomaly.Scorer, opts Options, logger *slog.Logger) (*Engine, error) {
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	g := alternatives.NewGenerator(logger)
	if opts.Iterations > 0 {
		g.Iterations = opts.Iterations
	}
	if opts.Ratchet > 0 {
		g.Ratchet = opts.Ratchet
	}
	g.PreserveCoverage = opts.PreserveCoverage
	return &Engine{
		solver:       s,
		scorer:       scorer,
		weights:      opts.Weights,
		generator:    g,
		solveTimeout: opts.SolveTimeout,
		logger:       logger,
	}, nil
}

// Assessment is the anomaly verdict of one suggested pair.
type Assessment struct {
	Verdict anomaly.Verdict `json:"verdict"`
	Score   float64         `json:"score"`
}

// Outcome is everything a cycle produced. Zero plans is a valid outcome.
type Outcome struct {
	CycleID       string                      `json:"cycle_id"`
	Date          time.Time                   `json:"date"`
	Plans         []*assignment.Plan          `json:"plans"`
	Groups        [][]alternatives.Suggestion `json:"groups"`
	Verdicts      map[string]Assessment       `json:"verdicts,omitempty"`
	Rejected      []roster.Rejection          `json:"rejected,omitempty"`
	Comments      []comments.Event            `json:"comments"`
	EligiblePairs int                         `json:"eligible_pairs"`
	StoppedEarly  bool                        `json:"stopped_early"`
	Elapsed       time.Duration               `json:"elapsed"`

	journal *comments.Journal
	cache   *features.Cache
}

// Features returns the feature cache the plans index into.
func (o *Outcome) Features() *features.Cache { return o.cache }

// Explain returns the justification of one suggestion in this outcome.
func (o *Outcome) Explain(s alternatives.Suggestion) comments.Explanation {
	return o.journal.Explain(s.EmployeeID, s.ClientID, s.RecommendationID)
}

// PairKey identifies a pair in Outcome.Verdicts.
func PairKey(employeeID, clientID string) string {
	return comments.Pair(employeeID, clientID).ID
}

// Run executes one cycle on an immutable snapshot.
func (e *Engine) Run(ctx context.Context, snap *roster.Snapshot) (*Outcome, error) {
	start := time.Now()
	cycleID := uuid.New().String()
	journal := comments.NewJournal(cycleID)
	logger := e.logger.With("cycle_id", cycleID)

	elig := eligibility.Filter(snap, logger)
	cache := features.Build(snap, elig, journal)
	obj := objective.Build(cache, e.scorer, e.weights, objective.Scale, logger)

	build := func(floor *int64, limit *int) *assignment.Model {
		return assignment.Build(snap, cache, obj, floor, limit)
	}
	res, err := e.generator.Generate(ctx, build, e.timed(), journal)
	if err != nil {
		return nil, fmt.Errorf("generating plans: %w", err)
	}
	groups := alternatives.Transpose(res.Plans)

	out := &Outcome{
		CycleID:       cycleID,
		Date:          snap.Date,
		Plans:         res.Plans,
		Groups:        groups,
		Rejected:      elig.Rejected,
		EligiblePairs: len(elig.Pairs),
		StoppedEarly:  res.StoppedEarly,
		journal:       journal,
		cache:         cache,
	}

	seen := make(map[string]bool)
	for _, g := range groups {
		for _, s := range g {
			key := PairKey(s.EmployeeID, s.ClientID)
			if seen[key] {
				continue
			}
			seen[key] = true
			f := cache.Get(s.PairIndex)
			journal.Add(comments.Pair(s.EmployeeID, s.ClientID), fmt.Sprintf(features.CommentDistanceKm, f.TravelTime/1000))
			if e.scorer == nil {
				continue
			}
			a := Assessment{Verdict: e.scorer.Predict(f), Score: e.scorer.Score(f)}
			if out.Verdicts == nil {
				out.Verdicts = make(map[string]Assessment)
			}
			out.Verdicts[key] = a
			if a.Verdict == anomaly.Abnormal {
				journal.Add(comments.Pair(s.EmployeeID, s.ClientID), features.CommentAbnormal)
			}
		}
	}

	out.Comments = journal.Events()
	out.Elapsed = time.Since(start)
	logger.Info("cycle solved",
		"employees", len(snap.Employees),
		"clients", len(snap.Clients),
		"eligible_pairs", len(elig.Pairs),
		"rejected_rows", len(elig.Rejected),
		"plans", len(res.Plans),
		"groups", len(groups),
		"elapsed", out.Elapsed,
	)
	return out, nil
}

// timed bounds every solve call by the configured timeout.
func (e *Engine) timed() solver.Solver {
	if e.solveTimeout <= 0 {
		return e.solver
	}
	return timeoutSolver{next: e.solver, timeout: e.solveTimeout}
}

type timeoutSolver struct {
	next    solver.Solver
	timeout time.Duration
}

func (t timeoutSolver) Solve(ctx context.Context, m *solver.Model) (*solver.Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Solve(ctx, m)
}
