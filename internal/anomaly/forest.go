// Package anomaly scores how unusual an employee/client pairing looks compared
// with historical assignments, using an isolation forest.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/MikeSquared-Agency/Cover/internal/features"
)

var ErrNotFitted = errors.New("anomaly model not fitted")

type Verdict string

const (
	Normal   Verdict = "normal"
	Abnormal Verdict = "abnormal"
)

// Scorer is fit once offline and queried many times during a cycle.
// Lower scores are more anomalous.
type Scorer interface {
	Score(f features.Features) float64
	Predict(f features.Features) Verdict
}

// Options control forest training. Zero values select the defaults.
type Options struct {
	Trees      int
	SampleSize int
	// Contamination is the expected share of outliers in the training set.
	// Zero uses a fixed offset of -0.5.
	Contamination float64
	Seed          uint64
}

const (
	DefaultTrees      = 100
	DefaultSampleSize = 256
	autoOffset        = -0.5
	eulerGamma        = 0.5772156649015329
)

type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"s"`
}

func (n node) leaf() bool { return n.Left < 0 }

type tree []node

// IsolationForest implements Scorer. It is read-only after Fit or Load.
type IsolationForest struct {
	FeatureNames []string `json:"features"`
	SampleSize   int      `json:"sample_size"`
	Offset       float64  `json:"offset"`
	Forest       []tree   `json:"trees"`
}

// Fit trains a forest on samples laid out in features.Names order.
func Fit(samples [][]float64, opts Options) (*IsolationForest, error) {
	if len(samples) == 0 {
		return nil, errors.New("fitting isolation forest: no samples")
	}
	width := len(features.Names)
	for i, s := range samples {
		if len(s) != width {
			return nil, fmt.Errorf("fitting isolation forest: sample %d has %d features, want %d", i, len(s), width)
		}
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultTrees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.Contamination < 0 || opts.Contamination > 0.5 {
		return nil, fmt.Errorf("fitting isolation forest: contamination %v outside [0, 0.5]", opts.Contamination)
	}
	size := min(opts.SampleSize, len(samples))
	limit := int(math.Ceil(math.Log2(float64(max(size, 2)))))

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	m := &IsolationForest{
		FeatureNames: slices.Clone(features.Names),
		SampleSize:   size,
		Offset:       autoOffset,
		Forest:       make([]tree, opts.Trees),
	}

	for t := range m.Forest {
		idx := rng.Perm(len(samples))[:size]
		b := builder{samples: samples, rng: rng, limit: limit, width: width}
		b.grow(idx, 0)
		m.Forest[t] = b.nodes
	}

	if opts.Contamination > 0 {
		scores := make([]float64, len(samples))
		for i, s := range samples {
			scores[i] = m.ScoreVector(s)
		}
		m.Offset = percentile(scores, opts.Contamination*100)
	}
	return m, nil
}

type builder struct {
	samples [][]float64
	rng     *rand.Rand
	limit   int
	width   int
	nodes   tree
}

func (b *builder) grow(idx []int, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.limit || len(idx) <= 1 {
		return at
	}

	// Pick a random non-constant feature; a subset with none stays a leaf.
	for _, f := range b.rng.Perm(b.width) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.samples[i][f]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if lo == hi {
			continue
		}
		threshold := lo + b.rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if b.samples[i][f] < threshold {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		l := b.grow(left, depth+1)
		r := b.grow(right, depth+1)
		b.nodes[at] = node{Feature: f, Threshold: threshold, Left: l, Right: r, Size: len(idx)}
		return at
	}
	return at
}

func (t tree) pathLength(x []float64) float64 {
	depth := 0
	n := t[0]
	for !n.leaf() {
		if x[n.Feature] < n.Threshold {
			n = t[n.Left]
		} else {
			n = t[n.Right]
		}
		depth++
	}
	return float64(depth) + averagePath(n.Size)
}

// averagePath is the mean path length of an unsuccessful search in a binary
// search tree of n points.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// ScoreVector returns -2^(-E[h(x)]/c(n)); values near -1 are anomalies and
// values around -0.5 or above are normal.
func (m *IsolationForest) ScoreVector(x []float64) float64 {
	if m == nil || len(m.Forest) == 0 {
		return 0
	}
	var total float64
	for _, t := range m.Forest {
		total += t.pathLength(x)
	}
	mean := total / float64(len(m.Forest))
	c := averagePath(m.SampleSize)
	if c == 0 {
		return -0.5
	}
	return -math.Pow(2, -mean/c)
}

func (m *IsolationForest) Score(f features.Features) float64 {
	return m.ScoreVector(f.Vector())
}

func (m *IsolationForest) Predict(f features.Features) Verdict {
	if m.Score(f) < m.Offset {
		return Abnormal
	}
	return Normal
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	if len(s) == 1 {
		return s[0]
	}
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}
