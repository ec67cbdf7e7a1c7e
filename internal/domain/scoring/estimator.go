// Package scoring turns pairwise tallies into one strength per item by
// fitting a Bradley–Terry model, P(i beats j) = θi / (θi + θj).
package scoring

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/pkg/logger"
)

// minStrength keeps θ positive when an item has no wins and no prior.
const minStrength = 1e-300

// Estimate is the result of one fit.
type Estimate struct {
	// Scores holds min-max normalized strengths in [0,1]. Nil for raw fits.
	Scores map[model.ItemID]float64
	// Strengths holds fitted log-strengths with zero mean.
	Strengths map[model.ItemID]float64
	// Items lists the fitted items in index order.
	Items         []model.ItemID
	Duels         int
	Iterations    int
	Converged     bool
	LowConfidence bool
}

// Estimator fits Bradley–Terry strengths by minorization–maximization.
// It is stateless between calls and safe for concurrent use.
type Estimator struct {
	policy        Policy
	maxIterations int
	tolerance     float64
	prior         float64
	log           logger.Logger
}

// NewEstimator creates an estimator with the given options.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		policy:        DefaultPolicy,
		maxIterations: defaultMaxIterations,
		tolerance:     defaultTolerance,
		prior:         defaultPrior,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the duel expansion policy in use.
func (e *Estimator) Policy() Policy { return e.policy }

// Estimate fits strengths and rescales them into [0,1]. When the iteration
// budget runs out the best iterate is still returned, flagged LowConfidence,
// together with an error wrapping ErrDidNotConverge.
func (e *Estimator) Estimate(ctx context.Context, ts model.Tallies) (Estimate, error) {
	est, err := e.RawEstimate(ctx, ts)
	if est.Strengths == nil {
		return est, err
	}
	est.Scores = Normalize(est.Strengths)
	return est, err
}

// RawEstimate fits strengths without normalization.
func (e *Estimator) RawEstimate(ctx context.Context, ts model.Tallies) (Estimate, error) {
	duels := ExpandDuels(ts, e.policy)
	if len(duels) == 0 {
		return Estimate{}, fmt.Errorf("%w: no duels in %d tallies", ErrEmptyInput, len(ts))
	}
	ix := IndexItems(duels)
	p := buildProblem(ix, duels, e.prior)
	if err := p.connected(ix); err != nil {
		return Estimate{}, err
	}

	logTheta, iters, converged, err := e.fit(ctx, p)
	if err != nil {
		return Estimate{}, err
	}

	est := Estimate{
		Strengths:     make(map[model.ItemID]float64, ix.Len()),
		Items:         ix.IDs(),
		Duels:         len(duels),
		Iterations:    iters,
		Converged:     converged,
		LowConfidence: !converged,
	}
	for i, v := range logTheta {
		est.Strengths[ix.ID(i)] = v
	}
	if e.log != nil {
		e.log.Debug(ctx, "bradley-terry fit",
			logger.Int("items", ix.Len()),
			logger.Int("duels", len(duels)),
			logger.Int("iterations", iters),
			logger.Any("converged", converged))
	}
	if !converged {
		return est, fmt.Errorf("%w after %d iterations", ErrDidNotConverge, iters)
	}
	return est, nil
}

// problem is the sufficient statistic of a duel set: total wins per item and
// comparison counts per undirected edge.
type problem struct {
	wins      []float64
	neighbors [][]int
	counts    [][]float64
}

type edge struct{ a, b int }

func buildProblem(ix Index, duels []model.Duel, prior float64) *problem {
	n := ix.Len()
	p := &problem{
		wins:      make([]float64, n),
		neighbors: make([][]int, n),
		counts:    make([][]float64, n),
	}
	totals := make(map[edge]float64)
	var order []edge
	for _, d := range duels {
		w, _ := ix.Pos(d.Winner)
		l, _ := ix.Pos(d.Loser)
		p.wins[w]++
		key := edge{min(w, l), max(w, l)}
		if _, ok := totals[key]; !ok {
			order = append(order, key)
		}
		totals[key]++
	}
	for _, key := range order {
		c := totals[key] + 2*prior
		p.wins[key.a] += prior
		p.wins[key.b] += prior
		p.neighbors[key.a] = append(p.neighbors[key.a], key.b)
		p.counts[key.a] = append(p.counts[key.a], c)
		p.neighbors[key.b] = append(p.neighbors[key.b], key.a)
		p.counts[key.b] = append(p.counts[key.b], c)
	}
	return p
}

// connected fails with an *IndeterminateError when the comparison graph has
// more than one component.
func (p *problem) connected(ix Index) error {
	g := simple.NewUndirectedGraph()
	for i := range p.wins {
		g.AddNode(simple.Node(i))
	}
	for i, nbrs := range p.neighbors {
		for _, j := range nbrs {
			if i < j {
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}
	comps := topo.ConnectedComponents(g)
	if len(comps) <= 1 {
		return nil
	}
	reps := make([]model.ItemID, 0, len(comps))
	for _, c := range comps {
		lowest := c[0].ID()
		for _, node := range c[1:] {
			lowest = min(lowest, node.ID())
		}
		reps = append(reps, ix.ID(int(lowest)))
	}
	model.SortItems(reps)
	return &IndeterminateError{Components: len(comps), Representatives: reps}
}

// fit runs the MM iteration θi ← Wi / Σj nij/(θi+θj), rescaling θ to unit
// geometric mean after every sweep. It returns log θ.
func (e *Estimator) fit(ctx context.Context, p *problem) ([]float64, int, bool, error) {
	n := len(p.wins)
	theta := make([]float64, n)
	next := make([]float64, n)
	logTheta := make([]float64, n)
	logNext := make([]float64, n)
	for i := range theta {
		theta[i] = 1
	}

	for iter := 1; iter <= e.maxIterations; iter++ {
		if iter == 1 || iter%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, iter, false, fmt.Errorf("estimation cancelled: %w", err)
			}
		}
		for i := range theta {
			denom := 0.0
			for k, j := range p.neighbors[i] {
				denom += p.counts[i][k] / (theta[i] + theta[j])
			}
			next[i] = math.Max(p.wins[i]/denom, minStrength)
		}
		for i, v := range next {
			logNext[i] = math.Log(v)
		}
		floats.AddConst(-floats.Sum(logNext)/float64(n), logNext)

		delta := 0.0
		for i := range logNext {
			delta = math.Max(delta, math.Abs(logNext[i]-logTheta[i]))
		}
		copy(logTheta, logNext)
		for i, v := range logTheta {
			theta[i] = math.Exp(v)
		}
		if delta < e.tolerance {
			return logTheta, iter, true, nil
		}
	}
	return logTheta, e.maxIterations, false, nil
}
