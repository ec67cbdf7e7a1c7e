package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/pkg/logger"
)

// Result is the outcome of one simulation run.
type Result struct {
	Items    []Item
	Pairs    []model.Pair
	Ballots  []model.Ballot
	Tallies  model.Tallies
	Estimate scoring.Estimate
	Stats    Stats
}

// Option applies a configuration option to a run.
type Option func(*runner)

// WithEstimator replaces the default estimator.
func WithEstimator(e *scoring.Estimator) Option {
	return func(r *runner) {
		if e != nil {
			r.estimator = e
		}
	}
}

// WithLogger sets the logger used for progress and final statistics.
func WithLogger(l logger.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.log = l
		}
	}
}

type runner struct {
	estimator *scoring.Estimator
	log       logger.Logger
}

// Run executes a complete simulation.
func Run(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	r := &runner{estimator: scoring.NewEstimator(), log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}

	stats := Stats{StartTime: time.Now(), Items: cfg.Items}
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // simulation, not crypto

	r.log.Info(ctx, "starting simulation",
		logger.Int("items", cfg.Items),
		logger.Int("degree", cfg.Degree),
		logger.Int("voters", cfg.Voters),
		logger.Float64("tieBand", cfg.TieBand),
		logger.Int64("seed", cfg.Seed))

	// Step 1: latent qualities
	items := generateItems(rng, cfg.Items)
	ids := make([]model.ItemID, len(items))
	byID := make(map[model.ItemID]Item, len(items))
	for i, it := range items {
		ids[i] = it.ID
		byID[it.ID] = it
	}

	// Step 2: pairing
	gen := pairing.NewGenerator(pairing.WithSeed(rng.Int63()), pairing.WithLogger(r.log))
	assignment, err := gen.Generate(ctx, ids, cfg.Degree)
	if err != nil {
		return nil, fmt.Errorf("pairing failed: %w", err)
	}
	pairs := assignment.Pairs()
	pairing.ShufflePairs(rng, pairs)
	stats.Pairs = len(pairs)
	stats.Restarts = gen.Restarts()

	// Step 3: voting
	voters, err := generateVoters(rng, cfg.Voters)
	if err != nil {
		return nil, err
	}
	ballots, err := castBallots(ctx, rng, pairs, byID, voters, cfg)
	if err != nil {
		return nil, fmt.Errorf("voting failed: %w", err)
	}
	stats.Ballots = len(ballots)

	// Step 4: aggregation
	tallies, rejected := tally.Aggregate(ballots)
	if len(rejected) > 0 {
		return nil, fmt.Errorf("simulated ballots rejected: %w", errors.Join(rejected...))
	}
	for _, t := range tallies {
		stats.Ties += t.Ties
	}

	// Step 5: estimation
	est, err := r.estimator.Estimate(ctx, tallies)
	if err != nil && !errors.Is(err, scoring.ErrDidNotConverge) {
		return nil, fmt.Errorf("estimation failed: %w", err)
	}
	if err != nil {
		r.log.Warn(ctx, "estimate did not converge", logger.Error(err))
	}
	stats.Iterations = est.Iterations
	stats.Converged = est.Converged

	// Step 6: recovery
	stats.Spearman = Spearman(items, est.Scores)
	stats.TopRecovered = topRecovered(items, est.Scores)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	if stats.Duration > 0 {
		stats.BallotsPerSec = float64(stats.Ballots) / stats.Duration.Seconds()
	}
	r.displayFinalStats(ctx, stats)

	return &Result{
		Items:    items,
		Pairs:    pairs,
		Ballots:  ballots,
		Tallies:  tallies,
		Estimate: est,
		Stats:    stats,
	}, nil
}

// castBallots has every voter vote every pair. Pairs are split into one
// contiguous chunk per worker and each chunk owns a random source drawn up
// front, so a seed reproduces the same ballots for a given worker count.
func castBallots(ctx context.Context, rng *rand.Rand, pairs []model.Pair, byID map[model.ItemID]Item, voters []string, cfg Config) ([]model.Ballot, error) {
	ballots := make([]model.Ballot, len(pairs)*len(voters))
	workers := min(cfg.Workers, max(len(pairs), 1))
	perWorker := (len(pairs) + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := min(start+perWorker, len(pairs))
		if start >= end {
			break
		}
		src := rand.New(rand.NewSource(rng.Int63())) //nolint:gosec // simulation, not crypto
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				p := pairs[i]
				for v, voter := range voters {
					a, b := byID[p.First], byID[p.Second]
					if src.Intn(2) == 1 {
						a, b = b, a
					}
					ballots[i*len(voters)+v] = model.Ballot{
						ID:      fmt.Sprintf("sim/%d/%d", i, v),
						VoterID: voter,
						ItemA:   a.ID,
						ItemB:   b.ID,
						Outcome: vote(src, a, b, cfg.TieBand),
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ballots, nil
}

// displayFinalStats logs the final run statistics.
func (r *runner) displayFinalStats(ctx context.Context, stats Stats) {
	r.log.Info(ctx, "final statistics",
		logger.Int("items", stats.Items),
		logger.Int("pairs", stats.Pairs),
		logger.Int("ballots", stats.Ballots),
		logger.Int("ties", stats.Ties),
		logger.Int("restarts", stats.Restarts),
		logger.Int("iterations", stats.Iterations),
		logger.Bool("converged", stats.Converged),
		logger.Float64("spearman", stats.Spearman),
		logger.Bool("topRecovered", stats.TopRecovered),
		logger.Duration("duration", stats.Duration),
		logger.Float64("ballotsPerSecond", stats.BallotsPerSec))
}
