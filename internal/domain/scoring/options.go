package scoring

import "github.com/okian/duelrank/pkg/logger"

// Default estimator configuration constants.
const (
	defaultMaxIterations = 10_000
	defaultTolerance     = 1e-9
	defaultPrior         = 0.1
	cancelCheckEvery     = 64
)

// Option applies a configuration option to the Estimator.
type Option func(*Estimator)

// WithPolicy sets how tallies expand into duels.
func WithPolicy(p Policy) Option {
	return func(e *Estimator) {
		if p.WinMultiplicity >= 0 && p.TieMultiplicity >= 0 {
			e.policy = p
		}
	}
}

// WithMaxIterations bounds the number of MM sweeps.
func WithMaxIterations(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithTolerance sets the convergence threshold on the largest change of a
// log-strength between sweeps.
func WithTolerance(tol float64) Option {
	return func(e *Estimator) {
		if tol > 0 {
			e.tolerance = tol
		}
	}
}

// WithPrior sets the pseudo-count added in each direction of every compared
// pair. Zero disables it; the fit then needs every item to win at least once
// and the data to be strongly connected.
func WithPrior(prior float64) Option {
	return func(e *Estimator) {
		if prior >= 0 {
			e.prior = prior
		}
	}
}

// WithLogger enables debug logging of fit statistics.
func WithLogger(l logger.Logger) Option {
	return func(e *Estimator) {
		e.log = l
	}
}
