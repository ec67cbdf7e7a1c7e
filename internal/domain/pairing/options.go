package pairing

import (
	"math/rand"

	"github.com/okian/duelrank/pkg/logger"
)

// Default generator configuration constants.
const (
	defaultMaxRestarts = 16
	defaultDrawFactor  = 64
)

// Option applies a configuration option to the Generator.
type Option func(*Generator)

// WithSeed makes the generator deterministic.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // experiment design, not crypto
	}
}

// WithRand injects the random source. The generator takes ownership of r.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.rng = r
		}
	}
}

// WithMaxRestarts bounds how many times a stuck construction is retried
// with a fresh shuffle.
func WithMaxRestarts(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.maxRestarts = n
		}
	}
}

// WithDrawFactor caps the candidate draws of one attempt at factor*n*k.
func WithDrawFactor(factor int) Option {
	return func(g *Generator) {
		if factor > 0 {
			g.drawFactor = factor
		}
	}
}

// WithLogger enables debug traces of stuck attempts.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		g.log = l
	}
}
