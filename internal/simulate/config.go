// Package simulate runs an offline crowd experiment: items with known latent
// strengths are paired, voted on by simulated voters and ranked, and the
// recovered order is checked against the latent one.
package simulate

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Default simulation configuration constants.
const (
	DefaultItems          = 100
	DefaultDegree         = 8
	DefaultVoters         = 5
	DefaultTieBand        = 0.1
	DefaultMinCorrelation = 0.8
)

// ErrInvalidConfig is returned for configurations that cannot be simulated.
var ErrInvalidConfig = errors.New("invalid simulation config")

// ErrPoorRecovery is returned when the recovered ranking correlates with the
// latent order below the configured minimum.
var ErrPoorRecovery = errors.New("ranking recovery below threshold")

// Config holds configuration for a simulation run.
type Config struct {
	Items   int     // Number of items to rank
	Degree  int     // Partners per item
	Voters  int     // Ballots cast per pair
	TieBand float64 // Width of the probability band voted as a tie
	Seed    int64   // Zero picks a clock seed
	Workers int     // Concurrent voting goroutines

	// MinCorrelation is the Spearman correlation Verify requires.
	MinCorrelation float64
}

// DefaultConfig returns a configuration sized for a quick check.
func DefaultConfig() Config {
	return Config{
		Items:          DefaultItems,
		Degree:         DefaultDegree,
		Voters:         DefaultVoters,
		TieBand:        DefaultTieBand,
		Workers:        runtime.NumCPU(),
		MinCorrelation: DefaultMinCorrelation,
	}
}

func (c *Config) normalize() error {
	switch {
	case c.Items < 2:
		return fmt.Errorf("%w: need at least two items, got %d", ErrInvalidConfig, c.Items)
	case c.Voters < 1:
		return fmt.Errorf("%w: need at least one voter, got %d", ErrInvalidConfig, c.Voters)
	case c.TieBand < 0 || c.TieBand >= 1:
		return fmt.Errorf("%w: tie band must be in [0,1), got %g", ErrInvalidConfig, c.TieBand)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Items         int
	Pairs         int
	Ballots       int
	Ties          int
	Restarts      int
	Iterations    int
	Converged     bool
	Spearman      float64
	TopRecovered  bool
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	BallotsPerSec float64
}
