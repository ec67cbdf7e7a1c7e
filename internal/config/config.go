// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config with defaults; Load layers a YAML file and env on top.
// - Validation uses struct tags checked by go-playground/validator.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// BallotQueueSize bounds the in-memory ballot queue.
	BallotQueueSize int `koanf:"queue_size" validate:"gte=1"`

	// WorkerCount sets the number of tally workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`

	// DedupeSize sets how many ballot ids are remembered for idempotency.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=0"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"gte=1"`

	// PairingDegree is the default number of comparisons per item.
	PairingDegree int `koanf:"pairing_degree" validate:"gte=1"`

	// PairingMaxRestarts bounds fresh shuffles after a stuck attempt.
	PairingMaxRestarts int `koanf:"pairing_max_restarts" validate:"gte=0"`

	// PairingSeed seeds the pairing RNG; zero means a random seed per plan.
	PairingSeed uint64 `koanf:"pairing_seed"`

	// BatchSize is the number of pairs per rendered task.
	BatchSize int `koanf:"batch_size" validate:"gte=1"`

	// EstimatorMaxIterations bounds the Bradley-Terry fit.
	EstimatorMaxIterations int `koanf:"estimator_max_iterations" validate:"gte=1"`

	// EstimatorTolerance is the convergence threshold on log-strength change.
	EstimatorTolerance float64 `koanf:"estimator_tolerance" validate:"gt=0"`

	// EstimatorPrior is the pseudo-count added per observed pair and direction.
	EstimatorPrior float64 `koanf:"estimator_prior" validate:"gte=0"`

	// WinMultiplicity and TieMultiplicity control duel expansion.
	WinMultiplicity int `koanf:"win_multiplicity" validate:"gte=1"`
	TieMultiplicity int `koanf:"tie_multiplicity" validate:"gte=0"`

	// CatalogPath is the SQLite catalog file; empty disables the catalog.
	CatalogPath string `koanf:"catalog_path"`

	// CatalogSource labels tallies and scores written by this process.
	CatalogSource string `koanf:"catalog_source" validate:"required"`

	// URLBase is prefixed to item ids when rendering tasks.
	URLBase string `koanf:"url_base"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":9080",
		BallotQueueSize:        100_000,
		WorkerCount:            runtime.NumCPU(),
		DedupeSize:             500_000,
		MaxLeaderboardLimit:    100,
		PairingDegree:          4,
		PairingMaxRestarts:     16,
		BatchSize:              10,
		EstimatorMaxIterations: 10_000,
		EstimatorTolerance:     1e-9,
		EstimatorPrior:         0.1,
		WinMultiplicity:        1,
		TieMultiplicity:        1,
		CatalogSource:          "duelrank",
	}
}
