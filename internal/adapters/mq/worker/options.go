// Package worker drains the ballot queue into the live tally.
package worker

import (
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRejectHandler registers a callback for ballots the counter refused.
func WithRejectHandler(fn func(model.Ballot, error)) Option {
	return func(w *InMemoryWorker) {
		w.onReject = fn
	}
}
