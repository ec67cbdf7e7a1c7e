// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	ballotqueue "github.com/okian/duelrank/internal/adapters/mq/queue"
	workerpool "github.com/okian/duelrank/internal/adapters/mq/worker"
	repository "github.com/okian/duelrank/internal/adapters/repository"
	"github.com/okian/duelrank/internal/domain/dedupe"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/pkg/logger"
	"github.com/okian/duelrank/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize      = 100_000
	defaultDedupeSize     = 500_000
	defaultDegree         = 4
	defaultMaxRestarts    = 16
	defaultBatchSize      = 10
	defaultCatalogSource  = "duelrank"
	maxRecentRejections   = 20
	defaultStatsCallLimit = 5 * time.Second
)

// ErrNotStarted is returned by operations that need a running service. It
// matches queue.ErrClosed since no ballot can be accepted either way.
var ErrNotStarted = fmt.Errorf("service not started: %w", ballotqueue.ErrClosed)

// Catalog is the subset of the item catalog the service persists through.
type Catalog interface {
	Resolve(ctx context.Context, ids []model.ItemID) error
	SaveScores(ctx context.Context, scores map[model.ItemID]float64, source string) error
	SaveTallies(ctx context.Context, ts model.Tallies, source string) error
}

// Rejection records a ballot the workers refused to count.
type Rejection struct {
	BallotID string    `json:"ballot_id"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Service implements the API dependencies for the ranking system.
type Service struct {
	mu sync.RWMutex

	// Core components
	ranking     repository.Store
	deduper     dedupe.Deduper
	ballotQueue ballotqueue.Queue
	accumulator *tally.Accumulator
	unsaved     *tally.Accumulator
	workerPool  *workerpool.Pool
	estimator   *scoring.Estimator
	catalog     Catalog

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	degree        int
	maxRestarts   int
	seed          int64
	batchSize     int
	catalogSource string

	// State
	started bool

	// stateMu guards rejections and lastRun, which workers and Recompute
	// update while mu may be held by Stop.
	stateMu    sync.Mutex
	rejections []Rejection
	lastRun    *types.RankingSummary
	recompute  sync.Mutex

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the ballot queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the ballot id cache. Zero keeps every id.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPairingDegree sets the default number of partners per item.
func WithPairingDegree(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.degree = k
		}
	}
}

// WithPairingMaxRestarts bounds the reshuffles of one pairing request.
func WithPairingMaxRestarts(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRestarts = n
		}
	}
}

// WithPairingSeed fixes the pairing seed for requests that carry none.
// Zero draws a fresh seed per request.
func WithPairingSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithBatchSize sets the default number of pairs per task batch.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithEstimator replaces the default Bradley–Terry estimator.
func WithEstimator(e *scoring.Estimator) Option {
	return func(s *Service) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithCatalog validates item ids against c and persists published scores
// under source.
func WithCatalog(c Catalog, source string) Option {
	return func(s *Service) {
		s.catalog = c
		if source != "" {
			s.catalogSource = source
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU(),
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		degree:        defaultDegree,
		maxRestarts:   defaultMaxRestarts,
		batchSize:     defaultBatchSize,
		catalogSource: defaultCatalogSource,
		estimator:     scoring.NewEstimator(),
		accumulator:   tally.NewAccumulator(),
		unsaved:       tally.NewAccumulator(),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting ranking service...")

	// Initialize components
	s.ranking = repository.NewTreapStore(ctx)
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.ballotQueue = ballotqueue.NewInMemoryQueue(
		ballotqueue.WithCapacity(s.queueSize),
	)

	// Create and start worker pool counting into the live tally. Workers
	// outlive ctx and exit once Stop closes the queue.
	s.workerPool = workerpool.NewPool(s.workerCount, s.ballotQueue, ballotCounter{live: s.accumulator, unsaved: s.unsaved},
		workerpool.WithRejectHandler(s.recordRejection),
	)
	s.workerPool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("degree", s.degree),
		logger.Bool("catalog", s.catalog != nil),
	)

	return nil
}

// Stop gracefully shuts down the service. Queued ballots are counted
// before the workers exit.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping ranking service...")

	// Stop worker pool; this closes and drains the queue
	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		}
	}
	if err := s.persistTallies(ctx, s.logger); err != nil {
		s.logger.Error(ctx, "tallies not persisted", logger.Error(err))
	}

	// Close ranking store
	if closer, ok := s.ranking.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	s.started = false
	s.logger.Info(ctx, "ranking service stopped",
		logger.Int("ballots", s.accumulator.Ballots()),
		logger.Int("pairs", s.accumulator.Len()))
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// recordRejection keeps the latest refused ballots for /stats.
func (s *Service) recordRejection(b model.Ballot, err error) {
	reason := err.Error()
	var mb *tally.MalformedBallotError
	if errors.As(err, &mb) {
		reason = mb.Reason
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.rejections = append(s.rejections, Rejection{BallotID: b.ID, Reason: reason, At: time.Now().UTC()})
	if over := len(s.rejections) - maxRecentRejections; over > 0 {
		s.rejections = append(s.rejections[:0], s.rejections[over:]...)
	}
}

// Rejections returns the most recent refused ballots, oldest first.
func (s *Service) Rejections() []Rejection {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	out := make([]Rejection, len(s.rejections))
	copy(out, s.rejections)
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultStatsCallLimit)
	defer cancel()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"degree":      s.degree,
		"ballots":     s.accumulator.Ballots(),
		"pairs":       s.accumulator.Len(),
	}

	if s.started {
		queueLen := s.ballotQueue.Len(ctx)
		itemsRanked := s.ranking.Count(ctx)

		stats["queueLength"] = queueLen
		stats["itemsRanked"] = itemsRanked
		stats["processed"] = s.workerPool.Processed()
		stats["dedupeEntries"] = s.deduper.Size()

		// Update metrics
		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateItemsRanked(itemsRanked)
		metrics.UpdatePairsTallied(s.accumulator.Len())
		metrics.UpdateWorkerCount(s.workerCount)
	}
	if last := s.LastRanking(); last != nil {
		stats["lastRanking"] = *last
	}
	if recent := s.Rejections(); len(recent) > 0 {
		stats["recentRejections"] = recent
	}

	return stats
}
