package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/pkg/logger"
	"github.com/okian/duelrank/pkg/metrics"
)

const (
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Counter folds a ballot into a running tally. *tally.Accumulator satisfies it.
type Counter interface {
	Add(b model.Ballot) error
}

// Queue defines how workers receive ballots.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Ballot
}

// Worker processes ballots until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the ballot in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	counter  Counter
	name     string
	onReject func(model.Ballot, error)
	// busy is shared by the pool so it can report active workers.
	busy *atomic.Int64
	// processed is shared by the pool for the throughput gauge.
	processed *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}
	logger   logger.Logger
}

// NewInMemoryWorker creates a worker reading from queue into counter.
func NewInMemoryWorker(queue Queue, counter Counter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     queue,
		counter:   counter,
		name:      "worker",
		busy:      new(atomic.Int64),
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	ballots := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case b, ok := <-ballots:
			if !ok {
				return
			}
			if err := w.process(ctx, b); err != nil {
				w.logger.Warn(ctx, "ballot not counted", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, b model.Ballot) error {
	w.busy.Add(1)
	start := time.Now()
	defer func() {
		w.busy.Add(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := w.counter.Add(b); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "count_error")
		var mb *tally.MalformedBallotError
		if errors.As(err, &mb) {
			metrics.RecordBallotRejected(mb.Reason)
		}
		if w.onReject != nil {
			w.onReject(b, err)
		}
		return fmt.Errorf("ballot %s: %w", b.ID, err)
	}
	w.processed.Add(1)
	metrics.RecordBallotCounted()
	w.logger.Debug(ctx, "ballot counted",
		logger.String("ballot_id", b.ID),
		logger.String("item_a", string(b.ItemA)),
		logger.String("item_b", string(b.ItemB)),
		logger.String("outcome", b.Outcome.String()))
	return nil
}

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	busy      atomic.Int64
	processed atomic.Int64
	lastTick  time.Time

	shutdown chan struct{}
	logger   logger.Logger
}

// NewPool creates a pool of workerCount workers. Non-positive counts fall
// back to runtime.NumCPU().
func NewPool(workerCount int, queue Queue, counter Counter, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		lastTick: time.Now(),
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		w := NewInMemoryWorker(queue, counter, append(opts, WithName("worker-"+strconv.Itoa(i)))...)
		w.busy = &p.busy
		w.processed = &p.processed
		p.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)
	metrics.UpdateWorkerMessagesPerSecond(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of ballots counted so far.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start launches every worker and the metrics updater.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case now := <-ticker.C:
			cur := p.processed.Load()
			if secs := now.Sub(p.lastTick).Seconds(); secs > 0 {
				metrics.UpdateWorkerMessagesPerSecond(float64(cur-last) / secs)
			}
			busy := int(p.busy.Load())
			metrics.UpdateWorkerActiveCount(busy)
			metrics.UpdateWorkerIdleCount(len(p.workers) - busy)
			last, p.lastTick = cur, now
		}
	}
}

// Shutdown closes the queue, lets workers drain what is already queued and
// waits for them up to ctx's deadline or poolShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	close(p.shutdown)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
