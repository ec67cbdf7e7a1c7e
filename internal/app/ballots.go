package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/pkg/logger"
	"github.com/okian/duelrank/pkg/metrics"
)

// SeenAndRecord atomically checks if a ballot id was seen and records it if not.
// Returns true if the ballot was already seen, false if it was newly recorded.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordBallotDuplicate()
	}
	return seen
}

// Unrecord removes a ballot id from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue validates a ballot and submits it for asynchronous counting. It
// fails with a *tally.MalformedBallotError for uncountable ballots, with a
// *catalog.UnknownItemError when a catalog is configured and does not list
// both items, and with queue.ErrFull or queue.ErrClosed on backpressure.
func (s *Service) Enqueue(ctx context.Context, b model.Ballot) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	metrics.RecordBallotReceived()

	if err := tally.Validate(b); err != nil {
		var mb *tally.MalformedBallotError
		if errors.As(err, &mb) {
			metrics.RecordBallotRejected(mb.Reason)
		}
		return err
	}
	if s.catalog != nil {
		if err := s.catalog.Resolve(ctx, []model.ItemID{b.ItemA, b.ItemB}); err != nil {
			metrics.RecordBallotRejected("unresolved_item")
			return err
		}
	}
	if err := s.ballotQueue.Enqueue(ctx, b); err != nil {
		metrics.RecordErrorByComponent("service", "enqueue")
		return fmt.Errorf("enqueue ballot %s: %w", b.ID, err)
	}
	s.log().Debug(ctx, "ballot enqueued",
		logger.String("ballot_id", b.ID),
		logger.String("item_a", string(b.ItemA)),
		logger.String("item_b", string(b.ItemB)),
		logger.String("outcome", b.Outcome.String()))
	return nil
}

// Tallies returns a snapshot of the live pair tallies.
func (s *Service) Tallies(_ context.Context) model.Tallies {
	return s.accumulator.Snapshot()
}

// MergeTallies folds externally aggregated tallies into the live ones, e.g.
// counts imported from a result file or resumed from the catalog. Merged
// counts are not persisted again.
func (s *Service) MergeTallies(ctx context.Context, ts model.Tallies) {
	s.accumulator.Merge(ts)
	metrics.UpdatePairsTallied(s.accumulator.Len())
	s.log().Info(ctx, "tallies merged", logger.Int("pairs", len(ts)))
}

// ballotCounter counts each ballot into the live tally and into the batch
// not yet written to the catalog.
type ballotCounter struct {
	live    *tally.Accumulator
	unsaved *tally.Accumulator
}

func (c ballotCounter) Add(b model.Ballot) error {
	if err := c.live.Add(b); err != nil {
		return err
	}
	return c.unsaved.Add(b)
}

// persistTallies writes the ballots counted since the last successful call
// to the catalog. On failure the batch is kept for the next attempt. log is
// passed in since Stop calls this with mu held.
func (s *Service) persistTallies(ctx context.Context, log logger.Logger) error {
	if s.catalog == nil {
		return nil
	}
	batch := s.unsaved.Drain()
	if len(batch) == 0 {
		return nil
	}
	if err := s.catalog.SaveTallies(ctx, batch, s.catalogSource); err != nil {
		s.unsaved.Merge(batch)
		metrics.RecordErrorByComponent("service", "persist_tallies")
		return fmt.Errorf("persist tallies: %w", err)
	}
	log.Info(ctx, "tallies persisted",
		logger.Int("pairs", len(batch)),
		logger.String("source", s.catalogSource))
	return nil
}
