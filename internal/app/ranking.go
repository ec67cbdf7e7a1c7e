package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	repository "github.com/okian/duelrank/internal/adapters/repository"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/pkg/logger"
	"github.com/okian/duelrank/pkg/metrics"
)

// Recompute fits the estimator on a snapshot of the live tallies and
// publishes the scores. A fit that ran out of iterations is still published,
// flagged low confidence. With a catalog configured the ballots counted since
// the last run and the scores are persisted first, so an unknown item aborts
// the run before anything is published.
func (s *Service) Recompute(ctx context.Context) (types.RankingSummary, error) {
	if !s.isStarted() {
		return types.RankingSummary{}, ErrNotStarted
	}
	s.recompute.Lock()
	defer s.recompute.Unlock()

	snapshot := s.accumulator.Snapshot()
	metrics.UpdatePairsTallied(len(snapshot))

	start := time.Now()
	est, err := s.estimator.Estimate(ctx, snapshot)
	elapsed := time.Since(start)
	metrics.RecordEstimationLatency(float64(elapsed.Microseconds()) / 1000)

	switch {
	case errors.Is(err, scoring.ErrDidNotConverge):
		metrics.RecordEstimationNonConverged()
		s.log().Warn(ctx, "estimation did not converge; publishing low-confidence scores",
			logger.Int("iterations", est.Iterations))
	case err != nil:
		metrics.RecordEstimationFailure(failureReason(err))
		return types.RankingSummary{}, fmt.Errorf("estimate ranking: %w", err)
	}
	metrics.RecordEstimationIterations(est.Iterations)

	if s.catalog != nil {
		if err := s.persistTallies(ctx, s.log()); err != nil {
			metrics.RecordEstimationFailure("persist")
			return types.RankingSummary{}, err
		}
		if err := s.catalog.SaveScores(ctx, est.Scores, s.catalogSource); err != nil {
			metrics.RecordEstimationFailure("persist")
			return types.RankingSummary{}, fmt.Errorf("persist scores: %w", err)
		}
	}

	entries := make([]repository.Entry, 0, len(est.Items))
	for _, id := range est.Items {
		entries = append(entries, repository.Entry{
			ItemID:   string(id),
			Score:    est.Scores[id],
			Strength: est.Strengths[id],
		})
	}
	if err := s.ranking.Replace(ctx, entries); err != nil {
		return types.RankingSummary{}, fmt.Errorf("publish ranking: %w", err)
	}
	metrics.UpdateItemsRanked(len(entries))

	summary := types.RankingSummary{
		Items:         len(entries),
		Pairs:         len(snapshot),
		Duels:         est.Duels,
		Iterations:    est.Iterations,
		Converged:     est.Converged,
		LowConfidence: est.LowConfidence,
		DurationMs:    float64(elapsed.Microseconds()) / 1000,
		ComputedAt:    time.Now().UTC(),
	}
	s.stateMu.Lock()
	s.lastRun = &summary
	s.stateMu.Unlock()

	s.log().Info(ctx, "ranking published",
		logger.Int("items", summary.Items),
		logger.Int("pairs", summary.Pairs),
		logger.Int("iterations", summary.Iterations),
		logger.Bool("converged", summary.Converged),
		logger.Duration("duration", elapsed))
	return summary, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, scoring.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, scoring.ErrRankingIndeterminate):
		return "indeterminate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// LastRanking returns the summary of the latest published run, or nil.
func (s *Service) LastRanking() *types.RankingSummary {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	out := *s.lastRun
	return &out
}

// TopN returns the top N ranked items.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	entries, err := s.ranking.TopN(ctx, n)
	if err != nil {
		return nil, err
	}

	// Convert to API format
	apiEntries := make([]types.Entry, len(entries))
	for i, entry := range entries {
		apiEntries[i] = toAPIEntry(entry)
	}

	return apiEntries, nil
}

// Rank returns the rank and score for a given item id.
func (s *Service) Rank(ctx context.Context, itemID string) (types.Entry, error) {
	if !s.isStarted() {
		return types.Entry{}, ErrNotStarted
	}
	entry, err := s.ranking.Rank(ctx, itemID)
	if err != nil {
		return types.Entry{}, err
	}
	return toAPIEntry(entry), nil
}

func toAPIEntry(e repository.Entry) types.Entry {
	return types.Entry{
		Rank:     e.Rank,
		ItemID:   e.ItemID,
		Score:    e.Score,
		Strength: e.Strength,
	}
}
