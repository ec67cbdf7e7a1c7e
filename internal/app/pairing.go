package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/pkg/logger"
	"github.com/okian/duelrank/pkg/metrics"
)

// GeneratePairing builds a randomized k-regular design, shuffles its pairs
// and splits them into task batches. Ids unknown to the catalog are
// rejected before any pairing is attempted.
func (s *Service) GeneratePairing(ctx context.Context, req types.PairingRequest) (types.Plan, error) {
	if s.catalog != nil {
		if err := s.catalog.Resolve(ctx, req.IDs()); err != nil {
			return types.Plan{}, err
		}
	}

	k := req.Degree
	if k == 0 {
		k = s.degree
	}
	batch := req.BatchSize
	if batch == 0 {
		batch = s.batchSize
	}
	seed := s.seed
	if req.Seed != nil {
		seed = *req.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	gen := pairing.NewGenerator(
		pairing.WithSeed(seed),
		pairing.WithMaxRestarts(s.maxRestarts),
		pairing.WithLogger(s.log()),
	)

	var (
		assignment pairing.Assignment
		err        error
	)
	if req.Cross() {
		assignment, err = gen.GenerateCross(ctx, req.GroupA, req.GroupB, k)
	} else {
		assignment, err = gen.Generate(ctx, req.Items, k)
	}
	if err != nil {
		metrics.RecordPairingFailure()
		return types.Plan{}, fmt.Errorf("generate pairing: %w", err)
	}

	pairs := assignment.Pairs()
	pairing.ShufflePairs(gen.Rand(), pairs)
	plan := types.Plan{
		ID:       uuid.NewString(),
		Degree:   k,
		Items:    len(assignment),
		Seed:     seed,
		Restarts: gen.Restarts(),
		Pairs:    pairs,
		Batches:  pairing.Batch(pairs, batch),
	}

	metrics.RecordPairingGenerated(len(pairs))
	metrics.RecordPairingRestarts(plan.Restarts)
	s.log().Info(ctx, "pairing generated",
		logger.String("planID", plan.ID),
		logger.Int("items", plan.Items),
		logger.Int("degree", k),
		logger.Int("pairs", len(pairs)),
		logger.Int("batches", len(plan.Batches)),
		logger.Int("restarts", plan.Restarts))
	return plan, nil
}

// log returns the service logger, falling back to the global one before
// Start.
func (s *Service) log() logger.Logger {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	if l == nil {
		return logger.Get().Named("service")
	}
	return l
}
