// Package pairing builds randomized k-regular comparison designs: every item
// is paired with exactly k distinct partners and never with itself.
package pairing

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/pkg/logger"
)

// Generator draws pairing assignments. A Generator is not safe for
// concurrent use because it owns its random source.
type Generator struct {
	rng         *rand.Rand
	maxRestarts int
	drawFactor  int
	log         logger.Logger

	restarts int
}

// NewGenerator creates a generator seeded from the clock unless WithSeed or
// WithRand is given.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		maxRestarts: defaultMaxRestarts,
		drawFactor:  defaultDrawFactor,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // experiment design, not crypto
	}
	return g
}

// Restarts reports how many reshuffles the last successful call needed.
func (g *Generator) Restarts() int { return g.restarts }

// Rand exposes the generator's random source so callers can shuffle the
// resulting pairs from the same stream.
func (g *Generator) Rand() *rand.Rand { return g.rng }

// Generate pairs every item in items with exactly k distinct partners drawn
// from the same pool.
func (g *Generator) Generate(ctx context.Context, items []model.ItemID, k int) (Assignment, error) {
	n := len(items)
	if err := checkItems(n, k, items); err != nil {
		return nil, err
	}
	switch {
	case k < 1:
		return nil, infeasible(n, k, "degree must be at least 1")
	case k >= n:
		return nil, infeasible(n, k, "degree must be smaller than the number of items")
	case (n*k)%2 != 0:
		return nil, infeasible(n, k, "number of items times degree must be even")
	}

	return g.run(ctx, n, k, func() ([]model.ItemID, []model.ItemID) {
		return items, g.shuffled(items, k)
	}, items)
}

// GenerateCross pairs every item of groupA with exactly k distinct items of
// groupB and vice versa. No pair ever joins two members of the same group.
func (g *Generator) GenerateCross(ctx context.Context, groupA, groupB []model.ItemID, k int) (Assignment, error) {
	n := len(groupA) + len(groupB)
	all := make([]model.ItemID, 0, n)
	all = append(all, groupA...)
	all = append(all, groupB...)
	if err := checkItems(n, k, all); err != nil {
		return nil, err
	}
	switch {
	case len(groupA) != len(groupB):
		return nil, infeasible(n, k, "groups differ in size (%d vs %d)", len(groupA), len(groupB))
	case k < 1:
		return nil, infeasible(n, k, "degree must be at least 1")
	case k > len(groupA):
		return nil, infeasible(n, k, "degree exceeds group size %d", len(groupA))
	}

	return g.run(ctx, n, k, func() ([]model.ItemID, []model.ItemID) {
		return g.shuffled(groupA, 1), g.shuffled(groupB, k)
	}, all)
}

// run retries attempt with fresh shuffles until one completes or the
// restart budget is spent.
func (g *Generator) run(ctx context.Context, n, k int, draw func() (order, candidates []model.ItemID), all []model.ItemID) (Assignment, error) {
	limit := g.drawFactor * n * k
	var last stuck
	for try := 0; try <= g.maxRestarts; try++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pairing cancelled: %w", err)
		}
		order, candidates := draw()
		a, s, ok := attempt(all, order, candidates, k, limit)
		if ok {
			g.restarts = try
			return a, nil
		}
		last = s
		if g.log != nil {
			g.log.Debug(ctx, "pairing attempt stuck",
				logger.Int("attempt", try),
				logger.String("item", string(s.item)),
				logger.Int("partners", s.partners),
				logger.String("reason", s.reason))
		}
	}
	err := infeasible(n, k, "%s", last.reason)
	err.Item = last.item
	err.Partners = last.partners
	err.Attempts = g.maxRestarts + 1
	return nil, err
}

type stuck struct {
	item     model.ItemID
	partners int
	reason   string
}

// attempt runs one pass of the pool construction. Each item in order draws
// candidates from the back of the pool until it holds k partners; rejected
// candidates return to the front. A full rotation of the pool without an
// acceptable candidate means the item cannot be completed in this pass.
func attempt(all, order, candidates []model.ItemID, k, limit int) (Assignment, stuck, bool) {
	a := make(Assignment, len(all))
	for _, id := range all {
		a[id] = make([]model.ItemID, 0, k)
	}
	linked := make(map[model.Pair]struct{}, len(all)*k/2)
	valid := func(i, j model.ItemID) bool {
		if i == j || len(a[i]) >= k || len(a[j]) >= k {
			return false
		}
		p, _, _ := model.NewPair(i, j)
		_, dup := linked[p]
		return !dup
	}

	q := newPool(candidates)
	draws := 0
	for _, i := range order {
		rejected := 0
		for len(a[i]) < k {
			switch {
			case q.Len() == 0:
				return nil, stuck{i, len(a[i]), "candidate pool exhausted"}, false
			case rejected >= q.Len():
				return nil, stuck{i, len(a[i]), "no acceptable partner left in pool"}, false
			case draws >= limit:
				return nil, stuck{i, len(a[i]), "draw limit reached"}, false
			}
			draws++
			j := q.popBack()
			if !valid(i, j) {
				q.pushFront(j)
				rejected++
				continue
			}
			p, _, _ := model.NewPair(i, j)
			linked[p] = struct{}{}
			a[i] = append(a[i], j)
			a[j] = append(a[j], i)
			rejected = 0
		}
	}
	return a, stuck{}, true
}

// shuffled returns items repeated times copies in uniformly random order.
func (g *Generator) shuffled(items []model.ItemID, times int) []model.ItemID {
	out := make([]model.ItemID, 0, len(items)*times)
	for range times {
		out = append(out, items...)
	}
	g.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func checkItems(n, k int, items []model.ItemID) error {
	seen := make(map[model.ItemID]struct{}, len(items))
	for _, id := range items {
		if id == "" {
			return infeasible(n, k, "empty item id")
		}
		if _, dup := seen[id]; dup {
			return infeasible(n, k, "duplicate item %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
