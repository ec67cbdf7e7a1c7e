package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/duelrank/internal/adapters/catalog"
	service "github.com/okian/duelrank/internal/app"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeCatalog knows a fixed set of items and records saved scores and
// tallies.
type fakeCatalog struct {
	mu      sync.Mutex
	known   map[model.ItemID]bool
	saved   map[model.ItemID]float64
	tallies model.Tallies
	source  string
}

func newFakeCatalog(names ...string) *fakeCatalog {
	c := &fakeCatalog{known: map[model.ItemID]bool{}, tallies: model.Tallies{}}
	for _, n := range names {
		c.known[model.ItemID(n)] = true
	}
	return c
}

func (c *fakeCatalog) Resolve(_ context.Context, ids []model.ItemID) error {
	var missing []model.ItemID
	for _, id := range ids {
		if !c.known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &catalog.UnknownItemError{IDs: missing}
	}
	return nil
}

func (c *fakeCatalog) SaveScores(ctx context.Context, scores map[model.ItemID]float64, source string) error {
	ids := make([]model.ItemID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	if err := c.Resolve(ctx, ids); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved, c.source = scores, source
	return nil
}

func (c *fakeCatalog) SaveTallies(ctx context.Context, ts model.Tallies, _ string) error {
	if err := c.Resolve(ctx, ts.Items()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for p, t := range ts {
		cur := c.tallies[p]
		cur.WinsFirst += t.WinsFirst
		cur.WinsSecond += t.WinsSecond
		cur.Ties += t.Ties
		c.tallies[p] = cur
	}
	return nil
}

func (c *fakeCatalog) stored() model.Tallies {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(model.Tallies, len(c.tallies))
	for p, t := range c.tallies {
		out[p] = t
	}
	return out
}

func vote(ctx context.Context, svc *service.Service, id, a, b string, o model.Outcome) {
	So(svc.Enqueue(ctx, model.Ballot{ID: id, ItemA: model.ItemID(a), ItemB: model.ItemID(b), Outcome: o}), ShouldBeNil)
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(1000),
			service.WithDedupeSize(500),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a triangle of ballots is counted and ranked", func() {
			n := 0
			cast := func(a, b string, o model.Outcome, times int) {
				for i := 0; i < times; i++ {
					n++
					vote(ctx, svc, fmt.Sprintf("ballot-%d", n), a, b, o)
				}
			}
			cast("a", "b", model.OutcomeAWins, 3)
			cast("b", "c", model.OutcomeAWins, 3)
			cast("c", "a", model.OutcomeBWins, 3)
			cast("a", "c", model.OutcomeTie, 1)
			So(waitFor(func() bool { return svc.GetStats()["ballots"] == n }), ShouldBeTrue)

			summary, err := svc.Recompute(ctx)

			Convey("Then the run is published", func() {
				So(err, ShouldBeNil)
				So(summary.Items, ShouldEqual, 3)
				So(summary.Pairs, ShouldEqual, 3)
				So(summary.Converged, ShouldBeTrue)
				So(svc.LastRanking(), ShouldNotBeNil)
				So(svc.GetStats()["itemsRanked"], ShouldEqual, 3)
			})

			Convey("And the leaderboard orders a over b over c", func() {
				entries, err := svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 3)
				So(entries[0].ItemID, ShouldEqual, "a")
				So(entries[0].Score, ShouldEqual, 1.0)
				So(entries[1].ItemID, ShouldEqual, "b")
				So(entries[2].ItemID, ShouldEqual, "c")
				So(entries[2].Score, ShouldEqual, 0.0)
			})

			Convey("And individual ranks are available", func() {
				entry, err := svc.Rank(ctx, "b")
				So(err, ShouldBeNil)
				So(entry.Rank, ShouldEqual, 2)
				So(entry.Score, ShouldBeBetween, 0, 1)
			})
		})

		Convey("When no ballots were counted", func() {
			_, err := svc.Recompute(ctx)

			Convey("Then the run fails with empty input", func() {
				So(errors.Is(err, scoring.ErrEmptyInput), ShouldBeTrue)
			})
		})

		Convey("When the comparison graph is split", func() {
			vote(ctx, svc, "x1", "a", "b", model.OutcomeAWins)
			vote(ctx, svc, "x2", "c", "d", model.OutcomeAWins)
			So(waitFor(func() bool { return svc.GetStats()["ballots"] == 2 }), ShouldBeTrue)
			_, err := svc.Recompute(ctx)

			Convey("Then the ranking is indeterminate and nothing is published", func() {
				So(errors.Is(err, scoring.ErrRankingIndeterminate), ShouldBeTrue)
				So(svc.LastRanking(), ShouldBeNil)
			})
		})

		Convey("When tallies are merged from a file", func() {
			p, _, _ := model.NewPair("m", "n")
			svc.MergeTallies(ctx, model.Tallies{p: {WinsFirst: 4, WinsSecond: 1}})

			Convey("Then they are ranked like live ballots", func() {
				_, err := svc.Recompute(ctx)
				So(err, ShouldBeNil)
				top, err := svc.TopN(ctx, 1)
				So(err, ShouldBeNil)
				So(top[0].ItemID, ShouldEqual, "m")
			})
		})

		Convey("When many ballots arrive concurrently", func() {
			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						_ = svc.Enqueue(ctx, model.Ballot{
							ID:      fmt.Sprintf("c-%d-%d", w, i),
							ItemA:   model.ItemID(fmt.Sprintf("i%d", i%5)),
							ItemB:   model.ItemID(fmt.Sprintf("i%d", (i+1)%5)),
							Outcome: model.OutcomeAWins,
						})
					}
				}(w)
			}
			wg.Wait()

			Convey("Then every ballot is counted exactly once", func() {
				So(waitFor(func() bool { return svc.GetStats()["ballots"] == 200 }), ShouldBeTrue)
				total := 0
				for _, tl := range svc.Tallies(ctx) {
					total += tl.Total()
				}
				So(total, ShouldEqual, 200)
			})
		})
	})

	Convey("Given a service backed by a catalog", t, func() {
		cat := newFakeCatalog("a", "b")
		svc := service.New(service.WithWorkerCount(1), service.WithCatalog(cat, "crowd"))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When pairing unknown items", func() {
			_, err := svc.GeneratePairing(ctx, types.PairingRequest{Items: ids("a", "b", "ghost"), Degree: 1})

			Convey("Then the unknown ids are reported", func() {
				So(errors.Is(err, catalog.ErrUnknownItem), ShouldBeTrue)
			})
		})

		Convey("When known items are ranked", func() {
			vote(ctx, svc, "k1", "a", "b", model.OutcomeBWins)
			So(waitFor(func() bool { return svc.GetStats()["ballots"] == 1 }), ShouldBeTrue)
			_, err := svc.Recompute(ctx)

			Convey("Then the scores are persisted under the source", func() {
				So(err, ShouldBeNil)
				So(cat.source, ShouldEqual, "crowd")
				So(cat.saved["b"], ShouldEqual, 1.0)
			})
		})

		Convey("When a ballot names an unknown item", func() {
			err := svc.Enqueue(ctx, model.Ballot{ID: "u0", ItemA: "a", ItemB: "ghost", Outcome: model.OutcomeAWins})

			Convey("Then it is refused before being queued", func() {
				var unknown *catalog.UnknownItemError
				So(errors.As(err, &unknown), ShouldBeTrue)
				So(unknown.IDs, ShouldResemble, []model.ItemID{"ghost"})
				So(svc.Tallies(ctx), ShouldBeEmpty)
			})
		})

		Convey("When merged tallies name an unknown item", func() {
			p, _, _ := model.NewPair("a", "ghost")
			svc.MergeTallies(ctx, model.Tallies{p: {WinsFirst: 1}})
			_, err := svc.Recompute(ctx)

			Convey("Then nothing is published", func() {
				So(errors.Is(err, catalog.ErrUnknownItem), ShouldBeTrue)
				_, err := svc.TopN(ctx, 1)
				So(err, ShouldBeNil)
				So(svc.LastRanking(), ShouldBeNil)
			})
		})
	})

	Convey("Given a catalog of three items", t, func() {
		cat := newFakeCatalog("a", "b", "c")
		svc := service.New(service.WithWorkerCount(2), service.WithCatalog(cat, "crowd"))
		ctx, cancel := context.WithCancel(context.Background())
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a ballot for an unknown item precedes a valid triangle", func() {
			err := svc.Enqueue(ctx, model.Ballot{ID: "g1", ItemA: "a", ItemB: "ghost", Outcome: model.OutcomeAWins})
			So(errors.Is(err, catalog.ErrUnknownItem), ShouldBeTrue)
			vote(ctx, svc, "t1", "a", "b", model.OutcomeAWins)
			vote(ctx, svc, "t2", "b", "c", model.OutcomeAWins)
			vote(ctx, svc, "t3", "a", "c", model.OutcomeAWins)
			So(waitFor(func() bool { return svc.GetStats()["ballots"] == 3 }), ShouldBeTrue)
			summary, err := svc.Recompute(ctx)

			Convey("Then the ranking is still published", func() {
				So(err, ShouldBeNil)
				So(summary.Items, ShouldEqual, 3)
				top, err := svc.TopN(ctx, 1)
				So(err, ShouldBeNil)
				So(top[0].ItemID, ShouldEqual, "a")
			})

			Convey("Then the counted ballots are persisted once", func() {
				So(err, ShouldBeNil)
				So(cat.stored(), ShouldHaveLength, 3)
				_, err := svc.Recompute(ctx)
				So(err, ShouldBeNil)
				total := 0
				for _, tl := range cat.stored() {
					total += tl.Total()
				}
				So(total, ShouldEqual, 3)
			})
		})

		Convey("When tallies are merged and ballots are queued at shutdown", func() {
			ab, _, _ := model.NewPair("a", "b")
			bc, _, _ := model.NewPair("b", "c")
			svc.MergeTallies(ctx, model.Tallies{ab: {WinsFirst: 5}})
			vote(ctx, svc, "s1", "b", "c", model.OutcomeTie)
			vote(ctx, svc, "s2", "c", "b", model.OutcomeAWins)
			cancel()
			svc.Stop()

			Convey("Then only the ballots counted by this service are stored", func() {
				stored := cat.stored()
				So(stored[ab], ShouldResemble, model.Tally{})
				So(stored[bc], ShouldResemble, model.Tally{WinsSecond: 1, Ties: 1})
			})
		})
		cancel()
	})
}
