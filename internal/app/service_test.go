package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/duelrank/internal/app"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func ids(names ...string) []model.ItemID {
	out := make([]model.ItemID, len(names))
	for i, n := range names {
		out[i] = model.ItemID(n)
	}
	return out
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["degree"], ShouldEqual, 4)
			So(stats["queueSize"], ShouldEqual, 100_000)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithQueueSize(50_000),
			service.WithDedupeSize(25_000),
			service.WithPairingDegree(6),
			service.WithBatchSize(5),
		)

		Convey("Then the options are applied", func() {
			stats := svc.GetStats()
			So(stats["workerCount"], ShouldEqual, 8)
			So(stats["queueSize"], ShouldEqual, 50_000)
			So(stats["dedupeSize"], ShouldEqual, 25_000)
			So(stats["degree"], ShouldEqual, 6)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it should be marked as started", func() {
				So(svc.GetStats()["started"], ShouldEqual, true)
			})

			Convey("And starting twice is harmless", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("And stopping marks it stopped", func() {
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				svc.Stop()
			})
		})
	})

	Convey("Given a service that was never started", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("Then operations needing workers fail", func() {
			So(errors.Is(svc.Enqueue(ctx, model.Ballot{ItemA: "a", ItemB: "b"}), service.ErrNotStarted), ShouldBeTrue)
			_, err := svc.Recompute(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.TopN(ctx, 3)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_SeenAndRecord(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When checking a new ballot ID", func() {
			seen := svc.SeenAndRecord(ctx, "ballot-123")

			Convey("Then it should not have been seen before", func() {
				So(seen, ShouldBeFalse)
				So(svc.Size(), ShouldEqual, 1)
			})
		})

		Convey("When checking the same ballot ID again", func() {
			svc.SeenAndRecord(ctx, "ballot-456")
			seen := svc.SeenAndRecord(ctx, "ballot-456")

			Convey("Then it should have been seen before", func() {
				So(seen, ShouldBeTrue)
			})

			Convey("And unrecording allows a retry", func() {
				svc.Unrecord(ctx, "ballot-456")
				So(svc.SeenAndRecord(ctx, "ballot-456"), ShouldBeFalse)
			})
		})
	})
}

func TestService_Enqueue(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When enqueueing a valid ballot", func() {
			err := svc.Enqueue(ctx, model.Ballot{ID: "b1", ItemA: "y", ItemB: "x", Outcome: model.OutcomeAWins})

			Convey("Then it is counted in canonical orientation", func() {
				So(err, ShouldBeNil)
				So(waitFor(func() bool { return svc.GetStats()["ballots"] == 1 }), ShouldBeTrue)
				ts := svc.Tallies(ctx)
				p, _, _ := model.NewPair("x", "y")
				So(ts[p], ShouldResemble, model.Tally{WinsSecond: 1})
			})
		})

		Convey("When enqueueing a self comparison", func() {
			err := svc.Enqueue(ctx, model.Ballot{ID: "b2", ItemA: "x", ItemB: "x", Outcome: model.OutcomeTie})

			Convey("Then it is rejected as malformed", func() {
				So(errors.Is(err, tally.ErrMalformedBallot), ShouldBeTrue)
			})
		})
	})
}

func TestService_GeneratePairing(t *testing.T) {
	Convey("Given a service with a fixed seed", t, func() {
		svc := service.New(service.WithPairingDegree(2), service.WithBatchSize(3), service.WithPairingSeed(11))
		ctx := context.Background()
		items := ids("a", "b", "c", "d", "e", "f")

		Convey("When a plan is generated", func() {
			plan, err := svc.GeneratePairing(ctx, types.PairingRequest{Items: items})

			Convey("Then every item has the default degree", func() {
				So(err, ShouldBeNil)
				So(plan.ID, ShouldNotBeEmpty)
				So(plan.Degree, ShouldEqual, 2)
				So(plan.Pairs, ShouldHaveLength, 6)
				So(plan.Batches, ShouldHaveLength, 2)
				deg := map[model.ItemID]int{}
				for _, p := range plan.Pairs {
					deg[p.First]++
					deg[p.Second]++
				}
				for _, id := range items {
					So(deg[id], ShouldEqual, 2)
				}
			})

			Convey("And the same seed reproduces the same pairs", func() {
				again, err := svc.GeneratePairing(ctx, types.PairingRequest{Items: items})
				So(err, ShouldBeNil)
				So(again.Pairs, ShouldResemble, plan.Pairs)
				So(again.ID, ShouldNotEqual, plan.ID)
			})
		})

		Convey("When a cross pairing is requested", func() {
			plan, err := svc.GeneratePairing(ctx, types.PairingRequest{
				GroupA: ids("a1", "a2", "a3"),
				GroupB: ids("b1", "b2", "b3"),
			})

			Convey("Then every pair spans the two groups", func() {
				So(err, ShouldBeNil)
				So(plan.Pairs, ShouldHaveLength, 6)
				for _, p := range plan.Pairs {
					So(string(p.First)[0], ShouldEqual, 'a')
					So(string(p.Second)[0], ShouldEqual, 'b')
				}
			})
		})

		Convey("When the design is infeasible", func() {
			_, err := svc.GeneratePairing(ctx, types.PairingRequest{Items: ids("a", "b", "c"), Degree: 1})

			Convey("Then the pairing error is returned", func() {
				So(errors.Is(err, pairing.ErrPairingInfeasible), ShouldBeTrue)
			})
		})
	})
}

func TestService_GetStats(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()

		Convey("When getting stats before starting", func() {
			stats := svc.GetStats()

			Convey("Then it should return basic stats", func() {
				So(stats, ShouldNotBeNil)
				So(stats["started"], ShouldEqual, false)
				So(stats, ShouldNotContainKey, "lastRanking")
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
