package simulate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duelrank/internal/adapters/http/api"
	app "github.com/okian/duelrank/internal/app"
	"github.com/okian/duelrank/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestRemoteReplay(t *testing.T) {
	Convey("Given a running server and a seeded simulation", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		svc := app.New(app.WithLogger(logger.Nop()), app.WithWorkerCount(2), app.WithQueueSize(1000))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc, 100).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		res, err := Run(ctx, Config{Items: 30, Degree: 4, Voters: 3, TieBand: 0.1, Seed: 5, Workers: 2})
		So(err, ShouldBeNil)

		remote, err := NewRemote(srv.URL+"/", 4, time.Second, nil)
		So(err, ShouldBeNil)

		Convey("When the ballots are replayed", func() {
			rs, err := remote.Replay(ctx, res)

			Convey("Then every ballot is accepted and the ranking covers every item", func() {
				So(err, ShouldBeNil)
				So(rs.Submitted, ShouldEqual, len(res.Ballots))
				So(rs.Accepted, ShouldEqual, len(res.Ballots))
				So(rs.Failed, ShouldEqual, 0)
				So(rs.Ranking.Items, ShouldEqual, 30)
				So(rs.Spearman, ShouldBeGreaterThan, 0.5)
			})

			Convey("And a second replay is all duplicates", func() {
				again, err := remote.Replay(ctx, res)
				So(err, ShouldBeNil)
				So(again.Duplicates, ShouldEqual, len(res.Ballots))
				So(again.Accepted, ShouldEqual, 0)
			})
		})
	})
}

func TestRemoteErrors(t *testing.T) {
	Convey("Given remote clients", t, func() {
		Convey("A relative base url is rejected", func() {
			_, err := NewRemote("localhost:9080", 1, 0, nil)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("An unhealthy server stops the replay", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()

			remote, err := NewRemote(srv.URL, 1, time.Second, nil)
			So(err, ShouldBeNil)
			_, err = remote.Replay(context.Background(), &Result{})
			So(errors.Is(err, ErrRemote), ShouldBeTrue)
		})

		Convey("A nil result is rejected", func() {
			remote, err := NewRemote("http://127.0.0.1:1", 1, time.Second, nil)
			So(err, ShouldBeNil)
			_, err = remote.Replay(context.Background(), nil)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})
	})
}
