package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/duelrank/internal/adapters/catalog"
	"github.com/okian/duelrank/internal/adapters/http/api"
	"github.com/okian/duelrank/internal/adapters/mq/queue"
	repository "github.com/okian/duelrank/internal/adapters/repository"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies implements api.Dependencies in memory.
type mockDependencies struct {
	mu         sync.Mutex
	seen       map[string]bool
	enqueued   []model.Ballot
	enqueueErr error

	pairingReq types.PairingRequest
	plan       types.Plan
	pairingErr error

	tallies model.Tallies

	summary      types.RankingSummary
	recomputeErr error

	topN    []types.Entry
	topNErr error
	rank    types.Entry
	rankErr error
}

func (m *mockDependencies) SeenAndRecord(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[id] {
		return true
	}
	m.seen[id] = true
	return false
}

func (m *mockDependencies) Unrecord(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}

func (m *mockDependencies) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.seen))
}

func (m *mockDependencies) Enqueue(_ context.Context, b model.Ballot) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, b)
	return nil
}

func (m *mockDependencies) GeneratePairing(_ context.Context, req types.PairingRequest) (types.Plan, error) {
	m.pairingReq = req
	return m.plan, m.pairingErr
}

func (m *mockDependencies) Tallies(context.Context) model.Tallies { return m.tallies }

func (m *mockDependencies) Recompute(context.Context) (types.RankingSummary, error) {
	return m.summary, m.recomputeErr
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]types.Entry, error) {
	if m.topNErr != nil {
		return nil, m.topNErr
	}
	if n > len(m.topN) {
		return m.topN, nil
	}
	return m.topN[:n], nil
}

func (m *mockDependencies) Rank(_ context.Context, _ string) (types.Entry, error) {
	return m.rank, m.rankErr
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any { return m.stats }

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(w *httptest.ResponseRecorder) errorResponse {
	var resp errorResponse
	So(json.NewDecoder(w.Body).Decode(&resp), ShouldBeNil)
	return resp
}

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := &mockDependencies{
			topN: []types.Entry{{Rank: 1, ItemID: "a", Score: 1}},
			rank: types.Entry{Rank: 1, ItemID: "a", Score: 1},
		}
		server := api.NewServer(deps, &mockStatsProvider{stats: map[string]any{}}, 100)
		mux := http.NewServeMux()

		Convey("When registering routes", func() {
			server.Register(context.Background(), mux)

			for _, tc := range []struct {
				method, path, body string
				want               int
			}{
				{http.MethodGet, "/healthz", "", http.StatusOK},
				{http.MethodGet, "/stats", "", http.StatusOK},
				{http.MethodPost, "/ballots", `{}`, http.StatusBadRequest},
				{http.MethodPost, "/pairings", `{"items":["a","b"]}`, http.StatusCreated},
				{http.MethodGet, "/tallies", "", http.StatusOK},
				{http.MethodPost, "/rankings", "", http.StatusOK},
				{http.MethodGet, "/leaderboard?limit=10", "", http.StatusOK},
				{http.MethodGet, "/rank/a", "", http.StatusOK},
				{http.MethodGet, "/unknown", "", http.StatusNotFound},
			} {
				Convey(fmt.Sprintf("Then %s %s answers %d", tc.method, tc.path, tc.want), func() {
					w := do(mux.ServeHTTP, tc.method, tc.path, tc.body)
					So(w.Code, ShouldEqual, tc.want)
				})
			}
		})
	})
}

func TestBallotsHandler_HandlePostBallot(t *testing.T) {
	Convey("Given a ballots handler", t, func() {
		deps := &mockDependencies{}
		handler := api.NewBallotsHandler(deps)
		valid := `{"ballot_id":"b-1","voter_id":"v-1","item_a":"x","item_b":"y","outcome":"A_WINS"}`

		Convey("When handling a valid ballot", func() {
			w := do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)

			Convey("Then it is accepted and queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var resp ackResponse
				So(json.NewDecoder(w.Body).Decode(&resp), ShouldBeNil)
				So(resp.Status, ShouldEqual, "accepted")
				So(deps.enqueued, ShouldHaveLength, 1)
				So(deps.enqueued[0], ShouldResemble, model.Ballot{
					ID: "b-1", VoterID: "v-1", ItemA: "x", ItemB: "y", Outcome: model.OutcomeAWins,
				})
			})
		})

		Convey("When the same ballot id arrives twice", func() {
			do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)
			w := do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)

			Convey("Then the second is acknowledged as a duplicate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp ackResponse
				So(json.NewDecoder(w.Body).Decode(&resp), ShouldBeNil)
				So(resp.Status, ShouldEqual, "duplicate")
				So(resp.Duplicate, ShouldBeTrue)
				So(deps.enqueued, ShouldHaveLength, 1)
			})
		})

		Convey("When the body is malformed", func() {
			for name, body := range map[string]string{
				"invalid json":    `{invalid`,
				"unknown field":   `{"ballot_id":"b","item_a":"x","item_b":"y","outcome":"TIE","extra":1}`,
				"missing item":    `{"ballot_id":"b","item_a":"x","outcome":"TIE"}`,
				"self comparison": `{"ballot_id":"b","item_a":"x","item_b":"x","outcome":"TIE"}`,
				"bad outcome":     `{"ballot_id":"b","item_a":"x","item_b":"y","outcome":"MAYBE"}`,
			} {
				Convey("Then "+name+" is a bad request", func() {
					w := do(handler.HandlePostBallot, http.MethodPost, "/ballots", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(decodeError(w).Code, ShouldEqual, "bad_request")
					So(deps.enqueued, ShouldBeEmpty)
				})
			}
		})

		Convey("When handling a non-POST request", func() {
			w := do(handler.HandlePostBallot, http.MethodGet, "/ballots", "")

			Convey("Then it returns not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the queue is full", func() {
			deps.enqueueErr = fmt.Errorf("%w: capacity 1", queue.ErrFull)
			w := do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)

			Convey("Then it signals backpressure and forgets the id", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decodeError(w).Code, ShouldEqual, "backpressure")
				So(deps.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the ballot names an item missing from the catalog", func() {
			deps.enqueueErr = &catalog.UnknownItemError{IDs: []model.ItemID{"ghost"}}
			w := do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)

			Convey("Then it is unprocessable and the id can be retried", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decodeError(w).Code, ShouldEqual, "unknown_item")
				So(deps.Size(), ShouldEqual, 0)

				deps.enqueueErr = nil
				retry := do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)
				So(retry.Code, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When the queue is closed", func() {
			deps.enqueueErr = queue.ErrClosed
			w := do(handler.HandlePostBallot, http.MethodPost, "/ballots", valid)

			Convey("Then the service is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeError(w).Code, ShouldEqual, "unavailable")
			})
		})
	})
}

func TestPairingsHandler_HandlePostPairings(t *testing.T) {
	Convey("Given a pairings handler", t, func() {
		p, _, _ := model.NewPair("a", "b")
		deps := &mockDependencies{plan: types.Plan{ID: "plan-1", Degree: 1, Items: 2, Pairs: []model.Pair{p}}}
		handler := api.NewPairingsHandler(deps)

		Convey("When requesting a pairing over items", func() {
			w := do(handler.HandlePostPairings, http.MethodPost, "/pairings",
				`{"items":["a","b"],"degree":1,"batch_size":5,"seed":7}`)

			Convey("Then the plan is returned", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var plan types.Plan
				So(json.NewDecoder(w.Body).Decode(&plan), ShouldBeNil)
				So(plan.ID, ShouldEqual, "plan-1")
				So(plan.Pairs, ShouldResemble, []model.Pair{p})
			})

			Convey("And the request is forwarded intact", func() {
				So(deps.pairingReq.Items, ShouldResemble, []model.ItemID{"a", "b"})
				So(deps.pairingReq.Degree, ShouldEqual, 1)
				So(deps.pairingReq.BatchSize, ShouldEqual, 5)
				So(*deps.pairingReq.Seed, ShouldEqual, 7)
			})
		})

		Convey("When requesting a cross pairing", func() {
			w := do(handler.HandlePostPairings, http.MethodPost, "/pairings",
				`{"group_a":["a1"],"group_b":["b1"]}`)

			Convey("Then both groups are forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(deps.pairingReq.Cross(), ShouldBeTrue)
				So(deps.pairingReq.Seed, ShouldBeNil)
			})
		})

		Convey("When the request is invalid", func() {
			for name, body := range map[string]string{
				"no items":        `{}`,
				"one item":        `{"items":["a"]}`,
				"mixed":           `{"items":["a","b"],"group_a":["c"],"group_b":["d"]}`,
				"one group":       `{"group_a":["a"]}`,
				"negative degree": `{"items":["a","b"],"degree":-1}`,
				"empty id":        `{"items":["a",""]}`,
			} {
				Convey("Then "+name+" is a bad request", func() {
					w := do(handler.HandlePostPairings, http.MethodPost, "/pairings", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
				})
			}
		})

		Convey("When the design is infeasible", func() {
			deps.pairingErr = fmt.Errorf("generate pairing: %w", &pairing.InfeasibleError{Items: 3, Degree: 1})
			w := do(handler.HandlePostPairings, http.MethodPost, "/pairings", `{"items":["a","b","c"],"degree":1}`)

			Convey("Then it is unprocessable", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decodeError(w).Code, ShouldEqual, "pairing_infeasible")
			})
		})

		Convey("When the catalog does not know an item", func() {
			deps.pairingErr = &catalog.UnknownItemError{IDs: []model.ItemID{"ghost"}}
			w := do(handler.HandlePostPairings, http.MethodPost, "/pairings", `{"items":["a","ghost"]}`)

			Convey("Then the unknown item is reported", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				resp := decodeError(w)
				So(resp.Code, ShouldEqual, "unknown_item")
				So(resp.Message, ShouldContainSubstring, "ghost")
			})
		})
	})
}

func TestTalliesHandler_HandleGetTallies(t *testing.T) {
	Convey("Given live tallies", t, func() {
		ab, _, _ := model.NewPair("a", "b")
		bc, _, _ := model.NewPair("b", "c")
		deps := &mockDependencies{tallies: model.Tallies{
			bc: {WinsFirst: 1, Ties: 1},
			ab: {WinsFirst: 2, WinsSecond: 1},
		}}
		handler := api.NewTalliesHandler(deps)

		Convey("When the tallies are requested", func() {
			w := do(handler.HandleGetTallies, http.MethodGet, "/tallies", "")

			Convey("Then rows come back in canonical order with totals", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Pairs   int `json:"pairs"`
					Ballots int `json:"ballots"`
					Tallies []struct {
						Item1     string `json:"item1"`
						Item2     string `json:"item2"`
						WinsFirst int    `json:"wins_first"`
					} `json:"tallies"`
				}
				So(json.NewDecoder(w.Body).Decode(&resp), ShouldBeNil)
				So(resp.Pairs, ShouldEqual, 2)
				So(resp.Ballots, ShouldEqual, 5)
				So(resp.Tallies[0].Item1, ShouldEqual, "a")
				So(resp.Tallies[0].WinsFirst, ShouldEqual, 2)
				So(resp.Tallies[1].Item2, ShouldEqual, "c")
			})
		})
	})
}

func TestRankingsHandler_HandlePostRankings(t *testing.T) {
	Convey("Given a rankings handler", t, func() {
		deps := &mockDependencies{summary: types.RankingSummary{Items: 3, Pairs: 3, Converged: true}}
		handler := api.NewRankingsHandler(deps)

		Convey("When a recomputation succeeds", func() {
			w := do(handler.HandlePostRankings, http.MethodPost, "/rankings", "")

			Convey("Then the summary is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var s types.RankingSummary
				So(json.NewDecoder(w.Body).Decode(&s), ShouldBeNil)
				So(s.Items, ShouldEqual, 3)
				So(s.LowConfidence, ShouldBeFalse)
			})
		})

		Convey("When the recomputation fails", func() {
			for _, tc := range []struct {
				err  error
				code int
				name string
			}{
				{scoring.ErrEmptyInput, http.StatusConflict, "empty_input"},
				{fmt.Errorf("estimate ranking: %w", scoring.ErrRankingIndeterminate), http.StatusUnprocessableEntity, "ranking_indeterminate"},
				{queue.ErrClosed, http.StatusServiceUnavailable, "unavailable"},
				{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
			} {
				Convey("Then "+tc.name+" maps to its status", func() {
					deps.recomputeErr = tc.err
					w := do(handler.HandlePostRankings, http.MethodPost, "/rankings", "")
					So(w.Code, ShouldEqual, tc.code)
					So(decodeError(w).Code, ShouldEqual, tc.name)
				})
			}
		})

		Convey("When handling a non-POST request", func() {
			w := do(handler.HandlePostRankings, http.MethodGet, "/rankings", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestLeaderboardHandler_HandleGetLeaderboard(t *testing.T) {
	Convey("Given a leaderboard handler", t, func() {
		deps := &mockDependencies{topN: []types.Entry{
			{Rank: 1, ItemID: "item-1", Score: 1},
			{Rank: 2, ItemID: "item-2", Score: 0.6},
			{Rank: 3, ItemID: "item-3", Score: 0},
		}}
		handler := api.NewLeaderboardHandler(deps, 100)

		Convey("When requesting top N entries", func() {
			w := do(handler.HandleGetLeaderboard, http.MethodGet, "/leaderboard?limit=2", "")

			Convey("Then it returns the top N entries", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var entries []types.Entry
				So(json.NewDecoder(w.Body).Decode(&entries), ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].ItemID, ShouldEqual, "item-1")
				So(entries[1].Rank, ShouldEqual, 2)
			})
		})

		Convey("When no limit is specified", func() {
			w := do(handler.HandleGetLeaderboard, http.MethodGet, "/leaderboard", "")

			Convey("Then the whole board up to the maximum is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var entries []types.Entry
				So(json.NewDecoder(w.Body).Decode(&entries), ShouldBeNil)
				So(entries, ShouldHaveLength, 3)
			})
		})

		Convey("When the limit is invalid", func() {
			w := do(handler.HandleGetLeaderboard, http.MethodGet, "/leaderboard?limit=zero", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Code, ShouldEqual, "bad_request")
		})

		Convey("When the limit exceeds the maximum", func() {
			w := do(handler.HandleGetLeaderboard, http.MethodGet, "/leaderboard?limit=101", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Code, ShouldEqual, "limit_exceeded")
		})

		Convey("When the ranking store fails", func() {
			deps.topNErr = fmt.Errorf("database error")
			w := do(handler.HandleGetLeaderboard, http.MethodGet, "/leaderboard?limit=1", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestRankHandler_HandleGetRank(t *testing.T) {
	Convey("Given a rank handler", t, func() {
		deps := &mockDependencies{rank: types.Entry{Rank: 2, ItemID: "item-2", Score: 0.5, Strength: -0.1}}
		handler := api.NewRankHandler(deps)

		Convey("When requesting a ranked item", func() {
			w := do(handler.HandleGetRank, http.MethodGet, "/rank/item-2", "")

			Convey("Then its entry is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var entry types.Entry
				So(json.NewDecoder(w.Body).Decode(&entry), ShouldBeNil)
				So(entry, ShouldResemble, deps.rank)
			})
		})

		Convey("When the item is not ranked", func() {
			deps.rankErr = fmt.Errorf("rank %q: %w", "ghost", repository.ErrNotFound)
			w := do(handler.HandleGetRank, http.MethodGet, "/rank/ghost", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w).Code, ShouldEqual, "not_found")
		})

		Convey("When the path is malformed", func() {
			w := do(handler.HandleGetRank, http.MethodGet, "/rank/a/b", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	Convey("Given a health handler", t, func() {
		handler := api.NewHealthHandler()

		Convey("When handling a health check", func() {
			w := do(handler.HandleHealth, http.MethodGet, "/healthz", "")

			Convey("Then it returns OK", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestStatsHandler_HandleStats(t *testing.T) {
	Convey("Given a stats handler", t, func() {
		handler := api.NewStatsHandler(&mockStatsProvider{stats: map[string]any{
			"ballots": 1000,
			"pairs":   150,
		}})

		Convey("When handling a stats request", func() {
			w := do(handler.HandleStats, http.MethodGet, "/stats", "")

			Convey("Then it returns the stats", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				So(json.NewDecoder(w.Body).Decode(&resp), ShouldBeNil)
				So(resp["ballots"], ShouldEqual, 1000)
				So(resp["pairs"], ShouldEqual, 150)
			})
		})
	})
}
