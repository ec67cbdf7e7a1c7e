// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/duelrank/internal/adapters/catalog"
	"github.com/okian/duelrank/internal/adapters/mq/queue"
	repository "github.com/okian/duelrank/internal/adapters/repository"
	"github.com/okian/duelrank/internal/domain/dedupe"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes a ballot for async counting.
	Enqueue(ctx context.Context, b model.Ballot) error

	// GeneratePairing builds a comparison design.
	GeneratePairing(ctx context.Context, req types.PairingRequest) (types.Plan, error)

	// Tallies returns the live pair counts.
	Tallies(ctx context.Context) model.Tallies

	// Recompute fits and publishes a new ranking.
	Recompute(ctx context.Context) (types.RankingSummary, error)

	// Read operations expose the published ranking.
	TopN(ctx context.Context, n int) ([]Entry, error)
	Rank(ctx context.Context, itemID string) (Entry, error)
}

// Entry mirrors the read shape returned by ranking queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	pairingsHandler    *PairingsHandler
	ballotsHandler     *BallotsHandler
	talliesHandler     *TalliesHandler
	rankingsHandler    *RankingsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		pairingsHandler:    NewPairingsHandler(deps),
		ballotsHandler:     NewBallotsHandler(deps),
		talliesHandler:     NewTalliesHandler(deps),
		rankingsHandler:    NewRankingsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/pairings", MetricsMiddleware(s.pairingsHandler.HandlePostPairings, "pairings"))
	mux.HandleFunc("/ballots", MetricsMiddleware(s.ballotsHandler.HandlePostBallot, "ballots"))
	mux.HandleFunc("/tallies", MetricsMiddleware(s.talliesHandler.HandleGetTallies, "tallies"))
	mux.HandleFunc("/rankings", MetricsMiddleware(s.rankingsHandler.HandlePostRankings, "rankings"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// classify maps domain failures to a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, tally.ErrMalformedBallot):
		return http.StatusBadRequest, "malformed_ballot"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scoring.ErrEmptyInput):
		return http.StatusConflict, "empty_input"
	case errors.Is(err, pairing.ErrPairingInfeasible):
		return http.StatusUnprocessableEntity, "pairing_infeasible"
	case errors.Is(err, scoring.ErrRankingIndeterminate):
		return http.StatusUnprocessableEntity, "ranking_indeterminate"
	case errors.Is(err, catalog.ErrUnknownItem):
		return http.StatusUnprocessableEntity, "unknown_item"
	case errors.Is(err, queue.ErrFull), errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, queue.ErrClosed), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err with the status its kind maps to. Errors not yet
// attributed to an operation are attributed to op.
func fail(w http.ResponseWriter, op string, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		err = Wrap(op, err)
	}
	status, code := classify(err)
	writeError(w, status, code, err)
}
