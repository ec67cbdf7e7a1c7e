package api

import (
	"context"
	"net/http"

	"github.com/okian/duelrank/internal/domain/types"
)

// RankingDependencies defines the operations the rankings handler needs.
type RankingDependencies interface {
	Recompute(ctx context.Context) (types.RankingSummary, error)
}

// RankingsHandler triggers a ranking recomputation.
type RankingsHandler struct {
	deps RankingDependencies
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(deps RankingDependencies) *RankingsHandler {
	return &RankingsHandler{deps: deps}
}

// HandlePostRankings handles POST /rankings. The response carries the run
// summary; a run that stopped at the iteration cap is flagged low_confidence.
func (h *RankingsHandler) HandlePostRankings(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_rankings"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	summary, err := h.deps.Recompute(r.Context())
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
