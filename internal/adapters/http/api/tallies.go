package api

import (
	"context"
	"net/http"

	"github.com/okian/duelrank/internal/domain/model"
)

// TallyDependencies defines the operations the tallies handler needs.
type TallyDependencies interface {
	Tallies(ctx context.Context) model.Tallies
}

// TalliesHandler exposes the live pair counts.
type TalliesHandler struct {
	deps TallyDependencies
}

// NewTalliesHandler creates a new tallies handler.
func NewTalliesHandler(deps TallyDependencies) *TalliesHandler {
	return &TalliesHandler{deps: deps}
}

type tallyRow struct {
	Item1      model.ItemID `json:"item1"`
	Item2      model.ItemID `json:"item2"`
	WinsFirst  int          `json:"wins_first"`
	WinsSecond int          `json:"wins_second"`
	Ties       int          `json:"ties"`
}

type talliesResponse struct {
	Pairs   int        `json:"pairs"`
	Ballots int        `json:"ballots"`
	Tallies []tallyRow `json:"tallies"`
}

// HandleGetTallies handles GET /tallies requests. Rows are in canonical
// pair order.
func (h *TalliesHandler) HandleGetTallies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ts := h.deps.Tallies(r.Context())
	resp := talliesResponse{Pairs: len(ts), Tallies: make([]tallyRow, 0, len(ts))}
	for _, p := range ts.SortedPairs() {
		t := ts[p]
		resp.Ballots += t.Total()
		resp.Tallies = append(resp.Tallies, tallyRow{
			Item1:      p.First,
			Item2:      p.Second,
			WinsFirst:  t.WinsFirst,
			WinsSecond: t.WinsSecond,
			Ties:       t.Ties,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
