// Package types contains common types used across the application
package types

import (
	"time"

	"github.com/okian/duelrank/internal/domain/model"
)

// Entry represents one row of the published ranking.
type Entry struct {
	Rank     int     `json:"rank"`
	ItemID   string  `json:"item_id"`
	Score    float64 `json:"score"`    // normalized into [0,1]
	Strength float64 `json:"strength"` // fitted log-strength before normalization
}

// PairingRequest asks for a comparison design. Either Items or both groups
// are set; zero Degree and BatchSize fall back to the service defaults and a
// nil Seed to the configured one.
type PairingRequest struct {
	Items     []model.ItemID
	GroupA    []model.ItemID
	GroupB    []model.ItemID
	Degree    int
	BatchSize int
	Seed      *int64
}

// Cross reports whether the request pairs two groups against each other.
func (r PairingRequest) Cross() bool { return len(r.GroupA) > 0 || len(r.GroupB) > 0 }

// IDs returns every item the request names.
func (r PairingRequest) IDs() []model.ItemID {
	if !r.Cross() {
		return r.Items
	}
	out := make([]model.ItemID, 0, len(r.GroupA)+len(r.GroupB))
	out = append(out, r.GroupA...)
	return append(out, r.GroupB...)
}

// Plan is a generated pairing ready to be rendered into tasks.
type Plan struct {
	ID       string         `json:"plan_id"`
	Degree   int            `json:"degree"`
	Items    int            `json:"items"`
	Seed     int64          `json:"seed"`
	Restarts int            `json:"restarts"`
	Pairs    []model.Pair   `json:"pairs"`
	Batches  [][]model.Pair `json:"batches"`
}

// RankingSummary describes one published estimation run.
type RankingSummary struct {
	Items         int       `json:"items"`
	Pairs         int       `json:"pairs"`
	Duels         int       `json:"duels"`
	Iterations    int       `json:"iterations"`
	Converged     bool      `json:"converged"`
	LowConfidence bool      `json:"low_confidence"`
	DurationMs    float64   `json:"duration_ms"`
	ComputedAt    time.Time `json:"computed_at"`
}
