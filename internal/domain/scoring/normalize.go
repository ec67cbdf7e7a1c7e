package scoring

import (
	"gonum.org/v1/gonum/floats"

	"github.com/okian/duelrank/internal/domain/model"
)

// degenerateSpan is the widest strength range still treated as all-equal.
const degenerateSpan = 1e-9

// Normalize rescales strengths linearly so the weakest item maps to 0 and
// the strongest to 1. If all strengths are equal every item gets 0.5.
func Normalize(raw map[model.ItemID]float64) map[model.ItemID]float64 {
	out := make(map[model.ItemID]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	vals := make([]float64, 0, len(raw))
	for _, v := range raw {
		vals = append(vals, v)
	}
	lo, hi := floats.Min(vals), floats.Max(vals)
	span := hi - lo
	for id, v := range raw {
		if span <= degenerateSpan {
			out[id] = 0.5
			continue
		}
		out[id] = (v - lo) / span
	}
	return out
}
