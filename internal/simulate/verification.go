package simulate

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/duelrank/internal/domain/model"
)

// Verify checks that the run recovered the latent order well enough.
func Verify(res *Result, minCorrelation float64) error {
	if res == nil || len(res.Estimate.Scores) == 0 {
		return fmt.Errorf("%w: no scores to verify", ErrPoorRecovery)
	}
	if res.Stats.Spearman < minCorrelation {
		return fmt.Errorf("%w: spearman %.3f < %.3f", ErrPoorRecovery, res.Stats.Spearman, minCorrelation)
	}
	return nil
}

// Spearman is the rank correlation between latent quality and recovered
// score over the items that received a score.
func Spearman(items []Item, scores map[model.ItemID]float64) float64 {
	var latent, recovered []float64
	for _, it := range items {
		s, ok := scores[it.ID]
		if !ok {
			continue
		}
		latent = append(latent, it.Quality)
		recovered = append(recovered, s)
	}
	if len(latent) < 2 {
		return 0
	}
	return stat.Correlation(ranks(latent), ranks(recovered), nil)
}

// ranks returns 1-based fractional ranks; tied values share their mean rank.
func ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	out := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		mean := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = mean
		}
		i = j + 1
	}
	return out
}

// topRecovered reports whether the item with the highest latent quality is
// among the items with the highest score.
func topRecovered(items []Item, scores map[model.ItemID]float64) bool {
	if len(items) == 0 || len(scores) == 0 {
		return false
	}
	best := items[0]
	for _, it := range items[1:] {
		if it.Quality > best.Quality {
			best = it
		}
	}
	top := -1.0
	for _, s := range scores {
		top = max(top, s)
	}
	s, ok := scores[best.ID]
	return ok && s == top
}
