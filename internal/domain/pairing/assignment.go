package pairing

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/okian/duelrank/internal/domain/model"
)

// DefaultBatchSize is the number of pairs shown to a voter in one task.
const DefaultBatchSize = 10

// Assignment maps each item to its ordered partner list.
type Assignment map[model.ItemID][]model.ItemID

// Pairs returns the distinct canonical pairs of a, sorted.
func (a Assignment) Pairs() []model.Pair {
	set := make(map[model.Pair]struct{})
	for i, partners := range a {
		for _, j := range partners {
			p, _, err := model.NewPair(i, j)
			if err != nil {
				continue
			}
			set[p] = struct{}{}
		}
	}
	out := make([]model.Pair, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	model.SortPairs(out)
	return out
}

// Validate checks that a is k-regular, irreflexive, duplicate-free and
// symmetric.
func (a Assignment) Validate(k int) error {
	for i, partners := range a {
		if len(partners) != k {
			return fmt.Errorf("%w: item %q has %d partners, want %d", ErrInvalidAssignment, i, len(partners), k)
		}
		seen := make(map[model.ItemID]struct{}, len(partners))
		for _, j := range partners {
			if j == i {
				return fmt.Errorf("%w: item %q paired with itself", ErrInvalidAssignment, i)
			}
			if _, dup := seen[j]; dup {
				return fmt.Errorf("%w: item %q paired with %q twice", ErrInvalidAssignment, i, j)
			}
			seen[j] = struct{}{}
			if !slices.Contains(a[j], i) {
				return fmt.Errorf("%w: %q lists %q but not the reverse", ErrInvalidAssignment, i, j)
			}
		}
	}
	return nil
}

// ShufflePairs permutes pairs in place.
func ShufflePairs(rng *rand.Rand, pairs []model.Pair) {
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
}

// Batch splits pairs into consecutive groups of size. The last batch may be
// shorter.
func Batch(pairs []model.Pair, size int) [][]model.Pair {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]model.Pair, 0, (len(pairs)+size-1)/size)
	for start := 0; start < len(pairs); start += size {
		end := min(start+size, len(pairs))
		out = append(out, pairs[start:end:end])
	}
	return out
}
