// Package neardup removes near-duplicate items before pairing, using a
// perceptual hash and a similarity threshold.
package neardup

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/okian/duelrank/internal/domain/model"
)

// DefaultThreshold is the similarity percentage above which two items are
// considered duplicates.
const DefaultThreshold = 38.0

// ErrHashLength is returned when two hashes of different length are compared.
var ErrHashLength = errors.New("hash length mismatch")

// Candidate is an item together with its perceptual hash.
type Candidate struct {
	ID   model.ItemID
	Hash string
}

// Hamming counts the positions at which a and b differ.
func Hamming(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrHashLength, len(a), len(b))
	}
	d := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d, nil
}

// SimilarityPercent is the share of equal positions, in percent.
func SimilarityPercent(a, b string) (float64, error) {
	d, err := Hamming(a, b)
	if err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 100, nil
	}
	return float64(len(a)-d) * 100 / float64(len(a)), nil
}

// Filter builds the similarity graph of candidates, with an edge wherever
// similarity exceeds threshold, and keeps candidates in input order unless
// they neighbour an already kept one.
func Filter(candidates []Candidate, threshold float64) (kept, removed []Candidate, err error) {
	g := simple.NewUndirectedGraph()
	for i := range candidates {
		g.AddNode(simple.Node(i))
	}
	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			s, err := SimilarityPercent(candidates[i].Hash, candidates[j].Hash)
			if err != nil {
				return nil, nil, fmt.Errorf("compare %q and %q: %w", candidates[i].ID, candidates[j].ID, err)
			}
			if s > threshold {
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}

	isKept := make([]bool, len(candidates))
	for i, c := range candidates {
		dup := false
		nbrs := g.From(int64(i))
		for nbrs.Next() {
			if isKept[nbrs.Node().ID()] {
				dup = true
				break
			}
		}
		if dup {
			removed = append(removed, c)
			continue
		}
		isKept[i] = true
		kept = append(kept, c)
	}
	return kept, removed, nil
}

// Sample shuffles candidates and returns at most n of them.
func Sample(rng *rand.Rand, candidates []Candidate, n int) []Candidate {
	out := append([]Candidate(nil), candidates...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
