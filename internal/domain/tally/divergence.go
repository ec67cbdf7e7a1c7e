package tally

import (
	"sort"

	"github.com/okian/duelrank/internal/domain/model"
)

// VoterDivergence summarizes how often a voter disagreed with the crowd.
type VoterDivergence struct {
	VoterID   string
	Votes     int
	Divergent int
	Share     float64 // Divergent / Votes
}

// Divergence measures, for each voter, the share of their votes that differ
// from the modal vote on the same pair. Pairs without a unique mode do not
// count as divergent but still count towards the voter's total. Ballots
// without a voter id or that fail validation are ignored.
func Divergence(ballots []model.Ballot) []VoterDivergence {
	type vote struct {
		pair    model.Pair
		outcome model.Outcome
	}
	counts := make(map[model.Pair]map[model.Outcome]int)
	byVoter := make(map[string][]vote)
	for _, b := range ballots {
		if b.VoterID == "" || Validate(b) != nil {
			continue
		}
		p, swapped, _ := model.NewPair(b.ItemA, b.ItemB)
		o := b.Outcome
		if swapped {
			o = o.Flip()
		}
		if counts[p] == nil {
			counts[p] = make(map[model.Outcome]int, 3)
		}
		counts[p][o]++
		byVoter[b.VoterID] = append(byVoter[b.VoterID], vote{p, o})
	}

	modes := make(map[model.Pair]model.Outcome, len(counts))
	for p, c := range counts {
		if m, ok := uniqueMode(c); ok {
			modes[p] = m
		}
	}

	out := make([]VoterDivergence, 0, len(byVoter))
	for voter, votes := range byVoter {
		d := VoterDivergence{VoterID: voter, Votes: len(votes)}
		for _, v := range votes {
			if m, ok := modes[v.pair]; ok && m != v.outcome {
				d.Divergent++
			}
		}
		d.Share = float64(d.Divergent) / float64(d.Votes)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Share != out[j].Share {
			return out[i].Share > out[j].Share
		}
		return out[i].VoterID < out[j].VoterID
	})
	return out
}

func uniqueMode(c map[model.Outcome]int) (model.Outcome, bool) {
	best, bestN, ties := model.OutcomeUnknown, 0, 0
	for o, n := range c {
		switch {
		case n > bestN:
			best, bestN, ties = o, n, 0
		case n == bestN:
			ties++
		}
	}
	return best, ties == 0 && bestN > 0
}
