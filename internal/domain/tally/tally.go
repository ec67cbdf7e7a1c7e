// Package tally folds individual ballots into per-pair win/loss/tie counts
// keyed by canonical pair.
package tally

import (
	"sync"

	"github.com/okian/duelrank/internal/domain/model"
)

// Aggregate counts ballots per canonical pair. Malformed ballots are skipped
// and returned as *MalformedBallotError values; the rest are still counted.
func Aggregate(ballots []model.Ballot) (model.Tallies, []error) {
	acc := NewAccumulator()
	var rejected []error
	for i, b := range ballots {
		if err := acc.add(i, b); err != nil {
			rejected = append(rejected, err)
		}
	}
	return acc.Snapshot(), rejected
}

// Validate reports why b cannot be counted, or nil.
func Validate(b model.Ballot) error {
	return validate(-1, b)
}

func validate(index int, b model.Ballot) error {
	reason := ""
	switch {
	case b.ItemA == "" || b.ItemB == "":
		reason = "missing item id"
	case b.ItemA == b.ItemB:
		reason = "item compared with itself"
	case !b.Outcome.Valid():
		reason = "unknown outcome " + b.Outcome.String()
	default:
		return nil
	}
	return &MalformedBallotError{Index: index, Ballot: b, Reason: reason}
}

// Accumulator is a running tally safe for concurrent use.
type Accumulator struct {
	mu      sync.RWMutex
	tallies model.Tallies
	ballots int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{tallies: make(model.Tallies)}
}

// Add folds one ballot into the tally.
func (a *Accumulator) Add(b model.Ballot) error {
	return a.add(-1, b)
}

func (a *Accumulator) add(index int, b model.Ballot) error {
	if err := validate(index, b); err != nil {
		return err
	}
	pair, swapped, _ := model.NewPair(b.ItemA, b.ItemB)
	outcome := b.Outcome
	if swapped {
		outcome = outcome.Flip()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tallies[pair]
	switch outcome {
	case model.OutcomeAWins:
		t.WinsFirst++
	case model.OutcomeBWins:
		t.WinsSecond++
	case model.OutcomeTie:
		t.Ties++
	}
	a.tallies[pair] = t
	a.ballots++
	return nil
}

// Merge adds every count of ts into the accumulator.
func (a *Accumulator) Merge(ts model.Tallies) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p, t := range ts {
		cur := a.tallies[p]
		cur.WinsFirst += t.WinsFirst
		cur.WinsSecond += t.WinsSecond
		cur.Ties += t.Ties
		a.tallies[p] = cur
		a.ballots += t.Total()
	}
}

// Snapshot returns a copy of the current tallies.
func (a *Accumulator) Snapshot() model.Tallies {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(model.Tallies, len(a.tallies))
	for p, t := range a.tallies {
		out[p] = t
	}
	return out
}

// Len returns the number of distinct pairs seen.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tallies)
}

// Ballots returns the number of ballots counted.
func (a *Accumulator) Ballots() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ballots
}

// Reset drops all counts.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tallies = make(model.Tallies)
	a.ballots = 0
}

// Drain returns the counts and resets the accumulator in one step, so a
// ballot added concurrently lands in exactly one drained batch.
func (a *Accumulator) Drain() model.Tallies {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.tallies
	a.tallies = make(model.Tallies)
	a.ballots = 0
	return out
}
