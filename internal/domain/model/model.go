// Package model contains domain models passed between layers.
package model

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownOutcome is returned when an outcome label cannot be parsed.
var ErrUnknownOutcome = errors.New("unknown outcome")

// ItemID is an opaque, stable item identifier (an image name or hash).
type ItemID string

// Pair is an unordered pair of distinct items stored in canonical order,
// First < Second.
type Pair struct {
	First  ItemID `json:"first"`
	Second ItemID `json:"second"`
}

// NewPair returns the canonical pair for a and b. swapped reports whether
// a was placed second.
func NewPair(a, b ItemID) (p Pair, swapped bool, err error) {
	if a == b {
		return Pair{}, false, fmt.Errorf("pair of identical items %q", a)
	}
	if b < a {
		return Pair{First: b, Second: a}, true, nil
	}
	return Pair{First: a, Second: b}, false, nil
}

// Has reports whether id is a member of p.
func (p Pair) Has(id ItemID) bool { return p.First == id || p.Second == id }

// Less orders pairs by First then Second.
func (p Pair) Less(o Pair) bool {
	if p.First != o.First {
		return p.First < o.First
	}
	return p.Second < o.Second
}

func (p Pair) String() string { return string(p.First) + "|" + string(p.Second) }

// SortItems sorts ids in place.
func SortItems(ids []ItemID) { slices.Sort(ids) }

// SortPairs sorts pairs in place in canonical order.
func SortPairs(pairs []Pair) {
	slices.SortFunc(pairs, func(a, b Pair) int {
		if c := cmp.Compare(a.First, b.First); c != 0 {
			return c
		}
		return cmp.Compare(a.Second, b.Second)
	})
}

// Outcome is the result of a single comparison from the voter's point of view.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAWins
	OutcomeBWins
	OutcomeTie
)

var outcomeNames = map[Outcome]string{
	OutcomeAWins: "A_WINS",
	OutcomeBWins: "B_WINS",
	OutcomeTie:   "TIE",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Valid reports whether o is one of the three known outcomes.
func (o Outcome) Valid() bool {
	_, ok := outcomeNames[o]
	return ok
}

// Flip returns the outcome as seen with the two items swapped.
func (o Outcome) Flip() Outcome {
	switch o {
	case OutcomeAWins:
		return OutcomeBWins
	case OutcomeBWins:
		return OutcomeAWins
	default:
		return o
	}
}

// ParseOutcome accepts A_WINS, B_WINS and TIE in any case, plus the short
// forms a, b and tie.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A_WINS", "A":
		return OutcomeAWins, nil
	case "B_WINS", "B":
		return OutcomeBWins, nil
	case "TIE", "DRAW":
		return OutcomeTie, nil
	}
	return OutcomeUnknown, fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOutcome, int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Ballot is one voter's verdict on one presented pair. ItemA and ItemB are
// in presentation order, not canonical order.
type Ballot struct {
	ID      string // idempotency key, optional for offline aggregation
	VoterID string // optional
	ItemA   ItemID
	ItemB   ItemID
	Outcome Outcome
}

// Tally counts outcomes for a canonical pair. WinsFirst counts wins of
// Pair.First regardless of the order the items were presented in.
type Tally struct {
	WinsFirst  int `json:"wins_first"`
	WinsSecond int `json:"wins_second"`
	Ties       int `json:"ties"`
}

// Total is the number of ballots folded into t.
func (t Tally) Total() int { return t.WinsFirst + t.WinsSecond + t.Ties }

// Tallies maps canonical pairs to their counts.
type Tallies map[Pair]Tally

// SortedPairs returns the keys of t in canonical order.
func (t Tallies) SortedPairs() []Pair {
	out := make([]Pair, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	SortPairs(out)
	return out
}

// Items returns every item that appears in t, in canonical pair order.
func (t Tallies) Items() []ItemID {
	seen := make(map[ItemID]struct{}, 2*len(t))
	var out []ItemID
	for _, p := range t.SortedPairs() {
		for _, id := range [2]ItemID{p.First, p.Second} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// Duel is a directed win of Winner over Loser.
type Duel struct {
	Winner ItemID
	Loser  ItemID
}
