package tally

import (
	"errors"
	"fmt"

	"github.com/okian/duelrank/internal/domain/model"
)

// ErrMalformedBallot marks a ballot that cannot be counted.
var ErrMalformedBallot = errors.New("malformed ballot")

// MalformedBallotError reports one rejected ballot. Index is the ballot's
// position in the input, or -1 for ballots added one at a time.
type MalformedBallotError struct {
	Index  int
	Ballot model.Ballot
	Reason string
}

func (e *MalformedBallotError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s #%d (%q vs %q): %s", ErrMalformedBallot, e.Index, e.Ballot.ItemA, e.Ballot.ItemB, e.Reason)
	}
	return fmt.Sprintf("%s (%q vs %q): %s", ErrMalformedBallot, e.Ballot.ItemA, e.Ballot.ItemB, e.Reason)
}

func (e *MalformedBallotError) Unwrap() error { return ErrMalformedBallot }
