package mturk

import (
	"errors"
	"fmt"

	"github.com/okian/duelrank/internal/domain/tally"
)

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = errors.New("missing column")

// CellError reports one unusable answer cell. Parsing continues with the next
// pair; errors.Is(err, tally.ErrMalformedBallot) holds.
type CellError struct {
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
	Reason string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("%s: row %d column %s (%q): %s", tally.ErrMalformedBallot, e.Row, e.Column, e.Value, e.Reason)
}

func (e *CellError) Unwrap() error { return tally.ErrMalformedBallot }
