package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/duelrank/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrEmptyInput           = errors.New("empty input")
	ErrRankingIndeterminate = errors.New("ranking indeterminate")
	ErrDidNotConverge       = errors.New("estimation did not converge")
)

// IndeterminateError reports a comparison graph that splits into several
// components, so strengths in different components cannot be compared.
type IndeterminateError struct {
	Components int
	// Representatives holds one item per component, in index order.
	Representatives []model.ItemID
}

func (e *IndeterminateError) Error() string {
	ids := make([]string, len(e.Representatives))
	for i, id := range e.Representatives {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%s: comparison graph has %d components (e.g. %s)",
		ErrRankingIndeterminate, e.Components, strings.Join(ids, ", "))
}

func (e *IndeterminateError) Unwrap() error { return ErrRankingIndeterminate }
