package pairing

import (
	"errors"
	"fmt"

	"github.com/okian/duelrank/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrPairingInfeasible = errors.New("pairing infeasible")
	ErrInvalidAssignment = errors.New("invalid assignment")
)

// InfeasibleError describes why no k-regular assignment was produced.
type InfeasibleError struct {
	Items    int
	Degree   int
	Reason   string
	Item     model.ItemID // item that could not be completed, if any
	Partners int          // partners Item had when the last attempt stopped
	Attempts int
}

func (e *InfeasibleError) Error() string {
	msg := fmt.Sprintf("%s: n=%d k=%d: %s", ErrPairingInfeasible, e.Items, e.Degree, e.Reason)
	if e.Item != "" {
		msg += fmt.Sprintf(" (item %q stuck at %d/%d partners after %d attempts)", e.Item, e.Partners, e.Degree, e.Attempts)
	}
	return msg
}

func (e *InfeasibleError) Unwrap() error { return ErrPairingInfeasible }

func infeasible(n, k int, format string, args ...any) *InfeasibleError {
	return &InfeasibleError{Items: n, Degree: k, Reason: fmt.Sprintf(format, args...)}
}
