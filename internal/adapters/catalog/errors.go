package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/duelrank/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrUnknownItem  = errors.New("unknown item")
	ErrInvalidItem  = errors.New("invalid item")
	ErrInvalidScore = errors.New("invalid score")
)

// UnknownItemError lists identifiers that are not in the catalog.
type UnknownItemError struct {
	IDs []model.ItemID
}

func (e *UnknownItemError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = string(id)
	}
	const show = 5
	if len(ids) > show {
		return fmt.Sprintf("%s: %s and %d more", ErrUnknownItem, strings.Join(ids[:show], ", "), len(ids)-show)
	}
	return fmt.Sprintf("%s: %s", ErrUnknownItem, strings.Join(ids, ", "))
}

func (e *UnknownItemError) Unwrap() error { return ErrUnknownItem }
