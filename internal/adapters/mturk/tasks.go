// Package mturk reads and writes the crowd-task CSV files: task sheets that
// list image pairs, result sheets with one answer per pair, and the
// row,image1,image2,win1,win2,tie tally format.
package mturk

import (
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/okian/duelrank/internal/domain/model"
)

// DefaultPairsPerRow is the number of pairs in one task.
const DefaultPairsPerRow = 10

// Layout describes how items map onto task and result columns.
type Layout struct {
	// PairsPerRow is the number of image pair columns per task row.
	PairsPerRow int
	// URLBase is prefixed to item ids in task sheets and stripped from
	// result cells.
	URLBase string
	// TrimExtension drops a file extension from result cells, turning
	// "ab12.jpg" into item "ab12".
	TrimExtension bool
}

// DefaultLayout returns the ten-pairs-per-task layout.
func DefaultLayout() Layout { return Layout{PairsPerRow: DefaultPairsPerRow} }

func (l Layout) pairs() int {
	if l.PairsPerRow <= 0 {
		return DefaultPairsPerRow
	}
	return l.PairsPerRow
}

func taskColumn(i, side int) string { return fmt.Sprintf("image_%d-%d", i, side) }

// WriteTasks renders one row per batch. Batches longer than PairsPerRow are
// rejected; shorter ones leave trailing cells empty.
func WriteTasks(w io.Writer, batches [][]model.Pair, layout Layout) error {
	n := layout.pairs()
	cw := csv.NewWriter(w)

	header := make([]string, 0, 2*n)
	for i := range n {
		header = append(header, taskColumn(i, 1), taskColumn(i, 2))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing task header: %w", err)
	}
	for b, batch := range batches {
		if len(batch) > n {
			return fmt.Errorf("batch %d has %d pairs, layout allows %d", b, len(batch), n)
		}
		row := make([]string, 2*n)
		for i, p := range batch {
			row[2*i] = layout.URLBase + string(p.First)
			row[2*i+1] = layout.URLBase + string(p.Second)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing batch %d: %w", b, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// itemFromCell turns a task cell back into an item id.
func (l Layout) itemFromCell(cell string) model.ItemID {
	name := strings.TrimPrefix(strings.TrimSpace(cell), l.URLBase)
	if l.TrimExtension {
		name = strings.TrimSuffix(name, path.Ext(name))
	}
	return model.ItemID(name)
}
