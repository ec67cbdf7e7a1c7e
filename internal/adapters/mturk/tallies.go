package mturk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/okian/duelrank/internal/domain/model"
)

var tallyHeader = []string{"row", "image1", "image2", "win1", "win2", "tie"}

// WriteTallies writes ts in canonical pair order with 1-based row numbers.
func WriteTallies(w io.Writer, ts model.Tallies) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tallyHeader); err != nil {
		return fmt.Errorf("writing tally header: %w", err)
	}
	for i, p := range ts.SortedPairs() {
		t := ts[p]
		if err := cw.Write([]string{
			strconv.Itoa(i + 1), string(p.First), string(p.Second),
			strconv.Itoa(t.WinsFirst), strconv.Itoa(t.WinsSecond), strconv.Itoa(t.Ties),
		}); err != nil {
			return fmt.Errorf("writing tally %s: %w", p, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTallies parses the tally format. Rows naming the same pair, in either
// order, are summed; win columns follow the row's image order.
func ReadTallies(r io.Reader) (model.Tallies, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading tally header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range tallyHeader[1:] {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	out := make(model.Tallies)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tally line %d: %w", line, err)
		}
		var counts [3]int
		for i, name := range []string{"win1", "win2", "tie"} {
			v, err := strconv.Atoi(strings.TrimSpace(rec[col[name]]))
			if err != nil || v < 0 {
				return nil, fmt.Errorf("line %d: bad %s %q", line, name, rec[col[name]])
			}
			counts[i] = v
		}
		p, swapped, err := model.NewPair(model.ItemID(strings.TrimSpace(rec[col["image1"]])), model.ItemID(strings.TrimSpace(rec[col["image2"]])))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if p.First == "" {
			return nil, fmt.Errorf("line %d: empty image", line)
		}
		if swapped {
			counts[0], counts[1] = counts[1], counts[0]
		}
		t := out[p]
		t.WinsFirst += counts[0]
		t.WinsSecond += counts[1]
		t.Ties += counts[2]
		out[p] = t
	}
}
