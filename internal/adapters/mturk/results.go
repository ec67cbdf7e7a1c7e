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

const (
	colWorker     = "WorkerId"
	colAssignment = "AssignmentId"
)

func inputColumn(i, side int) string { return "Input." + taskColumn(i, side) }

func answerColumn(i int) string { return fmt.Sprintf("Answer.choice%d", i) }

// ParseAnswer maps a result cell to an outcome: -1 means the first image
// won, 0 a tie and 1 the second image.
func ParseAnswer(cell string) (model.Outcome, error) {
	v, err := strconv.Atoi(strings.TrimSpace(cell))
	if err != nil {
		return model.OutcomeUnknown, fmt.Errorf("not an integer: %w", err)
	}
	switch v {
	case -1:
		return model.OutcomeAWins, nil
	case 0:
		return model.OutcomeTie, nil
	case 1:
		return model.OutcomeBWins, nil
	}
	return model.OutcomeUnknown, fmt.Errorf("answer %d outside -1..1", v)
}

// ReadBallots parses a result sheet into one ballot per answered pair, in
// file order. Unusable cells are returned as *CellError values and skipped.
// The final error is non-nil only when the sheet itself cannot be read.
func ReadBallots(r io.Reader, layout Layout) ([]model.Ballot, []error, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading result header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	n := layout.pairs()
	required := []string{colAssignment}
	for i := range n {
		required = append(required, inputColumn(i, 1), inputColumn(i, 2), answerColumn(i))
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	worker, hasWorker := col[colWorker]

	var (
		ballots []model.Ballot
		bad     []error
	)
	for rowNum := 1; ; rowNum++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ballots, bad, fmt.Errorf("reading result row %d: %w", rowNum, err)
		}
		cell := func(name string) string {
			if i := col[name]; i < len(rec) {
				return rec[i]
			}
			return ""
		}
		assignment := strings.TrimSpace(cell(colAssignment))
		voter := ""
		if hasWorker && worker < len(rec) {
			voter = strings.TrimSpace(rec[worker])
		}

		for i := range n {
			a, b := cell(inputColumn(i, 1)), cell(inputColumn(i, 2))
			if strings.TrimSpace(a) == "" && strings.TrimSpace(b) == "" {
				continue
			}
			answer := cell(answerColumn(i))
			outcome, err := ParseAnswer(answer)
			if err != nil {
				bad = append(bad, &CellError{Row: rowNum, Column: answerColumn(i), Value: answer, Reason: err.Error()})
				continue
			}
			itemA, itemB := layout.itemFromCell(a), layout.itemFromCell(b)
			if itemA == "" || itemB == "" {
				bad = append(bad, &CellError{Row: rowNum, Column: inputColumn(i, 1), Value: a + "|" + b, Reason: "missing image"})
				continue
			}
			ballot := model.Ballot{VoterID: voter, ItemA: itemA, ItemB: itemB, Outcome: outcome}
			if assignment != "" {
				ballot.ID = assignment + "/" + strconv.Itoa(i)
			}
			ballots = append(ballots, ballot)
		}
	}
	return ballots, bad, nil
}
