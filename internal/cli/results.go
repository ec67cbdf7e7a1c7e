package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/duelrank/internal/adapters/mturk"
	"github.com/okian/duelrank/internal/domain/dedupe"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/pkg/logger"
)

// maxCellWarnings bounds how many bad cells are logged per run.
const maxCellWarnings = 10

type sheet struct {
	ballots []model.Ballot
	bad     []error
}

// readResultSheets parses every result sheet concurrently and returns the
// ballots in argument order, so the tallies do not depend on scheduling. A
// ballot id seen earlier in the same run is dropped, which covers a sheet
// passed twice or two downloads of one batch.
func (a *app) readResultSheets(ctx context.Context, cmd *cobra.Command, paths []string, layout mturk.Layout) ([]model.Ballot, error) {
	sheets := make([]sheet, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := openInput(cmd, path)
			if err != nil {
				return err
			}
			defer r.Close()
			ballots, bad, err := mturk.ReadBallots(r, layout)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			sheets[i] = sheet{ballots: ballots, bad: bad}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.Ballot
	skipped, repeated := 0, 0
	seen := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
	for i, s := range sheets {
		for _, b := range s.ballots {
			if b.ID != "" && seen.SeenAndRecord(ctx, b.ID) {
				repeated++
				continue
			}
			out = append(out, b)
		}
		for _, e := range s.bad {
			if skipped < maxCellWarnings {
				a.log.Warn(ctx, "skipping cell", logger.String("file", paths[i]), logger.Error(e))
			}
			skipped++
		}
	}
	a.log.Info(ctx, "result sheets read",
		logger.Int("files", len(paths)),
		logger.Int("ballots", len(out)),
		logger.Int("skipped", skipped),
		logger.Int("repeated", repeated))
	return out, nil
}
