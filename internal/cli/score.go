package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/adapters/mturk"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/tally"
	"github.com/okian/duelrank/pkg/logger"
)

type scoreOptions struct {
	layout      layoutFlags
	est         estimatorFlags
	talliesOut  string
	catalogPath string
	source      string
	dryRun      bool
	top         int
	asJSON      bool
}

func (a *app) scoreCmd() *cobra.Command {
	o := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score RESULTS.csv...",
		Short: "Score crowd result sheets",
		Long: `Reads one or more result sheets, counts the answers per pair and fits a
Bradley-Terry ranking. Scores are printed best first.

With a catalog the tallies and scores are stored under --source unless
--dry-run is set. Stored tallies add to the counts already kept for the
source, so scoring a sheet that was stored before counts it again. Ballots
repeated within one run, by AssignmentId and column, are counted once. --tallies-out writes the counts in the
row,image1,image2,win1,win2,tie format read by "duelrank estimate".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScore(cmd, args, o)
		},
	}
	o.layout.register(cmd)
	o.est.register(cmd)
	fs := cmd.Flags()
	fs.StringVar(&o.talliesOut, "tallies-out", "", "write pair tallies to this file")
	fs.StringVar(&o.catalogPath, "catalog", "", "SQLite catalog to store tallies and scores in (default from config)")
	fs.StringVar(&o.source, "source", "", "label for stored tallies and scores (default from config)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "do not write to the catalog")
	fs.IntVarP(&o.top, "top", "n", 0, "print only the best N items")
	fs.BoolVar(&o.asJSON, "json", false, "print scores as JSON")
	return cmd
}

func (a *app) runScore(cmd *cobra.Command, args []string, o *scoreOptions) error {
	ctx := cmd.Context()
	ballots, err := a.readResultSheets(ctx, cmd, args, a.layout(cmd, &o.layout))
	if err != nil {
		return err
	}
	ts, bad := tally.Aggregate(ballots)
	for _, e := range bad {
		a.log.Warn(ctx, "ballot not counted", logger.Error(e))
	}

	est, err := a.estimator(cmd, &o.est).Estimate(ctx, ts)
	switch {
	case errors.Is(err, scoring.ErrDidNotConverge):
		a.log.Warn(ctx, "fit did not converge; scores are low confidence", logger.Int("iterations", est.Iterations))
	case err != nil:
		return err
	}

	if o.talliesOut != "" {
		w, err := createOutput(cmd, o.talliesOut)
		if err != nil {
			return err
		}
		err = mturk.WriteTallies(w, ts)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write tallies: %w", err)
		}
	}

	if !o.dryRun {
		store, err := a.openCatalog(o.catalogPath)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			source := a.source(o.source)
			if err := store.SaveTallies(ctx, ts, source); err != nil {
				return fmt.Errorf("store tallies: %w", err)
			}
			if err := store.SaveScores(ctx, est.Scores, source); err != nil {
				return fmt.Errorf("store scores: %w", err)
			}
			a.log.Info(ctx, "stored in catalog", logger.String("path", store.Path()), logger.String("source", source))
		}
	}

	a.log.Info(ctx, "ranking computed",
		logger.Int("items", len(est.Items)),
		logger.Int("pairs", len(ts)),
		logger.Int("iterations", est.Iterations),
		logger.Bool("converged", est.Converged))
	return writeEntries(cmd.OutOrStdout(), rankEntries(est), o.top, o.asJSON)
}
