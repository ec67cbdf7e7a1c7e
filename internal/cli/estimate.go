package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/adapters/mturk"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/pkg/logger"
)

type estimateOptions struct {
	est         estimatorFlags
	catalogPath string
	source      string
	top         int
	asJSON      bool
}

func (a *app) estimateCmd() *cobra.Command {
	o := &estimateOptions{}
	cmd := &cobra.Command{
		Use:   "estimate [TALLIES.csv]",
		Short: "Fit a ranking from pair tallies",
		Long: `Fits a Bradley-Terry ranking from tallies in the
row,image1,image2,win1,win2,tie format ("-" reads stdin), or from the
tallies stored in the catalog under --source when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEstimate(cmd, args, o)
		},
	}
	o.est.register(cmd)
	fs := cmd.Flags()
	fs.StringVar(&o.catalogPath, "catalog", "", "SQLite catalog to load tallies from (default from config)")
	fs.StringVar(&o.source, "source", "", "catalog source to load (default from config)")
	fs.IntVarP(&o.top, "top", "n", 0, "print only the best N items")
	fs.BoolVar(&o.asJSON, "json", false, "print scores as JSON")
	return cmd
}

func (a *app) runEstimate(cmd *cobra.Command, args []string, o *estimateOptions) error {
	ctx := cmd.Context()
	var ts model.Tallies
	if len(args) == 1 {
		r, err := openInput(cmd, args[0])
		if err != nil {
			return err
		}
		ts, err = mturk.ReadTallies(r)
		r.Close()
		if err != nil {
			return fmt.Errorf("read tallies: %w", err)
		}
	} else {
		store, err := a.openCatalog(o.catalogPath)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("no input: pass a tallies file or --catalog")
		}
		defer store.Close()
		if ts, err = store.LoadTallies(ctx, a.source(o.source)); err != nil {
			return fmt.Errorf("load tallies: %w", err)
		}
	}

	est, err := a.estimator(cmd, &o.est).Estimate(ctx, ts)
	switch {
	case errors.Is(err, scoring.ErrDidNotConverge):
		a.log.Warn(ctx, "fit did not converge; scores are low confidence", logger.Int("iterations", est.Iterations))
	case err != nil:
		return err
	}
	return writeEntries(cmd.OutOrStdout(), rankEntries(est), o.top, o.asJSON)
}
