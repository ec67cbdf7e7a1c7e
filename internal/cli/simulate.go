package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/simulate"
)

type simulateOptions struct {
	cfg    simulate.Config
	est    estimatorFlags
	verify  bool
	target  string
	timeout time.Duration
}

func (a *app) simulateCmd() *cobra.Command {
	o := &simulateOptions{cfg: simulate.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated crowd and check the ranking recovers the latent order",
		Long: `Draws latent item qualities, generates a pairing, lets simulated voters
answer every pair under a Bradley-Terry model with a tie band, and fits a
ranking from the ballots. The recovered order is compared with the latent one
by Spearman correlation; --verify fails the run below --min-correlation.

With --target the ballots are also posted to a running server, which is then
asked to publish a ranking; its leaderboard is verified the same way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSimulate(cmd, o)
		},
	}
	o.est.register(cmd)
	fs := cmd.Flags()
	fs.IntVar(&o.cfg.Items, "items", o.cfg.Items, "number of items")
	fs.IntVarP(&o.cfg.Degree, "degree", "k", o.cfg.Degree, "partners per item")
	fs.IntVar(&o.cfg.Voters, "voters", o.cfg.Voters, "votes per pair")
	fs.Float64Var(&o.cfg.TieBand, "tie-band", o.cfg.TieBand, "probability width around even odds answered as a tie")
	fs.Int64Var(&o.cfg.Seed, "seed", 0, "random seed; 0 picks one from the clock")
	fs.IntVar(&o.cfg.Workers, "workers", o.cfg.Workers, "concurrent voting workers")
	fs.Float64Var(&o.cfg.MinCorrelation, "min-correlation", o.cfg.MinCorrelation, "Spearman correlation --verify requires")
	fs.BoolVar(&o.verify, "verify", true, "fail when the recovered order is too far from the latent one")
	fs.StringVar(&o.target, "target", "", "base URL of a running server to replay the ballots against")
	fs.DurationVar(&o.timeout, "timeout", simulate.DefaultRemoteTimeout, "per-request timeout for --target")
	return cmd
}

func (a *app) runSimulate(cmd *cobra.Command, o *simulateOptions) error {
	res, err := simulate.Run(cmd.Context(), o.cfg,
		simulate.WithEstimator(a.estimator(cmd, &o.est)),
		simulate.WithLogger(a.log.Named("simulate")),
	)
	if err != nil {
		return err
	}

	st := res.Stats
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "items\t%d\n", st.Items)
	fmt.Fprintf(tw, "pairs\t%d\n", st.Pairs)
	fmt.Fprintf(tw, "ballots\t%d\n", st.Ballots)
	fmt.Fprintf(tw, "ties\t%d\n", st.Ties)
	fmt.Fprintf(tw, "restarts\t%d\n", st.Restarts)
	fmt.Fprintf(tw, "iterations\t%d\n", st.Iterations)
	fmt.Fprintf(tw, "converged\t%t\n", st.Converged)
	fmt.Fprintf(tw, "spearman\t%.4f\n", st.Spearman)
	fmt.Fprintf(tw, "top recovered\t%t\n", st.TopRecovered)
	fmt.Fprintf(tw, "duration\t%s\n", st.Duration)
	if err := tw.Flush(); err != nil {
		return err
	}

	if o.verify {
		if err := simulate.Verify(res, o.cfg.MinCorrelation); err != nil {
			return err
		}
	}
	if o.target == "" {
		return nil
	}
	return a.replay(cmd, o, res)
}

func (a *app) replay(cmd *cobra.Command, o *simulateOptions, res *simulate.Result) error {
	remote, err := simulate.NewRemote(o.target, o.cfg.Workers, o.timeout, a.log.Named("remote"))
	if err != nil {
		return err
	}
	rs, err := remote.Replay(cmd.Context(), res)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "remote accepted\t%d\n", rs.Accepted)
	fmt.Fprintf(tw, "remote duplicates\t%d\n", rs.Duplicates)
	fmt.Fprintf(tw, "remote ranked\t%d\n", rs.Ranking.Items)
	fmt.Fprintf(tw, "remote spearman\t%.4f\n", rs.Spearman)
	if err := tw.Flush(); err != nil {
		return err
	}

	if o.verify && rs.Spearman < o.cfg.MinCorrelation {
		return fmt.Errorf("%w: remote spearman %.3f < %.3f", simulate.ErrPoorRecovery, rs.Spearman, o.cfg.MinCorrelation)
	}
	return nil
}
