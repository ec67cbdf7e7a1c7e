package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/domain/tally"
)

type divergenceOptions struct {
	layout   layoutFlags
	minVotes int
	top      int
	asJSON   bool
}

func (a *app) divergenceCmd() *cobra.Command {
	o := &divergenceOptions{}
	cmd := &cobra.Command{
		Use:   "divergence RESULTS.csv...",
		Short: "Report how often each voter disagrees with the majority",
		Long: `For every voter, counts the votes that differ from the modal answer on the
same pair. Voters are listed most divergent first; a high share often flags
careless or adversarial work.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDivergence(cmd, args, o)
		},
	}
	o.layout.register(cmd)
	fs := cmd.Flags()
	fs.IntVar(&o.minVotes, "min-votes", 1, "only report voters with at least this many votes")
	fs.IntVarP(&o.top, "top", "n", 0, "print only the N most divergent voters")
	fs.BoolVar(&o.asJSON, "json", false, "print as JSON")
	return cmd
}

type divergenceRow struct {
	VoterID   string  `json:"voter_id"`
	Votes     int     `json:"votes"`
	Divergent int     `json:"divergent"`
	Share     float64 `json:"share"`
}

func (a *app) runDivergence(cmd *cobra.Command, args []string, o *divergenceOptions) error {
	ballots, err := a.readResultSheets(cmd.Context(), cmd, args, a.layout(cmd, &o.layout))
	if err != nil {
		return err
	}
	rows := make([]divergenceRow, 0)
	for _, d := range tally.Divergence(ballots) {
		if d.Votes < o.minVotes {
			continue
		}
		rows = append(rows, divergenceRow(d))
	}
	if o.top > 0 && o.top < len(rows) {
		rows = rows[:o.top]
	}

	w := cmd.OutOrStdout()
	if o.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VOTER\tVOTES\tDIVERGENT\tSHARE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\n", r.VoterID, r.Votes, r.Divergent, r.Share)
	}
	return tw.Flush()
}
