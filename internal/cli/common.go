package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/adapters/catalog"
	"github.com/okian/duelrank/internal/adapters/mturk"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/internal/domain/types"
)

// estimatorFlags are the fitting knobs shared by score and estimate.
type estimatorFlags struct {
	maxIterations int
	tolerance     float64
	prior         float64
	winMult       int
	tieMult       int
}

func (f *estimatorFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.maxIterations, "max-iterations", 0, "iteration cap for the fit (default from config)")
	fs.Float64Var(&f.tolerance, "tolerance", 0, "convergence threshold on log-strength change (default from config)")
	fs.Float64Var(&f.prior, "prior", 0, "pseudo-count per observed pair and direction (default from config)")
	fs.IntVar(&f.winMult, "win-multiplicity", 0, "duels per win (default from config)")
	fs.IntVar(&f.tieMult, "tie-multiplicity", 0, "duels each way per tie (default from config)")
}

func (a *app) estimator(cmd *cobra.Command, f *estimatorFlags) *scoring.Estimator {
	fs := cmd.Flags()
	pick := func(name string, flag, cfg int) int {
		if fs.Changed(name) {
			return flag
		}
		return cfg
	}
	pickF := func(name string, flag, cfg float64) float64 {
		if fs.Changed(name) {
			return flag
		}
		return cfg
	}
	return scoring.NewEstimator(
		scoring.WithMaxIterations(pick("max-iterations", f.maxIterations, a.cfg.EstimatorMaxIterations)),
		scoring.WithTolerance(pickF("tolerance", f.tolerance, a.cfg.EstimatorTolerance)),
		scoring.WithPrior(pickF("prior", f.prior, a.cfg.EstimatorPrior)),
		scoring.WithPolicy(scoring.Policy{
			WinMultiplicity: pick("win-multiplicity", f.winMult, a.cfg.WinMultiplicity),
			TieMultiplicity: pick("tie-multiplicity", f.tieMult, a.cfg.TieMultiplicity),
		}),
		scoring.WithLogger(a.log.Named("estimator")),
	)
}

// layoutFlags describe the result sheet columns.
type layoutFlags struct {
	pairsPerRow int
	urlBase     string
	trimExt     bool
}

func (f *layoutFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.pairsPerRow, "pairs-per-row", mturk.DefaultPairsPerRow, "image pairs per task row")
	fs.StringVar(&f.urlBase, "url-base", "", "prefix stripped from item cells (default from config)")
	fs.BoolVar(&f.trimExt, "trim-ext", false, "drop file extensions from item cells")
}

func (a *app) layout(cmd *cobra.Command, f *layoutFlags) mturk.Layout {
	base := a.cfg.URLBase
	if cmd.Flags().Changed("url-base") {
		base = f.urlBase
	}
	return mturk.Layout{PairsPerRow: f.pairsPerRow, URLBase: base, TrimExtension: f.trimExt}
}

// openCatalog opens the catalog at path, falling back to the configured one.
// It returns nil when neither names a file.
func (a *app) openCatalog(path string) (*catalog.Store, error) {
	if path == "" {
		path = a.cfg.CatalogPath
	}
	if path == "" {
		return nil, nil
	}
	store, err := catalog.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return store, nil
}

func (a *app) source(flag string) string {
	if flag != "" {
		return flag
	}
	return a.cfg.CatalogSource
}

// openInput opens path for reading; "-" is stdin.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// createOutput opens path for writing; "" or "-" is stdout.
func createOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// readItems reads one item id per line, skipping blanks and # comments.
func readItems(cmd *cobra.Command, path string) ([]model.ItemID, error) {
	r, err := openInput(cmd, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []model.ItemID
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, model.ItemID(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// rankEntries orders scores best first; equal scores fall back to item id.
func rankEntries(est scoring.Estimate) []types.Entry {
	out := make([]types.Entry, 0, len(est.Items))
	for _, id := range est.Items {
		out = append(out, types.Entry{ItemID: string(id), Score: est.Scores[id], Strength: est.Strengths[id]})
	}
	slices.SortFunc(out, func(x, y types.Entry) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return strings.Compare(x.ItemID, y.ItemID)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func writeEntries(w io.Writer, entries []types.Entry, top int, asJSON bool) error {
	if top > 0 && top < len(entries) {
		entries = entries[:top]
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tITEM\tSCORE\tSTRENGTH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\n", e.Rank, e.ItemID, e.Score, e.Strength)
	}
	return tw.Flush()
}
