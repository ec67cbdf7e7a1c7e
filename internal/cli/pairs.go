package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/adapters/mturk"
	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/pkg/logger"
)

type pairsOptions struct {
	groupA      string
	groupB      string
	catalogPath string
	tag         string
	degree      int
	seed        int64
	batchSize   int
	maxRestarts int
	urlBase     string
	out         string
	asJSON      bool
}

func (a *app) pairsCmd() *cobra.Command {
	o := &pairsOptions{}
	cmd := &cobra.Command{
		Use:   "pairs [items-file]",
		Short: "Generate a comparison design and render it as task rows",
		Long: `Pairs every item with exactly --degree distinct partners and writes the
shuffled pairs as task rows of --batch-size pairs each.

Items come from a file with one id per line ("-" reads stdin), from the
catalog (optionally filtered by --tag), or from --group-a and --group-b files
for a design where every pair spans the two groups.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPairs(cmd, args, o)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.groupA, "group-a", "", "file with the first group for a cross design")
	fs.StringVar(&o.groupB, "group-b", "", "file with the second group for a cross design")
	fs.StringVar(&o.catalogPath, "catalog", "", "SQLite catalog to read items from and check ids against")
	fs.StringVar(&o.tag, "tag", "", "only pair catalog items with this tag")
	fs.IntVarP(&o.degree, "degree", "k", 0, "partners per item (default from config)")
	fs.Int64Var(&o.seed, "seed", 0, "random seed; 0 picks one from the clock")
	fs.IntVar(&o.batchSize, "batch-size", 0, "pairs per task row (default from config)")
	fs.IntVar(&o.maxRestarts, "max-restarts", 0, "fresh shuffles after a stuck attempt (default from config)")
	fs.StringVar(&o.urlBase, "url-base", "", "prefix for item cells (default from config)")
	fs.StringVarP(&o.out, "out", "o", "", "output file; stdout when empty")
	fs.BoolVar(&o.asJSON, "json", false, "write the plan as JSON instead of task rows")
	return cmd
}

func (a *app) runPairs(cmd *cobra.Command, args []string, o *pairsOptions) error {
	ctx := cmd.Context()
	fs := cmd.Flags()
	if !fs.Changed("degree") {
		o.degree = a.cfg.PairingDegree
	}
	if !fs.Changed("batch-size") {
		o.batchSize = a.cfg.BatchSize
	}
	if !fs.Changed("max-restarts") {
		o.maxRestarts = a.cfg.PairingMaxRestarts
	}
	if !fs.Changed("url-base") {
		o.urlBase = a.cfg.URLBase
	}
	if !fs.Changed("seed") {
		o.seed = int64(a.cfg.PairingSeed) //nolint:gosec // seeds wrap
	}
	if o.seed == 0 {
		o.seed = time.Now().UnixNano()
	}

	req, err := a.pairingInput(cmd, args, o)
	if err != nil {
		return err
	}

	store, err := a.openCatalog(o.catalogPath)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		if !req.Cross() && len(req.Items) == 0 {
			if o.tag != "" {
				req.Items, err = store.ItemsByTag(ctx, o.tag)
			} else {
				req.Items, err = store.Items(ctx)
			}
			if err != nil {
				return fmt.Errorf("list catalog items: %w", err)
			}
		} else if err := store.Resolve(ctx, req.IDs()); err != nil {
			return err
		}
	}
	if len(req.IDs()) == 0 {
		return errors.New("no items: pass an items file, --group-a/--group-b or --catalog")
	}

	gen := pairing.NewGenerator(
		pairing.WithSeed(o.seed),
		pairing.WithMaxRestarts(o.maxRestarts),
		pairing.WithLogger(a.log.Named("pairing")),
	)
	var asg pairing.Assignment
	if req.Cross() {
		asg, err = gen.GenerateCross(ctx, req.GroupA, req.GroupB, o.degree)
	} else {
		asg, err = gen.Generate(ctx, req.Items, o.degree)
	}
	if err != nil {
		return err
	}
	pairs := asg.Pairs()
	pairing.ShufflePairs(gen.Rand(), pairs)
	batches := pairing.Batch(pairs, o.batchSize)
	a.log.Info(ctx, "pairing generated",
		logger.Int("items", len(asg)),
		logger.Int("pairs", len(pairs)),
		logger.Int("batches", len(batches)),
		logger.Int("restarts", gen.Restarts()),
		logger.Int64("seed", o.seed))

	w, err := createOutput(cmd, o.out)
	if err != nil {
		return err
	}
	if o.asJSON {
		plan := types.Plan{
			ID:       uuid.NewString(),
			Degree:   o.degree,
			Items:    len(asg),
			Seed:     o.seed,
			Restarts: gen.Restarts(),
			Pairs:    pairs,
			Batches:  batches,
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(plan)
	} else {
		err = mturk.WriteTasks(w, batches, mturk.Layout{PairsPerRow: o.batchSize, URLBase: o.urlBase})
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) pairingInput(cmd *cobra.Command, args []string, o *pairsOptions) (types.PairingRequest, error) {
	var req types.PairingRequest
	if (o.groupA == "") != (o.groupB == "") {
		return req, errors.New("--group-a and --group-b go together")
	}
	if o.groupA != "" {
		if len(args) > 0 {
			return req, errors.New("an items file cannot be combined with groups")
		}
		var err error
		if req.GroupA, err = readItems(cmd, o.groupA); err != nil {
			return req, err
		}
		if req.GroupB, err = readItems(cmd, o.groupB); err != nil {
			return req, err
		}
		return req, nil
	}
	if len(args) == 1 {
		items, err := readItems(cmd, args[0])
		if err != nil {
			return req, err
		}
		req.Items = items
	}
	return req, nil
}
