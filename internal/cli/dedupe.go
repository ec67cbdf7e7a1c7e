package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/adapters/catalog"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/neardup"
	"github.com/okian/duelrank/pkg/logger"
)

type dedupeOptions struct {
	catalogPath string
	tag         string
	threshold   float64
	sample      int
	seed        int64
	out         string
	removedOut  string
}

func (a *app) dedupeCmd() *cobra.Command {
	o := &dedupeOptions{}
	cmd := &cobra.Command{
		Use:   "dedupe [CANDIDATES.csv]",
		Short: "Drop near-duplicate items before pairing",
		Long: `Reads item_id,hash rows ("-" reads stdin) or catalog items with a hash and
keeps items in input order unless their hash is more than --threshold percent
similar to an item already kept. Kept ids are written one per line, ready for
"duelrank pairs".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDedupe(cmd, args, o)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.catalogPath, "catalog", "", "SQLite catalog to read hashes from")
	fs.StringVar(&o.tag, "tag", "", "only consider catalog items with this tag")
	fs.Float64Var(&o.threshold, "threshold", neardup.DefaultThreshold, "similarity percentage above which items are duplicates")
	fs.IntVar(&o.sample, "sample", -1, "shuffle the candidates and keep at most N before filtering; -1 keeps all in order")
	fs.Int64Var(&o.seed, "seed", 0, "random seed for --sample; 0 picks one from the clock")
	fs.StringVarP(&o.out, "out", "o", "", "file for kept ids; stdout when empty")
	fs.StringVar(&o.removedOut, "removed-out", "", "file for removed ids")
	return cmd
}

func (a *app) runDedupe(cmd *cobra.Command, args []string, o *dedupeOptions) error {
	ctx := cmd.Context()
	var (
		candidates []neardup.Candidate
		err        error
	)
	switch {
	case len(args) == 1:
		candidates, err = readCandidates(cmd, args[0])
	case o.catalogPath != "":
		candidates, err = a.catalogCandidates(cmd, o)
	default:
		err = errors.New("no input: pass a candidates file or --catalog")
	}
	if err != nil {
		return err
	}

	if o.sample >= 0 {
		seed := o.seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		candidates = neardup.Sample(rand.New(rand.NewSource(seed)), candidates, o.sample) //nolint:gosec // sampling, not crypto
	}

	kept, removed, err := neardup.Filter(candidates, o.threshold)
	if err != nil {
		return err
	}
	a.log.Info(ctx, "near duplicates filtered",
		logger.Int("candidates", len(candidates)),
		logger.Int("kept", len(kept)),
		logger.Int("removed", len(removed)),
		logger.Float64("threshold", o.threshold))

	if err := writeIDs(cmd, o.out, kept); err != nil {
		return err
	}
	if o.removedOut != "" {
		return writeIDs(cmd, o.removedOut, removed)
	}
	return nil
}

func (a *app) catalogCandidates(cmd *cobra.Command, o *dedupeOptions) ([]neardup.Candidate, error) {
	ctx := cmd.Context()
	store, err := catalog.Open(o.catalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	var ids []model.ItemID
	if o.tag != "" {
		ids, err = store.ItemsByTag(ctx, o.tag)
	} else {
		ids, err = store.Items(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	out := make([]neardup.Candidate, 0, len(ids))
	for _, id := range ids {
		item, err := store.Item(ctx, id)
		if err != nil {
			return nil, err
		}
		if item.Hash == "" {
			a.log.Debug(ctx, "item has no hash", logger.String("item", string(id)))
			continue
		}
		out = append(out, neardup.Candidate{ID: id, Hash: item.Hash})
	}
	return out, nil
}

// readCandidates parses item_id,hash rows. A header row is skipped.
func readCandidates(cmd *cobra.Command, path string) ([]neardup.Candidate, error) {
	r, err := openInput(cmd, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	var out []neardup.Candidate
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "item_id") {
			continue
		}
		out = append(out, neardup.Candidate{ID: model.ItemID(rec[0]), Hash: rec[1]})
	}
}

func writeIDs(cmd *cobra.Command, path string, cs []neardup.Candidate) error {
	w, err := createOutput(cmd, path)
	if err != nil {
		return err
	}
	for _, c := range cs {
		if _, err = fmt.Fprintln(w, c.ID); err != nil {
			break
		}
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}
