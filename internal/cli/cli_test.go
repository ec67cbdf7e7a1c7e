package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/duelrank/internal/adapters/catalog"
	"github.com/okian/duelrank/internal/domain/model"
	"github.com/okian/duelrank/internal/domain/pairing"
	"github.com/okian/duelrank/internal/domain/types"
	"github.com/okian/duelrank/internal/simulate"
)

// run executes the command tree with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DUELRANK_CONFIG", "")
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// triangleSheet holds one answer per row: a beats b, b beats c, a beats c,
// each three times, from three workers.
func triangleSheet(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("AssignmentId,WorkerId,Input.image_0-1,Input.image_0-2,Answer.choice0\n")
	rows := [][3]string{{"a", "b", "-1"}, {"c", "b", "1"}, {"a", "c", "-1"}}
	for i, r := range rows {
		for w := 0; w < 3; w++ {
			b.WriteString(strings.Join([]string{
				"as" + string(rune('0'+i)) + string(rune('0'+w)),
				"w" + string(rune('0'+w)),
				"http://img/" + r[0] + ".jpg",
				"http://img/" + r[1] + ".jpg",
				r[2],
			}, ","))
			b.WriteByte('\n')
		}
	}
	return writeFile(t, "results.csv", b.String())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"pairs", "score", "estimate", "dedupe", "divergence", "simulate"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestPairsCmd(t *testing.T) {
	items := writeFile(t, "items.txt", "# pool\na\nb\nc\n\nd\ne\nf\n")

	t.Run("json plan has the requested degree", func(t *testing.T) {
		out, err := run(t, "pairs", items, "-k", "2", "--seed", "7", "--batch-size", "3", "--json")
		require.NoError(t, err)

		var plan types.Plan
		require.NoError(t, json.Unmarshal([]byte(out), &plan))
		assert.NotEmpty(t, plan.ID)
		assert.Equal(t, 6, plan.Items)
		assert.Len(t, plan.Pairs, 6)
		assert.Len(t, plan.Batches, 2)
		assert.Equal(t, int64(7), plan.Seed)

		deg := map[model.ItemID]int{}
		for _, p := range plan.Pairs {
			assert.NotEqual(t, p.First, p.Second)
			deg[p.First]++
			deg[p.Second]++
		}
		for _, id := range []model.ItemID{"a", "b", "c", "d", "e", "f"} {
			assert.Equal(t, 2, deg[id], "degree of %s", id)
		}

		again, err := run(t, "pairs", items, "-k", "2", "--seed", "7", "--batch-size", "3", "--json")
		require.NoError(t, err)
		var plan2 types.Plan
		require.NoError(t, json.Unmarshal([]byte(again), &plan2))
		assert.Equal(t, plan.Pairs, plan2.Pairs)
	})

	t.Run("task rows carry the url base", func(t *testing.T) {
		out, err := run(t, "pairs", items, "-k", "2", "--seed", "7", "--batch-size", "3", "--url-base", "http://img/")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "image_0-1,image_0-2,image_1-1,image_1-2,image_2-1,image_2-2", lines[0])
		assert.Equal(t, 6, strings.Count(lines[1], "http://img/"))
	})

	t.Run("infeasible design fails", func(t *testing.T) {
		odd := writeFile(t, "odd.txt", "a\nb\nc\n")
		_, err := run(t, "pairs", odd, "-k", "1", "--seed", "1")
		assert.ErrorIs(t, err, pairing.ErrPairingInfeasible)
	})

	t.Run("cross design spans the groups", func(t *testing.T) {
		ga := writeFile(t, "a.txt", "a1\na2\n")
		gb := writeFile(t, "b.txt", "b1\nb2\n")
		out, err := run(t, "pairs", "--group-a", ga, "--group-b", gb, "-k", "2", "--seed", "3", "--json")
		require.NoError(t, err)
		var plan types.Plan
		require.NoError(t, json.Unmarshal([]byte(out), &plan))
		assert.Len(t, plan.Pairs, 4)
		for _, p := range plan.Pairs {
			assert.True(t, strings.HasPrefix(string(p.First), "a"))
			assert.True(t, strings.HasPrefix(string(p.Second), "b"))
		}
	})

	t.Run("groups need each other", func(t *testing.T) {
		ga := writeFile(t, "a.txt", "a1\n")
		_, err := run(t, "pairs", "--group-a", ga)
		assert.Error(t, err)
	})

	t.Run("items are checked against the catalog", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "catalog.db")
		store, err := catalog.Open(db)
		require.NoError(t, err)
		for _, id := range []model.ItemID{"a", "b"} {
			require.NoError(t, store.UpsertItem(t.Context(), catalog.Item{ID: id, Origin: catalog.OriginTest}))
		}
		require.NoError(t, store.Close())

		_, err = run(t, "pairs", items, "-k", "2", "--catalog", db)
		assert.ErrorIs(t, err, catalog.ErrUnknownItem)
	})
}

func TestScoreCmd(t *testing.T) {
	sheet := triangleSheet(t)
	talliesOut := filepath.Join(t.TempDir(), "tallies.csv")

	out, err := run(t, "score", sheet, "--url-base", "http://img/", "--trim-ext", "--pairs-per-row", "1",
		"--tallies-out", talliesOut, "--json", "--dry-run")
	require.NoError(t, err)

	var entries []types.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ItemID)
	assert.Equal(t, 1.0, entries[0].Score)
	assert.Equal(t, "b", entries[1].ItemID)
	assert.Equal(t, "c", entries[2].ItemID)
	assert.Equal(t, 0.0, entries[2].Score)

	t.Run("tallies round trip through estimate", func(t *testing.T) {
		out, err := run(t, "estimate", talliesOut, "--json")
		require.NoError(t, err)
		var again []types.Entry
		require.NoError(t, json.Unmarshal([]byte(out), &again))
		assert.Equal(t, entries, again)
	})

	t.Run("scores are stored in the catalog", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "catalog.db")
		store, err := catalog.Open(db)
		require.NoError(t, err)
		for _, id := range []model.ItemID{"a", "b", "c"} {
			require.NoError(t, store.UpsertItem(t.Context(), catalog.Item{ID: id, Origin: catalog.OriginTest}))
		}
		require.NoError(t, store.Close())

		_, err = run(t, "score", sheet, "--url-base", "http://img/", "--trim-ext", "--pairs-per-row", "1",
			"--catalog", db, "--source", "crowd")
		require.NoError(t, err)

		out, err := run(t, "estimate", "--catalog", db, "--source", "crowd", "--top", "1", "--json")
		require.NoError(t, err)
		var top []types.Entry
		require.NoError(t, json.Unmarshal([]byte(out), &top))
		require.Len(t, top, 1)
		assert.Equal(t, "a", top[0].ItemID)
	})

	t.Run("a sheet passed twice is counted once", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "catalog.db")
		store, err := catalog.Open(db)
		require.NoError(t, err)
		for _, id := range []model.ItemID{"a", "b", "c"} {
			require.NoError(t, store.UpsertItem(t.Context(), catalog.Item{ID: id, Origin: catalog.OriginTest}))
		}
		require.NoError(t, store.Close())

		twiceOut := filepath.Join(t.TempDir(), "twice.csv")
		_, err = run(t, "score", sheet, sheet, "--url-base", "http://img/", "--trim-ext", "--pairs-per-row", "1",
			"--tallies-out", twiceOut, "--catalog", db, "--source", "crowd")
		require.NoError(t, err)

		once, err := os.ReadFile(talliesOut)
		require.NoError(t, err)
		twice, err := os.ReadFile(twiceOut)
		require.NoError(t, err)
		assert.Equal(t, string(once), string(twice))

		store, err = catalog.Open(db)
		require.NoError(t, err)
		defer store.Close()
		stored, err := store.LoadTallies(t.Context(), "crowd")
		require.NoError(t, err)
		require.Len(t, stored, 3)
		for p, tl := range stored {
			assert.Equal(t, 3, tl.Total(), p.String())
		}
	})

	t.Run("missing sheet fails", func(t *testing.T) {
		_, err := run(t, "score", filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})
}

func TestEstimateCmd_NoInput(t *testing.T) {
	_, err := run(t, "estimate")
	assert.Error(t, err)
}

func TestDedupeCmd(t *testing.T) {
	candidates := writeFile(t, "candidates.csv", "item_id,hash\na,0000\nb,0001\nc,1111\n")
	removedOut := filepath.Join(t.TempDir(), "removed.txt")

	out, err := run(t, "dedupe", candidates, "--removed-out", removedOut)
	require.NoError(t, err)
	assert.Equal(t, "a\nc\n", out)

	removed, err := os.ReadFile(removedOut)
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(removed))

	t.Run("hash length mismatch fails", func(t *testing.T) {
		bad := writeFile(t, "bad.csv", "a,00\nb,000\n")
		_, err := run(t, "dedupe", bad)
		assert.Error(t, err)
	})
}

func TestDivergenceCmd(t *testing.T) {
	var b strings.Builder
	b.WriteString("AssignmentId,WorkerId,Input.image_0-1,Input.image_0-2,Answer.choice0\n")
	b.WriteString("x1,honest1,a,b,-1\n")
	b.WriteString("x2,honest2,a,b,-1\n")
	b.WriteString("x3,contrarian,a,b,1\n")
	sheet := writeFile(t, "results.csv", b.String())

	out, err := run(t, "divergence", sheet, "--pairs-per-row", "1", "--json")
	require.NoError(t, err)

	var rows []struct {
		VoterID string  `json:"voter_id"`
		Share   float64 `json:"share"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "contrarian", rows[0].VoterID)
	assert.Equal(t, 1.0, rows[0].Share)
	assert.Equal(t, 0.0, rows[2].Share)
}

func TestSimulateCmd(t *testing.T) {
	out, err := run(t, "simulate", "--items", "40", "-k", "6", "--voters", "5", "--seed", "9", "--min-correlation", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "spearman")
	assert.Regexp(t, `pairs\s+120\n`, out)

	_, err = run(t, "simulate", "--items", "1")
	assert.ErrorIs(t, err, simulate.ErrInvalidConfig)
}
