// Package catalog persists items, their tags, pairwise tallies and published
// scores in a SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/okian/duelrank/internal/adapters/catalog/migrations"
	"github.com/okian/duelrank/internal/domain/model"
)

// resolveChunk bounds the number of bind variables per IN query.
const resolveChunk = 500

// Origin says where an item's bytes live.
type Origin string

// Known origins.
const (
	OriginLocal  Origin = "local"
	OriginOnline Origin = "online"
	OriginTest   Origin = "test"
)

// Item is one catalog entry.
type Item struct {
	ID        model.ItemID
	Name      string
	Source    string
	Origin    Origin
	URL       string
	Hash      string
	Position  *int
	CreatedAt time.Time
	Tags      []string
}

// Label is a published score for an item from one source.
type Label struct {
	ItemID    model.ItemID
	Source    string
	Value     float64
	CreatedAt time.Time
}

// Store is the SQLite-backed catalog.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the catalog at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, s.now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// UpsertItem stores or updates an item and links its tags. Tag names are
// lower-cased.
func (s *Store) UpsertItem(ctx context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: empty item id", ErrInvalidItem)
	}
	if item.Origin == "" {
		item.Origin = OriginLocal
	}
	if item.Origin == OriginOnline && item.URL == "" {
		return fmt.Errorf("%w: online item %q needs a url", ErrInvalidItem, item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position sql.NullInt64
	if item.Position != nil {
		position = sql.NullInt64{Int64: int64(*item.Position), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (item_id, name, source, origin, url, hash, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			source = excluded.source,
			origin = excluded.origin,
			url = excluded.url,
			hash = excluded.hash,
			position = excluded.position
	`, string(item.ID), item.Name, item.Source, string(item.Origin), item.URL, item.Hash, position, item.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("saving item %q: %w", item.ID, err)
	}
	for _, tag := range item.Tags {
		if err := tagItem(ctx, tx, item.ID, tag); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item %q: %w", item.ID, err)
	}
	return nil
}

// TagItem links an existing item to a tag, creating the tag if needed.
func (s *Store) TagItem(ctx context.Context, id model.ItemID, tag string) error {
	if err := s.Resolve(ctx, []model.ItemID{id}); err != nil {
		return err
	}
	return tagItem(ctx, s.db, id, tag)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func tagItem(ctx context.Context, db execer, id model.ItemID, tag string) error {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO tags (tag_name) VALUES (?) ON CONFLICT(tag_name) DO NOTHING", tag); err != nil {
		return fmt.Errorf("saving tag %q: %w", tag, err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO item_tags (item_id, tag_id)
		SELECT ?, tag_id FROM tags WHERE tag_name = ?
		ON CONFLICT DO NOTHING
	`, string(id), tag); err != nil {
		return fmt.Errorf("tagging %q with %q: %w", id, tag, err)
	}
	return nil
}

// Item returns one item with its tags.
func (s *Store) Item(ctx context.Context, id model.ItemID) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, name, source, origin, url, hash, position, created_at
		FROM items WHERE item_id = ?`, string(id))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, &UnknownItemError{IDs: []model.ItemID{id}}
	}
	if err != nil {
		return Item{}, fmt.Errorf("loading item %q: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.tag_name FROM item_tags it JOIN tags t ON t.tag_id = it.tag_id
		WHERE it.item_id = ? ORDER BY t.tag_name`, string(id))
	if err != nil {
		return Item{}, fmt.Errorf("loading tags of %q: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return Item{}, fmt.Errorf("scanning tag: %w", err)
		}
		item.Tags = append(item.Tags, tag)
	}
	return item, rows.Err()
}

// Items lists every item id in the catalog, sorted.
func (s *Store) Items(ctx context.Context) ([]model.ItemID, error) {
	return s.queryIDs(ctx, "SELECT item_id FROM items ORDER BY item_id")
}

// ItemsByTag lists the ids of items carrying tag, sorted.
func (s *Store) ItemsByTag(ctx context.Context, tag string) ([]model.ItemID, error) {
	return s.queryIDs(ctx, `
		SELECT it.item_id FROM item_tags it JOIN tags t ON t.tag_id = it.tag_id
		WHERE t.tag_name = ? ORDER BY it.item_id`, strings.ToLower(strings.TrimSpace(tag)))
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]model.ItemID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()
	var out []model.ItemID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning item id: %w", err)
		}
		out = append(out, model.ItemID(id))
	}
	return out, rows.Err()
}

// Resolve fails with an *UnknownItemError listing every id in ids that is not
// in the catalog.
func (s *Store) Resolve(ctx context.Context, ids []model.ItemID) error {
	known := make(map[model.ItemID]struct{}, len(ids))
	for start := 0; start < len(ids); start += resolveChunk {
		chunk := ids[start:min(start+resolveChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = string(id)
		}
		query := "SELECT item_id FROM items WHERE item_id IN (?" + strings.Repeat(",?", len(chunk)-1) + ")"
		found, err := s.queryIDs(ctx, query, args...)
		if err != nil {
			return err
		}
		for _, id := range found {
			known[id] = struct{}{}
		}
	}

	var missing []model.ItemID
	seen := make(map[model.ItemID]struct{})
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		model.SortItems(missing)
		return &UnknownItemError{IDs: missing}
	}
	return nil
}

// SaveTallies adds ts to the comparisons stored for source. Every item is
// checked first, so nothing is written when any is unknown.
func (s *Store) SaveTallies(ctx context.Context, ts model.Tallies, source string) error {
	if err := s.Resolve(ctx, ts.Items()); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comparisons (item1, item2, source, win1, win2, tie, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item1, item2, source) DO UPDATE SET
			win1 = win1 + excluded.win1,
			win2 = win2 + excluded.win2,
			tie = tie + excluded.tie,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing tally upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, p := range ts.SortedPairs() {
		t := ts[p]
		if _, err := stmt.ExecContext(ctx, string(p.First), string(p.Second), source, t.WinsFirst, t.WinsSecond, t.Ties, now); err != nil {
			return fmt.Errorf("saving tally %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tallies: %w", err)
	}
	return nil
}

// LoadTallies returns the stored comparisons for source, or summed over all
// sources when source is empty.
func (s *Store) LoadTallies(ctx context.Context, source string) (model.Tallies, error) {
	query := "SELECT item1, item2, SUM(win1), SUM(win2), SUM(tie) FROM comparisons"
	var args []any
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " GROUP BY item1, item2"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading tallies: %w", err)
	}
	defer rows.Close()

	out := make(model.Tallies)
	for rows.Next() {
		var a, b string
		var t model.Tally
		if err := rows.Scan(&a, &b, &t.WinsFirst, &t.WinsSecond, &t.Ties); err != nil {
			return nil, fmt.Errorf("scanning tally: %w", err)
		}
		out[model.Pair{First: model.ItemID(a), Second: model.ItemID(b)}] = t
	}
	return out, rows.Err()
}

// SaveScores records scores as labels from source, replacing earlier labels
// from the same source. Every id and value is validated before anything is
// written, and all rows are written in one transaction.
func (s *Store) SaveScores(ctx context.Context, scores map[model.ItemID]float64, source string) error {
	ids := make([]model.ItemID, 0, len(scores))
	for id, v := range scores {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %q has score %v outside [0,1]", ErrInvalidScore, id, v)
		}
		ids = append(ids, id)
	}
	model.SortItems(ids)
	if err := s.Resolve(ctx, ids); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO labels (item_id, source, label, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id, source) DO UPDATE SET label = excluded.label, created_at = excluded.created_at
		`, string(id), source, scores[id], now); err != nil {
			return fmt.Errorf("saving score of %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing scores: %w", err)
	}
	return nil
}

// Labels returns every label recorded for id, ordered by source.
func (s *Store) Labels(ctx context.Context, id model.ItemID) ([]Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, source, label, created_at FROM labels
		WHERE item_id = ? ORDER BY source`, string(id))
	if err != nil {
		return nil, fmt.Errorf("loading labels of %q: %w", id, err)
	}
	defer rows.Close()
	var out []Label
	for rows.Next() {
		var l Label
		var itemID string
		var created int64
		if err := rows.Scan(&itemID, &l.Source, &l.Value, &created); err != nil {
			return nil, fmt.Errorf("scanning label: %w", err)
		}
		l.ItemID = model.ItemID(itemID)
		l.CreatedAt = time.Unix(created, 0)
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (Item, error) {
	var (
		item     Item
		id       string
		origin   string
		position sql.NullInt64
		created  int64
	)
	if err := row.Scan(&id, &item.Name, &item.Source, &origin, &item.URL, &item.Hash, &position, &created); err != nil {
		return Item{}, err
	}
	item.ID = model.ItemID(id)
	item.Origin = Origin(origin)
	if position.Valid {
		p := int(position.Int64)
		item.Position = &p
	}
	item.CreatedAt = time.Unix(created, 0)
	return item, nil
}
