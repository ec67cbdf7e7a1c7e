package repository

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/duelrank/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: score DESC, then itemID ASC. "less" means ranks earlier, so an
// in-order traversal yields the leaderboard from best to worst. Ranks are
// dense: equal scores share a rank and the next score takes the next rank.

// scoreScale fixes scores to 12 decimal places so equal fits compare equal.
const scoreScale = 1e12

type scoreFP int64

func toFixedPoint(x float64) (scoreFP, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("%w: score %v", ErrInvalidEntry, x)
	}
	scaled := math.Round(x * scoreScale)
	switch {
	case scaled >= math.MaxInt64:
		return scoreFP(math.MaxInt64), nil
	case scaled <= math.MinInt64:
		return scoreFP(math.MinInt64), nil
	}
	return scoreFP(scaled), nil
}

func (f scoreFP) float() float64 { return float64(f) / scoreScale }

type record struct {
	score    scoreFP
	strength float64
}

// Snapshot is an immutable view of the ranking published for lock-free reads.
type Snapshot struct {
	ByItem   map[string]Entry
	TopCache []Entry
	Built    time.Time
	version  uint64
}

type node struct {
	id    string
	score scoreFP
	prio  uint64
	left  *node
	right *node
}

func less(aScore scoreFP, aID string, bScore scoreFP, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	return y
}

func insert(n *node, id string, score scoreFP) *node {
	if n == nil {
		return &node{id: id, score: score, prio: rand.Uint64()}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	return n
}

func deleteNode(n *node, id string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	return n
}

// walk visits nodes in rank order until visit returns false.
func walk(n *node, visit func(*node) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.left, visit) {
		return false
	}
	if !visit(n) {
		return false
	}
	return walk(n.right, visit)
}

// ranked walks the tree assigning dense ranks and stops after limit entries
// (limit < 0 means all).
func ranked(root *node, byID map[string]record, limit int) []Entry {
	capHint := len(byID)
	if limit >= 0 && limit < capHint {
		capHint = limit
	}
	out := make([]Entry, 0, capHint)
	rank := 0
	var prev scoreFP
	walk(root, func(n *node) bool {
		if limit >= 0 && len(out) >= limit {
			return false
		}
		if rank == 0 || n.score != prev {
			rank++
			prev = n.score
		}
		rec := byID[n.id]
		out = append(out, Entry{Rank: rank, ItemID: n.id, Score: rec.score.float(), Strength: rec.strength})
		return true
	})
	return out
}

// TreapStore is an in-memory Store. Reads are served from the snapshot while
// no write has happened since it was built, and from the tree otherwise.
type TreapStore struct {
	mu               sync.RWMutex
	root             *node
	byID             map[string]record
	snapshotInterval time.Duration
	topCacheSize     int

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64 // bumped on every write, under mu

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store and starts its snapshot loop,
// which stops when ctx is done or Close is called.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		snapshotInterval: time.Second,
		topCacheSize:     500,
		byID:             make(map[string]record),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishSnapshot()
	s.startPeriodicSnapshots(ctx)
	return s
}

func (s *TreapStore) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if s.fresh() == nil {
					s.publishSnapshot()
				}
			}
		}
	}()
}

func (s *TreapStore) publishSnapshot() {
	start := time.Now()
	s.mu.RLock()
	all := ranked(s.root, s.byID, -1)
	version := s.version.Load()
	s.mu.RUnlock()

	byItem := make(map[string]Entry, len(all))
	for _, e := range all {
		byItem[e.ItemID] = e
	}
	top := all
	if len(top) > s.topCacheSize {
		top = top[:s.topCacheSize:s.topCacheSize]
	}
	s.snapshot.Store(&Snapshot{ByItem: byItem, TopCache: top, Built: time.Now(), version: version})

	ms := float64(time.Since(start).Milliseconds())
	metrics.RecordRepositorySnapshotRebuildDuration(ms)
	metrics.UpdateRepositorySnapshotLastUnix(float64(time.Now().Unix()))
	metrics.IncrementRepositorySnapshotCount()
	metrics.UpdateRepositoryRecordsTotal(len(all))
}

// Snapshot returns the last published snapshot.
func (s *TreapStore) Snapshot() *Snapshot { return s.snapshot.Load() }

// fresh returns the snapshot if no write happened since it was built.
func (s *TreapStore) fresh() *Snapshot {
	snap := s.snapshot.Load()
	if snap == nil || snap.version != s.version.Load() {
		return nil
	}
	return snap
}

// Close stops the snapshot loop.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Replace implements Store.Replace. The new ranking is visible to readers
// as soon as Replace returns.
func (s *TreapStore) Replace(ctx context.Context, entries []Entry) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	byID := make(map[string]record, len(entries))
	var root *node
	for _, e := range entries {
		if e.ItemID == "" {
			return fmt.Errorf("%w: empty item id", ErrInvalidEntry)
		}
		fp, err := toFixedPoint(e.Score)
		if err != nil {
			return fmt.Errorf("item %q: %w", e.ItemID, err)
		}
		if old, dup := byID[e.ItemID]; dup {
			root = deleteNode(root, e.ItemID, old.score)
		}
		byID[e.ItemID] = record{score: fp, strength: e.Strength}
		root = insert(root, e.ItemID, fp)
	}

	s.mu.Lock()
	s.root, s.byID = root, byID
	s.version.Add(1)
	s.mu.Unlock()
	s.publishSnapshot()
	return nil
}

// Upsert implements Store.Upsert in O(log n) expected time.
func (s *TreapStore) Upsert(ctx context.Context, itemID string, score, strength float64) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	if itemID == "" {
		return fmt.Errorf("%w: empty item id", ErrInvalidEntry)
	}
	fp, err := toFixedPoint(score)
	if err != nil {
		return fmt.Errorf("item %q: %w", itemID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[itemID]; ok {
		s.root = deleteNode(s.root, itemID, old.score)
	}
	s.byID[itemID] = record{score: fp, strength: strength}
	s.root = insert(s.root, itemID, fp)
	s.version.Add(1)
	return nil
}

// Rank returns the current rank and score for an item.
func (s *TreapStore) Rank(ctx context.Context, itemID string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if snap := s.fresh(); snap != nil {
		if e, ok := snap.ByItem[itemID]; ok {
			return e, nil
		}
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[itemID]; !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}
	for _, e := range ranked(s.root, s.byID, -1) {
		if e.ItemID == itemID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// TopN returns the top N entries ordered by score desc.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	if snap := s.fresh(); snap != nil && n <= len(snap.TopCache) {
		out := make([]Entry, n)
		copy(out, snap.TopCache[:n])
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return ranked(s.root, s.byID, n), nil
}

// Count returns the total number of ranked items.
func (s *TreapStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
