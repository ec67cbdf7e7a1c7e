// Package repository holds the published ranking: the latest fitted score
// of every item, ordered for leaderboard reads.
package repository

import "context"

// Entry represents one ranked item.
type Entry struct {
	Rank     int
	ItemID   string
	Score    float64 // normalized score in [0,1]
	Strength float64 // fitted log-strength
}

// Store provides read/write access to the ranking state.
type Store interface {
	// Replace swaps in a complete ranking produced by one estimation run.
	// Items absent from entries are dropped.
	Replace(ctx context.Context, entries []Entry) error

	// Upsert sets the score of a single item.
	Upsert(ctx context.Context, itemID string, score, strength float64) error

	// Rank returns the current rank and score for an item.
	// Returns ErrNotFound if the item is unknown.
	Rank(ctx context.Context, itemID string) (Entry, error)

	// TopN returns the top-N entries ordered by score desc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of ranked items.
	Count(ctx context.Context) int
}
