package result

import (
	"cmp"
	"slices"

	"github.com/kailas-cloud/workoutcache/internal/domain/item"
)

// Result is a single search hit: an item and its similarity score in [0,1].
type Result struct {
	score float64
	item  item.Item
}

// New creates a search result.
func New(it item.Item, score float64) Result {
	return Result{item: it, score: score}
}

// ID returns the item identifier.
func (r Result) ID() string { return r.item.ID() }

// Score returns the similarity score.
func (r Result) Score() float64 { return r.score }

// Item returns the matched item.
func (r Result) Item() item.Item { return r.item }

// Compare orders results by descending score, then ascending id.
func Compare(a, b Result) int {
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	return cmp.Compare(a.ID(), b.ID())
}

// Sort orders results in place by descending score, ties by ascending id.
func Sort(rs []Result) {
	slices.SortStableFunc(rs, Compare)
}

// Truncate returns at most limit results.
func Truncate(rs []Result, limit int) []Result {
	if limit <= 0 {
		return rs[:0]
	}
	if len(rs) > limit {
		return rs[:limit]
	}
	return rs
}
