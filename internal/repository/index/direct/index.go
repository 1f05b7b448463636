// Package direct is the synchronously consistent index backend: cosine similarity
// over every stored embedding that passes the filter.
package direct

import (
	"container/heap"
	"context"
	"fmt"
	"iter"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/result"
	"github.com/kailas-cloud/workoutcache/internal/domain/vector"
)

const ctxCheckEvery = 256

// lister is the consumer interface for the item store (ISP).
type lister interface {
	List(ctx context.Context, expr filter.Expression) iter.Seq2[item.Item, error]
}

// Index scans the item store on every query.
type Index struct {
	items lister
	dims  int
}

// New creates a direct index over items. dims is the embedding dimension of the model.
func New(items lister, dims int) *Index {
	return &Index{items: items, dims: dims}
}

// RefreshPolicy reports that completed puts are immediately searchable.
func (x *Index) RefreshPolicy() domain.RefreshPolicy {
	return domain.RefreshPolicy{
		Strategy:    mode.Direct,
		Consistency: domain.ConsistencySynchronous,
	}
}

// Search returns the top p.Limit items by cosine similarity to p.Vector.
// Items without an embedding are not yet searchable and are skipped.
func (x *Index) Search(ctx context.Context, p request.Probe) ([]result.Result, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", domain.ErrInvalidQuery)
	}
	if x.dims > 0 && len(p.Vector) != x.dims {
		return nil, fmt.Errorf("%w: query has %d, index expects %d",
			domain.ErrVectorDimMismatch, len(p.Vector), x.dims)
	}

	top := &topK{k: p.Limit}
	seen := 0
	for it, err := range x.items.List(ctx, p.Filters) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr //nolint:wrapcheck // caller cancellation
			}
			return nil, fmt.Errorf("%w: list items: %w", domain.ErrBackendUnavailable, err)
		}
		seen++
		if seen%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err //nolint:wrapcheck // caller cancellation
			}
		}
		if !it.HasEmbedding() {
			continue
		}
		emb := it.Embedding()
		if len(emb) != len(p.Vector) {
			return nil, fmt.Errorf("%w: item %s has %d, query has %d",
				domain.ErrVectorDimMismatch, it.ID(), len(emb), len(p.Vector))
		}
		top.offer(result.New(it, vector.Cosine(p.Vector, emb)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // caller cancellation
	}

	return top.sorted(), nil
}

// topK keeps the k best results. The heap root is the worst kept result.
type topK struct {
	k  int
	rs []result.Result
}

func (t *topK) Len() int           { return len(t.rs) }
func (t *topK) Less(i, j int) bool { return result.Compare(t.rs[i], t.rs[j]) > 0 }
func (t *topK) Swap(i, j int)      { t.rs[i], t.rs[j] = t.rs[j], t.rs[i] }
func (t *topK) Push(x any)         { t.rs = append(t.rs, x.(result.Result)) } //nolint:forcetypeassert // heap contract
func (t *topK) Pop() any {
	n := len(t.rs)
	r := t.rs[n-1]
	t.rs = t.rs[:n-1]
	return r
}

func (t *topK) offer(r result.Result) {
	if len(t.rs) < t.k {
		heap.Push(t, r)
		return
	}
	if result.Compare(r, t.rs[0]) < 0 {
		t.rs[0] = r
		heap.Fix(t, 0)
	}
}

func (t *topK) sorted() []result.Result {
	out := make([]result.Result, len(t.rs))
	copy(out, t.rs)
	result.Sort(out)
	return out
}
