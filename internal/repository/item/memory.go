package item

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	domitem "github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

// MemoryRepo keeps items in process memory. Reads never block each other.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[string]domitem.State
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]domitem.State)}
}

// Ping always succeeds.
func (r *MemoryRepo) Ping(context.Context) error { return nil }

// Put overwrites the item.
func (r *MemoryRepo) Put(_ context.Context, it domitem.Item) error {
	s := cloneState(it.State())
	r.mu.Lock()
	r.items[s.ID] = s
	r.mu.Unlock()
	return nil
}

// Get returns an item by id, domain.ErrNotFound when absent.
func (r *MemoryRepo) Get(_ context.Context, id string) (domitem.Item, error) {
	r.mu.RLock()
	s, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return domitem.Item{}, domain.ErrNotFound
	}
	return domitem.Reconstruct(cloneState(s)), nil
}

// List streams items matching expr in id order. The id set is read when iteration
// starts; each item is read at the moment it is yielded.
func (r *MemoryRepo) List(ctx context.Context, expr filter.Expression) iter.Seq2[domitem.Item, error] {
	return func(yield func(domitem.Item, error) bool) {
		r.mu.RLock()
		ids := slices.Sorted(maps.Keys(r.items))
		r.mu.RUnlock()

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(domitem.Item{}, err)
				return
			}
			r.mu.RLock()
			s, ok := r.items[id]
			r.mu.RUnlock()
			if !ok || !expr.Matches(s.Tags, s.Numerics) {
				continue
			}
			if !yield(domitem.Reconstruct(cloneState(s)), nil) {
				return
			}
		}
	}
}

// Len returns the number of stored items.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func cloneState(s domitem.State) domitem.State {
	s.Tags = maps.Clone(s.Tags)
	s.Numerics = maps.Clone(s.Numerics)
	s.Embedding = slices.Clone(s.Embedding)
	s.Payload = slices.Clone(s.Payload)
	return s
}
