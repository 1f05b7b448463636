// Package item provides Item Store implementations: Redis/Valkey hashes, SQLite and memory.
package item

import (
	"context"
	"fmt"
	"iter"

	"github.com/kailas-cloud/workoutcache/internal/db"
	"github.com/kailas-cloud/workoutcache/internal/domain"
	domitem "github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

const scanBatch = 200

// store is the consumer interface for item hashes (ISP).
type store interface {
	HReplace(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	ScanPage(ctx context.Context, cursor uint64, pattern string, count int64) (db.ScanPage, error)
}

// Repo stores items as Redis/Valkey hashes under {prefix}item:{id}.
type Repo struct {
	store  store
	prefix string
}

// New creates a hash-backed item repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix + "item:"}
}

// Put overwrites the item atomically.
func (r *Repo) Put(ctx context.Context, it domitem.Item) error {
	key := r.prefix + it.ID()
	if err := r.store.HReplace(ctx, key, buildHashFields(it)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns an item by id, domain.ErrNotFound when absent.
func (r *Repo) Get(ctx context.Context, id string) (domitem.Item, error) {
	key := r.prefix + id
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domitem.Item{}, fmt.Errorf("get %s: %w", key, err)
	}
	if len(m) == 0 {
		return domitem.Item{}, domain.ErrNotFound
	}
	return parseHashFields(m)
}

// List streams items matching expr. Each range over the sequence starts a new SCAN
// from cursor 0, so it reflects the live keyspace. SCAN may repeat keys across pages;
// duplicates are skipped within one pass.
func (r *Repo) List(ctx context.Context, expr filter.Expression) iter.Seq2[domitem.Item, error] {
	return func(yield func(domitem.Item, error) bool) {
		seen := make(map[string]struct{})
		var cursor uint64
		for {
			page, err := r.store.ScanPage(ctx, cursor, r.prefix+"*", scanBatch)
			if err != nil {
				yield(domitem.Item{}, fmt.Errorf("scan items: %w", err))
				return
			}

			keys := make([]string, 0, len(page.Keys))
			for _, k := range page.Keys {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				keys = append(keys, k)
			}

			if len(keys) > 0 {
				hashes, err := r.store.HGetAllMulti(ctx, keys)
				if err != nil {
					yield(domitem.Item{}, fmt.Errorf("load items: %w", err))
					return
				}
				for i, m := range hashes {
					if len(m) == 0 {
						continue // removed between SCAN and HGETALL
					}
					it, err := parseHashFields(m)
					if err != nil {
						if !yield(domitem.Item{}, fmt.Errorf("decode %s: %w", keys[i], err)) {
							return
						}
						continue
					}
					if !expr.Matches(it.Tags(), it.Numerics()) {
						continue
					}
					if !yield(it, nil) {
						return
					}
				}
			}

			cursor = page.Cursor
			if cursor == 0 {
				return
			}
		}
	}
}
