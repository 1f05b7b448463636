package item

import (
	"context"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/workoutcache/internal/db"
	domitem "github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

// hashStore is an in-memory stand-in for the Redis hash commands.
type hashStore struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	pageSize int

	hreplaceErr error
	scanErr     error
}

func newHashStore() *hashStore {
	return &hashStore{hashes: make(map[string]map[string]string), pageSize: 2}
}

func (h *hashStore) HReplace(_ context.Context, key string, fields map[string]string) error {
	if h.hreplaceErr != nil {
		return h.hreplaceErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hashes[key] = maps.Clone(fields)
	return nil
}

func (h *hashStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.hashes[key]), nil
}

func (h *hashStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i], _ = h.HGetAll(ctx, k)
	}
	return out, nil
}

// ScanPage pages through sorted matching keys; the cursor is the next offset.
func (h *hashStore) ScanPage(_ context.Context, cursor uint64, pattern string, _ int64) (db.ScanPage, error) {
	if h.scanErr != nil {
		return db.ScanPage{}, h.scanErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range h.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	start := int(cursor)
	end := min(start+h.pageSize, len(keys))
	if start >= len(keys) {
		return db.ScanPage{}, nil
	}
	next := uint64(end)
	if end == len(keys) {
		next = 0
	}
	return db.ScanPage{Keys: keys[start:end], Cursor: next}, nil
}

// itemStore is the contract shared by every implementation in this package.
type itemStore interface {
	Put(ctx context.Context, it domitem.Item) error
	Get(ctx context.Context, id string) (domitem.Item, error)
	List(ctx context.Context, expr filter.Expression) iter.Seq2[domitem.Item, error]
}

func mustItem(t *testing.T, id, text, sport string, distance float64) domitem.Item {
	t.Helper()
	it, err := domitem.New(id, text,
		map[string]string{"sport_type": sport},
		map[string]float64{"distance_meters": distance},
		[]byte(`{"id":"`+id+`"}`),
	)
	if err != nil {
		t.Fatalf("item.New: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return it.WithTimestamps(now, now)
}

func matchAll() filter.Expression {
	e, _ := filter.NewExpression(nil, nil, nil)
	return e
}

func sportFilter(t *testing.T, sport string) filter.Expression {
	t.Helper()
	c, err := filter.NewMatch("sport_type", sport)
	if err != nil {
		t.Fatal(err)
	}
	e, err := filter.NewExpression([]filter.Condition{c}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func collect(t *testing.T, seq iter.Seq2[domitem.Item, error]) []domitem.Item {
	t.Helper()
	var out []domitem.Item
	for it, err := range seq {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		out = append(out, it)
	}
	return out
}

func ids(items []domitem.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID()
	}
	slices.Sort(out)
	return out
}
