package managed

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/db"
	"github.com/kailas-cloud/workoutcache/internal/domain"
	domitem "github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/vector"
	itemrepo "github.com/kailas-cloud/workoutcache/internal/repository/item"
)

// fakeStore evaluates KNN queries by brute force over the mirror hashes.
type fakeStore struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	indexes   map[string]*db.IndexDefinition
	searchErr error
	writeErr  error
	writes    int

	// engine order among equal scores; descending keys when set
	tiesDesc bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes:  make(map[string]map[string]string),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

func (f *fakeStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	f.indexes[def.Name] = def
	return nil
}

func (f *fakeStore) IndexExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexes[name]
	return ok, nil
}

func (f *fakeStore) HReplace(_ context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.hashes[key] = cp
	return nil
}

func (f *fakeStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = f.hashes[k]
	}
	return out, nil
}

func (f *fakeStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	def, ok := f.indexes[q.IndexName]
	if !ok {
		return nil, &db.Error{Op: db.OpSearch, Err: db.ErrIndexNotFound}
	}

	ws := schema.Workout()
	var entries []db.SearchEntry
	for key, h := range f.hashes {
		if !strings.HasPrefix(key, def.Prefixes[0]) {
			continue
		}
		tags := map[string]string{}
		nums := map[string]float64{}
		for k, v := range h {
			fd, known := ws.Lookup(k)
			if !known {
				continue
			}
			if fd.FieldType() == schema.Tag {
				tags[k] = v
			} else if n, err := strconv.ParseFloat(v, 64); err == nil {
				nums[k] = n
			}
		}
		if !q.Filters.Matches(tags, nums) {
			continue
		}
		vec, err := vector.Decode([]byte(h[fieldVector]))
		if err != nil {
			continue
		}
		entries = append(entries, db.SearchEntry{Key: key, Score: vector.Cosine(q.Vector, vec)})
	}
	slices.SortFunc(entries, func(a, b db.SearchEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if f.tiesDesc {
			return cmp.Compare(b.Key, a.Key)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if len(entries) > q.K {
		entries = entries[:q.K]
	}
	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

// conceptEmbedder maps texts to fixed vectors and counts calls.
type conceptEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *conceptEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return domain.EmbeddingResult{}, errors.New("unknown text")
	}
	return domain.EmbeddingResult{Embedding: v}, nil
}

func (e *conceptEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fixture struct {
	store *fakeStore
	items *itemrepo.MemoryRepo
	emb   *conceptEmbedder
	index *Index
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(),
		items: itemrepo.NewMemory(),
		emb: &conceptEmbedder{vectors: map[string][]float32{
			"5k intervals":    {1, 0, 0},
			"5k repeats":      {0.95, 0.31, 0},
			"recovery jog":    {0, 0, 1},
			"easy swim drill": {0, 1, 0},
		}},
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 3
	}
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "wc:"
	}
	if cfg.TargetLag == 0 {
		cfg.TargetLag = time.Minute
	}
	f.index = New(f.store, f.items, f.emb, f.emb, cfg, zap.NewNop())
	if err := f.index.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	return f
}

func (f *fixture) put(t *testing.T, id, text, sport string, updated time.Time) domitem.Item {
	t.Helper()
	it, err := domitem.New(id, text, map[string]string{schema.SportType: sport}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	it = it.WithTimestamps(updated, updated)
	if err := f.items.Put(context.Background(), it); err != nil {
		t.Fatal(err)
	}
	return it
}
