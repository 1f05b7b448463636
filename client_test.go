package workoutcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
)

// tableEmbedder returns fixed vectors for known texts.
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	down    bool
}

func (e *tableEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.down {
		return EmbeddingResult{}, errors.New("connection refused")
	}
	v, ok := e.vectors[text]
	if !ok {
		return EmbeddingResult{}, fmt.Errorf("no vector for %q", text)
	}
	return EmbeddingResult{Embedding: v, PromptTokens: 4, TotalTokens: 4}, nil
}

func (e *tableEmbedder) setDown(down bool) {
	e.mu.Lock()
	e.down = down
	e.mu.Unlock()
}

const (
	fiveK    = "5k interval run with 400m repeats"
	recovery = "easy recovery jog"
	swimSet  = "pool swim 10x100m"
	query5k  = "5k run with 400m intervals"
)

func newTestClient(t *testing.T, opts ...Option) (*Client, *tableEmbedder) {
	t.Helper()
	emb := &tableEmbedder{vectors: map[string][]float32{
		fiveK:    {1, 0, 0},
		recovery: {0, 1, 0},
		swimSet:  {0, 0, 1},
		query5k:  {0.96, 0.28, 0},
	}}
	opts = append([]Option{WithEmbedder(emb, "table-v1", 3), WithRetries(1)}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, emb
}

func seed(t *testing.T, c *Client) {
	t.Helper()
	for _, w := range []Workout{
		{ID: "w-5k", Text: fiveK, Tags: map[string]string{SportType: "run"}, Numerics: map[string]float64{DistanceMeters: 5000}},
		{ID: "w-jog", Text: recovery, Tags: map[string]string{SportType: "run"}, Numerics: map[string]float64{DistanceMeters: 3000}},
		{ID: "w-swim", Text: swimSet, Tags: map[string]string{SportType: "swim"}, Payload: []byte(`{"sets":10}`)},
	} {
		if _, err := c.Store(context.Background(), w); err != nil {
			t.Fatalf("Store %s: %v", w.ID, err)
		}
	}
}

func TestLookup_SimilarWorkoutIsExcellent(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c)

	v, err := c.Lookup(context.Background(), NewQuery(query5k).Where(SportType, "run"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !v.Hit() || v.Decision != Excellent {
		t.Fatalf("decision = %v, want EXCELLENT", v.Decision)
	}
	if len(v.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(v.Matches))
	}
	best, _ := v.Best()
	if best.Workout.ID != "w-5k" {
		t.Errorf("best = %s, want w-5k", best.Workout.ID)
	}
	if v.Matches[1].Workout.ID != "w-jog" || v.Matches[1].Decision != Miss {
		t.Errorf("second = %s/%v, want w-jog/MISS", v.Matches[1].Workout.ID, v.Matches[1].Decision)
	}
}

func TestFindCached_IntervalRunRanksAboveRecoveryJog(t *testing.T) {
	c, emb := newTestClient(t)
	emb.vectors["5k interval run with speed work"] = []float32{1, 0, 0}
	emb.vectors["easy 30 minute recovery jog"] = []float32{0, 1, 0}
	emb.vectors["5k interval training"] = []float32{0.8, 0.6, 0}

	ctx := context.Background()
	for _, w := range []Workout{
		{ID: "1", Text: "5k interval run with speed work", Tags: map[string]string{SportType: "run"}, Numerics: map[string]float64{DistanceMeters: 5000}},
		{ID: "2", Text: "easy 30 minute recovery jog", Tags: map[string]string{SportType: "run"}, Numerics: map[string]float64{DistanceMeters: 5000}},
	} {
		if _, err := c.Store(ctx, w); err != nil {
			t.Fatalf("Store %s: %v", w.ID, err)
		}
	}

	ms, err := c.FindCached(ctx, NewQuery("5k interval training").Where(SportType, "run").Limit(5))
	if err != nil {
		t.Fatalf("FindCached: %v", err)
	}
	if len(ms) != 2 || ms[0].Workout.ID != "1" || ms[1].Workout.ID != "2" {
		t.Fatalf("ranking = %+v", ms)
	}
	if !ms[0].Decision.IsHit() || ms[1].Decision >= ms[0].Decision {
		t.Errorf("decisions = %v, %v", ms[0].Decision, ms[1].Decision)
	}

	none, err := c.FindCached(ctx, NewQuery("5k interval training").Where(SportType, "swim"))
	if err != nil || len(none) != 0 {
		t.Errorf("swim filter = %v, %v; want empty", none, err)
	}
}

func TestLookup_IdenticalTextScoresOne(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c)

	ms, err := c.FindCached(context.Background(), NewQuery(swimSet))
	if err != nil {
		t.Fatalf("FindCached: %v", err)
	}
	if len(ms) == 0 || ms[0].Workout.ID != "w-swim" {
		t.Fatalf("matches = %+v", ms)
	}
	if ms[0].Score < 0.99 {
		t.Errorf("score = %f, want >= 0.99", ms[0].Score)
	}
	if string(ms[0].Workout.Payload) != `{"sets":10}` {
		t.Errorf("payload = %s", ms[0].Workout.Payload)
	}
}

func TestLookup_FilterExcludesEverything(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c)

	v, err := c.Lookup(context.Background(), NewQuery(query5k).Where(SportType, "swim").AtLeast(DistanceMeters, 1000))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v.Hit() || len(v.Matches) != 0 || v.Degraded {
		t.Errorf("verdict = %+v, want clean MISS", v)
	}
}

func TestLookup_NumericRange(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c)

	ms, err := c.FindCached(context.Background(), NewQuery(query5k).Between(DistanceMeters, 2000, 4000))
	if err != nil {
		t.Fatalf("FindCached: %v", err)
	}
	if len(ms) != 1 || ms[0].Workout.ID != "w-jog" {
		t.Errorf("matches = %+v, want only w-jog", ms)
	}
}

func TestFindCached_ZeroLimit(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c)

	ms, err := c.FindCached(context.Background(), NewQuery(query5k).Limit(0))
	if err != nil {
		t.Fatalf("FindCached: %v", err)
	}
	if len(ms) != 0 {
		t.Errorf("matches = %d, want 0", len(ms))
	}
}

func TestFindCached_InvalidQuery(t *testing.T) {
	c, _ := newTestClient(t)

	tests := []struct {
		name string
		q    *Query
	}{
		{"nil", nil},
		{"empty text", NewQuery("")},
		{"negative limit", NewQuery(query5k).Limit(-1)},
		{"min score above one", NewQuery(query5k).MinScore(1.5)},
		{"unknown attribute", NewQuery(query5k).Where("color", "red")},
		{"empty match", NewQuery(query5k).Where(SportType, "")},
		{"tag used as range", NewQuery(query5k).AtLeast(SportType, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FindCached(context.Background(), tt.q)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("FindCached err = %v, want ErrInvalidQuery", err)
			}
			_, err = c.Lookup(context.Background(), tt.q)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("Lookup err = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestLookup_FailsOpenWhenEmbedderDown(t *testing.T) {
	c, emb := newTestClient(t)
	seed(t, c)
	emb.setDown(true)

	v, err := c.Lookup(context.Background(), NewQuery(query5k))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v.Decision != Miss || !v.Degraded || v.Cause == nil {
		t.Errorf("verdict = %+v, want degraded MISS", v)
	}

	_, err = c.FindCached(context.Background(), NewQuery(query5k))
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("FindCached err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestStore_IdempotentAndReportsCreation(t *testing.T) {
	c, emb := newTestClient(t)
	w := Workout{ID: "w-5k", Text: fiveK, Tags: map[string]string{SportType: "run"}}

	created, err := c.Store(context.Background(), w)
	if err != nil || !created {
		t.Fatalf("first Store = %v, %v; want created", created, err)
	}
	first, _ := c.Get(context.Background(), "w-5k")
	calls := emb.calls

	created, err = c.Store(context.Background(), w)
	if err != nil || created {
		t.Fatalf("second Store = %v, %v; want updated", created, err)
	}
	if emb.calls != calls {
		t.Errorf("unchanged text was re-embedded")
	}
	got, err := c.Get(context.Background(), "w-5k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, got.CreatedAt)
	}

	ms, _ := c.FindCached(context.Background(), NewQuery(fiveK))
	if len(ms) != 1 {
		t.Errorf("matches = %d, want 1", len(ms))
	}
}

func TestStore_Rejects(t *testing.T) {
	c, _ := newTestClient(t)

	tests := []struct {
		name string
		w    Workout
		want error
	}{
		{"missing id", Workout{Text: fiveK}, ErrInvalidItem},
		{"missing text", Workout{ID: "x"}, ErrInvalidItem},
		{"unknown tag", Workout{ID: "x", Text: fiveK, Tags: map[string]string{"color": "red"}}, ErrInvalidItem},
		{"tag as numeric", Workout{ID: "x", Text: fiveK, Numerics: map[string]float64{SportType: 1}}, ErrInvalidItem},
		{"NaN numeric", Workout{ID: "x", Text: fiveK, Numerics: map[string]float64{DistanceMeters: math.NaN()}}, ErrInvalidItem},
		{"embedding fails", Workout{ID: "x", Text: "not in table"}, ErrEmbeddingProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Store(context.Background(), tt.w)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := c.Get(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed store left an item behind: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreBatch_PerItemResults(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.Store(context.Background(), Workout{ID: "w-jog", Text: recovery}); err != nil {
		t.Fatal(err)
	}

	rs := c.StoreBatch(context.Background(), []Workout{
		{ID: "w-5k", Text: fiveK},
		{ID: "", Text: swimSet},
		{ID: "w-jog", Text: recovery},
		{ID: "w-bad", Text: "not in table"},
	})
	if len(rs) != 4 {
		t.Fatalf("results = %d, want 4", len(rs))
	}
	if rs[0].Err != nil || !rs[0].Created {
		t.Errorf("rs[0] = %+v, want created", rs[0])
	}
	if !errors.Is(rs[1].Err, ErrInvalidItem) {
		t.Errorf("rs[1].Err = %v, want ErrInvalidItem", rs[1].Err)
	}
	if rs[2].Err != nil || rs[2].Created {
		t.Errorf("rs[2] = %+v, want updated", rs[2])
	}
	if !errors.Is(rs[3].Err, ErrEmbeddingProviderError) {
		t.Errorf("rs[3].Err = %v, want ErrEmbeddingProviderError", rs[3].Err)
	}
}

func TestStoreBatch_TooLarge(t *testing.T) {
	c, _ := newTestClient(t, WithMaxBatchSize(1))
	rs := c.StoreBatch(context.Background(), []Workout{
		{ID: "a", Text: fiveK},
		{ID: "b", Text: recovery},
	})
	for i, r := range rs {
		if !errors.Is(r.Err, ErrInvalidItem) {
			t.Errorf("rs[%d].Err = %v, want ErrInvalidItem", i, r.Err)
		}
	}
}

func TestThresholds_Custom(t *testing.T) {
	c, _ := newTestClient(t, WithThresholds(0.99, 0.97, 0.95))
	seed(t, c)

	v, err := c.Lookup(context.Background(), NewQuery(query5k))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v.Decision != Good {
		t.Errorf("decision = %v, want GOOD", v.Decision)
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"embedder without dimensions", []Option{WithEmbedder(&tableEmbedder{}, "m", 0)}},
		{"valkey without address", []Option{WithValkey("", "")}},
		{"managed on memory", []Option{WithBackend(Managed)}},
		{"fallback equals backend", []Option{WithFallback(Direct)}},
		{"unordered thresholds", []Option{WithThresholds(0.7, 0.8, 0.9)}},
		{"unknown backend", []Option{WithBackend("hybrid")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts...)
			if err == nil {
				_ = c.Close()
				t.Fatal("expected error")
			}
		})
	}
}

func TestDefaults_HashingDirect(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	info := c.Index()
	if info.Strategy != Direct || info.Consistency != "synchronous" {
		t.Errorf("index = %+v", info)
	}
	if !info.LastRefresh.IsZero() {
		t.Errorf("direct backend reported a refresh time")
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Errorf("Refresh: %v", err)
	}
	if !c.Healthy(context.Background()) {
		t.Error("expected healthy")
	}

	text := "tempo run 20 minutes at threshold pace"
	if _, err := c.Store(context.Background(), Workout{ID: "t", Text: text}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	v, err := c.Lookup(context.Background(), NewQuery(text))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v.Decision != Excellent {
		t.Errorf("decision = %v, want EXCELLENT", v.Decision)
	}
}

func TestSQLite_PersistsAcrossClients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c1, err := New(WithSQLite(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c1.Store(ctx, Workout{ID: "w1", Text: "hill sprints 8x30s"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := New(WithSQLite(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	if err := c2.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	w, err := c2.Get(ctx, "w1")
	if err != nil || w.Text != "hill sprints 8x30s" {
		t.Errorf("Get = %+v, %v", w, err)
	}
}

func TestSQLite_RejectsNonFiniteNumerics(t *testing.T) {
	c, err := New(WithSQLite(filepath.Join(t.TempDir(), "cache.db")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	_, err = c.Store(context.Background(), Workout{
		ID: "n1", Text: "tempo run", Numerics: map[string]float64{DistanceMeters: math.Inf(1)},
	})
	if !errors.Is(err, ErrInvalidItem) || errors.Is(err, ErrStoreWriteFailure) {
		t.Fatalf("err = %v, want ErrInvalidItem", err)
	}
}

func TestEmbedderAdapter_ForwardsHealthCheck(t *testing.T) {
	a := &embedderAdapter{inner: &tableEmbedder{}}
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck without support: %v", err)
	}

	want := errors.New("down")
	a = &embedderAdapter{inner: healthyEmbedder{tableEmbedder: &tableEmbedder{}, err: want}}
	if err := a.HealthCheck(context.Background()); !errors.Is(err, want) {
		t.Errorf("HealthCheck = %v, want %v", err, want)
	}
}

type healthyEmbedder struct {
	*tableEmbedder
	err error
}

func (h healthyEmbedder) HealthCheck(context.Context) error { return h.err }
