package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/repository/index/direct"
	itemrepo "github.com/kailas-cloud/workoutcache/internal/repository/item"
	"github.com/kailas-cloud/workoutcache/internal/retry"
	"github.com/kailas-cloud/workoutcache/internal/transport/hashing"
	embeddinguc "github.com/kailas-cloud/workoutcache/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/workoutcache/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/workoutcache/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/workoutcache/internal/usecase/search"
)

const testDims = 256

// switchableEmbedder delegates to the hashing embedder until failing is set.
type switchableEmbedder struct {
	inner   *hashing.Embedder
	mu      sync.Mutex
	failing bool
}

func (e *switchableEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	e.mu.Lock()
	failing := e.failing
	e.mu.Unlock()
	if failing {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
	}
	return e.inner.Embed(ctx, text)
}

func (e *switchableEmbedder) HealthCheck(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing {
		return domain.ErrEmbeddingProviderError
	}
	return nil
}

func (e *switchableEmbedder) fail() {
	e.mu.Lock()
	e.failing = true
	e.mu.Unlock()
}

type fakeRefresh struct{ at time.Time }

func (f fakeRefresh) LastRefresh() time.Time { return f.at }

type testAPI struct {
	server   *Server
	handler  http.Handler
	items    *itemrepo.MemoryRepo
	embedder *switchableEmbedder
}

func newTestAPI(t *testing.T, apiKeys ...string) *testAPI {
	t.Helper()

	items := itemrepo.NewMemory()
	emb := &switchableEmbedder{inner: hashing.New(testDims)}
	sch := schema.Workout()
	noRetry := retry.Config{MaxAttempts: 1}
	instrumented := embeddinguc.NewInstrumentedEmbedder(emb, "hashing", "hashing-v1", testDims, zap.NewNop())

	searchSvc := searchuc.New(direct.New(items, testDims), instrumented, decision.DefaultPolicy(), sch,
		searchuc.Config{Retry: noRetry}, zap.NewNop())
	ingestSvc := ingestuc.New(items, instrumented, sch, ingestuc.Config{
		Strategy:   mode.Direct,
		Model:      "hashing-v1",
		Dimensions: testDims,
		Retry:      noRetry,
	}, zap.NewNop())
	healthSvc := healthuc.New(items, emb, searchSvc)

	srv := NewServer(Services{
		Search: searchSvc,
		Ingest: ingestSvc,
		Health: healthSvc,
		Items:  items,
	}, sch, 5, 10, zap.NewNop())

	return &testAPI{
		server:   srv,
		handler:  NewRouter(srv, apiKeys, zap.NewNop()),
		items:    items,
		embedder: emb,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) putWorkout(t *testing.T, id, text, sport string) {
	t.Helper()
	rr := a.do(t, http.MethodPut, "/v1/items/"+id, ItemRequest{
		Text:     text,
		Tags:     map[string]string{schema.SportType: sport},
		Numerics: map[string]float64{schema.DurationSeconds: 1800},
		Payload:  json.RawMessage(`{"steps":3}`),
	})
	if rr.Code != http.StatusCreated && rr.Code != http.StatusOK {
		t.Fatalf("put %s: status %d: %s", id, rr.Code, rr.Body)
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}
