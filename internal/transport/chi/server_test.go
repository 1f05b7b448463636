package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
)

func intPtr(v int) *int { return &v }

func TestLookup_IdenticalTextIsExcellent(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "w-5k", "5k run with 6x400m intervals", "run")
	api.putWorkout(t, "w-jog", "easy recovery jog", "run")

	rr := api.do(t, http.MethodPost, "/v1/cache/lookup", QueryRequest{Text: "5k run with 6x400m intervals"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}

	resp := decode[LookupResponse](t, rr)
	if resp.Decision != "EXCELLENT" || !resp.Hit || resp.Degraded {
		t.Errorf("verdict = %+v", resp)
	}
	if len(resp.Matches) == 0 || resp.Matches[0].ID != "w-5k" {
		t.Fatalf("matches = %+v", resp.Matches)
	}
	if resp.Matches[0].Score < 0.99 {
		t.Errorf("score = %v, want >= 0.99", resp.Matches[0].Score)
	}
	if string(resp.Matches[0].Payload) != `{"steps":3}` {
		t.Errorf("payload = %s", resp.Matches[0].Payload)
	}
	if rr.Header().Get("X-Embedding-Tokens") == "" {
		t.Error("missing X-Embedding-Tokens header")
	}
}

func TestLookup_FilterExcludesEverything(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "w-5k", "5k run with 6x400m intervals", "run")

	rr := api.do(t, http.MethodPost, "/v1/cache/lookup", QueryRequest{
		Text:    "5k run with 6x400m intervals",
		Filters: map[string]any{schema.SportType: "swim"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	resp := decode[LookupResponse](t, rr)
	if resp.Decision != "MISS" || resp.Hit || len(resp.Matches) != 0 {
		t.Errorf("verdict = %+v", resp)
	}
}

func TestLookup_ZeroLimit(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "w-5k", "5k run", "run")

	rr := api.do(t, http.MethodPost, "/v1/cache/lookup", QueryRequest{Text: "5k run", Limit: intPtr(0)})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	resp := decode[LookupResponse](t, rr)
	if resp.Decision != "MISS" || len(resp.Matches) != 0 {
		t.Errorf("verdict = %+v", resp)
	}
}

func TestLookup_FailsOpenOnEmbeddingOutage(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "w-5k", "5k run", "run")
	api.embedder.fail()

	rr := api.do(t, http.MethodPost, "/v1/cache/lookup", QueryRequest{Text: "5k run"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	resp := decode[LookupResponse](t, rr)
	if resp.Decision != "MISS" || !resp.Degraded {
		t.Errorf("verdict = %+v", resp)
	}
}

func TestSearch_SurfacesEmbeddingOutage(t *testing.T) {
	api := newTestAPI(t)
	api.embedder.fail()

	rr := api.do(t, http.MethodPost, "/v1/cache/search", QueryRequest{Text: "5k run"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status %d, want 502: %s", rr.Code, rr.Body)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != ErrorCodeEmbeddingUnavailable {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestSearch_RankedWithDecisions(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "a", "tempo run 8k steady", "run")
	api.putWorkout(t, "b", "tempo run 8k steady", "run")
	api.putWorkout(t, "c", "upper body strength circuit", "strength")

	rr := api.do(t, http.MethodPost, "/v1/cache/search", QueryRequest{Text: "tempo run 8k steady", Limit: intPtr(2)})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	resp := decode[SearchResponse](t, rr)
	if resp.Total != 2 || resp.Items[0].ID != "a" || resp.Items[1].ID != "b" {
		t.Fatalf("items = %+v", resp.Items)
	}
	for _, m := range resp.Items {
		if m.Decision != "EXCELLENT" {
			t.Errorf("%s decision = %s", m.ID, m.Decision)
		}
	}
}

func TestQuery_Validation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body any
		code ErrorCode
	}{
		{"empty text", QueryRequest{}, ErrorCodeInvalidQuery},
		{"negative limit", QueryRequest{Text: "x", Limit: intPtr(-1)}, ErrorCodeInvalidQuery},
		{"unknown filter field", QueryRequest{Text: "x", Filters: map[string]any{"color": "red"}}, ErrorCodeInvalidQuery},
		{"bad range operator", QueryRequest{Text: "x", Filters: map[string]any{
			schema.DurationSeconds: map[string]any{"between": 3},
		}}, ErrorCodeInvalidQuery},
		{"unknown body field", map[string]any{"text": "x", "top_k": 3}, ErrorCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/v1/cache/lookup", "/v1/cache/search"} {
				rr := api.do(t, http.MethodPost, path, tt.body)
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("%s: status %d, want 400: %s", path, rr.Code, rr.Body)
				}
				if resp := decode[ErrorResponse](t, rr); resp.Code != tt.code {
					t.Errorf("%s: code = %q, want %q", path, resp.Code, tt.code)
				}
			}
		})
	}
}

func TestPutItem_CreatedThenUpdated(t *testing.T) {
	api := newTestAPI(t)
	body := ItemRequest{Text: "hill repeats", Tags: map[string]string{schema.SportType: "run"}}

	rr := api.do(t, http.MethodPut, "/v1/items/w-1", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first put: status %d: %s", rr.Code, rr.Body)
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/items/w-1" {
		t.Errorf("location = %q", loc)
	}

	if rr.Header().Get("X-Embedding-Tokens") != "2" {
		t.Errorf("tokens header = %q, want 2", rr.Header().Get("X-Embedding-Tokens"))
	}

	rr = api.do(t, http.MethodPut, "/v1/items/w-1", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("second put: status %d: %s", rr.Code, rr.Body)
	}
	if h := rr.Header().Get("X-Embedding-Tokens"); h != "" {
		t.Errorf("unchanged text reported embedding tokens %q", h)
	}
	if api.items.Len() != 1 {
		t.Errorf("store has %d items", api.items.Len())
	}
}

func TestPutItem_Errors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		id     string
		body   ItemRequest
		status int
		code   ErrorCode
	}{
		{"empty text", "w-1", ItemRequest{}, http.StatusBadRequest, ErrorCodeInvalidItem},
		{"bad id", "w 1", ItemRequest{Text: "x"}, http.StatusBadRequest, ErrorCodeInvalidItem},
		{"unknown attribute", "w-1", ItemRequest{Text: "x", Tags: map[string]string{"color": "red"}},
			http.StatusBadRequest, ErrorCodeInvalidItem},
		{"dimension mismatch", "w-1", ItemRequest{Text: "x", Embedding: []float32{1, 0}},
			http.StatusBadRequest, ErrorCodeVectorDimMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPut, "/v1/items/"+strings.ReplaceAll(tt.id, " ", "%20"), tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status %d, want %d: %s", rr.Code, tt.status, rr.Body)
			}
			resp := decode[ErrorResponse](t, rr)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
	if api.items.Len() != 0 {
		t.Errorf("rejected items were stored: %d", api.items.Len())
	}
}

func TestPutItem_EmbeddingOutageStoresNothing(t *testing.T) {
	api := newTestAPI(t)
	api.embedder.fail()

	rr := api.do(t, http.MethodPut, "/v1/items/w-1", ItemRequest{Text: "hill repeats"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status %d, want 502: %s", rr.Code, rr.Body)
	}
	if api.items.Len() != 0 {
		t.Errorf("partial item stored")
	}
}

func TestGetItem(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "w-1", "hill repeats", "run")

	rr := api.do(t, http.MethodGet, "/v1/items/w-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	resp := decode[ItemResponse](t, rr)
	if resp.ID != "w-1" || resp.Text != "hill repeats" || resp.Tags[schema.SportType] != "run" {
		t.Errorf("item = %+v", resp)
	}
	if len(resp.Embedding) != 0 {
		t.Error("embedding returned without include_embedding")
	}
	if resp.EmbeddingModel != "hashing-v1" || resp.CreatedAt.IsZero() {
		t.Errorf("metadata = %q / %v", resp.EmbeddingModel, resp.CreatedAt)
	}

	rr = api.do(t, http.MethodGet, "/v1/items/w-1?include_embedding=true", nil)
	if resp := decode[ItemResponse](t, rr); len(resp.Embedding) != testDims {
		t.Errorf("embedding length = %d", len(resp.Embedding))
	}

	rr = api.do(t, http.MethodGet, "/v1/items/w-1?include_embedding=maybe", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad bool param: status %d", rr.Code)
	}

	rr = api.do(t, http.MethodGet, "/v1/items/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing item: status %d", rr.Code)
	}
}

func TestBatchPut_PerItemResults(t *testing.T) {
	api := newTestAPI(t)
	api.putWorkout(t, "existing", "old text", "run")

	rr := api.do(t, http.MethodPost, "/v1/items/batch", BatchRequest{Items: []BatchItem{
		{ID: "new", ItemRequest: ItemRequest{Text: "bike intervals"}},
		{ID: "existing", ItemRequest: ItemRequest{Text: "new text"}},
		{ID: "", ItemRequest: ItemRequest{Text: "no id"}},
		{ID: "bad-attr", ItemRequest: ItemRequest{Text: "x", Numerics: map[string]float64{"pace": 1}}},
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}

	resp := decode[BatchResponse](t, rr)
	if resp.Stored != 2 || resp.Failed != 2 {
		t.Errorf("stored/failed = %d/%d", resp.Stored, resp.Failed)
	}
	wantStatus := []string{"created", "updated", "error", "error"}
	for i, want := range wantStatus {
		if resp.Items[i].Status != want {
			t.Errorf("item %d status = %q, want %q", i, resp.Items[i].Status, want)
		}
	}
	if resp.Items[2].Error == nil || resp.Items[2].Error.Code != ErrorCodeInvalidItem {
		t.Errorf("item 2 error = %+v", resp.Items[2].Error)
	}
}

func TestBatchPut_SizeBounds(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/v1/items/batch", BatchRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status %d", rr.Code)
	}

	items := make([]BatchItem, 11)
	for i := range items {
		items[i] = BatchItem{ID: "w-" + string(rune('a'+i)), ItemRequest: ItemRequest{Text: "x"}}
	}
	rr = api.do(t, http.MethodPost, "/v1/items/batch", BatchRequest{Items: items})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("oversized batch: status %d", rr.Code)
	}
}

func TestGetIndex(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/v1/index", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	resp := decode[IndexResponse](t, rr)
	if resp.Strategy != "direct" || resp.Consistency != "synchronous" || resp.EmbedsQuery {
		t.Errorf("index = %+v", resp)
	}
	if resp.Thresholds.Excellent != 0.90 || resp.LastRefreshAt != nil {
		t.Errorf("index = %+v", resp)
	}
}

func TestGetIndex_LastRefresh(t *testing.T) {
	api := newTestAPI(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api.server.svc.Refresh = fakeRefresh{at: at}

	rr := api.do(t, http.MethodGet, "/v1/index", nil)
	resp := decode[IndexResponse](t, rr)
	if resp.LastRefreshAt == nil || !resp.LastRefreshAt.Equal(at) {
		t.Errorf("last refresh = %v", resp.LastRefreshAt)
	}
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Status != "ok" || resp.Checks["database"] != "ok" || resp.Checks["embedding"] != "ok" {
		t.Errorf("health = %+v", resp)
	}

	api.embedder.fail()
	rr = api.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("degraded status %d", rr.Code)
	}
	if resp := decode[HealthResponse](t, rr); resp.Status != "degraded" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestAuth_AppliedToRoutes(t *testing.T) {
	api := newTestAPI(t, "secret")

	rr := api.do(t, http.MethodPost, "/v1/cache/lookup", QueryRequest{Text: "x"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("lookup without token: status %d", rr.Code)
	}
	rr = api.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("health without token: status %d", rr.Code)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := JSONRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rr.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil || resp.Code != ErrorCodeInternalError {
		t.Errorf("body = %+v, err %v", resp, err)
	}
}

func TestWideEventMiddleware_RequestID(t *testing.T) {
	rr := newTestAPI(t).do(t, http.MethodGet, "/v1/unknown", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}
