// Package chi exposes the workout cache over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	dombatch "github.com/kailas-cloud/workoutcache/internal/domain/batch"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
	logpkg "github.com/kailas-cloud/workoutcache/internal/logger"
	"github.com/kailas-cloud/workoutcache/internal/metrics"
	healthuc "github.com/kailas-cloud/workoutcache/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/workoutcache/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/workoutcache/internal/usecase/search"
)

// maxBodyBytes bounds request bodies; a full batch of maximum-size items fits.
const maxBodyBytes = 8 << 20

// ItemReader reads stored items (ISP).
type ItemReader interface {
	Get(ctx context.Context, id string) (item.Item, error)
}

// RefreshTracker is implemented by index backends that refresh in the background.
type RefreshTracker interface {
	LastRefresh() time.Time
}

// Services are the use cases behind the HTTP API.
type Services struct {
	Search *searchuc.Service
	Ingest *ingestuc.Service
	Health *healthuc.Service
	Items  ItemReader
	// Refresh is nil for backends that index synchronously.
	Refresh RefreshTracker
}

// Server implements ServerInterface.
type Server struct {
	svc          Services
	schema       schema.Schema
	defaultLimit int
	maxBatchSize int
	logger       *zap.Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server.
func NewServer(svc Services, sch schema.Schema, defaultLimit, maxBatchSize int, logger *zap.Logger) *Server {
	if defaultLimit <= 0 {
		defaultLimit = request.DefaultLimit
	}
	if maxBatchSize <= 0 {
		maxBatchSize = ingestuc.MaxBatchSize
	}
	return &Server{
		svc:          svc,
		schema:       sch,
		defaultLimit: defaultLimit,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// Lookup handles POST /v1/cache/lookup. Upstream failures degrade to a MISS.
func (s *Server) Lookup(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	v, err := s.svc.Search.Lookup(ctx, &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, LookupResponse{
		Decision: v.Decision.String(),
		Hit:      v.Decision.IsHit(),
		Degraded: v.Degraded,
		Matches:  matchesToResponse(v.Matches),
	})
}

// Search handles POST /v1/cache/search. Upstream failures are returned as errors.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	matches, err := s.svc.Search.FindCached(ctx, &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	items := matchesToResponse(matches)
	writeJSON(w, http.StatusOK, SearchResponse{Items: items, Total: len(items)})
}

// PutItem handles PUT /v1/items/{id}.
func (s *Server) PutItem(w http.ResponseWriter, r *http.Request, id string) {
	var req ItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	it, err := itemFromRequest(id, req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	ctx, usage := domain.NewContextWithUsage(logpkg.With(r.Context(), zap.String("item_id", id)))
	r = r.WithContext(ctx)
	out, err := s.svc.Ingest.Store(ctx, it)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
		w.Header().Set("Location", "/v1/items/"+id)
	}
	writeJSON(w, status, itemToResponse(out.Item, false))
}

// GetItem handles GET /v1/items/{id}.
func (s *Server) GetItem(w http.ResponseWriter, r *http.Request, id string, params GetItemParams) {
	it, err := s.svc.Items.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	withEmbedding := params.IncludeEmbedding != nil && *params.IncludeEmbedding
	writeJSON(w, http.StatusOK, itemToResponse(it, withEmbedding))
}

// BatchPut handles POST /v1/items/batch. Item failures are reported per item.
func (s *Server) BatchPut(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 || len(req.Items) > s.maxBatchSize {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidItem,
			fmt.Sprintf("items count must be between 1 and %d", s.maxBatchSize))
		return
	}

	out := make([]BatchResultItem, len(req.Items))
	valid := make([]item.Item, 0, len(req.Items))
	positions := make([]int, 0, len(req.Items))
	for i, bi := range req.Items {
		it, err := itemFromRequest(bi.ID, bi.ItemRequest)
		if err != nil {
			out[i] = batchResultToResponse(dombatch.NewError(i, bi.ID, err))
			continue
		}
		valid = append(valid, it)
		positions = append(positions, i)
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	for j, res := range s.svc.Ingest.StoreBatch(ctx, valid) {
		out[positions[j]] = batchResultToResponse(res)
	}

	resp := BatchResponse{Items: out}
	for _, it := range out {
		if it.Error != nil {
			resp.Failed++
		} else {
			resp.Stored++
		}
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, resp)
}

// GetIndex handles GET /v1/index.
func (s *Server) GetIndex(w http.ResponseWriter, _ *http.Request) {
	p := s.svc.Search.RefreshPolicy()
	t := s.svc.Search.Thresholds()

	resp := IndexResponse{
		Strategy:         string(p.Strategy),
		Consistency:      string(p.Consistency),
		TargetLagSeconds: p.TargetLag.Seconds(),
		EmbedsQuery:      p.EmbedsQuery,
		Thresholds: ThresholdsResponse{
			Excellent: t.Excellent,
			VeryGood:  t.VeryGood,
			Good:      t.Good,
		},
	}
	if s.svc.Refresh != nil {
		if last := s.svc.Refresh.LastRefresh(); !last.IsZero() {
			l := last.UTC()
			resp.LastRefreshAt = &l
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{Status: string(report.Status), Checks: checks})
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (request.Request, bool) {
	var body QueryRequest
	if !decodeBody(w, r, &body) {
		return request.Request{}, false
	}

	filters, err := filtersFromJSON(body.Filters, s.schema)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidQuery, "invalid filters: "+err.Error())
		return request.Request{}, false
	}

	limit := s.defaultLimit
	if body.Limit != nil {
		limit = *body.Limit
	}

	req, err := request.New(body.Text, filters, limit, body.MinScore)
	if err != nil {
		s.handleDomainError(w, r, err)
		return request.Request{}, false
	}
	return req, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func itemFromRequest(id string, req ItemRequest) (item.Item, error) {
	it, err := item.New(id, req.Text, req.Tags, req.Numerics, req.Payload)
	if err != nil {
		return item.Item{}, fmt.Errorf("%w: %w", domain.ErrInvalidItem, err)
	}
	if len(req.Embedding) > 0 {
		it = it.WithEmbedding(req.Embedding, req.EmbeddingModel)
	}
	return it, nil
}

func itemToResponse(it item.Item, withEmbedding bool) ItemResponse {
	resp := ItemResponse{
		ID:             it.ID(),
		Text:           it.Text(),
		Tags:           it.Tags(),
		Numerics:       it.Numerics(),
		Payload:        payloadJSON(it.Payload()),
		EmbeddingModel: it.EmbeddingModel(),
		CreatedAt:      it.CreatedAt().UTC(),
		UpdatedAt:      it.UpdatedAt().UTC(),
	}
	if withEmbedding {
		resp.Embedding = it.Embedding()
	}
	return resp
}

func matchesToResponse(ms []searchuc.Match) []MatchResponse {
	out := make([]MatchResponse, len(ms))
	for i, m := range ms {
		it := m.Result.Item()
		out[i] = MatchResponse{
			ID:       m.Result.ID(),
			Score:    m.Result.Score(),
			Decision: m.Decision.String(),
			Text:     it.Text(),
			Tags:     it.Tags(),
			Numerics: it.Numerics(),
			Payload:  payloadJSON(it.Payload()),
		}
	}
	return out
}

// payloadJSON returns a stored payload as JSON; non-JSON payloads become a string.
func payloadJSON(p []byte) json.RawMessage {
	if len(p) == 0 {
		return nil
	}
	if json.Valid(p) {
		return p
	}
	b, err := json.Marshal(string(p))
	if err != nil {
		return nil
	}
	return b
}

func batchResultToResponse(r dombatch.Result) BatchResultItem {
	out := BatchResultItem{ID: r.ID(), Status: string(r.Status())}
	if err := r.Err(); err != nil {
		out.Error = errorBody(err)
	}
	return out
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used() {
		w.Header().Set(metrics.EmbeddingTokensHeader, strconv.FormatInt(usage.Tokens(), 10))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
