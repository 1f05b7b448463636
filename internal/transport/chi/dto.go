package chi

import (
	"encoding/json"
	"time"
)

// ErrorCode is a machine-readable error classification.
type ErrorCode string

// Error codes returned in ErrorResponse.Code.
const (
	ErrorCodeBadRequest           ErrorCode = "bad_request"
	ErrorCodeUnauthorized         ErrorCode = "unauthorized"
	ErrorCodeInvalidQuery         ErrorCode = "invalid_query"
	ErrorCodeInvalidItem          ErrorCode = "invalid_item"
	ErrorCodeVectorDimMismatch    ErrorCode = "vector_dim_mismatch"
	ErrorCodeNotFound             ErrorCode = "not_found"
	ErrorCodeEmbeddingUnavailable ErrorCode = "embedding_unavailable"
	ErrorCodeBackendUnavailable   ErrorCode = "backend_unavailable"
	ErrorCodeStoreWriteFailure    ErrorCode = "store_write_failure"
	ErrorCodeRateLimited          ErrorCode = "rate_limited"
	ErrorCodeInternalError        ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// QueryRequest is the body of the lookup and search endpoints.
//
// Filters maps attribute names to constraints: a string is an exact tag match, a
// number is an exact numeric match and an object with gt/gte/lt/lte is a range.
type QueryRequest struct {
	Text     string         `json:"text"`
	Filters  map[string]any `json:"filters,omitempty"`
	Limit    *int           `json:"limit,omitempty"`
	MinScore *float64       `json:"min_score,omitempty"`
}

// MatchResponse is one ranked cache entry.
type MatchResponse struct {
	ID       string             `json:"id"`
	Score    float64            `json:"score"`
	Decision string             `json:"decision"`
	Text     string             `json:"text"`
	Tags     map[string]string  `json:"tags,omitempty"`
	Numerics map[string]float64 `json:"numerics,omitempty"`
	Payload  json.RawMessage    `json:"payload,omitempty"`
}

// LookupResponse is the cache verdict for a query.
type LookupResponse struct {
	Decision string          `json:"decision"`
	Hit      bool            `json:"hit"`
	Degraded bool            `json:"degraded"`
	Matches  []MatchResponse `json:"matches"`
}

// SearchResponse lists ranked matches without a verdict.
type SearchResponse struct {
	Items []MatchResponse `json:"items"`
	Total int             `json:"total"`
}

// ItemRequest is the body of PUT /v1/items/{id}.
type ItemRequest struct {
	Text           string             `json:"text"`
	Tags           map[string]string  `json:"tags,omitempty"`
	Numerics       map[string]float64 `json:"numerics,omitempty"`
	Payload        json.RawMessage    `json:"payload,omitempty"`
	Embedding      []float32          `json:"embedding,omitempty"`
	EmbeddingModel string             `json:"embedding_model,omitempty"`
}

// BatchItem is one entry of a batch ingest.
type BatchItem struct {
	ID string `json:"id"`
	ItemRequest
}

// BatchRequest is the body of POST /v1/items/batch.
type BatchRequest struct {
	Items []BatchItem `json:"items"`
}

// BatchResultItem reports the outcome for one submitted item.
type BatchResultItem struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// BatchResponse lists per-item outcomes in submission order.
type BatchResponse struct {
	Items  []BatchResultItem `json:"items"`
	Stored int               `json:"stored"`
	Failed int               `json:"failed"`
}

// ItemResponse is a stored item.
type ItemResponse struct {
	ID             string             `json:"id"`
	Text           string             `json:"text"`
	Tags           map[string]string  `json:"tags,omitempty"`
	Numerics       map[string]float64 `json:"numerics,omitempty"`
	Payload        json.RawMessage    `json:"payload,omitempty"`
	EmbeddingModel string             `json:"embedding_model,omitempty"`
	Embedding      []float32          `json:"embedding,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// GetItemParams are the query parameters of GET /v1/items/{id}.
type GetItemParams struct {
	IncludeEmbedding *bool `json:"include_embedding,omitempty"`
}

// ThresholdsResponse echoes the active decision thresholds.
type ThresholdsResponse struct {
	Excellent float64 `json:"excellent"`
	VeryGood  float64 `json:"very_good"`
	Good      float64 `json:"good"`
}

// IndexResponse describes the active index backend.
type IndexResponse struct {
	Strategy         string             `json:"strategy"`
	Consistency      string             `json:"consistency"`
	TargetLagSeconds float64            `json:"target_lag_seconds"`
	EmbedsQuery      bool               `json:"embeds_query"`
	LastRefreshAt    *time.Time         `json:"last_refresh_at,omitempty"`
	Thresholds       ThresholdsResponse `json:"thresholds"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
