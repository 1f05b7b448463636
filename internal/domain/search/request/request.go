package request

import (
	"fmt"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed query text length.
	MaxQueryLength = 4096
	DefaultLimit   = 5
	MaxLimit       = 100
)

// Request is a validated cache query.
type Request struct {
	text     string
	filters  filter.Expression
	limit    int
	minScore *float64
}

// New validates and normalizes query parameters.
// A zero limit is valid and yields no results. Limit is clamped to MaxLimit.
func New(text string, filters filter.Expression, limit int, minScore *float64) (Request, error) {
	if text == "" {
		return Request{}, fmt.Errorf("%w: query text is required", domain.ErrInvalidQuery)
	}
	if len(text) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidQuery, MaxQueryLength)
	}
	if limit < 0 {
		return Request{}, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidQuery)
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if minScore != nil && (*minScore < 0 || *minScore > 1) {
		return Request{}, fmt.Errorf("%w: min_score must be between 0 and 1", domain.ErrInvalidQuery)
	}

	return Request{text: text, filters: filters, limit: limit, minScore: minScore}, nil
}

// Text returns the query text.
func (r *Request) Text() string { return r.text }

// Filters returns the pre-filter expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// MinScore returns the minimum similarity threshold and whether one was given.
func (r *Request) MinScore() (float64, bool) {
	if r.minScore == nil {
		return 0, false
	}
	return *r.minScore, true
}

// Probe is what the query pipeline hands to an index backend.
// Vector is set only for backends that do not embed queries themselves.
type Probe struct {
	Text    string
	Vector  []float32
	Filters filter.Expression
	Limit   int
}
