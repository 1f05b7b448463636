package search

import (
	"context"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/result"
)

// Backend is an index strategy. Implementations report their freshness contract
// and whether they embed query text on their own.
type Backend interface {
	Search(ctx context.Context, p request.Probe) ([]result.Result, error)
	RefreshPolicy() domain.RefreshPolicy
}

// Embedder vectorizes query text for backends that do not embed queries themselves.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
