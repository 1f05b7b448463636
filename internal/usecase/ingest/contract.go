package ingest

import (
	"context"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
)

// ItemStore persists items.
type ItemStore interface {
	Put(ctx context.Context, it item.Item) error
	Get(ctx context.Context, id string) (item.Item, error)
}

// Embedder vectorizes item text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
