package health

import (
	"context"
	"time"

	"github.com/kailas-cloud/workoutcache/internal/domain"
)

// DBPinger checks item store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexReporter reports the index freshness contract.
type IndexReporter interface {
	RefreshPolicy() domain.RefreshPolicy
}

// RefreshTracker is implemented by backends that refresh in the background.
type RefreshTracker interface {
	LastRefresh() time.Time
}
