package domain

import (
	"time"

	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
)

// Consistency describes when a stored item becomes visible to search.
type Consistency string

const (
	// ConsistencyEventual means visible within the target lag.
	ConsistencyEventual Consistency = "eventual"
	// ConsistencySynchronous means visible once Put returns.
	ConsistencySynchronous Consistency = "synchronous"
)

// RefreshPolicy is what a backend reports about its freshness contract.
type RefreshPolicy struct {
	Strategy    mode.Mode
	Consistency Consistency
	TargetLag   time.Duration
	// EmbedsQuery is true when the backend turns raw query text into a vector on its own.
	EmbedsQuery bool
}
