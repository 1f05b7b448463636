package workoutcache

import "github.com/kailas-cloud/workoutcache/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidQuery           = domain.ErrInvalidQuery
	ErrInvalidItem            = domain.ErrInvalidItem
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrEmbeddingUnavailable   = domain.ErrEmbeddingUnavailable
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrBackendUnavailable     = domain.ErrBackendUnavailable
	ErrNotFound               = domain.ErrNotFound
	ErrStoreWriteFailure      = domain.ErrStoreWriteFailure
	ErrRateLimited            = domain.ErrRateLimited
)
