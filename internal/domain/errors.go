package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery signals a malformed query or a filter that violates the attribute schema.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidItem signals an item that cannot be ingested as-is.
	ErrInvalidItem = fmt.Errorf("%w: invalid item", ErrInvalidQuery)
	// ErrVectorDimMismatch signals a vector whose length differs from the configured model dimension.
	ErrVectorDimMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrInvalidQuery)

	// ErrEmbeddingUnavailable signals that no embedding could be obtained for a text.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure (quota, timeout, 5xx).
	ErrEmbeddingProviderError = errors.New("embedding provider error")

	// ErrBackendUnavailable signals an overloaded, throttled or unreachable index backend.
	ErrBackendUnavailable = errors.New("index backend unavailable")
	// ErrNotFound signals a missing item.
	ErrNotFound = errors.New("not found")
	// ErrStoreWriteFailure signals that the item store rejected a write.
	ErrStoreWriteFailure = errors.New("store write failure")
	// ErrRateLimited signals a local admission limit.
	ErrRateLimited = errors.New("rate limited")
)

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidQuery) {
		return false
	}
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrEmbeddingProviderError) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrRateLimited)
}
