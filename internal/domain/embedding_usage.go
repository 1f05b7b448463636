package domain

import (
	"context"
	"sync/atomic"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects provider token usage for a single request.
// The handler puts it into the context before calling a service; the embedding
// layer records into it; the handler reads it for response headers.
// Safe for concurrent use, as batch ingest embeds in parallel.
type EmbeddingUsage struct {
	tokens atomic.Int64
	calls  atomic.Int64
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records one provider call that consumed n tokens. Nil-safe.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.tokens.Add(int64(n))
	u.calls.Add(1)
}

// Tokens returns the total tokens recorded.
func (u *EmbeddingUsage) Tokens() int64 {
	if u == nil {
		return 0
	}
	return u.tokens.Load()
}

// Used reports whether any provider call was recorded.
func (u *EmbeddingUsage) Used() bool {
	return u != nil && u.calls.Load() > 0
}
