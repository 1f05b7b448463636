// Package embedding holds the embedding decorators shared by the query and ingestion paths.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/metrics"
)

// InstrumentedEmbedder normalizes provider failures and checks vector shape.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai;
// this layer owns the provider error classification.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	dims     int
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. dims <= 0 disables the dimension check.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string, dims int, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		dims:     dims,
		logger:   logger,
	}
}

// Embed delegates and guarantees that any failure wraps domain.ErrEmbeddingProviderError
// and that a returned vector has the model's dimension.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	start := time.Now()

	result, err := p.inner.Embed(ctx, text)

	duration := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
		}
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrEmbeddingProviderError) || errors.Is(err, domain.ErrRateLimited) {
			return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
		}
		return domain.EmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
	}

	if len(result.Embedding) == 0 || (p.dims > 0 && len(result.Embedding) != p.dims) {
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, p.model, "dimension").Inc()
		p.logger.Error("Embedding has unexpected dimension",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Int("got", len(result.Embedding)),
			zap.Int("want", p.dims),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("%w: got %d dimensions, want %d",
			domain.ErrEmbeddingProviderError, len(result.Embedding), p.dims)
	}

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)
	domain.UsageFromContext(ctx).AddTokens(result.TotalTokens)

	return result, nil
}

// HealthCheck forwards to the wrapped embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
