// Package search is the query pipeline: validate, embed when the backend needs a
// vector, search, then label every hit with the cache decision policy.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/result"
	"github.com/kailas-cloud/workoutcache/internal/metrics"
	"github.com/kailas-cloud/workoutcache/internal/retry"
)

// Config bounds the pipeline. Zero timeouts fall back to the defaults below.
type Config struct {
	EmbeddingTimeout time.Duration
	SearchTimeout    time.Duration
	MaxConcurrent    int64
	Retry            retry.Config
}

const (
	defaultEmbeddingTimeout = 5 * time.Second
	defaultSearchTimeout    = 2 * time.Second
	defaultMaxConcurrent    = 64
)

// Match is a ranked hit annotated with its cache decision.
type Match struct {
	Result   result.Result
	Decision decision.Label
}

// Verdict is the outcome of a cache lookup. Degraded is set when an upstream
// failure was turned into a MISS; Cause holds that failure.
type Verdict struct {
	Decision decision.Label
	Matches  []Match
	Degraded bool
	Cause    error
}

// Option configures a Service.
type Option func(*Service)

// WithFallback answers from b when the primary backend is unavailable.
func WithFallback(b Backend) Option {
	return func(s *Service) { s.fallback = b }
}

// Service runs cache queries. Safe for concurrent use.
type Service struct {
	backend  Backend
	fallback Backend
	embed    Embedder
	policy   decision.Policy
	schema   schema.Schema
	cfg      Config
	sem      *semaphore.Weighted
	logger   *zap.Logger
}

// New creates a query pipeline over backend.
func New(
	backend Backend, embed Embedder, policy decision.Policy, sch schema.Schema,
	cfg Config, logger *zap.Logger, opts ...Option,
) *Service {
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = defaultEmbeddingTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	s := &Service{
		backend: backend,
		embed:   embed,
		policy:  policy,
		schema:  sch,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RefreshPolicy reports the primary backend's freshness contract.
func (s *Service) RefreshPolicy() domain.RefreshPolicy {
	return s.backend.RefreshPolicy()
}

// Thresholds returns the active decision thresholds.
func (s *Service) Thresholds() decision.Thresholds {
	return s.policy.Thresholds()
}

// FindCached returns ranked, labeled matches. Errors are typed: domain.ErrInvalidQuery,
// domain.ErrEmbeddingUnavailable, domain.ErrBackendUnavailable or the caller's
// context error.
func (s *Service) FindCached(ctx context.Context, req *request.Request) ([]Match, error) {
	if err := s.schema.ValidateFilters(req.Filters()); err != nil {
		return nil, fmt.Errorf("validate filters: %w", err)
	}
	if req.Limit() == 0 {
		return []Match{}, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire query slot: %w", err)
	}
	metrics.InFlightQueries.Inc()
	defer func() {
		metrics.InFlightQueries.Dec()
		s.sem.Release(1)
	}()

	start := time.Now()
	strategy := string(s.backend.RefreshPolicy().Strategy)

	results, err := s.searchWith(ctx, s.backend, req)
	if err != nil && s.fallback != nil && errors.Is(err, domain.ErrBackendUnavailable) && ctx.Err() == nil {
		to := string(s.fallback.RefreshPolicy().Strategy)
		s.logger.Warn("Primary backend unavailable, using fallback",
			zap.String("from", strategy), zap.String("to", to), zap.Error(err))
		metrics.FallbackTotal.WithLabelValues(strategy, to).Inc()
		results, err = s.searchWith(ctx, s.fallback, req)
	}
	if err != nil {
		metrics.SearchDuration.WithLabelValues(strategy, "error").Observe(time.Since(start).Seconds())
		metrics.BackendErrorsTotal.WithLabelValues(strategy, errorKind(err)).Inc()
		return nil, err
	}
	metrics.SearchDuration.WithLabelValues(strategy, "ok").Observe(time.Since(start).Seconds())

	return s.rank(results, req), nil
}

// Lookup is FindCached for the hot path: any failure other than a bad query or a
// caller cancellation degrades to a MISS so generation can proceed.
func (s *Service) Lookup(ctx context.Context, req *request.Request) (Verdict, error) {
	strategy := string(s.backend.RefreshPolicy().Strategy)

	matches, err := s.FindCached(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return Verdict{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, ctxErr //nolint:wrapcheck // caller cancellation
		}
		s.logger.Warn("Cache lookup failed open", zap.String("backend", strategy), zap.Error(err))
		metrics.FailOpenTotal.WithLabelValues(strategy, errorKind(err)).Inc()
		metrics.LookupsTotal.WithLabelValues(strategy, decision.Miss.String()).Inc()
		return Verdict{Decision: decision.Miss, Matches: []Match{}, Degraded: true, Cause: err}, nil
	}

	best := decision.Miss
	if len(matches) > 0 {
		best = matches[0].Decision
	}
	metrics.LookupsTotal.WithLabelValues(strategy, best.String()).Inc()
	return Verdict{Decision: best, Matches: matches}, nil
}

func (s *Service) searchWith(ctx context.Context, b Backend, req *request.Request) ([]result.Result, error) {
	probe := request.Probe{
		Text:    req.Text(),
		Filters: req.Filters(),
		Limit:   req.Limit(),
	}
	if !b.RefreshPolicy().EmbedsQuery {
		vec, err := s.embedQuery(ctx, req.Text())
		if err != nil {
			return nil, err
		}
		probe.Vector = vec
	}

	var results []result.Result
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()

		rs, err := b.Search(sctx, probe)
		if err == nil {
			results = rs
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, domain.ErrInvalidQuery) || errors.Is(err, domain.ErrBackendUnavailable) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: search timed out after %s", domain.ErrBackendUnavailable, s.cfg.SearchTimeout)
		}
		return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // caller cancellation
		}
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}

func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbeddingTimeout)
		defer cancel()

		res, err := s.embed.Embed(ectx, text)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		vec = res.Embedding
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // caller cancellation
		}
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	return vec, nil
}

// rank re-sorts defensively, applies min_score and limit, then labels each hit.
func (s *Service) rank(results []result.Result, req *request.Request) []Match {
	result.Sort(results)

	if minScore, ok := req.MinScore(); ok {
		kept := results[:0]
		for _, r := range results {
			if r.Score() >= minScore {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	results = result.Truncate(results, req.Limit())

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{Result: r, Decision: s.policy.Decide(r.Score())}
	}
	return matches
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, domain.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
