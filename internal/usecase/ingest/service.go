// Package ingest is the write path: validate, embed when the backend needs stored
// vectors, then put. An item is either stored whole or not at all.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	dombatch "github.com/kailas-cloud/workoutcache/internal/domain/batch"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/metrics"
	"github.com/kailas-cloud/workoutcache/internal/retry"
)

const (
	// MaxBatchSize is the maximum number of items per batch request.
	MaxBatchSize            = 100
	defaultBatchConcurrency = 8
	defaultEmbeddingTimeout = 5 * time.Second
)

// Config tunes the write path.
type Config struct {
	// Strategy decides whether items need a stored embedding before they become visible.
	Strategy         mode.Mode
	Model            string
	Dimensions       int
	EmbeddingTimeout time.Duration
	BatchConcurrency int
	MaxBatchSize     int
	Retry            retry.Config
}

// Outcome describes a stored item.
type Outcome struct {
	Item     item.Item
	Created  bool
	Embedded bool // a provider call was made
}

// Service stores items. Safe for concurrent use.
type Service struct {
	items  ItemStore
	embed  Embedder
	schema schema.Schema
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New creates an ingestion service.
func New(items ItemStore, embed Embedder, sch schema.Schema, cfg Config, logger *zap.Logger) *Service {
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = defaultEmbeddingTimeout
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = MaxBatchSize
	}
	return &Service{
		items:  items,
		embed:  embed,
		schema: sch,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Store validates and persists an item. For the direct strategy the item carries an
// embedding when Put is called; an unchanged text reuses the stored embedding.
func (s *Service) Store(ctx context.Context, it item.Item) (Outcome, error) {
	out, err := s.store(ctx, it)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IngestTotal.WithLabelValues(string(s.cfg.Strategy), status).Inc()
	return out, err
}

func (s *Service) store(ctx context.Context, it item.Item) (Outcome, error) {
	if it.ID() == "" || it.Text() == "" {
		return Outcome{}, fmt.Errorf("%w: id and text are required", domain.ErrInvalidItem)
	}
	if err := s.schema.ValidateAttributes(it.Tags(), it.Numerics()); err != nil {
		return Outcome{}, fmt.Errorf("validate attributes: %w", err)
	}

	existing, err := s.items.Get(ctx, it.ID())
	created := errors.Is(err, domain.ErrNotFound)
	if err != nil && !created {
		return Outcome{}, fmt.Errorf("%w: read %s: %w", domain.ErrStoreWriteFailure, it.ID(), err)
	}

	now := s.now()
	createdAt := now
	if !created && !existing.CreatedAt().IsZero() {
		createdAt = existing.CreatedAt()
	}
	it = it.WithTimestamps(createdAt, now)

	embedded := false
	switch {
	case it.HasEmbedding():
		if s.cfg.Dimensions > 0 && len(it.Embedding()) != s.cfg.Dimensions {
			return Outcome{}, fmt.Errorf("%w: item has %d, model has %d",
				domain.ErrVectorDimMismatch, len(it.Embedding()), s.cfg.Dimensions)
		}
		if it.EmbeddingModel() == "" {
			it = it.WithEmbedding(it.Embedding(), s.cfg.Model)
		}
	case !created && reusable(existing, it, s.cfg.Model):
		it = it.WithEmbedding(existing.Embedding(), existing.EmbeddingModel())
	case s.cfg.Strategy == mode.Direct:
		vec, err := s.embedText(ctx, it.Text())
		if err != nil {
			return Outcome{}, err
		}
		it = it.WithEmbedding(vec, s.cfg.Model)
		embedded = true
	}

	if err := s.items.Put(ctx, it); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr //nolint:wrapcheck // caller cancellation
		}
		return Outcome{}, fmt.Errorf("%w: put %s: %w", domain.ErrStoreWriteFailure, it.ID(), err)
	}

	s.logger.Debug("Item stored",
		zap.String("id", it.ID()),
		zap.Bool("created", created),
		zap.Bool("embedded", embedded),
	)
	return Outcome{Item: it, Created: created, Embedded: embedded}, nil
}

// reusable reports whether the stored embedding still describes next's text.
func reusable(prev, next item.Item, model string) bool {
	return prev.HasEmbedding() &&
		prev.TextDigest() == next.TextDigest() &&
		(model == "" || prev.EmbeddingModel() == model)
}

func (s *Service) embedText(ctx context.Context, text string) ([]float32, error) {
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
		if s.cfg.Dimensions > 0 && len(res.Embedding) != s.cfg.Dimensions {
			return fmt.Errorf("%w: provider returned %d dimensions, want %d",
				domain.ErrEmbeddingUnavailable, len(res.Embedding), s.cfg.Dimensions)
		}
		vec = res.Embedding
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // caller cancellation
		}
		return nil, fmt.Errorf("vectorize: %w", err)
	}
	return vec, nil
}

// StoreBatch stores items concurrently with per-item results in input order.
// A rate-limited provider aborts the items that have not started yet.
func (s *Service) StoreBatch(ctx context.Context, items []item.Item) []dombatch.Result {
	results := make([]dombatch.Result, len(items))

	if len(items) > s.cfg.MaxBatchSize {
		err := fmt.Errorf("%w: batch size exceeds %d", domain.ErrInvalidItem, s.cfg.MaxBatchSize)
		for i, it := range items {
			results[i] = dombatch.NewError(i, it.ID(), err)
		}
		return results
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	seen := make(map[string]bool, len(items))
	g := &errgroup.Group{}
	g.SetLimit(s.cfg.BatchConcurrency)

	for i, it := range items {
		if seen[it.ID()] {
			results[i] = dombatch.NewError(i, it.ID(),
				fmt.Errorf("%w: duplicate id %q in batch", domain.ErrInvalidItem, it.ID()))
			continue
		}
		seen[it.ID()] = true

		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = dombatch.NewError(i, it.ID(), fmt.Errorf("skipped: %w", context.Cause(ctx)))
				return nil
			}
			out, err := s.Store(ctx, it)
			if err != nil {
				if errors.Is(err, domain.ErrRateLimited) {
					cancel(err)
				}
				results[i] = dombatch.NewError(i, it.ID(), err)
				return nil
			}
			results[i] = dombatch.NewStored(i, it.ID(), out.Created)
			return nil
		})
	}
	_ = g.Wait()

	stored, failed := dombatch.Summary(results)
	s.logger.Info("Batch stored", zap.Int("stored", stored), zap.Int("failed", failed))
	return results
}
