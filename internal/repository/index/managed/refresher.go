package managed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

const refreshBatch = 100

// Stats summarizes one refresh pass.
type Stats struct {
	Scanned   int
	Embedded  int
	Reused    int
	Metadata  int
	Unchanged int
	Failed    int
	Duration  time.Duration
}

// Run refreshes immediately and then every RefreshInterval until ctx is done.
func (x *Index) Run(ctx context.Context) {
	ticker := time.NewTicker(x.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		if _, err := x.Refresh(ctx); err != nil && ctx.Err() == nil {
			x.logger.Error("Managed index refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh brings the mirror in line with the item store. Items whose text changed
// are re-embedded unless the item already carries a vector from the index model;
// metadata-only changes keep the mirrored vector. Per-item embed failures are
// counted and retried on the next pass.
func (x *Index) Refresh(ctx context.Context) (Stats, error) {
	x.refreshMu.Lock()
	defer x.refreshMu.Unlock()

	start := time.Now()
	var st Stats
	batch := make([]item.Item, 0, refreshBatch)

	for it, err := range x.items.List(ctx, filter.Expression{}) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return st, ctxErr //nolint:wrapcheck // caller cancellation
			}
			x.logger.Warn("Skipping unreadable item during refresh", zap.Error(err))
			st.Failed++
			continue
		}
		batch = append(batch, it)
		if len(batch) == refreshBatch {
			if err := x.refreshBatch(ctx, batch, &st); err != nil {
				return st, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := x.refreshBatch(ctx, batch, &st); err != nil {
			return st, err
		}
	}

	st.Duration = time.Since(start)
	now := time.Now()
	x.mu.Lock()
	x.lastRefresh = now
	x.mu.Unlock()
	if x.cfg.LastRefresh != nil {
		x.cfg.LastRefresh.Set(float64(now.Unix()))
	}

	x.logger.Debug("Managed index refreshed",
		zap.Int("scanned", st.Scanned),
		zap.Int("embedded", st.Embedded),
		zap.Int("reused", st.Reused),
		zap.Int("metadata", st.Metadata),
		zap.Int("failed", st.Failed),
		zap.Duration("duration", st.Duration),
	)
	return st, nil
}

func (x *Index) refreshBatch(ctx context.Context, batch []item.Item, st *Stats) error {
	keys := make([]string, len(batch))
	for i, it := range batch {
		keys[i] = x.mirrorKey(it.ID())
	}
	existing, err := x.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return fmt.Errorf("read mirror: %w", err)
	}

	for i, it := range batch {
		st.Scanned++
		switch classify(it, existing[i], x.cfg.Model) {
		case mirrorCurrent:
			st.Unchanged++
			x.count("unchanged")
		case mirrorStaleMetadata:
			fields := mirrorFields(it, existing[i][fieldVector], x.cfg.Model)
			if err := x.store.HReplace(ctx, keys[i], fields); err != nil {
				return fmt.Errorf("write mirror %s: %w", it.ID(), err)
			}
			st.Metadata++
			x.count("metadata")
		case mirrorStaleVector:
			if v, ok := x.storedVector(it); ok {
				if err := x.store.HReplace(ctx, keys[i], mirrorFields(it, encodeVector(v), x.cfg.Model)); err != nil {
					return fmt.Errorf("write mirror %s: %w", it.ID(), err)
				}
				st.Reused++
				x.count("reused")
				continue
			}
			if err := x.embedInto(ctx, it, keys[i]); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr //nolint:wrapcheck // caller cancellation
				}
				x.logger.Warn("Failed to refresh item", zap.String("id", it.ID()), zap.Error(err))
				st.Failed++
				x.count("failed")
				continue
			}
			st.Embedded++
			x.count("embedded")
		}
	}
	return nil
}

// storedVector returns the item's own embedding when it was produced by the
// index model with the index dimensions.
func (x *Index) storedVector(it item.Item) ([]float32, bool) {
	if !it.HasEmbedding() || it.EmbeddingModel() != x.cfg.Model {
		return nil, false
	}
	if x.cfg.Dimensions > 0 && len(it.Embedding()) != x.cfg.Dimensions {
		return nil, false
	}
	return it.Embedding(), true
}

func (x *Index) embedInto(ctx context.Context, it item.Item, key string) error {
	res, err := x.docEmb.Embed(ctx, it.Text())
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if x.cfg.Dimensions > 0 && len(res.Embedding) != x.cfg.Dimensions {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(res.Embedding), x.cfg.Dimensions)
	}
	if err := x.store.HReplace(ctx, key, mirrorFields(it, encodeVector(res.Embedding), x.cfg.Model)); err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	return nil
}

func (x *Index) count(outcome string) {
	if x.cfg.RefreshTotal != nil {
		x.cfg.RefreshTotal.WithLabelValues(outcome).Inc()
	}
}
