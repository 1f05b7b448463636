// Package managed is the eventually consistent index backend. It mirrors items into
// FT-indexed hashes, embeds on its own schedule and embeds query text itself.
package managed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/workoutcache/internal/db"
	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/result"
)

// store is the consumer interface for mirror hashes and the FT index (ISP).
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	HReplace(ctx context.Context, key string, fields map[string]string) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
}

// items is the consumer interface for the item store (ISP).
type items interface {
	Get(ctx context.Context, id string) (item.Item, error)
	List(ctx context.Context, expr filter.Expression) iter.Seq2[item.Item, error]
}

// Config tunes the managed backend.
type Config struct {
	KeyPrefix  string
	Model      string
	Dimensions int
	TargetLag  time.Duration
	// RefreshInterval defaults to half the target lag.
	RefreshInterval time.Duration
	// QueryRate and QueryBurst bound queries per second; zero disables throttling.
	QueryRate  float64
	QueryBurst int
	HNSWM      int
	HNSWEF     int
	Schema     schema.Schema

	RefreshTotal *prometheus.CounterVec // label "outcome"
	LastRefresh  prometheus.Gauge
}

// Index is the managed backend. Search, Refresh and Run are safe for concurrent use.
type Index struct {
	store    store
	items    items
	docEmb   domain.Embedder
	queryEmb domain.Embedder
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger

	refreshMu sync.Mutex

	mu          sync.RWMutex
	lastRefresh time.Time
}

// New creates a managed index. docEmb embeds item text during refresh,
// queryEmb embeds query text during search.
func New(
	s store, it items, docEmb, queryEmb domain.Embedder, cfg Config, logger *zap.Logger,
) *Index {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = cfg.TargetLag / 2
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEF <= 0 {
		cfg.HNSWEF = 200
	}
	if len(cfg.Schema.Fields()) == 0 {
		cfg.Schema = schema.Workout()
	}

	var limiter *rate.Limiter
	if cfg.QueryRate > 0 {
		burst := cfg.QueryBurst
		if burst <= 0 {
			burst = int(cfg.QueryRate) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QueryRate), burst)
	}

	return &Index{
		store:    s,
		items:    it,
		docEmb:   docEmb,
		queryEmb: queryEmb,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
	}
}

// RefreshPolicy reports the staleness bound. The backend embeds queries itself.
func (x *Index) RefreshPolicy() domain.RefreshPolicy {
	return domain.RefreshPolicy{
		Strategy:    mode.Managed,
		Consistency: domain.ConsistencyEventual,
		TargetLag:   x.cfg.TargetLag,
		EmbedsQuery: true,
	}
}

// LastRefresh returns when the last refresh pass finished, zero before the first.
func (x *Index) LastRefresh() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.lastRefresh
}

func (x *Index) indexName() string    { return x.cfg.KeyPrefix + "midx:idx" }
func (x *Index) mirrorPrefix() string { return x.cfg.KeyPrefix + "midx:" }
func (x *Index) mirrorKey(id string) string {
	return x.mirrorPrefix() + id
}

// EnsureIndex creates the FT index if it does not exist yet.
func (x *Index) EnsureIndex(ctx context.Context) error {
	exists, err := x.store.IndexExists(ctx, x.indexName())
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	def, err := buildIndex(x.indexName(), x.mirrorPrefix(), x.cfg)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := x.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}
	x.logger.Info("Managed index created", zap.String("index", def.Name))
	return nil
}

// tieOverfetch extra neighbours are requested so that equal scores at the
// cutoff are resolved by id here rather than by the engine.
const tieOverfetch = 8

// Search embeds p.Text and runs a filtered KNN query. Hits are hydrated from the
// item store; ids whose item vanished since the last refresh are dropped.
func (x *Index) Search(ctx context.Context, p request.Probe) ([]result.Result, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	if x.limiter != nil && !x.limiter.Allow() {
		return nil, fmt.Errorf("%w: query rate exceeded", domain.ErrBackendUnavailable)
	}

	emb, err := x.queryEmb.Embed(ctx, p.Text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // caller cancellation
		}
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrBackendUnavailable, err)
	}

	sr, err := x.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    x.indexName(),
		VectorField:  "vector",
		Filters:      p.Filters,
		Vector:       emb.Embedding,
		K:            p.Limit + tieOverfetch,
		ReturnFields: []string{fieldDigest},
	})
	if err != nil {
		if errors.Is(err, db.ErrQuerySyntax) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck // caller cancellation
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	out := make([]result.Result, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		id := strings.TrimPrefix(e.Key, x.mirrorPrefix())
		it, err := x.items.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: hydrate %s: %w", domain.ErrBackendUnavailable, id, err)
		}
		out = append(out, result.New(it, e.Score))
	}
	result.Sort(out)
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}
