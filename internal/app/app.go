// Package app is the composition root shared by the server, the CLI and the
// embeddable client: it wires the item store, the embedding chain, the index
// backends and the use cases.
package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/db"
	dbRedis "github.com/kailas-cloud/workoutcache/internal/db/redis"
	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/metrics"
	"github.com/kailas-cloud/workoutcache/internal/repository/embcache"
	"github.com/kailas-cloud/workoutcache/internal/repository/index/direct"
	"github.com/kailas-cloud/workoutcache/internal/repository/index/managed"
	itemrepo "github.com/kailas-cloud/workoutcache/internal/repository/item"
	"github.com/kailas-cloud/workoutcache/internal/retry"
	embeddinguc "github.com/kailas-cloud/workoutcache/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/workoutcache/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/workoutcache/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/workoutcache/internal/usecase/search"
)

// Database drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// Options is the fully resolved assembly configuration.
type Options struct {
	Driver           string
	Addrs            []string
	Username         string
	Password         string
	DB               int
	SQLitePath       string
	KeyPrefix        string
	ReadinessTimeout time.Duration

	// Embedder is the base provider; it is wrapped with instrumentation,
	// caching and instruction prefixes.
	Embedder            domain.Embedder
	Provider            string
	Model               string
	Dimensions          int
	DocumentInstruction string
	QueryInstruction    string
	// EmbeddingCacheTTL enables the Redis embedding cache; zero disables it.
	EmbeddingCacheTTL time.Duration

	Backend  mode.Mode
	Fallback mode.Mode // empty for none

	Thresholds       decision.Thresholds
	TargetLag        time.Duration
	RefreshInterval  time.Duration
	EmbeddingTimeout time.Duration
	SearchTimeout    time.Duration
	MaxConcurrent    int64
	ManagedQPS       float64
	ManagedBurst     int
	Retry            retry.Config
	HNSWM            int
	HNSWEF           int
	MaxBatchSize     int
}

// ItemStore is what the app needs from an item store.
type ItemStore interface {
	Put(ctx context.Context, it item.Item) error
	Get(ctx context.Context, id string) (item.Item, error)
	List(ctx context.Context, expr filter.Expression) iter.Seq2[item.Item, error]
	Ping(ctx context.Context) error
}

// App holds the wired services.
type App struct {
	Items  ItemStore
	Search *searchuc.Service
	Ingest *ingestuc.Service
	Health *healthuc.Service
	// Managed is nil unless the primary or fallback backend is managed.
	Managed *managed.Index

	opts    Options
	closers []func() error
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// Build connects to the item store and wires every component. Background work
// starts with Start.
func Build(ctx context.Context, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}
	if !opts.Backend.IsValid() {
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
	if opts.Fallback != "" && (!opts.Fallback.IsValid() || opts.Fallback == opts.Backend) {
		return nil, fmt.Errorf("invalid fallback backend %q", opts.Fallback)
	}
	policy, err := decision.NewPolicy(opts.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	metrics.Register()

	a := &App{opts: opts, logger: logger}

	kv, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	docEmb, queryEmb := a.embedders(kv)
	sch := schema.Workout()

	backends := make(map[mode.Mode]searchuc.Backend, 2)
	for _, m := range []mode.Mode{opts.Backend, opts.Fallback} {
		switch m {
		case mode.Direct:
			backends[m] = direct.New(a.Items, opts.Dimensions)
		case mode.Managed:
			if kv == nil {
				_ = a.Close()
				return nil, fmt.Errorf("managed backend requires a redis or valkey driver, got %q", opts.Driver)
			}
			a.Managed = managed.New(kv, a.Items, docEmb, queryEmb, managed.Config{
				KeyPrefix:       opts.KeyPrefix,
				Model:           opts.Model,
				Dimensions:      opts.Dimensions,
				TargetLag:       opts.TargetLag,
				RefreshInterval: opts.RefreshInterval,
				QueryRate:       opts.ManagedQPS,
				QueryBurst:      opts.ManagedBurst,
				HNSWM:           opts.HNSWM,
				HNSWEF:          opts.HNSWEF,
				Schema:          sch,
				RefreshTotal:    metrics.IndexRefreshTotal,
				LastRefresh:     metrics.IndexLastRefresh,
			}, logger.Named("managed"))
			if err := a.Managed.EnsureIndex(ctx); err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("ensure managed index: %w", err)
			}
			backends[m] = a.Managed
		}
	}

	var searchOpts []searchuc.Option
	if opts.Fallback != "" {
		searchOpts = append(searchOpts, searchuc.WithFallback(backends[opts.Fallback]))
	}
	a.Search = searchuc.New(backends[opts.Backend], queryEmb, policy, sch, searchuc.Config{
		EmbeddingTimeout: opts.EmbeddingTimeout,
		SearchTimeout:    opts.SearchTimeout,
		MaxConcurrent:    opts.MaxConcurrent,
		Retry:            opts.Retry,
	}, logger.Named("search"), searchOpts...)

	// A direct backend anywhere in the chain needs embeddings stored with the item.
	writeStrategy := mode.Managed
	if opts.Backend == mode.Direct || opts.Fallback == mode.Direct {
		writeStrategy = mode.Direct
	}
	a.Ingest = ingestuc.New(a.Items, docEmb, sch, ingestuc.Config{
		Strategy:         writeStrategy,
		Model:            opts.Model,
		Dimensions:       opts.Dimensions,
		EmbeddingTimeout: opts.EmbeddingTimeout,
		MaxBatchSize:     opts.MaxBatchSize,
		Retry:            opts.Retry,
	}, logger.Named("ingest"))

	var index healthuc.IndexReporter = a.Search
	if opts.Backend == mode.Managed {
		index = a.Managed
	}
	a.Health = healthuc.New(a.Items, embeddingHealth{docEmb}, index)

	logger.Info("Workout cache assembled",
		zap.String("driver", opts.Driver),
		zap.String("backend", string(opts.Backend)),
		zap.String("fallback", string(opts.Fallback)),
		zap.String("model", opts.Model),
		zap.Int("dimensions", opts.Dimensions),
	)
	return a, nil
}

// openStore opens the item store. The returned db.Store is nil for drivers
// without a Redis-compatible server.
func (a *App) openStore(ctx context.Context) (db.Store, error) {
	switch a.opts.Driver {
	case DriverMemory, "":
		a.Items = itemrepo.NewMemory()
		return nil, nil
	case DriverSQLite:
		repo, err := itemrepo.OpenSQLite(ctx, a.opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.Items = repo
		return nil, nil
	case DriverRedis, DriverValkey:
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:      a.opts.Addrs,
			Username:   a.opts.Username,
			Password:   a.opts.Password,
			DB:         a.opts.DB,
			ClientName: "workoutcache",
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", a.opts.Driver, err)
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })

		timeout := a.opts.ReadinessTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		if err := s.WaitForReady(ctx, timeout); err != nil {
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		a.Items = redisItems{Repo: itemrepo.New(s, a.opts.KeyPrefix), Pinger: s}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", a.opts.Driver)
	}
}

// embedders assembles the decorator chain:
// provider -> instrumented -> cached -> instruction prefix.
func (a *App) embedders(kv db.Store) (doc, query domain.Embedder) {
	var base domain.Embedder = embeddinguc.NewInstrumentedEmbedder(
		a.opts.Embedder, a.opts.Provider, a.opts.Model, a.opts.Dimensions, a.logger.Named("embedding"),
	)
	if kv != nil && a.opts.EmbeddingCacheTTL > 0 {
		base = embcache.New(base, kv, embcache.Config{
			KeyPrefix: a.opts.KeyPrefix,
			Model:     a.opts.Model,
			TTL:       a.opts.EmbeddingCacheTTL,
		}, metrics.EmbeddingCacheTotal, a.logger.Named("embcache"))
	}

	doc, query = base, base
	if a.opts.DocumentInstruction != "" {
		doc = domain.NewInstructionEmbedder(base, a.opts.DocumentInstruction)
	}
	if a.opts.QueryInstruction != "" {
		query = domain.NewInstructionEmbedder(base, a.opts.QueryInstruction)
	}
	return doc, query
}

// Start launches the managed index refresher, if any. It stops on Close or when
// ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Managed == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.running.Add(1)
	go func() {
		defer a.running.Done()
		a.Managed.Run(ctx)
	}()
}

// RefreshTracker returns the background index, or nil when every backend is synchronous.
func (a *App) RefreshTracker() interface{ LastRefresh() time.Time } {
	if a.Managed == nil {
		return nil
	}
	return a.Managed
}

// Close stops background work and releases the item store.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.running.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// redisItems adds connectivity checks to the hash-backed repository.
type redisItems struct {
	*itemrepo.Repo
	db.Pinger
}

// embeddingHealth forwards to the provider health check when the chain has one.
type embeddingHealth struct {
	embedder domain.Embedder
}

func (h embeddingHealth) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
