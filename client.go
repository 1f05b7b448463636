package workoutcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/app"
	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/retry"
	"github.com/kailas-cloud/workoutcache/internal/transport/hashing"
	healthuc "github.com/kailas-cloud/workoutcache/internal/usecase/health"
)

const defaultKeyPrefix = "workoutcache:"

// Client is the workout cache entry point. Safe for concurrent use.
type Client struct {
	app *app.App
}

// New creates a Client, connects to the item store and starts background
// index maintenance.
func New(opts ...Option) (*Client, error) {
	return NewContext(context.Background(), opts...)
}

// NewContext is New with a context bounding the connection phase.
func NewContext(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		driver:    app.DriverMemory,
		keyPrefix: defaultKeyPrefix,
		backend:   Direct,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	o, err := cfg.options()
	if err != nil {
		return nil, err
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a, err := app.Build(ctx, o, logger)
	if err != nil {
		return nil, fmt.Errorf("workoutcache: %w", err)
	}
	a.Start(context.Background())
	return &Client{app: a}, nil
}

func (c *clientConfig) options() (app.Options, error) {
	o := app.Options{
		Driver:              c.driver,
		Addrs:               c.addrs,
		Password:            c.password,
		SQLitePath:          c.sqlitePath,
		KeyPrefix:           c.keyPrefix,
		Model:               c.model,
		Dimensions:          c.dimensions,
		DocumentInstruction: c.docInstr,
		QueryInstruction:    c.queryInstr,
		EmbeddingCacheTTL:   c.cacheTTL,
		Backend:             mode.Mode(c.backend),
		Fallback:            mode.Mode(c.fallback),
		Thresholds:          decision.DefaultThresholds(),
		TargetLag:           c.targetLag,
		EmbeddingTimeout:    c.embeddingTimeout,
		SearchTimeout:       c.searchTimeout,
		MaxConcurrent:       c.maxConcurrent,
		Retry:               retry.DefaultConfig(),
		HNSWM:               c.hnswM,
		HNSWEF:              c.hnswEFConstruct,
		MaxBatchSize:        c.maxBatchSize,
	}
	if c.thresholds != [3]float64{} {
		o.Thresholds = decision.Thresholds{Excellent: c.thresholds[0], VeryGood: c.thresholds[1], Good: c.thresholds[2]}
	}
	if c.retryAttempts > 0 {
		o.Retry.MaxAttempts = c.retryAttempts
	}
	if o.TargetLag <= 0 {
		o.TargetLag = time.Minute
	}

	switch {
	case c.embedder != nil:
		if c.dimensions <= 0 {
			return app.Options{}, errors.New("workoutcache: WithEmbedder requires positive dimensions")
		}
		o.Embedder = &embedderAdapter{inner: c.embedder}
		o.Provider = "custom"
	default:
		dims := c.dimensions
		if dims <= 0 {
			dims = hashing.DefaultDimensions
		}
		o.Embedder = hashing.New(dims)
		o.Provider = "hashing"
		o.Model = hashing.Model
		o.Dimensions = dims
	}

	if (c.driver == app.DriverRedis || c.driver == app.DriverValkey) && (len(c.addrs) == 0 || c.addrs[0] == "") {
		return app.Options{}, errors.New("workoutcache: database address required")
	}
	return o, nil
}

// Close stops background work and releases the item store.
func (c *Client) Close() error {
	if err := c.app.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Ping checks item store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.app.Items.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// FindCached returns matches ranked by descending score, ties by ascending id,
// each labeled with its decision. Errors are typed: ErrInvalidQuery,
// ErrEmbeddingUnavailable, ErrEmbeddingProviderError, ErrBackendUnavailable.
func (c *Client) FindCached(ctx context.Context, q *Query) ([]Match, error) {
	req, err := q.build()
	if err != nil {
		return nil, err
	}
	ms, err := c.app.Search.FindCached(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("find cached: %w", err)
	}
	return matchesFrom(ms), nil
}

// Lookup is FindCached that degrades dependency failures to a Miss verdict.
// Only an invalid query or a cancelled ctx return an error.
func (c *Client) Lookup(ctx context.Context, q *Query) (Verdict, error) {
	req, err := q.build()
	if err != nil {
		return Verdict{}, err
	}
	v, err := c.app.Search.Lookup(ctx, &req)
	if err != nil {
		return Verdict{}, fmt.Errorf("lookup: %w", err)
	}
	return Verdict{
		Decision: v.Decision,
		Matches:  matchesFrom(v.Matches),
		Degraded: v.Degraded,
		Cause:    v.Cause,
	}, nil
}

// Store inserts or replaces a workout. It reports whether the id was new.
// On error nothing is stored.
func (c *Client) Store(ctx context.Context, w Workout) (bool, error) {
	it, err := w.toItem()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	out, err := c.app.Ingest.Store(ctx, it)
	if err != nil {
		return false, fmt.Errorf("store %s: %w", w.ID, err)
	}
	return out.Created, nil
}

// StoreBatch stores workouts concurrently. Results are in input order; a
// failed workout does not affect the others.
func (c *Client) StoreBatch(ctx context.Context, ws []Workout) []BatchResult {
	out := make([]BatchResult, len(ws))
	valid := make([]item.Item, 0, len(ws))
	positions := make([]int, 0, len(ws))

	for i, w := range ws {
		it, err := w.toItem()
		if err != nil {
			out[i] = BatchResult{ID: w.ID, Err: fmt.Errorf("%w: %w", ErrInvalidItem, err)}
			continue
		}
		valid = append(valid, it)
		positions = append(positions, i)
	}
	for j, r := range batchResultsFrom(c.app.Ingest.StoreBatch(ctx, valid)) {
		out[positions[j]] = r
	}
	return out
}

// Get returns a stored workout or ErrNotFound.
func (c *Client) Get(ctx context.Context, id string) (Workout, error) {
	it, err := c.app.Items.Get(ctx, id)
	if err != nil {
		return Workout{}, fmt.Errorf("get %s: %w", id, err)
	}
	return workoutFromItem(it), nil
}

// Refresh brings a Managed index up to date immediately. It is a no-op for Direct.
func (c *Client) Refresh(ctx context.Context) error {
	if c.app.Managed == nil {
		return nil
	}
	if _, err := c.app.Managed.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// Index describes the primary backend and its freshness contract.
func (c *Client) Index() IndexInfo {
	p := c.app.Search.RefreshPolicy()
	info := IndexInfo{
		Strategy:    Strategy(p.Strategy),
		Consistency: string(p.Consistency),
		TargetLag:   p.TargetLag,
		EmbedsQuery: p.EmbedsQuery,
	}
	if t := c.app.RefreshTracker(); t != nil {
		info.LastRefresh = t.LastRefresh()
	}
	return info
}

// Healthy reports whether the item store and the embedding provider respond.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.app.Health.Check(ctx).Status == healthuc.Healthy
}

var _ domain.Embedder = (*embedderAdapter)(nil)
