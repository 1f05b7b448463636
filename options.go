package workoutcache

import (
	"time"

	"go.uber.org/zap"
)

// Strategy selects the index backend.
type Strategy string

// Index backend strategies.
const (
	// Managed mirrors items into a Redis/Valkey vector index refreshed in the
	// background. New items become searchable within the target lag.
	Managed Strategy = "managed"
	// Direct scans stored embeddings. New items are searchable as soon as Store returns.
	Direct Strategy = "direct"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver     string // memory, sqlite, redis or valkey
	addrs      []string
	password   string
	sqlitePath string
	keyPrefix  string

	embedder   Embedder
	model      string
	dimensions int
	queryInstr string
	docInstr   string
	cacheTTL   time.Duration

	backend  Strategy
	fallback Strategy

	thresholds       [3]float64 // excellent, very good, good
	targetLag        time.Duration
	embeddingTimeout time.Duration
	searchTimeout    time.Duration
	maxConcurrent    int64
	retryAttempts    int
	hnswM            int
	hnswEFConstruct  int
	maxBatchSize     int

	logger *zap.Logger
}

// WithMemory keeps items in process memory. This is the default.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
	})
}

// WithSQLite stores items in a SQLite database file.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "sqlite"
		c.sqlitePath = path
	})
}

// WithValkey configures the client to connect to a Valkey instance.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithKeyPrefix namespaces every Redis/Valkey key. Default: "workoutcache:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithEmbedder sets the text embedding provider, the model name recorded on
// stored embeddings and the vector dimension.
// Without it a local hashing embedder is used, which suits tests and demos only.
func WithEmbedder(e Embedder, model string, dimensions int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
		c.model = model
		c.dimensions = dimensions
	})
}

// WithInstructions sets the prefixes asymmetric models expect before
// documents and queries.
func WithInstructions(document, query string) Option {
	return optionFunc(func(c *clientConfig) {
		c.docInstr = document
		c.queryInstr = query
	})
}

// WithEmbeddingCache memoizes embeddings in Redis/Valkey for ttl.
// Ignored for other drivers.
func WithEmbeddingCache(ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheTTL = ttl
	})
}

// WithBackend selects the index strategy. Default: Direct.
func WithBackend(s Strategy) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = s
	})
}

// WithFallback answers queries from a second strategy while the primary is unavailable.
func WithFallback(s Strategy) Option {
	return optionFunc(func(c *clientConfig) {
		c.fallback = s
	})
}

// WithThresholds sets the inclusive lower bounds of the EXCELLENT, VERY_GOOD
// and GOOD decisions. Defaults: 0.90, 0.80, 0.70.
func WithThresholds(excellent, veryGood, good float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.thresholds = [3]float64{excellent, veryGood, good}
	})
}

// WithTargetLag bounds how long a stored item may stay invisible to the Managed backend.
// Default: 1 minute.
func WithTargetLag(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.targetLag = d
	})
}

// WithTimeouts bounds a single embedding call and a single index search.
// Defaults: 5s and 2s.
func WithTimeouts(embedding, search time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingTimeout = embedding
		c.searchTimeout = search
	})
}

// WithMaxConcurrent caps queries in flight. Default: 64.
func WithMaxConcurrent(n int64) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxConcurrent = n
	})
}

// WithRetries sets how many times a transient failure is attempted. Default: 3.
func WithRetries(attempts int) Option {
	return optionFunc(func(c *clientConfig) {
		c.retryAttempts = attempts
	})
}

// WithHNSW configures the Managed index HNSW parameters (M and EF construction).
// Defaults: M=16, EFConstruct=200.
func WithHNSW(m, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	})
}

// WithMaxBatchSize sets the maximum number of items per StoreBatch call.
// Default: 100.
func WithMaxBatchSize(size int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxBatchSize = size
	})
}

// WithLogger enables structured logging. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}
