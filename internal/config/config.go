package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
)

// Config holds the workoutcache service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds item store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, sqlite, redis, valkey (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	SQLitePath       string   `yaml:"sqlite_path"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// EmbeddingConfig holds the embedding provider and model settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"` // openai, hashing
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	Cache               bool   `yaml:"cache"`
	CacheTTLHours       int    `yaml:"cache_ttl_hours"`
}

// ThresholdsConfig holds the decision label boundaries.
type ThresholdsConfig struct {
	Excellent float64 `yaml:"excellent"`
	VeryGood  float64 `yaml:"very_good"`
	Good      float64 `yaml:"good"`
}

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
}

// CacheConfig holds index backend and query pipeline settings.
type CacheConfig struct {
	Backend            string           `yaml:"backend"`  // managed, direct
	Fallback           string           `yaml:"fallback"` // optional, must differ from backend
	Thresholds         ThresholdsConfig `yaml:"similarity_thresholds"`
	TargetLagSec       int              `yaml:"target_lag_sec"`
	RefreshIntervalSec int              `yaml:"refresh_interval_sec"`
	EmbeddingTimeoutMs int              `yaml:"embedding_timeout_ms"`
	SearchTimeoutMs    int              `yaml:"search_timeout_ms"`
	MaxConcurrent      int              `yaml:"max_concurrent_queries"`
	ManagedQPS         float64          `yaml:"managed_qps"`
	ManagedBurst       int              `yaml:"managed_burst"`
	Retry              RetryConfig      `yaml:"retry"`
	HNSWM              int              `yaml:"hnsw_m"`
	HNSWEFConstruct    int              `yaml:"hnsw_ef_construction"`
	DefaultLimit       int              `yaml:"default_limit"`
	MaxBatchSize       int              `yaml:"max_batch_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "workoutcache:"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "workoutcache.db"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "snowflake-arctic-embed-m-v1.5"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.CacheTTLHours <= 0 {
		c.Embedding.CacheTTLHours = 24 * 30
	}
	c.Cache.applyDefaults()
}

func (c *CacheConfig) applyDefaults() {
	if c.Backend == "" {
		c.Backend = "direct"
	}
	if c.Thresholds == (ThresholdsConfig{}) {
		c.Thresholds = ThresholdsConfig{Excellent: 0.90, VeryGood: 0.80, Good: 0.70}
	}
	if c.TargetLagSec <= 0 {
		c.TargetLagSec = 60
	}
	if c.EmbeddingTimeoutMs <= 0 {
		c.EmbeddingTimeoutMs = 5000
	}
	if c.SearchTimeoutMs <= 0 {
		c.SearchTimeoutMs = 2000
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 64
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMs <= 0 {
		c.Retry.InitialDelayMs = 50
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 1000
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = 2
	}
	if c.HNSWM <= 0 {
		c.HNSWM = 16
	}
	if c.HNSWEFConstruct <= 0 {
		c.HNSWEFConstruct = 200
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
}

// TargetLag returns the managed index staleness bound.
func (c CacheConfig) TargetLag() time.Duration {
	return time.Duration(c.TargetLagSec) * time.Second
}

// RefreshInterval returns the managed refresh period, zero for the backend default.
func (c CacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// EmbeddingTimeout bounds a single provider call.
func (c CacheConfig) EmbeddingTimeout() time.Duration {
	return time.Duration(c.EmbeddingTimeoutMs) * time.Millisecond
}

// SearchTimeout bounds a single backend search.
func (c CacheConfig) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case "memory", "sqlite":
	default:
		return fmt.Errorf("database.driver must be memory, sqlite, redis or valkey, got %q", c.Database.Driver)
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.BaseURL == "" && c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key or embedding.base_url is required for provider openai")
		}
	case "hashing":
	default:
		return fmt.Errorf("embedding.provider must be openai or hashing, got %q", c.Embedding.Provider)
	}

	return c.Cache.validate(c.Database.Driver)
}

func (c *CacheConfig) validate(driver string) error {
	for _, b := range []string{c.Backend, c.Fallback} {
		switch b {
		case "managed":
			if driver != "redis" && driver != "valkey" {
				return fmt.Errorf("cache backend managed requires a redis or valkey database, got %q", driver)
			}
		case "direct", "":
		default:
			return fmt.Errorf("cache backend must be managed or direct, got %q", b)
		}
	}
	if c.Backend == "" {
		return fmt.Errorf("cache.backend is required")
	}
	if c.Fallback == c.Backend {
		return fmt.Errorf("cache.fallback must differ from cache.backend")
	}

	t := c.Thresholds
	if err := (decision.Thresholds{Excellent: t.Excellent, VeryGood: t.VeryGood, Good: t.Good}).Validate(); err != nil {
		return fmt.Errorf("cache.similarity_thresholds: %w", err)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
