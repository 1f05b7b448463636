package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/config"
	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
	"github.com/kailas-cloud/workoutcache/internal/retry"
	"github.com/kailas-cloud/workoutcache/internal/transport/hashing"
	openaiEmb "github.com/kailas-cloud/workoutcache/internal/transport/openai"
)

// NewProvider creates the base embedding provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig, timeout time.Duration, logger *zap.Logger) (domain.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Provider:   cfg.Provider,
			Timeout:    timeout,
			Logger:     logger,
		}), nil
	case "hashing":
		return hashing.New(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// FromConfig resolves a loaded configuration into assembly options.
func FromConfig(cfg config.Config, embedder domain.Embedder) (Options, error) {
	backend, err := mode.Parse(cfg.Cache.Backend)
	if err != nil {
		return Options{}, fmt.Errorf("cache.backend: %w", err)
	}
	var fallback mode.Mode
	if cfg.Cache.Fallback != "" {
		if fallback, err = mode.Parse(cfg.Cache.Fallback); err != nil {
			return Options{}, fmt.Errorf("cache.fallback: %w", err)
		}
	}

	model := cfg.Embedding.Model
	if cfg.Embedding.Provider == "hashing" {
		model = hashing.Model
	}

	var cacheTTL time.Duration
	if cfg.Embedding.Cache {
		cacheTTL = time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour
	}

	c := cfg.Cache
	return Options{
		Driver:           cfg.Database.Driver,
		Addrs:            cfg.Database.Addrs,
		Username:         cfg.Database.Username,
		Password:         cfg.Database.Password,
		DB:               cfg.Database.DB,
		SQLitePath:       cfg.Database.SQLitePath,
		KeyPrefix:        cfg.Database.KeyPrefix,
		ReadinessTimeout: time.Duration(cfg.Database.ReadinessTimeout) * time.Second,

		Embedder:            embedder,
		Provider:            cfg.Embedding.Provider,
		Model:               model,
		Dimensions:          cfg.Embedding.Dimensions,
		DocumentInstruction: cfg.Embedding.DocumentInstruction,
		QueryInstruction:    cfg.Embedding.QueryInstruction,
		EmbeddingCacheTTL:   cacheTTL,

		Backend:  backend,
		Fallback: fallback,
		Thresholds: decision.Thresholds{
			Excellent: c.Thresholds.Excellent,
			VeryGood:  c.Thresholds.VeryGood,
			Good:      c.Thresholds.Good,
		},
		TargetLag:        c.TargetLag(),
		RefreshInterval:  c.RefreshInterval(),
		EmbeddingTimeout: c.EmbeddingTimeout(),
		SearchTimeout:    c.SearchTimeout(),
		MaxConcurrent:    int64(c.MaxConcurrent),
		ManagedQPS:       c.ManagedQPS,
		ManagedBurst:     c.ManagedBurst,
		Retry: retry.Config{
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: time.Duration(c.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:   c.Retry.Multiplier,
		},
		HNSWM:        c.HNSWM,
		HNSWEF:       c.HNSWEFConstruct,
		MaxBatchSize: c.MaxBatchSize,
	}, nil
}
