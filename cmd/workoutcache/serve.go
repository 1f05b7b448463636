package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	chiTransport "github.com/kailas-cloud/workoutcache/internal/transport/chi"
	"github.com/kailas-cloud/workoutcache/internal/version"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg, a, logger, err := c.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Error releasing resources", zap.Error(err))
		}
	}()

	logger.Info("Starting workoutcache API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", c.env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)
	a.Start(ctx)

	server := chiTransport.NewServer(chiTransport.Services{
		Search:  a.Search,
		Ingest:  a.Ingest,
		Health:  a.Health,
		Items:   a.Items,
		Refresh: a.RefreshTracker(),
	}, schema.Workout(), cfg.Cache.DefaultLimit, cfg.Cache.MaxBatchSize, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
	return nil
}
