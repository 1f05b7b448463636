package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/app"
	"github.com/kailas-cloud/workoutcache/internal/config"
	logpkg "github.com/kailas-cloud/workoutcache/internal/logger"
	"github.com/kailas-cloud/workoutcache/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by subcommands.
type cli struct {
	env string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "workoutcache",
		Short:        "Semantic cache for generated workouts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.env, "env", config.GetEnv(), "configuration environment (config/<env>.yaml)")

	root.AddCommand(
		c.serveCmd(),
		c.lookupCmd(),
		c.storeCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "workoutcache "+version.String())
		},
	}
}

// bootstrap loads configuration and assembles the cache.
func (c *cli) bootstrap(ctx context.Context) (config.Config, *app.App, *zap.Logger, error) {
	cfg, err := config.Load(c.env)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logpkg.NewLogger(c.env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	provider, err := app.NewProvider(cfg.Embedding, cfg.Cache.EmbeddingTimeout(), logger.Named("openai"))
	if err != nil {
		return config.Config{}, nil, nil, err //nolint:wrapcheck // already descriptive
	}
	opts, err := app.FromConfig(cfg, provider)
	if err != nil {
		return config.Config{}, nil, nil, err //nolint:wrapcheck // already descriptive
	}
	a, err := app.Build(ctx, opts, logger)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("build: %w", err)
	}
	return cfg, a, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
