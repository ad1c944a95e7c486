package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ctxstack/ctxd/internal/config"
	"github.com/ctxstack/ctxd/internal/store"
)

var (
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "ctxd",
	Short: "Project-aware code and document indexing daemon",
	Long: `ctxd indexes source trees, repositories and crawled documentation into
per-dataset vector collections and serves scoped semantic retrieval over them.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"directory containing .ctxd/config.yml (default is the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	if configDir != "" {
		return config.LoadConfigFromDir(configDir)
	}
	return config.LoadConfig()
}

// openStore connects to PostgreSQL for commands that only touch metadata.
// Callers own the returned store and logger.
func openStore(ctx context.Context) (*config.Config, *zap.Logger, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.New(ctx, cfg.Postgres.URL, store.Options{
		MaxConns: int32(cfg.Postgres.PoolMax),
	}, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, err
	}
	if err := st.Bootstrap(ctx); err != nil {
		st.Close()
		logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, st, nil
}

// newLogger builds the process logger from config, with --verbose forcing
// debug level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	var zc zap.Config
	if cfg.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
