package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for fatal misconfiguration. Called once
// at startup; a failure here aborts the process.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Postgres.URL == "" {
		errs = append(errs, "postgres.url is required")
	}
	if cfg.Postgres.PoolMax <= 0 {
		errs = append(errs, "postgres.pool_max must be positive")
	}

	if cfg.VectorStore.URL == "" && cfg.Postgres.URL == "" {
		errs = append(errs, "either vector_store.url or postgres.url must be set")
	}
	if cfg.Embedding.URL == "" {
		errs = append(errs, "embedding.url is required")
	}
	if cfg.VectorStore.EnableHybrid && cfg.Embedding.SparseURL == "" {
		errs = append(errs, "vector_store.enable_hybrid requires embedding.sparse_url")
	}

	if cfg.Watcher.DebounceMs < 0 {
		errs = append(errs, "watcher.debounce_ms must not be negative")
	}
	if cfg.Watcher.WriteStabilityMs < 0 {
		errs = append(errs, "watcher.write_stability_ms must not be negative")
	}

	if cfg.Jobs.MaxRetries < 0 {
		errs = append(errs, "jobs.max_retries must not be negative")
	}
	if cfg.Jobs.RetryBackoffBase <= 0 {
		errs = append(errs, "jobs.retry_backoff_base must be positive")
	}

	if cfg.Query.TopK <= 0 {
		errs = append(errs, "query.top_k must be positive")
	}
	if cfg.Query.Oversample <= 0 {
		errs = append(errs, "query.oversample must be positive")
	}

	if cfg.Chunking.MaxTokens <= 0 {
		errs = append(errs, "chunking.max_tokens must be positive")
	}
	if cfg.Chunking.Overlap < 0 || cfg.Chunking.Overlap >= cfg.Chunking.MaxTokens {
		errs = append(errs, "chunking.overlap must be in [0, max_tokens)")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of json, console", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
