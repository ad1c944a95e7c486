package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads the daemon configuration.
type Loader interface {
	// Load resolves configuration with priority defaults < config file <
	// environment (CTXD_* wins).
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a loader reading .ctxd/config.yml under rootDir.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".ctxd")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	// CTXD_POSTGRES_URL overrides postgres.url, and so on.
	v.SetEnvPrefix("CTXD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env vars carry.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// bindEnv registers the keys that may be overridden from the environment.
// AutomaticEnv alone does not see keys absent from the config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"postgres.url",
		"postgres.pool_max",
		"vector_store.url",
		"vector_store.enable_hybrid",
		"embedding.url",
		"embedding.sparse_url",
		"embedding.timeout",
		"crawler.url",
		"crawler.timeout",
		"watcher.debounce_ms",
		"watcher.write_stability_ms",
		"watcher.health_interval",
		"watcher.auto_recover",
		"watcher.sidecar_path",
		"jobs.max_retries",
		"jobs.retry_backoff_base",
		"jobs.poll_interval",
		"jobs.cleanup_interval",
		"jobs.retention",
		"jobs.temp_root",
		"query.top_k",
		"query.oversample",
		"chunking.max_tokens",
		"chunking.overlap",
		"monitors.postgres_polling_interval",
		"monitors.crawl_polling_interval",
		"monitors.vector_store_polling_interval",
		"log.level",
		"log.format",
	} {
		v.BindEnv(key)
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("postgres.url", d.Postgres.URL)
	v.SetDefault("postgres.pool_max", d.Postgres.PoolMax)

	v.SetDefault("vector_store.url", d.VectorStore.URL)
	v.SetDefault("vector_store.enable_hybrid", d.VectorStore.EnableHybrid)

	v.SetDefault("embedding.url", d.Embedding.URL)
	v.SetDefault("embedding.sparse_url", d.Embedding.SparseURL)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)

	v.SetDefault("crawler.url", d.Crawler.URL)
	v.SetDefault("crawler.timeout", d.Crawler.Timeout)

	v.SetDefault("watcher.debounce_ms", d.Watcher.DebounceMs)
	v.SetDefault("watcher.write_stability_ms", d.Watcher.WriteStabilityMs)
	v.SetDefault("watcher.health_interval", d.Watcher.HealthInterval)
	v.SetDefault("watcher.auto_recover", d.Watcher.AutoRecover)
	v.SetDefault("watcher.sidecar_path", d.Watcher.SidecarPath)

	v.SetDefault("jobs.max_retries", d.Jobs.MaxRetries)
	v.SetDefault("jobs.retry_backoff_base", d.Jobs.RetryBackoffBase)
	v.SetDefault("jobs.poll_interval", d.Jobs.PollInterval)
	v.SetDefault("jobs.cleanup_interval", d.Jobs.CleanupInterval)
	v.SetDefault("jobs.retention", d.Jobs.Retention)
	v.SetDefault("jobs.temp_root", d.Jobs.TempRoot)

	v.SetDefault("query.top_k", d.Query.TopK)
	v.SetDefault("query.oversample", d.Query.Oversample)

	v.SetDefault("chunking.max_tokens", d.Chunking.MaxTokens)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)

	v.SetDefault("monitors.postgres_polling_interval", d.Monitors.PostgresPollingInterval)
	v.SetDefault("monitors.crawl_polling_interval", d.Monitors.CrawlPollingInterval)
	v.SetDefault("monitors.vector_store_polling_interval", d.Monitors.VectorStorePollingInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig loads configuration rooted at the working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration rooted at a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
