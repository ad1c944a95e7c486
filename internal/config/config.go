package config

import "time"

// Config is the complete daemon configuration. Loaded once at startup from
// .ctxd/config.yml with CTXD_* environment overrides and passed down
// immutably.
type Config struct {
	Postgres    PostgresConfig    `yaml:"postgres" mapstructure:"postgres"`
	VectorStore VectorStoreConfig `yaml:"vector_store" mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	Crawler     CrawlerConfig     `yaml:"crawler" mapstructure:"crawler"`
	Watcher     WatcherConfig     `yaml:"watcher" mapstructure:"watcher"`
	Jobs        JobsConfig        `yaml:"jobs" mapstructure:"jobs"`
	Query       QueryConfig       `yaml:"query" mapstructure:"query"`
	Chunking    ChunkingConfig    `yaml:"chunking" mapstructure:"chunking"`
	Monitors    MonitorsConfig    `yaml:"monitors" mapstructure:"monitors"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// PostgresConfig configures the metadata store.
type PostgresConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	PoolMax int    `yaml:"pool_max" mapstructure:"pool_max"`
}

// VectorStoreConfig configures the vector store connection.
type VectorStoreConfig struct {
	// URL is the Qdrant gRPC endpoint. An empty URL with a Postgres URL set
	// selects the pgvector fallback store.
	URL string `yaml:"url" mapstructure:"url"`

	// EnableHybrid turns on sparse+dense retrieval for hybrid collections.
	EnableHybrid bool `yaml:"enable_hybrid" mapstructure:"enable_hybrid"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	URL string `yaml:"url" mapstructure:"url"`

	// SparseURL is the optional sparse encoder endpoint for hybrid search.
	SparseURL string `yaml:"sparse_url" mapstructure:"sparse_url"`

	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CrawlerConfig configures the external crawler service client.
type CrawlerConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WatcherConfig tunes file watching.
type WatcherConfig struct {
	// DebounceMs is the quiet window after the last event before a sync runs.
	DebounceMs int `yaml:"debounce_ms" mapstructure:"debounce_ms"`

	// WriteStabilityMs is how long a file must stop changing before its
	// event counts, so half-written files are not indexed.
	WriteStabilityMs int `yaml:"write_stability_ms" mapstructure:"write_stability_ms"`

	// HealthInterval is the cadence of the restart loop for enabled watchers.
	HealthInterval time.Duration `yaml:"health_interval" mapstructure:"health_interval"`

	// AutoRecover enables the health restart loop.
	AutoRecover bool `yaml:"auto_recover" mapstructure:"auto_recover"`

	// SidecarPath backs watch configs up as JSON for disaster recovery.
	// Empty disables the sidecar.
	SidecarPath string `yaml:"sidecar_path" mapstructure:"sidecar_path"`
}

// JobsConfig tunes the ingestion job queue.
type JobsConfig struct {
	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" mapstructure:"retry_backoff_base"`
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	Retention        time.Duration `yaml:"retention" mapstructure:"retention"`
	TempRoot         string        `yaml:"temp_root" mapstructure:"temp_root"`
}

// QueryConfig tunes retrieval.
type QueryConfig struct {
	TopK       int `yaml:"top_k" mapstructure:"top_k"`
	Oversample int `yaml:"oversample" mapstructure:"oversample"`
}

// ChunkingConfig tunes the token chunker.
type ChunkingConfig struct {
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`
	Overlap   int `yaml:"overlap" mapstructure:"overlap"`
}

// MonitorsConfig sets the monitor polling cadences.
type MonitorsConfig struct {
	PostgresPollingInterval    time.Duration `yaml:"postgres_polling_interval" mapstructure:"postgres_polling_interval"`
	CrawlPollingInterval       time.Duration `yaml:"crawl_polling_interval" mapstructure:"crawl_polling_interval"`
	VectorStorePollingInterval time.Duration `yaml:"vector_store_polling_interval" mapstructure:"vector_store_polling_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" mapstructure:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Postgres: PostgresConfig{
			URL:     "postgres://localhost:5432/claude_context",
			PoolMax: 20,
		},
		VectorStore: VectorStoreConfig{
			URL:          "localhost:6334",
			EnableHybrid: false,
		},
		Embedding: EmbeddingConfig{
			URL:     "http://localhost:8080/embed",
			Timeout: 30 * time.Second,
		},
		Crawler: CrawlerConfig{
			URL:     "http://localhost:11235",
			Timeout: 30 * time.Second,
		},
		Watcher: WatcherConfig{
			DebounceMs:       2000,
			WriteStabilityMs: 500,
			HealthInterval:   30 * time.Second,
			AutoRecover:      true,
		},
		Jobs: JobsConfig{
			MaxRetries:       3,
			RetryBackoffBase: time.Minute,
			PollInterval:     5 * time.Second,
			CleanupInterval:  time.Hour,
			Retention:        7 * 24 * time.Hour,
		},
		Query: QueryConfig{
			TopK:       10,
			Oversample: 3,
		},
		Chunking: ChunkingConfig{
			MaxTokens: 512,
			Overlap:   64,
		},
		Monitors: MonitorsConfig{
			PostgresPollingInterval:    30 * time.Second,
			CrawlPollingInterval:       time.Second,
			VectorStorePollingInterval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Debounce returns the watcher debounce window as a duration.
func (w WatcherConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// WriteStability returns the write-stability threshold as a duration.
func (w WatcherConfig) WriteStability() time.Duration {
	return time.Duration(w.WriteStabilityMs) * time.Millisecond
}

// RecoveryInterval returns the health loop cadence, or zero when auto
// recovery is disabled so the loop never starts.
func (w WatcherConfig) RecoveryInterval() time.Duration {
	if !w.AutoRecover {
		return 0
	}
	return w.HealthInterval
}
