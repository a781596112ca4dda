// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Source     SourceConfig     `mapstructure:"source"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs batch processing behavior.
type PipelineConfig struct {
	Version           string `mapstructure:"version"`
	BatchSize         int    `mapstructure:"batch_size"`
	StaleAfterMinutes int    `mapstructure:"stale_after_minutes"`
	SweepIntervalSec  int    `mapstructure:"sweep_interval_seconds"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	Workers           int    `mapstructure:"workers"`
}

// ChunkingConfig controls how comment text is split.
type ChunkingConfig struct {
	MaxChars       int `mapstructure:"max_chars"`
	OverlapChars   int `mapstructure:"overlap_chars"`
	BoundaryWindow int `mapstructure:"boundary_window"`
}

// MatchingConfig controls feature retrieval.
type MatchingConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	TopK                int     `mapstructure:"top_k"`
	EmbedConcurrency    int     `mapstructure:"embed_concurrency"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	// Backend is "openai" or "simple".
	Backend        string `mapstructure:"backend"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractionConfig selects and configures the extraction backend.
type ExtractionConfig struct {
	// Backend is "openai" or "noop".
	Backend        string  `mapstructure:"backend"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// CrawlConfig governs the ingestion loop.
type CrawlConfig struct {
	BindingLimit       int     `mapstructure:"binding_limit"`
	MaxPages           int     `mapstructure:"max_pages"`
	MinIntervalMinutes int     `mapstructure:"min_interval_minutes"`
	DelaySeconds       int     `mapstructure:"delay_seconds"`
	RPS                float64 `mapstructure:"rps"`
	Burst              int     `mapstructure:"burst"`
}

// SourceConfig configures the page fetcher and its comment selectors.
type SourceConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	CommentSelector  string `mapstructure:"comment_selector"`
	IDAttr           string `mapstructure:"id_attr"`
	TextSelector     string `mapstructure:"text_selector"`
	PostedAtSelector string `mapstructure:"posted_at_selector"`
	PostedAtLayout   string `mapstructure:"posted_at_layout"`
	NextPageSelector string `mapstructure:"next_page_selector"`
}

// StorageConfig sets the snapshot blob backend.
type StorageConfig struct {
	// Backend is "gcs", "local", or "none".
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.version", "dev")
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.stale_after_minutes", 30)
	v.SetDefault("pipeline.sweep_interval_seconds", 300)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("chunking.max_chars", 300)
	v.SetDefault("chunking.overlap_chars", 50)
	v.SetDefault("chunking.boundary_window", 80)
	v.SetDefault("matching.similarity_threshold", 0.7)
	v.SetDefault("matching.top_k", 5)
	v.SetDefault("matching.embed_concurrency", 4)
	v.SetDefault("embedding.backend", "simple")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("extraction.backend", "noop")
	v.SetDefault("extraction.timeout_seconds", 60)
	v.SetDefault("crawl.binding_limit", 20)
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.min_interval_minutes", 360)
	v.SetDefault("crawl.delay_seconds", 1)
	v.SetDefault("crawl.rps", 1)
	v.SetDefault("crawl.burst", 1)
	v.SetDefault("source.user_agent", "feedback-pipeline-bot/0.1")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Chunking.MaxChars <= 0 {
		return fmt.Errorf("chunking.max_chars must be > 0")
	}
	if c.Matching.SimilarityThreshold < 0 || c.Matching.SimilarityThreshold > 1 {
		return fmt.Errorf("matching.similarity_threshold must be in [0, 1]")
	}
	switch c.Embedding.Backend {
	case "simple":
	case "openai":
		if c.Embedding.BaseURL == "" || c.Embedding.Model == "" {
			return fmt.Errorf("embedding.base_url and embedding.model are required for the openai backend")
		}
	default:
		return fmt.Errorf("embedding.backend must be openai or simple")
	}
	switch c.Extraction.Backend {
	case "noop":
	case "openai":
		if c.Extraction.BaseURL == "" || c.Extraction.Model == "" {
			return fmt.Errorf("extraction.base_url and extraction.model are required for the openai backend")
		}
	default:
		return fmt.Errorf("extraction.backend must be openai or noop")
	}
	switch c.Storage.Backend {
	case "none":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend must be gcs, local, or none")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// StaleAfter converts the staleness threshold to a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Pipeline.StaleAfterMinutes) * time.Minute
}

// SweepInterval converts the sweep cadence to a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Pipeline.SweepIntervalSec) * time.Second
}

// CrawlMinInterval converts the crawl interval to a duration.
func (c Config) CrawlMinInterval() time.Duration {
	return time.Duration(c.Crawl.MinIntervalMinutes) * time.Minute
}
