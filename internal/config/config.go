// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/policy/ratelimit"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlConfig governs scheduling and the fetch strategy chain.
type CrawlConfig struct {
	Concurrency           int               `mapstructure:"concurrency"`
	AttemptTimeoutSeconds float64           `mapstructure:"attempt_timeout_seconds"`
	DelaySeconds          float64           `mapstructure:"delay_seconds"`
	Strategy              string            `mapstructure:"strategy"`
	RetriesPerStrategy    int               `mapstructure:"retries_per_strategy"`
	RetryBackoffMs        int               `mapstructure:"retry_backoff_ms"`
	RetryBackoffMaxMs     int               `mapstructure:"retry_backoff_max_ms"`
	UserAgents            []string          `mapstructure:"user_agents"`
	Headers               map[string]string `mapstructure:"headers"`
	RespectRobots         bool              `mapstructure:"respect_robots"`
}

// ExtractionConfig mirrors crawler.ExtractionConfig with config-file tags.
type ExtractionConfig struct {
	ContentType    string                  `mapstructure:"content_type"`
	PrioritizeCode bool                    `mapstructure:"prioritize_code"`
	Selectors      []string                `mapstructure:"selectors"`
	Filter         crawler.FilterSettings  `mapstructure:"filter"`
	Markdown       crawler.MarkdownOptions `mapstructure:"markdown"`
}

// HeadlessConfig configures the browser strategies.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSec      int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
	SettleMs           int  `mapstructure:"settle_ms"`
}

// RateLimitConfig configures the per-domain token buckets.
type RateLimitConfig struct {
	Enabled      bool                      `mapstructure:"enabled"`
	DefaultRPS   float64                   `mapstructure:"default_rps"`
	DefaultBurst int                       `mapstructure:"default_burst"`
	Domains      map[string]ratelimit.Rule `mapstructure:"domains"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	LogEnabled    bool        `mapstructure:"log_enabled"`
	BufferSize    int         `mapstructure:"buffer_size"`
	Batch         BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds hub batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// StorageConfig selects where rendered reports are written.
type StorageConfig struct {
	Backend  string             `mapstructure:"backend"`
	Bucket   string             `mapstructure:"bucket"`
	Prefix   string             `mapstructure:"prefix"`
	Filename string             `mapstructure:"filename"`
	Local    LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DBConfig controls the optional Postgres report index.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for report-ready notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
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

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawl.concurrency", 10)
	v.SetDefault("crawl.attempt_timeout_seconds", 30)
	v.SetDefault("crawl.delay_seconds", 0)
	v.SetDefault("crawl.strategy", string(crawler.OrderHybrid))
	v.SetDefault("crawl.retries_per_strategy", 0)
	v.SetDefault("crawl.retry_backoff_ms", 250)
	v.SetDefault("crawl.retry_backoff_max_ms", 5000)
	v.SetDefault("crawl.user_agents", []string{"docucrawl/0.1 (+https://github.com/JakeFAU/docucrawl)"})
	v.SetDefault("crawl.respect_robots", false)

	v.SetDefault("extraction.content_type", string(crawler.ContentAuto))
	v.SetDefault("extraction.prioritize_code", true)
	v.SetDefault("extraction.filter.type", crawler.FilterFixed)
	v.SetDefault("extraction.filter.threshold", crawler.DefaultFilterThreshold)
	v.SetDefault("extraction.filter.min_words", 0)
	v.SetDefault("extraction.markdown.preserve_links", true)
	v.SetDefault("extraction.markdown.wrap_lines", false)
	v.SetDefault("extraction.markdown.skip_internal_links", false)
	v.SetDefault("extraction.markdown.preserve_sup_sub", false)
	v.SetDefault("extraction.markdown.escape_html", true)
	v.SetDefault("extraction.markdown.mark_code_blocks", true)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.settle_ms", 500)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.default_rps", 1)
	v.SetDefault("rate_limit.default_burst", 1)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 64)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 2000)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.filename", "crawl_output.md")
	v.SetDefault("storage.local.base_dir", "./output")

	v.SetDefault("db.table", "crawl_reports")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)

	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
}

func invalid(field, reason string) error {
	return &crawler.ConfigurationError{Field: field, Reason: reason}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Concurrency < 1 {
		return invalid("crawl.concurrency", "must be > 0")
	}
	if c.Crawl.AttemptTimeoutSeconds <= 0 {
		return invalid("crawl.attempt_timeout_seconds", "must be > 0")
	}
	if c.Crawl.DelaySeconds < 0 {
		return invalid("crawl.delay_seconds", "must be >= 0")
	}
	if _, err := crawler.ParseStrategyOrder(c.Crawl.Strategy); err != nil {
		return invalid("crawl.strategy", err.Error())
	}
	if c.Crawl.RetriesPerStrategy < 0 {
		return invalid("crawl.retries_per_strategy", "must be >= 0")
	}
	if c.Crawl.RetryBackoffMs < 0 || c.Crawl.RetryBackoffMaxMs < c.Crawl.RetryBackoffMs {
		return invalid("crawl.retry_backoff_max_ms", "must be >= crawl.retry_backoff_ms >= 0")
	}
	if err := c.Extraction.Core().Validate(); err != nil {
		return err
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return invalid("headless.max_parallel", "must be > 0 when headless is enabled")
	}
	if c.Headless.NavTimeoutSec <= 0 {
		return invalid("headless.nav_timeout_seconds", "must be > 0")
	}
	if c.Headless.PromotionThreshold < 0 || c.Headless.SettleMs < 0 {
		return invalid("headless", "promotion_threshold and settle_ms must be >= 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS < 0 {
		return invalid("rate_limit.default_rps", "must be >= 0")
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return invalid("progress.buffer_size", "must be > 0 when progress is enabled")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return invalid("storage.local.base_dir", "required for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return invalid("storage.bucket", "required for the gcs backend")
		}
	default:
		return invalid("storage.backend", fmt.Sprintf("unknown backend %q", c.Storage.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return invalid("pubsub.project_id", "required when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return invalid("server.port", "must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return invalid("auth.api_key", "must be set when auth is enabled")
	}
	return nil
}

// Core converts the file form into the immutable extraction config.
func (e ExtractionConfig) Core() crawler.ExtractionConfig {
	out := crawler.ExtractionConfig{
		ContentType:    crawler.ContentTypeHint(e.ContentType),
		PrioritizeCode: e.PrioritizeCode,
		Selectors:      append([]string(nil), e.Selectors...),
		Markdown:       e.Markdown,
		Filter:         e.Filter,
	}
	return out
}

// RunExtraction returns the extraction settings for a run.
func (c Config) RunExtraction() crawler.ExtractionConfig {
	return c.Extraction.Core()
}

// Limits returns the scheduling bounds for a run.
func (c Config) Limits() crawler.Limits {
	return crawler.Limits{
		Concurrency:    c.Crawl.Concurrency,
		InterTaskDelay: seconds(c.Crawl.DelaySeconds),
	}
}

// StrategyOrder returns the validated strategy order.
func (c Config) StrategyOrder() crawler.StrategyOrder {
	order, err := crawler.ParseStrategyOrder(c.Crawl.Strategy)
	if err != nil {
		return crawler.OrderHybrid
	}
	return order
}

// AttemptTimeout is the per-try fetch timeout.
func (c Config) AttemptTimeout() time.Duration {
	return seconds(c.Crawl.AttemptTimeoutSeconds)
}

// Headers returns the static request headers in canonical form.
func (c Config) Headers() http.Header {
	h := make(http.Header, len(c.Crawl.Headers))
	for k, v := range c.Crawl.Headers {
		h.Set(k, v)
	}
	return h
}

// RetryPolicy builds the per-strategy retry policy.
func (c Config) RetryPolicy() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(
		c.Crawl.RetriesPerStrategy,
		time.Duration(c.Crawl.RetryBackoffMs)*time.Millisecond,
		time.Duration(c.Crawl.RetryBackoffMaxMs)*time.Millisecond,
	)
}

// RateLimiter returns the limiter config.
func (c Config) RateLimiter() ratelimit.Config {
	return ratelimit.Config{
		DefaultRPS:   c.RateLimit.DefaultRPS,
		DefaultBurst: c.RateLimit.DefaultBurst,
		Domains:      c.RateLimit.Domains,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
