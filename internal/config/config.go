// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/omnicrawler/internal/fetcher/colly"
	"github.com/JakeFAU/omnicrawler/internal/source"
	"github.com/JakeFAU/omnicrawler/internal/storage/local"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	DB        DBConfig          `mapstructure:"db"`
	Crawl     CrawlSection      `mapstructure:"crawl"`
	Templates map[string]string `mapstructure:"templates"`
	Fetch     FetchConfig       `mapstructure:"fetch"`
	Queue     QueueConfig       `mapstructure:"queue"`
	Archive   ArchiveConfig     `mapstructure:"archive"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, guards every route.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RawTable        string        `mapstructure:"raw_table"`
	FeaturesTable   string        `mapstructure:"features_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// CrawlSection seeds every CrawlConfig accepted at ingress.
type CrawlSection struct {
	MaxProfiles     int               `mapstructure:"max_profiles"`
	Mode            string            `mapstructure:"mode"`
	RequestTimeoutS float64           `mapstructure:"request_timeout_s"`
	Retries         int               `mapstructure:"retries"`
	BackoffS        float64           `mapstructure:"backoff_s"`
	Concurrency     int               `mapstructure:"concurrency"`
	PerDomainLimit  int               `mapstructure:"per_domain_limit"`
	Proxy           string            `mapstructure:"proxy"`
	Headers         map[string]string `mapstructure:"headers"`
}

// FetchConfig tunes the outbound HTTP client shared by every crawl.
type FetchConfig struct {
	UserAgent string  `mapstructure:"user_agent"`
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
	// MaxBodyBytes caps each response body; larger bodies fail the attempt.
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

// QueueConfig sizes the in-memory job queue and its consumers.
type QueueConfig struct {
	Depth     int `mapstructure:"depth"`
	Consumers int `mapstructure:"consumers"`
}

// ArchiveConfig selects where changed-record snapshots are written.
type ArchiveConfig struct {
	Backend   string       `mapstructure:"backend"`
	Prefix    string       `mapstructure:"prefix"`
	Local     local.Config `mapstructure:"local"`
	GCSBucket string       `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Template keys are dynamic; bind the common ones so env-only
	// deployments can set CRAWLER_TEMPLATES_TAG and CRAWLER_TEMPLATES_USER.
	for _, key := range []string{"templates.tag", "templates.user"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

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
	cfg.dropEmptyTemplates()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.raw_table", "profile_raw")
	v.SetDefault("db.features_table", "profile_features")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.ensure_schema", false)
	v.SetDefault("crawl.max_profiles", crawler.DefaultMaxRecords)
	v.SetDefault("crawl.mode", string(crawler.ModeFake))
	v.SetDefault("crawl.request_timeout_s", crawler.DefaultRequestTimeout.Seconds())
	v.SetDefault("crawl.retries", crawler.DefaultRetryCount)
	v.SetDefault("crawl.backoff_s", crawler.DefaultBackoffBase.Seconds())
	v.SetDefault("crawl.concurrency", crawler.DefaultGlobalConcurrency)
	v.SetDefault("crawl.per_domain_limit", crawler.DefaultPerHostLimit)
	v.SetDefault("crawl.proxy", "")
	v.SetDefault("fetch.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("fetch.max_body_bytes", collyfetcher.DefaultMaxBodySize)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.consumers", 2)
	v.SetDefault("archive.backend", ArchiveMemory)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.local.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

func (c *Config) dropEmptyTemplates() {
	for k, tpl := range c.Templates {
		if strings.TrimSpace(tpl) == "" {
			delete(c.Templates, k)
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Queue.Consumers <= 0 {
		return fmt.Errorf("queue.consumers must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be >= 0")
	}
	for seedType, tpl := range c.Templates {
		if n := strings.Count(tpl, source.Placeholder); n != 1 {
			return fmt.Errorf("templates.%s must contain exactly one %s placeholder, found %d",
				seedType, source.Placeholder, n)
		}
	}
	if err := c.CrawlDefaults().Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.Local.BaseDir) == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.GCSBucket) == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// CrawlDefaults converts the crawl section into the typed per-crawl config
// that ingress decodes request bodies over.
func (c Config) CrawlDefaults() crawler.CrawlConfig {
	return crawler.CrawlConfig{
		MaxRecords:        c.Crawl.MaxProfiles,
		Mode:              crawler.Mode(c.Crawl.Mode),
		RequestTimeout:    seconds(c.Crawl.RequestTimeoutS),
		RetryCount:        c.Crawl.Retries,
		BackoffBase:       seconds(c.Crawl.BackoffS),
		GlobalConcurrency: c.Crawl.Concurrency,
		PerHostLimit:      c.Crawl.PerDomainLimit,
		Proxy:             c.Crawl.Proxy,
		Headers:           c.Crawl.Headers,
	}
}

// SeedTemplates returns the templates keyed by seed type.
func (c Config) SeedTemplates() map[crawler.SeedType]string {
	out := make(map[crawler.SeedType]string, len(c.Templates))
	for k, v := range c.Templates {
		out[crawler.SeedType(k)] = v
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
