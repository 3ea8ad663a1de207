// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_AUTH_CLIENT_ID.
const EnvPrefix = "CATALOG"

// Sink providers selectable in sink.providers.
const (
	ProviderLog      = "log"
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderSQLite   = "sqlite"
	ProviderBlob     = "blob"
	ProviderPubSub   = "pubsub"
)

// Blob backends selectable in storage.backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Auth     AuthConfig     `mapstructure:"auth"`
	API      APIConfig      `mapstructure:"api"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AuthConfig holds the client-credentials grant parameters.
type AuthConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// APIConfig configures catalog API access and retry behavior.
type APIConfig struct {
	BaseURL    string          `mapstructure:"base_url"`
	PageLimit  int             `mapstructure:"page_limit"`
	UserAgent  string          `mapstructure:"user_agent"`
	Timeout    time.Duration   `mapstructure:"timeout"`
	MaxRetries int             `mapstructure:"max_retries"`
	Backoff    BackoffConfig   `mapstructure:"backoff"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// BackoffConfig selects the retry delay policy.
type BackoffConfig struct {
	Policy string        `mapstructure:"policy"`
	Min    time.Duration `mapstructure:"min"`
	Max    time.Duration `mapstructure:"max"`
}

// RateLimitConfig bounds request rate per API host. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CrawlerConfig governs the walk itself.
type CrawlerConfig struct {
	ArtistBatchSize     int      `mapstructure:"artist_batch_size"`
	CategoryConcurrency int      `mapstructure:"category_concurrency"`
	PlaylistConcurrency int      `mapstructure:"playlist_concurrency"`
	Categories          []string `mapstructure:"categories"`
}

// SinkConfig lists the sinks every snapshot is handed to, in order.
type SinkConfig struct {
	Providers []string `mapstructure:"providers"`
}

// PostgresConfig controls the Postgres snapshot store.
type PostgresConfig struct {
	DSN            string         `mapstructure:"dsn"`
	Tables         storage.Tables `mapstructure:"tables"`
	WriteBatchSize int            `mapstructure:"write_batch_size"`
	MaxConns       int32          `mapstructure:"max_conns"`
	EnsureSchema   bool           `mapstructure:"ensure_schema"`
}

// SQLiteConfig controls the SQLite snapshot store.
type SQLiteConfig struct {
	Path           string         `mapstructure:"path"`
	Tables         storage.Tables `mapstructure:"tables"`
	WriteBatchSize int            `mapstructure:"write_batch_size"`
}

// StorageConfig sets where JSON snapshot artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig exposes /metrics and /healthz when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional .env file, an optional config file
// and CATALOG_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.token_url", "https://accounts.spotify.com/api/token")
	v.SetDefault("auth.timeout", 10*time.Second)
	v.SetDefault("api.base_url", "https://api.spotify.com/v1")
	v.SetDefault("api.page_limit", 50)
	v.SetDefault("api.user_agent", "catalog-crawler/0.1")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.backoff.policy", "exponential")
	v.SetDefault("api.backoff.min", 500*time.Millisecond)
	v.SetDefault("api.backoff.max", 30*time.Second)
	v.SetDefault("api.rate_limit.rps", 10.0)
	v.SetDefault("api.rate_limit.burst", 5)
	v.SetDefault("crawler.artist_batch_size", 50)
	v.SetDefault("crawler.category_concurrency", 1)
	v.SetDefault("crawler.playlist_concurrency", 4)
	v.SetDefault("crawler.categories", []string{})
	v.SetDefault("sink.providers", []string{ProviderLog})
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.tables.categories", "categories")
	v.SetDefault("postgres.tables.tracks", "tracks")
	v.SetDefault("postgres.tables.artists", "artists")
	v.SetDefault("postgres.write_batch_size", storage.DefaultWriteBatchSize)
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.ensure_schema", true)
	v.SetDefault("sqlite.path", "data/catalog.db")
	v.SetDefault("sqlite.tables.categories", "categories")
	v.SetDefault("sqlite.tables.tracks", "tracks")
	v.SetDefault("sqlite.tables.artists", "artists")
	v.SetDefault("sqlite.write_batch_size", storage.DefaultWriteBatchSize)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
		return fmt.Errorf("auth.client_id and auth.client_secret are required")
	}
	if err := absoluteURL("auth.token_url", c.Auth.TokenURL); err != nil {
		return err
	}
	if err := absoluteURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.API.PageLimit <= 0 || c.API.PageLimit > 50 {
		return fmt.Errorf("api.page_limit must be in 1..50")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0")
	}
	if c.API.Backoff.Min > c.API.Backoff.Max {
		return fmt.Errorf("api.backoff.min must not exceed api.backoff.max")
	}
	if c.API.RateLimit.RPS < 0 {
		return fmt.Errorf("api.rate_limit.rps must be >= 0")
	}
	if c.Crawler.ArtistBatchSize < 0 || c.Crawler.ArtistBatchSize > 50 {
		return fmt.Errorf("crawler.artist_batch_size must be in 0..50")
	}
	if c.Crawler.CategoryConcurrency <= 0 || c.Crawler.PlaylistConcurrency <= 0 {
		return fmt.Errorf("crawler concurrency must be > 0")
	}
	if len(c.Sink.Providers) == 0 {
		return fmt.Errorf("sink.providers must name at least one sink")
	}
	for _, p := range c.Sink.Providers {
		if err := c.validateProvider(p); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validateProvider(p string) error {
	switch p {
	case ProviderLog, ProviderMemory:
		return nil
	case ProviderPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres sink")
		}
		return c.Postgres.Tables.Validate()
	case ProviderSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite sink")
		}
		return c.SQLite.Tables.Validate()
	case ProviderBlob:
		switch c.Storage.Backend {
		case BackendLocal:
			if c.Storage.LocalDir == "" {
				return fmt.Errorf("storage.local_dir is required for the local backend")
			}
		case BackendGCS:
			if c.Storage.GCSBucket == "" {
				return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
			}
		case BackendMemory:
		default:
			return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
		}
		return nil
	case ProviderPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub sink")
		}
		return nil
	default:
		return fmt.Errorf("unknown sink provider %q", p)
	}
}

// Uses reports whether provider is selected.
func (c Config) Uses(provider string) bool {
	return slices.Contains(c.Sink.Providers, provider)
}

func absoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
