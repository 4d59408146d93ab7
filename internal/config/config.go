// Package config loads and validates pricewatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pricewatch/internal/extract"
)

// EnvPrefix namespaces environment overrides, e.g. PRICEWATCH_SERVER_PORT.
const EnvPrefix = "PRICEWATCH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	AntiBot   AntiBotConfig   `mapstructure:"antibot"`
	Cooldown  CooldownConfig  `mapstructure:"cooldown"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the management HTTP server.
type ServerConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	Port                  int  `mapstructure:"port"`
	RequestTimeoutSeconds int  `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SchedulerConfig governs the per-minute tick.
type SchedulerConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	TargetRPS   float64 `mapstructure:"target_rps"`
	JitterMinMs int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs int     `mapstructure:"jitter_max_ms"`
}

// FetchConfig configures the conditional GET transport and its retry loop.
type FetchConfig struct {
	MaxRetries           int     `mapstructure:"max_retries"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	UserAgent            string  `mapstructure:"user_agent"`
	AcceptLanguage       string  `mapstructure:"accept_language"`
	RespectRobots        bool    `mapstructure:"respect_robots"`
	BackoffBaseMs        int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs         int     `mapstructure:"backoff_max_ms"`
	RetryJitterMs        int     `mapstructure:"retry_jitter_ms"`
	RetryAfterMaxSeconds int     `mapstructure:"retry_after_max_seconds"`
	AddRPS               float64 `mapstructure:"add_rps"`
	AddBurst             int     `mapstructure:"add_burst"`
}

// AntiBotConfig tunes challenge page detection.
type AntiBotConfig struct {
	MinBodyBytes int      `mapstructure:"min_body_bytes"`
	ScanBytes    int      `mapstructure:"scan_bytes"`
	Phrases      []string `mapstructure:"phrases"`
}

// CooldownConfig bounds the pause applied to blocked items.
type CooldownConfig struct {
	MinMinutes int `mapstructure:"min_minutes"`
	MaxMinutes int `mapstructure:"max_minutes"`
}

// ExtractConfig lists the price selectors tried in order.
type ExtractConfig struct {
	PriceSelectors []string `mapstructure:"price_selectors"`
}

// StorageConfig selects the item repository.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// NotifyConfig selects the alert channel.
type NotifyConfig struct {
	Driver   string         `mapstructure:"driver"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// PubSubConfig holds metadata for alert publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where anti-bot pages are kept.
type ArchiveConfig struct {
	Driver string      `mapstructure:"driver"`
	Prefix string      `mapstructure:"prefix"`
	Local  LocalConfig `mapstructure:"local"`
	GCS    GCSConfig   `mapstructure:"gcs"`
}

// LocalConfig points at a directory on disk.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig names a Cloud Storage bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional .env file, an optional config file and
// the environment.
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("cors.allowed_origins", []string{"http://127.0.0.1:8080"})
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.target_rps", 0.5)
	v.SetDefault("scheduler.jitter_min_ms", 80)
	v.SetDefault("scheduler.jitter_max_ms", 420)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.accept_language", "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.backoff_base_ms", 800)
	v.SetDefault("fetch.backoff_max_ms", 30000)
	v.SetDefault("fetch.retry_jitter_ms", 500)
	v.SetDefault("fetch.retry_after_max_seconds", 300)
	v.SetDefault("fetch.add_rps", 1.0)
	v.SetDefault("fetch.add_burst", 1)
	v.SetDefault("antibot.min_body_bytes", 800)
	v.SetDefault("antibot.scan_bytes", 4000)
	v.SetDefault("antibot.phrases", extract.DefaultAntiBotPhrases)
	v.SetDefault("cooldown.min_minutes", 10)
	v.SetDefault("cooldown.max_minutes", 30)
	v.SetDefault("extract.price_selectors", extract.DefaultPriceSelectors)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "tracked_items")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.telegram.token", "")
	v.SetDefault("notify.telegram.chat_id", 0)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "antibot")
	v.SetDefault("archive.local.base_dir", "data/antibot")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.TargetRPS <= 0 {
		return fmt.Errorf("scheduler.target_rps must be > 0")
	}
	if c.Scheduler.JitterMinMs < 0 || c.Scheduler.JitterMaxMs < c.Scheduler.JitterMinMs {
		return fmt.Errorf("scheduler.jitter_min_ms must be >= 0 and <= scheduler.jitter_max_ms")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RetryAfterMaxSeconds < 0 {
		return fmt.Errorf("fetch.retry_after_max_seconds must be >= 0")
	}
	if c.Cooldown.MinMinutes <= 0 || c.Cooldown.MaxMinutes <= c.Cooldown.MinMinutes {
		return fmt.Errorf("cooldown.min_minutes must be > 0 and < cooldown.max_minutes")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Notify.Driver {
	case "log":
	case "telegram":
		if c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.token and notify.telegram.chat_id must be set")
		}
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.Topic == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic must be set")
		}
	default:
		return fmt.Errorf("notify.driver %q is not supported", c.Notify.Driver)
	}
	switch c.Archive.Driver {
	case "none", "memory":
	case "local":
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set when archive.driver is local")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set when archive.driver is gcs")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	return nil
}

// FetchTimeout is the per-request transport timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds each management API call.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// JitterBounds returns the scheduler pacing jitter range.
func (c Config) JitterBounds() (time.Duration, time.Duration) {
	return millis(c.Scheduler.JitterMinMs), millis(c.Scheduler.JitterMaxMs)
}

// Backoff returns the base, cap and jitter of the retry delay.
func (c Config) Backoff() (base, maxDelay, jitter time.Duration) {
	return millis(c.Fetch.BackoffBaseMs), millis(c.Fetch.BackoffMaxMs), millis(c.Fetch.RetryJitterMs)
}

// RetryAfterMax returns the longest server requested wait the engine honours.
func (c Config) RetryAfterMax() time.Duration {
	return time.Duration(c.Fetch.RetryAfterMaxSeconds) * time.Second
}

// CooldownBounds returns the anti-bot cooldown range.
func (c Config) CooldownBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Cooldown.MinMinutes) * time.Minute, time.Duration(c.Cooldown.MaxMinutes) * time.Minute
}
