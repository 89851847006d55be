// Package config defines the top-level configuration for the band4band
// settlement node and its publisher CLI, and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// or YAML file and then optionally overridden by B4B_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Ledger   LedgerConfig   `toml:"ledger" yaml:"ledger"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Oracle   OracleConfig   `toml:"oracle" yaml:"oracle"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// EngineConfig tunes the settlement engine.
type EngineConfig struct {
	// FreshnessWindow is the submission window, in seconds, given to newly
	// initialized registries.
	FreshnessWindow int64 `toml:"freshness_window" yaml:"freshness_window"`
	// ResolutionStaleness is the maximum age, in seconds, of a settlement
	// feed's latest update at resolution. It is independent of the
	// freshness window.
	ResolutionStaleness int64    `toml:"resolution_staleness" yaml:"resolution_staleness"`
	LockTTL             duration `toml:"lock_ttl" yaml:"lock_ttl"`
	LockRetry           duration `toml:"lock_retry" yaml:"lock_retry"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// event bus and rate limiting run in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	Namespace  string `toml:"namespace" yaml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for payload pinning.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
	Prefix         string `toml:"prefix" yaml:"prefix"`

	// ArchiveInterval is how often the audit log is copied to the bucket.
	// Zero disables archiving.
	ArchiveInterval duration `toml:"archive_interval" yaml:"archive_interval"`
}

// AuthConfig selects how request callers are authenticated.
type AuthConfig struct {
	// Mode is "signature" (secp256k1 request signatures) or "trusted"
	// (claimed caller accepted as is, for local development).
	Mode            string   `toml:"mode" yaml:"mode"`
	ReplayTTL       duration `toml:"replay_ttl" yaml:"replay_ttl"`
	JanitorInterval duration `toml:"janitor_interval" yaml:"janitor_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	RateLimit   int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow  duration `toml:"rate_window" yaml:"rate_window"`
}

// LedgerConfig controls the development faucet.
type LedgerConfig struct {
	FaucetEnabled bool   `toml:"faucet_enabled" yaml:"faucet_enabled"`
	FaucetMax     uint64 `toml:"faucet_max" yaml:"faucet_max"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// OracleConfig holds the publisher CLI's node endpoint and key source.
type OracleConfig struct {
	NodeURL          string   `toml:"node_url" yaml:"node_url"`
	APIKey           string   `toml:"api_key" yaml:"api_key"`
	League           string   `toml:"league" yaml:"league"`
	PrivateKey       string   `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password" yaml:"key_password"`
	RequestTimeout   duration `toml:"request_timeout" yaml:"request_timeout"`
}

// duration is a wrapper around time.Duration that decodes from strings like
// "5m" or "30s" in both TOML and YAML.
type duration struct {
	time.Duration
}

// Dur builds a duration value; used by callers that construct a Config in code.
func Dur(d time.Duration) duration { return duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			FreshnessWindow:     domain.DefaultFreshnessWindow,
			ResolutionStaleness: domain.ResolutionStaleness,
			LockTTL:             duration{10 * time.Second},
			LockRetry:           duration{5 * time.Millisecond},
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		SQLite: SQLiteConfig{
			Path: "band4band.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "band4band",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "b4b",
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "band4band-payloads",
			ForcePathStyle:  true,
			Prefix:          "payloads",
			ArchiveInterval: duration{time.Hour},
		},
		Auth: AuthConfig{
			Mode:            "signature",
			ReplayTTL:       duration{24 * time.Hour},
			JanitorInterval: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Ledger: LedgerConfig{
			FaucetEnabled: false,
			FaucetMax:     100 * domain.LamportsPerSOL,
		},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventMarketLocked),
				string(domain.EventMarketResolved),
				string(domain.EventMarketVoided),
			},
		},
		Oracle: OracleConfig{
			NodeURL:        "http://localhost:8080",
			RequestTimeout: duration{15 * time.Second},
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"node":     true,
	"headless": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var validAuthModes = map[string]bool{
	"signature": true,
	"trusted":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, headless)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.FreshnessWindow <= 0 {
		errs = append(errs, "engine: freshness_window must be > 0")
	}
	if c.Engine.ResolutionStaleness <= 0 {
		errs = append(errs, "engine: resolution_staleness must be > 0")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if c.Engine.LockRetry.Duration <= 0 {
		errs = append(errs, "engine: lock_retry must be > 0")
	}

	// Storage
	driver := strings.ToLower(c.Storage.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, sqlite, postgres)", c.Storage.Driver))
	}
	if driver == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}
	if driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Auth
	if !validAuthModes[strings.ToLower(c.Auth.Mode)] {
		errs = append(errs, fmt.Sprintf("auth: unknown mode %q (valid: signature, trusted)", c.Auth.Mode))
	}
	if strings.EqualFold(c.Auth.Mode, "signature") && c.Auth.ReplayTTL.Duration <= 0 {
		errs = append(errs, "auth: replay_ttl must be > 0 in signature mode")
	}

	// Server
	if c.Server.Enabled && strings.EqualFold(c.Mode, "node") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Ledger
	if c.Ledger.FaucetEnabled && c.Ledger.FaucetMax == 0 {
		errs = append(errs, "ledger: faucet_max must be > 0 when the faucet is enabled")
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !domain.EventType(ev).Valid() {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	// Oracle key source
	if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
		errs = append(errs, "oracle: key_password is required when encrypted_key_path is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
