package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file at path, merges it on top of the built-in
// defaults, applies B4B_* environment variable overrides, and returns the
// final Config. Files ending in .yaml or .yml are decoded as YAML, anything
// else as TOML. An empty path skips the file. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(raw, cfg)
	default:
		_, err := toml.DecodeFile(path, cfg)
		return err
	}
}

// applyEnvOverrides reads well-known B4B_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt64(&cfg.Engine.FreshnessWindow, "B4B_ENGINE_FRESHNESS_WINDOW")
	setInt64(&cfg.Engine.ResolutionStaleness, "B4B_ENGINE_RESOLUTION_STALENESS")
	setDuration(&cfg.Engine.LockTTL, "B4B_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockRetry, "B4B_ENGINE_LOCK_RETRY")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "B4B_STORAGE_DRIVER")
	setStr(&cfg.SQLite.Path, "B4B_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "B4B_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "B4B_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "B4B_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "B4B_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "B4B_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "B4B_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "B4B_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "B4B_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "B4B_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "B4B_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "B4B_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "B4B_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "B4B_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "B4B_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "B4B_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "B4B_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "B4B_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "B4B_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "B4B_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "B4B_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "B4B_S3_REGION")
	setStr(&cfg.S3.Bucket, "B4B_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "B4B_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "B4B_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "B4B_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "B4B_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "B4B_S3_PREFIX")
	setDuration(&cfg.S3.ArchiveInterval, "B4B_S3_ARCHIVE_INTERVAL")

	// ── Auth ──
	setStr(&cfg.Auth.Mode, "B4B_AUTH_MODE")
	setDuration(&cfg.Auth.ReplayTTL, "B4B_AUTH_REPLAY_TTL")
	setDuration(&cfg.Auth.JanitorInterval, "B4B_AUTH_JANITOR_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "B4B_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "B4B_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "B4B_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "B4B_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "B4B_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "B4B_SERVER_RATE_WINDOW")

	// ── Ledger ──
	setBool(&cfg.Ledger.FaucetEnabled, "B4B_LEDGER_FAUCET_ENABLED")
	setUint64(&cfg.Ledger.FaucetMax, "B4B_LEDGER_FAUCET_MAX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "B4B_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "B4B_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "B4B_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "B4B_NOTIFY_EVENTS")

	// ── Oracle ──
	setStr(&cfg.Oracle.NodeURL, "B4B_ORACLE_NODE_URL")
	setStr(&cfg.Oracle.APIKey, "B4B_ORACLE_API_KEY")
	setStr(&cfg.Oracle.League, "B4B_ORACLE_LEAGUE")
	setStr(&cfg.Oracle.PrivateKey, "B4B_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "B4B_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "B4B_ORACLE_KEY_PASSWORD")
	setDuration(&cfg.Oracle.RequestTimeout, "B4B_ORACLE_REQUEST_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "B4B_MODE")
	setStr(&cfg.LogLevel, "B4B_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		*dst = cleaned
	}
}
