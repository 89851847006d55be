package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/band4band/internal/config"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(3600), cfg.Engine.FreshnessWindow)
	assert.Equal(t, int64(7200), cfg.Engine.ResolutionStaleness)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "signature", cfg.Auth.Mode)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "node.toml", `
mode = "headless"
log_level = "debug"

[engine]
freshness_window = 600
lock_ttl = "3s"

[storage]
driver = "memory"

[ledger]
faucet_enabled = true
faucet_max = 5000000000
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "headless", cfg.Mode)
	assert.Equal(t, int64(600), cfg.Engine.FreshnessWindow)
	assert.Equal(t, 3*time.Second, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, 5*time.Millisecond, cfg.Engine.LockRetry.Duration, "unset keys keep defaults")
	assert.Equal(t, uint64(5_000_000_000), cfg.Ledger.FaucetMax)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "node.yaml", `
storage:
  driver: postgres
postgres:
  dsn: postgres://u:p@db:5432/b4b
auth:
  mode: trusted
  replay_ttl: 1h
server:
  port: 9090
  rate_window: 30s
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/b4b", cfg.Postgres.DSN)
	assert.Equal(t, "trusted", cfg.Auth.Mode)
	assert.Equal(t, time.Hour, cfg.Auth.ReplayTTL.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("B4B_STORAGE_DRIVER", "memory")
	t.Setenv("B4B_ENGINE_FRESHNESS_WINDOW", "120")
	t.Setenv("B4B_AUTH_REPLAY_TTL", "90s")
	t.Setenv("B4B_NOTIFY_EVENTS", "claim_paid, market_resolved ,")
	t.Setenv("B4B_LEDGER_FAUCET_MAX", "42")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, int64(120), cfg.Engine.FreshnessWindow)
	assert.Equal(t, 90*time.Second, cfg.Auth.ReplayTTL.Duration)
	assert.Equal(t, []string{"claim_paid", "market_resolved"}, cfg.Notify.Events)
	assert.Equal(t, uint64(42), cfg.Ledger.FaucetMax)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Driver = "mongo"
	cfg.Engine.FreshnessWindow = 0
	cfg.Auth.Mode = "none"
	cfg.Notify.Events = []string{"order_filled"}
	cfg.Oracle.EncryptedKeyPath = "key.json"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`storage: unknown driver "mongo"`,
		"engine: freshness_window",
		`auth: unknown mode "none"`,
		`notify: unknown event "order_filled"`,
		"oracle: key_password",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidatePostgresRequiresHostWithoutDSN(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = "postgres"
	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMinConns = 20

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "pool_min_conns must not exceed")
}

func TestRedactedConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Oracle.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "k"

	out := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Oracle.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Postgres.Password, "original untouched")

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
}
