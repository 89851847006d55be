package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/band4band/internal/blob/s3"
	cachemem "github.com/alanyoungcy/band4band/internal/cache/memory"
	"github.com/alanyoungcy/band4band/internal/cache/redis"
	"github.com/alanyoungcy/band4band/internal/config"
	"github.com/alanyoungcy/band4band/internal/crypto"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/engine"
	"github.com/alanyoungcy/band4band/internal/notify"
	"github.com/alanyoungcy/band4band/internal/server/handler"
	"github.com/alanyoungcy/band4band/internal/store/memory"
	"github.com/alanyoungcy/band4band/internal/store/postgres"
	"github.com/alanyoungcy/band4band/internal/store/sqlite"
)

// Store is what every record store backend provides.
type Store interface {
	domain.RecordStore
	domain.Ledger
	domain.AuditStore
}

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store   Store
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter
	Auth    domain.Authenticator

	// Nonces is set when replay protection lives in process and needs a
	// janitor.
	Nonces *crypto.MemoryNonceGuard

	// Pinner and Archiver are nil unless S3 is enabled.
	Pinner   domain.Pinner
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Fanout   *EventFanout
	Engine   *engine.Engine

	// Checks feed the health endpoint, keyed by backend name.
	Checks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}

	// --- Record store ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		deps.Store = memory.New()
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Store = st
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Checks["postgres"] = func(ctx context.Context) error {
			return pgClient.Pool().Ping(ctx)
		}
	default:
		return fail("storage", fmt.Errorf("unknown driver %q", cfg.Storage.Driver))
	}

	// --- Locks, bus and rate limiter ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Locks = cachemem.NewLockManager()
		deps.Bus = cachemem.NewSignalBus()
		deps.Limiter = cachemem.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	}

	// --- Authenticator ---
	switch strings.ToLower(cfg.Auth.Mode) {
	case "trusted":
		logger.WarnContext(ctx, "request signatures are not verified; use trusted auth for development only")
		deps.Auth = crypto.TrustedAuthenticator{}
	default:
		var guard crypto.NonceGuard
		if cfg.Redis.Enabled {
			guard = crypto.NewLockNonceGuard(deps.Locks, cfg.Auth.ReplayTTL.Duration)
		} else {
			deps.Nonces = crypto.NewMemoryNonceGuard(cfg.Auth.ReplayTTL.Duration)
			guard = deps.Nonces
		}
		deps.Auth = crypto.NewSignatureAuthenticator(guard, cfg.Auth.ReplayTTL.Duration)
	}

	// --- S3 payload pinning and audit archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.Pinner = s3blob.NewPinner(writer, s3blob.NewReader(s3Client), cfg.S3.Prefix)
		deps.Archiver = s3blob.NewArchiver(writer, deps.Store, cfg.S3.Prefix, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	deps.Fanout = NewEventFanout(deps.Bus, deps.Store, deps.Notifier, logger)
	deps.Engine = engine.New(deps.Store, deps.Locks, deps.Auth, engine.Config{
		FreshnessWindow:     cfg.Engine.FreshnessWindow,
		ResolutionStaleness: cfg.Engine.ResolutionStaleness,
		LockTTL:             cfg.Engine.LockTTL.Duration,
		LockRetry:           cfg.Engine.LockRetry.Duration,
	}, logger).WithEventSink(deps.Fanout)

	return deps, cleanup, nil
}
