package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/rentdesk-portal/internal/apiclient"
	"github.com/iliyamo/rentdesk-portal/internal/config"
	"github.com/iliyamo/rentdesk-portal/internal/database"
	"github.com/iliyamo/rentdesk-portal/internal/guard"
	"github.com/iliyamo/rentdesk-portal/internal/handler"
	"github.com/iliyamo/rentdesk-portal/internal/logging"
	"github.com/iliyamo/rentdesk-portal/internal/middleware"
	"github.com/iliyamo/rentdesk-portal/internal/queue"
	"github.com/iliyamo/rentdesk-portal/internal/repository"
	"github.com/iliyamo/rentdesk-portal/internal/router"
	"github.com/iliyamo/rentdesk-portal/internal/session"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := guard.DefaultPolicy()
	if err := policy.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("route table is inconsistent")
	}

	rl := config.LoadRateLimitConfig()
	health := map[string]handler.Pinger{}

	// Redis backs the default session store and the login rate limiter.
	var rdb *redis.Client
	if cfg.SessionBackend == "redis" || rl.Enabled {
		c, err := config.NewRedisClient(ctx)
		switch {
		case err == nil:
			rdb = c
			defer rdb.Close()
			health["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		case cfg.SessionBackend == "redis":
			logger.Fatal().Err(err).Msg("failed to connect redis")
		default:
			logger.Warn().Err(err).Msg("redis unavailable, rate limiting disabled")
		}
	}

	var persister session.Persister
	switch cfg.SessionBackend {
	case "redis":
		persister = repository.NewRedisBlobStore(rdb, cfg.SessionPersistTTL)
	case "mysql":
		db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect mysql")
		}
		defer closeDB(logger, db)
		health["mysql"] = handler.PingFunc(db.PingContext)
		store := repository.NewMySQLBlobStore(db, cfg.SessionPersistTTL)
		go pruneSessions(ctx, logger, store, time.Hour)
		persister = store
	case "memory":
		logger.Warn().Msg("sessions are kept in memory and will not survive a restart")
		persister = repository.NewMemoryBlobStore()
	default:
		logger.Fatal().Str("backend", cfg.SessionBackend).Msg("unknown SESSION_BACKEND")
	}

	api := apiclient.New(cfg.APIBaseURL, cfg.APITimeout, nil)

	var events session.EventSink
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(queue.DialURL(config.AMQPURL()), 256, logger)
		go pub.Run(ctx)
		events = pub
	}

	manager := session.NewManager(session.ManagerOptions{
		Persister:        persister,
		Fetcher:          api,
		Events:           events,
		Logger:           logger,
		IdleTTL:          cfg.SessionIdleTTL,
		RefreshOnHydrate: cfg.SessionRefreshOnHydrate,
	})
	defer manager.Close()

	e := router.New(router.Deps{
		Manager: manager,
		Policy:  policy,
		API:     api,
		Cookie: middleware.SessionCookieConfig{
			Name:   cfg.SessionCookieName,
			Secure: cfg.SessionCookieSecure,
		},
		HydrationWait: cfg.GuardHydrationWait,
		Limiter:       middleware.NewTokenBucket(rl, rdb, logger),
		Health:        health,
		Logger:        logger,
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("backend", cfg.SessionBackend).Msg("portal listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func closeDB(logger zerolog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("close mysql")
	}
}

// pruneSessions removes abandoned auth_storage rows every interval until ctx
// is done.
func pruneSessions(ctx context.Context, logger zerolog.Logger, store *repository.MySQLBlobStore, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := store.Prune(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("prune persisted sessions")
				continue
			}
			if n > 0 {
				logger.Info().Int64("removed", n).Msg("pruned persisted sessions")
			}
		}
	}
}
