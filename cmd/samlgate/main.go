package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/samlgate/pkg/config"
	"github.com/platinummonkey/samlgate/pkg/credentials"
	"github.com/platinummonkey/samlgate/pkg/observability"
	"github.com/platinummonkey/samlgate/pkg/replay"
	"github.com/platinummonkey/samlgate/pkg/saml"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	baseGuard, db, redisClient, err := buildGuard(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize replay storage")
	}
	guard := replay.NewInstrumentedGuard(baseGuard, storageBackend(cfg),
		metrics.ReplayChecksTotal, metrics.ReplayCheckDuration)

	// The reaper sweeps the underlying guard; checks go through the
	// instrumented wrapper.
	reaper := replay.NewReaper(baseGuard, log, metrics.ReplayEntriesSweptTotal)
	reaper.Start()
	defer reaper.Stop()

	creds := credentials.NewStore()
	creds.OnHit = func(kind string) { metrics.CredentialCacheHitsTotal.WithLabelValues(kind).Inc() }
	creds.OnMiss = func(kind string) { metrics.CredentialCacheMissesTotal.WithLabelValues(kind).Inc() }
	resolver := saml.NewResolver(cfg, creds)
	validator := saml.NewValidator(resolver, guard, cfg)
	handlers := saml.NewHandlers(
		cfg,
		saml.NewRequestBuilder(resolver),
		saml.NewAuthenticator(resolver, validator),
		saml.NewMapper(cfg),
		saml.NewStatusReporter(cfg),
		metrics,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Settings changes take effect on the next request; credential parses
	// are memoized by content, so stale cache entries simply age out.
	if cfg.SettingsFile != "" {
		go watchSettings(ctx, cfg, creds, metrics, log)
	}

	go metrics.CollectPoolStats(ctx, db, redisClient, 15*time.Second)

	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(log))
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	handlers.RegisterRoutes(router.PathPrefix(cfg.Server.ContextPath).Subrouter())

	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient))
	observability.RegisterMetricsEndpoint(router, registry)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		reaper.Stop()
		return nil
	})
	if db != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return db.Close() })
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return redisClient.Close() })
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Starting samlgate server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		log.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

// storageBackend is the replay backend label used on check metrics.
func storageBackend(cfg *config.Config) string {
	if cfg.Storage.Type == "" {
		return "memory"
	}
	return cfg.Storage.Type
}

// buildGuard selects the replay-protection backend from storage
// configuration. The sql.DB and redis client are returned so health checks
// and shutdown can reach them.
func buildGuard(cfg *config.Config) (replay.Guard, *sql.DB, *redis.Client, error) {
	switch cfg.Storage.Type {
	case "memory", "":
		return replay.NewMemoryGuard(nil), nil, nil, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		guard := replay.NewSQLGuard(db, nil)
		if err := guard.Init(context.Background()); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize replay schema: %w", err)
		}
		return guard, db, nil, nil

	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		guard := replay.NewSQLGuard(db, nil)
		if err := guard.Init(context.Background()); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize replay schema: %w", err)
		}
		return guard, db, nil, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		return replay.NewRedisGuardFromClient(client), nil, client, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func watchSettings(ctx context.Context, cfg *config.Config, creds *credentials.Store, metrics *observability.Metrics, log *logrus.Logger) {
	err := cfg.Watch(ctx, func() {
		creds.Purge()
		metrics.ConfigReloadsTotal.WithLabelValues("success").Inc()
		log.Info("Settings reloaded")
	})
	if err != nil {
		log.WithError(err).Error("Settings watcher stopped")
	}
}
