package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"teamcards/internal/platform/config"
	"teamcards/internal/platform/server"
	"teamcards/internal/platform/telemetry"
	"teamcards/internal/session"
	"teamcards/internal/session/adapter/cache"
	"teamcards/internal/session/adapter/directory"
	"teamcards/internal/session/adapter/identity"
	"teamcards/internal/session/adapter/inmem"
	"teamcards/internal/session/adapter/jwks"
	"teamcards/internal/session/api"
	"teamcards/internal/session/middleware"
)

const (
	maxBodyBytes     = 64 << 10
	throttleSweep    = 5 * time.Minute
	identityTimeout  = 10 * time.Second
	directoryTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("teamcards exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logging
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "teamcards")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()
	metrics, err := telemetry.NewSessionMetrics()
	if err != nil {
		return fmt.Errorf("metrics initialization: %w", err)
	}

	// Identity provider
	keys := jwks.NewClient(cfg.Identity.URL+identity.JWKSPath,
		jwks.WithMinRefresh(cfg.Identity.MinRefresh),
		jwks.WithLogger(logger),
		jwks.WithMetrics(metrics),
	)
	provider := identity.NewClient(identity.Config{
		BaseURL:   cfg.Identity.URL,
		ClientID:  cfg.Identity.ClientID,
		Issuer:    cfg.Identity.Issuer,
		TokenFile: cfg.Identity.TokenFile,
	}, keys,
		identity.WithHTTPClient(&http.Client{Timeout: identityTimeout}),
		identity.WithLogger(logger),
	)
	defer provider.Close()

	// Directory
	var dir session.DirectoryLookup
	switch cfg.Directory.Driver {
	case config.DirectoryPostgres:
		pool, err := directory.Connect(ctx, cfg.Directory.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		dir = directory.NewPostgres(pool)
	default:
		dir = directory.NewHTTP(cfg.Directory.URL, &http.Client{Timeout: directoryTimeout})
	}

	// Persisted cache
	var store session.Cache
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The cache only seeds a hint; run without it rather than refuse to start.
			logger.Warn("redis cache unreachable; hint will be unavailable until it recovers", "addr", cfg.Cache.RedisAddr, "error", err)
		}
		store = cache.NewRedis(rdb, cfg.Cache.Key, cfg.Cache.TTL)
	case config.CacheMemory:
		store = cache.NewMemory()
	default:
		store = cache.NewFile(cfg.Cache.Path)
	}

	authority, err := session.NewAuthority(session.Options{
		Provider:      provider,
		Directory:     dir,
		Cache:         store,
		Metrics:       metrics,
		Logger:        logger,
		LookupTimeout: cfg.Directory.LookupTimeout,
	})
	if err != nil {
		return err
	}
	defer authority.Close()

	// Throttles
	rl := inmem.NewThrottle(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	logins := inmem.NewThrottle(cfg.LoginThrottle.Rate, cfg.LoginThrottle.Burst, time.Now)

	var ready atomic.Bool
	router, err := api.NewRouter(api.Options{
		Authority:     authority,
		Organization:  cfg.Organization,
		LoginThrottle: logins,
		Ready:         ready.Load,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("router initialization: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger, authority),
		middleware.Recovery(logger),
		middleware.MaxBodySize(maxBodyBytes),
		middleware.RateLimit(rl, metrics),
		middleware.AttachView(authority),
	))

	srv := server.New(cfg.Addr, mux, logger)

	logger.Info("teamcards starting",
		"addr", cfg.Addr,
		"identity_url", cfg.Identity.URL,
		"directory_driver", cfg.Directory.Driver,
		"cache_driver", cfg.Cache.Driver,
		"organization", cfg.Organization,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		if err := authority.Start(gctx); err != nil {
			return fmt.Errorf("starting session authority: %w", err)
		}
		ready.Store(true)
		logger.Info("session authority ready", "state", authority.CurrentView().State)
		return nil
	})
	g.Go(func() error {
		rl.Run(gctx, throttleSweep)
		return nil
	})
	g.Go(func() error {
		logins.Run(gctx, throttleSweep)
		return nil
	})
	return g.Wait()
}
