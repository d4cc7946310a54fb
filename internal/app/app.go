// Package app wires configuration, storage, cache, and handlers into the
// running gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/internal/config"
	"github.com/wisbric/graphgate/internal/httpserver"
	"github.com/wisbric/graphgate/internal/platform"
	"github.com/wisbric/graphgate/internal/seed"
	"github.com/wisbric/graphgate/internal/telemetry"
	"github.com/wisbric/graphgate/pkg/cache"
	"github.com/wisbric/graphgate/pkg/proxy"
	"github.com/wisbric/graphgate/pkg/rewrite"
	"github.com/wisbric/graphgate/pkg/tenant"
	"github.com/wisbric/graphgate/pkg/upstream"
	"github.com/wisbric/graphgate/pkg/user"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, applies migrations, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting graphgate",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"upstream", cfg.PrefectAPIURL,
	)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Redis is optional. Without it the gateway runs with caching and login
	// rate limiting disabled.
	var rdb *redis.Client
	if cfg.CacheEnable {
		rdb, err = connectRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	} else {
		logger.Info("cache disabled (CACHE_ENABLE not set)")
	}

	switch cfg.Mode {
	case "serve":
		return runServer(ctx, cfg, logger, pool, rdb)
	case "migrate":
		// Migrations already ran above.
		return nil
	case "seed":
		return seed.Run(ctx, pool, cfg, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// connectRedis honors CACHE_REDIS_URL when set, falling back to the
// host/port/password settings.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.CacheRedisURL != "" {
		return platform.NewRedisClient(ctx, cfg.CacheRedisURL)
	}
	return platform.NewRedisClientAddr(ctx, cfg.RedisAddr(), cfg.CacheRedisPassword, cfg.CacheRedisDB)
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	metricsReg := telemetry.NewMetricsRegistry()

	// A nil cache is valid everywhere and means every lookup misses.
	var store *cache.Cache
	if rdb != nil {
		store = cache.New(rdb, cfg.CacheTTL(), cfg.NegativeCacheTTL(), logger)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}

	upstreamClient := upstream.NewClient(cfg.PrefectAPIURL, cfg.UpstreamTimeout())
	oracle := rewrite.NewOracle(upstreamClient, store, logger)
	rewriter := rewrite.NewRewriter(oracle)

	userStore := user.NewStore(pool)
	tenantStore := tenant.NewStore(pool)
	hasher := auth.NewHasher(cfg.PasswordHashAlgorithm, cfg.PasswordHashIterations)

	var limiter *auth.RateLimiter
	if rdb != nil {
		limiter = auth.NewRateLimiter(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow)
	}

	login := auth.NewLoginHandler(userStore, hasher, limiter, cfg.TokenTTL, loc, logger)
	userHandler := user.NewHandler(userStore, hasher, store, logger)
	tenantHandler := tenant.NewHandler(tenantStore, upstreamClient, store, logger)
	proxyHandler := proxy.NewHandler(tenantStore, userStore, rewriter, upstreamClient, store, logger)

	authn := auth.Middleware(userStore, loc, logger)

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg)
	srv.Router.Post("/auth/login", login.HandleLogin)
	srv.Router.Group(func(r chi.Router) {
		r.Use(authn)
		r.Post("/auth/logout", login.HandleLogout)
		r.Get("/auth/validate", userHandler.HandleValidate)
		r.Mount("/user", userHandler.Routes())
		r.Mount("/tenant", tenantHandler.Routes())
	})
	srv.Router.Mount("/proxy", proxyHandler.Routes(authn))

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
		// The write timeout must cover a full upstream round trip.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
