package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DataScientest/eval-llm-in-production/internal/cache"
	"github.com/DataScientest/eval-llm-in-production/internal/config"
	hhttp "github.com/DataScientest/eval-llm-in-production/internal/handler/http"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/auth"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/middleware"
	"github.com/DataScientest/eval-llm-in-production/internal/health"
	"github.com/DataScientest/eval-llm-in-production/internal/infra/db"
	"github.com/DataScientest/eval-llm-in-production/internal/llm"
	"github.com/DataScientest/eval-llm-in-production/internal/observability/logging"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/circuitbreaker"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/retry"
	"github.com/DataScientest/eval-llm-in-production/internal/service"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg := loadConfig(logger)
	securityCfg := loadSecurityConfig(logger)

	store, cleanup := buildCacheStore(logger, cfg)
	defer cleanup()

	responseCache := cache.NewContentCache(store, cfg.Cache.TTL)
	sweeper := startSweeper(logger, responseCache, cfg)
	if sweeper != nil {
		defer sweeper.Stop()
	}

	checker := buildHealthChecker(cfg, store)
	upstream := buildUpstream(logger, cfg)

	svc := service.NewClient(upstream, responseCache, circuitbreaker.NewRegistry(), checker, service.Config{
		DefaultModel: cfg.Upstream.DefaultModel,
		Retry: retry.Config{
			MaxRetries:     cfg.Retry.MaxRetries,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			JitterFraction: cfg.Retry.JitterFraction,
		},
		Breaker: circuitbreaker.Config{
			Name:              service.UpstreamBreakerName,
			FailureThreshold:  cfg.Breaker.FailureThreshold,
			RecoveryTimeout:   cfg.Breaker.RecoveryTimeout,
			HalfOpenMaxTrials: cfg.Breaker.HalfOpenMaxTrials,
		},
	})

	handler := buildRouter(logger, svc, cfg, securityCfg)
	runServer(logger, handler, cfg)
}

// loadConfig loads and validates the gateway configuration, exiting on
// misconfiguration so bad deployments fail at startup.
func loadConfig(logger *slog.Logger) *config.GatewayConfig {
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

// loadSecurityConfig loads the optional security YAML. Without it the
// gateway runs with authentication disabled, which is only acceptable for
// local development.
func loadSecurityConfig(logger *slog.Logger) *config.SecurityConfig {
	path := os.Getenv("SECURITY_CONFIG_PATH")
	if path == "" {
		logger.Warn("SECURITY_CONFIG_PATH not set, authentication is DISABLED")
		return nil
	}

	securityCfg, err := config.LoadSecurityConfig(path)
	if err != nil {
		logger.Error("failed to load security configuration",
			slog.String("path", path),
			slog.Any("error", err))
		os.Exit(1)
	}
	return securityCfg
}

// buildCacheStore selects the cache backend from configuration. The returned
// cleanup closes the backend connection on shutdown.
func buildCacheStore(logger *slog.Logger, cfg *config.GatewayConfig) (cache.Store, func()) {
	switch cfg.Cache.Backend {
	case "postgres":
		database, err := db.Open(cfg.Cache.PostgresDSN)
		if err != nil {
			logger.Error("failed to open postgres", slog.Any("error", err))
			os.Exit(1)
		}
		if err := db.MigrateUp(database); err != nil {
			logger.Error("failed to migrate database", slog.Any("error", err))
			os.Exit(1)
		}

		logger.Info("cache backend: postgres")
		return cache.NewPostgresStore(database), func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close postgres", slog.Any("error", err))
			}
		}

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
		})

		logger.Info("cache backend: redis", slog.String("addr", cfg.Cache.RedisAddr))
		return cache.NewRedisStore(client, cfg.Cache.TTL), func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis", slog.Any("error", err))
			}
		}

	default:
		logger.Info("cache backend: memory")
		return cache.NewMemoryStore(), func() {}
	}
}

// startSweeper starts the periodic expiry sweep unless the schedule is
// disabled. The in-memory and Redis backends still benefit: memory needs the
// sweep to bound growth, Redis treats the purge as a no-op.
func startSweeper(logger *slog.Logger, responseCache *cache.ContentCache, cfg *config.GatewayConfig) *cache.Sweeper {
	if cfg.Cache.SweepSchedule == "" {
		logger.Info("cache sweeper disabled")
		return nil
	}

	sweeper := cache.NewSweeper(responseCache, cfg.Cache.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start cache sweeper",
			slog.String("schedule", cfg.Cache.SweepSchedule),
			slog.Any("error", err))
		os.Exit(1)
	}
	return sweeper
}

// buildHealthChecker registers one probe per external dependency.
func buildHealthChecker(cfg *config.GatewayConfig, store cache.Store) *health.Checker {
	checker := health.NewChecker()

	if cfg.Upstream.HealthURL != "" {
		checker.Register(health.NewHTTPProbe("upstream", cfg.Upstream.HealthURL))
	}

	switch backend := store.(type) {
	case *cache.PostgresStore:
		checker.Register(health.NewPostgresProbe("cache-postgres", backend.DB()))
	case *cache.RedisStore:
		checker.Register(health.NewRedisProbe("cache-redis", backend.Client()))
	}

	return checker
}

// buildUpstream selects the upstream adapter from configuration.
func buildUpstream(logger *slog.Logger, cfg *config.GatewayConfig) llm.Upstream {
	switch cfg.Upstream.Provider {
	case "anthropic":
		logger.Info("upstream provider: anthropic")
		return llm.NewAnthropicClient(llm.AnthropicClientConfig{
			APIKey:         cfg.Upstream.APIKey,
			RequestTimeout: cfg.Upstream.RequestTimeout,
			DefaultModel:   cfg.Upstream.DefaultModel,
		})
	default:
		logger.Info("upstream provider: openai proxy",
			slog.String("base_url", cfg.Upstream.BaseURL))
		return llm.NewProxyClient(llm.ProxyClientConfig{
			BaseURL:        cfg.Upstream.BaseURL,
			APIKey:         cfg.Upstream.APIKey,
			RequestTimeout: cfg.Upstream.RequestTimeout,
			DefaultModel:   cfg.Upstream.DefaultModel,
		})
	}
}

// buildRouter wires the HTTP surface with rate limiting and authentication
// per configuration.
func buildRouter(logger *slog.Logger, svc hhttp.LLMService, cfg *config.GatewayConfig, securityCfg *config.SecurityConfig) http.Handler {
	opts := hhttp.RouterOptions{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	if cfg.RateLimit.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		logger.Info("rate limiting enabled",
			slog.Float64("rps", cfg.RateLimit.RequestsPerSecond),
			slog.Int("burst", cfg.RateLimit.Burst))
	} else {
		logger.Warn("rate limiting is DISABLED - not recommended for production")
	}

	if securityCfg != nil {
		opts.Issuer = auth.NewIssuer(securityCfg)
		opts.PublicEndpoints = securityCfg.GetPublicEndpoints()
		logger.Info("authentication enabled",
			slog.Int("api_keys", len(securityCfg.Security.APIKeys)),
			slog.Any("public_endpoints", opts.PublicEndpoints))
	}

	return hhttp.NewRouter(svc, opts)
}

// runServer starts the HTTP server and handles graceful shutdown.
func runServer(logger *slog.Logger, handler http.Handler, cfg *config.GatewayConfig) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		logger.Info("server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
