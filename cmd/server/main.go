package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/askpulse/internal/adapter/httpserver"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/adapter/redis"
	"github.com/pscheid92/askpulse/internal/adapter/websocket"
	"github.com/pscheid92/askpulse/internal/broadcast"
	"github.com/pscheid92/askpulse/internal/dedup"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/platform/config"
	"github.com/pscheid92/askpulse/internal/platform/logging"
	"github.com/pscheid92/askpulse/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupDedup returns the answer admission filter. With REDIS_URL set, Redis is
// authoritative across instances and the local cache serves as fallback.
func setupDedup(cfg *config.Config, cache *dedup.Cache, m *metrics.DedupMetrics, reg prometheus.Registerer) (domain.Deduplicator, []httpserver.HealthChecker, func()) {
	cache.OnEvict(func(n int) {
		m.Evictions.Add(float64(n))
		m.Entries.Set(float64(cache.Len()))
	})

	if cfg.RedisURL == "" {
		slog.Info("Using in-process answer deduplication", "window", cache.Window())
		cache.OnDecision(func(accepted bool) {
			result := "duplicate"
			if accepted {
				result = "accepted"
			}
			m.Decisions.WithLabelValues("local", result).Inc()
			m.Entries.Set(float64(cache.Len()))
		})
		return cache, nil, func() {}
	}

	rdb := setupRedis(context.Background(), cfg)
	rdb.AddHook(redis.NewMetricsHook(metrics.NewRedisMetrics(reg)))
	slog.Info("Using Redis answer deduplication", "window", cache.Window())
	closeRedis := func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}
	return redis.NewDeduplicator(rdb, cache, m), []httpserver.HealthChecker{redis.NewHealthChecker(rdb)}, closeRedis
}

func runGracefulShutdown(srv *httpserver.Server, wsHandler *websocket.Handler, bus *broadcast.Bus, cleanup func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Hijacked websocket connections outlive the HTTP server shutdown.
		wsHandler.Close()
		bus.Stop()
		cleanup()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port)

	reg := metrics.NewRegistry()
	busMetrics := metrics.NewBusMetrics(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)
	dedupMetrics := metrics.NewDedupMetrics(reg)

	cache := dedup.NewCache(cfg.DedupWindow, clock)
	deduplicator, healthChecks, cleanup := setupDedup(cfg, cache, dedupMetrics, reg)

	bus := broadcast.NewBus(deduplicator, busMetrics, clock, cfg.CommandQueueSize, cfg.DedupSweepInterval)

	limits := websocket.NewLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst, clock)
	wsHandler := websocket.NewHandler(bus, limits, websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()), wsMetrics, clock)

	srv := httpserver.NewServer(cfg, bus, wsHandler, healthChecks, reg, httpMetrics, clock)

	done := runGracefulShutdown(srv, wsHandler, bus, cleanup)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
