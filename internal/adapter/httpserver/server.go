// Package httpserver serves the HTTP surface: the websocket endpoint, the
// read-only question API, health probes and Prometheus metrics.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/platform/config"
	apperrors "github.com/pscheid92/askpulse/internal/platform/errors"
)

// WebSocketEndpoint is the live transport mounted on /ws.
type WebSocketEndpoint interface {
	Serve(w http.ResponseWriter, r *http.Request, ip string)
	// ConnectionCount is the number of open sockets, including ones not yet registered on the bus.
	ConnectionCount() int64
}

// HealthChecker is a named dependency probed by /health/ready.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	reads        domain.ReadModel
	websocket    WebSocketEndpoint
	healthChecks []HealthChecker

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics

	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(cfg *config.Config, reads domain.ReadModel, ws WebSocketEndpoint, healthChecks []HealthChecker, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperrors.ErrorHandler(httpMetrics.ErrorsTotal, e.DefaultHTTPErrorHandler)

	srv := &Server{
		echo:         e,
		config:       cfg,
		reads:        reads,
		websocket:    ws,
		healthChecks: healthChecks,
		registry:     registry,
		httpMetrics:  httpMetrics,
		clock:        clock,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks until the server stops. After Shutdown it returns http.ErrServerClosed (wrapped).
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "env", s.config.AppEnv)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
