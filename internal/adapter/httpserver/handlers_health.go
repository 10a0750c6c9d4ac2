package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/askpulse/internal/platform/errors"
	"github.com/pscheid92/askpulse/internal/platform/version"
)

const readinessProbeTimeout = 5 * time.Second

type healthResponse struct {
	Status           string `json:"status"`
	Connections      int64  `json:"connections"`
	ActiveUsers      int    `json:"activeUsers"`
	Questions        int    `json:"questions"`
	Answers          int    `json:"answers"`
	ProcessedAnswers int    `json:"processedAnswers"`
	Topics           int    `json:"topics"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleHealth reports the store counters. connections counts open sockets;
// activeUsers counts the ones registered on the bus.
func (s *Server) handleHealth(c echo.Context) error {
	stats := s.reads.Stats()
	response := healthResponse{
		Status:           "ok",
		Connections:      s.websocket.ConnectionCount(),
		ActiveUsers:      stats.Connections,
		Questions:        stats.Questions,
		Answers:          stats.Answers,
		ProcessedAnswers: stats.ProcessedAnswers,
		Topics:           stats.Topics,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness runs every dependency check. The first failing one is reported
// as an unavailable error naming the check; its cause is only logged.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			continue
		}

		return apperrors.UnavailableError(hc.Name()+" check failed", err).
			WithContext("failed_check", hc.Name())
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ready"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
