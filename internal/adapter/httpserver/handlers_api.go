package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/askpulse/internal/platform/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api", newRateLimiter(s.config.APIRateLimit, s.config.APIRateBurst))
	api.GET("/questions", s.handleListQuestions)
	api.GET("/questions/:id", s.handleGetQuestion)
	api.GET("/answers/:questionId", s.handleListAnswers)
}

func (s *Server) handleListQuestions(c echo.Context) error {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil {
		return err
	}
	if offset < 0 {
		return apperrors.ValidationError("offset must not be negative").WithContext("offset", offset)
	}
	if limit <= 0 {
		return apperrors.ValidationError("limit must be positive").WithContext("limit", limit)
	}
	limit = min(limit, maxPageSize)

	if err := c.JSON(http.StatusOK, s.reads.ListQuestions(offset, limit)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetQuestion(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	qa, err := s.reads.QuestionWithAnswers(id)
	if err != nil {
		return apperrors.NotFoundError("question not found").WithContext("question_id", id)
	}

	if err := c.JSON(http.StatusOK, qa); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListAnswers(c echo.Context) error {
	id, err := pathID(c, "questionId")
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, s.reads.AnswersFor(id)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func pathID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("invalid "+name).WithContext(name, raw)
	}
	return id, nil
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ValidationError("invalid "+name).WithContext(name, raw)
	}
	return v, nil
}
