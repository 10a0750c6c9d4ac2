package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:3001"`
	Port      string `env:"PORT" default:"3001"`
	RedisURL  string `env:"REDIS_URL"` // optional; enables the shared dedup filter
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	DedupWindow        time.Duration `env:"DEDUP_WINDOW" default:"5m"`
	DedupSweepInterval time.Duration `env:"DEDUP_SWEEP_INTERVAL" default:"10s"`
	CommandQueueSize   int           `env:"COMMAND_QUEUE_SIZE" default:"256"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"20"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"40"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if !slices.Contains([]string{"development", "production", "test"}, cfg.AppEnv) {
		return fmt.Errorf("APP_ENV must be one of development, production, test, got %q", cfg.AppEnv)
	}

	u, err := url.Parse(cfg.AppURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
	}
	if cfg.AppEnv == "production" && u.Scheme != "https" {
		return errors.New("APP_URL must use https in production")
	}

	if cfg.RedisURL != "" {
		if _, err := url.Parse(cfg.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL is invalid: %w", err)
		}
	}

	if cfg.DedupWindow <= 0 {
		return errors.New("DEDUP_WINDOW must be positive")
	}
	if cfg.DedupSweepInterval <= 0 || cfg.DedupSweepInterval > cfg.DedupWindow {
		return errors.New("DEDUP_SWEEP_INTERVAL must be positive and no longer than DEDUP_WINDOW")
	}
	if cfg.CommandQueueSize <= 0 {
		return errors.New("COMMAND_QUEUE_SIZE must be positive")
	}

	if cfg.MaxWebSocketConnections <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be positive")
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return errors.New("MAX_CONNECTIONS_PER_IP must be positive")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst <= 0 {
		return errors.New("CONNECTION_RATE and CONNECTION_BURST must be positive")
	}
	if cfg.APIRateLimit <= 0 || cfg.APIRateBurst <= 0 {
		return errors.New("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}

	return nil
}
