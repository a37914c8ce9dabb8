// Package config loads server and CLI settings from the environment.
//
// Variables are prefixed with LEAVE_ and grouped (LEAVE_SERVER_PORT,
// LEAVE_DATABASE_DRIVER, ...). A .env file in the working directory is loaded
// first when present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Prefix = "LEAVE_"

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Server      struct {
		Port            int           `env:"PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
		WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
		AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	} `envPrefix:"SERVER_"`
	Database struct {
		Driver         string        `env:"DRIVER" envDefault:"sqlite"`
		Path           string        `env:"PATH" envDefault:"leave.db"`
		DSN            string        `env:"DSN"`
		MaxOpenConns   int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
		ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	} `envPrefix:"DATABASE_"`
	Redis struct {
		Addr     string        `env:"ADDR"` // empty = process-local run locks
		Password string        `env:"PASSWORD"`
		DB       int           `env:"DB" envDefault:"0"`
		LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"10m"`
	} `envPrefix:"REDIS_"`
	Scheduler struct {
		Enabled  bool          `env:"ENABLED" envDefault:"true"`
		Interval time.Duration `env:"INTERVAL" envDefault:"1h"`
	} `envPrefix:"SCHEDULER_"`
}

// Load reads dotenv files (".env" when none are given), then the environment.
// Missing dotenv files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		var aggErr env.AggregateError
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("LEAVE_DATABASE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("LEAVE_DATABASE_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("LEAVE_DATABASE_DRIVER: unknown driver %q (sqlite or postgres)", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("LEAVE_SERVER_PORT: %d is not a valid port", c.Server.Port)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("LEAVE_SCHEDULER_INTERVAL must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
