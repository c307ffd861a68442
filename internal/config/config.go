// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	StatePath string `env:"STATE_PATH" envDefault:"combat-tracker.db"`

	// RecordsDSN selects the remote record store: postgres:// or postgresql://
	// for Postgres, sqlite: or file: for a SQLite file. Empty keeps every
	// record local.
	RecordsDSN    string `env:"RECORDS_DSN"`
	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`
	AuthIssuer    string `env:"AUTH_ISSUER"`

	AutosaveDelay   time.Duration `env:"AUTOSAVE_DELAY" envDefault:"1s"`
	AutosaveMaxWait time.Duration `env:"AUTOSAVE_MAX_WAIT" envDefault:"10s"`
	MaxCombatants   int           `env:"MAX_COMBATANTS" envDefault:"50"`
	// SessionIdleTimeout evicts sessions with no clients and no requests.
	// Zero keeps them until shutdown.
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"10m"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	Dev            bool     `env:"DEV"`
}

// Load reads an optional .env file (or the given files) and then the
// process environment. Variables already set win over the files.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.StatePath) == "" {
		return errors.New("STATE_PATH is required")
	}
	if c.AutosaveDelay <= 0 {
		return errors.New("AUTOSAVE_DELAY must be positive")
	}
	if c.AutosaveMaxWait != 0 && c.AutosaveMaxWait < c.AutosaveDelay {
		return errors.New("AUTOSAVE_MAX_WAIT must not be shorter than AUTOSAVE_DELAY")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.MaxCombatants <= 0 {
		return errors.New("MAX_COMBATANTS must be positive")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// RecordsBackend reports which remote store RecordsDSN points at and the
// DSN that backend expects. It returns "" when no remote is configured.
func (c Config) RecordsBackend() (backend, dsn string, err error) {
	d := strings.TrimSpace(c.RecordsDSN)
	switch {
	case d == "":
		return "", "", nil
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return "postgres", d, nil
	case strings.HasPrefix(d, "sqlite:"):
		return "sqlite", strings.TrimPrefix(strings.TrimPrefix(d, "sqlite:"), "//"), nil
	case strings.HasPrefix(d, "file:"):
		return "sqlite", strings.TrimPrefix(d, "file:"), nil
	default:
		return "", "", fmt.Errorf("RECORDS_DSN: unsupported scheme in %q", d)
	}
}

func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
