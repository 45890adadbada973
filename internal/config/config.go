// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/monitor"
	"github.com/DoyleJ11/live-chess-backend/internal/store"
)

type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	WarnAfter     time.Duration `env:"WARN_AFTER" envDefault:"60s"`
	PauseAfter    time.Duration `env:"PAUSE_AFTER" envDefault:"70s"`
	ForfeitAfter  time.Duration `env:"FORFEIT_AFTER" envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1s"`

	OfferTTL    time.Duration `env:"OFFER_TTL" envDefault:"60s"`
	ResumeTTL   time.Duration `env:"RESUME_TTL" envDefault:"60s"`
	AbortTTL    time.Duration `env:"ABORT_TTL" envDefault:"60s"`
	ResumeGrace time.Duration `env:"RESUME_GRACE" envDefault:"0s"`

	InitialTime time.Duration `env:"INITIAL_TIME" envDefault:"10m"`
	Increment   time.Duration `env:"INCREMENT" envDefault:"0s"`

	SaveTimeout     time.Duration `env:"SAVE_TIMEOUT" envDefault:"2s"`
	SaveMaxAttempts uint          `env:"SAVE_MAX_ATTEMPTS" envDefault:"5"`
	ArchiveLinger   time.Duration `env:"ARCHIVE_LINGER" envDefault:"5m"`

	WSReadTimeout    time.Duration `env:"WS_READ_TIMEOUT" envDefault:"90s"`
	WSWriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSOrigins        []string      `env:"WS_ORIGINS" envSeparator:","`
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`
}

// Load reads envFile when it exists, then parses the environment. Variables
// already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.WarnAfter <= 0 || c.PauseAfter <= c.WarnAfter {
		errs = append(errs, errors.New("PAUSE_AFTER must exceed WARN_AFTER > 0"))
	}
	if c.ForfeitAfter <= 0 {
		errs = append(errs, errors.New("FORFEIT_AFTER must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.InitialTime <= 0 || c.Increment < 0 {
		errs = append(errs, errors.New("INITIAL_TIME must be positive and INCREMENT non-negative"))
	}
	if c.SaveMaxAttempts == 0 {
		errs = append(errs, errors.New("SAVE_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c Config) Thresholds() monitor.Thresholds {
	return monitor.Thresholds{WarnAfter: c.WarnAfter, PauseAfter: c.PauseAfter, ForfeitAfter: c.ForfeitAfter}
}

func (c Config) Policy() engine.Policy {
	return engine.Policy{OfferTTL: c.OfferTTL, ResumeTTL: c.ResumeTTL, AbortTTL: c.AbortTTL, ResumeGrace: c.ResumeGrace}
}

func (c Config) TimeControl() engine.TimeControl {
	return engine.TimeControl{InitialMs: c.InitialTime.Milliseconds(), IncrementMs: c.Increment.Milliseconds()}
}

func (c Config) RetryPolicy() store.RetryPolicy {
	p := store.DefaultRetryPolicy()
	p.MaxTries = c.SaveMaxAttempts
	return p
}
