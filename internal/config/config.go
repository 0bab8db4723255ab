// Package config reads blockr's settings from BLOCKR_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/backoff"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/remote"
	"github.com/sadopc/blockr/internal/retry"
	"github.com/sadopc/blockr/internal/store"
)

const envPrefix = "BLOCKR"

type Config struct {
	// Remote service
	APIURL      string `envconfig:"API_URL"`
	APIKey      string `envconfig:"API_KEY"`
	RealtimeURL string `envconfig:"REALTIME_URL"`
	AccessToken string `envconfig:"ACCESS_TOKEN"`
	UserID      string `envconfig:"USER_ID"`

	// Local storage
	DBPath string `envconfig:"DB_PATH"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	// Retry policy
	MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
	BaseDelay         time.Duration `envconfig:"BASE_DELAY" default:"1s"`
	MaxDelay          time.Duration `envconfig:"MAX_DELAY" default:"30s"`
	BackoffMultiplier float64       `envconfig:"BACKOFF_MULTIPLIER" default:"2"`
	Jitter            bool          `envconfig:"JITTER" default:"true"`

	CacheMaxAge time.Duration `envconfig:"CACHE_MAX_AGE" default:"5m"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
}

// Load parses the environment and fills in derived paths.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	if c.DBPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}
		c.DBPath = p
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(filepath.Dir(c.DBPath), "blockr.log")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("BACKOFF_MULTIPLIER must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("MAX_DELAY %s is shorter than BASE_DELAY %s", c.MaxDelay, c.BaseDelay)
	}
	return nil
}

// Mode is Authenticated when both a user id and an access token are set.
func (c *Config) Mode() model.OwnerMode {
	if c.UserID != "" && c.AccessToken != "" {
		return model.Authenticated
	}
	return model.Guest
}

// Online reports whether a remote service is configured at all.
func (c *Config) Online() bool {
	return c.APIURL != ""
}

func (c *Config) Backoff() backoff.Config {
	return backoff.Config{
		BaseDelay:  c.BaseDelay,
		MaxDelay:   c.MaxDelay,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.Jitter,
	}
}

func (c *Config) Retry() retry.Config {
	return retry.Config{MaxRetries: c.MaxRetries, Backoff: c.Backoff()}
}

func (c *Config) ClientOptions() remote.Options {
	return remote.Options{
		BaseURL:     c.APIURL,
		APIKey:      c.APIKey,
		AccessToken: c.AccessToken,
		Timeout:     c.HTTPTimeout,
	}
}

func (c *Config) SubscriberOptions(logger zerolog.Logger) remote.SubscriberOptions {
	return remote.SubscriberOptions{
		URL:         c.RealtimeURL,
		APIKey:      c.APIKey,
		AccessToken: c.AccessToken,
		Backoff:     c.Backoff(),
		Logger:      logger,
	}
}
