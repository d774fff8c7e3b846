// Package config loads the client configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/fleetops/console-client/internal/logger"
)

type Config struct {
	API struct {
		BaseURL   string        `envconfig:"CONSOLE_API_BASE_URL" required:"true" validate:"required,url"`
		Timeout   time.Duration `envconfig:"CONSOLE_API_TIMEOUT" default:"30s"`
		UserAgent string        `envconfig:"CONSOLE_API_USER_AGENT" default:"fleetops-console-client/1"`
	}
	Credentials struct {
		// Path of the durable credential file; empty resolves to
		// ~/.fleetops/console_creds.json.
		Path string `envconfig:"CONSOLE_CREDS_PATH"`
	}
	Redis struct {
		// When set, credentials live in Redis instead of a local file and
		// sign-outs are shared across instances.
		Addr      string `envconfig:"CONSOLE_REDIS_ADDR"`
		Password  string `envconfig:"CONSOLE_REDIS_PASSWORD"`
		DB        int    `envconfig:"CONSOLE_REDIS_DB" default:"0"`
		KeyPrefix string `envconfig:"CONSOLE_REDIS_KEY_PREFIX" default:"console:auth"`
	}
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Get().Debug().Err(err).Msg("no .env file loaded")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config from environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
