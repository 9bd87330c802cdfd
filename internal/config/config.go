package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	HTTPPort    string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JobWorkers       int           `env:"PROVISIONING_JOB_WORKERS" envDefault:"2"`
	BatchWorkers     int           `env:"PROVISIONING_BATCH_WORKERS" envDefault:"5"`
	JobPollInterval  time.Duration `env:"PROVISIONING_JOB_POLL_INTERVAL" envDefault:"500ms"`
	JobLeaseDuration time.Duration `env:"PROVISIONING_JOB_LEASE" envDefault:"60s"`
	RequestTimeout   time.Duration `env:"PROVISIONING_REQUEST_TIMEOUT" envDefault:"5m"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
