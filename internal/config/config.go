package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	PGDSN    string `envconfig:"PIX_PG_DSN"`
	RedisDSN string `envconfig:"PIX_REDIS_DSN"`

	Server struct {
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
		ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
		WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
		IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Metrics struct {
		Enabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
		Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
	} `envconfig:""`

	Bank struct {
		Timeout time.Duration `envconfig:"BANK_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Expiry struct {
		SweepInterval time.Duration `envconfig:"EXPIRY_SWEEP_INTERVAL" default:"5m"`
	} `envconfig:""`
}

func Load() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("gateway: failed to load config: %v", err)
	}
	return cfg
}
