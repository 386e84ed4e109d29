package edgeconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the environment-driven configuration of a Client.
type Config struct {
	ConnectionString     string        `env:"EDGE_CONFIG"`
	Environment          string        `env:"VERCEL_ENV"`
	LambdaFunctionName   string        `env:"AWS_LAMBDA_FUNCTION_NAME"`
	EmbeddedDir          string        `env:"EDGE_CONFIG_EMBEDDED_DIR" envDefault:"/opt/edge-configs"`
	StaleWhileRevalidate bool          `env:"EDGE_CONFIG_SWR" envDefault:"false"`
	StaleIfError         time.Duration `env:"EDGE_CONFIG_STALE_IF_ERROR" envDefault:"168h"`
	BatchWindow          time.Duration `env:"EDGE_CONFIG_BATCH_WINDOW" envDefault:"1ms"`
	Timeout              time.Duration `env:"EDGE_CONFIG_TIMEOUT" envDefault:"30s"`
	LogLevel             string        `env:"EDGE_CONFIG_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse edge config environment: %w", err)
	}
	return &cfg, nil
}

// Options translates cfg into client options. Embedded snapshots are only
// consulted inside a serverless function.
func (cfg *Config) Options() ([]Option, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("parse EDGE_CONFIG_LOG_LEVEL: %w", err)
	}

	opts := []Option{
		WithLogger(log.Logger.Level(level)),
		WithStaleIfError(cfg.StaleIfError),
		WithBatchWindow(cfg.BatchWindow),
		WithTimeout(cfg.Timeout),
	}
	if cfg.Environment != "" {
		opts = append(opts, WithEnvironment(cfg.Environment))
	}
	if cfg.StaleWhileRevalidate {
		opts = append(opts, WithStaleWhileRevalidate())
	}
	if cfg.LambdaFunctionName != "" && cfg.EmbeddedDir != "" {
		opts = append(opts, WithEmbeddedDir(cfg.EmbeddedDir))
	}
	return opts, nil
}

// NewFromConfig builds a client from cfg; extra options are applied last.
func NewFromConfig(cfg *Config, extra ...Option) (*Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return New(cfg.ConnectionString, append(opts, extra...)...)
}
