// Package config loads process configuration from RPGKERNEL_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers understood by core.OpenEntityStore.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBolt     = "bolt"
)

// Blob drivers. BlobNone disables transcript archiving.
const (
	BlobNone   = "none"
	BlobFS     = "fs"
	BlobMemory = "memory"
	BlobS3     = "s3"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Config is the complete runtime configuration.
type Config struct {
	StorageDriver string `env:"RPGKERNEL_STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath    string `env:"RPGKERNEL_SQLITE_PATH"    envDefault:"rpgkernel.db"`
	PostgresDSN   string `env:"RPGKERNEL_POSTGRES_DSN"`
	BoltPath      string `env:"RPGKERNEL_BOLT_PATH"      envDefault:"rpgkernel.bolt"`

	Blob Blob

	CommandTimeout time.Duration `env:"RPGKERNEL_COMMAND_TIMEOUT" envDefault:"5s"`
	FailurePolicy  string        `env:"RPGKERNEL_FAILURE_POLICY"  envDefault:"continue"`
	DiceSeed       int64         `env:"RPGKERNEL_DICE_SEED"`

	LogLevel  string `env:"RPGKERNEL_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"RPGKERNEL_LOG_FORMAT" envDefault:"text"`

	Metrics     string `env:"RPGKERNEL_METRICS"      envDefault:"expvar"`
	MetricsAddr string `env:"RPGKERNEL_METRICS_ADDR"`

	OTelEnabled  bool   `env:"RPGKERNEL_OTEL_ENABLED"`
	OTelEndpoint string `env:"RPGKERNEL_OTEL_ENDPOINT"`
	ServiceName  string `env:"RPGKERNEL_SERVICE_NAME" envDefault:"rpgkernel"`
}

// Blob configures the transcript archive.
type Blob struct {
	Driver            string `env:"RPGKERNEL_BLOB_DRIVER"         envDefault:"none"`
	FSRoot            string `env:"RPGKERNEL_BLOB_FS_ROOT"        envDefault:"./transcripts"`
	S3Bucket          string `env:"RPGKERNEL_BLOB_S3_BUCKET"`
	S3Region          string `env:"RPGKERNEL_BLOB_S3_REGION"      envDefault:"us-east-1"`
	S3Endpoint        string `env:"RPGKERNEL_BLOB_S3_ENDPOINT"`
	S3Prefix          string `env:"RPGKERNEL_BLOB_S3_PREFIX"`
	S3PathStyle       bool   `env:"RPGKERNEL_BLOB_S3_PATH_STYLE"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3SessionToken    string `env:"AWS_SESSION_TOKEN"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))
	c.FailurePolicy = strings.ToLower(strings.TrimSpace(c.FailurePolicy))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Metrics = strings.ToLower(strings.TrimSpace(c.Metrics))
	if c.Blob.Driver == "" {
		c.Blob.Driver = BlobNone
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("RPGKERNEL_SQLITE_PATH required for sqlite storage"))
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("RPGKERNEL_POSTGRES_DSN required for postgres storage"))
		}
	case StorageBolt:
		if c.BoltPath == "" {
			errs = append(errs, errors.New("RPGKERNEL_BOLT_PATH required for bolt storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch c.Blob.Driver {
	case BlobNone, BlobMemory, BlobFS:
	case BlobS3:
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("RPGKERNEL_BLOB_S3_BUCKET required for s3 blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.FailurePolicy {
	case "continue", "halt":
	default:
		errs = append(errs, fmt.Errorf("unknown failure policy %q", c.FailurePolicy))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, errors.New("RPGKERNEL_COMMAND_TIMEOUT must not be negative"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("unknown metrics backend %q", c.Metrics))
	}
	if c.OTelEnabled && c.OTelEndpoint == "" {
		errs = append(errs, errors.New("RPGKERNEL_OTEL_ENDPOINT required when tracing is enabled"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}
