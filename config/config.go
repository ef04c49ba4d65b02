// Package config loads the daemon configuration from YAML, applies
// defaults and environment overrides, then validates it.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"epochbook/infra/logger"
)

type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Query     QueryConfig     `yaml:"query"`
	Server    ServerConfig    `yaml:"server"`
	Logging   logger.Config   `yaml:"logging"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// EpochWindow is in nanoseconds and must not change for an existing
	// data directory.
	EpochWindow uint64 `yaml:"epoch_window"`
}

type QueryConfig struct {
	Parallelism int `yaml:"parallelism"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

type OutboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

type BroadcastConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Driver        string        `yaml:"driver"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	Interval      time.Duration `yaml:"interval"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	MaxRetries    uint32        `yaml:"max_retries"`
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:     "./data",
			EpochWindow: 600_000_000_000,
		},
		Query: QueryConfig{Parallelism: 4},
		Server: ServerConfig{
			GRPCAddr: ":50051",
			HTTPAddr: ":8080",
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Outbox: OutboxConfig{Dir: "./outbox"},
		Broadcast: BroadcastConfig{
			Driver:     DriverSarama,
			Topic:      "epochbook.changes",
			Interval:   250 * time.Millisecond,
			MaxRetries: 10,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := env("EPOCHBOOK_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := env("EPOCHBOOK_EPOCH_WINDOW"); v != "" {
		w, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "EPOCHBOOK_EPOCH_WINDOW %q", v)
		}
		cfg.Storage.EpochWindow = w
	}
	if v := env("EPOCHBOOK_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := env("EPOCHBOOK_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("EPOCHBOOK_KAFKA_BROKERS"); v != "" {
		cfg.Broadcast.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Broadcast.Brokers = append(cfg.Broadcast.Brokers, b)
			}
		}
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Storage.EpochWindow == 0 {
		return errors.New("storage.epoch_window must be positive")
	}
	if c.Query.Parallelism < 1 {
		return errors.Newf("query.parallelism must be at least 1, got %d", c.Query.Parallelism)
	}
	if c.Outbox.Enabled && c.Outbox.Dir == "" {
		return errors.New("outbox.dir is required when the outbox is enabled")
	}

	b := c.Broadcast
	if !b.Enabled {
		return nil
	}
	if !c.Outbox.Enabled {
		return errors.New("broadcast requires the outbox")
	}
	if len(b.Brokers) == 0 {
		return errors.New("broadcast.brokers is required")
	}
	if b.Topic == "" {
		return errors.New("broadcast.topic is required")
	}
	switch b.Driver {
	case DriverSarama, DriverKafkaGo:
	default:
		return errors.Newf("broadcast.driver %q: want %s or %s", b.Driver, DriverSarama, DriverKafkaGo)
	}
	return nil
}
