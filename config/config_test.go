package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"EPOCHBOOK_DATA_DIR", "EPOCHBOOK_EPOCH_WINDOW", "EPOCHBOOK_GRPC_ADDR",
		"EPOCHBOOK_HTTP_ADDR", "LOG_LEVEL", "EPOCHBOOK_KAFKA_BROKERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.EpochWindow != 600_000_000_000 || cfg.Query.Parallelism != 4 || cfg.Server.GRPCAddr != ":50051" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
storage:
  data_dir: /var/lib/epochbook
  epoch_window: 1800000000000
query:
  parallelism: 8
logging:
  level: debug
  format: text
outbox:
  enabled: true
  dir: /var/lib/epochbook-outbox
broadcast:
  enabled: true
  driver: kafka-go
  brokers: [k1:9092, k2:9092]
  interval: 1s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DataDir != "/var/lib/epochbook" || cfg.Storage.EpochWindow != 1_800_000_000_000 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Query.Parallelism != 8 || cfg.Logging.Format != "text" {
		t.Fatalf("cfg = %+v", cfg)
	}
	b := cfg.Broadcast
	if b.Driver != DriverKafkaGo || len(b.Brokers) != 2 || b.Interval != time.Second || b.Topic != "epochbook.changes" {
		t.Fatalf("broadcast = %+v", b)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EPOCHBOOK_DATA_DIR", "/tmp/books")
	t.Setenv("EPOCHBOOK_EPOCH_WINDOW", "60000000000")
	t.Setenv("EPOCHBOOK_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DataDir != "/tmp/books" || cfg.Storage.EpochWindow != 60_000_000_000 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if strings.Join(cfg.Broadcast.Brokers, "|") != "a:9092|b:9092" || cfg.Logging.Level != "warn" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("EPOCHBOOK_EPOCH_WINDOW", "ten minutes")
	if _, err := Load(""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero window", func(c *Config) { c.Storage.EpochWindow = 0 }, false},
		{"zero parallelism", func(c *Config) { c.Query.Parallelism = 0 }, false},
		{"broadcast without outbox", func(c *Config) {
			c.Broadcast.Enabled = true
			c.Broadcast.Brokers = []string{"k:9092"}
		}, false},
		{"broadcast without brokers", func(c *Config) {
			c.Outbox.Enabled = true
			c.Broadcast.Enabled = true
		}, false},
		{"unknown driver", func(c *Config) {
			c.Outbox.Enabled = true
			c.Broadcast.Enabled = true
			c.Broadcast.Brokers = []string{"k:9092"}
			c.Broadcast.Driver = "confluent"
		}, false},
		{"broadcast", func(c *Config) {
			c.Outbox.Enabled = true
			c.Broadcast.Enabled = true
			c.Broadcast.Brokers = []string{"k:9092"}
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
