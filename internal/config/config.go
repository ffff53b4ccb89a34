// Package config loads the service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lakeside-io/lakeside/internal/logging"
	"github.com/lakeside-io/lakeside/internal/objstore"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Store      objstore.Config      `yaml:"store"`
	Retry      objstore.RetryPolicy `yaml:"retry"`
	Schema     SchemaConfig         `yaml:"schema"`
	Compaction CompactionConfig     `yaml:"compaction"`
	Gateway    GatewayConfig        `yaml:"gateway"`
	Logging    logging.Config       `yaml:"logging"`
	Metrics    MetricsConfig        `yaml:"metrics"`
}

// ServerConfig holds the listen addresses for the two HTTP surfaces.
type ServerConfig struct {
	CompactionAddr string `yaml:"compaction_addr"`
	GatewayAddr    string `yaml:"gateway_addr"`
}

// SchemaConfig configures the schema manager client.
type SchemaConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// CompactionConfig configures the coordinator and orchestrator.
type CompactionConfig struct {
	StaleLockAfter   time.Duration `yaml:"stale_lock_after"`
	LockStateDir     string        `yaml:"lock_state_dir"`
	PartitionWorkers int           `yaml:"partition_workers"`
	Compression      string        `yaml:"compression"` // "snappy" | "zstd" | "uncompressed"
}

// GatewayConfig configures the ingestion gateway.
type GatewayConfig struct {
	PartitionField string `yaml:"partition_field"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			CompactionAddr: ":8080",
			GatewayAddr:    ":8081",
		},
		Store: objstore.Config{
			Backend:  "local",
			LocalDir: "./lake",
		},
		Retry: objstore.DefaultRetryPolicy(),
		Schema: SchemaConfig{
			CacheTTL: 5 * time.Minute,
		},
		Compaction: CompactionConfig{
			StaleLockAfter:   10 * time.Minute,
			LockStateDir:     "./state",
			PartitionWorkers: 4,
			Compression:      "snappy",
		},
		Gateway: GatewayConfig{
			PartitionField: "order_ts_hour",
		},
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads the configuration file at path (when non-empty), then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MustLoad loads the configuration or exits. The file path comes from
// LAKESIDE_CONFIG when set.
func MustLoad() Config {
	cfg, err := Load(os.Getenv("LAKESIDE_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	if c.Compaction.StaleLockAfter <= 0 {
		return fmt.Errorf("compaction.stale_lock_after must be positive")
	}
	if c.Compaction.PartitionWorkers < 1 {
		return fmt.Errorf("compaction.partition_workers must be at least 1")
	}
	if c.Gateway.PartitionField == "" {
		return fmt.Errorf("gateway.partition_field must be set")
	}
	switch c.Store.Backend {
	case "memory", "local", "s3", "gcs":
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.CompactionAddr = getenvDefault("COMPACTION_ADDR", cfg.Server.CompactionAddr)
	cfg.Server.GatewayAddr = getenvDefault("GATEWAY_ADDR", cfg.Server.GatewayAddr)

	cfg.Store.Backend = getenvDefault("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Bucket = getenvDefault("STORE_BUCKET", cfg.Store.Bucket)
	cfg.Store.Prefix = getenvDefault("STORE_PREFIX", cfg.Store.Prefix)
	cfg.Store.Endpoint = getenvDefault("STORE_ENDPOINT", cfg.Store.Endpoint)
	cfg.Store.Region = getenvDefault("STORE_REGION", cfg.Store.Region)
	cfg.Store.LocalDir = getenvDefault("STORE_LOCAL_DIR", cfg.Store.LocalDir)

	if v := os.Getenv("STALE_LOCK_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compaction.StaleLockAfter = d
		}
	}
	cfg.Compaction.LockStateDir = getenvDefault("LOCK_STATE_DIR", cfg.Compaction.LockStateDir)
	if v := os.Getenv("PARTITION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.PartitionWorkers = n
		}
	}

	cfg.Gateway.PartitionField = getenvDefault("PARTITION_FIELD", cfg.Gateway.PartitionField)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	cfg.Metrics.Addr = getenvDefault("METRICS_ADDR", cfg.Metrics.Addr)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
