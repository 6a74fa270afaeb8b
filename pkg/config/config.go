// Package config loads daemon configuration. Defaults come first, an
// optional YAML file overlays them, and environment variables win over
// both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the daemon reads at startup.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	SchemaPath      string        `yaml:"schema_path"`
	TrackerPath     string        `yaml:"tracker_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	Neo4j struct {
		URI      string  `yaml:"uri"`
		Username string  `yaml:"username"`
		Password string  `yaml:"password"`
		QPS      float64 `yaml:"qps"`
		Burst    int     `yaml:"burst"`
	} `yaml:"neo4j"`
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{
		ListenAddr:      ":8090",
		SchemaPath:      "schema.yaml",
		TrackerPath:     "diffs.db",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
	cfg.Neo4j.URI = "bolt://localhost:7687"
	cfg.Neo4j.Username = "neo4j"
	cfg.Neo4j.QPS = 50
	cfg.Neo4j.Burst = 10
	return cfg
}

// Load builds the configuration. path may be empty; a missing file at a
// non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overlayEnv(&cfg)

	if cfg.Neo4j.URI == "" {
		return Config{}, fmt.Errorf("config: neo4j uri is required")
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	envStr("DIFFD_LISTEN_ADDR", &cfg.ListenAddr)
	envStr("DIFFD_SCHEMA_PATH", &cfg.SchemaPath)
	envStr("DIFFD_TRACKER_PATH", &cfg.TrackerPath)
	envStr("DIFFD_LOG_LEVEL", &cfg.LogLevel)
	envStr("DIFFD_NEO4J_URI", &cfg.Neo4j.URI)
	envStr("DIFFD_NEO4J_USERNAME", &cfg.Neo4j.Username)
	envStr("DIFFD_NEO4J_PASSWORD", &cfg.Neo4j.Password)

	if v := os.Getenv("DIFFD_NEO4J_QPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Neo4j.QPS = f
		}
	}
	if v := os.Getenv("DIFFD_NEO4J_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Neo4j.Burst = n
		}
	}
	if v := os.Getenv("DIFFD_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
