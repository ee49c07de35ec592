package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with defaults -> YAML -> env precedence.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a Loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "DISPATCHML"}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds the configuration. A missing config file is only an error
// when a path was explicitly given.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides config fields from environment variables. Only the
// knobs that make sense per-deployment are exposed; the policy tables
// stay file-driven.
func (l *Loader) applyEnv(cfg *Config) {
	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envString("LOG_FORMAT", &cfg.Log.Format)
	l.envString("SCORER_ENDPOINT", &cfg.Scorer.Endpoint)
	l.envString("SCORER_API_KEY", &cfg.Scorer.APIKey)
	l.envDuration("SCORER_TIMEOUT", &cfg.Scorer.Timeout)
	l.envString("STORAGE_BACKEND", &cfg.Storage.Backend)
	l.envString("STORAGE_ROOT", &cfg.Storage.Root)
	l.envString("STORAGE_DSN", &cfg.Storage.DSN)
	l.envString("CACHE_ADDR", &cfg.Cache.Addr)
	l.envString("CACHE_PASSWORD", &cfg.Cache.Password)
	l.envBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	l.envInt("CONCURRENCY", &cfg.Pipeline.Concurrency)
	l.envString("CAPTURE_PATH", &cfg.Capture.Path)
	l.envString("NOTIFY_WEBHOOK_URL", &cfg.Notify.WebhookURL)
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envPrefix + "_" + key)
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := l.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := l.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (l *Loader) envDuration(key string, dst *time.Duration) {
	if v, ok := l.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
