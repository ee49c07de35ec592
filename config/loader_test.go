package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sconeworks/dispatchml/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Pipeline.Concurrency)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Scorer.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Per-class thresholds from the business rules
	assert.InDelta(t, 0.85, cfg.Thresholds["bicycle"], 1e-9)
	assert.InDelta(t, 0.99, cfg.Thresholds["tank"], 1e-9)

	// Every default threshold class has a routing rule
	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.Pipeline.Concurrency)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
pipeline:
  concurrency: 8
  alert_failure_rate: 0.25

scorer:
  endpoint: "http://inference.internal:8080"
  timeout: 45s
  classes: ["bicycle", "motorcycle"]

thresholds:
  bicycle: 0.93
  motorcycle: 0.93

routing:
  bicycle:
    route_type: SHORT_DISTANCE
    max_distance_km: 5
    priority: NORMAL
    eco_friendly: true
    priority_confidence: 0.95
  motorcycle:
    route_type: STANDARD
    max_distance_km: 25
    priority: NORMAL
    priority_confidence: 0.95

log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.InDelta(t, 0.25, cfg.Pipeline.AlertFailureRate, 1e-9)
	assert.Equal(t, "http://inference.internal:8080", cfg.Scorer.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Scorer.Timeout)
	assert.InDelta(t, 0.93, cfg.Thresholds["bicycle"], 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("DISPATCHML_SCORER_ENDPOINT", "http://override:9000")
	t.Setenv("DISPATCHML_CONCURRENCY", "12")
	t.Setenv("DISPATCHML_CACHE_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "http://override:9000", cfg.Scorer.Endpoint)
	assert.Equal(t, 12, cfg.Pipeline.Concurrency)
	assert.True(t, cfg.Cache.Enabled)
}

func TestConfig_Validate_RoutingGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds["rickshaw"] = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigurationError, types.CodeOf(err))
	assert.Contains(t, err.Error(), "rickshaw")
}

func TestConfig_Validate_BadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"empty endpoint", func(c *Config) { c.Scorer.Endpoint = "" }},
		{"no classes", func(c *Config) { c.Scorer.Classes = nil }},
		{"threshold above one", func(c *Config) { c.Thresholds["bicycle"] = 1.5 }},
		{"bad route type", func(c *Config) {
			r := c.Routing["bicycle"]
			r.RouteType = "TELEPORT"
			c.Routing["bicycle"] = r
		}},
		{"bad priority", func(c *Config) {
			r := c.Routing["truck"]
			r.Priority = "URGENT"
			c.Routing["truck"] = r
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, types.ErrConfigurationError, types.CodeOf(err))
		})
	}
}
