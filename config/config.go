// Package config provides unified configuration loading for the
// dispatch pipeline: defaults, YAML file, then environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DISPATCHML").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/sconeworks/dispatchml/types"
)

// Config is the complete process configuration. ThresholdPolicy and the
// routing rule table are loaded once at startup and read-only after.
type Config struct {
	Pipeline   PipelineConfig        `yaml:"pipeline"`
	Storage    StorageConfig         `yaml:"storage"`
	Fetch      FetchConfig           `yaml:"fetch"`
	Cache      CacheConfig           `yaml:"cache"`
	Scorer     ScorerConfig          `yaml:"scorer"`
	Thresholds map[string]float64    `yaml:"thresholds"`
	Routing    map[string]RuleConfig `yaml:"routing"`
	Capture    CaptureConfig         `yaml:"capture"`
	Notify     NotifyConfig          `yaml:"notify"`
	Log        LogConfig             `yaml:"log"`
}

// PipelineConfig controls batch execution.
type PipelineConfig struct {
	// Worker count for batch fan-out
	Concurrency int `yaml:"concurrency"`
	// Failure-rate fraction above which a batch alert is emitted
	AlertFailureRate float64 `yaml:"alert_failure_rate"`
}

// StorageConfig selects the object-store backend behind ImageFetcher.
type StorageConfig struct {
	// Backend: fs, sqlite or memory
	Backend string `yaml:"backend"`
	// Root directory for the fs backend
	Root string `yaml:"root"`
	// DSN (file path) for the sqlite backend
	DSN string `yaml:"dsn"`
}

// FetchConfig controls per-read behavior of ImageFetcher.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// CacheConfig configures the optional redis payload cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ScorerConfig configures the remote inference endpoint.
type ScorerConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	// Classes is the model's fixed, ordered class list. Every response
	// is validated against it.
	Classes []string `yaml:"classes"`
	// MaxRetries bounds retries on ENDPOINT_UNAVAILABLE
	MaxRetries int `yaml:"max_retries"`
}

// RuleConfig is one entry of the routing rule table.
type RuleConfig struct {
	RouteType     string  `yaml:"route_type"`
	MaxDistanceKm float64 `yaml:"max_distance_km"`
	MaxWeightKg   float64 `yaml:"max_weight_kg"`
	Priority      string  `yaml:"priority"`
	EcoFriendly   bool    `yaml:"eco_friendly"`
	// PriorityConfidence is the stricter escalation threshold, distinct
	// from the acceptance threshold: eco classes get HIGH priority only
	// at or above it.
	PriorityConfidence float64 `yaml:"priority_confidence"`
	// ManualReviewFallback routes the class to MANUAL_REVIEW when
	// confidence is below PriorityConfidence.
	ManualReviewFallback bool   `yaml:"manual_review_fallback"`
	SpecialInstructions  string `yaml:"special_instructions"`
}

// CaptureConfig configures the monitoring capture sink.
type CaptureConfig struct {
	// Path of the JSONL capture file; empty disables file capture
	Path string `yaml:"path"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	WorkflowName string        `yaml:"workflow_name"`
	WebhookURL   string        `yaml:"webhook_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`
	// Format: json or console
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
}

// DefaultConfig returns the built-in configuration. Threshold and
// routing defaults cover the ten known vehicle classes; all values are
// overridable via YAML or environment.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Concurrency:      5,
			AlertFailureRate: 0.5,
		},
		Storage: StorageConfig{
			Backend: "fs",
			Root:    "./data",
		},
		Fetch: FetchConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		Scorer: ScorerConfig{
			Endpoint:   "http://localhost:8080",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			Classes: []string{
				"bicycle", "motorcycle", "automobile", "truck", "bus",
				"pickup_truck", "streetcar", "tank", "tractor", "lawn_mower",
			},
		},
		Thresholds: map[string]float64{
			"bicycle":      0.85,
			"motorcycle":   0.85,
			"automobile":   0.90,
			"truck":        0.95,
			"bus":          0.95,
			"pickup_truck": 0.90,
			"streetcar":    0.98,
			"tank":         0.99,
			"tractor":      0.95,
			"lawn_mower":   0.90,
		},
		Routing: map[string]RuleConfig{
			"bicycle": {
				RouteType:           "SHORT_DISTANCE",
				MaxDistanceKm:       5,
				MaxWeightKg:         10,
				Priority:            "NORMAL",
				EcoFriendly:         true,
				PriorityConfidence:  0.95,
				SpecialInstructions: "Weather-dependent scheduling",
			},
			"motorcycle": {
				RouteType:           "STANDARD",
				MaxDistanceKm:       25,
				MaxWeightKg:         25,
				Priority:            "NORMAL",
				PriorityConfidence:  0.95,
				SpecialInstructions: "Weather-dependent scheduling",
			},
			"automobile": {
				RouteType:           "STANDARD",
				MaxDistanceKm:       50,
				MaxWeightKg:         50,
				Priority:            "NORMAL",
				PriorityConfidence:  0.95,
				SpecialInstructions: "All-weather capable",
			},
			"pickup_truck": {
				RouteType:           "STANDARD",
				MaxDistanceKm:       75,
				MaxWeightKg:         200,
				Priority:            "NORMAL",
				PriorityConfidence:  0.95,
				SpecialInstructions: "All-weather capable",
			},
			"truck": {
				RouteType:           "HEAVY_CAPACITY",
				MaxDistanceKm:       100,
				MaxWeightKg:         500,
				Priority:            "LOW",
				PriorityConfidence:  0.95,
				SpecialInstructions: "Commercial delivery routes only",
			},
			"bus": {
				RouteType:           "MANUAL_REVIEW",
				MaxDistanceKm:       30,
				Priority:            "NORMAL",
				PriorityConfidence:  0.95,
				SpecialInstructions: "Passenger vehicle, dispatcher review required",
			},
			"streetcar": {
				RouteType:           "MANUAL_REVIEW",
				Priority:            "NORMAL",
				PriorityConfidence:  0.98,
				SpecialInstructions: "Unusual vehicle type, dispatcher review required",
			},
			"tank": {
				RouteType:           "MANUAL_REVIEW",
				Priority:            "NORMAL",
				PriorityConfidence:  0.99,
				SpecialInstructions: "Not suitable for delivery operations",
			},
			"tractor": {
				RouteType:           "MANUAL_REVIEW",
				Priority:            "NORMAL",
				PriorityConfidence:  0.95,
				SpecialInstructions: "Specialized vehicle, dispatcher review required",
			},
			"lawn_mower": {
				RouteType:            "SHORT_DISTANCE",
				MaxDistanceKm:        2,
				MaxWeightKg:          5,
				Priority:             "NORMAL",
				EcoFriendly:          true,
				PriorityConfidence:   0.97,
				ManualReviewFallback: true,
				SpecialInstructions:  "Edge-case vehicle, verify before dispatch",
			},
		},
		Capture: CaptureConfig{
			Path: "",
		},
		Notify: NotifyConfig{
			WorkflowName: "vehicle-classification",
			Timeout:      5 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
	}
}

var validRouteTypes = map[string]bool{
	"SHORT_DISTANCE": true,
	"STANDARD":       true,
	"HEAVY_CAPACITY": true,
	"MANUAL_REVIEW":  true,
}

var validPriorities = map[string]bool{
	"LOW":    true,
	"NORMAL": true,
	"HIGH":   true,
}

// Validate checks the configuration before anything runs. A routing
// table that does not cover every class in the threshold policy is a
// CONFIGURATION_ERROR here, never a mid-batch discovery.
func (c *Config) Validate() error {
	if c.Pipeline.Concurrency < 1 {
		return types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.AlertFailureRate < 0 || c.Pipeline.AlertFailureRate > 1 {
		return types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("pipeline.alert_failure_rate must be in [0,1], got %g", c.Pipeline.AlertFailureRate))
	}

	switch c.Storage.Backend {
	case "fs", "sqlite", "memory":
	default:
		return types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("storage.backend must be fs, sqlite or memory, got %q", c.Storage.Backend))
	}

	if c.Scorer.Endpoint == "" {
		return types.NewError(types.ErrConfigurationError, "scorer.endpoint is required")
	}
	if len(c.Scorer.Classes) == 0 {
		return types.NewError(types.ErrConfigurationError, "scorer.classes must not be empty")
	}

	for class, threshold := range c.Thresholds {
		if threshold < 0 || threshold > 1 {
			return types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("threshold for %q must be in [0,1], got %g", class, threshold))
		}
	}

	for class, rule := range c.Routing {
		if !validRouteTypes[rule.RouteType] {
			return types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("routing rule for %q has unknown route type %q", class, rule.RouteType))
		}
		if !validPriorities[rule.Priority] {
			return types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("routing rule for %q has unknown priority %q", class, rule.Priority))
		}
		if rule.PriorityConfidence < 0 || rule.PriorityConfidence > 1 {
			return types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("routing rule for %q has priority_confidence outside [0,1]", class))
		}
	}

	// Totality: every class the threshold policy can accept must have a
	// routing rule. Gaps fail here, at load time.
	for class := range c.Thresholds {
		if _, ok := c.Routing[class]; !ok {
			return types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("routing table missing rule for class %q present in threshold policy", class))
		}
	}

	return nil
}
