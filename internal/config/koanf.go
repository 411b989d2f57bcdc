// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pagesync/config.yaml",
	"/etc/pagesync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			BaseURL:         "https://graph.facebook.com/v23.0",
			AccessToken:     "",
			PageAccessToken: "", // Falls back to AccessToken when empty
			PageIDs:         []string{},
			AdAccountIDs:    []string{},
			Timeout:         30 * time.Second,
			MinCallInterval: 300 * time.Millisecond,
			MaxRetries:      5,
			RetryBaseDelay:  time.Second,
			CircuitBreaker:  true,
		},
		Database: DatabaseConfig{
			Path:      "/data/pagesync.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Sync: SyncConfig{
			Interval:          30 * time.Minute,
			WatermarkBuffer:   time.Hour,
			BackfillWindow:    7 * 24 * time.Hour,
			BatchSize:         100, // Graph API page-size ceiling
			RetryAttempts:     5,
			RetryDelay:        2 * time.Second,
			PromotedPostLimit: 50,
			InsightsDaysBack:  7,
			SkipInsights:      false,
		},
		Media: MediaConfig{
			Enabled:   true,
			Workers:   2,
			QueueSize: 256,
		},
		Classifier: ClassifierConfig{
			// Empty = built-in marker and keyword tables
			PermalinkMarkers: []string{},
			TextURLMarkers:   []string{},
			KeywordsLocal:    []string{},
			KeywordsEnglish:  []string{},
			AttachmentTypes:  []string{},
		},
		Server: ServerConfig{
			Port:    8642,
			Host:    "0.0.0.0",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults. Nested settings map through
// koanf struct tags; slice settings accept comma-separated env values.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// GRAPH_ACCESS_TOKEN -> graph.access_token
	// SYNC_WATERMARK_BUFFER -> sync.watermark_buffer
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"graph.page_ids",
	"graph.ad_account_ids",
	"classifier.permalink_markers",
	"classifier.text_url_markers",
	"classifier.keywords_local",
	"classifier.keywords_english",
	"classifier.attachment_types",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - GRAPH_ACCESS_TOKEN -> graph.access_token
//   - GRAPH_PAGE_IDS -> graph.page_ids
//   - SYNC_WATERMARK_BUFFER -> sync.watermark_buffer
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Graph API mappings
		"graph_base_url":          "graph.base_url",
		"graph_access_token":      "graph.access_token",
		"graph_page_access_token": "graph.page_access_token",
		"graph_page_ids":          "graph.page_ids",
		"graph_ad_account_ids":    "graph.ad_account_ids",
		"graph_timeout":           "graph.timeout",
		"graph_min_call_interval": "graph.min_call_interval",
		"graph_max_retries":       "graph.max_retries",
		"graph_retry_base_delay":  "graph.retry_base_delay",
		"graph_circuit_breaker":   "graph.circuit_breaker",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Sync mappings
		"sync_interval":            "sync.interval",
		"sync_watermark_buffer":    "sync.watermark_buffer",
		"sync_backfill_window":     "sync.backfill_window",
		"sync_batch_size":          "sync.batch_size",
		"sync_retry_attempts":      "sync.retry_attempts",
		"sync_retry_delay":         "sync.retry_delay",
		"sync_promoted_post_limit": "sync.promoted_post_limit",
		"sync_insights_days_back":  "sync.insights_days_back",
		"sync_skip_insights":       "sync.skip_insights",

		// Media mappings
		"media_enabled":    "media.enabled",
		"media_workers":    "media.workers",
		"media_queue_size": "media.queue_size",

		// Classifier mappings
		"classifier_permalink_markers": "classifier.permalink_markers",
		"classifier_text_url_markers":  "classifier.text_url_markers",
		"classifier_keywords_local":    "classifier.keywords_local",
		"classifier_keywords_english":  "classifier.keywords_english",
		"classifier_attachment_types":  "classifier.attachment_types",

		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The caller is responsible for mutex protection when swapping the
// configuration during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
