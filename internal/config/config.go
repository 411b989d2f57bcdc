// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package config

import (
	"time"
)

// Config holds all application configuration loaded from environment variables
// and optional config files.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Thread Safety:
// Config is immutable after LoadWithKoanf() and safe for concurrent read access.
type Config struct {
	Graph      GraphConfig      `koanf:"graph"`
	Database   DatabaseConfig   `koanf:"database"`
	Sync       SyncConfig       `koanf:"sync"`
	Media      MediaConfig      `koanf:"media"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// GraphConfig holds connection settings for the advertising Graph API.
//
// Environment Variables:
//   - GRAPH_BASE_URL: API base URL (default: https://graph.facebook.com/v23.0)
//   - GRAPH_ACCESS_TOKEN: User access token for ad-account endpoints (required)
//   - GRAPH_PAGE_ACCESS_TOKEN: Page access token for feed/video endpoints
//   - GRAPH_PAGE_IDS: Comma-separated page IDs to sync
//   - GRAPH_AD_ACCOUNT_IDS: Comma-separated ad account IDs (act_... prefix optional)
type GraphConfig struct {
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	AccessToken     string        `koanf:"access_token" validate:"required"`
	PageAccessToken string        `koanf:"page_access_token"`
	PageIDs         []string      `koanf:"page_ids"`
	AdAccountIDs    []string      `koanf:"ad_account_ids"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s"`

	// MinCallInterval is the fixed minimum delay between consecutive API
	// calls. The Graph API allows roughly 200 calls/hour per token; the
	// default of 300ms keeps bursts well under that while pagination runs.
	MinCallInterval time.Duration `koanf:"min_call_interval"`

	// MaxRetries and RetryBaseDelay control the exponential backoff applied
	// to rate-limited (HTTP 429) and transient (5xx, timeout) responses.
	MaxRetries     int           `koanf:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// CircuitBreaker enables the gobreaker wrapper around the client.
	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// SyncConfig holds the incremental sync engine settings.
//
// WatermarkBuffer is subtracted from the stored max(updated_at) before a
// filtered fetch, compensating for clock skew between this process and the
// remote platform and for records whose updated_time is set slightly before
// they become queryable.
type SyncConfig struct {
	Interval        time.Duration `koanf:"interval" validate:"min=1m"`
	WatermarkBuffer time.Duration `koanf:"watermark_buffer"`

	// BackfillWindow bounds the first-ever sync for an owner. Deliberately
	// small: a full historical backfill is an explicit --days-back run, not
	// the incremental path's job.
	BackfillWindow time.Duration `koanf:"backfill_window"`

	BatchSize     int           `koanf:"batch_size" validate:"min=1,max=500"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// PromotedPostLimit caps how many ad-referenced posts missing from
	// local storage are backfilled per run (each one costs an API call).
	PromotedPostLimit int `koanf:"promoted_post_limit" validate:"min=0"`

	// InsightsDaysBack is the date range fetched for ad insight snapshots.
	InsightsDaysBack int `koanf:"insights_days_back" validate:"min=1"`

	SkipInsights bool `koanf:"skip_insights"`
}

// MediaConfig holds the best-effort media download queue settings.
type MediaConfig struct {
	Enabled   bool `koanf:"enabled"`
	Workers   int  `koanf:"workers" validate:"min=1,max=16"`
	QueueSize int  `koanf:"queue_size" validate:"min=1"`
}

// ClassifierConfig holds the video-detection marker and keyword tables.
// These are configuration, not algorithm: deployments targeting other
// locales swap the keyword lists without touching the classifier chain.
// Empty slices fall back to the built-in defaults.
type ClassifierConfig struct {
	PermalinkMarkers []string `koanf:"permalink_markers"`
	TextURLMarkers   []string `koanf:"text_url_markers"`
	KeywordsLocal    []string `koanf:"keywords_local"`
	KeywordsEnglish  []string `koanf:"keywords_english"`
	AttachmentTypes  []string `koanf:"attachment_types"`
}

// ServerConfig holds the operational HTTP server settings.
type ServerConfig struct {
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
