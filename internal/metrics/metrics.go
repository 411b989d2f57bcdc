// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Database query performance (DuckDB)
// - Graph API request latency, errors and rate-limit retries
// - Sync run metrics per entity kind
// - Content classifier decisions
// - Media cache efficiency

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	DBUpsertRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_upsert_retries_total",
			Help: "Total number of transient-conflict upsert retries",
		},
		[]string{"table"},
	)

	// Graph API Metrics
	GraphRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graph_request_duration_seconds",
			Help:    "Duration of Graph API requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	GraphRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_request_errors_total",
			Help: "Total number of Graph API request errors",
		},
		[]string{"endpoint", "error_type"}, // "rate_limit", "server", "client", "network"
	)

	GraphRateLimitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_rate_limit_retries_total",
			Help: "Total number of retries triggered by HTTP 429 responses",
		},
	)

	GraphPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_pages_fetched_total",
			Help: "Total number of result pages fetched during pagination",
		},
		[]string{"endpoint"},
	)

	// Sync Run Metrics
	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of full sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of records processed during sync",
		},
		[]string{"kind", "outcome"}, // outcome: "new", "updated", "skipped", "error"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync run",
		},
	)

	SyncWatermarkAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_watermark_age_seconds",
			Help: "Age of the stored watermark per owner at the start of a run",
		},
		[]string{"owner"},
	)

	// Classifier Metrics
	ClassifierDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_decisions_total",
			Help: "Total number of content classification decisions by layer",
		},
		[]string{"reason"}, // "permalink", "content_url", "keyword", "attachment", "not_video"
	)

	ClassifierAttachmentFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_attachment_fetches_total",
			Help: "Total number of attachment lookups made by the classifier",
		},
	)

	// Media Cache Metrics
	MediaCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_cache_hits_total",
			Help: "Total number of media URLs already present in storage",
		},
	)

	MediaCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_cache_misses_total",
			Help: "Total number of media URLs requiring download",
		},
	)

	MediaDownloadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_download_failures_total",
			Help: "Total number of failed media downloads",
		},
	)

	MediaQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_queue_dropped_total",
			Help: "Total number of media tasks dropped because the queue was full",
		},
	)

	MediaQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_queue_depth",
			Help: "Current depth of the media download queue",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordGraphRequest records a Graph API request metric
func RecordGraphRequest(endpoint string, duration time.Duration, errorType string) {
	GraphRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if errorType != "" {
		GraphRequestErrors.WithLabelValues(endpoint, errorType).Inc()
	}
}

// RecordSyncOutcome records a per-record sync outcome
func RecordSyncOutcome(kind, outcome string) {
	SyncRecordsProcessed.WithLabelValues(kind, outcome).Inc()
}

// RecordSyncRun records a completed sync run
func RecordSyncRun(duration time.Duration, err error) {
	SyncRunDuration.Observe(duration.Seconds())
	if err == nil {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordClassifierDecision records a classification decision by layer
func RecordClassifierDecision(reason string) {
	ClassifierDecisions.WithLabelValues(reason).Inc()
}
