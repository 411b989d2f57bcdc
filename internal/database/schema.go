// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package database

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements.
//
// Conventions:
//   - remote_* columns mirror the platform's timestamps verbatim and feed
//     the watermark queries
//   - created_at is written once on first insert; updated_at refreshes on
//     every merge
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ad_accounts (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name TEXT,
			currency TEXT,
			account_status INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name TEXT,
			objective TEXT,
			status TEXT,
			daily_budget BIGINT,
			start_time TIMESTAMP,
			stop_time TIMESTAMP,
			remote_created TIMESTAMP,
			remote_updated TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS adsets (
			id TEXT PRIMARY KEY,
			campaign_id TEXT,
			account_id TEXT NOT NULL,
			name TEXT,
			status TEXT,
			optimization_goal TEXT,
			daily_budget BIGINT,
			remote_updated TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		// promoted_post_id is locally enriched; the upsert COALESCEs it so
		// later fetches without the field never erase a resolved value
		`CREATE TABLE IF NOT EXISTS ads (
			id TEXT PRIMARY KEY,
			adset_id TEXT,
			campaign_id TEXT,
			account_id TEXT NOT NULL,
			name TEXT,
			status TEXT,
			effective_status TEXT,
			promoted_post_id TEXT,
			creative JSON,
			remote_updated TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			page_id TEXT NOT NULL,
			message TEXT,
			permalink_url TEXT,
			content_kind TEXT NOT NULL,
			classify_reason TEXT,
			thumbnail_media_id TEXT,
			remote_created TIMESTAMP,
			remote_updated TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		// id is the post id; video_id is the platform's video object id,
		// the exact key ad creatives embed
		`CREATE TABLE IF NOT EXISTS video_posts (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			page_id TEXT NOT NULL,
			title TEXT,
			description TEXT,
			permalink_url TEXT,
			content_kind TEXT NOT NULL,
			length_seconds DOUBLE,
			thumbnail_media_id TEXT,
			remote_created TIMESTAMP,
			remote_updated TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		// value_numeric and value_json are mutually exclusive: scalar
		// metrics store a number, breakdown metrics store raw JSON
		`CREATE TABLE IF NOT EXISTS post_insights (
			owner_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			period TEXT NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			value_numeric DOUBLE,
			value_json JSON,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (owner_id, metric, period_start, period_end)
		)`,

		`CREATE TABLE IF NOT EXISTS ad_insights_daily (
			ad_id TEXT NOT NULL,
			date_start TEXT NOT NULL,
			date_stop TEXT NOT NULL,
			impressions BIGINT NOT NULL DEFAULT 0,
			reach BIGINT NOT NULL DEFAULT 0,
			clicks BIGINT NOT NULL DEFAULT 0,
			spend_minor BIGINT NOT NULL DEFAULT 0,
			actions JSON,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (ad_id, date_start, date_stop)
		)`,

		// Mapping resolved from the exact video_id embedded in ad
		// creatives. Rediscovery refreshes ad_id and updated_at only.
		`CREATE TABLE IF NOT EXISTS video_promoted_posts (
			video_id TEXT NOT NULL,
			promoted_post_id TEXT NOT NULL,
			ad_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (video_id, promoted_post_id)
		)`,

		// status 'failed' rows are placeholders so broken URLs are not
		// re-downloaded on every run
		`CREATE TABLE IF NOT EXISTS media_storage (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			source_id TEXT,
			source_kind TEXT,
			content_type TEXT,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			data BLOB,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
}

// createIndexes creates secondary indexes for the hot query paths.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_ads_account ON ads (account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_promoted_post ON ads (promoted_post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_remote_updated ON ads (account_id, remote_updated)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_page ON posts (page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_remote_updated ON posts (page_id, remote_updated)`,
		`CREATE INDEX IF NOT EXISTS idx_video_posts_page ON video_posts (page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_video_posts_video ON video_posts (video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_owner ON post_insights (owner_id)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}
