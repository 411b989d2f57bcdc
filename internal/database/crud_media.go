// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kittipatv/pagesync/internal/models"
)

// MediaIDByURL looks up a cached media row by source URL. Failed
// placeholder rows count as cached so broken URLs are not re-fetched;
// callers distinguish by status.
func (db *DB) MediaIDByURL(ctx context.Context, url string) (string, models.MediaStatus, bool, error) {
	var id, status string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, status FROM media_storage WHERE url = ?`, url).Scan(&id, &status)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to look up media by url: %w", err)
	}
	return id, models.MediaStatus(status), true, nil
}

// InsertMediaObject stores a downloaded asset or a failed placeholder.
// A concurrent insert for the same URL wins silently; the existing row
// is kept.
func (db *DB) InsertMediaObject(ctx context.Context, m *models.MediaObject) error {
	if m.ID == "" || m.URL == "" {
		return fmt.Errorf("media object missing id or url")
	}

	query := `INSERT INTO media_storage (
		id, url, category, source_id, source_kind, content_type,
		size_bytes, data, status, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (url) DO NOTHING`

	err := db.execWithRetry(ctx, "media_storage", query,
		m.ID, m.URL, m.Category, nullIfEmpty(m.SourceID), nullIfEmpty(m.SourceKind),
		nullIfEmpty(m.ContentType), m.SizeBytes, m.Data, string(m.Status), db.now())
	if err != nil {
		return fmt.Errorf("failed to insert media object %s: %w", m.ID, err)
	}
	return nil
}

// GetMediaObject retrieves a media row by id, including its payload.
// Returns nil when not found.
func (db *DB) GetMediaObject(ctx context.Context, id string) (*models.MediaObject, error) {
	query := `SELECT id, url, category, source_id, source_kind, content_type,
		size_bytes, data, status, created_at
		FROM media_storage WHERE id = ?`

	var m models.MediaObject
	var sourceID, sourceKind, contentType sql.NullString
	var status string

	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.URL, &m.Category, &sourceID, &sourceKind, &contentType,
		&m.SizeBytes, &m.Data, &status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media object %s: %w", id, err)
	}

	m.SourceID = sourceID.String
	m.SourceKind = sourceKind.String
	m.ContentType = contentType.String
	m.Status = models.MediaStatus(status)
	return &m, nil
}

// TableCounts returns row counts per table for the stats endpoint.
func (db *DB) TableCounts(ctx context.Context) (map[string]int64, error) {
	tables := []string{
		"ad_accounts", "campaigns", "adsets", "ads",
		"posts", "video_posts", "post_insights", "ad_insights_daily",
		"video_promoted_posts", "media_storage",
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
		if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
