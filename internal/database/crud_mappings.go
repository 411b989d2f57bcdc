// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/kittipatv/pagesync/internal/metrics"
	"github.com/kittipatv/pagesync/internal/models"
)

// PopulatePromotedMappings resolves video-to-ad links by matching the exact
// video_id embedded in ad creatives against stored video posts. Only exact
// matches qualify; there is no fuzzy or timing-based fallback. Rediscovering
// an existing pair refreshes ad_id and updated_at, keeping created_at and
// the key untouched. Returns the number of rows written.
func (db *DB) PopulatePromotedMappings(ctx context.Context) (int64, error) {
	now := db.now()

	query := `INSERT INTO video_promoted_posts (video_id, promoted_post_id, ad_id, created_at, updated_at)
		SELECT vp.video_id, a.promoted_post_id, a.id, ?, ?
		FROM ads a
		JOIN video_posts vp
		  ON json_extract_string(a.creative, '$.video_id') = vp.video_id
		WHERE a.promoted_post_id IS NOT NULL
		  AND json_extract_string(a.creative, '$.video_id') IS NOT NULL
		ON CONFLICT (video_id, promoted_post_id) DO UPDATE SET
			ad_id = EXCLUDED.ad_id,
			updated_at = EXCLUDED.updated_at`

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query, now, now)
	if err != nil && isTransactionConflict(err) {
		metrics.DBUpsertRetries.WithLabelValues("video_promoted_posts").Inc()
		res, err = db.conn.ExecContext(ctx, query, now, now)
	}
	metrics.RecordDBQuery("upsert", "video_promoted_posts", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to populate promoted mappings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// UpsertPromotedMapping writes a single resolved mapping row.
func (db *DB) UpsertPromotedMapping(ctx context.Context, m *models.PromotedMapping) error {
	if m.VideoID == "" || m.PromotedPostID == "" || m.AdID == "" {
		return fmt.Errorf("promoted mapping missing video_id, promoted_post_id or ad_id")
	}
	now := db.now()

	query := `INSERT INTO video_promoted_posts (video_id, promoted_post_id, ad_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (video_id, promoted_post_id) DO UPDATE SET
			ad_id = EXCLUDED.ad_id,
			updated_at = EXCLUDED.updated_at`

	err := db.execWithRetry(ctx, "video_promoted_posts", query,
		m.VideoID, m.PromotedPostID, m.AdID, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert promoted mapping %s/%s: %w", m.VideoID, m.PromotedPostID, err)
	}
	return nil
}

// PromotedMappingsForVideo returns all resolved mappings for a video id.
func (db *DB) PromotedMappingsForVideo(ctx context.Context, videoID string) ([]models.PromotedMapping, error) {
	query := `SELECT video_id, promoted_post_id, ad_id, created_at, updated_at
		FROM video_promoted_posts WHERE video_id = ? ORDER BY promoted_post_id`

	rows, err := db.conn.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query promoted mappings for %s: %w", videoID, err)
	}
	defer rows.Close()

	var out []models.PromotedMapping
	for rows.Next() {
		var m models.PromotedMapping
		if err := rows.Scan(&m.VideoID, &m.PromotedPostID, &m.AdID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
