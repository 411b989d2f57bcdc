// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kittipatv/pagesync/internal/models"
)

// UpsertPost inserts or updates a post row, returning whether it was new.
// thumbnail_media_id merges with COALESCE (locally enriched by the media
// pipeline, never delivered by the remote API).
func (db *DB) UpsertPost(ctx context.Context, p *models.Post) (bool, error) {
	if p.ID == "" || p.PageID == "" {
		return false, fmt.Errorf("post missing id or page_id")
	}

	exists, err := db.rowExists(ctx, `SELECT 1 FROM posts WHERE id = ?`, p.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", p.ID, err)
	}

	now := db.now()
	query := `INSERT INTO posts (
		id, page_id, message, permalink_url, content_kind, classify_reason,
		thumbnail_media_id, remote_created, remote_updated, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		page_id = EXCLUDED.page_id,
		message = EXCLUDED.message,
		permalink_url = EXCLUDED.permalink_url,
		content_kind = EXCLUDED.content_kind,
		classify_reason = EXCLUDED.classify_reason,
		thumbnail_media_id = COALESCE(EXCLUDED.thumbnail_media_id, posts.thumbnail_media_id),
		remote_created = EXCLUDED.remote_created,
		remote_updated = EXCLUDED.remote_updated,
		updated_at = EXCLUDED.updated_at`

	err = db.execWithRetry(ctx, "posts", query,
		p.ID, p.PageID, nullIfEmpty(p.Message), nullIfEmpty(p.PermalinkURL),
		string(p.Kind), nullIfEmpty(p.ClassifyReason), nullStrPtr(p.ThumbnailMediaID),
		nullTimePtr(p.RemoteCreated), nullTimePtr(p.RemoteUpdated), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert post %s: %w", p.ID, err)
	}

	return !exists, nil
}

// UpsertVideoPost inserts or updates a video post row, returning whether
// it was new.
func (db *DB) UpsertVideoPost(ctx context.Context, v *models.VideoPost) (bool, error) {
	if v.ID == "" || v.VideoID == "" || v.PageID == "" {
		return false, fmt.Errorf("video post missing id, video_id or page_id")
	}

	exists, err := db.rowExists(ctx, `SELECT 1 FROM video_posts WHERE id = ?`, v.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check video post %s: %w", v.ID, err)
	}

	now := db.now()
	query := `INSERT INTO video_posts (
		id, video_id, page_id, title, description, permalink_url, content_kind,
		length_seconds, thumbnail_media_id, remote_created, remote_updated,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		video_id = EXCLUDED.video_id,
		page_id = EXCLUDED.page_id,
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		permalink_url = EXCLUDED.permalink_url,
		content_kind = EXCLUDED.content_kind,
		length_seconds = EXCLUDED.length_seconds,
		thumbnail_media_id = COALESCE(EXCLUDED.thumbnail_media_id, video_posts.thumbnail_media_id),
		remote_created = EXCLUDED.remote_created,
		remote_updated = EXCLUDED.remote_updated,
		updated_at = EXCLUDED.updated_at`

	err = db.execWithRetry(ctx, "video_posts", query,
		v.ID, v.VideoID, v.PageID, nullIfEmpty(v.Title), nullIfEmpty(v.Description),
		nullIfEmpty(v.PermalinkURL), string(v.Kind), v.LengthSeconds,
		nullStrPtr(v.ThumbnailMediaID), nullTimePtr(v.RemoteCreated),
		nullTimePtr(v.RemoteUpdated), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert video post %s: %w", v.ID, err)
	}

	return !exists, nil
}

// GetPost retrieves a post by id. Returns nil when not found.
func (db *DB) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	query := `SELECT id, page_id, message, permalink_url, content_kind, classify_reason,
		thumbnail_media_id, remote_created, remote_updated, created_at, updated_at
		FROM posts WHERE id = ?`

	var p models.Post
	var message, permalink, kind, reason, thumb sql.NullString
	var remoteCreated, remoteUpdated sql.NullTime

	err := db.conn.QueryRowContext(ctx, query, postID).Scan(
		&p.ID, &p.PageID, &message, &permalink, &kind, &reason,
		&thumb, &remoteCreated, &remoteUpdated, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", postID, err)
	}

	p.Message = message.String
	p.PermalinkURL = permalink.String
	p.Kind = models.ContentKind(kind.String)
	p.ClassifyReason = reason.String
	if thumb.Valid {
		v := thumb.String
		p.ThumbnailMediaID = &v
	}
	if remoteCreated.Valid {
		t := remoteCreated.Time
		p.RemoteCreated = &t
	}
	if remoteUpdated.Valid {
		t := remoteUpdated.Time
		p.RemoteUpdated = &t
	}
	return &p, nil
}

// GetVideoPostByVideoID retrieves a video post by its platform video id.
// Returns nil when not found.
func (db *DB) GetVideoPostByVideoID(ctx context.Context, videoID string) (*models.VideoPost, error) {
	query := `SELECT id, video_id, page_id, title, content_kind, created_at, updated_at
		FROM video_posts WHERE video_id = ?`

	var v models.VideoPost
	var title, kind sql.NullString

	err := db.conn.QueryRowContext(ctx, query, videoID).Scan(
		&v.ID, &v.VideoID, &v.PageID, &title, &kind, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video post by video id %s: %w", videoID, err)
	}

	v.Title = title.String
	v.Kind = models.ContentKind(kind.String)
	return &v, nil
}

// MaxPostUpdatedTime returns the newest remote_updated across the page's
// posts and video posts. found is false when the page has no rows yet.
func (db *DB) MaxPostUpdatedTime(ctx context.Context, pageID string) (time.Time, bool, error) {
	return db.maxTimestamp(ctx, `SELECT MAX(t) FROM (
		SELECT MAX(remote_updated) AS t FROM posts WHERE page_id = ?
		UNION ALL
		SELECT MAX(remote_updated) AS t FROM video_posts WHERE page_id = ?
	)`, pageID, pageID)
}

// SetPostThumbnail records the media id of a post's cached thumbnail.
func (db *DB) SetPostThumbnail(ctx context.Context, postID, mediaID string) error {
	return db.execWithRetry(ctx, "posts",
		`UPDATE posts SET thumbnail_media_id = ?, updated_at = ? WHERE id = ?`,
		mediaID, db.now(), postID)
}

// SetVideoPostThumbnail records the media id of a video's cached thumbnail.
func (db *DB) SetVideoPostThumbnail(ctx context.Context, postID, mediaID string) error {
	return db.execWithRetry(ctx, "video_posts",
		`UPDATE video_posts SET thumbnail_media_id = ?, updated_at = ? WHERE id = ?`,
		mediaID, db.now(), postID)
}
