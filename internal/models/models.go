// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

// Package models defines data structures used throughout the PageSync application.
// These models represent synced advertising entities, page content, insight
// snapshots and cached media objects.

package models

import (
	"time"
)

// ContentKind distinguishes the stored content categories. The classifier
// decides between video and non-video; reels are detected separately via
// reel-specific insight metrics.
type ContentKind string

const (
	ContentKindPost  ContentKind = "post"
	ContentKindVideo ContentKind = "video"
	ContentKindReel  ContentKind = "reel"
)

// AdAccount represents an advertising account the engine syncs from.
type AdAccount struct {
	ID        string    `json:"id"` // "act_" prefixed
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	Status    int       `json:"account_status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Campaign represents an advertising campaign.
type Campaign struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"account_id"`
	Name          string     `json:"name"`
	Objective     string     `json:"objective"`
	Status        string     `json:"status"`
	DailyBudget   *int64     `json:"daily_budget,omitempty"` // minor currency units
	StartTime     *time.Time `json:"start_time,omitempty"`
	StopTime      *time.Time `json:"stop_time,omitempty"`
	RemoteCreated *time.Time `json:"remote_created_time,omitempty"`
	RemoteUpdated *time.Time `json:"remote_updated_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AdSet represents an ad set within a campaign.
type AdSet struct {
	ID               string     `json:"id"`
	CampaignID       string     `json:"campaign_id"`
	AccountID        string     `json:"account_id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	OptimizationGoal string     `json:"optimization_goal"`
	DailyBudget      *int64     `json:"daily_budget,omitempty"`
	RemoteUpdated    *time.Time `json:"remote_updated_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Ad represents a single ad. PromotedPostID is locally enriched: the remote
// payload may omit it on later fetches, and the merger must never erase a
// previously resolved value (COALESCE semantics in the upsert).
type Ad struct {
	ID              string  `json:"id"`
	AdSetID         string  `json:"adset_id"`
	CampaignID      string  `json:"campaign_id"`
	AccountID       string  `json:"account_id"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	EffectiveStatus string  `json:"effective_status"`
	PromotedPostID  *string `json:"promoted_post_id,omitempty"`

	// CreativeJSON is the raw creative payload. The cross-reference
	// resolver reads video_id out of it; everything else is kept opaque.
	CreativeJSON []byte `json:"creative,omitempty"`

	RemoteUpdated *time.Time `json:"remote_updated_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Post represents a page post (non-video or classified content).
type Post struct {
	ID               string      `json:"id"`
	PageID           string      `json:"page_id"`
	Message          string      `json:"message"`
	PermalinkURL     string      `json:"permalink_url"`
	Kind             ContentKind `json:"content_kind"`
	ClassifyReason   string      `json:"classify_reason,omitempty"`
	ThumbnailMediaID *string     `json:"thumbnail_media_id,omitempty"` // locally enriched
	RemoteCreated    *time.Time  `json:"remote_created_time,omitempty"`
	RemoteUpdated    *time.Time  `json:"remote_updated_time,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// VideoPost represents a video (or reel) published by a page. VideoID is the
// platform's video object id, distinct from the post id, and is the exact
// key the cross-reference resolver matches ad creatives against.
type VideoPost struct {
	ID               string      `json:"id"` // post id
	VideoID          string      `json:"video_id"`
	PageID           string      `json:"page_id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	PermalinkURL     string      `json:"permalink_url"`
	Kind             ContentKind `json:"content_kind"` // video or reel
	LengthSeconds    float64     `json:"length,omitempty"`
	ThumbnailMediaID *string     `json:"thumbnail_media_id,omitempty"` // locally enriched
	RemoteCreated    *time.Time  `json:"remote_created_time,omitempty"`
	RemoteUpdated    *time.Time  `json:"remote_updated_time,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// PostInsight is one metric snapshot for a piece of content over a period.
// ValueNumeric and ValueJSON are mutually exclusive: scalar metrics store a
// number, breakdown metrics (maps keyed by dimension) store raw JSON.
type PostInsight struct {
	OwnerID      string    `json:"owner_id"` // post or video id
	Metric       string    `json:"metric"`
	Period       string    `json:"period"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	ValueNumeric *float64  `json:"value_numeric,omitempty"`
	ValueJSON    []byte    `json:"value_json,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdInsightDaily is one day's delivery metrics for an ad. Re-syncing a date
// range replaces rows at the same (ad_id, date_start, date_stop) key.
type AdInsightDaily struct {
	AdID        string    `json:"ad_id"`
	DateStart   string    `json:"date_start"` // YYYY-MM-DD, as delivered
	DateStop    string    `json:"date_stop"`
	Impressions int64     `json:"impressions"`
	Reach       int64     `json:"reach"`
	Clicks      int64     `json:"clicks"`
	SpendMinor  int64     `json:"spend"` // minor currency units
	ActionsJSON []byte    `json:"actions,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PromotedMapping links a video to the ad promoting it, resolved from the
// exact video_id embedded in the ad creative. Keyed on
// (VideoID, PromotedPostID); rediscovery refreshes AdID and UpdatedAt only.
type PromotedMapping struct {
	VideoID        string    `json:"video_id"`
	PromotedPostID string    `json:"promoted_post_id"`
	AdID           string    `json:"ad_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MediaStatus enumerates media storage states.
type MediaStatus string

const (
	MediaStatusStored MediaStatus = "stored"
	MediaStatusFailed MediaStatus = "failed"
)

// MediaObject is a cached downloaded asset (thumbnails, creative images).
// Failed downloads keep a placeholder row so the same broken URL is not
// retried on every run.
type MediaObject struct {
	ID          string      `json:"id"` // uuid
	URL         string      `json:"url"`
	Category    string      `json:"category"` // "thumbnail", "creative"
	SourceID    string      `json:"source_id"`
	SourceKind  string      `json:"source_kind"` // "post", "video", "ad"
	ContentType string      `json:"content_type,omitempty"`
	SizeBytes   int64       `json:"size_bytes"`
	Data        []byte      `json:"-"`
	Status      MediaStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}
