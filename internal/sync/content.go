// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package sync

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/kittipatv/pagesync/internal/graph"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/media"
	"github.com/kittipatv/pagesync/internal/models"
)

const (
	kindPost        = "post"
	kindVideoPost   = "video_post"
	kindPostInsight = "post_insight"
)

// Insight metric sets requested per content item. Reel play counts only
// exist on reels, which is how reels are told apart from plain videos.
var (
	postInsightMetrics = []string{
		"post_impressions",
		"post_impressions_unique",
		"post_clicks",
		"post_reactions_by_type_total",
	}

	videoInsightMetrics = []string{
		"total_video_views",
		"total_video_impressions",
		"total_video_view_total_time",
	}

	reelInsightMetrics = []string{
		"blue_reels_play_count",
	}
)

// SyncPosts fetches the page feed changed since the watermark, classifies
// each post and merges it. Per-record failures are isolated.
func (m *Manager) SyncPosts(ctx context.Context, pageID string, opts RunOptions, stats *RunStats) error {
	var since time.Time
	if !opts.All {
		var err error
		since, err = m.ResolveWatermark(ctx, pageID, opts.Since, m.store.MaxPostUpdatedTime)
		if err != nil {
			return err
		}
	}

	var records []graph.PostRecord
	err := m.retryFetch(ctx, "posts", func() error {
		var ferr error
		records, ferr = m.client.FetchPosts(ctx, pageID, since)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindPost, len(records))
	logging.Debug().Str("page_id", pageID).Time("since", since).
		Int("count", len(records)).Msg("Fetched changed posts")

	for _, rec := range records {
		outcome := m.mergePost(ctx, pageID, &rec, stats)
		stats.Record(kindPost, outcome)
	}
	return nil
}

// mergePost classifies and upserts one feed post.
func (m *Manager) mergePost(ctx context.Context, pageID string, rec *graph.PostRecord, stats *RunStats) string {
	if rec.ID == "" {
		logging.Warn().Str("page_id", pageID).Msg("Post record missing id, rejected")
		return OutcomeError
	}

	postID := rec.ID
	isVideo, reason := m.classifier.Classify(ctx, rec.PermalinkURL, rec.Message,
		func(ctx context.Context) ([]graph.AttachmentRecord, error) {
			return m.client.FetchAttachments(ctx, postID)
		})

	kind := models.ContentKindPost
	if isVideo {
		kind = models.ContentKindVideo
	}

	post := &models.Post{
		ID:             rec.ID,
		PageID:         pageID,
		Message:        rec.Message,
		PermalinkURL:   rec.PermalinkURL,
		Kind:           kind,
		ClassifyReason: reason,
		RemoteCreated:  timestampPtr(rec.CreatedTime),
		RemoteUpdated:  timestampPtr(rec.UpdatedTime),
	}

	isNew, err := m.store.UpsertPost(ctx, post)
	if err != nil {
		logging.Warn().Err(err).Str("post_id", rec.ID).Msg("Post upsert failed, skipping record")
		return OutcomeError
	}

	m.enqueueThumbnail(rec.FullPicture, rec.ID, "post", m.store.SetPostThumbnail)

	if !m.cfg.Sync.SkipInsights {
		m.syncContentInsights(ctx, rec.ID, postInsightMetrics, stats)
	}

	if isNew {
		return OutcomeNew
	}
	return OutcomeUpdated
}

// SyncVideoPosts fetches the page's video objects changed since the
// watermark, detects reels and merges them.
func (m *Manager) SyncVideoPosts(ctx context.Context, pageID string, opts RunOptions, stats *RunStats) error {
	var since time.Time
	if !opts.All {
		var err error
		since, err = m.ResolveWatermark(ctx, pageID, opts.Since, m.store.MaxPostUpdatedTime)
		if err != nil {
			return err
		}
	}

	var records []graph.VideoRecord
	err := m.retryFetch(ctx, "video posts", func() error {
		var ferr error
		records, ferr = m.client.FetchVideoPosts(ctx, pageID, since)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindVideoPost, len(records))

	for _, rec := range records {
		outcome := m.mergeVideoPost(ctx, pageID, &rec, stats)
		stats.Record(kindVideoPost, outcome)
	}
	return nil
}

// mergeVideoPost upserts one video object. The post id comes from the
// video's post_id edge; when the API omits it, the conventional
// {pageID}_{videoID} composite is used.
func (m *Manager) mergeVideoPost(ctx context.Context, pageID string, rec *graph.VideoRecord, stats *RunStats) string {
	if rec.ID == "" {
		logging.Warn().Str("page_id", pageID).Msg("Video record missing id, rejected")
		return OutcomeError
	}

	postID := rec.PostID
	if postID == "" {
		postID = pageID + "_" + rec.ID
	}

	kind := models.ContentKindVideo
	if m.isReel(ctx, rec.ID) {
		kind = models.ContentKindReel
	}

	video := &models.VideoPost{
		ID:            postID,
		VideoID:       rec.ID,
		PageID:        pageID,
		Title:         rec.Title,
		Description:   rec.Description,
		PermalinkURL:  rec.PermalinkURL,
		Kind:          kind,
		LengthSeconds: rec.Length,
		RemoteCreated: timestampPtr(rec.CreatedTime),
		RemoteUpdated: timestampPtr(rec.UpdatedTime),
	}

	isNew, err := m.store.UpsertVideoPost(ctx, video)
	if err != nil {
		logging.Warn().Err(err).Str("video_id", rec.ID).Msg("Video post upsert failed, skipping record")
		return OutcomeError
	}

	m.enqueueThumbnail(rec.Picture, postID, "video", m.store.SetVideoPostThumbnail)

	if !m.cfg.Sync.SkipInsights {
		m.syncContentInsights(ctx, rec.ID, videoInsightMetrics, stats)
	}

	if isNew {
		return OutcomeNew
	}
	return OutcomeUpdated
}

// isReel probes the reel-only play-count metric. Only reels expose it;
// plain videos return an empty series or a metric error.
func (m *Manager) isReel(ctx context.Context, videoID string) bool {
	records, err := m.client.FetchPostInsights(ctx, videoID, reelInsightMetrics)
	if err != nil {
		return false
	}
	for _, rec := range records {
		if len(rec.Values) > 0 {
			return true
		}
	}
	return false
}

// SyncPromotedPosts backfills posts referenced by ads' promoted ids but
// absent from local content, bounded per run since each one is an API call.
func (m *Manager) SyncPromotedPosts(ctx context.Context, stats *RunStats) error {
	limit := m.cfg.Sync.PromotedPostLimit
	if limit <= 0 {
		return nil
	}

	ids, err := m.store.PromotedPostIDsMissingContent(ctx, limit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	stats.Fetched(kindPost, len(ids))
	logging.Info().Int("count", len(ids)).Msg("Backfilling promoted posts missing from content")

	for _, id := range ids {
		rec, err := m.client.FetchPost(ctx, id)
		if err != nil {
			// Promoted duplicates are frequently unreadable with page
			// tokens. Left for a future pass, not an error worth noise.
			stats.Record(kindPost, OutcomeSkipped)
			logging.Debug().Err(err).Str("post_id", id).Msg("Promoted post fetch failed, skipping")
			continue
		}
		pageID := pageIDFromPostID(rec.ID)
		outcome := m.mergePost(ctx, pageID, rec, stats)
		stats.Record(kindPost, outcome)
	}
	return nil
}

// pageIDFromPostID splits the conventional {pageID}_{postID} composite.
func pageIDFromPostID(postID string) string {
	for i := 0; i < len(postID); i++ {
		if postID[i] == '_' {
			return postID[:i]
		}
	}
	return postID
}

// syncContentInsights fetches and stores one content item's insight
// metrics. Failures degrade to a counted error; they never fail the
// owning record's sync.
func (m *Manager) syncContentInsights(ctx context.Context, ownerID string, insightMetrics []string, stats *RunStats) {
	records, err := m.client.FetchPostInsights(ctx, ownerID, insightMetrics)
	if err != nil {
		stats.Record(kindPostInsight, OutcomeError)
		logging.Debug().Err(err).Str("owner_id", ownerID).Msg("Insight fetch failed")
		return
	}

	for _, rec := range records {
		for _, val := range rec.Values {
			row := insightRow(ownerID, rec.Name, rec.Period, val, m.now())
			if row == nil {
				stats.Record(kindPostInsight, OutcomeSkipped)
				continue
			}
			if err := m.store.UpsertPostInsight(ctx, row); err != nil {
				stats.Record(kindPostInsight, OutcomeError)
				logging.Warn().Err(err).Str("owner_id", ownerID).Str("metric", rec.Name).
					Msg("Insight upsert failed")
				continue
			}
			stats.Record(kindPostInsight, OutcomeUpdated)
		}
	}
}

// insightRow converts one API value into a storable snapshot. Scalar
// values land in value_numeric; breakdown objects stay raw JSON. The two
// are mutually exclusive by construction.
func insightRow(ownerID, metric, period string, val graph.InsightValue, now time.Time) *models.PostInsight {
	end := now
	if val.EndTime != nil && !val.EndTime.IsZero() {
		end = val.EndTime.Time
	}

	row := &models.PostInsight{
		OwnerID:     ownerID,
		Metric:      metric,
		Period:      period,
		PeriodStart: periodStart(period, end),
		PeriodEnd:   end,
	}

	if len(val.Value) == 0 {
		return nil
	}
	if num, err := strconv.ParseFloat(string(val.Value), 64); err == nil {
		row.ValueNumeric = &num
		return row
	}
	if !json.Valid(val.Value) {
		return nil
	}
	row.ValueJSON = val.Value
	return row
}

// periodStart derives the window start for the named period.
func periodStart(period string, end time.Time) time.Time {
	switch period {
	case "day":
		return end.Add(-24 * time.Hour)
	case "week":
		return end.Add(-7 * 24 * time.Hour)
	case "days_28":
		return end.Add(-28 * 24 * time.Hour)
	default: // lifetime
		return end
	}
}

// enqueueThumbnail submits a best-effort thumbnail download that writes
// the media id back onto the owning row once stored.
func (m *Manager) enqueueThumbnail(url, sourceID, sourceKind string, set func(ctx context.Context, id, mediaID string) error) {
	if m.media == nil || url == "" {
		return
	}
	m.media.Enqueue(media.Request{
		URL:        url,
		Category:   "thumbnail",
		SourceID:   sourceID,
		SourceKind: sourceKind,
		OnStored: func(ctx context.Context, mediaID string) error {
			return set(ctx, sourceID, mediaID)
		},
	})
}
