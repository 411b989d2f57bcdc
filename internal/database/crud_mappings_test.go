// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package database

import (
	"context"
	"testing"
	"time"

	"github.com/kittipatv/pagesync/internal/models"
)

func seedVideoAndAd(t *testing.T, db *DB, videoID, adID, promoted string) {
	t.Helper()
	ctx := context.Background()

	if _, err := db.UpsertVideoPost(ctx, &models.VideoPost{
		ID:      "post_" + videoID,
		VideoID: videoID,
		PageID:  "page1",
		Kind:    models.ContentKindVideo,
	}); err != nil {
		t.Fatalf("seed video post: %v", err)
	}
	if _, err := db.UpsertAd(ctx, &models.Ad{
		ID:             adID,
		AccountID:      "act_1",
		PromotedPostID: strPtr(promoted),
		CreativeJSON:   []byte(`{"id": "c1", "video_id": "` + videoID + `"}`),
	}); err != nil {
		t.Fatalf("seed ad: %v", err)
	}
}

func TestPopulatePromotedMappings_ExactMatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedVideoAndAd(t, db, "vid1", "ad1", "111_222")

	// An ad whose creative references an unknown video must not map.
	if _, err := db.UpsertAd(ctx, &models.Ad{
		ID:             "ad2",
		AccountID:      "act_1",
		PromotedPostID: strPtr("111_333"),
		CreativeJSON:   []byte(`{"video_id": "vid-unknown"}`),
	}); err != nil {
		t.Fatalf("upsert ad2: %v", err)
	}
	// An ad with a matching creative but no promoted post must not map.
	if _, err := db.UpsertAd(ctx, &models.Ad{
		ID:           "ad3",
		AccountID:    "act_1",
		CreativeJSON: []byte(`{"video_id": "vid1"}`),
	}); err != nil {
		t.Fatalf("upsert ad3: %v", err)
	}

	n, err := db.PopulatePromotedMappings(ctx)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 mapping written, got %d", n)
	}

	maps, err := db.PromotedMappingsForVideo(ctx, "vid1")
	if err != nil {
		t.Fatalf("read mappings: %v", err)
	}
	if len(maps) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(maps))
	}
	if maps[0].PromotedPostID != "111_222" || maps[0].AdID != "ad1" {
		t.Errorf("unexpected mapping: %+v", maps[0])
	}

	if maps, _ := db.PromotedMappingsForVideo(ctx, "vid-unknown"); len(maps) != 0 {
		t.Errorf("unknown video should have no mappings, got %v", maps)
	}
}

func TestPopulatePromotedMappings_RerunNoDuplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedVideoAndAd(t, db, "vid1", "ad1", "111_222")

	if _, err := db.PopulatePromotedMappings(ctx); err != nil {
		t.Fatalf("first populate: %v", err)
	}
	if _, err := db.PopulatePromotedMappings(ctx); err != nil {
		t.Fatalf("second populate: %v", err)
	}

	counts, err := db.TableCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["video_promoted_posts"] != 1 {
		t.Errorf("re-run duplicated mappings: %d rows", counts["video_promoted_posts"])
	}
}

func TestPopulatePromotedMappings_RediscoveryRefreshesAdOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return t0 }

	seedVideoAndAd(t, db, "vid1", "ad1", "111_222")
	if _, err := db.PopulatePromotedMappings(ctx); err != nil {
		t.Fatalf("first populate: %v", err)
	}

	// A newer ad promotes the same post with the same creative video.
	db.now = func() time.Time { return t0.Add(time.Hour) }
	if _, err := db.UpsertAd(ctx, &models.Ad{
		ID:             "ad9",
		AccountID:      "act_1",
		PromotedPostID: strPtr("111_222"),
		CreativeJSON:   []byte(`{"video_id": "vid1"}`),
	}); err != nil {
		t.Fatalf("upsert ad9: %v", err)
	}
	if _, err := db.PopulatePromotedMappings(ctx); err != nil {
		t.Fatalf("second populate: %v", err)
	}

	maps, err := db.PromotedMappingsForVideo(ctx, "vid1")
	if err != nil || len(maps) != 1 {
		t.Fatalf("read mappings: %v (%d rows)", err, len(maps))
	}
	m := maps[0]
	if !m.CreatedAt.Equal(t0) {
		t.Errorf("created_at moved on rediscovery: %v", m.CreatedAt)
	}
	if !m.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("updated_at not refreshed: %v", m.UpdatedAt)
	}
	// ad_id refreshes to a currently-matching ad.
	if m.AdID != "ad1" && m.AdID != "ad9" {
		t.Errorf("unexpected ad_id %q", m.AdID)
	}
}

func TestUpsertPromotedMapping_SingleRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	m := &models.PromotedMapping{VideoID: "vid1", PromotedPostID: "111_222", AdID: "ad1"}
	if err := db.UpsertPromotedMapping(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	m.AdID = "ad2"
	if err := db.UpsertPromotedMapping(ctx, m); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	maps, err := db.PromotedMappingsForVideo(ctx, "vid1")
	if err != nil || len(maps) != 1 {
		t.Fatalf("read mappings: %v (%d rows)", err, len(maps))
	}
	if maps[0].AdID != "ad2" {
		t.Errorf("ad_id = %q, want ad2", maps[0].AdID)
	}

	if err := db.UpsertPromotedMapping(ctx, &models.PromotedMapping{VideoID: "vid1"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestMediaStorage_URLDedup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	obj := &models.MediaObject{
		ID:          "m1",
		URL:         "https://cdn.example.com/thumb.jpg",
		Category:    "thumbnail",
		SourceID:    "p1",
		SourceKind:  "post",
		ContentType: "image/jpeg",
		SizeBytes:   3,
		Data:        []byte{1, 2, 3},
		Status:      models.MediaStatusStored,
	}
	if err := db.InsertMediaObject(ctx, obj); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same URL under a new id keeps the original row.
	dup := *obj
	dup.ID = "m2"
	if err := db.InsertMediaObject(ctx, &dup); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	id, status, found, err := db.MediaIDByURL(ctx, obj.URL)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found || id != "m1" {
		t.Errorf("lookup = (%q, %v), want m1", id, found)
	}
	if status != models.MediaStatusStored {
		t.Errorf("status = %q", status)
	}

	got, err := db.GetMediaObject(ctx, "m1")
	if err != nil || got == nil {
		t.Fatalf("get media: %v", err)
	}
	if got.SizeBytes != 3 || len(got.Data) != 3 {
		t.Errorf("payload mismatch: size=%d len=%d", got.SizeBytes, len(got.Data))
	}
}

func TestMediaStorage_FailedPlaceholder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.InsertMediaObject(ctx, &models.MediaObject{
		ID:       "m1",
		URL:      "https://cdn.example.com/broken.jpg",
		Category: "thumbnail",
		Status:   models.MediaStatusFailed,
	}); err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}

	_, status, found, err := db.MediaIDByURL(ctx, "https://cdn.example.com/broken.jpg")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found {
		t.Fatal("failed placeholder should be found")
	}
	if status != models.MediaStatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
}
