// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/database"
	"github.com/kittipatv/pagesync/internal/graph"
	"github.com/kittipatv/pagesync/internal/models"
)

// fakeClient is an in-memory graph.ClientInterface with canned responses
// and call counters.
type fakeClient struct {
	mu stdsync.Mutex

	posts      []graph.PostRecord
	videos     []graph.VideoRecord
	ads        []graph.AdRecord
	accounts   []graph.AdAccountRecord
	campaigns  []graph.CampaignRecord
	adsets     []graph.AdSetRecord
	postByID   map[string]graph.PostRecord
	insights   map[string][]graph.InsightRecord
	adInsights []graph.AdInsightRecord

	attachmentCalls int
	adsSince        []time.Time
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) FetchPosts(ctx context.Context, pageID string, since time.Time) ([]graph.PostRecord, error) {
	return f.posts, nil
}

func (f *fakeClient) FetchVideoPosts(ctx context.Context, pageID string, since time.Time) ([]graph.VideoRecord, error) {
	return f.videos, nil
}

func (f *fakeClient) FetchPost(ctx context.Context, postID string) (*graph.PostRecord, error) {
	if rec, ok := f.postByID[postID]; ok {
		return &rec, nil
	}
	return nil, fmt.Errorf("post %s not found", postID)
}

func (f *fakeClient) FetchAttachments(ctx context.Context, postID string) ([]graph.AttachmentRecord, error) {
	f.mu.Lock()
	f.attachmentCalls++
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeClient) FetchPostInsights(ctx context.Context, objectID string, insightMetrics []string) ([]graph.InsightRecord, error) {
	return f.insights[objectID], nil
}

func (f *fakeClient) FetchAdsUpdatedSince(ctx context.Context, accountID string, since time.Time) ([]graph.AdRecord, error) {
	f.mu.Lock()
	f.adsSince = append(f.adsSince, since)
	f.mu.Unlock()
	return f.ads, nil
}

func (f *fakeClient) FetchCampaigns(ctx context.Context, accountID string) ([]graph.CampaignRecord, error) {
	return f.campaigns, nil
}

func (f *fakeClient) FetchAdSets(ctx context.Context, accountID string) ([]graph.AdSetRecord, error) {
	return f.adsets, nil
}

func (f *fakeClient) FetchAdAccounts(ctx context.Context) ([]graph.AdAccountRecord, error) {
	return f.accounts, nil
}

func (f *fakeClient) FetchAdInsights(ctx context.Context, accountID, dateStart, dateStop string) ([]graph.AdInsightRecord, error) {
	return f.adInsights, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Graph: config.GraphConfig{
			BaseURL:      "https://graph.example.com/v23.0",
			AccessToken:  "token",
			PageIDs:      []string{"page1"},
			AdAccountIDs: []string{"123"},
			Timeout:      5 * time.Second,
		},
		Sync: config.SyncConfig{
			Interval:          time.Hour,
			WatermarkBuffer:   time.Hour,
			BackfillWindow:    7 * 24 * time.Hour,
			BatchSize:         100,
			RetryAttempts:     1,
			RetryDelay:        time.Millisecond,
			PromotedPostLimit: 10,
			InsightsDaysBack:  7,
			SkipInsights:      true,
		},
	}
}

func newTestManager(t *testing.T, fc *fakeClient) (*Manager, *database.DB) {
	t.Helper()
	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewManager(db, fc, nil, testConfig()), db
}

func gts(t time.Time) *graph.Timestamp {
	return &graph.Timestamp{Time: t}
}

func TestResolveWatermark_ExplicitOverrideWins(t *testing.T) {
	m, _ := newTestManager(t, &fakeClient{})
	explicit := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	got, err := m.ResolveWatermark(context.Background(), "act_1", explicit,
		func(ctx context.Context, owner string) (time.Time, bool, error) {
			t.Fatal("explicit override must not read storage")
			return time.Time{}, false, nil
		})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Equal(explicit) {
		t.Errorf("watermark = %v, want explicit %v", got, explicit)
	}
}

func TestResolveWatermark_BufferSubtracted(t *testing.T) {
	m, _ := newTestManager(t, &fakeClient{})
	stored := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	got, err := m.ResolveWatermark(context.Background(), "act_1", time.Time{},
		func(ctx context.Context, owner string) (time.Time, bool, error) {
			return stored, true, nil
		})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := stored.Add(-time.Hour); !got.Equal(want) {
		t.Errorf("watermark = %v, want %v", got, want)
	}
}

func TestResolveWatermark_FirstSyncBackfillWindow(t *testing.T) {
	m, _ := newTestManager(t, &fakeClient{})
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	got, err := m.ResolveWatermark(context.Background(), "act_1", time.Time{},
		func(ctx context.Context, owner string) (time.Time, bool, error) {
			return time.Time{}, false, nil
		})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := now.Add(-7 * 24 * time.Hour); !got.Equal(want) {
		t.Errorf("watermark = %v, want %v", got, want)
	}
}

func TestResolveWatermark_StorageErrorPropagates(t *testing.T) {
	m, _ := newTestManager(t, &fakeClient{})

	_, err := m.ResolveWatermark(context.Background(), "act_1", time.Time{},
		func(ctx context.Context, owner string) (time.Time, bool, error) {
			return time.Time{}, false, errors.New("disk on fire")
		})
	if err == nil {
		t.Fatal("storage error must propagate, never degrade to fetch-everything")
	}
}

func TestSyncAdsIncremental_ErrorIsolation(t *testing.T) {
	fc := &fakeClient{}
	for i := 1; i <= 10; i++ {
		rec := graph.AdRecord{ID: fmt.Sprintf("ad%d", i), Name: "n"}
		if i == 5 {
			rec.ID = "" // malformed: missing required identifier
		}
		fc.ads = append(fc.ads, rec)
	}
	m, db := newTestManager(t, fc)

	stats := NewRunStats()
	err := m.SyncAdsIncremental(context.Background(), "act_123", RunOptions{All: true}, stats)
	if err != nil {
		t.Fatalf("one bad record must not abort the batch: %v", err)
	}

	sum := stats.Summary()
	ad := sum.Kinds["ad"]
	if ad.New != 9 {
		t.Errorf("new = %d, want 9", ad.New)
	}
	if ad.Errors != 1 {
		t.Errorf("errors = %d, want 1", ad.Errors)
	}

	counts, _ := db.TableCounts(context.Background())
	if counts["ads"] != 9 {
		t.Errorf("expected 9 stored ads, got %d", counts["ads"])
	}
}

func TestSyncPosts_ClassifierShortCircuit(t *testing.T) {
	fc := &fakeClient{
		posts: []graph.PostRecord{
			{
				ID:           "page1_1",
				PermalinkURL: "https://platform.com/reel/123",
				UpdatedTime:  gts(time.Now()),
			},
		},
	}
	m, db := newTestManager(t, fc)

	stats := NewRunStats()
	if err := m.SyncPosts(context.Background(), "page1", RunOptions{All: true}, stats); err != nil {
		t.Fatalf("sync posts: %v", err)
	}

	if fc.attachmentCalls != 0 {
		t.Errorf("permalink hit fetched attachments %d times, want 0", fc.attachmentCalls)
	}

	p, err := db.GetPost(context.Background(), "page1_1")
	if err != nil || p == nil {
		t.Fatalf("get post: %v", err)
	}
	if p.Kind != models.ContentKindVideo {
		t.Errorf("kind = %q, want video", p.Kind)
	}
}

func TestSyncPosts_AttachmentLayerReached(t *testing.T) {
	fc := &fakeClient{
		posts: []graph.PostRecord{
			{ID: "page1_2", Message: "ordinary announcement"},
		},
	}
	m, _ := newTestManager(t, fc)

	stats := NewRunStats()
	if err := m.SyncPosts(context.Background(), "page1", RunOptions{All: true}, stats); err != nil {
		t.Fatalf("sync posts: %v", err)
	}
	if fc.attachmentCalls != 1 {
		t.Errorf("unclassified post should fetch attachments once, got %d", fc.attachmentCalls)
	}
}

func TestSyncVideoPosts_ReelDetection(t *testing.T) {
	reelValue, _ := json.Marshal(4200)
	fc := &fakeClient{
		videos: []graph.VideoRecord{
			{ID: "vidreel", PostID: "page1_10", Title: "a reel"},
			{ID: "vidplain", PostID: "page1_11", Title: "a video"},
		},
		insights: map[string][]graph.InsightRecord{
			"vidreel": {
				{Name: "blue_reels_play_count", Period: "lifetime",
					Values: []graph.InsightValue{{Value: reelValue}}},
			},
		},
	}
	m, db := newTestManager(t, fc)

	stats := NewRunStats()
	if err := m.SyncVideoPosts(context.Background(), "page1", RunOptions{All: true}, stats); err != nil {
		t.Fatalf("sync videos: %v", err)
	}

	reel, err := db.GetVideoPostByVideoID(context.Background(), "vidreel")
	if err != nil || reel == nil {
		t.Fatalf("get reel: %v", err)
	}
	if reel.Kind != models.ContentKindReel {
		t.Errorf("reel kind = %q", reel.Kind)
	}

	plain, err := db.GetVideoPostByVideoID(context.Background(), "vidplain")
	if err != nil || plain == nil {
		t.Fatalf("get video: %v", err)
	}
	if plain.Kind != models.ContentKindVideo {
		t.Errorf("video kind = %q", plain.Kind)
	}
}

func TestSyncPromotedPosts_Backfill(t *testing.T) {
	promoted := "111_777"
	fc := &fakeClient{
		ads: []graph.AdRecord{
			{
				ID:       "ad1",
				Creative: json.RawMessage(`{"effective_object_story_id": "` + promoted + `"}`),
			},
		},
		postByID: map[string]graph.PostRecord{
			promoted: {ID: promoted, Message: "promoted duplicate"},
		},
	}
	m, db := newTestManager(t, fc)
	ctx := context.Background()

	stats := NewRunStats()
	if err := m.SyncAdsIncremental(ctx, "act_123", RunOptions{All: true}, stats); err != nil {
		t.Fatalf("sync ads: %v", err)
	}
	if err := m.SyncPromotedPosts(ctx, stats); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	p, err := db.GetPost(ctx, promoted)
	if err != nil || p == nil {
		t.Fatalf("promoted post not backfilled: %v", err)
	}
	if p.PageID != "111" {
		t.Errorf("page id = %q, want 111", p.PageID)
	}

	// Nothing left to backfill on a second pass.
	ids, err := db.PromotedPostIDsMissingContent(ctx, 10)
	if err != nil {
		t.Fatalf("missing content query: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("still missing: %v", ids)
	}
}

func TestRunOnce_IdempotentAndCrossReferenced(t *testing.T) {
	now := time.Now()
	fc := &fakeClient{
		accounts:  []graph.AdAccountRecord{{ID: "act_123", AccountID: "123", Name: "main"}},
		campaigns: []graph.CampaignRecord{{ID: "c1", Name: "launch"}},
		adsets:    []graph.AdSetRecord{{ID: "s1", CampaignID: "c1"}},
		ads: []graph.AdRecord{
			{
				ID:          "ad1",
				AdSetID:     "s1",
				CampaignID:  "c1",
				UpdatedTime: gts(now),
				Creative: json.RawMessage(
					`{"video_id": "vid1", "effective_object_story_id": "page1_90"}`),
			},
		},
		posts: []graph.PostRecord{
			{ID: "page1_1", Message: "hello", UpdatedTime: gts(now)},
		},
		videos: []graph.VideoRecord{
			{ID: "vid1", PostID: "page1_2", Title: "launch video", UpdatedTime: gts(now)},
		},
		postByID: map[string]graph.PostRecord{
			"page1_90": {ID: "page1_90", Message: "promoted"},
		},
	}
	m, db := newTestManager(t, fc)
	ctx := context.Background()

	first, err := m.RunOnce(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Totals().Errors != 0 {
		t.Errorf("first run errors: %+v", first.Totals())
	}
	if first.Kinds["ad"].New != 1 {
		t.Errorf("first run ad counters: %+v", first.Kinds["ad"])
	}

	second, err := m.RunOnce(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Kinds["ad"].New != 0 || second.Kinds["ad"].Updated != 1 {
		t.Errorf("second run should update, not insert: %+v", second.Kinds["ad"])
	}

	// Cross-reference resolved exactly once across both runs.
	maps, err := db.PromotedMappingsForVideo(ctx, "vid1")
	if err != nil {
		t.Fatalf("read mappings: %v", err)
	}
	if len(maps) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(maps))
	}
	if maps[0].PromotedPostID != "page1_90" || maps[0].AdID != "ad1" {
		t.Errorf("mapping = %+v", maps[0])
	}

	counts, _ := db.TableCounts(ctx)
	for table, want := range map[string]int64{
		"ads": 1, "campaigns": 1, "adsets": 1, "video_posts": 1,
		"video_promoted_posts": 1,
	} {
		if counts[table] != want {
			t.Errorf("%s rows = %d, want %d", table, counts[table], want)
		}
	}

	if m.LastSummary() == nil {
		t.Error("last summary not recorded")
	}
}
