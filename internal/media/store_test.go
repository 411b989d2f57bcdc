// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/database"
	"github.com/kittipatv/pagesync/internal/models"
)

func newTestStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()
	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore(db, &config.MediaConfig{Workers: 1, QueueSize: 4})
	t.Cleanup(s.Close)
	return s, db
}

func TestStoreFromURL_DownloadAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegdata"))
	}))
	defer srv.Close()

	s, db := newTestStore(t)
	ctx := context.Background()

	id, err := s.StoreFromURL(ctx, srv.URL+"/thumb.jpg", "thumbnail", "p1", "post")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" {
		t.Fatal("expected media id")
	}

	obj, err := db.GetMediaObject(ctx, id)
	if err != nil || obj == nil {
		t.Fatalf("get media: %v", err)
	}
	if obj.ContentType != "image/jpeg" || string(obj.Data) != "jpegdata" {
		t.Errorf("stored object mismatch: %+v", obj)
	}
	if obj.Status != models.MediaStatusStored {
		t.Errorf("status = %q", obj.Status)
	}

	// Second request for the same URL hits the cache, no download.
	id2, err := s.StoreFromURL(ctx, srv.URL+"/thumb.jpg", "thumbnail", "p1", "post")
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if id2 != id {
		t.Errorf("cache returned different id: %q vs %q", id2, id)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 download, got %d", hits.Load())
	}
}

func TestStoreFromURL_FailurePlaceholder(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, db := newTestStore(t)
	ctx := context.Background()

	// Failure is a soft condition: no id, no error.
	id, err := s.StoreFromURL(ctx, srv.URL+"/gone.jpg", "thumbnail", "p1", "post")
	if err != nil {
		t.Fatalf("store should not fail the caller: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id for failed download, got %q", id)
	}

	// The placeholder stops retries on subsequent runs.
	if _, err := s.StoreFromURL(ctx, srv.URL+"/gone.jpg", "thumbnail", "p1", "post"); err != nil {
		t.Fatalf("second store: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("broken URL retried: %d downloads", hits.Load())
	}

	_, status, found, err := db.MediaIDByURL(ctx, srv.URL+"/gone.jpg")
	if err != nil || !found {
		t.Fatalf("placeholder lookup: found=%v err=%v", found, err)
	}
	if status != models.MediaStatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// No workers started: fill the queue manually to force drops.
	s := &Store{db: db, queue: make(chan Request, 1)}

	if !s.Enqueue(Request{URL: "http://example.com/a.jpg"}) {
		t.Fatal("first enqueue should succeed")
	}
	if s.Enqueue(Request{URL: "http://example.com/b.jpg"}) {
		t.Error("second enqueue should drop on a full queue")
	}
	if s.Enqueue(Request{}) {
		t.Error("empty URL should be rejected")
	}
}

func TestEnqueue_OnStoredCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	}))
	defer srv.Close()

	s, db := newTestStore(t)
	ctx := context.Background()

	if _, err := db.UpsertPost(ctx, &models.Post{
		ID: "p1", PageID: "page1", Kind: models.ContentKindPost,
	}); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	done := make(chan string, 1)
	ok := s.Enqueue(Request{
		URL:        srv.URL + "/t.jpg",
		Category:   "thumbnail",
		SourceID:   "p1",
		SourceKind: "post",
		OnStored: func(ctx context.Context, mediaID string) error {
			err := db.SetPostThumbnail(ctx, "p1", mediaID)
			done <- mediaID
			return err
		},
	})
	if !ok {
		t.Fatal("enqueue failed")
	}

	mediaID := <-done
	p, err := db.GetPost(ctx, "p1")
	if err != nil || p == nil {
		t.Fatalf("get post: %v", err)
	}
	if p.ThumbnailMediaID == nil || *p.ThumbnailMediaID != mediaID {
		t.Errorf("thumbnail not written back: %v", p.ThumbnailMediaID)
	}
}
