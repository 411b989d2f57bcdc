// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

// Package media downloads and caches remote assets (post thumbnails,
// creative images) into the database. Downloads are best effort: a failed
// fetch stores a placeholder row so the same broken URL is not retried on
// every sync run, and never fails the sync that requested it.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/database"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/metrics"
	"github.com/kittipatv/pagesync/internal/models"
)

// maxDownloadSize caps a single asset. Thumbnails are tens of kilobytes;
// anything past this is not a thumbnail.
const maxDownloadSize = 10 << 20

const downloadTimeout = 30 * time.Second

// Request asks the worker pool to cache one asset. OnStored, when set, is
// invoked with the media id after a successful store (used to write the
// thumbnail_media_id back onto the owning row).
type Request struct {
	URL        string
	Category   string
	SourceID   string
	SourceKind string
	OnStored   func(ctx context.Context, mediaID string) error
}

// Store caches remote media into the database through a bounded worker
// pool. Enqueue never blocks a sync pass: when the queue is full the
// request is dropped and counted.
type Store struct {
	db     *database.DB
	client *http.Client

	queue     chan Request
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStore creates the store and starts its download workers.
func NewStore(db *database.DB, cfg *config.MediaConfig) *Store {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	s := &Store{
		db:     db,
		client: &http.Client{Timeout: downloadTimeout},
		queue:  make(chan Request, queueSize),
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue submits a download request without blocking. Returns false when
// the queue is full and the request was dropped.
func (s *Store) Enqueue(req Request) bool {
	if req.URL == "" {
		return false
	}
	select {
	case s.queue <- req:
		metrics.MediaQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		metrics.MediaQueueDropped.Inc()
		logging.Debug().Str("url", req.URL).Msg("Media queue full, dropping download request")
		return false
	}
}

// Close drains the queue and stops the workers.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

func (s *Store) worker() {
	defer s.wg.Done()
	for req := range s.queue {
		metrics.MediaQueueDepth.Set(float64(len(s.queue)))

		ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
		mediaID, err := s.StoreFromURL(ctx, req.URL, req.Category, req.SourceID, req.SourceKind)
		if err != nil {
			logging.Warn().Err(err).Str("url", req.URL).Msg("Media store failed")
		} else if mediaID != "" && req.OnStored != nil {
			if err := req.OnStored(ctx, mediaID); err != nil {
				logging.Warn().Err(err).Str("media_id", mediaID).Msg("Media post-store callback failed")
			}
		}
		cancel()
	}
}

// StoreFromURL caches the asset at url, returning the media id. Idempotent:
// a URL already cached returns the existing id without a download. A failed
// download writes a placeholder row and returns an empty id with nil error,
// so callers treat missing media as a soft condition.
func (s *Store) StoreFromURL(ctx context.Context, url, category, sourceID, sourceKind string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("empty media url")
	}

	id, status, found, err := s.db.MediaIDByURL(ctx, url)
	if err != nil {
		return "", err
	}
	if found {
		metrics.MediaCacheHits.Inc()
		if status == models.MediaStatusFailed {
			return "", nil
		}
		return id, nil
	}
	metrics.MediaCacheMisses.Inc()

	obj := &models.MediaObject{
		ID:         uuid.NewString(),
		URL:        url,
		Category:   category,
		SourceID:   sourceID,
		SourceKind: sourceKind,
		Status:     models.MediaStatusStored,
	}

	data, contentType, err := s.download(ctx, url)
	if err != nil {
		metrics.MediaDownloadFailures.Inc()
		logging.Warn().Err(err).Str("url", url).Msg("Media download failed, storing placeholder")
		obj.Status = models.MediaStatusFailed
		if insErr := s.db.InsertMediaObject(ctx, obj); insErr != nil {
			return "", insErr
		}
		return "", nil
	}

	obj.Data = data
	obj.ContentType = contentType
	obj.SizeBytes = int64(len(data))
	if err := s.db.InsertMediaObject(ctx, obj); err != nil {
		return "", err
	}
	return obj.ID, nil
}

func (s *Store) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Debug().Err(err).Msg("Failed to close media response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, "", fmt.Errorf("media exceeds %d byte limit", maxDownloadSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
