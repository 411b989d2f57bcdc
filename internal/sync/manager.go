// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

// Package sync implements the incremental synchronization and
// reconciliation engine: watermark resolution, per-record upsert merging
// with error isolation, content classification, promoted-post backfill
// and the video-to-ad cross-reference pass.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/graph"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/media"
	"github.com/kittipatv/pagesync/internal/metrics"
	"github.com/kittipatv/pagesync/internal/models"
)

// Store is the persistence surface the engine writes through. Implemented
// by *database.DB; faked in tests.
type Store interface {
	Ping(ctx context.Context) error

	UpsertAdAccount(ctx context.Context, acct *models.AdAccount) error
	UpsertCampaign(ctx context.Context, c *models.Campaign) error
	UpsertAdSet(ctx context.Context, s *models.AdSet) error
	UpsertAd(ctx context.Context, ad *models.Ad) (bool, error)
	UpsertPost(ctx context.Context, p *models.Post) (bool, error)
	UpsertVideoPost(ctx context.Context, v *models.VideoPost) (bool, error)
	UpsertPostInsight(ctx context.Context, in *models.PostInsight) error
	UpsertAdInsightDaily(ctx context.Context, in *models.AdInsightDaily) error

	MaxAdUpdatedTime(ctx context.Context, accountID string) (time.Time, bool, error)
	MaxPostUpdatedTime(ctx context.Context, pageID string) (time.Time, bool, error)
	PromotedPostIDsMissingContent(ctx context.Context, limit int) ([]string, error)
	PopulatePromotedMappings(ctx context.Context) (int64, error)

	SetPostThumbnail(ctx context.Context, postID, mediaID string) error
	SetVideoPostThumbnail(ctx context.Context, postID, mediaID string) error
}

// RunOptions carries the per-run time-window overrides set by CLI flags or
// the trigger endpoint. Zero value means incremental (watermark-driven).
type RunOptions struct {
	// Since overrides the watermark for every owner when non-zero.
	Since time.Time
	// All disables time filtering entirely (full refetch).
	All bool
}

// Manager orchestrates sync runs. All collaborators are explicit; there is
// no package-level state. One run executes at a time (runMu).
type Manager struct {
	store      Store
	client     graph.ClientInterface
	cfg        *config.Config
	classifier *Classifier
	media      *media.Store // nil when media caching is disabled

	now func() time.Time

	runMu  stdsync.Mutex
	stopCh chan struct{}
	wg     stdsync.WaitGroup

	lastMu stdsync.RWMutex
	last   *Summary
}

// NewManager wires the engine. mediaStore may be nil.
func NewManager(store Store, client graph.ClientInterface, mediaStore *media.Store, cfg *config.Config) *Manager {
	return &Manager{
		store:      store,
		client:     client,
		cfg:        cfg,
		classifier: NewClassifier(&cfg.Classifier),
		media:      mediaStore,
		now:        time.Now,
	}
}

// LastSummary returns the most recent completed run's snapshot, or nil if
// no run has completed yet.
func (m *Manager) LastSummary() *Summary {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

func (m *Manager) setLastSummary(s Summary) {
	m.lastMu.Lock()
	m.last = &s
	m.lastMu.Unlock()
}

// watermarkQuery reads the stored max remote timestamp for one owner.
type watermarkQuery func(ctx context.Context, owner string) (time.Time, bool, error)

// ResolveWatermark computes the fetch boundary for an owner. An explicit
// override wins unchanged. Otherwise the stored max(updated) minus the
// configured buffer is used, falling back to now minus the backfill window
// on a first-ever sync. A storage read error propagates; the engine never
// silently degrades to an unbounded fetch.
func (m *Manager) ResolveWatermark(ctx context.Context, owner string, explicitSince time.Time, query watermarkQuery) (time.Time, error) {
	if !explicitSince.IsZero() {
		return explicitSince, nil
	}

	ts, found, err := query(ctx, owner)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark for %s: %w", owner, err)
	}
	if !found {
		since := m.now().Add(-m.cfg.Sync.BackfillWindow)
		logging.Info().Str("owner", owner).Time("since", since).Msg("First sync for owner, using backfill window")
		return since, nil
	}

	metrics.SyncWatermarkAge.WithLabelValues(owner).Set(m.now().Sub(ts).Seconds())
	return ts.Add(-m.cfg.Sync.WatermarkBuffer), nil
}

// retryFetch applies the run-level retry policy to one remote fetch. The
// Graph client already backs off on 429/5xx internally; this layer covers
// network-level failures across whole paginated fetches.
func (m *Manager) retryFetch(ctx context.Context, what string, fn func() error) error {
	attempts := m.cfg.Sync.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := m.cfg.Sync.RetryDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logging.Warn().Err(err).Str("fetch", what).Int("attempt", attempt).
			Dur("retry_in", delay).Msg("Fetch failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, attempts, err)
}

// RunOnce executes one full sync run: ad hierarchy, incremental ads per
// account, page content, promoted-post backfill, the cross-reference pass
// (strictly after ads and content) and ad insights. Owner-level failures
// are counted and logged but do not abort the run; the summary is always
// reached. The returned error is non-nil only for fatal conditions
// (context cancellation, storage unreachable).
func (m *Manager) RunOnce(ctx context.Context, opts RunOptions) (Summary, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := m.now()
	stats := NewRunStats()
	logging.Info().Str("run_id", stats.RunID()).Msg("Sync run starting")

	if err := m.store.Ping(ctx); err != nil {
		return stats.Summary(), fmt.Errorf("storage unreachable: %w", err)
	}

	if err := m.SyncAdAccounts(ctx, stats); err != nil {
		if ctx.Err() != nil {
			return m.finishRun(stats, start, ctx.Err())
		}
		logging.Error().Err(err).Msg("Ad account sync failed")
	}

	for _, accountID := range m.cfg.NormalizedAdAccountIDs() {
		if ctx.Err() != nil {
			return m.finishRun(stats, start, ctx.Err())
		}
		if err := m.SyncAdHierarchy(ctx, accountID, stats); err != nil {
			logging.Error().Err(err).Str("account_id", accountID).Msg("Campaign/adset sync failed")
		}
		if err := m.SyncAdsIncremental(ctx, accountID, opts, stats); err != nil {
			logging.Error().Err(err).Str("account_id", accountID).Msg("Ad sync failed")
		}
	}

	for _, pageID := range m.cfg.Graph.PageIDs {
		if ctx.Err() != nil {
			return m.finishRun(stats, start, ctx.Err())
		}
		if err := m.SyncPosts(ctx, pageID, opts, stats); err != nil {
			logging.Error().Err(err).Str("page_id", pageID).Msg("Post sync failed")
		}
		if err := m.SyncVideoPosts(ctx, pageID, opts, stats); err != nil {
			logging.Error().Err(err).Str("page_id", pageID).Msg("Video post sync failed")
		}
	}

	if err := m.SyncPromotedPosts(ctx, stats); err != nil {
		logging.Error().Err(err).Msg("Promoted post backfill failed")
	}

	// Cross-reference pass requires the full current ad and content sets,
	// so it runs strictly after every upsert pass above.
	if err := m.PopulatePromotedMappings(ctx, stats); err != nil {
		logging.Error().Err(err).Msg("Cross-reference pass failed")
	}

	if !m.cfg.Sync.SkipInsights {
		for _, accountID := range m.cfg.NormalizedAdAccountIDs() {
			if ctx.Err() != nil {
				return m.finishRun(stats, start, ctx.Err())
			}
			if err := m.SyncAdInsights(ctx, accountID, stats); err != nil {
				logging.Error().Err(err).Str("account_id", accountID).Msg("Ad insight sync failed")
			}
		}
	}

	return m.finishRun(stats, start, nil)
}

func (m *Manager) finishRun(stats *RunStats, start time.Time, err error) (Summary, error) {
	summary := stats.Summary()
	m.setLastSummary(summary)
	metrics.RecordSyncRun(m.now().Sub(start), err)

	totals := summary.Totals()
	logging.Info().
		Str("run_id", summary.RunID).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Int64("fetched", totals.Fetched).
		Int64("new", totals.New).
		Int64("updated", totals.Updated).
		Int64("errors", totals.Errors).
		Msg("Sync run finished")
	return summary, err
}

// Start launches the periodic sync loop. The first run fires immediately.
func (m *Manager) Start(ctx context.Context) {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.Sync.Interval)
		defer ticker.Stop()

		if _, err := m.RunOnce(ctx, RunOptions{}); err != nil {
			logging.Error().Err(err).Msg("Initial sync run failed")
		}

		for {
			select {
			case <-ticker.C:
				if _, err := m.RunOnce(ctx, RunOptions{}); err != nil {
					logging.Error().Err(err).Msg("Periodic sync run failed")
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the periodic loop and waits for an in-flight run to
// finish. Committed upserts are left intact.
func (m *Manager) Stop() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
	m.wg.Wait()
	if m.media != nil {
		m.media.Close()
	}
}
