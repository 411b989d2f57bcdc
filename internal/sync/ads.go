// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package sync

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kittipatv/pagesync/internal/graph"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/models"
)

const (
	kindAdAccount = "ad_account"
	kindCampaign  = "campaign"
	kindAdSet     = "adset"
	kindAd        = "ad"
	kindAdInsight = "ad_insight"
)

// SyncAdAccounts refreshes the ad account roster.
func (m *Manager) SyncAdAccounts(ctx context.Context, stats *RunStats) error {
	var records []graph.AdAccountRecord
	err := m.retryFetch(ctx, "ad accounts", func() error {
		var ferr error
		records, ferr = m.client.FetchAdAccounts(ctx)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindAdAccount, len(records))

	for _, rec := range records {
		if rec.ID == "" {
			stats.Record(kindAdAccount, OutcomeError)
			logging.Warn().Msg("Ad account record missing id, skipping")
			continue
		}
		acct := &models.AdAccount{
			ID:        rec.ID,
			AccountID: rec.AccountID,
			Name:      rec.Name,
			Currency:  rec.Currency,
			Status:    rec.AccountStatus,
		}
		if err := m.store.UpsertAdAccount(ctx, acct); err != nil {
			stats.Record(kindAdAccount, OutcomeError)
			logging.Warn().Err(err).Str("account_id", rec.ID).Msg("Ad account upsert failed")
			continue
		}
		stats.Record(kindAdAccount, OutcomeUpdated)
	}
	return nil
}

// SyncAdHierarchy refreshes campaigns and ad sets for one account. These
// are small sets, fetched in full each run rather than incrementally.
func (m *Manager) SyncAdHierarchy(ctx context.Context, accountID string, stats *RunStats) error {
	var campaigns []graph.CampaignRecord
	err := m.retryFetch(ctx, "campaigns", func() error {
		var ferr error
		campaigns, ferr = m.client.FetchCampaigns(ctx, accountID)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindCampaign, len(campaigns))

	for _, rec := range campaigns {
		if rec.ID == "" {
			stats.Record(kindCampaign, OutcomeError)
			continue
		}
		c := &models.Campaign{
			ID:            rec.ID,
			AccountID:     accountID,
			Name:          rec.Name,
			Objective:     rec.Objective,
			Status:        rec.Status,
			DailyBudget:   parseMinorUnits(rec.DailyBudget),
			StartTime:     timestampPtr(rec.StartTime),
			StopTime:      timestampPtr(rec.StopTime),
			RemoteCreated: timestampPtr(rec.CreatedTime),
			RemoteUpdated: timestampPtr(rec.UpdatedTime),
		}
		if err := m.store.UpsertCampaign(ctx, c); err != nil {
			stats.Record(kindCampaign, OutcomeError)
			logging.Warn().Err(err).Str("campaign_id", rec.ID).Msg("Campaign upsert failed")
			continue
		}
		stats.Record(kindCampaign, OutcomeUpdated)
	}

	var adsets []graph.AdSetRecord
	err = m.retryFetch(ctx, "ad sets", func() error {
		var ferr error
		adsets, ferr = m.client.FetchAdSets(ctx, accountID)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindAdSet, len(adsets))

	for _, rec := range adsets {
		if rec.ID == "" {
			stats.Record(kindAdSet, OutcomeError)
			continue
		}
		s := &models.AdSet{
			ID:               rec.ID,
			CampaignID:       rec.CampaignID,
			AccountID:        accountID,
			Name:             rec.Name,
			Status:           rec.Status,
			OptimizationGoal: rec.OptimizationGoal,
			DailyBudget:      parseMinorUnits(rec.DailyBudget),
			RemoteUpdated:    timestampPtr(rec.UpdatedTime),
		}
		if err := m.store.UpsertAdSet(ctx, s); err != nil {
			stats.Record(kindAdSet, OutcomeError)
			logging.Warn().Err(err).Str("adset_id", rec.ID).Msg("Ad set upsert failed")
			continue
		}
		stats.Record(kindAdSet, OutcomeUpdated)
	}
	return nil
}

// SyncAdsIncremental fetches ads changed since the account's watermark and
// merges them one record at a time. A malformed or failing record is
// counted and skipped; it never aborts the batch.
func (m *Manager) SyncAdsIncremental(ctx context.Context, accountID string, opts RunOptions, stats *RunStats) error {
	var since time.Time
	if !opts.All {
		var err error
		since, err = m.ResolveWatermark(ctx, accountID, opts.Since, m.store.MaxAdUpdatedTime)
		if err != nil {
			return err
		}
	}

	var records []graph.AdRecord
	err := m.retryFetch(ctx, "ads", func() error {
		var ferr error
		records, ferr = m.client.FetchAdsUpdatedSince(ctx, accountID, since)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindAd, len(records))
	logging.Debug().Str("account_id", accountID).Time("since", since).
		Int("count", len(records)).Msg("Fetched changed ads")

	for _, rec := range records {
		outcome := m.mergeAd(ctx, accountID, &rec)
		stats.Record(kindAd, outcome)
	}
	return nil
}

// mergeAd validates and upserts a single ad record, returning the outcome.
func (m *Manager) mergeAd(ctx context.Context, accountID string, rec *graph.AdRecord) string {
	if rec.ID == "" {
		logging.Warn().Str("account_id", accountID).Msg("Ad record missing id, rejected")
		return OutcomeError
	}

	ad := &models.Ad{
		ID:              rec.ID,
		AdSetID:         rec.AdSetID,
		CampaignID:      rec.CampaignID,
		AccountID:       accountID,
		Name:            rec.Name,
		Status:          rec.Status,
		EffectiveStatus: rec.EffectiveStatus,
		CreativeJSON:    rec.Creative,
		RemoteUpdated:   timestampPtr(rec.UpdatedTime),
	}
	if promoted := rec.PromotedPostID(); promoted != "" {
		ad.PromotedPostID = &promoted
	}

	isNew, err := m.store.UpsertAd(ctx, ad)
	if err != nil {
		logging.Warn().Err(err).Str("ad_id", rec.ID).Msg("Ad upsert failed, skipping record")
		return OutcomeError
	}
	if isNew {
		return OutcomeNew
	}
	return OutcomeUpdated
}

// SyncAdInsights fetches the configured trailing date range of daily ad
// delivery metrics. Re-synced days replace the stored rows at their key.
func (m *Manager) SyncAdInsights(ctx context.Context, accountID string, stats *RunStats) error {
	today := m.now().UTC()
	dateStop := today.Format("2006-01-02")
	dateStart := today.AddDate(0, 0, -m.cfg.Sync.InsightsDaysBack).Format("2006-01-02")

	var records []graph.AdInsightRecord
	err := m.retryFetch(ctx, "ad insights", func() error {
		var ferr error
		records, ferr = m.client.FetchAdInsights(ctx, accountID, dateStart, dateStop)
		return ferr
	})
	if err != nil {
		return err
	}
	stats.Fetched(kindAdInsight, len(records))

	for _, rec := range records {
		if rec.AdID == "" || rec.DateStart == "" {
			stats.Record(kindAdInsight, OutcomeError)
			continue
		}
		row := &models.AdInsightDaily{
			AdID:        rec.AdID,
			DateStart:   rec.DateStart,
			DateStop:    rec.DateStop,
			Impressions: parseCount(rec.Impressions),
			Reach:       parseCount(rec.Reach),
			Clicks:      parseCount(rec.Clicks),
			SpendMinor:  parseSpendMinor(rec.Spend),
			ActionsJSON: rec.Actions,
		}
		if err := m.store.UpsertAdInsightDaily(ctx, row); err != nil {
			stats.Record(kindAdInsight, OutcomeError)
			logging.Warn().Err(err).Str("ad_id", rec.AdID).Str("date", rec.DateStart).
				Msg("Ad insight upsert failed")
			continue
		}
		stats.Record(kindAdInsight, OutcomeUpdated)
	}
	return nil
}

// PopulatePromotedMappings runs the batch cross-reference pass linking
// video posts to the ads that promote them.
func (m *Manager) PopulatePromotedMappings(ctx context.Context, stats *RunStats) error {
	n, err := m.store.PopulatePromotedMappings(ctx)
	if err != nil {
		return fmt.Errorf("cross-reference pass: %w", err)
	}
	stats.Fetched("mapping", int(n))
	stats.RecordN("mapping", OutcomeUpdated, n)
	logging.Info().Int64("mappings", n).Msg("Cross-reference pass complete")
	return nil
}

func timestampPtr(ts *graph.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}

// parseMinorUnits parses an integer budget string (already minor units).
func parseMinorUnits(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseCount parses an API count delivered as a decimal string.
func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseSpendMinor converts a currency-unit spend string ("12.34") to
// minor units (1234).
func parseSpendMinor(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * 100))
}
