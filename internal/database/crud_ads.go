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

// nullIfEmpty maps "" to SQL NULL so empty strings never shadow stored values.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullStrPtr(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func nullInt64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// UpsertAdAccount inserts or updates an ad account row.
func (db *DB) UpsertAdAccount(ctx context.Context, acct *models.AdAccount) error {
	if acct.ID == "" {
		return fmt.Errorf("ad account missing id")
	}
	now := db.now()

	query := `INSERT INTO ad_accounts (
		id, account_id, name, currency, account_status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		account_id = EXCLUDED.account_id,
		name = EXCLUDED.name,
		currency = EXCLUDED.currency,
		account_status = EXCLUDED.account_status,
		updated_at = EXCLUDED.updated_at`

	return db.execWithRetry(ctx, "ad_accounts", query,
		acct.ID, acct.AccountID, nullIfEmpty(acct.Name), nullIfEmpty(acct.Currency),
		acct.Status, now, now)
}

// UpsertCampaign inserts or updates a campaign row.
func (db *DB) UpsertCampaign(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" || c.AccountID == "" {
		return fmt.Errorf("campaign missing id or account_id")
	}
	now := db.now()

	query := `INSERT INTO campaigns (
		id, account_id, name, objective, status, daily_budget,
		start_time, stop_time, remote_created, remote_updated, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		account_id = EXCLUDED.account_id,
		name = EXCLUDED.name,
		objective = EXCLUDED.objective,
		status = EXCLUDED.status,
		daily_budget = EXCLUDED.daily_budget,
		start_time = EXCLUDED.start_time,
		stop_time = EXCLUDED.stop_time,
		remote_created = EXCLUDED.remote_created,
		remote_updated = EXCLUDED.remote_updated,
		updated_at = EXCLUDED.updated_at`

	return db.execWithRetry(ctx, "campaigns", query,
		c.ID, c.AccountID, nullIfEmpty(c.Name), nullIfEmpty(c.Objective), nullIfEmpty(c.Status),
		nullInt64Ptr(c.DailyBudget), nullTimePtr(c.StartTime), nullTimePtr(c.StopTime),
		nullTimePtr(c.RemoteCreated), nullTimePtr(c.RemoteUpdated), now, now)
}

// UpsertAdSet inserts or updates an ad set row.
func (db *DB) UpsertAdSet(ctx context.Context, s *models.AdSet) error {
	if s.ID == "" || s.AccountID == "" {
		return fmt.Errorf("adset missing id or account_id")
	}
	now := db.now()

	query := `INSERT INTO adsets (
		id, campaign_id, account_id, name, status, optimization_goal,
		daily_budget, remote_updated, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		campaign_id = EXCLUDED.campaign_id,
		account_id = EXCLUDED.account_id,
		name = EXCLUDED.name,
		status = EXCLUDED.status,
		optimization_goal = EXCLUDED.optimization_goal,
		daily_budget = EXCLUDED.daily_budget,
		remote_updated = EXCLUDED.remote_updated,
		updated_at = EXCLUDED.updated_at`

	return db.execWithRetry(ctx, "adsets", query,
		s.ID, nullIfEmpty(s.CampaignID), s.AccountID, nullIfEmpty(s.Name), nullIfEmpty(s.Status),
		nullIfEmpty(s.OptimizationGoal), nullInt64Ptr(s.DailyBudget),
		nullTimePtr(s.RemoteUpdated), now, now)
}

// UpsertAd inserts or updates an ad row, returning whether it was new.
//
// promoted_post_id merges with COALESCE: a fetch that omits the promoted
// post never erases the value a previous run resolved. All remote-owned
// fields overwrite. created_at is written once; updated_at every merge.
func (db *DB) UpsertAd(ctx context.Context, ad *models.Ad) (bool, error) {
	if ad.ID == "" || ad.AccountID == "" {
		return false, fmt.Errorf("ad missing id or account_id")
	}

	exists, err := db.rowExists(ctx, `SELECT 1 FROM ads WHERE id = ?`, ad.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check ad %s: %w", ad.ID, err)
	}

	now := db.now()
	query := `INSERT INTO ads (
		id, adset_id, campaign_id, account_id, name, status, effective_status,
		promoted_post_id, creative, remote_updated, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		adset_id = EXCLUDED.adset_id,
		campaign_id = EXCLUDED.campaign_id,
		account_id = EXCLUDED.account_id,
		name = EXCLUDED.name,
		status = EXCLUDED.status,
		effective_status = EXCLUDED.effective_status,
		promoted_post_id = COALESCE(EXCLUDED.promoted_post_id, ads.promoted_post_id),
		creative = EXCLUDED.creative,
		remote_updated = EXCLUDED.remote_updated,
		updated_at = EXCLUDED.updated_at`

	err = db.execWithRetry(ctx, "ads", query,
		ad.ID, nullIfEmpty(ad.AdSetID), nullIfEmpty(ad.CampaignID), ad.AccountID,
		nullIfEmpty(ad.Name), nullIfEmpty(ad.Status), nullIfEmpty(ad.EffectiveStatus),
		nullStrPtr(ad.PromotedPostID), nullJSON(ad.CreativeJSON),
		nullTimePtr(ad.RemoteUpdated), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert ad %s: %w", ad.ID, err)
	}

	return !exists, nil
}

// GetAd retrieves an ad by id. Returns nil when not found.
func (db *DB) GetAd(ctx context.Context, adID string) (*models.Ad, error) {
	query := `SELECT id, adset_id, campaign_id, account_id, name, status,
		effective_status, promoted_post_id, creative, remote_updated, created_at, updated_at
		FROM ads WHERE id = ?`

	var ad models.Ad
	var adsetID, campaignID, name, status, effStatus, promoted, creative sql.NullString
	var remoteUpdated sql.NullTime

	err := db.conn.QueryRowContext(ctx, query, adID).Scan(
		&ad.ID, &adsetID, &campaignID, &ad.AccountID, &name, &status,
		&effStatus, &promoted, &creative, &remoteUpdated, &ad.CreatedAt, &ad.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ad %s: %w", adID, err)
	}

	ad.AdSetID = adsetID.String
	ad.CampaignID = campaignID.String
	ad.Name = name.String
	ad.Status = status.String
	ad.EffectiveStatus = effStatus.String
	if promoted.Valid {
		v := promoted.String
		ad.PromotedPostID = &v
	}
	if creative.Valid {
		ad.CreativeJSON = []byte(creative.String)
	}
	if remoteUpdated.Valid {
		t := remoteUpdated.Time
		ad.RemoteUpdated = &t
	}
	return &ad, nil
}

// MaxAdUpdatedTime returns the newest remote_updated among the account's
// ads. found is false when the account has no rows yet (first sync).
func (db *DB) MaxAdUpdatedTime(ctx context.Context, accountID string) (time.Time, bool, error) {
	return db.maxTimestamp(ctx,
		`SELECT MAX(remote_updated) FROM ads WHERE account_id = ?`, accountID)
}

// PromotedPostIDsMissingContent returns promoted post ids referenced by
// ads but absent from both content tables, bounded by limit. These feed
// the promoted-post backfill pass.
func (db *DB) PromotedPostIDsMissingContent(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT DISTINCT a.promoted_post_id
		FROM ads a
		WHERE a.promoted_post_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM posts p WHERE p.id = a.promoted_post_id)
		  AND NOT EXISTS (SELECT 1 FROM video_posts v WHERE v.id = a.promoted_post_id)
		ORDER BY a.promoted_post_id
		LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing promoted posts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
