// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kittipatv/pagesync/internal/models"
)

// UpsertPostInsight inserts or replaces one metric snapshot. Re-syncing a
// period replaces the value at the same key rather than accumulating.
func (db *DB) UpsertPostInsight(ctx context.Context, in *models.PostInsight) error {
	if in.OwnerID == "" || in.Metric == "" {
		return fmt.Errorf("insight missing owner_id or metric")
	}
	if in.ValueNumeric != nil && len(in.ValueJSON) > 0 {
		return fmt.Errorf("insight %s/%s carries both numeric and JSON values", in.OwnerID, in.Metric)
	}

	query := `INSERT INTO post_insights (
		owner_id, metric, period, period_start, period_end,
		value_numeric, value_json, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, metric, period_start, period_end) DO UPDATE SET
		period = EXCLUDED.period,
		value_numeric = EXCLUDED.value_numeric,
		value_json = EXCLUDED.value_json,
		updated_at = EXCLUDED.updated_at`

	var numeric interface{}
	if in.ValueNumeric != nil {
		numeric = *in.ValueNumeric
	}

	err := db.execWithRetry(ctx, "post_insights", query,
		in.OwnerID, in.Metric, in.Period, in.PeriodStart, in.PeriodEnd,
		numeric, nullJSON(in.ValueJSON), db.now())
	if err != nil {
		return fmt.Errorf("failed to upsert insight %s/%s: %w", in.OwnerID, in.Metric, err)
	}
	return nil
}

// GetPostInsight retrieves one stored metric snapshot. Returns nil when
// not found.
func (db *DB) GetPostInsight(ctx context.Context, ownerID, metric string) (*models.PostInsight, error) {
	query := `SELECT owner_id, metric, period, period_start, period_end,
		value_numeric, value_json, updated_at
		FROM post_insights WHERE owner_id = ? AND metric = ?
		ORDER BY period_end DESC LIMIT 1`

	var in models.PostInsight
	var numeric sql.NullFloat64
	var raw sql.NullString

	err := db.conn.QueryRowContext(ctx, query, ownerID, metric).Scan(
		&in.OwnerID, &in.Metric, &in.Period, &in.PeriodStart, &in.PeriodEnd,
		&numeric, &raw, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get insight %s/%s: %w", ownerID, metric, err)
	}

	if numeric.Valid {
		v := numeric.Float64
		in.ValueNumeric = &v
	}
	if raw.Valid {
		in.ValueJSON = []byte(raw.String)
	}
	return &in, nil
}

// UpsertAdInsightDaily inserts or replaces one day's delivery metrics for
// an ad. Values replace the existing row at the same key.
func (db *DB) UpsertAdInsightDaily(ctx context.Context, in *models.AdInsightDaily) error {
	if in.AdID == "" || in.DateStart == "" {
		return fmt.Errorf("ad insight missing ad_id or date_start")
	}

	query := `INSERT INTO ad_insights_daily (
		ad_id, date_start, date_stop, impressions, reach, clicks,
		spend_minor, actions, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (ad_id, date_start, date_stop) DO UPDATE SET
		impressions = EXCLUDED.impressions,
		reach = EXCLUDED.reach,
		clicks = EXCLUDED.clicks,
		spend_minor = EXCLUDED.spend_minor,
		actions = EXCLUDED.actions,
		updated_at = EXCLUDED.updated_at`

	err := db.execWithRetry(ctx, "ad_insights_daily", query,
		in.AdID, in.DateStart, in.DateStop, in.Impressions, in.Reach, in.Clicks,
		in.SpendMinor, nullJSON(in.ActionsJSON), db.now())
	if err != nil {
		return fmt.Errorf("failed to upsert ad insight %s/%s: %w", in.AdID, in.DateStart, err)
	}
	return nil
}

// GetAdInsightDaily retrieves one day's metrics for an ad. Returns nil
// when not found.
func (db *DB) GetAdInsightDaily(ctx context.Context, adID, dateStart string) (*models.AdInsightDaily, error) {
	query := `SELECT ad_id, date_start, date_stop, impressions, reach, clicks,
		spend_minor, actions, updated_at
		FROM ad_insights_daily WHERE ad_id = ? AND date_start = ?`

	var in models.AdInsightDaily
	var actions sql.NullString

	err := db.conn.QueryRowContext(ctx, query, adID, dateStart).Scan(
		&in.AdID, &in.DateStart, &in.DateStop, &in.Impressions, &in.Reach,
		&in.Clicks, &in.SpendMinor, &actions, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ad insight %s/%s: %w", adID, dateStart, err)
	}

	if actions.Valid {
		in.ActionsJSON = []byte(actions.String)
	}
	return &in, nil
}
