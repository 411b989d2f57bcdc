// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Timestamp wraps time.Time to decode the Graph API's timestamp format,
// which uses a numeric zone offset without a colon ("2024-01-02T15:04:05+0000")
// and so is not valid RFC 3339.
type Timestamp struct {
	time.Time
}

const graphTimeLayout = "2006-01-02T15:04:05-0700"

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(graphTimeLayout, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("cannot parse graph timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(graphTimeLayout) + `"`), nil
}

// Paging is the Graph API pagination envelope. Next holds a complete URL
// for the following page; empty means the last page.
type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// Envelope is the generic Graph API list response. Data stays raw so each
// fetcher decodes into its own record type.
type Envelope struct {
	Data   json.RawMessage `json:"data"`
	Paging Paging          `json:"paging"`
	Error  *APIError       `json:"error,omitempty"`
}

// APIError is the Graph API error payload.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error (code %d): %s", e.Code, e.Message)
}

// rate-limit error codes the Graph API reports inside a 400 body
const (
	errCodeRateLimit   = 4  // application request limit
	errCodeUserRate    = 17 // user request limit
	errCodePageRate    = 32
	errCodeAccountRate = 80004
)

// IsRateLimit reports whether the error indicates API throttling.
func (e *APIError) IsRateLimit() bool {
	switch e.Code {
	case errCodeRateLimit, errCodeUserRate, errCodeAccountRate, errCodePageRate:
		return true
	}
	return false
}

// PostRecord is a page feed entry as delivered by the API.
type PostRecord struct {
	ID           string     `json:"id"`
	Message      string     `json:"message,omitempty"`
	PermalinkURL string     `json:"permalink_url,omitempty"`
	StatusType   string     `json:"status_type,omitempty"`
	FullPicture  string     `json:"full_picture,omitempty"`
	CreatedTime  *Timestamp `json:"created_time,omitempty"`
	UpdatedTime  *Timestamp `json:"updated_time,omitempty"`
}

// VideoRecord is a page video object.
type VideoRecord struct {
	ID           string     `json:"id"` // video object id
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	PermalinkURL string     `json:"permalink_url,omitempty"`
	Length       float64    `json:"length,omitempty"`
	PostID       string     `json:"post_id,omitempty"`
	Picture      string     `json:"picture,omitempty"`
	CreatedTime  *Timestamp `json:"created_time,omitempty"`
	UpdatedTime  *Timestamp `json:"updated_time,omitempty"`
}

// AttachmentRecord is one entry from a post's attachments edge.
type AttachmentRecord struct {
	Type  string `json:"type"`
	Media struct {
		Image struct {
			Src string `json:"src,omitempty"`
		} `json:"image,omitempty"`
		Source string `json:"source,omitempty"`
	} `json:"media,omitempty"`
	URL string `json:"url,omitempty"`
}

// CreativeRecord is the ad creative sub-object. VideoID and the
// effective story id are the fields the reconciliation passes read;
// the full payload is preserved verbatim on the ad row.
type CreativeRecord struct {
	ID                     string `json:"id,omitempty"`
	VideoID                string `json:"video_id,omitempty"`
	EffectiveObjectStoryID string `json:"effective_object_story_id,omitempty"`
	ObjectStoryID          string `json:"object_story_id,omitempty"`
}

// AdRecord is an ad as delivered by the API.
type AdRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name,omitempty"`
	Status          string          `json:"status,omitempty"`
	EffectiveStatus string          `json:"effective_status,omitempty"`
	AdSetID         string          `json:"adset_id,omitempty"`
	CampaignID      string          `json:"campaign_id,omitempty"`
	Creative        json.RawMessage `json:"creative,omitempty"`
	UpdatedTime     *Timestamp      `json:"updated_time,omitempty"`
}

// ParsedCreative decodes the creative payload. Returns a zero record when
// the ad has no creative.
func (a *AdRecord) ParsedCreative() (CreativeRecord, error) {
	var c CreativeRecord
	if len(a.Creative) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(a.Creative, &c); err != nil {
		return c, fmt.Errorf("decode creative for ad %s: %w", a.ID, err)
	}
	return c, nil
}

// PromotedPostID extracts the story id the ad promotes, when present.
// The effective story id wins over the declared one.
func (a *AdRecord) PromotedPostID() string {
	c, err := a.ParsedCreative()
	if err != nil {
		return ""
	}
	if c.EffectiveObjectStoryID != "" {
		return c.EffectiveObjectStoryID
	}
	return c.ObjectStoryID
}

// CampaignRecord is a campaign as delivered by the API.
type CampaignRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Objective   string     `json:"objective,omitempty"`
	Status      string     `json:"status,omitempty"`
	DailyBudget string     `json:"daily_budget,omitempty"` // minor units, as string
	StartTime   *Timestamp `json:"start_time,omitempty"`
	StopTime    *Timestamp `json:"stop_time,omitempty"`
	CreatedTime *Timestamp `json:"created_time,omitempty"`
	UpdatedTime *Timestamp `json:"updated_time,omitempty"`
}

// AdSetRecord is an ad set as delivered by the API.
type AdSetRecord struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	Status           string     `json:"status,omitempty"`
	CampaignID       string     `json:"campaign_id,omitempty"`
	OptimizationGoal string     `json:"optimization_goal,omitempty"`
	DailyBudget      string     `json:"daily_budget,omitempty"`
	UpdatedTime      *Timestamp `json:"updated_time,omitempty"`
}

// AdAccountRecord is an ad account as delivered by the API.
type AdAccountRecord struct {
	ID            string `json:"id"` // "act_" prefixed
	AccountID     string `json:"account_id,omitempty"`
	Name          string `json:"name,omitempty"`
	Currency      string `json:"currency,omitempty"`
	AccountStatus int    `json:"account_status,omitempty"`
}

// InsightValue is a single value entry within an insight metric series.
// Value may be a scalar or a breakdown object, so it stays raw.
type InsightValue struct {
	Value   json.RawMessage `json:"value"`
	EndTime *Timestamp      `json:"end_time,omitempty"`
}

// InsightRecord is one metric series from an insights edge.
type InsightRecord struct {
	Name   string         `json:"name"`
	Period string         `json:"period"`
	Values []InsightValue `json:"values"`
}

// AdInsightRecord is one row of ad-level delivery insights.
type AdInsightRecord struct {
	AdID        string          `json:"ad_id"`
	DateStart   string          `json:"date_start"`
	DateStop    string          `json:"date_stop"`
	Impressions string          `json:"impressions,omitempty"` // numerics arrive as strings
	Reach       string          `json:"reach,omitempty"`
	Clicks      string          `json:"clicks,omitempty"`
	Spend       string          `json:"spend,omitempty"`
	Actions     json.RawMessage `json:"actions,omitempty"`
}
