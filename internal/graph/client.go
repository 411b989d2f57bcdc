// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

/*
client.go - Core Graph API Client

This file provides the Client struct and HTTP communication layer for the
advertising Graph API.

Client Features:
  - HTTP client with configurable timeout
  - Access token authentication (separate page and ad-account tokens)
  - Fixed minimum pacing between calls (rate.Limiter)
  - Automatic HTTP 429 rate limit handling with exponential backoff
  - Cursor pagination following paging.next until exhausted
  - Server-side incremental filtering on ad.updated_time
  - Context support for cancellation and timeouts

Resilience Mechanisms:
  - Rate Limiting: Exponential backoff (1s, 2s, 4s, 8s, 16s) on HTTP 429,
    honoring Retry-After when present
  - Retries: 5xx responses retried with the same backoff; 4xx are terminal
  - Context: All methods accept context for cancellation
*/

//nolint:staticcheck // File documentation, not package doc
package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/metrics"
)

// maxErrorBodySize limits the maximum amount of response body read for error reporting
const maxErrorBodySize = 64 * 1024 // 64KB

// pageLimit is the per-page record count requested from list endpoints.
// 100 is the API's ceiling for most edges.
const pageLimit = 100

// readBodyForError reads the response body for error reporting (max 64KB).
// Returns the body content or a placeholder message if reading fails.
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// ClientInterface defines the Graph API operations the sync engine uses.
//
// Implemented by Client for production use and by fake implementations in
// tests. All methods follow a consistent pattern:
//   - Accept context.Context as first parameter for cancellation/timeout
//   - Follow pagination to exhaustion and return the full result set
//   - Return error on HTTP failures, API errors, or JSON parse failures
//
// Thread Safety: All methods are safe for concurrent use.
type ClientInterface interface {
	Ping(ctx context.Context) error
	FetchPosts(ctx context.Context, pageID string, since time.Time) ([]PostRecord, error)
	FetchVideoPosts(ctx context.Context, pageID string, since time.Time) ([]VideoRecord, error)
	FetchPost(ctx context.Context, postID string) (*PostRecord, error)
	FetchAttachments(ctx context.Context, postID string) ([]AttachmentRecord, error)
	FetchPostInsights(ctx context.Context, objectID string, insightMetrics []string) ([]InsightRecord, error)
	FetchAdsUpdatedSince(ctx context.Context, accountID string, since time.Time) ([]AdRecord, error)
	FetchCampaigns(ctx context.Context, accountID string) ([]CampaignRecord, error)
	FetchAdSets(ctx context.Context, accountID string) ([]AdSetRecord, error)
	FetchAdAccounts(ctx context.Context) ([]AdAccountRecord, error)
	FetchAdInsights(ctx context.Context, accountID, dateStart, dateStop string) ([]AdInsightRecord, error)
}

// Client handles communication with the Graph HTTP API.
//
// Thread Safety: Safe for concurrent use. Each request creates its own
// HTTP request; the pacing limiter serializes call admission.
type Client struct {
	baseURL        string
	accessToken    string // ad-account endpoints
	pageToken      string // page feed/video/insight endpoints
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a Graph API client from configuration.
func NewClient(cfg *config.Config) *Client {
	interval := cfg.Graph.MinCallInterval
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	retryDelay := cfg.Graph.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Client{
		baseURL:        cfg.Graph.BaseURL,
		accessToken:    cfg.Graph.AccessToken,
		pageToken:      cfg.PageToken(),
		client:         &http.Client{Timeout: cfg.Graph.Timeout},
		limiter:        rate.NewLimiter(rate.Every(interval), 1),
		maxRetries:     cfg.Graph.MaxRetries,
		retryBaseDelay: retryDelay,
	}
}

// doRequestWithRateLimit performs a GET with pacing and automatic retry.
// HTTP 429 and 5xx responses are retried with exponential backoff
// (1s, 2s, 4s, 8s, 16s); Retry-After is honored on 429. The context is
// used for cancellation during backoff waits.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return resp, nil
		}

		// Retryable status - close body and back off
		status := resp.StatusCode
		retryAfter := resp.Header.Get("Retry-After")
		_ = resp.Body.Close()

		if status == http.StatusTooManyRequests {
			metrics.GraphRateLimitRetries.Inc()
		}

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("request failed with status %d after %d retries", status, c.maxRetries)
			break
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, 16s
		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))

		// Retry-After header wins (RFC 6585)
		if retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// getJSON performs a paced GET and decodes the response into result.
// Non-200 responses with a Graph error payload surface as *APIError.
func (c *Client) getJSON(ctx context.Context, endpoint, reqURL string, result interface{}) error {
	start := time.Now()

	resp, err := c.doRequestWithRateLimit(ctx, reqURL)
	if err != nil {
		metrics.RecordGraphRequest(endpoint, time.Since(start), "network")
		return fmt.Errorf("failed to make %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)

		// Graph errors arrive as {"error": {...}} with a 4xx status
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
			metrics.RecordGraphRequest(endpoint, time.Since(start), "client")
			return fmt.Errorf("%s request failed: %w", endpoint, wrapper.Error)
		}

		metrics.RecordGraphRequest(endpoint, time.Since(start), "client")
		return fmt.Errorf("%s request failed with status %d: %s", endpoint, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		metrics.RecordGraphRequest(endpoint, time.Since(start), "decode")
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	metrics.RecordGraphRequest(endpoint, time.Since(start), "")
	return nil
}

// collectPages fetches a list endpoint and follows paging.next until
// exhausted, decoding every page's data array into T.
func collectPages[T any](ctx context.Context, c *Client, endpoint, firstURL string) ([]T, error) {
	var out []T
	reqURL := firstURL

	for reqURL != "" {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		var env Envelope
		if err := c.getJSON(ctx, endpoint, reqURL, &env); err != nil {
			return out, err
		}
		if env.Error != nil {
			return out, fmt.Errorf("%s request failed: %w", endpoint, env.Error)
		}

		var page []T
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &page); err != nil {
				return out, fmt.Errorf("failed to decode %s page: %w", endpoint, err)
			}
		}
		out = append(out, page...)
		metrics.GraphPagesFetched.WithLabelValues(endpoint).Inc()

		reqURL = env.Paging.Next
	}

	return out, nil
}

// objectURL builds {base}/{path}?{params} with the given token applied.
func (c *Client) objectURL(path, token string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", token)
	return fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())
}

// Ping verifies connectivity and token validity against the /me endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var result struct {
		ID string `json:"id"`
	}
	reqURL := c.objectURL("me", c.accessToken, url.Values{"fields": {"id"}})
	if err := c.getJSON(ctx, "me", reqURL, &result); err != nil {
		return err
	}
	if result.ID == "" {
		return fmt.Errorf("graph ping returned no identity")
	}
	return nil
}

const postFields = "id,message,permalink_url,status_type,full_picture,created_time,updated_time"

// FetchPosts retrieves the page feed, newest first, paginated to
// exhaustion. A zero since fetches without a lower bound.
func (c *Client) FetchPosts(ctx context.Context, pageID string, since time.Time) ([]PostRecord, error) {
	params := url.Values{
		"fields": {postFields},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	if !since.IsZero() {
		params.Set("since", fmt.Sprint(since.Unix()))
	}
	reqURL := c.objectURL(pageID+"/feed", c.pageToken, params)
	return collectPages[PostRecord](ctx, c, "feed", reqURL)
}

const videoFields = "id,title,description,permalink_url,length,post_id,picture,created_time,updated_time"

// FetchVideoPosts retrieves the page's video objects.
func (c *Client) FetchVideoPosts(ctx context.Context, pageID string, since time.Time) ([]VideoRecord, error) {
	params := url.Values{
		"fields": {videoFields},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	if !since.IsZero() {
		params.Set("since", fmt.Sprint(since.Unix()))
	}
	reqURL := c.objectURL(pageID+"/videos", c.pageToken, params)
	return collectPages[VideoRecord](ctx, c, "videos", reqURL)
}

// FetchPost retrieves a single post by id. Used by the promoted-post
// backfill for ads referencing content absent from the feed window.
func (c *Client) FetchPost(ctx context.Context, postID string) (*PostRecord, error) {
	var post PostRecord
	reqURL := c.objectURL(postID, c.pageToken, url.Values{"fields": {postFields}})
	if err := c.getJSON(ctx, "post", reqURL, &post); err != nil {
		return nil, err
	}
	if post.ID == "" {
		return nil, fmt.Errorf("post %s not found", postID)
	}
	return &post, nil
}

// FetchAttachments retrieves a post's attachments edge. This is the
// classifier's most expensive layer and is only called when every
// cheaper signal has failed to classify the post.
func (c *Client) FetchAttachments(ctx context.Context, postID string) ([]AttachmentRecord, error) {
	params := url.Values{
		"fields": {"type,media,url"},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	metrics.ClassifierAttachmentFetches.Inc()
	reqURL := c.objectURL(postID+"/attachments", c.pageToken, params)
	return collectPages[AttachmentRecord](ctx, c, "attachments", reqURL)
}

// FetchPostInsights retrieves lifetime insight metrics for a post or video.
func (c *Client) FetchPostInsights(ctx context.Context, objectID string, insightMetrics []string) ([]InsightRecord, error) {
	params := url.Values{
		"metric": {strings.Join(insightMetrics, ",")},
		"period": {"lifetime"},
	}
	reqURL := c.objectURL(objectID+"/insights", c.pageToken, params)
	return collectPages[InsightRecord](ctx, c, "insights", reqURL)
}

const adFields = "id,name,status,effective_status,adset_id,campaign_id,updated_time," +
	"creative{id,video_id,effective_object_story_id,object_story_id}"

// FetchAdsUpdatedSince retrieves the account's ads changed after since,
// filtered server-side on ad.updated_time so unchanged ads never cross
// the wire. A zero since fetches all ads.
func (c *Client) FetchAdsUpdatedSince(ctx context.Context, accountID string, since time.Time) ([]AdRecord, error) {
	params := url.Values{
		"fields": {adFields},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	if !since.IsZero() {
		filtering, err := json.Marshal([]map[string]interface{}{{
			"field":    "ad.updated_time",
			"operator": "GREATER_THAN",
			"value":    since.Unix(),
		}})
		if err != nil {
			return nil, fmt.Errorf("failed to build filtering param: %w", err)
		}
		params.Set("filtering", string(filtering))
	}
	reqURL := c.objectURL(accountID+"/ads", c.accessToken, params)
	return collectPages[AdRecord](ctx, c, "ads", reqURL)
}

// FetchCampaigns retrieves the account's campaigns.
func (c *Client) FetchCampaigns(ctx context.Context, accountID string) ([]CampaignRecord, error) {
	params := url.Values{
		"fields": {"id,name,objective,status,daily_budget,start_time,stop_time,created_time,updated_time"},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	reqURL := c.objectURL(accountID+"/campaigns", c.accessToken, params)
	return collectPages[CampaignRecord](ctx, c, "campaigns", reqURL)
}

// FetchAdSets retrieves the account's ad sets.
func (c *Client) FetchAdSets(ctx context.Context, accountID string) ([]AdSetRecord, error) {
	params := url.Values{
		"fields": {"id,name,status,campaign_id,optimization_goal,daily_budget,updated_time"},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	reqURL := c.objectURL(accountID+"/adsets", c.accessToken, params)
	return collectPages[AdSetRecord](ctx, c, "adsets", reqURL)
}

// FetchAdAccounts retrieves the ad accounts visible to the token.
func (c *Client) FetchAdAccounts(ctx context.Context) ([]AdAccountRecord, error) {
	params := url.Values{
		"fields": {"id,account_id,name,currency,account_status"},
		"limit":  {fmt.Sprint(pageLimit)},
	}
	reqURL := c.objectURL("me/adaccounts", c.accessToken, params)
	return collectPages[AdAccountRecord](ctx, c, "adaccounts", reqURL)
}

// FetchAdInsights retrieves ad-level daily delivery metrics for the
// account over [dateStart, dateStop] (YYYY-MM-DD, inclusive).
func (c *Client) FetchAdInsights(ctx context.Context, accountID, dateStart, dateStop string) ([]AdInsightRecord, error) {
	timeRange, err := json.Marshal(map[string]string{"since": dateStart, "until": dateStop})
	if err != nil {
		return nil, fmt.Errorf("failed to build time_range param: %w", err)
	}
	params := url.Values{
		"fields":         {"ad_id,impressions,reach,clicks,spend,actions"},
		"level":          {"ad"},
		"time_range":     {string(timeRange)},
		"time_increment": {"1"},
		"limit":          {fmt.Sprint(pageLimit)},
	}
	reqURL := c.objectURL(accountID+"/insights", c.accessToken, params)
	return collectPages[AdInsightRecord](ctx, c, "ad_insights", reqURL)
}
