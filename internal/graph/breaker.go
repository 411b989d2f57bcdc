// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/metrics"
)

// CircuitBreakerClient wraps Client with the circuit breaker pattern,
// preventing cascading failures when the Graph API is unavailable or slow.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. Tests should mock the underlying client rather
// than the breaker; the timing governs recovery, not data integrity.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates a Graph client with circuit breaker.
// Circuit breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(cfg *config.Config) *CircuitBreakerClient {
	client := NewClient(cfg)
	cbName := "graph-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false // need statistical significance
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps a Graph API call with circuit breaker protection.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Ping verifies connectivity with circuit breaker protection.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// FetchPosts retrieves the page feed with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchPosts(ctx context.Context, pageID string, since time.Time) ([]PostRecord, error) {
	return castResult[[]PostRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchPosts(ctx, pageID, since)
	}))
}

// FetchVideoPosts retrieves page videos with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchVideoPosts(ctx context.Context, pageID string, since time.Time) ([]VideoRecord, error) {
	return castResult[[]VideoRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchVideoPosts(ctx, pageID, since)
	}))
}

// FetchPost retrieves a single post with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchPost(ctx context.Context, postID string) (*PostRecord, error) {
	return castResult[*PostRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchPost(ctx, postID)
	}))
}

// FetchAttachments retrieves post attachments with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchAttachments(ctx context.Context, postID string) ([]AttachmentRecord, error) {
	return castResult[[]AttachmentRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchAttachments(ctx, postID)
	}))
}

// FetchPostInsights retrieves content insights with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchPostInsights(ctx context.Context, objectID string, insightMetrics []string) ([]InsightRecord, error) {
	return castResult[[]InsightRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchPostInsights(ctx, objectID, insightMetrics)
	}))
}

// FetchAdsUpdatedSince retrieves changed ads with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchAdsUpdatedSince(ctx context.Context, accountID string, since time.Time) ([]AdRecord, error) {
	return castResult[[]AdRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchAdsUpdatedSince(ctx, accountID, since)
	}))
}

// FetchCampaigns retrieves campaigns with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchCampaigns(ctx context.Context, accountID string) ([]CampaignRecord, error) {
	return castResult[[]CampaignRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchCampaigns(ctx, accountID)
	}))
}

// FetchAdSets retrieves ad sets with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchAdSets(ctx context.Context, accountID string) ([]AdSetRecord, error) {
	return castResult[[]AdSetRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchAdSets(ctx, accountID)
	}))
}

// FetchAdAccounts retrieves ad accounts with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchAdAccounts(ctx context.Context) ([]AdAccountRecord, error) {
	return castResult[[]AdAccountRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchAdAccounts(ctx)
	}))
}

// FetchAdInsights retrieves ad delivery metrics with circuit breaker protection.
func (cbc *CircuitBreakerClient) FetchAdInsights(ctx context.Context, accountID, dateStart, dateStop string) ([]AdInsightRecord, error) {
	return castResult[[]AdInsightRecord](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchAdInsights(ctx, accountID, dateStart, dateStop)
	}))
}
