// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Stateless and safe for
// concurrent use.
var validate = validator.New()

// Validate checks that required configuration is present and valid.
// Struct tags cover range and format checks; the targeted checks below
// produce operator-friendly messages naming the environment variable
// to fix.
func (c *Config) Validate() error {
	if err := c.validateGraph(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// validateGraph validates Graph API configuration.
func (c *Config) validateGraph() error {
	if c.Graph.AccessToken == "" {
		return fmt.Errorf("GRAPH_ACCESS_TOKEN is required")
	}

	if len(c.Graph.PageIDs) == 0 && len(c.Graph.AdAccountIDs) == 0 {
		return fmt.Errorf("at least one of GRAPH_PAGE_IDS or GRAPH_AD_ACCOUNT_IDS must be set")
	}

	for _, id := range c.Graph.PageIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("GRAPH_PAGE_IDS contains an empty entry")
		}
	}
	for _, id := range c.Graph.AdAccountIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("GRAPH_AD_ACCOUNT_IDS contains an empty entry")
		}
	}

	return nil
}

// validateSync validates sync engine configuration.
func (c *Config) validateSync() error {
	if c.Sync.WatermarkBuffer < 0 {
		return fmt.Errorf("SYNC_WATERMARK_BUFFER must not be negative")
	}
	if c.Sync.BackfillWindow <= 0 {
		return fmt.Errorf("SYNC_BACKFILL_WINDOW must be positive")
	}
	return nil
}

// PageToken returns the token to use for page-level (feed, video, insight)
// endpoints, falling back to the ad-account token when no dedicated page
// token is configured.
func (c *Config) PageToken() string {
	if c.Graph.PageAccessToken != "" {
		return c.Graph.PageAccessToken
	}
	return c.Graph.AccessToken
}

// NormalizedAdAccountIDs returns the configured ad account ids with the
// Graph "act_" prefix applied where missing.
func (c *Config) NormalizedAdAccountIDs() []string {
	out := make([]string, 0, len(c.Graph.AdAccountIDs))
	for _, id := range c.Graph.AdAccountIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !strings.HasPrefix(id, "act_") {
			id = "act_" + id
		}
		out = append(out, id)
	}
	return out
}
