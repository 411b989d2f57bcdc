// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns a config that passes validation, for tests to break
// one field at a time.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Graph.AccessToken = "EAAtesttoken"
	cfg.Graph.PageIDs = []string{"111"}
	return cfg
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_MissingAccessToken(t *testing.T) {
	cfg := validConfig()
	cfg.Graph.AccessToken = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing access token")
	}
	if !strings.Contains(err.Error(), "GRAPH_ACCESS_TOKEN") {
		t.Errorf("error should name the env var: %v", err)
	}
}

func TestValidate_NoOwners(t *testing.T) {
	cfg := validConfig()
	cfg.Graph.PageIDs = nil
	cfg.Graph.AdAccountIDs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no pages and no ad accounts configured")
	}
}

func TestValidate_NegativeBuffer(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.WatermarkBuffer = -time.Hour

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative watermark buffer")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}
}

func TestPageToken(t *testing.T) {
	cfg := validConfig()
	if got := cfg.PageToken(); got != "EAAtesttoken" {
		t.Errorf("expected fallback to access token, got %q", got)
	}

	cfg.Graph.PageAccessToken = "pagetoken"
	if got := cfg.PageToken(); got != "pagetoken" {
		t.Errorf("expected dedicated page token, got %q", got)
	}
}

func TestNormalizedAdAccountIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Graph.AdAccountIDs = []string{"123", "act_456", " 789 ", ""}

	got := cfg.NormalizedAdAccountIDs()
	want := []string{"act_123", "act_456", "act_789"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
