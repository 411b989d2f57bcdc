// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package sync

import (
	"strings"
	"sync"
	"testing"
)

func TestRunStats_RecordAndSummary(t *testing.T) {
	s := NewRunStats()
	s.Fetched("ad", 3)
	s.Record("ad", OutcomeNew)
	s.Record("ad", OutcomeUpdated)
	s.Record("ad", OutcomeError)
	s.Record("post", OutcomeSkipped)

	sum := s.Summary()
	ad := sum.Kinds["ad"]
	if ad.Fetched != 3 || ad.New != 1 || ad.Updated != 1 || ad.Errors != 1 {
		t.Errorf("ad counters = %+v", ad)
	}
	if sum.Kinds["post"].Skipped != 1 {
		t.Errorf("post counters = %+v", sum.Kinds["post"])
	}
	if sum.RunID == "" {
		t.Error("run id missing")
	}

	totals := sum.Totals()
	if totals.Fetched != 3 || totals.New != 1 || totals.Errors != 1 || totals.Skipped != 1 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestRunStats_SummaryIsSnapshot(t *testing.T) {
	s := NewRunStats()
	s.Record("ad", OutcomeNew)

	sum := s.Summary()
	s.Record("ad", OutcomeNew)

	if sum.Kinds["ad"].New != 1 {
		t.Errorf("snapshot mutated by later records: %+v", sum.Kinds["ad"])
	}
	if s.Summary().Kinds["ad"].New != 2 {
		t.Error("live stats lost a record")
	}
}

func TestRunStats_ConcurrentRecord(t *testing.T) {
	s := NewRunStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Record("media", OutcomeUpdated)
			}
		}()
	}
	wg.Wait()

	if got := s.Summary().Kinds["media"].Updated; got != 800 {
		t.Errorf("updated = %d, want 800", got)
	}
}

func TestSummary_String(t *testing.T) {
	s := NewRunStats()
	s.Fetched("ad", 2)
	s.Record("ad", OutcomeNew)
	s.Record("ad", OutcomeUpdated)

	out := s.Summary().String()
	if !strings.Contains(out, "ad") || !strings.Contains(out, "total") {
		t.Errorf("report missing sections:\n%s", out)
	}
	if !strings.Contains(out, "new=1") {
		t.Errorf("report missing counts:\n%s", out)
	}
}
