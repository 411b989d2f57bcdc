// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package sync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kittipatv/pagesync/internal/metrics"
)

// Per-record outcomes reported into RunStats.
const (
	OutcomeNew       = "new"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Counters tallies outcomes for one entity kind within a run.
type Counters struct {
	Fetched   int64 `json:"fetched"`
	New       int64 `json:"new"`
	Updated   int64 `json:"updated"`
	Unchanged int64 `json:"unchanged"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

// RunStats accumulates per-kind counters during a sync run. Safe for
// concurrent use; the media workers report into it alongside the main
// loop. Counts stay accurate if the run terminates mid-batch.
type RunStats struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	kinds     map[string]*Counters
}

// NewRunStats creates an empty tally with a fresh run id.
func NewRunStats() *RunStats {
	return &RunStats{
		runID:     uuid.NewString(),
		startedAt: time.Now(),
		kinds:     make(map[string]*Counters),
	}
}

// RunID returns the run's correlation id.
func (s *RunStats) RunID() string {
	return s.runID
}

func (s *RunStats) counters(kind string) *Counters {
	c, ok := s.kinds[kind]
	if !ok {
		c = &Counters{}
		s.kinds[kind] = c
	}
	return c
}

// Fetched adds n to the fetched tally for kind.
func (s *RunStats) Fetched(kind string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(kind).Fetched += int64(n)
}

// Record tallies one per-record outcome and mirrors it to Prometheus.
func (s *RunStats) Record(kind, outcome string) {
	s.mu.Lock()
	c := s.counters(kind)
	switch outcome {
	case OutcomeNew:
		c.New++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeUnchanged:
		c.Unchanged++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeError:
		c.Errors++
	}
	s.mu.Unlock()

	metrics.RecordSyncOutcome(kind, outcome)
}

// RecordN tallies n identical outcomes at once (batch passes).
func (s *RunStats) RecordN(kind, outcome string, n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	c := s.counters(kind)
	switch outcome {
	case OutcomeNew:
		c.New += n
	case OutcomeUpdated:
		c.Updated += n
	case OutcomeUnchanged:
		c.Unchanged += n
	case OutcomeSkipped:
		c.Skipped += n
	case OutcomeError:
		c.Errors += n
	}
	s.mu.Unlock()

	metrics.SyncRecordsProcessed.WithLabelValues(kind, outcome).Add(float64(n))
}

// Summary is an immutable end-of-run snapshot.
type Summary struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Kinds      map[string]Counters `json:"kinds"`
}

// Summary snapshots the current tallies. Callable at any point, including
// after an interrupted run.
func (s *RunStats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make(map[string]Counters, len(s.kinds))
	for kind, c := range s.kinds {
		kinds[kind] = *c
	}
	return Summary{
		RunID:      s.runID,
		StartedAt:  s.startedAt,
		FinishedAt: time.Now(),
		Kinds:      kinds,
	}
}

// Totals sums the counters across all kinds.
func (s Summary) Totals() Counters {
	var t Counters
	for _, c := range s.Kinds {
		t.Fetched += c.Fetched
		t.New += c.New
		t.Updated += c.Updated
		t.Unchanged += c.Unchanged
		t.Skipped += c.Skipped
		t.Errors += c.Errors
	}
	return t
}

// String renders a one-line-per-kind report for the --show-stats output.
func (s Summary) String() string {
	kinds := make([]string, 0, len(s.Kinds))
	for kind := range s.Kinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var b strings.Builder
	fmt.Fprintf(&b, "sync run %s (%s):\n", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, kind := range kinds {
		c := s.Kinds[kind]
		fmt.Fprintf(&b, "  %-14s fetched=%-5d new=%-5d updated=%-5d unchanged=%-5d skipped=%-5d errors=%d\n",
			kind, c.Fetched, c.New, c.Updated, c.Unchanged, c.Skipped, c.Errors)
	}
	t := s.Totals()
	fmt.Fprintf(&b, "  %-14s fetched=%-5d new=%-5d updated=%-5d unchanged=%-5d skipped=%-5d errors=%d",
		"total", t.Fetched, t.New, t.Updated, t.Unchanged, t.Skipped, t.Errors)
	return b.String()
}
