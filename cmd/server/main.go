// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

// Package main is the entry point for the PageSync server.
//
// PageSync incrementally synchronizes social advertising data (posts,
// videos, ads, campaigns, insight snapshots and media) from a Graph-style
// HTTP API into DuckDB, reconciling organic content with the promoted
// duplicates the ad platform creates from it.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and optional config file (Koanf v2)
//  2. Database: DuckDB schema and indexes
//  3. Graph client: paced, retrying API client (circuit breaker optional)
//  4. Media store: bounded best-effort thumbnail download workers
//  5. Sync manager: watermark-driven incremental sync loop
//  6. HTTP server: health, metrics and manual trigger endpoints
//
// # Configuration
//
// Loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (GRAPH_ACCESS_TOKEN, GRAPH_PAGE_IDS, ...)
//   - Config file (config.yaml or CONFIG_PATH)
//   - Built-in defaults
//
// # Modes
//
// By default the server runs the periodic sync loop and serves HTTP.
// One-shot operation for cron-style deployments:
//
//	pagesync --once                    # single incremental run, then exit
//	pagesync --once --days-back 30     # explicit 30-day window
//	pagesync --once --all              # full refetch, no time filter
//	pagesync --once --show-stats       # print the per-kind run summary
//
// Exit code is 0 when a run completes, even with per-record errors;
// non-zero only on fatal setup failure (invalid config, storage
// unreachable).
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains,
// the sync loop stops after the in-flight run, media workers finish their
// queue, and committed upserts are left intact.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/database"
	"github.com/kittipatv/pagesync/internal/graph"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/media"
	"github.com/kittipatv/pagesync/internal/sync"
)

type cliFlags struct {
	once        bool
	all         bool
	daysBack    int
	hoursBack   int
	bufferHours int
	showStats   bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.BoolVar(&f.once, "once", false, "run a single sync and exit instead of serving")
	flag.BoolVar(&f.all, "all", false, "disable time filtering (full refetch)")
	flag.IntVar(&f.daysBack, "days-back", 0, "sync the last N days instead of the watermark")
	flag.IntVar(&f.hoursBack, "hours-back", 0, "sync the last N hours instead of the watermark")
	flag.IntVar(&f.bufferHours, "buffer-hours", -1, "override the watermark safety buffer in hours")
	flag.BoolVar(&f.showStats, "show-stats", false, "print the per-kind summary after each run")
	flag.Parse()
	return f
}

// runOptions translates window flags into sync options. Hours win over
// days when both are given (the narrower, more deliberate flag).
func (f cliFlags) runOptions(now time.Time) sync.RunOptions {
	opts := sync.RunOptions{All: f.all}
	if f.hoursBack > 0 {
		opts.Since = now.Add(-time.Duration(f.hoursBack) * time.Hour)
	} else if f.daysBack > 0 {
		opts.Since = now.AddDate(0, 0, -f.daysBack)
	}
	return opts
}

func main() {
	os.Exit(run())
}

// run holds the real main body so deferred cleanup executes before the
// process exit code is set.
func run() int {
	flags := parseFlags()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if flags.bufferHours >= 0 {
		cfg.Sync.WatermarkBuffer = time.Duration(flags.bufferHours) * time.Hour
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("pages", len(cfg.Graph.PageIDs)).
		Int("ad_accounts", len(cfg.Graph.AdAccountIDs)).
		Bool("once", flags.once).
		Msg("Starting PageSync")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Circuit breaker wraps the client so a flapping API opens the
	// circuit instead of burning the rate budget on doomed calls.
	var client graph.ClientInterface = graph.NewClient(cfg)
	if cfg.Graph.CircuitBreaker {
		client = graph.NewCircuitBreakerClient(cfg)
	}
	if err := client.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Graph API ping failed (will retry during sync)")
	}

	var mediaStore *media.Store
	if cfg.Media.Enabled {
		mediaStore = media.NewStore(db, &cfg.Media)
	}

	manager := sync.NewManager(db, client, mediaStore, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if flags.once {
		code := runOnce(ctx, manager, flags)
		if mediaStore != nil {
			mediaStore.Close()
		}
		return code
	}

	manager.Start(ctx)
	defer manager.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(manager, db),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP shutdown error")
	}
	cancel()
	return 0
}

// runOnce executes a single sync run. Per-record errors do not fail the
// process; only a fatal run error does.
func runOnce(ctx context.Context, manager *sync.Manager, flags cliFlags) int {
	summary, err := manager.RunOnce(ctx, flags.runOptions(time.Now()))
	if flags.showStats {
		fmt.Println(summary.String())
	}
	if err != nil {
		logging.Error().Err(err).Msg("Sync run failed")
		return 1
	}
	totals := summary.Totals()
	if totals.Errors > 0 {
		logging.Warn().Int64("errors", totals.Errors).Msg("Sync run completed with per-record errors")
	}
	return 0
}

func newRouter(manager *sync.Manager, db *database.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Post("/trigger", func(w http.ResponseWriter, req *http.Request) {
			// Detached from the request context so a closed connection
			// does not abort a half-finished run.
			go func() {
				if _, err := manager.RunOnce(context.Background(), sync.RunOptions{}); err != nil {
					logging.Error().Err(err).Msg("Triggered sync run failed")
				}
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			summary := manager.LastSummary()
			if summary == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed run yet"})
				return
			}
			counts, err := db.TableCounts(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"last_run": summary,
				"tables":   counts,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug().Err(err).Msg("Failed to encode response")
	}
}
