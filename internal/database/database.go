// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

// Package database provides the DuckDB persistence layer for PageSync.
//
// All writes go through upserts keyed on stable remote identifiers, so
// re-running a sync never duplicates rows. Locally-enriched columns
// (promoted_post_id on ads, thumbnail_media_id on content) merge with
// COALESCE semantics: an absent incoming value never erases a stored one.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/metrics"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// now is injectable for deterministic timestamp tests
	now func() time.Time
}

// New creates a new database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for the database file
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
		now:  time.Now,
	}

	db.configureConnectionPool()

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// NewInMemory opens an in-memory database with the full schema. Test use.
func NewInMemory() (*DB, error) {
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db := &DB{
		conn: conn,
		cfg:  &config.DatabaseConfig{Path: ":memory:"},
		now:  time.Now,
	}
	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, err
	}
	return db, nil
}

// configureConnectionPool applies pool settings suited to DuckDB's
// single-file embedded model.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initialize creates tables and indexes.
func (db *DB) initialize() error {
	if err := db.createTables(); err != nil {
		return err
	}
	return db.createIndexes()
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// closeQuietly closes a connection ignoring errors, for cleanup paths
// where the original error is the one worth reporting.
func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database connection during cleanup")
	}
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "cannot update a table that has been altered")
}

// execWithRetry runs a write statement, retrying exactly once on a
// transient transaction conflict. Any other failure, or a second
// conflict, is returned to the caller so the record can be skipped
// without aborting the batch.
func (db *DB) execWithRetry(ctx context.Context, table, query string, args ...interface{}) error {
	start := db.now()
	_, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil && isTransactionConflict(err) {
		metrics.DBUpsertRetries.WithLabelValues(table).Inc()
		logging.Debug().Str("table", table).Msg("Transaction conflict, retrying upsert once")

		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err = db.conn.ExecContext(ctx, query, args...)
	}
	metrics.RecordDBQuery("upsert", table, time.Since(start), err)
	return err
}

// rowExists reports whether a single-key lookup matches a row.
func (db *DB) rowExists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// maxTimestamp runs a MAX() watermark query, reporting found=false when
// the owner has no rows yet. Query errors propagate: the caller must
// never fall back to an unbounded fetch on a storage failure.
func (db *DB) maxTimestamp(ctx context.Context, query string, args ...interface{}) (time.Time, bool, error) {
	var ts sql.NullTime
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time, true, nil
}
