// Package store is the durable signal store (C9): an append-only table of
// produced signals plus the aggregate queries the service API and the scan
// orchestrator need. Grounded on the teacher's internal/database/db.go
// (pgxpool wiring, RunMigrations) and repository.go (typed Repository over
// the pool), generalized from the teacher's many trading tables down to the
// one signals table and meta table this spec's persisted layout calls for.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection and pool tuning for the signal store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig mirrors the teacher's db.Config pool defaults.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB parses cfg and opens a pool, pinging once to fail fast on a bad DSN.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse store dsn: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create store pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping store: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

const schemaVersion = 1

// RunMigrations creates the signals table and the meta table, matching
// spec.md section 6's persisted layout: one primary signals table with
// volume_clusters/passed_filters/failed_filters as JSON text, plus an
// auxiliary meta table for schema version.
func (db *DB) RunMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id               BIGSERIAL PRIMARY KEY,
			instrument       VARCHAR(6) NOT NULL,
			detected_at      TIMESTAMPTZ NOT NULL,
			signal_type      VARCHAR(10) NOT NULL,
			rsi7             DOUBLE PRECISION,
			rsi14            DOUBLE PRECISION NOT NULL,
			rsi21            DOUBLE PRECISION,
			has_rsi7         BOOLEAN NOT NULL DEFAULT FALSE,
			has_rsi21        BOOLEAN NOT NULL DEFAULT FALSE,
			volume_ratio     DOUBLE PRECISION NOT NULL,
			current_volume   DOUBLE PRECISION,
			avg_volume       DOUBLE PRECISION,
			base_level       VARCHAR(10) NOT NULL,
			final_level      VARCHAR(10) NOT NULL,
			passed_filters   TEXT NOT NULL DEFAULT '[]',
			failed_filters   TEXT NOT NULL DEFAULT '[]',
			price            DOUBLE PRECISION NOT NULL,
			atr              DOUBLE PRECISION,
			sma20            DOUBLE PRECISION,
			spread_percent   DOUBLE PRECISION NOT NULL DEFAULT 0.1,
			volume_clusters  TEXT NOT NULL DEFAULT '[]',
			cluster_summary  TEXT NOT NULL DEFAULT '',
			risk_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_level       VARCHAR(10) NOT NULL DEFAULT 'veryLow',
			risk_rsi_component        DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_volume_component     DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_volatility_component DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_interpretation TEXT NOT NULL DEFAULT '',
			interpretation   TEXT NOT NULL DEFAULT '',
			recommendation   TEXT NOT NULL DEFAULT '',
			risk_level_text  TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_instrument_detected ON signals(instrument, detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_detected ON signals(detected_at DESC)`,
		`INSERT INTO meta (key, value) VALUES ('schema_version', $1)
			ON CONFLICT (key) DO NOTHING`,
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts[:len(stmts)-1] {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, stmts[len(stmts)-1], fmt.Sprintf("%d", schemaVersion)); err != nil {
		return fmt.Errorf("seed schema version: %w", err)
	}

	return tx.Commit(ctx)
}
