// Package database provides the PostgreSQL connection for the spin journal
// and audit trail
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates all required tables
func (db *DB) Migrate() error {
	schema := `
	-- Significant orchestration events
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		round_id VARCHAR(100),
		session_id BIGINT,
		description TEXT NOT NULL,
		data JSONB,
		component VARCHAR(100) NOT NULL
	);

	-- Settled spins
	CREATE TABLE IF NOT EXISTS spin_rounds (
		id VARCHAR(36) PRIMARY KEY,
		round_id VARCHAR(100) NOT NULL,
		session_id BIGINT NOT NULL,
		mode VARCHAR(20) NOT NULL,
		bet NUMERIC(18, 4) NOT NULL,
		effective_bet NUMERIC(18, 4) NOT NULL,
		win NUMERIC(18, 4) NOT NULL,
		tier VARCHAR(20) NOT NULL,
		fallback BOOLEAN NOT NULL DEFAULT FALSE,
		balance_after NUMERIC(18, 4) NOT NULL,
		settled_at TIMESTAMP NOT NULL
	);

	-- Operator switches
	CREATE TABLE IF NOT EXISTS system_state (
		key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by VARCHAR(100),
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_round ON audit_events(round_id);
	CREATE INDEX IF NOT EXISTS idx_spin_rounds_settled ON spin_rounds(settled_at);
	CREATE INDEX IF NOT EXISTS idx_spin_rounds_round ON spin_rounds(round_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing)
func (db *DB) Reset() error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS audit_events CASCADE;
		DROP TABLE IF EXISTS spin_rounds CASCADE;
		DROP TABLE IF EXISTS system_state CASCADE;
	`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData() error {
	_, err := db.Exec(`TRUNCATE TABLE audit_events, spin_rounds, system_state;`)
	return err
}
