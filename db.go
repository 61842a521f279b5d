// db.go
//
// Database helpers for the Solbombs relay server.
// Responsibilities:
//   - Opening SQLite database with safe defaults (WAL, busy timeout, foreign keys).
//   - Applying the embedded schema migrations (idempotent, recorded in _migrations).
//
// Note: This file assumes SQLite but can be adapted for other backends.

package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

/**
 * openDB opens (and creates if missing) a SQLite database file.
 *
 * - Ensures parent directory exists for relative DSNs (e.g. ./data/app.db).
 * - Configures busy timeout and WAL journaling mode.
 * - Enforces foreign keys.
 *
 * @param dsn Database path or DSN string.
 * @returns *sql.DB ready for queries/migrations.
 */
func openDB(dsn string) (*sql.DB, error) {
	// Ensure directory exists for ./data/app.db, etc.
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// Open DB with busy timeout and WAL journaling.
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// Explicitly enforce foreign keys + WAL.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// migrations are applied in order and recorded by name; re-running the server
// skips anything already applied.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "001_settlements",
		sql: `
        CREATE TABLE IF NOT EXISTS settlements (
            match_id        TEXT PRIMARY KEY,
            wallet          TEXT NOT NULL,
            joiner_wallet   TEXT,
            wager_lamports  INTEGER NOT NULL,
            bomb_count      INTEGER NOT NULL,
            status          TEXT NOT NULL,
            payout_lamports INTEGER,
            multiplier_bps  INTEGER,
            winner          TEXT,
            created_at      TEXT NOT NULL,
            settled_at      TEXT
        );
        CREATE INDEX IF NOT EXISTS idx_settlements_wallet ON settlements(wallet);`,
	},
	{
		name: "002_settlement_audit",
		sql: `
        CREATE TABLE IF NOT EXISTS settlement_audit (
            match_id        TEXT PRIMARY KEY,
            mode            TEXT NOT NULL,
            wallet          TEXT NOT NULL,
            wager_lamports  INTEGER NOT NULL,
            payout_lamports INTEGER NOT NULL DEFAULT 0,
            multiplier_bps  INTEGER NOT NULL DEFAULT 0,
            winner          TEXT,
            server_seed     TEXT,
            client_seed     TEXT,
            nonce           INTEGER,
            created_at      TEXT NOT NULL
        );`,
	},
	{
		name: "003_profiles",
		sql: `
        CREATE TABLE IF NOT EXISTS profiles (
            wallet      TEXT PRIMARY KEY,
            client_seed TEXT NOT NULL,
            updated_at  TEXT NOT NULL
        );`,
	},
}

/**
 * migrate applies the embedded schema migrations.
 *
 * - Uses a _migrations table to track applied entries.
 * - Each migration runs inside its own transaction.
 * - Skips if already applied.
 */
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	for _, m := range migrations {
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, m.name).Scan(&done)
		if err == nil {
			log.Info().Str("migration", m.name).Msg("already applied")
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("query _migrations: %w", err)
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.name, err)
		}
		log.Info().Str("migration", m.name).Msg("applied")
	}
	return nil
}
