// SPDX-License-Identifier: MIT

// Package sqlite implements store.Store on SQLite via the pure Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

const schemaVersion = 1

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// Store implements store.Store on a single SQLite database.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	return NewWithConfig(dbPath, DefaultConfig())
}

// NewWithConfig opens the database with explicit operational parameters.
func NewWithConfig(dbPath string, cfg Config) (*Store, error) {
	db, err := open(dbPath, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chapter store: migration failed: %w", err)
	}

	return s, nil
}

// open initializes a SQLite connection pool with mandatory PRAGMAs.
// The _pragma DSN form applies them to every pooled connection.
func open(dbPath string, cfg Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}

	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// "trigger" is a SQLite keyword, keep it quoted everywhere.
	schema := `
	CREATE TABLE IF NOT EXISTS chapter (
		cid       TEXT NOT NULL PRIMARY KEY,
		vid       TEXT NOT NULL DEFAULT '',
		"trigger" TEXT NOT NULL DEFAULT '',
		slicer    TEXT NOT NULL DEFAULT '',
		style     TEXT NOT NULL DEFAULT '',
		start     INTEGER NOT NULL DEFAULT 0,
		lang      TEXT NOT NULL DEFAULT '',
		chapter   TEXT NOT NULL DEFAULT '',
		summary   TEXT NOT NULL DEFAULT '',
		refined   INTEGER NOT NULL DEFAULT 0,
		create_ts INTEGER NOT NULL DEFAULT 0,
		update_ts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_chapter_vid ON chapter(vid);
	CREATE INDEX IF NOT EXISTS idx_chapter_trigger ON chapter("trigger");
	CREATE INDEX IF NOT EXISTS idx_chapter_create_ts ON chapter(create_ts);
	CREATE INDEX IF NOT EXISTS idx_chapter_update_ts ON chapter(update_ts);

	CREATE TABLE IF NOT EXISTS feedback (
		vid       TEXT NOT NULL PRIMARY KEY,
		good      INTEGER NOT NULL DEFAULT 0,
		bad       INTEGER NOT NULL DEFAULT 0,
		create_ts INTEGER NOT NULL DEFAULT 0,
		update_ts INTEGER NOT NULL DEFAULT 0
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}
