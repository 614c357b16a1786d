// Package cookiestore persists a warm-start cache of each database's sync
// cookie to a local SQLite file, so a restart doesn't have to rediscover
// state purely from the directory. It is never authoritative: the Cookie
// State (internal/cookie) always treats the directory's own contextCSN
// (or equivalent) as the source of truth and only consults this store
// when the directory read fails.
package cookiestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

const walJournalSizeLimit = 67108864 // 64 MiB

// ErrNotFound is returned by Get when no cookie has been persisted yet
// for the given database.
var ErrNotFound = errors.New("cookiestore: no cookie stored")

// Store is a SQLite-backed cache of (database -> raw cookie string).
type Store struct {
	db *sql.DB
	logger *slog.Logger

	getStmt *sql.Stmt
	saveStmt *sql.Stmt
	lastUpdatedStmt *sql.Stmt
}

// Open opens (creating if necessary) the SQLite database at path, applies
// migrations, and prepares statements. Use ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening cookie store", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cookiestore: open: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if s.getStmt, err = db.PrepareContext(ctx, `SELECT raw_cookie FROM cookies WHERE database = ?`); err != nil {
		db.Close()

		return nil, fmt.Errorf("cookiestore: prepare get: %w", err)
	}

	if s.saveStmt, err = db.PrepareContext(ctx, `
		INSERT INTO cookies (database, rid, raw_cookie, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(database) DO UPDATE SET
		rid = excluded.rid,
		raw_cookie = excluded.raw_cookie,
		updated_at = CURRENT_TIMESTAMP
		`); err != nil {
		db.Close()

		return nil, fmt.Errorf("cookiestore: prepare save: %w", err)
	}

	if s.lastUpdatedStmt, err = db.PrepareContext(ctx, `SELECT updated_at FROM cookies WHERE database = ?`); err != nil {
		db.Close()

		return nil, fmt.Errorf("cookiestore: prepare last updated: %w", err)
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("cookiestore: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// Get returns the last persisted raw cookie string for database, or
// ErrNotFound if none has been saved.
func (s *Store) Get(ctx context.Context, database string) (string, error) {
	var raw string

	err := s.getStmt.QueryRowContext(ctx, database).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("cookiestore: get %s: %w", database, err)
	}

	return raw, nil
}

// LastUpdated returns when database's cookie was last saved, or
// ErrNotFound if none has been saved yet.
func (s *Store) LastUpdated(ctx context.Context, database string) (time.Time, error) {
	var t time.Time

	err := s.lastUpdatedStmt.QueryRowContext(ctx, database).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("cookiestore: last updated %s: %w", database, err)
	}

	return t, nil
}

// Save upserts the raw cookie string for database.
func (s *Store) Save(ctx context.Context, database string, rid int32, rawCookie string) error {
	if _, err := s.saveStmt.ExecContext(ctx, database, rid, rawCookie); err != nil {
		return fmt.Errorf("cookiestore: save %s: %w", database, err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
