// ABOUTME: SQLite implementation of the provisioning ledger using modernc.org/sqlite
// ABOUTME: Creates the schema on open and keeps the database in WAL mode

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists provisioning requests.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS requests (
			request_id   TEXT PRIMARY KEY,
			room         TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			customer     TEXT NOT NULL DEFAULT '',
			guest_id     INTEGER NOT NULL DEFAULT 0,
			memory_mb    INTEGER NOT NULL DEFAULT 0,
			cores        INTEGER NOT NULL DEFAULT 0,
			disk         TEXT NOT NULL DEFAULT '',
			state        TEXT NOT NULL,
			exit_status  INTEGER,
			error        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			completed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester_id);
		CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
