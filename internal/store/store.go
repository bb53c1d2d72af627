// Package store provides the embedded relational persistence layer for
// AppItem, DownloadItem, and WingmanItem records (§4.1). It uses the pure-Go
// modernc.org/sqlite driver in WAL mode so reads and writes can proceed
// concurrently from the several goroutines that make up the control plane.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/wingman-run/wingman/internal/domain"
)

// Store is the durable backing store shared by every service in the
// control plane. Services hold a handle to Store; their own mutable state
// is limited to run flags and the handle of the row or child in flight
// (§3, Ownership).
type Store struct {
	db *sql.DB

	App      *AppRepo
	Download *DownloadRepo
	Wingman  *WingmanRepo
}

// Open creates or opens the SQLite database at dir/wingman.db, enabling
// WAL mode and a busy timeout so transient lock contention is retried by
// the driver instead of surfacing as an error (§4.1, Concurrency).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStoreUnavailable, err)
	}

	dbPath := filepath.Join(dir, "wingman.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	// SQLite is single-writer; serialize through one connection so the
	// busy-timeout retry above is meaningful instead of racing writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.App = &AppRepo{db: db}
	s.Download = &DownloadRepo{db: db}
	s.Wingman = &WingmanRepo{db: db}

	return s, nil
}

// Close cleanly shuts down the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks database connectivity.
func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS app (
			name    TEXT NOT NULL,
			key     TEXT NOT NULL DEFAULT 'default',
			value   TEXT NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			PRIMARY KEY (name, key)
		)`,
		`CREATE TABLE IF NOT EXISTS downloads (
			model_repo       TEXT NOT NULL,
			file_path        TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'idle',
			total_bytes      INTEGER NOT NULL DEFAULT 0,
			downloaded_bytes INTEGER NOT NULL DEFAULT 0,
			download_speed   TEXT NOT NULL DEFAULT '',
			progress         REAL NOT NULL DEFAULT 0,
			error            TEXT NOT NULL DEFAULT '',
			metadata         TEXT NOT NULL DEFAULT '',
			created          INTEGER NOT NULL,
			updated          INTEGER NOT NULL,
			PRIMARY KEY (model_repo, file_path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_downloads_status_created ON downloads(status, created)`,
		`CREATE TABLE IF NOT EXISTS wingman (
			alias        TEXT PRIMARY KEY,
			status       TEXT NOT NULL DEFAULT 'queued',
			model_repo   TEXT NOT NULL DEFAULT '',
			file_path    TEXT NOT NULL DEFAULT '',
			address      TEXT NOT NULL DEFAULT 'localhost',
			port         INTEGER NOT NULL DEFAULT 6567,
			context_size INTEGER NOT NULL DEFAULT 0,
			gpu_layers   INTEGER NOT NULL DEFAULT -1,
			force        BOOLEAN NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT '',
			created      INTEGER NOT NULL,
			updated      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wingman_status_created ON wingman(status, created)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("%w: migration failed: %v\nSQL: %s", domain.ErrSchemaMismatch, err, m)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
