// Package sqlite provides the SQLite-backed store for capture logs,
// sessions, server registrations, and server health.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcpgateway/mcpgateway/internal/adapter/outbound/sqlite/migrations"
)

// Filenames inside the storage directory.
const (
	dbFileName   = "mcp-gateway.db"
	lockFileName = "gateway.lock"
)

// Store persists gateway state in a single SQLite database under the
// storage directory. An exclusive lock file serializes initialization per
// storage root and keeps a second gateway process from sharing the
// database.
type Store struct {
	db     *sql.DB
	lock   *os.File
	dir    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for import and maintenance notices.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open prepares the storage directory, takes the initialization lock,
// opens the database, applies embedded migrations, and imports any
// historical JSONL shards found next to the database.
func Open(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	s := &Store{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	lock, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockTryLock(lock.Fd()); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("storage dir %s is locked by another process: %w", dir, err)
	}
	s.lock = lock

	dsn := filepath.Join(dir, dbFileName) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		s.releaseLock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		s.releaseLock()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		s.releaseLock()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s.db = db

	if err := s.importJSONLShards(); err != nil {
		s.logger.Warn("jsonl import incomplete", "dir", dir, "error", err)
	}

	return s, nil
}

// Close closes the database and releases the storage lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var dbErr error
	if s.db != nil {
		dbErr = s.db.Close()
		s.db = nil
	}
	s.releaseLock()
	return dbErr
}

// Dir returns the storage directory this store is bound to.
func (s *Store) Dir() string {
	return s.dir
}

// Ping verifies the database connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) releaseLock() {
	if s.lock == nil {
		return
	}
	_ = flockUnlock(s.lock.Fd())
	_ = s.lock.Close()
	s.lock = nil
}
