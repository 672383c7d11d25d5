// Package sqlite is the on-disk Store Handle: one SQLite file per store,
// opened once per process.
//
// # Database Configuration
//
//   - WAL mode: readers proceed while the single writer commits
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks held by other processes
//   - one open connection: SQLite has one writer, so the pool has one too
//
// # Recovery
//
// If the file is damaged (SQLITE_CORRUPT, SQLITE_NOTADB, a failed quick_check
// or an unsupported schema version) the store is destroyed and recreated
// exactly once. The data loss is logged at WARN with the cause; it is never
// silent. A second failure is reported as UnrecoverableCorruption.
//
// Every other failure (a lock held past busy_timeout, permissions, a full or
// read-only disk) is an IOFailure and leaves the files alone.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/graphstore/internal/logging"
	"github.com/roach88/graphstore/internal/storage"
)

// Schema version tracking:
// 1 - objects and commits tables
const currentSchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS commits (
	seq      INTEGER PRIMARY KEY,
	digest   TEXT    NOT NULL,
	inserted INTEGER NOT NULL,
	updated  INTEGER NOT NULL,
	deleted  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS objects (
	entity  TEXT    NOT NULL,
	key     TEXT    NOT NULL,
	props   TEXT    NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (entity, key)
);

CREATE INDEX IF NOT EXISTS idx_objects_entity_version ON objects(entity, version, key);
`

// busyTimeoutMillis is how long a connection waits on another writer's lock.
const busyTimeoutMillis = 5000

// errDamaged marks open failures caused by the file's contents.
var errDamaged = errors.New("store file is damaged")

// Handle is an open store file. It implements storage.Backend.
type Handle struct {
	db        *sql.DB
	cfg       storage.Config
	path      string
	recovered bool
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ storage.Backend = (*Handle)(nil)

// Option configures Open.
type Option func(*options)

type options struct {
	logger *slog.Logger
	open   func(path string) (*sql.DB, error)
}

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// withOpener replaces the database opener. Tests use it to force failures.
func withOpener(open func(path string) (*sql.DB, error)) Option {
	return func(o *options) {
		o.open = open
	}
}

// Open opens or creates the store described by cfg.
//
// Errors are *storage.OpenError:
//   - InvalidConfig: cfg fails Validate
//   - IOFailure: the directory cannot be created, the file is locked or not
//     accessible, or a damaged file cannot be removed
//   - UnrecoverableCorruption: the store failed to open twice, before and after recovery
func Open(cfg storage.Config, opts ...Option) (*Handle, error) {
	o := options{open: openDB}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Default(o.logger).With("component", "store", "store", cfg.Name)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, &storage.OpenError{
			Kind:    storage.OpenIOFailure,
			Message: "create store directory",
			Path:    cfg.Directory,
			Err:     err,
		}
	}

	path := cfg.Path()
	db, err := o.open(path)
	if err == nil {
		logger.Info("store opened", "path", path)
		return &Handle{db: db, cfg: cfg, path: path, logger: logger}, nil
	}
	if !isDamaged(err) {
		logger.Error("store failed to open", "path", path, "error", err)
		return nil, &storage.OpenError{
			Kind:    storage.OpenIOFailure,
			Message: "open store",
			Path:    path,
			Err:     err,
		}
	}

	logger.Warn("store failed to open, destroying and recreating it; existing data is lost",
		"path", path, "error", err)

	if rmErr := removeStoreFiles(path); rmErr != nil {
		return nil, &storage.OpenError{
			Kind:    storage.OpenIOFailure,
			Message: "remove damaged store",
			Path:    path,
			Err:     errors.Join(err, rmErr),
		}
	}

	db, err = o.open(path)
	if err != nil {
		logger.Error("store recovery failed", "path", path, "error", err)
		return nil, &storage.OpenError{
			Kind:    storage.OpenUnrecoverableCorruption,
			Message: "store could not be recreated",
			Path:    path,
			Err:     err,
		}
	}

	logger.Warn("store recreated", "path", path)
	return &Handle{db: db, cfg: cfg, path: path, recovered: true, logger: logger}, nil
}

// isDamaged reports whether an open failure justifies destroying the store.
func isDamaged(err error) bool {
	if errors.Is(err, errDamaged) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB
	}
	return false
}

// openDB opens path, applies pragmas and schema and checks integrity.
// The busy timeout is part of the DSN so it covers the very first statement.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=%d", path, busyTimeoutMillis))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := checkIntegrity(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// applyPragmas configures the connection. The journal mode is only switched
// when it differs, so reopening a store another process is writing to does
// not need the write lock.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("get journal_mode: %w", err)
	}
	if mode != "wal" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			return fmt.Errorf("set journal_mode: %w", err)
		}
	}
	return nil
}

// applySchema creates tables on a new or older store. A store already at
// the current version is left untouched.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: schema version %d is newer than supported version %d", errDamaged, version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func checkIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", errDamaged, result)
	}
	return nil
}

// removeStoreFiles deletes the store file and its WAL companions.
func removeStoreFiles(path string) error {
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Path returns the store file path.
func (h *Handle) Path() string {
	return h.path
}

// Dir returns the directory holding the store file.
func (h *Handle) Dir() string {
	return filepath.Dir(h.path)
}

// Config returns the configuration the store was opened with.
func (h *Handle) Config() storage.Config {
	return h.cfg
}

// Recovered reports whether Open destroyed and recreated the store.
func (h *Handle) Recovered() bool {
	return h.recovered
}

// Close closes the database. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.logger.Info("store closed", "path", h.path)
	return h.db.Close()
}

// use runs fn under the read lock unless the handle is closed.
func (h *Handle) use(fn func() error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return storage.ErrClosed
	}
	return fn()
}

// Stats summarizes the store contents.
type Stats struct {
	Commits  int64
	LastSeq  int64
	Entities map[string]int
}

// Stats counts commits and objects per entity.
func (h *Handle) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Entities: make(map[string]int)}
	err := h.use(func() error {
		if err := h.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM commits`,
		).Scan(&st.Commits, &st.LastSeq); err != nil {
			return fmt.Errorf("count commits: %w", err)
		}

		rows, err := h.db.QueryContext(ctx,
			`SELECT entity, COUNT(*) FROM objects GROUP BY entity ORDER BY entity`)
		if err != nil {
			return fmt.Errorf("count objects: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var entity string
			var n int
			if err := rows.Scan(&entity, &n); err != nil {
				return fmt.Errorf("scan object count: %w", err)
			}
			st.Entities[entity] = n
		}
		return rows.Err()
	})
	return st, err
}
