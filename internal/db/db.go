package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/errors"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Logical collection names.
const (
	Recordings   = "recordings"
	VoiceSamples = "voiceSamples"
	Settings     = "settings"
	DeviceToken  = "deviceToken"
)

// tables maps each logical collection to its SQLite table.
var tables = map[string]string{
	Recordings:   "recordings",
	VoiceSamples: "voice_samples",
	Settings:     "settings",
	DeviceToken:  "device_token",
}

// Record is one row of a collection. Doc is the JSON metadata; Blob holds
// binary payloads (ciphertext, sample audio) and may be nil.
type Record struct {
	ID        string
	Doc       []byte
	Blob      []byte
	UpdatedAt int64
}

// Store is the durable on-device record store.
type Store struct {
	db          *sql.DB
	path        string
	initialized atomic.Bool
	locks       map[string]*sync.Mutex
}

// Init opens the store at baseDir/echocap.db, creating baseDir and
// baseDir/exports if needed. The schema is not touched until Initialize.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.echocap.
func Init(baseDir string) (*Store, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// synchronous(FULL) makes a committed Put survive power loss under WAL.
	dbPath := filepath.Join(baseDir, "echocap.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	locks := make(map[string]*sync.Mutex, len(tables))
	for name := range tables {
		locks[name] = &sync.Mutex{}
	}

	return &Store{db: db, path: dbPath, locks: locks}, nil
}

// Open is Init followed by Initialize.
func Open(ctx context.Context, baseDir string) (*Store, error) {
	s, err := Init(baseDir)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Initialize verifies the journal mode and applies migrations. It is
// idempotent. Every other Store operation fails with NOT_INITIALIZED until
// it has succeeded once.
func (s *Store) Initialize(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}

	if err := verifyWALMode(ctx, s.db); err != nil {
		return errors.NewStorage("initialize", "store", err)
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(ctx, s.db); err != nil {
		return errors.NewStorage("initialize", "store", err)
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(s.path, 0600)

	s.initialized.Store(true)
	return nil
}

// Close releases the database. The Store is unusable afterwards.
func (s *Store) Close() error {
	s.initialized.Store(false)
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(s *Store, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		s.db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		s.db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// Put inserts or replaces one record. It is durable when it returns nil.
func (s *Store) Put(ctx context.Context, collection string, rec Record) error {
	table, err := s.table("put", collection)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.NewInvalidRequest("record id is required")
	}
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = time.Now().UnixMilli()
	}

	mu := s.locks[collection]
	mu.Lock()
	defer mu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, doc, blob, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			blob = excluded.blob,
			updated_at = excluded.updated_at
	`, table)

	return s.inTx(ctx, "put", collection, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, rec.ID, string(rec.Doc), rec.Blob, rec.UpdatedAt)
		return err
	})
}

// Get returns one record or NOT_FOUND.
func (s *Store) Get(ctx context.Context, collection, id string) (*Record, error) {
	table, err := s.table("get", collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, doc, blob, updated_at FROM %s WHERE id = ?`, table)

	var rec Record
	var doc string
	err = s.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &doc, &rec.Blob, &rec.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound(collection, id)
		}
		return nil, storageErr(ctx, "get", collection, err)
	}
	rec.Doc = []byte(doc)
	return &rec, nil
}

// GetAll returns every record in the collection ordered by id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	return s.scan(ctx, "getAll", collection, true)
}

// Docs is GetAll without blobs, for listings that only need metadata.
func (s *Store) Docs(ctx context.Context, collection string) ([]Record, error) {
	return s.scan(ctx, "docs", collection, false)
}

// Delete removes one record or returns NOT_FOUND.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	table, err := s.table("delete", collection)
	if err != nil {
		return err
	}

	mu := s.locks[collection]
	mu.Lock()
	defer mu.Unlock()

	return s.inTx(ctx, "delete", collection, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NewNotFound(collection, id)
		}
		return nil
	})
}

// Clear removes every record in the collection and returns how many were removed.
func (s *Store) Clear(ctx context.Context, collection string) (int, error) {
	table, err := s.table("clear", collection)
	if err != nil {
		return 0, err
	}

	mu := s.locks[collection]
	mu.Lock()
	defer mu.Unlock()

	var n int64
	err = s.inTx(ctx, "clear", collection, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table))
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *Store) scan(ctx context.Context, op, collection string, withBlob bool) ([]Record, error) {
	table, err := s.table(op, collection)
	if err != nil {
		return nil, err
	}

	cols := "id, doc, NULL, updated_at"
	if withBlob {
		cols = "id, doc, blob, updated_at"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, cols, table))
	if err != nil {
		return nil, storageErr(ctx, op, collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var doc string
		if err := rows.Scan(&rec.ID, &doc, &rec.Blob, &rec.UpdatedAt); err != nil {
			return nil, storageErr(ctx, op, collection, err)
		}
		rec.Doc = []byte(doc)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(ctx, op, collection, err)
	}
	return out, nil
}

// table checks initialization and resolves a collection name.
func (s *Store) table(op, collection string) (string, error) {
	if !s.initialized.Load() {
		return "", errors.NewNotInitialized(op)
	}
	table, ok := tables[collection]
	if !ok {
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown collection: %s", collection))
	}
	return table, nil
}

// inTx runs fn in one transaction, rolling back on any error. EchoErrors
// returned by fn pass through unchanged; everything else is STORAGE_ERROR.
func (s *Store) inTx(ctx context.Context, op, collection string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(ctx, op, collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return storageErr(ctx, op, collection, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(ctx, op, collection, err)
	}
	return nil
}

func storageErr(ctx context.Context, op, collection string, err error) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(op + " " + collection)
	}
	return errors.NewStorage(op, collection, err)
}

// migrate applies schema migrations based on user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: one table per collection
	if version < 1 {
		var schema string
		for _, table := range []string{"recordings", "voice_samples", "settings", "device_token"} {
			schema += fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
			  id         TEXT PRIMARY KEY,
			  doc        TEXT NOT NULL,
			  blob       BLOB,
			  updated_at INTEGER NOT NULL
			);
			`, table)
		}
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(ctx context.Context, db *sql.DB) error {
	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
