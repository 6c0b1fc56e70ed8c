// Package storage persists the fleet, the alert log and the history buffer
// in SQLite. The monitor writes through on an interval, so each save
// replaces the previous batch in one transaction.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const memoryPath = ":memory:"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Logger is the subset of common/logger used here.
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

var storageLogger Logger

// SetLogger sets the logger for the storage package.
func SetLogger(logger Logger) {
	storageLogger = logger
}

// SQLiteStore is the persistence sink.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the database at dbPath and migrates it.
// An empty path uses an in-memory database. A file whose schema cannot be
// migrated is rotated aside and replaced with a fresh database.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	store, err := open(ctx, dbPath)
	if err == nil || dbPath == "" || dbPath == memoryPath {
		return store, err
	}

	if storageLogger != nil {
		storageLogger.Error("Database initialization failed, rotating database", "error", err, "path", dbPath)
	}
	backupPath, rotateErr := RotateDatabase(dbPath)
	if rotateErr != nil {
		return nil, fmt.Errorf("failed to initialize database and unable to rotate it: %w (rotation error: %v)", err, rotateErr)
	}
	if storageLogger != nil {
		storageLogger.Warn("Database rotated, starting with a fresh database", "backupPath", backupPath, "originalError", err.Error())
	}
	if _, cleanupErr := CleanupOldBackups(dbPath, 5); cleanupErr != nil && storageLogger != nil {
		storageLogger.Warn("Failed to clean up old database backups", "error", cleanupErr)
	}
	return open(ctx, dbPath)
}

func open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = memoryPath
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetConfigValue stores any JSON-serializable value under key.
func (s *SQLiteStore) SetConfigValue(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal config value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save config value: %w", err)
	}
	return nil
}

// GetConfigValue decodes the value stored under key into dest. It returns
// ErrNotFound when the key was never set.
func (s *SQLiteStore) GetConfigValue(ctx context.Context, key string, dest interface{}) error {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get config value: %w", err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("failed to unmarshal config value: %w", err)
	}
	return nil
}

// DeleteConfigValue removes key.
func (s *SQLiteStore) DeleteConfigValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete config value: %w", err)
	}
	return nil
}

// replaceAll runs fn inside a transaction after clearing tables.
func (s *SQLiteStore) replaceAll(ctx context.Context, tables []string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
