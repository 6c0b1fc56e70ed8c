package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const backupInfix = ".backup."

// backupStamp sorts lexically in time order.
const backupStamp = "2006-01-02T15-04-05"

// companions are the SQLite side files that travel with the main file.
var companions = []string{"-wal", "-shm"}

// RotateDatabase moves a database that cannot be opened aside so a fresh one
// can be created in its place: printwatch.db becomes
// printwatch.db.backup.2025-11-06T14-59-31, and its WAL and SHM files follow.
func RotateDatabase(dbPath string) (string, error) {
	if dbPath == "" || dbPath == memoryPath {
		return "", errors.New("cannot rotate in-memory database")
	}
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("database file does not exist: %s", dbPath)
	}

	stamp := time.Now().Format(backupStamp)
	backupPath := dbPath + backupInfix + stamp
	if err := os.Rename(dbPath, backupPath); err != nil {
		return "", fmt.Errorf("failed to rename database: %w", err)
	}
	for _, suffix := range companions {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			_ = os.Rename(dbPath+suffix, dbPath+suffix+backupInfix+stamp)
		}
	}
	return backupPath, nil
}

// CleanupOldBackups keeps the keep newest backups of dbPath, removing the
// older ones together with their WAL and SHM copies. It returns the number
// of database backups removed.
func CleanupOldBackups(dbPath string, keep int) (int, error) {
	if dbPath == "" || dbPath == memoryPath {
		return 0, nil
	}
	keep = max(keep, 0)

	matches, err := filepath.Glob(dbPath + backupInfix + "*")
	if err != nil {
		return 0, fmt.Errorf("failed to find backup files: %w", err)
	}
	if len(matches) <= keep {
		return 0, nil
	}
	// newest first
	slices.Sort(matches)
	slices.Reverse(matches)

	removed := 0
	for _, path := range matches[keep:] {
		if err := os.Remove(path); err != nil {
			if storageLogger != nil {
				storageLogger.Warn("Failed to remove old backup", "path", path, "error", err)
			}
			continue
		}
		removed++
		stamp := strings.TrimPrefix(path, dbPath+backupInfix)
		for _, suffix := range companions {
			_ = os.Remove(dbPath + suffix + backupInfix + stamp)
		}
	}
	return removed, nil
}
