package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	commonstorage "printwatch/common/storage"
)

// SaveHistory replaces the persisted history ring and daily aggregates.
func (s *SQLiteStore) SaveHistory(ctx context.Context, snaps []commonstorage.HistorySnapshot, daily []commonstorage.DailyAggregate) error {
	return s.replaceAll(ctx, []string{"history_snapshots", "daily_aggregates"}, func(tx *sql.Tx) error {
		snapStmt, err := tx.PrepareContext(ctx, `INSERT INTO history_snapshots (taken_at, payload) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer snapStmt.Close()
		for _, snap := range snaps {
			payload, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("failed to marshal history snapshot: %w", err)
			}
			if _, err := snapStmt.ExecContext(ctx, snap.Timestamp.UnixMilli(), string(payload)); err != nil {
				return fmt.Errorf("failed to save history snapshot: %w", err)
			}
		}

		dayStmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_aggregates (date, payload) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare aggregate insert: %w", err)
		}
		defer dayStmt.Close()
		for _, day := range daily {
			payload, err := json.Marshal(day)
			if err != nil {
				return fmt.Errorf("failed to marshal aggregate %s: %w", day.Date, err)
			}
			if _, err := dayStmt.ExecContext(ctx, day.Date, string(payload)); err != nil {
				return fmt.Errorf("failed to save aggregate %s: %w", day.Date, err)
			}
		}
		return nil
	})
}

// LoadHistory returns the persisted snapshots (insertion order) and daily
// aggregates (by date).
func (s *SQLiteStore) LoadHistory(ctx context.Context) ([]commonstorage.HistorySnapshot, []commonstorage.DailyAggregate, error) {
	snaps, err := queryJSON[commonstorage.HistorySnapshot](ctx, s.db, `SELECT payload FROM history_snapshots ORDER BY seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history snapshots: %w", err)
	}
	daily, err := queryJSON[commonstorage.DailyAggregate](ctx, s.db, `SELECT payload FROM daily_aggregates ORDER BY date`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load daily aggregates: %w", err)
	}
	return snaps, daily, nil
}

func queryJSON[T any](ctx context.Context, db *sql.DB, query string) ([]T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			if storageLogger != nil {
				storageLogger.Warn("Skipping unreadable history row", "error", err)
			}
			continue
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
