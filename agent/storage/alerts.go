package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	commonstorage "printwatch/common/storage"
)

// SaveAlerts replaces the persisted alert log.
func (s *SQLiteStore) SaveAlerts(ctx context.Context, events []commonstorage.AlertEvent) error {
	return s.replaceAll(ctx, []string{"alerts"}, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO alerts (id, type, address, created_at, acknowledged, payload) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare alert insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to marshal alert %s: %w", ev.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, ev.ID, string(ev.Type), ev.DeviceAddress,
				ev.CreatedAt.UnixMilli(), ev.Acknowledged, string(payload)); err != nil {
				return fmt.Errorf("failed to save alert %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// LoadAlerts returns the persisted alert log, oldest first.
func (s *SQLiteStore) LoadAlerts(ctx context.Context) ([]commonstorage.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM alerts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []commonstorage.AlertEvent
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		var ev commonstorage.AlertEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			if storageLogger != nil {
				storageLogger.Warn("Skipping unreadable alert row", "id", id, "error", err)
			}
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
