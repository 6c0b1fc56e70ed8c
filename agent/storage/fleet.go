package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	commonstorage "printwatch/common/storage"
)

// DeviceRecord is one persisted fleet member.
type DeviceRecord struct {
	Snapshot  commonstorage.DeviceSnapshot
	Community string
}

// SaveDevices replaces the persisted fleet.
func (s *SQLiteStore) SaveDevices(ctx context.Context, devices []DeviceRecord) error {
	now := time.Now().UnixMilli()
	return s.replaceAll(ctx, []string{"devices"}, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO devices (address, community, payload, updated_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare device insert: %w", err)
		}
		defer stmt.Close()

		for _, d := range devices {
			payload, err := json.Marshal(d.Snapshot)
			if err != nil {
				return fmt.Errorf("failed to marshal device %s: %w", d.Snapshot.Address, err)
			}
			if _, err := stmt.ExecContext(ctx, d.Snapshot.Address, d.Community, string(payload), now); err != nil {
				return fmt.Errorf("failed to save device %s: %w", d.Snapshot.Address, err)
			}
		}
		return nil
	})
}

// LoadDevices returns the persisted fleet ordered by address. Rows whose
// payload cannot be decoded are skipped and logged.
func (s *SQLiteStore) LoadDevices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, community, payload FROM devices ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var address, community, payload string
		if err := rows.Scan(&address, &community, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		var snap commonstorage.DeviceSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			if storageLogger != nil {
				storageLogger.Warn("Skipping unreadable device row", "ip", address, "error", err)
			}
			continue
		}
		snap.Address = address
		out = append(out, DeviceRecord{Snapshot: snap.Clone(), Community: community})
	}
	return out, rows.Err()
}
