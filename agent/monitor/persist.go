package monitor

import (
	"context"
	"errors"
	"time"

	agentstorage "printwatch/agent/storage"
	"printwatch/common/settings"
)

const runtimeSettingsKey = "runtime_settings"

type persistedSettings struct {
	Version   string            `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Settings  settings.Settings `json:"settings"`
}

// restore loads settings, fleet, alert log and history from the store.
// Failures are logged and the monitor starts with what it has.
func (m *Monitor) restore(ctx context.Context) {
	if m.store == nil {
		return
	}

	var saved persistedSettings
	switch err := m.store.GetConfigValue(ctx, runtimeSettingsKey, &saved); {
	case errors.Is(err, agentstorage.ErrNotFound):
	case err != nil:
		m.logError("Failed to load runtime settings", err)
	default:
		// Credentials never leave the config file.
		saved.Settings.Notifications.Email.Password = m.settings.Get().Notifications.Email.Password
		if _, err := m.settings.Replace(saved.Settings); err != nil {
			m.logWarn("Ignoring invalid persisted settings", err)
		}
	}

	devices, err := m.store.LoadDevices(ctx)
	if err != nil {
		m.logError("Failed to load devices", err)
	}
	for _, d := range devices {
		m.registry.Put(d.Snapshot, m.communityOr(d.Community))
	}

	events, err := m.store.LoadAlerts(ctx)
	if err != nil {
		m.logError("Failed to load alerts", err)
	} else {
		m.engine.Load(events)
	}

	snaps, daily, err := m.store.LoadHistory(ctx)
	if err != nil {
		m.logError("Failed to load history", err)
	} else {
		m.recorder.Restore(snaps, daily)
	}

	if m.log != nil {
		m.log.Info("Restored persisted state", "devices", len(devices), "alerts", len(events), "snapshots", len(snaps))
	}
}

// saveDevices, saveAlerts and saveHistory run on their own cadences. A
// failure is logged and the next tick writes the full state again.
func (m *Monitor) saveDevices(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	communities := m.registry.Communities()
	all := m.registry.All()
	records := make([]agentstorage.DeviceRecord, 0, len(all))
	for _, d := range all {
		records = append(records, agentstorage.DeviceRecord{Snapshot: d, Community: communities[d.Address]})
	}
	err := m.store.SaveDevices(ctx, records)
	if err != nil {
		m.logError("Failed to save devices", err)
	}
	return err
}

func (m *Monitor) saveAlerts(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	list := m.engine.List()
	// List is newest first; persist oldest first.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	err := m.store.SaveAlerts(ctx, list)
	if err != nil {
		m.logError("Failed to save alerts", err)
	}
	return err
}

func (m *Monitor) saveHistory(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	err := m.store.SaveHistory(ctx, m.recorder.Snapshots(), m.recorder.Daily(0))
	if err != nil {
		m.logError("Failed to save history", err)
	}
	return err
}

func (m *Monitor) saveSettings(ctx context.Context, s settings.Settings) {
	if m.store == nil {
		return
	}
	payload := persistedSettings{Version: m.settings.Version(), UpdatedAt: m.now(), Settings: s}
	if err := m.store.SetConfigValue(ctx, runtimeSettingsKey, payload); err != nil {
		m.logError("Failed to save runtime settings", err)
	}
}

// Flush writes devices, alerts and history now.
func (m *Monitor) Flush(ctx context.Context) error {
	return errors.Join(m.saveDevices(ctx), m.saveAlerts(ctx), m.saveHistory(ctx))
}

func (m *Monitor) flush(ctx context.Context) {
	_ = m.Flush(ctx)
}

func (m *Monitor) logError(msg string, err error) {
	if m.log != nil {
		m.log.Error(msg, "error", err)
	}
}

func (m *Monitor) logWarn(msg string, err error) {
	if m.log != nil {
		m.log.Warn(msg, "error", err)
	}
}
