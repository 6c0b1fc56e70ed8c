package monitor

import (
	"context"
	"time"

	"printwatch/agent/history"
	"printwatch/common/settings"
	"printwatch/common/storage"
)

// RecentHistory returns fleet samples from the last windowMinutes.
func (m *Monitor) RecentHistory(windowMinutes int) []storage.HistorySnapshot {
	return m.recorder.Recent(time.Duration(windowMinutes) * time.Minute)
}

// DailyHistory returns the last days daily aggregates, oldest first.
func (m *Monitor) DailyHistory(days int) []storage.DailyAggregate {
	return m.recorder.Daily(days)
}

// DeviceHistory returns one device's samples from the last windowMinutes.
func (m *Monitor) DeviceHistory(address string, windowMinutes int) []history.DevicePoint {
	return m.recorder.ForDevice(address, time.Duration(windowMinutes)*time.Minute)
}

// AnalyticsSummary combines the live fleet, history and alert log.
func (m *Monitor) AnalyticsSummary() history.Summary {
	cfg := m.settings.Get().Alerts
	return m.recorder.Summary(history.SummaryInput{
		Devices:           m.registry.All(),
		LowThreshold:      cfg.LowThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		Unacknowledged:    m.engine.UnacknowledgedCount(),
	})
}

// ListAlerts returns the alert log, newest first.
func (m *Monitor) ListAlerts() []storage.AlertEvent { return m.engine.List() }

// UnacknowledgedCount counts open alerts.
func (m *Monitor) UnacknowledgedCount() int { return m.engine.UnacknowledgedCount() }

// Acknowledge acknowledges one alert and re-arms its condition.
func (m *Monitor) Acknowledge(id, by string) (storage.AlertEvent, error) {
	return m.engine.Acknowledge(id, by)
}

// AcknowledgeAll acknowledges every open alert.
func (m *Monitor) AcknowledgeAll(by string) int { return m.engine.AcknowledgeAll(by) }

// DeleteAlert removes one alert from the log.
func (m *Monitor) DeleteAlert(id string) error { return m.engine.Delete(id) }

// ClearAlerts empties the alert log.
func (m *Monitor) ClearAlerts() { m.engine.Clear() }

// Settings returns the current runtime settings.
func (m *Monitor) Settings() settings.Settings { return m.settings.Get() }

// UpdateSettings validates and applies a settings change. The next poll
// and evaluation cycle observes it; it is persisted right away.
func (m *Monitor) UpdateSettings(ctx context.Context, fn func(*settings.Settings)) (settings.Settings, error) {
	next, err := m.settings.Update(fn)
	if err != nil {
		return settings.Settings{}, err
	}
	m.saveSettings(ctx, next)
	return next, nil
}

// ResetSettings discards runtime changes, returning to the settings the
// agent was configured with, and forgets the persisted override.
func (m *Monitor) ResetSettings(ctx context.Context) (settings.Settings, error) {
	next, err := m.settings.Replace(m.baseline)
	if err != nil {
		return settings.Settings{}, err
	}
	if m.store != nil {
		if err := m.store.DeleteConfigValue(ctx, runtimeSettingsKey); err != nil {
			return next, err
		}
	}
	return next, nil
}

// TestNotification sends a test message through every enabled channel and
// reports delivery failures to the caller.
func (m *Monitor) TestNotification(ctx context.Context) error {
	return m.notifier.TestSend(ctx)
}
