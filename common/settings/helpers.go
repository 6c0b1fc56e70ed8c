package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sanitize clamps numeric fields into safe ranges and fills empty fields
// with defaults. It never fails; Validate reports combinations that cannot
// be repaired.
func Sanitize(s *Settings) {
	if s == nil {
		return
	}
	def := DefaultSettings()

	s.Polling.IntervalSeconds = clampInt(s.Polling.IntervalSeconds, 5, 86400, def.Polling.IntervalSeconds)
	s.Polling.Concurrency = clampInt(s.Polling.Concurrency, 1, 64, def.Polling.Concurrency)

	s.Discovery.BatchSize = clampInt(s.Discovery.BatchSize, 1, 254, def.Discovery.BatchSize)
	s.Discovery.ProbeTimeoutMS = clampInt(s.Discovery.ProbeTimeoutMS, 100, 30000, def.Discovery.ProbeTimeoutMS)
	s.Discovery.MDNSBrowseSeconds = clampInt(s.Discovery.MDNSBrowseSeconds, 1, 30, def.Discovery.MDNSBrowseSeconds)
	s.Discovery.PrinterKeywords = normalizeKeywords(s.Discovery.PrinterKeywords)
	if len(s.Discovery.PrinterKeywords) == 0 {
		s.Discovery.PrinterKeywords = def.Discovery.PrinterKeywords
	}

	switch strings.ToLower(strings.TrimSpace(s.SNMP.Version)) {
	case "1", "v1":
		s.SNMP.Version = "1"
	default:
		s.SNMP.Version = "2c"
	}
	if strings.TrimSpace(s.SNMP.Community) == "" {
		s.SNMP.Community = def.SNMP.Community
	}
	s.SNMP.TimeoutMS = clampInt(s.SNMP.TimeoutMS, 500, 30000, def.SNMP.TimeoutMS)
	if s.SNMP.Retries < 0 {
		s.SNMP.Retries = 0
	} else if s.SNMP.Retries > 10 {
		s.SNMP.Retries = 10
	}
	s.SNMP.SlowDeviceKeywords = normalizeKeywords(s.SNMP.SlowDeviceKeywords)
	s.SNMP.SlowTimeoutMS = clampInt(s.SNMP.SlowTimeoutMS, s.SNMP.TimeoutMS, 60000, def.SNMP.SlowTimeoutMS)
	if s.SNMP.SlowRetries < s.SNMP.Retries {
		s.SNMP.SlowRetries = s.SNMP.Retries
	} else if s.SNMP.SlowRetries > 10 {
		s.SNMP.SlowRetries = 10
	}

	s.History.MaxSnapshots = clampInt(s.History.MaxSnapshots, 1, 100000, def.History.MaxSnapshots)
	if s.History.IntervalSeconds < 0 {
		s.History.IntervalSeconds = 0
	}
	s.History.RetentionDays = clampInt(s.History.RetentionDays, 1, 3650, def.History.RetentionDays)

	if s.Alerts.LowThreshold < 0 || s.Alerts.LowThreshold > 100 {
		s.Alerts.LowThreshold = def.Alerts.LowThreshold
	}
	if s.Alerts.CriticalThreshold < 0 || s.Alerts.CriticalThreshold > 100 {
		s.Alerts.CriticalThreshold = def.Alerts.CriticalThreshold
	}
	s.Alerts.OfflineMinutes = clampInt(s.Alerts.OfflineMinutes, 1, 10080, def.Alerts.OfflineMinutes)
	if s.Alerts.CooldownHours < 0 {
		s.Alerts.CooldownHours = 0
	}
	s.Alerts.MaxEvents = clampInt(s.Alerts.MaxEvents, 10, 100000, def.Alerts.MaxEvents)

	s.Notifications.Schedule.Mode = strings.ToLower(strings.TrimSpace(s.Notifications.Schedule.Mode))
	if s.Notifications.Schedule.Mode == "" {
		s.Notifications.Schedule.Mode = ScheduleAlways
	}
	if s.Notifications.Email.SMTPPort <= 0 || s.Notifications.Email.SMTPPort > 65535 {
		s.Notifications.Email.SMTPPort = def.Notifications.Email.SMTPPort
	}
	s.Notifications.RatePerMinute = clampInt(s.Notifications.RatePerMinute, 1, 6000, def.Notifications.RatePerMinute)
}

// Validate reports settings that Sanitize cannot repair on its own.
func Validate(s Settings) error {
	if s.Alerts.CriticalThreshold > s.Alerts.LowThreshold {
		return fmt.Errorf("alerts.critical_threshold (%d) must not exceed alerts.low_threshold (%d)",
			s.Alerts.CriticalThreshold, s.Alerts.LowThreshold)
	}

	sched := s.Notifications.Schedule
	switch sched.Mode {
	case ScheduleAlways:
	case ScheduleBusinessHours, ScheduleScheduled:
		if _, err := ParseClock(sched.StartTime); err != nil {
			return fmt.Errorf("notifications.schedule.start_time: %w", err)
		}
		if _, err := ParseClock(sched.EndTime); err != nil {
			return fmt.Errorf("notifications.schedule.end_time: %w", err)
		}
		if sched.Mode == ScheduleScheduled {
			days, err := ParseWeekdays(sched.Days)
			if err != nil {
				return fmt.Errorf("notifications.schedule.days: %w", err)
			}
			if len(days) == 0 {
				return fmt.Errorf("notifications.schedule.days: at least one day is required for mode %q", sched.Mode)
			}
		}
	default:
		return fmt.Errorf("notifications.schedule.mode: unknown mode %q", sched.Mode)
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return fmt.Errorf("notifications.schedule.timezone: %w", err)
		}
	}

	if s.Notifications.Digest.Enabled {
		if _, err := ParseClock(s.Notifications.Digest.Time); err != nil {
			return fmt.Errorf("notifications.digest.time: %w", err)
		}
		if _, err := ParseWeekdays(s.Notifications.Digest.Days); err != nil {
			return fmt.Errorf("notifications.digest.days: %w", err)
		}
	}

	if s.Notifications.Email.Enabled {
		if s.Notifications.Email.SMTPHost == "" || s.Notifications.Email.From == "" || len(s.Notifications.Email.To) == 0 {
			return fmt.Errorf("notifications.email: smtp_host, from and to are required when enabled")
		}
	}
	if s.Notifications.Webhook.Enabled && s.Notifications.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook: url is required when enabled")
	}
	return nil
}

// ParseClock parses an "HH:MM" time of day into the offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekdays converts day names ("mon", "Tuesday", ...) to weekdays.
// Duplicates are collapsed; order follows the input.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool, len(names))
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// ComputeSettingsVersion hashes the schema version, update timestamp, and settings payload
// to produce a deterministic change token.
func ComputeSettingsVersion(schemaVersion string, updatedAt time.Time, cfg Settings) (string, error) {
	material := struct {
		SchemaVersion string    `json:"schema_version"`
		UpdatedAt     time.Time `json:"updated_at"`
		Settings      Settings  `json:"settings"`
	}{
		SchemaVersion: schemaVersion,
		UpdatedAt:     updatedAt.UTC(),
		Settings:      cfg,
	}
	b, err := json.Marshal(material)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// Clone returns a copy that shares no slices or maps with s.
func (s Settings) Clone() Settings {
	out := s
	out.Discovery.PrinterKeywords = append([]string(nil), s.Discovery.PrinterKeywords...)
	out.SNMP.SlowDeviceKeywords = append([]string(nil), s.SNMP.SlowDeviceKeywords...)
	out.Notifications.Schedule.Days = append([]string(nil), s.Notifications.Schedule.Days...)
	out.Notifications.Email.To = append([]string(nil), s.Notifications.Email.To...)
	out.Notifications.Digest.Days = append([]string(nil), s.Notifications.Digest.Days...)
	if s.Notifications.Webhook.Headers != nil {
		out.Notifications.Webhook.Headers = make(map[string]string, len(s.Notifications.Webhook.Headers))
		for k, v := range s.Notifications.Webhook.Headers {
			out.Notifications.Webhook.Headers[k] = v
		}
	}
	return out
}

func clampInt(v, min, max, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, k := range in {
		k = strings.ToLower(k)
		if strings.TrimSpace(k) == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
