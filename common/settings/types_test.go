package settings

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	def := DefaultSettings()
	if def.Polling.IntervalSeconds != 60 {
		t.Fatalf("expected 60s poll interval, got %d", def.Polling.IntervalSeconds)
	}
	if def.Alerts.LowThreshold != 20 || def.Alerts.CriticalThreshold != 10 {
		t.Fatalf("unexpected thresholds %d/%d", def.Alerts.LowThreshold, def.Alerts.CriticalThreshold)
	}
	if def.History.MaxSnapshots != 1440 {
		t.Fatalf("expected ring of 1440, got %d", def.History.MaxSnapshots)
	}
	if def.Discovery.BatchSize != 10 {
		t.Fatalf("expected scan batch 10, got %d", def.Discovery.BatchSize)
	}
	if err := Validate(def); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Polling.IntervalSeconds = 1
	s.Polling.Concurrency = 0
	s.SNMP.TimeoutMS = -10
	s.SNMP.Retries = -1
	s.SNMP.Version = "V1"
	s.Alerts.LowThreshold = 150
	s.Notifications.Schedule.Mode = "  Business-Hours "
	Sanitize(&s)

	if s.Polling.IntervalSeconds != 5 {
		t.Fatalf("interval not clamped, got %d", s.Polling.IntervalSeconds)
	}
	if s.Polling.Concurrency != 4 {
		t.Fatalf("concurrency should fall back to default, got %d", s.Polling.Concurrency)
	}
	if s.SNMP.TimeoutMS != 500 {
		t.Fatalf("timeout not clamped, got %d", s.SNMP.TimeoutMS)
	}
	if s.SNMP.Retries != 0 {
		t.Fatalf("retries not clamped, got %d", s.SNMP.Retries)
	}
	if s.SNMP.Version != "1" {
		t.Fatalf("version not normalized, got %q", s.SNMP.Version)
	}
	if s.Alerts.LowThreshold != 20 {
		t.Fatalf("out of range threshold should reset, got %d", s.Alerts.LowThreshold)
	}
	if s.Notifications.Schedule.Mode != ScheduleBusinessHours {
		t.Fatalf("mode not normalized, got %q", s.Notifications.Schedule.Mode)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"critical above low", func(s *Settings) { s.Alerts.CriticalThreshold = 30 }, "critical_threshold"},
		{"bad mode", func(s *Settings) { s.Notifications.Schedule.Mode = "weekends" }, "unknown mode"},
		{"bad start", func(s *Settings) {
			s.Notifications.Schedule.Mode = ScheduleBusinessHours
			s.Notifications.Schedule.StartTime = "8am"
		}, "start_time"},
		{"scheduled without days", func(s *Settings) {
			s.Notifications.Schedule.Mode = ScheduleScheduled
			s.Notifications.Schedule.Days = nil
		}, "at least one day"},
		{"bad day", func(s *Settings) {
			s.Notifications.Schedule.Mode = ScheduleScheduled
			s.Notifications.Schedule.Days = []string{"mon", "funday"}
		}, "funday"},
		{"email incomplete", func(s *Settings) { s.Notifications.Email.Enabled = true }, "smtp_host"},
		{"webhook without url", func(s *Settings) { s.Notifications.Webhook.Enabled = true }, "url is required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := DefaultSettings()
			tt.mutate(&s)
			err := Validate(s)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseWeekdays(t *testing.T) {
	t.Parallel()

	days, err := ParseWeekdays([]string{"Mon", "tuesday", "mon", " FRI "})
	if err != nil {
		t.Fatalf("ParseWeekdays: %v", err)
	}
	want := []time.Weekday{time.Monday, time.Tuesday, time.Friday}
	if len(days) != len(want) {
		t.Fatalf("got %v, want %v", days, want)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("got %v, want %v", days, want)
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	d, err := ParseClock("08:30")
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if d != 8*time.Hour+30*time.Minute {
		t.Fatalf("got %v", d)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatal("expected error for 25:00")
	}
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings())
	before := store.Version()

	var notified Settings
	store.OnChange(func(s Settings) { notified = s })

	got, err := store.Update(func(s *Settings) { s.Alerts.CooldownHours = 1 })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Alerts.CooldownHours != 1 || store.Get().Alerts.CooldownHours != 1 {
		t.Fatal("update not applied")
	}
	if notified.Alerts.CooldownHours != 1 {
		t.Fatal("listener not notified")
	}
	if store.Version() == before {
		t.Fatal("version should change after update")
	}

	if _, err := store.Update(func(s *Settings) { s.Alerts.CriticalThreshold = 90 }); err == nil {
		t.Fatal("expected validation error")
	}
	if store.Get().Alerts.CriticalThreshold != 10 {
		t.Fatal("rejected update must not be applied")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings())
	s := store.Get()
	s.Discovery.PrinterKeywords[0] = "mutated"
	if store.Get().Discovery.PrinterKeywords[0] == "mutated" {
		t.Fatal("Get leaked internal slice")
	}
}
