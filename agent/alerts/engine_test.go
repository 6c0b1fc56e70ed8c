package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sent struct {
	subject string
	kind    storage.AlertType
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, subject, _ string, kind storage.AlertType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{subject: subject, kind: kind})
	return f.err
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testSettings() settings.Settings {
	s := settings.DefaultSettings()
	s.Alerts.LowThreshold = 20
	s.Alerts.CriticalThreshold = 10
	s.Alerts.CooldownHours = 4
	s.Alerts.OfflineMinutes = 5
	return s
}

func tonerDevice(level int) storage.DeviceSnapshot {
	d := storage.NewDeviceSnapshot("10.0.0.5")
	d.Name = "HP LaserJet"
	d.Online = true
	d.Status = storage.StatusIdle
	d.Supplies = []storage.Supply{{Name: "Black Toner", CurrentLevel: level, MaxCapacity: 100, Type: storage.SupplyToner}}
	return d
}

func offlineDevice() storage.DeviceSnapshot {
	d := storage.NewDeviceSnapshot("10.0.0.6")
	d.Status = storage.StatusOffline
	return d
}

func onlineDevice() storage.DeviceSnapshot {
	d := storage.NewDeviceSnapshot("10.0.0.6")
	d.Online = true
	d.Status = storage.StatusIdle
	return d
}

// Monday 2024-06-03 10:00 UTC
var monday = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func TestSupplyCooldownSequence(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	e := NewEngine(testSettings, WithClock(clock.Now))
	ctx := context.Background()

	if got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(25)}); len(got) != 0 {
		t.Fatalf("25%%: expected no alerts, got %d", len(got))
	}

	clock.Advance(10 * time.Minute)
	got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(15)})
	if len(got) != 1 || got[0].Type != storage.AlertLowSupply {
		t.Fatalf("15%%: expected one low-supply alert, got %+v", got)
	}
	if got[0].SupplyKey() != "Black Toner" {
		t.Errorf("supply name = %q", got[0].SupplyKey())
	}

	clock.Advance(10 * time.Minute)
	got = e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(8)})
	if len(got) != 1 || got[0].Type != storage.AlertCriticalSupply {
		t.Fatalf("8%%: expected one critical-supply alert, got %+v", got)
	}

	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Minute)
		if got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(8)}); len(got) != 0 {
			t.Fatalf("within cooldown: expected nothing, got %+v", got)
		}
	}

	clock.Advance(90 * time.Minute) // 4h10m after the critical alert
	got = e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(8)})
	if len(got) != 1 || got[0].Type != storage.AlertCriticalSupply {
		t.Fatalf("after cooldown: expected critical-supply again, got %+v", got)
	}

	if n := len(e.List()); n != 3 {
		t.Errorf("alert log has %d events, want 3", n)
	}
}

func TestAcknowledgeRearmsCondition(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	e := NewEngine(testSettings, WithClock(clock.Now))
	ctx := context.Background()

	first := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(5)})
	if len(first) != 1 {
		t.Fatalf("expected one critical alert, got %d", len(first))
	}
	clock.Advance(time.Second)
	if got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(5)}); len(got) != 0 {
		t.Fatalf("expected cooldown suppression, got %d", len(got))
	}

	acked, err := e.Acknowledge(first[0].ID, "alice")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if !acked.Acknowledged || acked.AcknowledgedBy != "alice" || acked.AcknowledgedAt == nil {
		t.Errorf("acknowledged event not updated: %+v", acked)
	}

	clock.Advance(time.Second)
	got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(5)})
	if len(got) != 1 || got[0].Type != storage.AlertCriticalSupply {
		t.Fatalf("expected re-fire after acknowledge, got %+v", got)
	}
	if e.UnacknowledgedCount() != 1 {
		t.Errorf("UnacknowledgedCount = %d, want 1", e.UnacknowledgedCount())
	}

	if _, err := e.Acknowledge("missing", "bob"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestOfflineThenBackOnline(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	e := NewEngine(testSettings, WithClock(clock.Now))
	ctx := context.Background()

	var offline []storage.AlertEvent
	for minute := 0; minute < 12; minute++ {
		for _, ev := range e.Evaluate(ctx, []storage.DeviceSnapshot{offlineDevice()}) {
			if ev.Type != storage.AlertOffline {
				t.Fatalf("unexpected %s alert at minute %d", ev.Type, minute)
			}
			if minute != 5 {
				t.Errorf("offline alert fired at minute %d, want 5", minute)
			}
			offline = append(offline, ev)
		}
		clock.Advance(time.Minute)
	}
	if len(offline) != 1 {
		t.Fatalf("expected exactly one offline alert, got %d", len(offline))
	}

	got := e.Evaluate(ctx, []storage.DeviceSnapshot{onlineDevice()})
	if len(got) != 1 || got[0].Type != storage.AlertBackOnline {
		t.Fatalf("expected one back-online alert, got %+v", got)
	}
	if downtime := got[0].Details["downtime_minutes"]; downtime != 12.0 {
		t.Errorf("downtime_minutes = %v, want 12", downtime)
	}

	clock.Advance(time.Minute)
	if got := e.Evaluate(ctx, []storage.DeviceSnapshot{onlineDevice()}); len(got) != 0 {
		t.Errorf("expected no alerts once recovered, got %+v", got)
	}
}

func TestBackOnlineIgnoresOfflineCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	e := NewEngine(testSettings, WithClock(clock.Now))
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		e.Evaluate(ctx, []storage.DeviceSnapshot{offlineDevice()})
		clock.Advance(6 * time.Minute)
		e.Evaluate(ctx, []storage.DeviceSnapshot{offlineDevice()})
		clock.Advance(time.Minute)
		got := e.Evaluate(ctx, []storage.DeviceSnapshot{onlineDevice()})
		if len(got) != 1 || got[0].Type != storage.AlertBackOnline {
			t.Fatalf("round %d: expected back-online, got %+v", round, got)
		}
		clock.Advance(time.Minute)
	}
}

func TestDrumAndFuserNeverAlert(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	e := NewEngine(testSettings, WithClock(clock.Now))

	d := tonerDevice(90)
	d.Supplies = append(d.Supplies,
		storage.Supply{Name: "Drum Unit", CurrentLevel: 1, MaxCapacity: 100, Type: storage.SupplyDrum},
		storage.Supply{Name: "Fuser Kit", CurrentLevel: 0, MaxCapacity: 100, Type: storage.SupplyFuser},
		storage.Supply{Name: "Toner Drum Kit", CurrentLevel: 0, MaxCapacity: 100, Type: storage.SupplyDrum},
		storage.Supply{Name: "Cyan Ink", CurrentLevel: -3, MaxCapacity: 100, Type: storage.SupplyToner},
	)
	if got := e.Evaluate(context.Background(), []storage.DeviceSnapshot{d}); len(got) != 0 {
		t.Errorf("expected no alerts, got %+v", got)
	}
}

func TestAlertableSupply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"Black Toner Cartridge", true},
		{"Cyan Ink", true},
		{"TONER", true},
		{"Drum Unit", false},
		{"Toner Drum", false},
		{"Fuser Assembly", false},
		{"Waste Toner Box", true},
		{"Transfer Belt", false},
	}
	for _, tt := range tests {
		if got := AlertableSupply(tt.name); got != tt.want {
			t.Errorf("AlertableSupply(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestScheduleGatesDispatchOnly(t *testing.T) {
	t.Parallel()

	saturday := time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(saturday)
	cfg := testSettings()
	cfg.Notifications.Schedule = settings.ScheduleSettings{
		Mode: settings.ScheduleBusinessHours, StartTime: "08:00", EndTime: "18:00",
	}
	disp := &fakeDispatcher{}
	e := NewEngine(func() settings.Settings { return cfg }, WithClock(clock.Now), WithDispatcher(disp))
	ctx := context.Background()

	got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(5)})
	e.Wait()
	if len(got) != 1 {
		t.Fatalf("expected the event to be recorded, got %d", len(got))
	}
	if disp.count() != 0 {
		t.Fatalf("dispatch attempted outside the window")
	}

	clock.Advance(48 * time.Hour) // Monday 10:00
	d := tonerDevice(5)
	d.Address = "10.0.0.99"
	e.Evaluate(ctx, []storage.DeviceSnapshot{d})
	e.Wait()
	if disp.count() != 1 {
		t.Fatalf("expected one dispatch inside the window, got %d", disp.count())
	}
	if disp.sent[0].kind != storage.AlertCriticalSupply {
		t.Errorf("dispatched kind = %s", disp.sent[0].kind)
	}
}

func TestDispatchFailureKeepsEvent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	disp := &fakeDispatcher{err: errors.New("smtp down")}
	e := NewEngine(testSettings, WithClock(clock.Now), WithDispatcher(disp))

	e.Evaluate(context.Background(), []storage.DeviceSnapshot{tonerDevice(5)})
	e.Wait()
	if disp.count() != 1 {
		t.Fatalf("expected one dispatch attempt, got %d", disp.count())
	}
	if len(e.List()) != 1 {
		t.Errorf("event lost after failed dispatch")
	}
}

func quietLogger() *logger.Logger {
	l := logger.New(logger.DEBUG, "", 100)
	l.SetConsoleOutput(false)
	return l
}

func TestNoEnabledChannelSkipsDispatch(t *testing.T) {
	t.Parallel()

	log := quietLogger()
	n := NewNotifier(func() settings.NotificationSettings { return settings.NotificationSettings{} }, NotifierConfig{})
	e := NewEngine(testSettings, WithClock(newFakeClock(monday).Now), WithDispatcher(n), WithLogger(log))

	if got := e.Evaluate(context.Background(), []storage.DeviceSnapshot{tonerDevice(5)}); len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	e.Wait()
	if warns := log.GetBufferFiltered(logger.WARN); len(warns) != 0 {
		t.Errorf("disabled notifications logged warnings: %+v", warns)
	}
	if len(log.GetBufferFiltered(logger.DEBUG)) == 0 {
		t.Error("expected a debug line for the skipped dispatch")
	}
}

func TestDisabledDispatchErrorIsNotAWarning(t *testing.T) {
	t.Parallel()

	log := quietLogger()
	disp := &fakeDispatcher{err: fmt.Errorf("webhook: %w", ErrDispatchDisabled)}
	e := NewEngine(testSettings, WithClock(newFakeClock(monday).Now), WithDispatcher(disp), WithLogger(log))

	e.Evaluate(context.Background(), []storage.DeviceSnapshot{tonerDevice(5)})
	e.Wait()
	if disp.count() != 1 {
		t.Fatalf("expected one dispatch attempt, got %d", disp.count())
	}
	if warns := log.GetBufferFiltered(logger.WARN); len(warns) != 0 {
		t.Errorf("disabled dispatch logged warnings: %+v", warns)
	}

	failing := quietLogger()
	e = NewEngine(testSettings, WithClock(newFakeClock(monday).Now),
		WithDispatcher(&fakeDispatcher{err: errors.New("smtp down")}), WithLogger(failing))
	e.Evaluate(context.Background(), []storage.DeviceSnapshot{tonerDevice(5)})
	e.Wait()
	if len(failing.GetBufferFiltered(logger.WARN)) == 0 {
		t.Error("a real delivery failure should still warn")
	}
}

func TestSettingsChangeAppliesNextCycle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	store := settings.NewStore(testSettings())
	e := NewEngine(store.Get, WithClock(clock.Now))
	ctx := context.Background()

	if got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(25)}); len(got) != 0 {
		t.Fatalf("expected nothing at 25%%, got %d", len(got))
	}
	if _, err := store.Update(func(s *settings.Settings) { s.Alerts.LowThreshold = 30 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got := e.Evaluate(ctx, []storage.DeviceSnapshot{tonerDevice(25)})
	if len(got) != 1 || got[0].Type != storage.AlertLowSupply {
		t.Errorf("expected low-supply with the new threshold, got %+v", got)
	}
}

func TestAlertLogOperations(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(monday)
	cfg := testSettings()
	cfg.Alerts.MaxEvents = 2
	var observed int
	e := NewEngine(func() settings.Settings { return cfg }, WithClock(clock.Now),
		WithObserver(func(storage.AlertEvent) { observed++ }))
	ctx := context.Background()

	for i, addr := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		d := tonerDevice(5)
		d.Address = addr
		e.Evaluate(ctx, []storage.DeviceSnapshot{d})
		clock.Advance(time.Duration(i+1) * time.Minute)
	}
	if observed != 3 {
		t.Errorf("observer saw %d events, want 3", observed)
	}

	list := e.List()
	if len(list) != 2 {
		t.Fatalf("log bounded to %d, want 2", len(list))
	}
	if list[0].DeviceAddress != "10.0.0.3" || list[1].DeviceAddress != "10.0.0.2" {
		t.Errorf("expected newest first, got %s, %s", list[0].DeviceAddress, list[1].DeviceAddress)
	}

	if n := e.AcknowledgeAll("ops"); n != 2 {
		t.Errorf("AcknowledgeAll = %d, want 2", n)
	}
	if e.UnacknowledgedCount() != 0 {
		t.Errorf("UnacknowledgedCount = %d after AcknowledgeAll", e.UnacknowledgedCount())
	}

	if err := e.Delete(list[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := e.Delete(list[0].ID); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("second Delete: %v", err)
	}
	e.Clear()
	if len(e.List()) != 0 {
		t.Error("Clear left events behind")
	}

	e.Load([]storage.AlertEvent{
		{ID: "b", CreatedAt: monday.Add(time.Hour)},
		{ID: "a", CreatedAt: monday},
		{ID: "c", CreatedAt: monday.Add(2 * time.Hour)},
	})
	list = e.List()
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("Load kept %+v, want c then b", list)
	}
}
