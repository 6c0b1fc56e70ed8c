package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"printwatch/agent/fleet"
	"printwatch/agent/metrics"
	"printwatch/agent/scanner/snmptest"
	agentstorage "printwatch/agent/storage"
	"printwatch/common/settings"
	"printwatch/common/snmp/oids"
	"printwatch/common/storage"

	"github.com/prometheus/client_golang/prometheus"
)

var fixedNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type dispatched struct {
	subject string
	message string
	kind    storage.AlertType
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []dispatched
	tests   int
	testErr error
}

func (f *fakeNotifier) Dispatch(_ context.Context, subject, message string, kind storage.AlertType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, dispatched{subject, message, kind})
	return nil
}

func (f *fakeNotifier) TestSend(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests++
	return f.testErr
}

func (f *fakeNotifier) messages() []dispatched {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatched(nil), f.sent...)
}

func printer(tonerLevel int) *snmptest.Device {
	return snmptest.NewDevice().
		SetString(oids.SysDescr, "HP LaserJet Pro M404dn").
		SetString(oids.PrtGeneralSerialNumber, "PHB1234567").
		SetInt(oids.PrtMarkerLifeCount, 1000).
		SetInt(oids.StatusCandidates[0], 3).
		SetColumn(oids.PrtMarkerSuppliesDesc, "Black Toner Cartridge").
		SetColumn(oids.PrtMarkerSuppliesMaxCap, 100).
		SetColumn(oids.PrtMarkerSuppliesLevel, tonerLevel)
}

type harness struct {
	mon      *Monitor
	net      *snmptest.Network
	notifier *fakeNotifier
	store    *agentstorage.SQLiteStore
	settings *settings.Store
}

func newHarness(t *testing.T, store *agentstorage.SQLiteStore) *harness {
	t.Helper()
	if store == nil {
		var err error
		store, err = agentstorage.Open(context.Background(), "")
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
	}
	h := &harness{
		net:      snmptest.NewNetwork(),
		notifier: &fakeNotifier{},
		store:    store,
		settings: settings.NewStore(settings.DefaultSettings()),
	}
	mon, err := New(Config{
		Settings:    h.settings,
		SNMPFactory: h.net.Factory(),
		Store:       store,
		Notifier:    h.notifier,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Clock:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.mon = mon
	return h
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("expected an error without a settings store")
	}
}

func TestAddDevicePollsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.net.Add("10.0.0.21", printer(60))
	ctx := context.Background()

	snap, err := h.mon.AddDevice(ctx, " 10.0.0.21 ", "")
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if !snap.Online || snap.Serial == nil || *snap.Serial != "PHB1234567" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if got, ok := h.mon.Get("10.0.0.21"); !ok || got.TotalPages != 1000 {
		t.Errorf("Get = %+v, %v", got, ok)
	}

	if _, err := h.mon.AddDevice(ctx, "printer.local", ""); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}

	offline, err := h.mon.AddDevice(ctx, "10.0.0.99", "private")
	if err != nil {
		t.Fatalf("AddDevice offline: %v", err)
	}
	if offline.Online || offline.Status != storage.StatusOffline {
		t.Errorf("unreachable device should be offline, got %+v", offline)
	}
	if len(h.mon.GetAll()) != 2 {
		t.Errorf("GetAll = %d devices, want 2", len(h.mon.GetAll()))
	}

	if !h.mon.RemoveDevice("10.0.0.99") || h.mon.RemoveDevice("10.0.0.99") {
		t.Error("RemoveDevice should succeed once")
	}
}

func TestRefreshOne(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.mon.RefreshOne(ctx, "10.0.0.5", ""); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}

	h.net.Add("10.0.0.5", printer(60))
	if _, err := h.mon.AddDevice(ctx, "10.0.0.5", ""); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	h.net.Device("10.0.0.5").SetInt(oids.PrtMarkerLifeCount, 1200)

	snap, err := h.mon.RefreshOne(ctx, "10.0.0.5", "")
	if err != nil {
		t.Fatalf("RefreshOne: %v", err)
	}
	if snap.TotalPages != 1200 {
		t.Errorf("TotalPages = %d, want 1200", snap.TotalPages)
	}
}

func TestRefreshAllRecordsHistoryAndAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.net.Add("10.0.0.5", printer(5))
	ctx := context.Background()
	if _, err := h.mon.AddDevice(ctx, "10.0.0.5", ""); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	res := h.mon.RefreshAll(ctx, "")
	if res.Polled != 1 || res.Online != 1 {
		t.Errorf("cycle result = %+v", res)
	}
	h.mon.engine.Wait()

	if n := len(h.mon.RecentHistory(60)); n != 1 {
		t.Errorf("RecentHistory = %d samples, want 1", n)
	}
	if pts := h.mon.DeviceHistory("10.0.0.5", 60); len(pts) != 1 {
		t.Errorf("DeviceHistory = %d points, want 1", len(pts))
	}
	if days := h.mon.DailyHistory(7); len(days) != 1 {
		t.Errorf("DailyHistory = %d days, want 1", len(days))
	}

	alertsList := h.mon.ListAlerts()
	if len(alertsList) != 1 || alertsList[0].Type != storage.AlertCriticalSupply {
		t.Fatalf("ListAlerts = %+v", alertsList)
	}
	sent := h.notifier.messages()
	if len(sent) != 1 || sent[0].kind != storage.AlertCriticalSupply {
		t.Errorf("dispatched = %+v", sent)
	}

	sum := h.mon.AnalyticsSummary()
	if sum.Devices != 1 || sum.Online != 1 || sum.CriticalSupplies != 1 || sum.UnacknowledgedAlerts != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := h.mon.Acknowledge(alertsList[0].ID, "ops"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if h.mon.UnacknowledgedCount() != 0 {
		t.Errorf("UnacknowledgedCount = %d after acknowledge", h.mon.UnacknowledgedCount())
	}
	// Acknowledge re-arms the condition for the next cycle.
	h.mon.RefreshAll(ctx, "")
	h.mon.engine.Wait()
	if n := len(h.mon.ListAlerts()); n != 2 {
		t.Errorf("ListAlerts = %d after re-arm, want 2", n)
	}
	if n := h.mon.AcknowledgeAll("ops"); n != 1 {
		t.Errorf("AcknowledgeAll = %d, want 1", n)
	}
	if err := h.mon.DeleteAlert(alertsList[0].ID); err != nil {
		t.Errorf("DeleteAlert: %v", err)
	}
	h.mon.ClearAlerts()
	if len(h.mon.ListAlerts()) != 0 {
		t.Error("ClearAlerts left events")
	}
}

func TestRefreshAllAppliesCommunity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	h.mon.AddDevice(ctx, "10.0.0.7", "")
	h.mon.RefreshAll(ctx, "secret")
	if c, _ := h.mon.registry.Community("10.0.0.7"); c != "secret" {
		t.Errorf("community = %q, want secret", c)
	}
}

func TestStartScanDiscoversPrinters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.net.Add("10.9.9.40", printer(80))

	if err := h.mon.StartScan("10.9.9", ""); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	h.mon.WaitScan()

	st := h.mon.ScanStatus()
	if st.Scanning || st.Found != 1 || st.Probed != 254 {
		t.Errorf("scan status = %+v", st)
	}
	if _, ok := h.mon.Get("10.9.9.40"); !ok {
		t.Error("discovered printer not registered")
	}
	if h.mon.CancelScan() {
		t.Error("CancelScan should report false when idle")
	}
	if err := h.mon.StartScan("not-a-prefix", ""); !errors.Is(err, fleet.ErrInvalidPrefix) {
		t.Errorf("expected ErrInvalidPrefix, got %v", err)
	}
}

func TestStopFlushesAndStartRestores(t *testing.T) {
	t.Parallel()

	first := newHarness(t, nil)
	first.net.Add("10.0.0.5", printer(5))
	ctx := context.Background()

	if err := first.mon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := first.mon.AddDevice(ctx, "10.0.0.5", "private"); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	first.mon.RefreshAll(ctx, "")
	if _, err := first.mon.UpdateSettings(ctx, func(s *settings.Settings) { s.Alerts.LowThreshold = 35 }); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	first.mon.Stop()

	second := newHarness(t, first.store)
	second.mon.restore(ctx)

	got, ok := second.mon.Get("10.0.0.5")
	if !ok || !got.Online {
		t.Fatalf("device not restored: %+v, %v", got, ok)
	}
	if c, _ := second.mon.registry.Community("10.0.0.5"); c != "private" {
		t.Errorf("community = %q, want private", c)
	}
	if len(second.mon.ListAlerts()) == 0 {
		t.Error("alerts not restored")
	}
	if len(second.mon.RecentHistory(60)) == 0 {
		t.Error("history not restored")
	}
	if second.mon.Settings().Alerts.LowThreshold != 35 {
		t.Errorf("runtime settings not restored: low = %d", second.mon.Settings().Alerts.LowThreshold)
	}
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.mon.UpdateSettings(context.Background(), func(s *settings.Settings) {
		s.Alerts.CriticalThreshold = 50
		s.Alerts.LowThreshold = 20
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if h.mon.Settings().Alerts.CriticalThreshold != 10 {
		t.Error("invalid settings were applied")
	}
}

func TestResetSettingsDropsRuntimeOverride(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.mon.UpdateSettings(ctx, func(s *settings.Settings) { s.Alerts.LowThreshold = 35 }); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	got, err := h.mon.ResetSettings(ctx)
	if err != nil {
		t.Fatalf("ResetSettings: %v", err)
	}
	if got.Alerts.LowThreshold != 20 || h.mon.Settings().Alerts.LowThreshold != 20 {
		t.Errorf("low threshold = %d, want configured 20", h.mon.Settings().Alerts.LowThreshold)
	}

	var saved persistedSettings
	if err := h.store.GetConfigValue(ctx, runtimeSettingsKey, &saved); !errors.Is(err, agentstorage.ErrNotFound) {
		t.Errorf("persisted override still present: err = %v", err)
	}

	next := newHarness(t, h.store)
	next.mon.restore(ctx)
	if next.mon.Settings().Alerts.LowThreshold != 20 {
		t.Errorf("restart restored low threshold %d", next.mon.Settings().Alerts.LowThreshold)
	}
}

func TestTestNotification(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.notifier.testErr = errors.New("smtp: 535 auth failed")
	if err := h.mon.TestNotification(context.Background()); err == nil {
		t.Error("expected the delivery failure to be reported")
	}
	if h.notifier.tests != 1 {
		t.Errorf("TestSend calls = %d", h.notifier.tests)
	}
}

func TestSendDigest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.net.Add("10.0.0.5", printer(60))
	ctx := context.Background()
	h.mon.AddDevice(ctx, "10.0.0.5", "")
	h.mon.AddDevice(ctx, "10.0.0.6", "")

	if err := h.mon.SendDigest(ctx); err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	sent := h.notifier.messages()
	if len(sent) != 1 || sent[0].kind != digestType {
		t.Fatalf("dispatched = %+v", sent)
	}
	if !strings.Contains(sent[0].subject, "1/2 printers online") {
		t.Errorf("subject = %q", sent[0].subject)
	}
	if !strings.Contains(sent[0].message, "10.0.0.6") {
		t.Errorf("offline printer missing from digest:\n%s", sent[0].message)
	}
}

func TestScheduleDigestFollowsSettings(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.mon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.mon.Stop()

	if _, err := h.mon.UpdateSettings(ctx, func(s *settings.Settings) {
		s.Notifications.Digest.Enabled = true
		s.Notifications.Digest.Time = "06:45"
	}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	h.mon.mu.Lock()
	entry := h.mon.digestEntry
	h.mon.mu.Unlock()
	if entry == 0 {
		t.Fatal("digest not scheduled after enabling it")
	}

	if _, err := h.mon.UpdateSettings(ctx, func(s *settings.Settings) { s.Notifications.Digest.Enabled = false }); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	h.mon.mu.Lock()
	entry = h.mon.digestEntry
	h.mon.mu.Unlock()
	if entry != 0 {
		t.Error("digest still scheduled after disabling it")
	}
}
