package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	commonstorage "printwatch/common/storage"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to create in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSnapshot(addr string) commonstorage.DeviceSnapshot {
	d := commonstorage.NewDeviceSnapshot(addr)
	d.Name = "HP LaserJet"
	d.Model = "HP LaserJet M404"
	d.Serial = commonstorage.StringPtr("PHB1234")
	d.Online = true
	d.Status = commonstorage.StatusIdle
	d.TotalPages = 4200
	d.LastUpdated = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	d.Supplies = []commonstorage.Supply{{Name: "Black Toner", CurrentLevel: 40, MaxCapacity: 100, Type: commonstorage.SupplyToner}}
	has := commonstorage.CapacityHasPaper
	d.Trays = []commonstorage.Tray{{Name: "Tray 2", MaxCapacity: commonstorage.IntPtr(500), Status: commonstorage.TrayOK, CapacityStatus: &has}}
	return d
}

func TestSQLiteStore_MigratesToLatest(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(t)
	v, err := store.schemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if v != SchemaVersion() {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion())
	}
	if err := store.migrate(context.Background()); err != nil {
		t.Errorf("second migrate should be a no-op: %v", err)
	}
}

func TestSQLiteStore_Devices(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(t)
	ctx := context.Background()

	first := []DeviceRecord{
		{Snapshot: testSnapshot("10.0.0.9"), Community: "public"},
		{Snapshot: testSnapshot("10.0.0.10"), Community: "private"},
	}
	if err := store.SaveDevices(ctx, first); err != nil {
		t.Fatalf("SaveDevices: %v", err)
	}

	loaded, err := store.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d devices, want 2", len(loaded))
	}
	i := slices.IndexFunc(loaded, func(r DeviceRecord) bool { return r.Snapshot.Address == "10.0.0.9" })
	if i < 0 {
		t.Fatalf("10.0.0.9 missing from %+v", loaded)
	}
	got := loaded[i]
	if got.Community != "public" || *got.Snapshot.Serial != "PHB1234" || got.Snapshot.TotalPages != 4200 {
		t.Errorf("device round trip lost fields: %+v", got)
	}
	if len(got.Snapshot.Trays) != 1 || *got.Snapshot.Trays[0].CapacityStatus != commonstorage.CapacityHasPaper {
		t.Errorf("tray round trip lost fields: %+v", got.Snapshot.Trays)
	}
	if !got.Snapshot.LastUpdated.Equal(testSnapshot("x").LastUpdated) {
		t.Errorf("LastUpdated = %v", got.Snapshot.LastUpdated)
	}

	// A save replaces the previous batch.
	if err := store.SaveDevices(ctx, first[1:]); err != nil {
		t.Fatalf("SaveDevices: %v", err)
	}
	loaded, err = store.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Snapshot.Address != "10.0.0.10" {
		t.Errorf("after replace loaded %+v, want only 10.0.0.10", loaded)
	}
}

func TestSQLiteStore_Alerts(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	events := []commonstorage.AlertEvent{
		{ID: "b", Type: commonstorage.AlertLowSupply, DeviceAddress: "10.0.0.9", SupplyName: commonstorage.StringPtr("Black Toner"), CreatedAt: base.Add(time.Minute)},
		{ID: "a", Type: commonstorage.AlertOffline, DeviceAddress: "10.0.0.10", CreatedAt: base, Acknowledged: true, AcknowledgedBy: "ops"},
	}
	if err := store.SaveAlerts(ctx, events); err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}
	loaded, err := store.LoadAlerts(ctx)
	if err != nil {
		t.Fatalf("LoadAlerts: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Fatalf("expected oldest first, got %+v", loaded)
	}
	if !loaded[0].Acknowledged || loaded[0].AcknowledgedBy != "ops" {
		t.Errorf("acknowledgement lost: %+v", loaded[0])
	}
	if loaded[1].SupplyKey() != "Black Toner" {
		t.Errorf("supply name lost: %+v", loaded[1])
	}

	if err := store.SaveAlerts(ctx, nil); err != nil {
		t.Fatalf("SaveAlerts(nil): %v", err)
	}
	if loaded, _ := store.LoadAlerts(ctx); len(loaded) != 0 {
		t.Errorf("expected empty log, got %d", len(loaded))
	}
}

func TestSQLiteStore_History(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	snaps := []commonstorage.HistorySnapshot{
		{Timestamp: base, Devices: []commonstorage.DeviceSample{{Address: "10.0.0.9", TotalPages: 100, Online: true}}},
		{Timestamp: base, Devices: []commonstorage.DeviceSample{{Address: "10.0.0.9", TotalPages: 105, Online: true}}},
	}
	daily := []commonstorage.DailyAggregate{{
		Date: "2024-06-03",
		Devices: map[string]*commonstorage.DailyDeviceStats{
			"10.0.0.9": {StartPages: 100, EndPages: 105, Samples: 2, OnlineSamples: 2, Supplies: map[string]int{"Black Toner": 40}},
		},
	}}
	if err := store.SaveHistory(ctx, snaps, daily); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	gotSnaps, gotDaily, err := store.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(gotSnaps) != 2 || gotSnaps[0].Devices[0].TotalPages != 100 || gotSnaps[1].Devices[0].TotalPages != 105 {
		t.Errorf("snapshots out of order or lost: %+v", gotSnaps)
	}
	if len(gotDaily) != 1 || gotDaily[0].PagesPrinted() != 5 {
		t.Errorf("daily aggregate round trip failed: %+v", gotDaily)
	}
}

func TestSQLiteStore_ConfigValues(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(t)
	ctx := context.Background()

	var dest map[string]int
	if err := store.GetConfigValue(ctx, "missing", &dest); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetConfigValue(ctx, "limits", map[string]int{"low": 20}); err != nil {
		t.Fatalf("SetConfigValue: %v", err)
	}
	if err := store.SetConfigValue(ctx, "limits", map[string]int{"low": 25}); err != nil {
		t.Fatalf("SetConfigValue overwrite: %v", err)
	}
	if err := store.GetConfigValue(ctx, "limits", &dest); err != nil || dest["low"] != 25 {
		t.Errorf("GetConfigValue = %v, %v", dest, err)
	}
	if err := store.DeleteConfigValue(ctx, "limits"); err != nil {
		t.Fatalf("DeleteConfigValue: %v", err)
	}
	if err := store.GetConfigValue(ctx, "limits", &dest); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestOpenRotatesCorruptDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "printwatch.db")
	if err := os.WriteFile(dbPath, []byte(strings.Repeat("not a database ", 512)), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.SaveDevices(context.Background(), []DeviceRecord{{Snapshot: testSnapshot("10.0.0.9")}}); err != nil {
		t.Fatalf("fresh database unusable: %v", err)
	}
	matches, _ := filepath.Glob(dbPath + ".backup.*")
	if len(matches) != 1 {
		t.Errorf("expected one backup of the corrupt file, got %v", matches)
	}
}
