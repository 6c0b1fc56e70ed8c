package monitor

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"printwatch/agent/fleet"
	"printwatch/common/storage"
)

// GetAll returns every registered device sorted by address.
func (m *Monitor) GetAll() []storage.DeviceSnapshot {
	return m.registry.All()
}

// Get returns one device.
func (m *Monitor) Get(address string) (storage.DeviceSnapshot, bool) {
	return m.registry.Get(address)
}

// AddDevice registers address and polls it immediately. An empty
// community uses the configured default.
func (m *Monitor) AddDevice(ctx context.Context, address, community string) (storage.DeviceSnapshot, error) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return storage.DeviceSnapshot{}, err
	}
	community = m.communityOr(community)
	if _, exists := m.registry.Get(addr); exists {
		m.registry.SetCommunity(addr, community)
	} else {
		m.registry.Put(storage.NewDeviceSnapshot(addr), community)
	}
	snap := m.scheduler.PollNow(ctx, addr, community)
	if m.log != nil {
		m.log.Info("Device added", "ip", addr, "online", snap.Online)
	}
	return snap, nil
}

// RemoveDevice unregisters address and drops its offline timer.
func (m *Monitor) RemoveDevice(address string) bool {
	if !m.registry.Remove(address) {
		return false
	}
	m.engine.Forget(address)
	if m.log != nil {
		m.log.Info("Device removed", "ip", address)
	}
	return true
}

// RefreshOne polls one registered device now. A non-empty community
// replaces the stored one.
func (m *Monitor) RefreshOne(ctx context.Context, address, community string) (storage.DeviceSnapshot, error) {
	stored, ok := m.registry.Community(address)
	if !ok {
		return storage.DeviceSnapshot{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	if community != "" && community != stored {
		m.registry.SetCommunity(address, community)
	} else {
		community = stored
	}
	return m.scheduler.PollNow(ctx, address, community), nil
}

// RefreshAll runs a full poll cycle now, including history and alert
// evaluation. A non-empty community is applied to every device first.
func (m *Monitor) RefreshAll(ctx context.Context, community string) fleet.CycleResult {
	if community != "" {
		for addr := range m.registry.Communities() {
			m.registry.SetCommunity(addr, community)
		}
	}
	return m.scheduler.RunCycle(ctx)
}

// StartScan launches a discovery scan of prefix. It returns
// fleet.ErrScanInProgress when one is already running. The scan runs in
// the monitor's lifetime context, not the caller's.
func (m *Monitor) StartScan(prefix, community string) error {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	if err := m.scanner.Start(ctx, prefix, m.communityOr(community)); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.ScanStarted()
	}
	return nil
}

// ScanStatus reports the current or last scan.
func (m *Monitor) ScanStatus() fleet.ScanStatus {
	return m.scanner.Status()
}

// CancelScan stops the running scan at its next batch boundary.
func (m *Monitor) CancelScan() bool {
	return m.scanner.Cancel()
}

// WaitScan blocks until the current scan has settled.
func (m *Monitor) WaitScan() {
	m.scanner.Wait()
}

func (m *Monitor) communityOr(community string) string {
	if strings.TrimSpace(community) != "" {
		return community
	}
	return m.settings.Get().SNMP.Community
}

func normalizeAddress(address string) (string, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return a.Unmap().String(), nil
}
