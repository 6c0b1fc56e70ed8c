// Package fleet owns the set of monitored devices: the registry, the
// periodic poll scheduler and the subnet discovery scan.
package fleet

import (
	"net/netip"
	"sort"
	"sync"

	"printwatch/common/storage"
)

type entry struct {
	snap      storage.DeviceSnapshot
	community string
	// held entries were found by a scan still in progress and are not
	// polled by the scheduler until the scan settles.
	held bool
}

// Registry maps address to snapshot under one coarse lock. Every read
// returns copies.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Target is one device the scheduler should poll.
type Target struct {
	Address   string
	Community string
	Prior     storage.DeviceSnapshot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Put inserts or replaces a device and clears any scan hold on it.
func (r *Registry) Put(snap storage.DeviceSnapshot, community string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[snap.Address] = &entry{snap: snap.Clone(), community: community}
}

// Hold inserts a device discovered by an in-flight scan. An address that is
// already registered is updated in place and keeps its current hold state.
func (r *Registry) Hold(snap storage.DeviceSnapshot, community string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[snap.Address]; ok {
		e.snap = snap.Clone()
		return
	}
	r.entries[snap.Address] = &entry{snap: snap.Clone(), community: community, held: true}
}

// Release clears every scan hold and returns how many were released.
func (r *Registry) Release() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.held {
			e.held = false
			n++
		}
	}
	return n
}

// Update replaces the snapshot of a registered device. It reports false
// when the device was removed while it was being polled.
func (r *Registry) Update(snap storage.DeviceSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[snap.Address]
	if !ok {
		return false
	}
	e.snap = snap.Clone()
	return true
}

// SetCommunity changes the community used for future polls of address.
func (r *Registry) SetCommunity(address, community string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[address]
	if !ok {
		return false
	}
	e.community = community
	return true
}

// Get returns a copy of the device snapshot.
func (r *Registry) Get(address string) (storage.DeviceSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[address]
	if !ok {
		return storage.DeviceSnapshot{}, false
	}
	return e.snap.Clone(), true
}

// Community returns the community registered for address.
func (r *Registry) Community(address string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[address]
	if !ok {
		return "", false
	}
	return e.community, true
}

// Remove deletes a device and reports whether it existed.
func (r *Registry) Remove(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[address]; !ok {
		return false
	}
	delete(r.entries, address)
	return true
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns copies of every snapshot ordered by address.
func (r *Registry) All() []storage.DeviceSnapshot {
	r.mu.RLock()
	out := make([]storage.DeviceSnapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snap.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return addressLess(out[i].Address, out[j].Address) })
	return out
}

// Communities returns the community of every registered device.
func (r *Registry) Communities() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.entries))
	for addr, e := range r.entries {
		out[addr] = e.community
	}
	return out
}

// Targets returns the devices the scheduler should poll; scan holds are
// excluded.
func (r *Registry) Targets() []Target {
	r.mu.RLock()
	out := make([]Target, 0, len(r.entries))
	for addr, e := range r.entries {
		if e.held {
			continue
		}
		out = append(out, Target{Address: addr, Community: e.community, Prior: e.snap.Clone()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return addressLess(out[i].Address, out[j].Address) })
	return out
}

func addressLess(a, b string) bool {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	if errA == nil && errB == nil {
		return pa.Less(pb)
	}
	return a < b
}
