// Package history keeps a bounded ring of fleet samples and per-day
// rollups, and derives fleet analytics from them.
package history

import (
	"sort"
	"sync"
	"time"

	"printwatch/common/storage"
)

const dateLayout = "2006-01-02"

// Defaults applied when the recorder is configured with zero values.
const (
	DefaultCapacity      = 1440
	DefaultRetentionDays = 30
)

// Recorder is the single writer of the history ring and daily map. Reads
// return copies so reporting never observes a torn sample.
type Recorder struct {
	mu        sync.RWMutex
	ring      []storage.HistorySnapshot
	head      int // index of the oldest sample
	count     int
	daily     map[string]*storage.DailyAggregate
	retention int
	now       func() time.Time
}

// NewRecorder returns an empty recorder. A nil clock uses time.Now.
func NewRecorder(capacity, retentionDays int, now func() time.Time) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		ring:      make([]storage.HistorySnapshot, capacity),
		daily:     make(map[string]*storage.DailyAggregate),
		retention: retentionDays,
		now:       now,
	}
}

// Capacity returns the ring size.
func (r *Recorder) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ring)
}

// Configure resizes the ring, keeping the newest samples, and changes the
// daily retention.
func (r *Recorder) Configure(capacity, retentionDays int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if retentionDays > 0 {
		r.retention = retentionDays
	}
	if capacity <= 0 || capacity == len(r.ring) {
		return
	}
	snaps := r.orderedLocked()
	if len(snaps) > capacity {
		snaps = snaps[len(snaps)-capacity:]
	}
	r.ring = make([]storage.HistorySnapshot, capacity)
	copy(r.ring, snaps)
	r.head = 0
	r.count = len(snaps)
}

// Record appends one fleet sample, updates today's aggregate and purges
// aggregates past the retention window.
func (r *Recorder) Record(devices []storage.DeviceSnapshot) storage.HistorySnapshot {
	now := r.now()
	snap := storage.HistorySnapshot{Timestamp: now, Devices: make([]storage.DeviceSample, 0, len(devices))}
	for _, d := range devices {
		snap.Devices = append(snap.Devices, storage.DeviceSample{
			Address:    d.Address,
			Name:       d.DisplayName(),
			Status:     d.Status,
			Online:     d.Online,
			TotalPages: d.TotalPages,
			Supplies:   d.SupplyPercentages(),
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(snap)
	r.aggregateLocked(snap)
	r.purgeLocked(now)
	return cloneSnapshot(snap)
}

func (r *Recorder) appendLocked(snap storage.HistorySnapshot) {
	if r.count < len(r.ring) {
		r.ring[(r.head+r.count)%len(r.ring)] = snap
		r.count++
		return
	}
	r.ring[r.head] = snap
	r.head = (r.head + 1) % len(r.ring)
}

func (r *Recorder) aggregateLocked(snap storage.HistorySnapshot) {
	key := snap.Timestamp.Format(dateLayout)
	agg, ok := r.daily[key]
	if !ok {
		agg = &storage.DailyAggregate{Date: key, Devices: map[string]*storage.DailyDeviceStats{}}
		r.daily[key] = agg
	}
	for _, d := range snap.Devices {
		stats, ok := agg.Devices[d.Address]
		if !ok {
			stats = &storage.DailyDeviceStats{StartPages: d.TotalPages}
			agg.Devices[d.Address] = stats
		} else if stats.StartPages == 0 && d.TotalPages > 0 {
			// The counter was unknown at the first sample of the day.
			stats.StartPages = d.TotalPages
		}
		stats.EndPages = d.TotalPages
		stats.Samples++
		if d.Online {
			stats.OnlineSamples++
		}
		stats.Supplies = copySupplies(d.Supplies)
	}
}

func (r *Recorder) purgeLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -r.retention).Format(dateLayout)
	for key := range r.daily {
		if key < cutoff {
			delete(r.daily, key)
		}
	}
}

func (r *Recorder) orderedLocked() []storage.HistorySnapshot {
	out := make([]storage.HistorySnapshot, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.ring[(r.head+i)%len(r.ring)])
	}
	return out
}

// Snapshots returns every retained sample, oldest first.
func (r *Recorder) Snapshots() []storage.HistorySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ordered := r.orderedLocked()
	out := make([]storage.HistorySnapshot, len(ordered))
	for i, s := range ordered {
		out[i] = cloneSnapshot(s)
	}
	return out
}

// Recent returns the samples taken within window of now, oldest first.
// A non-positive window returns every sample.
func (r *Recorder) Recent(window time.Duration) []storage.HistorySnapshot {
	all := r.Snapshots()
	if window <= 0 {
		return all
	}
	cutoff := r.now().Add(-window)
	i := sort.Search(len(all), func(i int) bool { return !all[i].Timestamp.Before(cutoff) })
	return all[i:]
}

// DevicePoint is one device's sample at a point in time.
type DevicePoint struct {
	Timestamp time.Time            `json:"timestamp"`
	Sample    storage.DeviceSample `json:"sample"`
}

// ForDevice returns the samples of one device within window, oldest first.
func (r *Recorder) ForDevice(address string, window time.Duration) []DevicePoint {
	out := []DevicePoint{}
	for _, snap := range r.Recent(window) {
		for _, d := range snap.Devices {
			if d.Address == address {
				out = append(out, DevicePoint{Timestamp: snap.Timestamp, Sample: d})
				break
			}
		}
	}
	return out
}

// Daily returns the aggregates of the last days calendar days (today
// included), oldest first. A non-positive days returns every aggregate.
func (r *Recorder) Daily(days int) []storage.DailyAggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := ""
	if days > 0 {
		cutoff = r.now().AddDate(0, 0, -(days - 1)).Format(dateLayout)
	}
	out := make([]storage.DailyAggregate, 0, len(r.daily))
	for key, agg := range r.daily {
		if key >= cutoff {
			out = append(out, agg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Restore replaces the recorder state with persisted data. Samples beyond
// capacity keep the newest.
func (r *Recorder) Restore(snaps []storage.HistorySnapshot, daily []storage.DailyAggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := append([]storage.HistorySnapshot(nil), snaps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	if len(sorted) > len(r.ring) {
		sorted = sorted[len(sorted)-len(r.ring):]
	}
	for i := range r.ring {
		r.ring[i] = storage.HistorySnapshot{}
	}
	copy(r.ring, sorted)
	r.head = 0
	r.count = len(sorted)

	r.daily = make(map[string]*storage.DailyAggregate, len(daily))
	for i := range daily {
		agg := daily[i].Clone()
		r.daily[agg.Date] = &agg
	}
	r.purgeLocked(r.now())
}

func cloneSnapshot(s storage.HistorySnapshot) storage.HistorySnapshot {
	out := storage.HistorySnapshot{Timestamp: s.Timestamp, Devices: make([]storage.DeviceSample, len(s.Devices))}
	for i, d := range s.Devices {
		d.Supplies = copySupplies(d.Supplies)
		out.Devices[i] = d
	}
	return out
}

func copySupplies(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
