// Package storage provides the canonical data structures shared by the
// poller, fleet registry, history recorder, alert engine and persistence layer.
package storage

import (
	"math"
	"strings"
	"time"
)

// DeviceStatus is the normalized printer status.
type DeviceStatus string

const (
	StatusOther    DeviceStatus = "other"
	StatusUnknown  DeviceStatus = "unknown"
	StatusIdle     DeviceStatus = "idle"
	StatusPrinting DeviceStatus = "printing"
	StatusWarmup   DeviceStatus = "warmup"
	StatusWaiting  DeviceStatus = "waiting"
	StatusOffline  DeviceStatus = "offline"
)

// SupplyType is the recognized consumable category.
type SupplyType string

const (
	SupplyToner       SupplyType = "toner"
	SupplyDrum        SupplyType = "drum"
	SupplyFuser       SupplyType = "fuser"
	SupplyTransfer    SupplyType = "transfer"
	SupplyMaintenance SupplyType = "maintenance"
	SupplyWaste       SupplyType = "waste"
	// SupplyOther is a classification result only; it is never stored.
	SupplyOther SupplyType = "other"
)

// Supply is one validated consumable row.
type Supply struct {
	Name         string     `json:"name"`
	CurrentLevel int        `json:"current_level"`
	MaxCapacity  int        `json:"max_capacity"`
	Type         SupplyType `json:"type"`
}

// Percent returns round(current/max*100). It is 0 when max is not positive
// and -1 when the device reports a negative (sentinel) level.
func (s Supply) Percent() int {
	if s.MaxCapacity <= 0 {
		return 0
	}
	if s.CurrentLevel < 0 {
		return -1
	}
	return int(math.Round(float64(s.CurrentLevel) / float64(s.MaxCapacity) * 100))
}

// TrayStatus is the normalized prtInputStatus availability.
type TrayStatus string

const (
	TrayOK          TrayStatus = "ok"
	TrayWarning     TrayStatus = "warning"
	TrayError       TrayStatus = "error"
	TrayOffline     TrayStatus = "offline"
	TrayUnavailable TrayStatus = "unavailable"
	TrayUnknown     TrayStatus = "unknown"
)

// CapacityStatus is the coarse paper state reported through level sentinels.
type CapacityStatus string

const (
	CapacityHasPaper CapacityStatus = "has-paper"
	CapacityEmpty    CapacityStatus = "empty"
)

// Tray is one validated paper input row.
type Tray struct {
	Name           string          `json:"name"`
	MaxCapacity    *int            `json:"max_capacity"`
	CurrentLevel   *int            `json:"current_level"`
	Status         TrayStatus      `json:"status"`
	MediaName      *string         `json:"media_name"`
	CapacityStatus *CapacityStatus `json:"capacity_status"`
}

// ErrorSeverity is the severity of a device-reported alert row.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityWarning  ErrorSeverity = "warning"
)

// DeviceError is one entry from the device's own alert table.
type DeviceError struct {
	Severity    ErrorSeverity `json:"severity"`
	Description string        `json:"description"`
	Timestamp   time.Time     `json:"timestamp"`
}

// NetworkIdentity is the sysName/sysLocation/sysContact triple.
type NetworkIdentity struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
	Contact  *string `json:"contact"`
}

// DeviceSnapshot is the canonical record for one monitored device.
type DeviceSnapshot struct {
	Address     string          `json:"address"`
	Name        string          `json:"name"`
	Model       string          `json:"model"`
	Serial      *string         `json:"serial"`
	Network     NetworkIdentity `json:"network"`
	Online      bool            `json:"online"`
	Status      DeviceStatus    `json:"status"`
	TotalPages  int64           `json:"total_pages"`
	LastUpdated time.Time       `json:"last_updated"`
	Supplies    []Supply        `json:"supplies"`
	Trays       []Tray          `json:"trays"`
	Errors      []DeviceError   `json:"errors"`
}

// NewDeviceSnapshot returns the record of a device that has never been
// successfully polled: status unknown and every collection empty.
func NewDeviceSnapshot(address string) DeviceSnapshot {
	return DeviceSnapshot{
		Address:  address,
		Status:   StatusUnknown,
		Supplies: []Supply{},
		Trays:    []Tray{},
		Errors:   []DeviceError{},
	}
}

// Clone returns a deep copy so callers never share slices with the registry.
func (d DeviceSnapshot) Clone() DeviceSnapshot {
	out := d
	out.Serial = cloneString(d.Serial)
	out.Network = NetworkIdentity{
		Name:     cloneString(d.Network.Name),
		Location: cloneString(d.Network.Location),
		Contact:  cloneString(d.Network.Contact),
	}
	out.Supplies = append([]Supply(nil), d.Supplies...)
	out.Errors = append([]DeviceError(nil), d.Errors...)
	out.Trays = make([]Tray, len(d.Trays))
	for i, t := range d.Trays {
		c := t
		c.MaxCapacity = cloneInt(t.MaxCapacity)
		c.CurrentLevel = cloneInt(t.CurrentLevel)
		c.MediaName = cloneString(t.MediaName)
		if t.CapacityStatus != nil {
			cs := *t.CapacityStatus
			c.CapacityStatus = &cs
		}
		out.Trays[i] = c
	}
	if out.Supplies == nil {
		out.Supplies = []Supply{}
	}
	if out.Errors == nil {
		out.Errors = []DeviceError{}
	}
	return out
}

// DisplayName returns the best human label for the device.
func (d DeviceSnapshot) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	if d.Network.Name != nil && *d.Network.Name != "" {
		return *d.Network.Name
	}
	return d.Address
}

// SupplyPercentages maps supply name to percentage.
func (d DeviceSnapshot) SupplyPercentages() map[string]int {
	out := make(map[string]int, len(d.Supplies))
	for _, s := range d.Supplies {
		out[s.Name] = s.Percent()
	}
	return out
}

// DeviceSample is one device's entry inside a HistorySnapshot.
type DeviceSample struct {
	Address    string         `json:"address"`
	Name       string         `json:"name"`
	Status     DeviceStatus   `json:"status"`
	Online     bool           `json:"online"`
	TotalPages int64          `json:"total_pages"`
	Supplies   map[string]int `json:"supplies"`
}

// HistorySnapshot is an immutable, timestamped sample of the whole fleet.
type HistorySnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Devices   []DeviceSample `json:"devices"`
}

// DailyDeviceStats is one device's rollup for a calendar day.
type DailyDeviceStats struct {
	StartPages    int64          `json:"start_pages"`
	EndPages      int64          `json:"end_pages"`
	Samples       int            `json:"samples"`
	OnlineSamples int            `json:"online_samples"`
	Supplies      map[string]int `json:"supplies"`
}

// PagesPrinted is the day's page delta. A counter that went backwards
// (device replaced) counts as zero.
func (s DailyDeviceStats) PagesPrinted() int64 {
	if s.EndPages < s.StartPages {
		return 0
	}
	return s.EndPages - s.StartPages
}

// Availability returns the online share of samples in percent.
func (s DailyDeviceStats) Availability() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.OnlineSamples) / float64(s.Samples) * 100
}

// DailyAggregate is the per-calendar-day rollup keyed by "2006-01-02".
type DailyAggregate struct {
	Date    string                       `json:"date"`
	Devices map[string]*DailyDeviceStats `json:"devices"`
}

// Clone deep-copies the aggregate for readers.
func (a *DailyAggregate) Clone() DailyAggregate {
	out := DailyAggregate{Date: a.Date, Devices: make(map[string]*DailyDeviceStats, len(a.Devices))}
	for addr, s := range a.Devices {
		c := *s
		c.Supplies = make(map[string]int, len(s.Supplies))
		for k, v := range s.Supplies {
			c.Supplies[k] = v
		}
		out.Devices[addr] = &c
	}
	return out
}

// PagesPrinted sums the page delta of every device for the day.
func (a DailyAggregate) PagesPrinted() int64 {
	var total int64
	for _, s := range a.Devices {
		total += s.PagesPrinted()
	}
	return total
}

// AlertType enumerates alert conditions.
type AlertType string

const (
	AlertOffline        AlertType = "offline"
	AlertBackOnline     AlertType = "back-online"
	AlertLowSupply      AlertType = "low-supply"
	AlertCriticalSupply AlertType = "critical-supply"
)

// AlertEvent is one fired alert.
type AlertEvent struct {
	ID             string                 `json:"id"`
	Type           AlertType              `json:"type"`
	DeviceAddress  string                 `json:"device_address"`
	DeviceName     string                 `json:"device_name"`
	SupplyName     *string                `json:"supply_name,omitempty"`
	Subject        string                 `json:"subject"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
}

// SupplyKey returns the supply name or "" when absent.
func (e AlertEvent) SupplyKey() string {
	if e.SupplyName == nil {
		return ""
	}
	return *e.SupplyName
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

// StringPtr is a small helper for optional fields.
func StringPtr(s string) *string { return &s }

// IntPtr is a small helper for optional fields.
func IntPtr(n int) *int { return &n }
