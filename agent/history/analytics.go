package history

import (
	"time"

	"printwatch/common/storage"
)

// Summary is the fleet analytics overview.
type Summary struct {
	GeneratedAt          time.Time `json:"generated_at"`
	Devices              int       `json:"devices"`
	Online               int       `json:"online"`
	Offline              int       `json:"offline"`
	NeverPolled          int       `json:"never_polled"`
	TotalPages           int64     `json:"total_pages"`
	PagesToday           int64     `json:"pages_today"`
	LowSupplies          int       `json:"low_supplies"`
	CriticalSupplies     int       `json:"critical_supplies"`
	DevicesWithErrors    int       `json:"devices_with_errors"`
	Availability         float64   `json:"availability_pct"`
	UnacknowledgedAlerts int       `json:"unacknowledged_alerts"`
}

// SummaryInput is the live state the summary is computed over.
type SummaryInput struct {
	Devices           []storage.DeviceSnapshot
	LowThreshold      int
	CriticalThreshold int
	Unacknowledged    int
	// Window is the span of history used for availability; 24h when zero.
	Window time.Duration
}

// Summary combines the live fleet with recorded history.
func (r *Recorder) Summary(in SummaryInput) Summary {
	out := Summary{GeneratedAt: r.now(), Devices: len(in.Devices), UnacknowledgedAlerts: in.Unacknowledged}
	for _, d := range in.Devices {
		switch {
		case d.Online:
			out.Online++
		case d.LastUpdated.IsZero():
			out.NeverPolled++
			out.Offline++
		default:
			out.Offline++
		}
		out.TotalPages += d.TotalPages
		if len(d.Errors) > 0 {
			out.DevicesWithErrors++
		}
		for _, s := range d.Supplies {
			pct := s.Percent()
			switch {
			case pct < 0:
			case pct < in.CriticalThreshold:
				out.CriticalSupplies++
			case pct < in.LowThreshold:
				out.LowSupplies++
			}
		}
	}

	if today := r.Daily(1); len(today) == 1 {
		out.PagesToday = today[0].PagesPrinted()
	}

	window := in.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	samples, online := 0, 0
	for _, snap := range r.Recent(window) {
		for _, d := range snap.Devices {
			samples++
			if d.Online {
				online++
			}
		}
	}
	if samples > 0 {
		out.Availability = float64(online) / float64(samples) * 100
	}
	return out
}
