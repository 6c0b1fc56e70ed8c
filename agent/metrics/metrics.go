// Package metrics exposes poll, scan and alert instrumentation to
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"printwatch/common/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. Each instance registers on its own
// registerer so tests can build isolated copies.
type Metrics struct {
	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	alerts       *prometheus.CounterVec
	scans        *prometheus.CounterVec
	scanRunning  prometheus.Gauge
	devices      *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "printwatch_polls_total",
				Help: "Device polls by result (online or offline).",
			},
			[]string{"result"},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "printwatch_poll_duration_seconds",
				Help:    "Duration of single device polls in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "printwatch_alerts_total",
				Help: "Alert events created by type.",
			},
			[]string{"type"},
		),
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "printwatch_scans_total",
				Help: "Discovery scans by outcome (completed or canceled).",
			},
			[]string{"outcome"},
		),
		scanRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "printwatch_scan_running",
				Help: "1 while a discovery scan is in progress.",
			},
		),
		devices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "printwatch_fleet_devices",
				Help: "Registered devices by state after the last poll cycle.",
			},
			[]string{"state"},
		),
	}
	reg.MustRegister(m.polls, m.pollDuration, m.alerts, m.scans, m.scanRunning, m.devices)
	return m
}

// ObservePoll records one device poll. Its signature matches
// fleet.PollObserver.
func (m *Metrics) ObservePoll(_ string, online bool, elapsed time.Duration) {
	result := "offline"
	if online {
		result = "online"
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollDuration.Observe(elapsed.Seconds())
}

// ObserveAlert counts one created alert event.
func (m *Metrics) ObserveAlert(ev storage.AlertEvent) {
	m.alerts.WithLabelValues(string(ev.Type)).Inc()
}

// ScanStarted marks a discovery scan as running.
func (m *Metrics) ScanStarted() { m.scanRunning.Set(1) }

// ScanFinished clears the running gauge and counts the outcome.
func (m *Metrics) ScanFinished(canceled bool) {
	m.scanRunning.Set(0)
	outcome := "completed"
	if canceled {
		outcome = "canceled"
	}
	m.scans.WithLabelValues(outcome).Inc()
}

// ObserveFleet sets the device gauges from the post-cycle fleet. Its
// signature matches fleet.CycleHook.
func (m *Metrics) ObserveFleet(_ context.Context, devices []storage.DeviceSnapshot) {
	var online, offline, never int
	for _, d := range devices {
		switch {
		case d.Online:
			online++
		case d.LastUpdated.IsZero():
			never++
		default:
			offline++
		}
	}
	m.devices.WithLabelValues("online").Set(float64(online))
	m.devices.WithLabelValues("offline").Set(float64(offline))
	m.devices.WithLabelValues("never_polled").Set(float64(never))
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
