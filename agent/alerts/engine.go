// Package alerts evaluates polled devices against offline and supply
// thresholds, keeps the alert log, and dispatches notifications.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"printwatch/agent/schedule"
	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/storage"

	"github.com/google/uuid"
)

var (
	// ErrAlertNotFound is returned for an unknown alert ID.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrDispatchDisabled is returned when no notification channel is enabled.
	ErrDispatchDisabled = errors.New("no notification channel enabled")
)

const (
	defaultMaxEvents = 1000
	dispatchTimeout  = 2 * time.Minute
)

// Dispatcher delivers one notification. Engine calls it fire-and-forget.
type Dispatcher interface {
	Dispatch(ctx context.Context, subject, message string, alertType storage.AlertType) error
}

type cooldownKey struct {
	address string
	kind    storage.AlertType
	supply  string
}

func keyOf(e storage.AlertEvent) cooldownKey {
	return cooldownKey{address: e.DeviceAddress, kind: e.Type, supply: e.SupplyKey()}
}

// Engine evaluates devices after each poll cycle. Cooldowns and offline
// timers live only in memory; the event log is restored through Load.
type Engine struct {
	settings   func() settings.Settings
	now        func() time.Time
	log        *logger.Logger
	dispatcher Dispatcher
	observers  []func(storage.AlertEvent)

	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
	offline   map[string]time.Time
	events    []storage.AlertEvent // oldest first

	inflight sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDispatcher sets the notification sink. Without one, events are only
// recorded.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithLogger sets the logger; logger.Global is used otherwise.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver registers a callback run for every created event.
func WithObserver(fn func(storage.AlertEvent)) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

// NewEngine returns an engine reading thresholds from current at every
// evaluation, so settings updates apply on the next cycle.
func NewEngine(current func() settings.Settings, opts ...Option) *Engine {
	e := &Engine{
		settings:  current,
		now:       time.Now,
		log:       logger.Global,
		cooldowns: make(map[cooldownKey]time.Time),
		offline:   make(map[string]time.Time),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate checks every device and returns the events it created. Events
// are appended to the log before any dispatch is attempted.
func (e *Engine) Evaluate(ctx context.Context, devices []storage.DeviceSnapshot) []storage.AlertEvent {
	cfg := e.settings()
	now := e.now()

	e.mu.Lock()
	var created []storage.AlertEvent
	for _, d := range devices {
		created = append(created, e.evaluateAvailability(d, cfg.Alerts, now)...)
		created = append(created, e.evaluateSupplies(d, cfg.Alerts, now)...)
	}
	e.append(created, cfg.Alerts.MaxEvents)
	e.mu.Unlock()

	for _, ev := range created {
		for _, fn := range e.observers {
			fn(ev)
		}
	}
	if len(created) > 0 {
		e.dispatch(ctx, cfg.Notifications.Schedule, created, now)
	}
	return created
}

func (e *Engine) evaluateAvailability(d storage.DeviceSnapshot, cfg settings.AlertSettings, now time.Time) []storage.AlertEvent {
	start, tracking := e.offline[d.Address]

	if d.Online {
		if !tracking {
			return nil
		}
		delete(e.offline, d.Address)
		// Recovery is reported regardless of any cooldown.
		downtime := now.Sub(start)
		ev := e.newEvent(d, storage.AlertBackOnline, nil, now)
		ev.Subject = fmt.Sprintf("Printer back online: %s", d.DisplayName())
		ev.Message = fmt.Sprintf("%s (%s) is responding again after %s offline.",
			d.DisplayName(), d.Address, formatDuration(downtime))
		ev.Details = map[string]interface{}{
			"downtime_minutes": round1(downtime.Minutes()),
			"offline_since":    start.Format(time.RFC3339),
		}
		return []storage.AlertEvent{ev}
	}

	if !tracking {
		e.offline[d.Address] = now
		return nil
	}
	threshold := time.Duration(cfg.OfflineMinutes) * time.Minute
	elapsed := now.Sub(start)
	if elapsed < threshold {
		return nil
	}
	ev := e.newEvent(d, storage.AlertOffline, nil, now)
	if !e.arm(keyOf(ev), cfg, now) {
		return nil
	}
	ev.Subject = fmt.Sprintf("Printer offline: %s", d.DisplayName())
	ev.Message = fmt.Sprintf("%s (%s) has not responded for %s.",
		d.DisplayName(), d.Address, formatDuration(elapsed))
	ev.Details = map[string]interface{}{
		"offline_minutes":   round1(elapsed.Minutes()),
		"offline_since":     start.Format(time.RFC3339),
		"threshold_minutes": cfg.OfflineMinutes,
	}
	return []storage.AlertEvent{ev}
}

func (e *Engine) evaluateSupplies(d storage.DeviceSnapshot, cfg settings.AlertSettings, now time.Time) []storage.AlertEvent {
	var out []storage.AlertEvent
	for _, s := range d.Supplies {
		if !AlertableSupply(s.Name) {
			continue
		}
		pct := s.Percent()
		var kind storage.AlertType
		switch {
		case pct < 0:
			continue
		case pct < cfg.CriticalThreshold:
			kind = storage.AlertCriticalSupply
		case pct < cfg.LowThreshold:
			kind = storage.AlertLowSupply
		default:
			continue
		}

		ev := e.newEvent(d, kind, storage.StringPtr(s.Name), now)
		if !e.arm(keyOf(ev), cfg, now) {
			continue
		}
		label := "low"
		threshold := cfg.LowThreshold
		if kind == storage.AlertCriticalSupply {
			label = "critically low"
			threshold = cfg.CriticalThreshold
		}
		ev.Subject = fmt.Sprintf("%s %s on %s", s.Name, label, d.DisplayName())
		ev.Message = fmt.Sprintf("%s on %s (%s) is at %d%% (threshold %d%%).",
			s.Name, d.DisplayName(), d.Address, pct, threshold)
		ev.Details = map[string]interface{}{
			"percent":       pct,
			"threshold":     threshold,
			"current_level": s.CurrentLevel,
			"max_capacity":  s.MaxCapacity,
		}
		out = append(out, ev)
	}
	return out
}

// AlertableSupply reports whether a supply takes part in threshold
// alerting: toner or ink, never drum or fuser units.
func AlertableSupply(name string) bool {
	n := strings.ToLower(name)
	if strings.Contains(n, "drum") || strings.Contains(n, "fuser") {
		return false
	}
	return strings.Contains(n, "toner") || strings.Contains(n, "ink")
}

// arm records a fire for key unless it is still cooling down.
func (e *Engine) arm(key cooldownKey, cfg settings.AlertSettings, now time.Time) bool {
	cooldown := time.Duration(cfg.CooldownHours * float64(time.Hour))
	if last, ok := e.cooldowns[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	e.cooldowns[key] = now
	return true
}

func (e *Engine) newEvent(d storage.DeviceSnapshot, kind storage.AlertType, supply *string, now time.Time) storage.AlertEvent {
	return storage.AlertEvent{
		ID:            uuid.NewString(),
		Type:          kind,
		DeviceAddress: d.Address,
		DeviceName:    d.DisplayName(),
		SupplyName:    supply,
		CreatedAt:     now,
	}
}

func (e *Engine) append(created []storage.AlertEvent, max int) {
	if max <= 0 {
		max = defaultMaxEvents
	}
	e.events = append(e.events, created...)
	if over := len(e.events) - max; over > 0 {
		e.events = append([]storage.AlertEvent(nil), e.events[over:]...)
	}
}

func (e *Engine) dispatch(ctx context.Context, sched settings.ScheduleSettings, events []storage.AlertEvent, now time.Time) {
	if e.dispatcher == nil {
		return
	}
	window, err := schedule.WindowFromSettings(sched)
	if err != nil {
		if e.log != nil {
			e.log.Warn("Invalid notification schedule, dispatching anyway", "error", err)
		}
		window = schedule.Always
	}
	if !window.Contains(now) {
		if e.log != nil {
			e.log.Debug("Notification dispatch outside schedule window", "events", len(events))
		}
		return
	}

	if c, ok := e.dispatcher.(channelReporter); ok && !c.Enabled() {
		if e.log != nil {
			e.log.Debug("No notification channel enabled, skipping dispatch", "events", len(events))
		}
		return
	}

	for _, ev := range events {
		ev := ev
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
			defer cancel()
			err := e.dispatcher.Dispatch(dctx, ev.Subject, ev.Message, ev.Type)
			switch {
			case err == nil || e.log == nil:
			case errors.Is(err, ErrDispatchDisabled):
				e.log.Debug("Alert notification skipped", "alert_id", ev.ID, "error", err)
			default:
				e.log.Warn("Alert notification failed", "alert_id", ev.ID, "type", string(ev.Type), "ip", ev.DeviceAddress, "error", err)
			}
		}()
	}
}

// channelReporter is implemented by dispatchers that know up front whether
// any delivery channel is enabled.
type channelReporter interface {
	Enabled() bool
}

// Wait blocks until every dispatch started so far has returned.
func (e *Engine) Wait() { e.inflight.Wait() }

// Forget drops the offline timer of a device removed from the fleet.
func (e *Engine) Forget(address string) {
	e.mu.Lock()
	delete(e.offline, address)
	e.mu.Unlock()
}

// List returns the alert log, newest first.
func (e *Engine) List() []storage.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]storage.AlertEvent, len(e.events))
	for i, ev := range e.events {
		out[len(e.events)-1-i] = ev
	}
	return out
}

// UnacknowledgedCount counts events not yet acknowledged.
func (e *Engine) UnacknowledgedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if !ev.Acknowledged {
			n++
		}
	}
	return n
}

// Acknowledge marks one event acknowledged and clears the cooldown of its
// condition so it may fire again on the next evaluation.
func (e *Engine) Acknowledge(id, by string) (storage.AlertEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.events {
		if e.events[i].ID != id {
			continue
		}
		e.ack(&e.events[i], by, e.now())
		return e.events[i], nil
	}
	return storage.AlertEvent{}, ErrAlertNotFound
}

// AcknowledgeAll acknowledges every open event and returns how many changed.
func (e *Engine) AcknowledgeAll(by string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	n := 0
	for i := range e.events {
		if !e.events[i].Acknowledged {
			e.ack(&e.events[i], by, now)
			n++
		}
	}
	return n
}

func (e *Engine) ack(ev *storage.AlertEvent, by string, now time.Time) {
	at := now
	ev.Acknowledged = true
	ev.AcknowledgedBy = by
	ev.AcknowledgedAt = &at
	delete(e.cooldowns, keyOf(*ev))
}

// Delete removes one event from the log.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.events {
		if e.events[i].ID == id {
			e.events = append(e.events[:i], e.events[i+1:]...)
			return nil
		}
	}
	return ErrAlertNotFound
}

// Clear empties the alert log. Cooldowns are left alone.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.events = nil
	e.mu.Unlock()
}

// Load replaces the log with persisted events, sorted oldest first and
// trimmed to the configured bound.
func (e *Engine) Load(events []storage.AlertEvent) {
	sorted := append([]storage.AlertEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
	e.append(sorted, e.settings().Alerts.MaxEvents)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "less than a minute"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case m == 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d h %d min", h, m)
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
