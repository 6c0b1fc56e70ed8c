// Package monitor assembles the poller, fleet scheduler, discovery scan,
// history recorder and alert engine into one service and exposes the
// operations the outer API layer calls.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"printwatch/agent/alerts"
	"printwatch/agent/fleet"
	"printwatch/agent/history"
	"printwatch/agent/metrics"
	"printwatch/agent/poller"
	"printwatch/agent/scanner"
	agentstorage "printwatch/agent/storage"
	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/storage"

	"github.com/robfig/cron/v3"
)

// ErrDeviceNotFound is returned for operations on an unregistered address.
var ErrDeviceNotFound = errors.New("device not found")

// ErrInvalidAddress is returned when a device address is not an IP address.
var ErrInvalidAddress = errors.New("invalid device address")

// Persistence is the write-through-on-interval sink. *agentstorage.SQLiteStore
// implements it.
type Persistence interface {
	SaveDevices(ctx context.Context, devices []agentstorage.DeviceRecord) error
	LoadDevices(ctx context.Context) ([]agentstorage.DeviceRecord, error)
	SaveAlerts(ctx context.Context, events []storage.AlertEvent) error
	LoadAlerts(ctx context.Context) ([]storage.AlertEvent, error)
	SaveHistory(ctx context.Context, snaps []storage.HistorySnapshot, daily []storage.DailyAggregate) error
	LoadHistory(ctx context.Context) ([]storage.HistorySnapshot, []storage.DailyAggregate, error)
	SetConfigValue(ctx context.Context, key string, value interface{}) error
	GetConfigValue(ctx context.Context, key string, dest interface{}) error
	DeleteConfigValue(ctx context.Context, key string) error
}

// Notifier is the notification sink plus its manual test.
type Notifier interface {
	alerts.Dispatcher
	TestSend(ctx context.Context) error
}

// Config wires a Monitor. Only Settings is required.
type Config struct {
	Settings *settings.Store
	// SNMPFactory opens SNMP sessions; scanner.NewSNMPClientFunc when nil.
	SNMPFactory scanner.ClientFactory
	Store       Persistence
	Notifier    Notifier
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
	Clock       func() time.Time

	DeviceSaveInterval  time.Duration
	AlertSaveInterval   time.Duration
	HistorySaveInterval time.Duration
}

// Monitor owns every piece of mutable state: the registry, cooldowns,
// offline timers and the history ring live in its components, never in
// package variables.
type Monitor struct {
	cfg      Config
	settings *settings.Store
	// baseline is the configured settings, before any runtime override.
	baseline settings.Settings
	log      *logger.Logger
	now      func() time.Time

	registry  *fleet.Registry
	poller    *poller.Poller
	scheduler *fleet.Scheduler
	scanner   *fleet.Scanner
	recorder  *history.Recorder
	engine    *alerts.Engine
	notifier  Notifier
	store     Persistence
	metrics   *metrics.Metrics
	cron      *cron.Cron

	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	digestEntry cron.EntryID
	wg          sync.WaitGroup
}

// New builds a monitor. Nothing runs until Start.
func New(cfg Config) (*Monitor, error) {
	if cfg.Settings == nil {
		return nil, errors.New("monitor: settings store is required")
	}
	if cfg.SNMPFactory == nil {
		cfg.SNMPFactory = scanner.NewSNMPClientFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DeviceSaveInterval <= 0 {
		cfg.DeviceSaveInterval = 5 * time.Minute
	}
	if cfg.AlertSaveInterval <= 0 {
		cfg.AlertSaveInterval = time.Minute
	}
	if cfg.HistorySaveInterval <= 0 {
		cfg.HistorySaveInterval = 10 * time.Minute
	}

	m := &Monitor{
		cfg:      cfg,
		settings: cfg.Settings,
		log:      cfg.Logger,
		now:      cfg.Clock,
		registry: fleet.NewRegistry(),
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		ctx:      context.Background(),
	}
	current := m.settings.Get()
	m.baseline = current

	normal, _ := poller.OptionsFromSettings(current.SNMP)
	resolver := scanner.NewResolver(cfg.SNMPFactory, normal)
	m.poller = poller.New(resolver,
		poller.WithClock(m.now),
		poller.WithLogger(m.log),
		poller.WithSNMPSettings(func() settings.SNMPSettings { return m.settings.Get().SNMP }),
	)

	m.scheduler = fleet.NewScheduler(m.registry, m.poller, func() settings.PollingSettings { return m.settings.Get().Polling })
	m.scheduler.SetLogger(m.log)

	prober := fleet.ResolverProber{
		Resolver: resolver,
		Timeout: func() time.Duration {
			return time.Duration(m.settings.Get().Discovery.ProbeTimeoutMS) * time.Millisecond
		},
	}
	m.scanner = fleet.NewScanner(m.registry, prober, m.poller, func() settings.DiscoverySettings { return m.settings.Get().Discovery })
	m.scanner.SetClock(m.now)
	m.scanner.SetLogger(m.log)
	m.scanner.AddSource(fleet.NewMDNSSource(func() time.Duration {
		return time.Duration(m.settings.Get().Discovery.MDNSBrowseSeconds) * time.Second
	}))
	m.scanner.OnFinish(m.scanFinished)

	m.recorder = history.NewRecorder(current.History.MaxSnapshots, current.History.RetentionDays, m.now)

	m.notifier = cfg.Notifier
	if m.notifier == nil {
		m.notifier = alerts.NewNotifier(func() settings.NotificationSettings { return m.settings.Get().Notifications },
			alerts.NotifierConfig{Logger: m.log})
	}
	engineOpts := []alerts.Option{
		alerts.WithClock(m.now),
		alerts.WithLogger(m.log),
		alerts.WithDispatcher(m.notifier),
	}
	if m.metrics != nil {
		engineOpts = append(engineOpts, alerts.WithObserver(m.metrics.ObserveAlert))
		m.scheduler.SetPollObserver(m.metrics.ObservePoll)
	}
	m.engine = alerts.NewEngine(m.settings.Get, engineOpts...)

	m.scheduler.OnCycle(m.afterCycle)
	m.settings.OnChange(m.settingsChanged)

	m.cron = cron.New(cron.WithLocation(time.Local), cron.WithChain(cron.Recover(cronLogger{m.log})))
	return m, nil
}

// afterCycle runs once per fleet poll: history sampling (when it follows
// the poll cadence), alert evaluation and fleet gauges.
func (m *Monitor) afterCycle(ctx context.Context, devices []storage.DeviceSnapshot) {
	if m.settings.Get().History.IntervalSeconds <= 0 {
		m.recorder.Record(devices)
	}
	m.engine.Evaluate(ctx, devices)
	if m.metrics != nil {
		m.metrics.ObserveFleet(ctx, devices)
	}
}

func (m *Monitor) scanFinished(res fleet.ScanResult) {
	if m.metrics != nil {
		m.metrics.ScanFinished(res.Canceled)
	}
	if m.log != nil {
		m.log.Info("Discovery scan settled", "prefix", res.Prefix, "found", len(res.Found), "canceled", res.Canceled)
	}
}

func (m *Monitor) settingsChanged(s settings.Settings) {
	m.recorder.Configure(s.History.MaxSnapshots, s.History.RetentionDays)
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		m.scheduleDigest(s)
	}
}

// Start restores persisted state and launches the poll loop, the history
// sampler, the persistence savers and the digest job.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.restore(runCtx)

	m.scheduler.Start(runCtx)

	m.wg.Add(1)
	go m.historyLoop(runCtx)

	if m.store != nil {
		m.cron.Schedule(cron.Every(m.cfg.DeviceSaveInterval), cron.FuncJob(func() { m.saveDevices(runCtx) }))
		m.cron.Schedule(cron.Every(m.cfg.AlertSaveInterval), cron.FuncJob(func() { m.saveAlerts(runCtx) }))
		m.cron.Schedule(cron.Every(m.cfg.HistorySaveInterval), cron.FuncJob(func() { m.saveHistory(runCtx) }))
	}
	m.scheduleDigest(m.settings.Get())
	m.cron.Start()

	if m.log != nil {
		m.log.Info("Monitor started", "devices", m.registry.Len())
	}
	return nil
}

// Stop halts every loop, waits for an in-flight scan and pending
// notifications, and flushes state to the store one last time.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	m.scanner.Cancel()
	m.scanner.Wait()
	m.scheduler.Stop()
	cancel()
	m.wg.Wait()
	m.engine.Wait()

	m.flush(context.Background())
	if m.log != nil {
		m.log.Info("Monitor stopped")
	}
}

func (m *Monitor) historyLoop(ctx context.Context) {
	defer m.wg.Done()

	// Re-read the interval every round so a settings change takes effect
	// without restart; 0 means sampling follows poll cycles instead.
	idle := time.Minute
	for {
		wait := idle
		if iv := m.settings.Get().History.IntervalSeconds; iv > 0 {
			wait = time.Duration(iv) * time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if m.settings.Get().History.IntervalSeconds > 0 {
				m.recorder.Record(m.registry.All())
			}
		}
	}
}

// cronLogger adapts the logger to cron.Logger for the Recover wrapper.
type cronLogger struct{ log *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if c.log != nil {
		c.log.Debug(msg, keysAndValues...)
	}
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if c.log != nil {
		c.log.Error(msg, append(keysAndValues, "error", err)...)
	}
}
