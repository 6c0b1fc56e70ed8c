package fleet

import (
	"context"
	"sync"
	"time"

	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/storage"

	"golang.org/x/sync/errgroup"
)

// DevicePoller produces a snapshot for one device. *poller.Poller
// implements it.
type DevicePoller interface {
	Poll(ctx context.Context, address, community string, prior *storage.DeviceSnapshot) storage.DeviceSnapshot
}

// CycleHook runs after every fleet poll cycle with the post-cycle fleet.
type CycleHook func(ctx context.Context, devices []storage.DeviceSnapshot)

// PollObserver is told about every individual device poll.
type PollObserver func(address string, online bool, elapsed time.Duration)

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Polled   int
	Online   int
	Duration time.Duration
}

// Scheduler polls the whole registry on an interval. Cycles never overlap;
// RefreshAll and the timer share one cycle lock.
type Scheduler struct {
	registry *Registry
	poller   DevicePoller
	polling  func() settings.PollingSettings
	log      *logger.Logger

	hooks    []CycleHook
	observer PollObserver

	cycleMu sync.Mutex

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler returns a scheduler over registry. polling is consulted at
// every cycle so interval and concurrency changes apply without restart.
func NewScheduler(registry *Registry, poller DevicePoller, polling func() settings.PollingSettings) *Scheduler {
	return &Scheduler{
		registry: registry,
		poller:   poller,
		polling:  polling,
		log:      logger.Global,
	}
}

// SetLogger overrides the logger.
func (s *Scheduler) SetLogger(l *logger.Logger) { s.log = l }

// OnCycle registers a hook run after each cycle, in registration order.
// Hooks must be registered before Start.
func (s *Scheduler) OnCycle(h CycleHook) { s.hooks = append(s.hooks, h) }

// SetPollObserver registers the per-device observer.
func (s *Scheduler) SetPollObserver(o PollObserver) { s.observer = o }

// Start runs a cycle immediately and then one per interval until Stop or
// ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go s.runLoop(ctx, stop, done)
	if s.log != nil {
		s.log.Info("Fleet scheduler started", "interval", s.interval())
	}
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
	if s.log != nil {
		s.log.Info("Fleet scheduler stopped")
	}
}

func (s *Scheduler) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-cycleCtx.Done():
		}
	}()

	s.RunCycle(cycleCtx)
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunCycle(cycleCtx)
			timer.Reset(s.interval())
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	p := s.polling()
	if p.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.IntervalSeconds) * time.Second
}

func (s *Scheduler) concurrency() int {
	if c := s.polling().Concurrency; c > 0 {
		return c
	}
	return 4
}

// RunCycle polls every non-held device with bounded concurrency, commits
// each snapshot as it arrives, then runs the cycle hooks.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	targets := s.registry.Targets()

	var mu sync.Mutex
	online := 0
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency())
	for _, t := range targets {
		t := t
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			snap, ok := s.pollOne(ctx, t.Address, t.Community, &t.Prior)
			if !ok {
				return nil
			}
			s.registry.Update(snap)
			if snap.Online {
				mu.Lock()
				online++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := CycleResult{Polled: len(targets), Online: online, Duration: time.Since(start)}
	if ctx.Err() != nil {
		return res
	}

	devices := s.registry.All()
	for _, h := range s.hooks {
		h(ctx, devices)
	}
	if s.log != nil {
		s.log.Debug("Poll cycle complete", "devices", res.Polled, "online", res.Online, "duration", res.Duration)
	}
	return res
}

// PollNow polls one device outside the cycle and commits the result when
// the device is still registered. When ctx ends mid-poll nothing is
// committed and the registered snapshot is returned unchanged.
func (s *Scheduler) PollNow(ctx context.Context, address, community string) storage.DeviceSnapshot {
	var prior *storage.DeviceSnapshot
	if snap, ok := s.registry.Get(address); ok {
		prior = &snap
	}
	snap, ok := s.pollOne(ctx, address, community, prior)
	if !ok {
		if prior != nil {
			return *prior
		}
		return snap
	}
	s.registry.Update(snap)
	return snap
}

// pollOne reports false when ctx ended during the poll. Such a result is
// neither committed nor observed.
func (s *Scheduler) pollOne(ctx context.Context, address, community string, prior *storage.DeviceSnapshot) (storage.DeviceSnapshot, bool) {
	start := time.Now()
	snap := s.poller.Poll(ctx, address, community, prior)
	if ctx.Err() != nil {
		return snap, false
	}
	if s.observer != nil {
		s.observer(address, snap.Online, time.Since(start))
	}
	return snap, true
}
