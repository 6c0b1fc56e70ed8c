package fleet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"printwatch/agent/scanner"
	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/storage"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrScanInProgress is returned when a scan is started while another runs.
	ErrScanInProgress = errors.New("fleet: scan already in progress")
	// ErrInvalidPrefix is returned for a malformed subnet prefix.
	ErrInvalidPrefix = errors.New("fleet: invalid subnet prefix")
)

// ScanStatus is the externally visible scan state.
type ScanStatus struct {
	Scanning  bool      `json:"scanning"`
	LastScan  time.Time `json:"last_scan"`
	Prefix    string    `json:"prefix,omitempty"`
	Probed    int       `json:"probed"`
	Found     int       `json:"found"`
	Canceled  bool      `json:"canceled"`
	Completed time.Time `json:"completed,omitempty"`
}

// Prober queries the anchor field of one address.
type Prober interface {
	Probe(ctx context.Context, address, community string) (description string, ok bool)
}

// ResolverProber probes with a short single-try SNMP budget.
type ResolverProber struct {
	Resolver *scanner.Resolver
	Timeout  func() time.Duration
}

// Probe implements Prober.
func (p ResolverProber) Probe(ctx context.Context, address, community string) (string, bool) {
	opts := p.Resolver.Options()
	if p.Timeout != nil {
		opts.Timeout = p.Timeout()
	}
	opts.Retries = 0
	v, ok := p.Resolver.WithOptions(opts).Resolve(ctx, scanner.FieldDescription, address, community)
	if !ok {
		return "", false
	}
	return v.Text(), true
}

// CandidateSource suggests addresses within a prefix ahead of the sweep.
type CandidateSource interface {
	Candidates(ctx context.Context, prefix string) []string
}

// ScanResult is passed to the completion callback.
type ScanResult struct {
	Prefix   string
	Found    []string
	Canceled bool
}

// Scanner runs at most one subnet discovery at a time.
type Scanner struct {
	registry  *Registry
	prober    Prober
	poller    DevicePoller
	discovery func() settings.DiscoverySettings
	sources   []CandidateSource
	now       func() time.Time
	log       *logger.Logger
	onFinish  func(ScanResult)

	mu       sync.Mutex
	status   ScanStatus
	cancelCh chan struct{}
	done     chan struct{}
}

// NewScanner returns an idle scanner.
func NewScanner(registry *Registry, prober Prober, poller DevicePoller, discovery func() settings.DiscoverySettings) *Scanner {
	return &Scanner{
		registry:  registry,
		prober:    prober,
		poller:    poller,
		discovery: discovery,
		now:       time.Now,
		log:       logger.Global,
	}
}

// AddSource registers a candidate source consulted when mDNS is enabled.
func (s *Scanner) AddSource(src CandidateSource) { s.sources = append(s.sources, src) }

// OnFinish registers a callback run when a scan settles.
func (s *Scanner) OnFinish(fn func(ScanResult)) { s.onFinish = fn }

// SetClock overrides the time source.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// SetLogger overrides the logger.
func (s *Scanner) SetLogger(l *logger.Logger) { s.log = l }

// ParsePrefix accepts "a.b.c", "a.b.c." or "a.b.c.0/24" and returns "a.b.c".
func ParsePrefix(prefix string) (string, error) {
	p := strings.TrimSpace(prefix)
	p = strings.TrimSuffix(p, ".0/24")
	p = strings.TrimSuffix(p, ".")
	parts := strings.Split(p, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 || part == "" || (len(part) > 1 && part[0] == '0') {
			return "", fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
		}
	}
	return p, nil
}

// IsPrinterDescription reports whether sysDescr names a printer.
func IsPrinterDescription(description string, keywords []string) bool {
	lower := strings.ToLower(description)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Start launches a scan of prefix.1 through prefix.254 in the background.
// It fails immediately with ErrScanInProgress when a scan is running; the
// running scan's status is left untouched. ctx bounds the probes; Cancel
// stops the scan at the next batch boundary.
func (s *Scanner) Start(ctx context.Context, prefix, community string) error {
	base, err := ParsePrefix(prefix)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status.Scanning {
		s.mu.Unlock()
		return ErrScanInProgress
	}
	s.status = ScanStatus{Scanning: true, LastScan: s.now(), Prefix: base}
	s.cancelCh = make(chan struct{})
	s.done = make(chan struct{})
	cancelCh, done := s.cancelCh, s.done
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("Discovery scan started", "prefix", base)
	}
	go s.run(ctx, base, community, cancelCh, done)
	return nil
}

// Status returns a copy of the scan state.
func (s *Scanner) Status() ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cancel requests cancellation of the running scan. It reports false when
// no scan is running.
func (s *Scanner) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Scanning || s.cancelCh == nil {
		return false
	}
	select {
	case <-s.cancelCh:
	default:
		close(s.cancelCh)
	}
	return true
}

// Wait blocks until the current scan, if any, has settled.
func (s *Scanner) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scanner) run(ctx context.Context, base, community string, cancelCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	disc := s.discovery()
	batchSize := disc.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	addresses := s.addresses(ctx, base, disc)
	var (
		foundMu  sync.Mutex
		found    []string
		canceled bool
	)

	for i := 0; i < len(addresses); i += batchSize {
		select {
		case <-cancelCh:
			canceled = true
		default:
		}
		if canceled || ctx.Err() != nil {
			canceled = true
			break
		}

		end := i + batchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		batch := addresses[i:end]

		g := new(errgroup.Group)
		for _, addr := range batch {
			addr := addr
			g.Go(func() error {
				if s.probe(ctx, addr, community, disc.PrinterKeywords) {
					foundMu.Lock()
					found = append(found, addr)
					foundMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		s.mu.Lock()
		s.status.Probed = end
		s.status.Found = len(found)
		s.mu.Unlock()
	}

	released := s.registry.Release()

	s.mu.Lock()
	s.status.Scanning = false
	s.status.Canceled = canceled
	s.status.Completed = s.now()
	s.status.Found = len(found)
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("Discovery scan finished", "prefix", base, "found", len(found), "released", released, "canceled", canceled)
	}
	if s.onFinish != nil {
		s.onFinish(ScanResult{Prefix: base, Found: found, Canceled: canceled})
	}
}

// probe checks one address and, when it qualifies, polls and registers it
// under a scan hold.
func (s *Scanner) probe(ctx context.Context, addr, community string, keywords []string) bool {
	descr, ok := s.prober.Probe(ctx, addr, community)
	if !ok || !IsPrinterDescription(descr, keywords) {
		return false
	}
	var prior *storage.DeviceSnapshot
	if snap, exists := s.registry.Get(addr); exists {
		prior = &snap
	}
	snap := s.poller.Poll(ctx, addr, community, prior)
	if ctx.Err() != nil {
		return false
	}
	s.registry.Hold(snap, community)
	if s.log != nil {
		s.log.Debug("Printer discovered", "ip", addr, "name", snap.Name)
	}
	return true
}

// addresses returns the candidate sources' hits first, then the sweep of
// .1 through .254, without duplicates.
func (s *Scanner) addresses(ctx context.Context, base string, disc settings.DiscoverySettings) []string {
	seen := make(map[string]bool, 254)
	out := make([]string, 0, 254)
	if disc.MDNSEnabled {
		for _, src := range s.sources {
			for _, addr := range src.Candidates(ctx, base) {
				if !seen[addr] && inPrefix(addr, base) {
					seen[addr] = true
					out = append(out, addr)
				}
			}
		}
	}
	for host := 1; host <= 254; host++ {
		addr := base + "." + strconv.Itoa(host)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func inPrefix(addr, base string) bool {
	if !strings.HasPrefix(addr, base+".") {
		return false
	}
	host, err := strconv.Atoi(strings.TrimPrefix(addr, base+"."))
	return err == nil && host >= 1 && host <= 254
}
