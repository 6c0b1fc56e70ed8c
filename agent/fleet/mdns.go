package fleet

import (
	"context"
	"sync"
	"time"

	"printwatch/common/logger"

	"github.com/grandcat/zeroconf"
)

// PrinterServiceTypes are the DNS-SD service types browsed for printers.
var PrinterServiceTypes = []string{"_ipp._tcp", "_ipps._tcp", "_printer._tcp", "_pdl-datastream._tcp"}

// MDNSSource browses DNS-SD printer services for a short window and returns
// the IPv4 addresses that advertised one.
type MDNSSource struct {
	Services []string
	Window   func() time.Duration
	Log      *logger.Logger
}

// NewMDNSSource returns a source browsing PrinterServiceTypes for window.
func NewMDNSSource(window func() time.Duration) *MDNSSource {
	return &MDNSSource{Services: PrinterServiceTypes, Window: window, Log: logger.Global}
}

// Candidates implements CandidateSource. Addresses outside prefix are
// filtered by the scanner.
func (m *MDNSSource) Candidates(ctx context.Context, prefix string) []string {
	window := 3 * time.Second
	if m.Window != nil {
		if w := m.Window(); w > 0 {
			window = w
		}
	}
	browseCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		out  []string
		wg   sync.WaitGroup
	)
	for _, svc := range m.Services {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				if m.Log != nil {
					m.Log.Debug("mDNS resolver error", "service", svc, "error", err)
				}
				return
			}
			entries := make(chan *zeroconf.ServiceEntry)
			consumed := make(chan struct{})
			go func() {
				defer close(consumed)
				for e := range entries {
					mu.Lock()
					for _, ip := range e.AddrIPv4 {
						addr := ip.String()
						if !seen[addr] {
							seen[addr] = true
							out = append(out, addr)
						}
					}
					mu.Unlock()
				}
			}()
			if err := resolver.Browse(browseCtx, svc, "local.", entries); err != nil {
				if m.Log != nil {
					m.Log.Debug("mDNS browse error", "service", svc, "error", err)
				}
				// The resolver's receive loop still owns and closes entries.
				<-consumed
				return
			}
			<-browseCtx.Done()
			<-consumed
		}()
	}
	wg.Wait()

	if m.Log != nil {
		m.Log.Debug("mDNS browse complete", "prefix", prefix, "hosts", len(out))
	}
	return out
}
