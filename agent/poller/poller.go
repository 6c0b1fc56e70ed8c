// Package poller runs one polling round against a single printer and
// produces its canonical DeviceSnapshot.
package poller

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"printwatch/agent/scanner"
	"printwatch/agent/supplies"
	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/snmp/oids"
	"printwatch/common/storage"

	"golang.org/x/sync/errgroup"
)

// maxLabelLen bounds the name and model derived from sysDescr.
const maxLabelLen = 50

// offlineWarnInterval rate-limits the per-device unreachable warning.
const offlineWarnInterval = 15 * time.Minute

// Poller polls single devices. It is safe for concurrent use; every Poll
// opens its own SNMP sessions.
type Poller struct {
	resolver *scanner.Resolver
	snmp     func() settings.SNMPSettings
	now      func() time.Time
	log      *logger.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithSNMPSettings supplies the live SNMP settings (timeouts, slow device
// keywords). Without it the resolver's options are used for every device.
func WithSNMPSettings(fn func() settings.SNMPSettings) Option {
	return func(p *Poller) { p.snmp = fn }
}

// WithLogger sets the logger; logger.Global is used otherwise.
func WithLogger(l *logger.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// New returns a poller that queries devices through resolver.
func New(resolver *scanner.Resolver, opts ...Option) *Poller {
	p := &Poller{resolver: resolver, now: time.Now, log: logger.Global}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OptionsFromSettings converts SNMP settings into the default and slow
// per-call budgets.
func OptionsFromSettings(s settings.SNMPSettings) (normal, slow scanner.Options) {
	normal = scanner.DefaultOptions()
	normal.Version = s.Version
	if s.TimeoutMS > 0 {
		normal.Timeout = time.Duration(s.TimeoutMS) * time.Millisecond
	}
	normal.Retries = s.Retries

	slow = normal
	if s.SlowTimeoutMS > 0 {
		slow.Timeout = time.Duration(s.SlowTimeoutMS) * time.Millisecond
	}
	if s.SlowRetries > slow.Retries {
		slow.Retries = s.SlowRetries
	}
	return normal, slow
}

// Poll queries address and returns its new snapshot. prior is the last
// known snapshot or nil. Poll never fails: an unreachable device, or any
// panic while polling it, yields an offline snapshot that retains prior
// supplies, trays and errors.
func (p *Poller) Poll(ctx context.Context, address, community string, prior *storage.DeviceSnapshot) (snap storage.DeviceSnapshot) {
	base := storage.NewDeviceSnapshot(address)
	if prior != nil {
		base = prior.Clone()
		base.Address = address
	}

	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.Error("Device poll panicked", "ip", address, "panic", fmt.Sprint(r))
			}
			snap = markOffline(base)
		}
	}()

	resolver := p.resolver
	var slow scanner.Options
	var slowKeywords []string
	if p.snmp != nil {
		cfg := p.snmp()
		var normal scanner.Options
		normal, slow = OptionsFromSettings(cfg)
		slowKeywords = cfg.SlowDeviceKeywords
		resolver = resolver.WithOptions(normal)
	}

	descr, ok := resolver.Resolve(ctx, scanner.FieldDescription, address, community)
	if !ok {
		if p.log != nil {
			p.log.Debug("Device did not answer sysDescr", "ip", address)
			p.log.WarnRateLimited("offline:"+address, offlineWarnInterval, "Device unreachable", "ip", address)
		}
		return markOffline(base)
	}
	description := descr.Text()

	if isSlowDevice(description, slowKeywords) {
		resolver = resolver.WithOptions(slow)
		if p.log != nil {
			p.log.Trace("Using slow-device SNMP budget", "ip", address, "timeout", slow.Timeout, "retries", slow.Retries)
		}
	}

	snap, err := p.pollOnline(ctx, resolver, address, community, description, base)
	if err != nil {
		if p.log != nil {
			p.log.Error("Device poll failed", "ip", address, "error", err)
		}
		return markOffline(base)
	}
	return snap
}

func (p *Poller) pollOnline(ctx context.Context, resolver *scanner.Resolver, address, community, description string, base storage.DeviceSnapshot) (storage.DeviceSnapshot, error) {
	snap := base
	snap.Online = true
	snap.Name = deriveName(description)
	snap.Model = truncate(description, maxLabelLen)

	var supplyRows, trayRows [][]scanner.Value
	g, gctx := errgroup.WithContext(ctx)
	g.Go(safe(func() error {
		supplyRows = walkColumns(gctx, resolver, address, community,
			oids.PrtMarkerSuppliesDesc, oids.PrtMarkerSuppliesMaxCap, oids.PrtMarkerSuppliesLevel)
		return nil
	}))
	g.Go(safe(func() error {
		trayRows = walkColumns(gctx, resolver, address, community,
			oids.PrtInputName, oids.PrtInputMaxCapacity, oids.PrtInputCurrentLevel,
			oids.PrtInputStatus, oids.PrtInputMediaName)
		return nil
	}))

	sess := resolver.Open(ctx, address, community)
	defer sess.Close()

	if serial, ok := sess.ResolveString(scanner.FieldSerial); ok {
		snap.Serial = storage.StringPtr(serial)
	}
	if pages, ok := sess.ResolveInt(scanner.FieldPageCount); ok && pages >= 0 {
		snap.TotalPages = pages
	}
	snap.Status = p.resolveStatus(sess)

	ident := sess.GetMany([]string{oids.SysName, oids.SysLocation, oids.SysContact})
	snap.Network = storage.NetworkIdentity{
		Name:     textPtr(ident, oids.SysName),
		Location: textPtr(ident, oids.SysLocation),
		Contact:  textPtr(ident, oids.SysContact),
	}

	severities := texts(sess.WalkColumn(oids.PrtAlertSeverityLevel))
	descriptions := texts(sess.WalkColumn(oids.PrtAlertDescription))

	if err := g.Wait(); err != nil {
		return storage.DeviceSnapshot{}, err
	}

	now := p.now()
	snap.Supplies = supplies.BuildSupplies(texts(supplyRows[0]), texts(supplyRows[1]), texts(supplyRows[2]))
	snap.Trays = supplies.BuildTrays(texts(trayRows[0]), texts(trayRows[1]), texts(trayRows[2]), texts(trayRows[3]), texts(trayRows[4]))
	snap.Errors = supplies.BuildErrors(severities, descriptions, now)
	snap.LastUpdated = now

	if p.log != nil {
		p.log.Debug("Device polled", "ip", address, "status", string(snap.Status),
			"supplies", len(snap.Supplies), "trays", len(snap.Trays), "errors", len(snap.Errors))
	}
	return snap, nil
}

// resolveStatus maps hrPrinterStatus; an idle printer whose hrDeviceStatus
// reports warning(3) is waiting on the operator.
func (p *Poller) resolveStatus(sess *scanner.Session) storage.DeviceStatus {
	code, ok := sess.ResolveInt(scanner.FieldStatus)
	if !ok {
		return storage.StatusUnknown
	}
	status := StatusFromCode(code)
	if status == storage.StatusIdle {
		if dev, ok := sess.ResolveInt(scanner.FieldDeviceStatus); ok && dev == 3 {
			return storage.StatusWaiting
		}
	}
	return status
}

// StatusFromCode maps hrPrinterStatus values.
func StatusFromCode(code int64) storage.DeviceStatus {
	switch code {
	case 1:
		return storage.StatusOther
	case 2:
		return storage.StatusUnknown
	case 3:
		return storage.StatusIdle
	case 4:
		return storage.StatusPrinting
	case 5:
		return storage.StatusWarmup
	default:
		return storage.StatusUnknown
	}
}

func markOffline(base storage.DeviceSnapshot) storage.DeviceSnapshot {
	out := base.Clone()
	out.Online = false
	out.Status = storage.StatusOffline
	return out
}

func walkColumns(ctx context.Context, resolver *scanner.Resolver, address, community string, roots ...string) [][]scanner.Value {
	sess := resolver.Open(ctx, address, community)
	defer sess.Close()
	out := make([][]scanner.Value, len(roots))
	for i, root := range roots {
		out[i] = sess.WalkColumn(root)
	}
	return out
}

// safe converts a panic inside an errgroup goroutine into an error so the
// device boundary in Poll can handle it.
func safe(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}

func texts(vals []scanner.Value) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.Text()
	}
	return out
}

func textPtr(vals map[string]scanner.Value, oid string) *string {
	v, ok := vals[oid]
	if !ok || v.Text() == "" {
		return nil
	}
	return storage.StringPtr(v.Text())
}

func isSlowDevice(description string, keywords []string) bool {
	lower := strings.ToLower(description)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// deriveName takes the first ';' or ',' separated segment of sysDescr.
func deriveName(description string) string {
	name := description
	if i := strings.IndexAny(name, ";,"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(description)
	}
	return truncate(name, maxLabelLen)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
