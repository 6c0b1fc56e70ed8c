package scanner

import (
	"context"
	"fmt"

	"printwatch/common/logger"
	"printwatch/common/snmp/oids"

	"github.com/gosnmp/gosnmp"
)

// Field is a logical device attribute that may live under several OIDs.
type Field int

const (
	// FieldDescription is the anchor field: its presence decides reachability.
	FieldDescription Field = iota
	FieldObjectID
	FieldSerial
	FieldStatus
	FieldDeviceStatus
	FieldPageCount
	FieldSysName
	FieldLocation
	FieldContact
)

func (f Field) String() string {
	switch f {
	case FieldDescription:
		return "description"
	case FieldObjectID:
		return "object_id"
	case FieldSerial:
		return "serial"
	case FieldStatus:
		return "status"
	case FieldDeviceStatus:
		return "device_status"
	case FieldPageCount:
		return "page_count"
	case FieldSysName:
		return "sys_name"
	case FieldLocation:
		return "location"
	case FieldContact:
		return "contact"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

type fieldSpec struct {
	candidates []string
	numeric    bool
}

var fieldSpecs = map[Field]fieldSpec{
	FieldDescription:  {candidates: []string{oids.SysDescr}},
	FieldObjectID:     {candidates: []string{oids.SysObjectID}},
	FieldSerial:       {candidates: oids.SerialCandidates},
	FieldStatus:       {candidates: oids.StatusCandidates, numeric: true},
	FieldDeviceStatus: {candidates: []string{oids.HrDeviceStatus}, numeric: true},
	FieldPageCount:    {candidates: oids.PageCountCandidates, numeric: true},
	FieldSysName:      {candidates: []string{oids.SysName}},
	FieldLocation:     {candidates: []string{oids.SysLocation}},
	FieldContact:      {candidates: []string{oids.SysContact}},
}

// Candidates returns the priority-ordered OIDs tried for field.
func Candidates(field Field) []string {
	return append([]string(nil), fieldSpecs[field].candidates...)
}

// usable applies the field's syntax rule: numeric fields must parse as an
// integer, string fields must be non-empty after trimming.
func usable(spec fieldSpec, v Value) bool {
	if spec.numeric {
		_, ok := v.Int()
		return ok
	}
	return v.Text() != ""
}

// Resolver turns logical fields into values, walking vendor fallback chains.
// Failures of the underlying transport never escape: they read as absent.
type Resolver struct {
	factory ClientFactory
	opts    Options
}

// NewResolver returns a resolver that opens clients through factory. A nil
// factory uses NewSNMPClientFunc.
func NewResolver(factory ClientFactory, opts Options) *Resolver {
	return &Resolver{factory: factory, opts: opts}
}

// Options returns the resolver's default budget.
func (r *Resolver) Options() Options { return r.opts }

// WithOptions returns a copy of r that uses opts for every session it opens.
func (r *Resolver) WithOptions(opts Options) *Resolver {
	c := *r
	c.opts = opts
	return &c
}

// Open starts a session against address. A connection failure yields a
// session on which every lookup is absent.
func (r *Resolver) Open(ctx context.Context, address, community string) *Session {
	factory := r.factory
	if factory == nil {
		factory = NewSNMPClientFunc
	}
	client, err := factory(ctx, address, community, r.opts)
	if err != nil {
		if logger.Global != nil {
			logger.Global.Debug("SNMP session open failed", "ip", address, "error", err)
		}
		return &Session{ctx: ctx, address: address}
	}
	return &Session{ctx: ctx, address: address, client: client}
}

// Resolve looks up one field in a short-lived session.
func (r *Resolver) Resolve(ctx context.Context, field Field, address, community string) (Value, bool) {
	s := r.Open(ctx, address, community)
	defer s.Close()
	return s.Resolve(field)
}

// WalkColumn walks one table column in a short-lived session.
func (r *Resolver) WalkColumn(ctx context.Context, root, address, community string) []Value {
	s := r.Open(ctx, address, community)
	defer s.Close()
	return s.WalkColumn(root)
}

// Session is a single client bound to one device. It is not safe for
// concurrent use; open one session per goroutine.
type Session struct {
	ctx     context.Context
	address string
	client  SNMPClient
}

// Close releases the underlying client.
func (s *Session) Close() {
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

// Resolve tries every candidate OID of field in priority order and returns
// the first syntactically usable value.
func (s *Session) Resolve(field Field) (Value, bool) {
	spec, ok := fieldSpecs[field]
	if !ok || s.client == nil {
		return Value{}, false
	}
	for _, oid := range spec.candidates {
		if s.ctx.Err() != nil {
			return Value{}, false
		}
		v, ok := s.get(oid)
		if !ok {
			continue
		}
		if usable(spec, v) {
			return v, true
		}
	}
	return Value{}, false
}

// ResolveString resolves a string field.
func (s *Session) ResolveString(field Field) (string, bool) {
	v, ok := s.Resolve(field)
	if !ok {
		return "", false
	}
	return v.Text(), true
}

// ResolveInt resolves a numeric field.
func (s *Session) ResolveInt(field Field) (int64, bool) {
	v, ok := s.Resolve(field)
	if !ok {
		return 0, false
	}
	return v.Int()
}

// GetMany fetches several scalar OIDs and returns the present values keyed
// by OID. Missing or failed OIDs are simply absent from the map.
func (s *Session) GetMany(oidList []string) map[string]Value {
	out := make(map[string]Value, len(oidList))
	if s.client == nil {
		return out
	}
	pdus, err := batchedGet(s.ctx, s.client, oidList, defaultOIDBatchSize)
	if err != nil && logger.Global != nil {
		logger.Global.Debug("SNMP GET batch failed", "ip", s.address, "error", err)
	}
	for _, pdu := range pdus {
		v := newValue(pdu)
		if v.Present() {
			out[v.OID] = v
		}
	}
	return out
}

// WalkColumn returns the values under root in walk order. Exceptions and
// failures produce a shorter (possibly empty) slice, never an error.
func (s *Session) WalkColumn(root string) []Value {
	out := []Value{}
	if s.client == nil {
		return out
	}
	err := s.client.Walk(root, func(pdu gosnmp.SnmpPDU) error {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		v := newValue(pdu)
		if !v.Present() {
			return nil
		}
		out = append(out, v)
		if len(out) >= maxColumnRows {
			return errColumnLimit
		}
		return nil
	})
	if err != nil && logger.Global != nil {
		logger.Global.Debug("SNMP column walk ended with error", "ip", s.address, "root", root, "rows", len(out), "error", err)
	}
	return out
}

const maxColumnRows = 512

var errColumnLimit = fmt.Errorf("column row limit (%d) exceeded", maxColumnRows)

func (s *Session) get(oid string) (Value, bool) {
	packet, err := s.client.Get([]string{oid})
	if err != nil {
		if logger.Global != nil {
			logger.Global.Trace("SNMP GET failed", "ip", s.address, "oid", oid, "error", err)
		}
		return Value{}, false
	}
	if packet == nil || len(packet.Variables) == 0 {
		return Value{}, false
	}
	if packet.Error != gosnmp.NoError {
		return Value{}, false
	}
	v := newValue(packet.Variables[0])
	return v, v.Present()
}
