// Package snmptest provides an in-memory SNMP agent for tests.
package snmptest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"printwatch/agent/scanner"

	"github.com/gosnmp/gosnmp"
)

// ErrTimeout is returned by unreachable devices.
var ErrTimeout = errors.New("request timeout (after 1 retries)")

// Device is a fake SNMP agent.
type Device struct {
	mu          sync.Mutex
	scalars     map[string]gosnmp.SnmpPDU
	columns     map[string][]gosnmp.SnmpPDU
	unreachable bool
	panicOn     string
	requests    int
}

// NewDevice returns an empty reachable device.
func NewDevice() *Device {
	return &Device{scalars: map[string]gosnmp.SnmpPDU{}, columns: map[string][]gosnmp.SnmpPDU{}}
}

// SetString stores an OctetString scalar.
func (d *Device) SetString(oid, s string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scalars[oid] = gosnmp.SnmpPDU{Name: "." + oid, Type: gosnmp.OctetString, Value: []byte(s)}
	return d
}

// SetInt stores an Integer scalar.
func (d *Device) SetInt(oid string, n int) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scalars[oid] = gosnmp.SnmpPDU{Name: "." + oid, Type: gosnmp.Integer, Value: n}
	return d
}

// SetColumn stores a table column. string values become OctetStrings and
// int values become Integers; rows are indexed 1..n.
func (d *Device) SetColumn(root string, values ...interface{}) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	pdus := make([]gosnmp.SnmpPDU, 0, len(values))
	for i, v := range values {
		name := "." + root + "." + strconv.Itoa(i+1)
		switch val := v.(type) {
		case string:
			pdus = append(pdus, gosnmp.SnmpPDU{Name: name, Type: gosnmp.OctetString, Value: []byte(val)})
		case int:
			pdus = append(pdus, gosnmp.SnmpPDU{Name: name, Type: gosnmp.Integer, Value: val})
		}
	}
	d.columns[root] = pdus
	return d
}

// SetUnreachable makes every request time out.
func (d *Device) SetUnreachable(v bool) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreachable = v
	return d
}

// PanicOn makes a GET of oid panic, simulating a driver bug.
func (d *Device) PanicOn(oid string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panicOn = oid
	return d
}

// Requests returns the number of GET and WALK requests served.
func (d *Device) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func (d *Device) get(oids []string) (*gosnmp.SnmpPacket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	if d.unreachable {
		return nil, ErrTimeout
	}
	packet := &gosnmp.SnmpPacket{}
	for _, oid := range oids {
		oid = strings.TrimPrefix(oid, ".")
		if d.panicOn != "" && oid == d.panicOn {
			panic("snmptest: injected panic for " + oid)
		}
		if pdu, ok := d.scalars[oid]; ok {
			packet.Variables = append(packet.Variables, pdu)
			continue
		}
		packet.Variables = append(packet.Variables, gosnmp.SnmpPDU{Name: "." + oid, Type: gosnmp.NoSuchObject})
	}
	return packet, nil
}

func (d *Device) walk(root string, fn gosnmp.WalkFunc) error {
	d.mu.Lock()
	d.requests++
	if d.unreachable {
		d.mu.Unlock()
		return ErrTimeout
	}
	pdus := append([]gosnmp.SnmpPDU(nil), d.columns[strings.TrimPrefix(root, ".")]...)
	d.mu.Unlock()
	for _, pdu := range pdus {
		if err := fn(pdu); err != nil {
			return err
		}
	}
	return nil
}

type client struct {
	dev *Device
}

func (c *client) Get(oids []string) (*gosnmp.SnmpPacket, error) { return c.dev.get(oids) }

func (c *client) Walk(root string, fn gosnmp.WalkFunc) error { return c.dev.walk(root, fn) }

func (c *client) Close() error { return nil }

// Network maps addresses to fake devices. Unknown addresses time out.
type Network struct {
	mu      sync.Mutex
	devices map[string]*Device
	opened  []scanner.Options
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{devices: map[string]*Device{}}
}

// Add registers (or replaces) the device at address and returns it.
func (n *Network) Add(address string, d *Device) *Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices[address] = d
	return d
}

// Device returns the device at address, if any.
func (n *Network) Device(address string) *Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.devices[address]
}

// OpenedWith returns the options of every session opened so far.
func (n *Network) OpenedWith() []scanner.Options {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]scanner.Options(nil), n.opened...)
}

// Factory returns a scanner.ClientFactory serving this network.
func (n *Network) Factory() scanner.ClientFactory {
	return func(ctx context.Context, target, community string, opts scanner.Options) (scanner.SNMPClient, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.opened = append(n.opened, opts)
		d, ok := n.devices[target]
		if !ok {
			d = NewDevice().SetUnreachable(true)
		}
		return &client{dev: d}, nil
	}
}
