package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Options is the per-call timeout and retry budget of an SNMP session.
type Options struct {
	Timeout time.Duration
	Retries int
	// Version is "1" or "2c".
	Version string
	Port    uint16
}

// DefaultOptions returns the budget used for ordinary devices.
func DefaultOptions() Options {
	return Options{Timeout: 2 * time.Second, Retries: 1, Version: "2c", Port: 161}
}

// SNMPClient defines the interface for SNMP operations.
type SNMPClient interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Walk(rootOid string, walkFn gosnmp.WalkFunc) error
	Close() error
}

// ClientFactory opens a client against target. The context bounds every
// request issued through the client.
type ClientFactory func(ctx context.Context, target, community string, opts Options) (SNMPClient, error)

// gosnmpClient wraps gosnmp.GoSNMP to implement SNMPClient.
type gosnmpClient struct {
	conn *gosnmp.GoSNMP
}

// Get performs an SNMP GET request.
func (c *gosnmpClient) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return c.conn.Get(oids)
}

// Walk uses GETBULK for v2c and plain GETNEXT for v1.
func (c *gosnmpClient) Walk(rootOid string, walkFn gosnmp.WalkFunc) error {
	if c.conn.Version == gosnmp.Version1 {
		return c.conn.Walk(rootOid, walkFn)
	}
	return c.conn.BulkWalk(rootOid, walkFn)
}

// Close closes the SNMP connection.
func (c *gosnmpClient) Close() error {
	if c.conn.Conn == nil {
		return nil
	}
	return c.conn.Conn.Close()
}

func snmpVersion(v string) gosnmp.SnmpVersion {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "v1":
		return gosnmp.Version1
	default:
		return gosnmp.Version2c
	}
}

// NewGoSNMPClient is the production ClientFactory.
func NewGoSNMPClient(ctx context.Context, target, community string, opts Options) (SNMPClient, error) {
	if target == "" {
		return nil, fmt.Errorf("target IP required")
	}
	if community == "" {
		community = "public"
	}
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}

	conn := &gosnmp.GoSNMP{
		Target:             target,
		Port:               opts.Port,
		Community:          community,
		Version:            snmpVersion(opts.Version),
		Timeout:            opts.Timeout,
		Retries:            opts.Retries,
		Context:            ctx,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     20,
		ExponentialTimeout: false,
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &gosnmpClient{conn: conn}, nil
}

// NewSNMPClientFunc is the factory used when none is injected.
// It can be replaced with a mock for testing.
var NewSNMPClientFunc ClientFactory = NewGoSNMPClient
