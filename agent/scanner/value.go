package scanner

import (
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// Value is one varbind returned by a GET or WALK.
type Value struct {
	OID  string
	Type gosnmp.Asn1BER
	Raw  interface{}
}

func newValue(pdu gosnmp.SnmpPDU) Value {
	return Value{OID: strings.TrimPrefix(pdu.Name, "."), Type: pdu.Type, Raw: pdu.Value}
}

// Present reports whether the agent returned an actual value rather than an
// exception marker.
func (v Value) Present() bool {
	switch v.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return false
	}
	return v.Raw != nil
}

// Text renders the value as a trimmed string. Numeric types are formatted
// in decimal so callers can treat table columns uniformly.
func (v Value) Text() string {
	if !v.Present() {
		return ""
	}
	switch raw := v.Raw.(type) {
	case []byte:
		return cleanOctets(raw)
	case string:
		return cleanOctets([]byte(raw))
	}
	switch v.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32,
		gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(v.Raw).String()
	}
	return ""
}

// Int returns the value as an integer. Octet strings holding a decimal
// number are accepted since several vendors report counters that way.
func (v Value) Int() (int64, bool) {
	if !v.Present() {
		return 0, false
	}
	switch v.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32,
		gosnmp.TimeTicks, gosnmp.Uinteger32:
		b := gosnmp.ToBigInt(v.Raw)
		if !b.IsInt64() {
			return 0, false
		}
		return b.Int64(), true
	}
	n, err := strconv.ParseInt(v.Text(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// cleanOctets drops NULs and surrounding whitespace from an octet string.
func cleanOctets(b []byte) string {
	s := strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, string(b))
	return strings.TrimSpace(s)
}
