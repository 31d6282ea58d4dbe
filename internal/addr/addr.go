// Package addr converts IPv4 and MAC addresses to and from the text forms
// used in configuration and diagnostics.
package addr

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// ParseError reports the first character that could not be consumed.
// Trailing is set when a complete address was read and Pos points at the
// first character after it; the returned address is then still valid.
type ParseError struct {
	Input    string
	Pos      int
	Trailing bool
}

func (e *ParseError) Error() string {
	if e.Trailing {
		return fmt.Sprintf("addr: trailing characters in %q at position %d", e.Input, e.Pos)
	}
	return fmt.Sprintf("addr: cannot parse %q at position %d", e.Input, e.Pos)
}

// ParseIPv4 parses dotted-decimal text such as "10.0.0.9".
func ParseIPv4(s string) (netip.Addr, error) {
	var parts [4]byte
	part, digits, val := 0, 0, 0
	bad := func(pos int) (netip.Addr, error) {
		return netip.Addr{}, &ParseError{Input: s, Pos: pos}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			val = val*10 + int(ch-'0')
			digits++
			if digits > 3 || val > 255 {
				return bad(i)
			}
			parts[part] = byte(val)
		case ch == '.' && part < 3:
			if digits == 0 {
				return bad(i)
			}
			part++
			digits, val = 0, 0
		default:
			if part == 3 && digits > 0 {
				return netip.AddrFrom4(parts), &ParseError{Input: s, Pos: i, Trailing: true}
			}
			return bad(i)
		}
	}
	if part < 3 || digits == 0 {
		return bad(len(s))
	}
	return netip.AddrFrom4(parts), nil
}

// FormatIPv4 renders a in dotted-decimal form; non-IPv4 values render as "(null)".
func FormatIPv4(a netip.Addr) string {
	if !a.Is4() {
		return "(null)"
	}
	b := a.As4()
	out := make([]byte, 0, 15)
	for i, v := range b {
		if i > 0 {
			out = append(out, '.')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return string(out)
}

// ParseMAC accepts "AABBCC-DDEEFF", "AA-BB-CC-DD-EE-FF" and
// "AA:BB:CC:DD:EE:FF". Inside separated forms a group may be a single hex
// digit ("0:1:2:3:4:5").
func ParseMAC(s string) (net.HardwareAddr, error) {
	mac := make(net.HardwareAddr, 0, 6)
	var cur byte
	nibbles := 0
	lastSep := true // separators are not allowed first
	for i := 0; i < len(s); i++ {
		if len(mac) == 6 {
			return mac, &ParseError{Input: s, Pos: i, Trailing: true}
		}
		ch := s[i]
		if ch == '-' || ch == ':' {
			if lastSep {
				return nil, &ParseError{Input: s, Pos: i}
			}
			if nibbles == 1 {
				mac = append(mac, cur)
				cur, nibbles = 0, 0
			}
			lastSep = true
			continue
		}
		v, ok := hexVal(ch)
		if !ok {
			return nil, &ParseError{Input: s, Pos: i}
		}
		cur = cur<<4 | v
		nibbles++
		lastSep = false
		if nibbles == 2 {
			mac = append(mac, cur)
			cur, nibbles = 0, 0
		}
	}
	if nibbles == 1 && len(mac) < 6 {
		mac = append(mac, cur)
	}
	if len(mac) < 6 || lastSep {
		return nil, &ParseError{Input: s, Pos: len(s)}
	}
	return mac, nil
}

func hexVal(ch byte) (byte, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	}
	return 0, false
}

// FormatMAC renders a 6-byte hardware address as "AABBCC-DDEEFF".
func FormatMAC(hw net.HardwareAddr) string {
	if len(hw) != 6 {
		return "(null)"
	}
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, 13)
	for i, b := range hw {
		if i == 3 {
			out = append(out, '-')
		}
		out = append(out, digits[b>>4], digits[b&0x0F])
	}
	return string(out)
}
