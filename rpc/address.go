package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// ErrMalformedAddress is returned when a wire-packed address cannot be
// decoded: neither a 4+2 nor a 16+2 byte string, or a trailing-bytes
// mismatch (§7 protocol violation: "unparseable address").
var ErrMalformedAddress = errors.New("rpc: malformed packed address")

// Address is a network endpoint, IPv4 or IPv6, plus port (§3). It is the
// identity exchanged in every init message and the key under which the
// Cluster looks up node sessions.
type Address struct {
	IP   net.IP
	Port uint16
}

// NewAddress constructs an Address from a net.IP and port, normalizing IP
// to its 4-byte form when it is an IPv4 address so packing is stable.
func NewAddress(ip net.IP, port uint16) Address {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return Address{IP: ip, Port: port}
}

// ParseAddress parses a "host:port" string, resolving host via net.ResolveIPAddr.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, err
	}
	ipaddr, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return Address{}, err
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Address{}, fmt.Errorf("rpc: invalid port %q: %w", portStr, err)
	}
	return NewAddress(ipaddr.IP, port), nil
}

// Connectable reports whether this address has a resolvable outbound form.
// An address learned from an inbound accept before any init handshake (or
// one built around the unspecified/zero IP) is not connectable; §4.4
// refuses to schedule a reconnect against it.
func (a Address) Connectable() bool {
	if len(a.IP) == 0 {
		return false
	}
	if a.IP.IsUnspecified() {
		return false
	}
	return true
}

// String renders the address as "host:port", the form used for log lines
// and as the map key backing Cluster's node-session cache.
func (a Address) String() string {
	return net.JoinHostPort(a.IP.String(), fmt.Sprintf("%d", a.Port))
}

// Pack encodes the address as the wire form used in init messages (§6):
// 4 or 16 raw IP bytes, self-identifying IPv4 vs IPv6 by length, followed
// by a 2-byte big-endian port.
func (a Address) Pack() []byte {
	ip := a.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	} else {
		ip = ip.To16()
	}
	out := make([]byte, len(ip)+2)
	copy(out, ip)
	binary.BigEndian.PutUint16(out[len(ip):], a.Port)
	return out
}

// UnpackAddress decodes the wire form produced by Pack.
func UnpackAddress(b []byte) (Address, error) {
	switch len(b) {
	case net.IPv4len + 2:
		ip := net.IP(append([]byte(nil), b[:net.IPv4len]...))
		port := binary.BigEndian.Uint16(b[net.IPv4len:])
		return Address{IP: ip, Port: port}, nil
	case net.IPv6len + 2:
		ip := net.IP(append([]byte(nil), b[:net.IPv6len]...))
		port := binary.BigEndian.Uint16(b[net.IPv6len:])
		return Address{IP: ip, Port: port}, nil
	default:
		return Address{}, ErrMalformedAddress
	}
}
