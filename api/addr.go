// File: api/addr.go
// Author: momentics <momentics@gmail.com>
//
// IPv4 helpers. Peer addresses travel as host-order uint32 values through the
// session table and the admission history.

package api

import (
	"fmt"
	"net"
	"net/netip"
)

// ParseIPv4 parses a dotted-quad address.
func ParseIPv4(s string) (uint32, error) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is4() {
		return 0, fmt.Errorf("%w: not an IPv4 address %q", ErrInvalidArgument, s)
	}
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// LookupIPv4 resolves a host name or dotted quad to its first IPv4 address.
// An empty host or "*" is the wildcard address 0.
func LookupIPv4(host string) (uint32, error) {
	if host == "" || host == "*" {
		return 0, nil
	}
	if ip, err := ParseIPv4(host); err == nil {
		return ip, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return 0, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), nil
		}
	}
	return 0, fmt.Errorf("%w: no IPv4 address for %q", ErrInvalidArgument, host)
}

// FormatIPv4 renders a host-order address as a dotted quad.
func FormatIPv4(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// IPv4Bytes returns the network-order bytes of ip.
func IPv4Bytes(ip uint32) [4]byte {
	return [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}
}
