package domain

import (
	"net/netip"
	"strings"
)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// CanonicalIP returns ip in canonical form with IPv4-mapped IPv6 addresses
// unmapped, or "" when ip does not parse.
func CanonicalIP(ip string) string {
	addr, ok := parseIP(ip)
	if !ok {
		return ""
	}
	return addr.String()
}

func parseIP(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	if i := strings.IndexByte(raw, '%'); i >= 0 {
		raw = raw[:i]
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// IsLocalAddress reports whether ip is loopback or in a private IPv4 range,
// including the IPv4-mapped IPv6 forms. "unknown" and garbage are never local.
func IsLocalAddress(ip string) bool {
	if strings.EqualFold(strings.TrimSpace(ip), "localhost") {
		return true
	}
	addr, ok := parseIP(ip)
	if !ok {
		return false
	}
	if addr == netip.IPv6Loopback() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsLocalHostname reports whether a normalized request domain names the
// local machine or a private network literal.
func IsLocalHostname(host string) bool {
	h := Normalize(host)
	if h == "" {
		return false
	}
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	if _, ok := parseIP(h); ok {
		return IsLocalAddress(h)
	}
	return false
}
