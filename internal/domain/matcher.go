// Package domain normalizes hostnames and matches them against shop domain
// patterns. Everything here is pure and safe for concurrent use.
package domain

import (
	"net/netip"
	"regexp"
	"strings"
)

const wildcardPrefix = "*."

var (
	schemeRe = regexp.MustCompile(`^[a-z][a-z0-9+.\-]*://`)
	portRe   = regexp.MustCompile(`:\d*$`)
	labelRe  = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)*[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
)

// Normalize strips scheme, userinfo, path, port and leading "www." labels
// from domain and lower-cases it. Normalize(Normalize(d)) == Normalize(d).
func Normalize(domain string) string {
	s := domain
	// After the first pass every change shortens s, so this terminates.
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = schemeRe.ReplaceAllString(s, "")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		if end := strings.IndexByte(s, ']'); end > 0 {
			s = s[1:end]
		}
	}
	if _, err := netip.ParseAddr(s); err != nil {
		s = portRe.ReplaceAllString(s, "")
	}
	s = strings.TrimRight(s, ".")
	for strings.HasPrefix(s, "www.") {
		s = strings.TrimPrefix(s, "www.")
	}
	return s
}

// Matches reports whether candidate is covered by pattern. Patterns may be
// an exact domain (which also accepts its subdomains) or "*.base", which
// accepts base itself and every subdomain of base. Empty input never matches.
func Matches(candidate, pattern string) bool {
	c := Normalize(candidate)
	p := Normalize(pattern)
	if c == "" || p == "" {
		return false
	}
	if c == p {
		return true
	}
	if strings.HasPrefix(p, wildcardPrefix) {
		base := strings.TrimPrefix(p, wildcardPrefix)
		if base == "" {
			return false
		}
		return c == base || strings.HasSuffix(c, "."+base)
	}
	return strings.HasSuffix(c, "."+p)
}

// IsWildcard reports whether pattern is a "*." wildcard pattern.
func IsWildcard(pattern string) bool {
	return strings.HasPrefix(Normalize(pattern), wildcardPrefix)
}

// LiteralHost returns the resolvable host of a pattern, or "" for
// wildcards, which have no single address.
func LiteralHost(pattern string) string {
	p := Normalize(pattern)
	if p == "" || strings.Contains(p, "*") {
		return ""
	}
	return p
}

// ValidPattern checks the shape of a shop domain pattern: a hostname, an IP
// literal, or a wildcard over a hostname.
func ValidPattern(pattern string) bool {
	p := Normalize(pattern)
	if p == "" {
		return false
	}
	if _, err := netip.ParseAddr(p); err == nil {
		return true
	}
	p = strings.TrimPrefix(p, wildcardPrefix)
	if len(p) > 253 {
		return false
	}
	return labelRe.MatchString(p)
}
