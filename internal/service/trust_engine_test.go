package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

type fakeResolver struct {
	mu      sync.Mutex
	records map[string][]string
	calls   map[string]int
}

func newFakeResolver(records map[string][]string) *fakeResolver {
	return &fakeResolver{records: records, calls: make(map[string]int)}
}

func (f *fakeResolver) Resolve(ctx context.Context, host string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[host]++
	return f.records[host]
}

func (f *fakeResolver) Invalidate(host string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["invalidate:"+host]++
}

func shop(id, pattern string, status model.TenantStatus) *model.Tenant {
	return &model.Tenant{ID: id, Name: id, DomainPattern: pattern, Status: status}
}

func referer(ip, host string) *model.ClientContext {
	return &model.ClientContext{SourceIP: ip, RefererDomain: host}
}

func TestValidateOpenRegistryBypass(t *testing.T) {
	engine := NewTrustEngine(newFakeResolver(nil), TrustOptions{OpenRegistryBypass: true}, nil)

	for _, cc := range []*model.ClientContext{
		referer("203.0.113.9", "anything.com"),
		{SourceIP: "203.0.113.9"},
		{SourceIP: model.UnknownIP},
	} {
		v := engine.Validate(context.Background(), cc, nil)
		assert.True(t, v.Allowed)
		assert.Equal(t, model.MatchedByNone, v.MatchedBy)
		assert.Nil(t, v.Tenant)
	}
}

func TestValidateEmptyRegistryWithoutBypassFailsClosed(t *testing.T) {
	engine := NewTrustEngine(newFakeResolver(nil), TrustOptions{}, nil)
	v := engine.Validate(context.Background(), referer("203.0.113.9", "anything.com"), nil)
	assert.False(t, v.Allowed)
	assert.Equal(t, model.MatchedByNone, v.MatchedBy)
}

func TestValidateMissingOrigin(t *testing.T) {
	tenants := []*model.Tenant{shop("s1", "shop.example.com", model.TenantActive)}
	engine := NewTrustEngine(newFakeResolver(nil), TrustOptions{}, nil)

	v := engine.Validate(context.Background(), &model.ClientContext{SourceIP: "127.0.0.1"}, tenants)
	assert.True(t, v.Allowed)
	assert.Equal(t, model.MatchedByLocalDev, v.MatchedBy)

	v = engine.Validate(context.Background(), &model.ClientContext{SourceIP: "::ffff:192.168.1.20"}, tenants)
	assert.True(t, v.Allowed)

	v = engine.Validate(context.Background(), &model.ClientContext{SourceIP: "203.0.113.9"}, tenants)
	assert.False(t, v.Allowed)
	assert.Equal(t, "missing origin", v.Reason)

	v = engine.Validate(context.Background(), &model.ClientContext{SourceIP: model.UnknownIP}, tenants)
	assert.False(t, v.Allowed)
	assert.Equal(t, "missing origin", v.Reason)
}

func TestValidateLocalDomainShortcut(t *testing.T) {
	tenants := []*model.Tenant{shop("s1", "shop.example.com", model.TenantActive)}
	engine := NewTrustEngine(newFakeResolver(nil), TrustOptions{DevDomains: []string{"dev.quicktalk.test"}}, nil)

	tests := []struct {
		name    string
		cc      *model.ClientContext
		allowed bool
	}{
		{"localhost from loopback", referer("127.0.0.1", "localhost"), true},
		{"dot localhost", referer("10.1.2.3", "app.localhost"), true},
		{"private literal", referer("192.168.0.5", "192.168.0.10"), true},
		{"dev domain", referer("172.16.4.4", "admin.dev.quicktalk.test"), true},
		{"localhost from public ip", referer("203.0.113.9", "localhost"), false},
		{"public domain from local ip", referer("127.0.0.1", "other.example.org"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Validate(context.Background(), tt.cc, tenants)
			assert.Equal(t, tt.allowed, v.Allowed, v.Reason)
			if tt.allowed {
				assert.Equal(t, model.MatchedByLocalDev, v.MatchedBy)
			}
		})
	}
}

func TestValidateDomainSweep(t *testing.T) {
	tenants := []*model.Tenant{
		shop("wild", "*.929991.xyz", model.TenantApproved),
		shop("exact", "shop.example.com", model.TenantActive),
	}
	engine := NewTrustEngine(newFakeResolver(nil), TrustOptions{}, nil)

	v := engine.Validate(context.Background(), referer("203.0.113.9", "bbs10.929991.xyz"), tenants)
	require.True(t, v.Allowed)
	assert.Equal(t, model.MatchedByDomain, v.MatchedBy)
	assert.Equal(t, "wild", v.TenantID())

	v = engine.Validate(context.Background(), referer("203.0.113.9", "929991.xyz"), tenants)
	assert.Equal(t, "wild", v.TenantID())

	v = engine.Validate(context.Background(), referer("203.0.113.9", "www.shop.example.com"), tenants)
	assert.Equal(t, "exact", v.TenantID())

	v = engine.Validate(context.Background(), referer("203.0.113.9", "cdn.shop.example.com"), tenants)
	assert.Equal(t, "exact", v.TenantID(), "implicit subdomains are accepted")

	cc := &model.ClientContext{SourceIP: "203.0.113.9", RefererDomain: "evil.com", OriginDomain: "shop.example.com"}
	v = engine.Validate(context.Background(), cc, tenants)
	assert.Equal(t, "exact", v.TenantID(), "origin is a candidate too")

	v = engine.Validate(context.Background(), referer("203.0.113.9", "929991.xyz.evil.com"), tenants)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "929991.xyz.evil.com")
}

func TestValidateIneligibleStatusesNeverMatch(t *testing.T) {
	for _, status := range []model.TenantStatus{model.TenantPending, model.TenantRejected, model.TenantInactive} {
		t.Run(string(status), func(t *testing.T) {
			resolver := newFakeResolver(map[string][]string{
				"shop.example.com": {"198.51.100.7"},
			})
			engine := NewTrustEngine(resolver, TrustOptions{OpenRegistryBypass: true}, nil)
			tenants := []*model.Tenant{shop("s1", "shop.example.com", status)}

			v := engine.Validate(context.Background(), referer("198.51.100.7", "shop.example.com"), tenants)
			assert.False(t, v.Allowed)
			assert.Zero(t, resolver.calls["shop.example.com"], "ineligible shops are not resolved")
		})
	}
}

func TestValidateIPFallback(t *testing.T) {
	resolver := newFakeResolver(map[string][]string{
		"shop.example.com":   {"198.51.100.7", "2001:db8::7"},
		"mirror.example.net": {"198.51.100.7"},
		"other.example.org":  {"192.0.2.200"},
	})
	tenants := []*model.Tenant{
		shop("wild", "*.example.net", model.TenantActive),
		shop("s1", "shop.example.com", model.TenantActive),
	}
	engine := NewTrustEngine(resolver, TrustOptions{}, nil)

	v := engine.Validate(context.Background(), referer("203.0.113.9", "mirror.example.net"), tenants)
	assert.Equal(t, model.MatchedByDomain, v.MatchedBy, "pattern match wins over ip fallback")
	assert.Equal(t, "wild", v.TenantID())

	v = engine.Validate(context.Background(), referer("203.0.113.9", "mirror.example.org"), tenants)
	assert.False(t, v.Allowed)

	resolver.records["mirror.example.org"] = []string{"2001:db8::7"}
	v = engine.Validate(context.Background(), referer("203.0.113.9", "mirror.example.org"), tenants)
	require.True(t, v.Allowed)
	assert.Equal(t, model.MatchedByIP, v.MatchedBy)
	assert.Equal(t, "s1", v.TenantID())

	v = engine.Validate(context.Background(), referer("::ffff:198.51.100.7", "other.example.org"), tenants)
	require.True(t, v.Allowed, "source ip equal to a shop address")
	assert.Equal(t, model.MatchedByIP, v.MatchedBy)
}

func TestValidateIPFallbackSkipsWildcards(t *testing.T) {
	resolver := newFakeResolver(map[string][]string{
		"example.net":         {"198.51.100.7"},
		"unrelated.test.site": {"198.51.100.7"},
	})
	tenants := []*model.Tenant{shop("wild", "*.example.net", model.TenantActive)}
	engine := NewTrustEngine(resolver, TrustOptions{}, nil)

	v := engine.Validate(context.Background(), referer("198.51.100.7", "unrelated.test.site"), tenants)
	assert.False(t, v.Allowed)
	assert.Zero(t, resolver.calls["example.net"])
	assert.Zero(t, resolver.calls["unrelated.test.site"], "candidates are only resolved when a literal shop resolves")
}

func TestValidateResolvesEachHostOnce(t *testing.T) {
	resolver := newFakeResolver(map[string][]string{
		"a.example.com": {"192.0.2.1"},
		"b.example.com": {"192.0.2.2"},
	})
	tenants := []*model.Tenant{
		shop("a", "a.example.com", model.TenantActive),
		shop("b", "b.example.com", model.TenantActive),
	}
	engine := NewTrustEngine(resolver, TrustOptions{}, nil)

	v := engine.Validate(context.Background(), referer("203.0.113.9", "visitor.example.org"), tenants)
	assert.False(t, v.Allowed)
	assert.Equal(t, 1, resolver.calls["visitor.example.org"])
	assert.Equal(t, 1, resolver.calls["a.example.com"])
	assert.Equal(t, 1, resolver.calls["b.example.com"])
}
