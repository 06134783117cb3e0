package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: \"8081\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.False(t, cfg.Gateway.OpenRegistryBypass)
	assert.False(t, cfg.Gateway.TrustProxyHeaders)
	assert.Equal(t, "/api/", cfg.Gateway.ProtectedPrefix)
	assert.Equal(t, []string{"/api/auth/", "/api/admin/", "/api/shop/"}, cfg.Gateway.ExemptPrefixes)
	assert.Equal(t, 30*time.Minute, cfg.Gateway.DNS.CacheTTL)
	assert.Equal(t, 3*time.Second, cfg.Gateway.DNS.Timeout)
	require.Len(t, cfg.Gateway.Routes, 3)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPolicies(), policies)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
gateway:
  open_registry_bypass: true
  dev_domains: ["dev.quicktalk.test"]
rate_limits:
  message_send:
    window: 10s
    max_requests: 3
tenants:
  - id: shop-1
    name: Demo
    domain: "https://www.Demo.example.com/"
`)
	t.Setenv("QUICKTALK_AUTH_ADMIN_KEY", "secret")
	t.Setenv("QUICKTALK_RATE_LIMITS_CLIENT_API_MAX_REQUESTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Gateway.OpenRegistryBypass)
	assert.Equal(t, []string{"dev.quicktalk.test"}, cfg.Gateway.DevDomains)
	assert.Equal(t, "secret", cfg.Auth.AdminKey)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, model.RateLimitPolicy{Window: 10 * time.Second, MaxRequests: 3}, policies[model.ClassMessageSend])
	assert.Equal(t, 7, policies[model.ClassClientAPI].MaxRequests)

	seeds := cfg.SeedTenants()
	require.Len(t, seeds, 1)
	assert.Equal(t, "demo.example.com", seeds[0].DomainPattern)
	assert.Equal(t, model.TenantActive, seeds[0].Status)
}

func TestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown class", Config{RateLimits: map[string]RateLimitConfig{"bogus": {Window: time.Second, MaxRequests: 1}}}},
		{"zero window", Config{RateLimits: map[string]RateLimitConfig{"client_api": {MaxRequests: 1}}}},
		{"zero max", Config{RateLimits: map[string]RateLimitConfig{"client_api": {Window: time.Second}}}},
		{"route class", Config{Gateway: GatewayConfig{Routes: []RouteRule{{Prefix: "/api/x", Class: "nope"}}}}},
		{"route prefix", Config{Gateway: GatewayConfig{Routes: []RouteRule{{Prefix: "api/x", Class: "client_api"}}}}},
		{"tenant status", Config{Tenants: []TenantConfig{{ID: "a", Domain: "a.com", Status: "frozen"}}}},
		{"tenant domain", Config{Tenants: []TenantConfig{{ID: "a", Domain: "not a domain"}}}},
		{"tenant dup", Config{Tenants: []TenantConfig{{ID: "a", Domain: "a.com"}, {ID: "a", Domain: "b.com"}}}},
		{"audit sink", Config{Audit: AuditConfig{Sink: "kafka"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestLoadInvalidFileFails(t *testing.T) {
	_, err := Load(writeConfig(t, "rate_limits:\n  client_api:\n    window: 0s\n    max_requests: 5\n"))
	assert.Error(t, err)
}
