package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/ratelimit"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

func newGatewayAdminRouter(t *testing.T) (*gin.Engine, *ratelimit.Limiters, *recordingDNS) {
	t.Helper()
	limiters := ratelimit.NewLimiters(map[model.OperationClass]model.RateLimitPolicy{
		model.ClassClientAPI: {Window: time.Minute, MaxRequests: 1},
	}, nil)
	t.Cleanup(limiters.Close)

	auditor, err := service.NewAccessAuditor(nil, service.AuditorOptions{}, nil)
	require.NoError(t, err)
	t.Cleanup(auditor.Close)

	registry := service.NewTenantRegistry([]*model.Tenant{testShop.Clone()}, nil, 0, nil)
	dns := &recordingDNS{}
	h := NewGatewayHandler(limiters, registry, auditor, dns)

	r := newTestRouter()
	g := r.Group("/api/admin/gateway")
	g.GET("/status", h.Status)
	g.DELETE("/ratelimits", h.ResetRateLimits)
	g.DELETE("/dns/:domain", h.InvalidateDNS)
	return r, limiters, dns
}

func TestGatewayStatus(t *testing.T) {
	r, limiters, _ := newGatewayAdminRouter(t)
	_, err := limiters.Allow(model.ClassClientAPI, "198.51.100.1:shop-1")
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodGet, "/api/admin/gateway/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	registry := body["registry"].(map[string]any)
	assert.EqualValues(t, 1, registry["shops"])
	assert.Equal(t, true, registry["loaded"])
	assert.EqualValues(t, 0, body["audit_dropped"])

	classes := body["ratelimits"].([]any)
	require.Len(t, classes, len(model.OperationClasses))
	first := classes[0].(map[string]any)
	assert.Equal(t, string(model.ClassConnection), first["class"])

	var clientAPI map[string]any
	for _, c := range classes {
		if m := c.(map[string]any); m["class"] == string(model.ClassClientAPI) {
			clientAPI = m
		}
	}
	require.NotNil(t, clientAPI)
	assert.EqualValues(t, 1, clientAPI["tracked_keys"])
	assert.EqualValues(t, 1, clientAPI["max_requests"])
}

func TestGatewayResetRateLimits(t *testing.T) {
	r, limiters, _ := newGatewayAdminRouter(t)
	key := "198.51.100.1:shop-1"

	v, _ := limiters.Allow(model.ClassClientAPI, key)
	require.True(t, v.Allowed)
	v, _ = limiters.Allow(model.ClassClientAPI, key)
	require.False(t, v.Allowed)

	rec := doJSON(t, r, http.MethodDelete, "/api/admin/gateway/ratelimits?class=client_api&key="+key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v, _ = limiters.Allow(model.ClassClientAPI, key)
	assert.True(t, v.Allowed)

	rec = doJSON(t, r, http.MethodDelete, "/api/admin/gateway/ratelimits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, limiters.Window(model.ClassClientAPI).Len())
}

func TestGatewayResetRateLimitsRejectsBadInput(t *testing.T) {
	r, _, _ := newGatewayAdminRouter(t)

	rec := doJSON(t, r, http.MethodDelete, "/api/admin/gateway/ratelimits?class=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/api/admin/gateway/ratelimits?key=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatewayInvalidateDNS(t *testing.T) {
	r, _, dns := newGatewayAdminRouter(t)

	rec := doJSON(t, r, http.MethodDelete, "/api/admin/gateway/dns/WWW.Tea.Example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tea.example.com", "www.tea.example.com"}, dns.hosts)
}
