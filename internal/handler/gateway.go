package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/domain"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/ratelimit"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

// GatewayHandler 网关运维接口：限流状态/重置、DNS 缓存失效
type GatewayHandler struct {
	limiters *ratelimit.Limiters
	registry *service.TenantRegistry
	auditor  *service.AccessAuditor
	dns      service.DNSInvalidator
}

func NewGatewayHandler(limiters *ratelimit.Limiters, registry *service.TenantRegistry, auditor *service.AccessAuditor, dns service.DNSInvalidator) *GatewayHandler {
	return &GatewayHandler{limiters: limiters, registry: registry, auditor: auditor, dns: dns}
}

func (h *GatewayHandler) Status(c *gin.Context) {
	resp := gin.H{
		"success":    true,
		"ratelimits": h.limiters.Status(),
		"registry":   h.registry.Status(),
	}
	if h.auditor != nil {
		resp["audit_dropped"] = h.auditor.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

// ResetRateLimits 无 class 时清空全部；指定 class 时可再指定 key
func (h *GatewayHandler) ResetRateLimits(c *gin.Context) {
	rawClass := c.Query("class")
	key := c.Query("key")
	if rawClass == "" {
		if key != "" {
			_ = c.Error(apperrors.NewInvalidRequest("key requires class"))
			return
		}
		h.limiters.ResetAll()
		c.JSON(http.StatusOK, gin.H{"success": true, "reset": "all"})
		return
	}

	class, err := model.ParseOperationClass(rawClass)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if err := h.limiters.Reset(class, key); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reset": class, "key": key})
}

func (h *GatewayHandler) InvalidateDNS(c *gin.Context) {
	if h.dns == nil {
		_ = c.Error(apperrors.New(apperrors.ErrInternal, "dns cache not configured", errors.New("nil resolver")))
		return
	}
	raw := strings.ToLower(strings.TrimSpace(c.Param("domain")))
	host := domain.Normalize(raw)
	if host == "" {
		_ = c.Error(apperrors.NewInvalidRequest("domain required"))
		return
	}
	// 来源域名按原样解析，店铺域名按规范化后解析，两个都清掉
	hosts := []string{host}
	if raw != host {
		hosts = append(hosts, raw)
	}
	for _, name := range hosts {
		h.dns.Invalidate(name)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invalidated": hosts})
}
