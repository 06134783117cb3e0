package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/repository"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

// TenantHandler 店铺管理接口 (/api/admin/shops)
type TenantHandler struct {
	svc *service.TenantService
}

func NewTenantHandler(svc *service.TenantService) *TenantHandler {
	return &TenantHandler{svc: svc}
}

func (h *TenantHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)

	tenants, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(tenantError(err))
		return
	}
	if tenants == nil {
		tenants = []*model.Tenant{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shops": tenants})
}

func (h *TenantHandler) Get(c *gin.Context) {
	tenant, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(tenantError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shop": tenant})
}

func (h *TenantHandler) Create(c *gin.Context) {
	var req service.TenantCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	tenant, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(tenantError(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "shop": tenant})
}

func (h *TenantHandler) Update(c *gin.Context) {
	var req service.TenantUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	tenant, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(tenantError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shop": tenant})
}

// SetStatus 审核流转：pending -> approved/rejected, active <-> inactive
func (h *TenantHandler) SetStatus(c *gin.Context) {
	var req service.TenantStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	tenant, err := h.svc.SetStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(tenantError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shop": tenant})
}

func (h *TenantHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(tenantError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "deleted"})
}

func tenantError(err error) error {
	switch {
	case errors.Is(err, repository.ErrTenantNotFound):
		return apperrors.NewNotFound("shop not found")
	case errors.Is(err, repository.ErrTenantExists):
		return apperrors.NewConflict("shop already exists")
	default:
		// AppError 原样透传，其余在 ErrorHandler 中转为 500
		return err
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return parsed
}
