package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

const maxAccessLogLimit = 1000

type AuditHandler struct {
	auditor *service.AccessAuditor
}

func NewAuditHandler(auditor *service.AccessAuditor) *AuditHandler {
	return &AuditHandler{auditor: auditor}
}

// List 查询准入审计记录，支持 shop_id / allowed / from / to / limit
func (h *AuditHandler) List(c *gin.Context) {
	filter := model.AccessLogFilter{
		TenantID: c.Query("shop_id"),
		Limit:    queryInt(c, "limit", 100),
	}
	if filter.Limit <= 0 || filter.Limit > maxAccessLogLimit {
		filter.Limit = maxAccessLogLimit
	}
	if raw := c.Query("allowed"); raw != "" {
		allowed, err := strconv.ParseBool(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidRequest("allowed must be true or false"))
			return
		}
		filter.Allowed = &allowed
	}
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		filter.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		filter.To = &t
	}

	records, err := h.auditor.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(apperrors.New(apperrors.ErrInternal, "failed to query access logs", err))
		return
	}
	if records == nil {
		records = []*model.AccessLog{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logs": records})
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format %q", raw)
}
