package model

import (
	"time"
)

// AccessStage 记录产生审计记录的准入阶段
type AccessStage string

const (
	StageTrust     AccessStage = "trust"
	StageRateLimit AccessStage = "rate_limit"
	StageAdmitted  AccessStage = "admitted"
)

// AccessLog 代表一次准入决策的审计记录
type AccessLog struct {
	ID         string         `json:"id"`          // 唯一记录 ID (UUID)
	RequestID  string         `json:"request_id"`  // X-Request-ID
	Stage      AccessStage    `json:"stage"`       // 决策所在阶段
	Allowed    bool           `json:"allowed"`     // 是否放行
	MatchedBy  MatchedBy      `json:"matched_by"`  // 匹配方式
	Reason     string         `json:"reason"`      // 可读原因
	TenantID   string         `json:"shop_id"`     // 匹配到的店铺 ID
	TenantName string         `json:"shop_name"`   // 匹配到的店铺名
	Class      OperationClass `json:"class"`       // 限流类别
	IP         string         `json:"ip"`          // 客户端 IP
	Domain     string         `json:"domain"`      // 来源域名
	Referer    string         `json:"referer"`     // 原始 Referer
	Origin     string         `json:"origin"`      // 原始 Origin
	UserAgent  string         `json:"user_agent"`  // 客户端 UA
	Method     string         `json:"method"`      // HTTP 方法
	Path       string         `json:"path"`        // 请求路径

	// 原始上下文，用于事后取证回放
	Context *ClientContext `json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AccessLogFilter 审计查询条件
type AccessLogFilter struct {
	TenantID string
	Allowed  *bool
	Limit    int
	From     *time.Time
	To       *time.Time
}

// Match reports whether entry satisfies every set condition.
func (f AccessLogFilter) Match(entry *AccessLog) bool {
	if entry == nil {
		return false
	}
	if f.TenantID != "" && entry.TenantID != f.TenantID {
		return false
	}
	if f.Allowed != nil && entry.Allowed != *f.Allowed {
		return false
	}
	if f.From != nil && entry.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && entry.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
