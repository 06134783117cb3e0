package model

import "time"

// TenantStatus 店铺审核状态
type TenantStatus string

const (
	TenantPending  TenantStatus = "pending"
	TenantApproved TenantStatus = "approved"
	TenantActive   TenantStatus = "active"
	TenantRejected TenantStatus = "rejected"
	TenantInactive TenantStatus = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantPending, TenantApproved, TenantActive, TenantRejected, TenantInactive:
		return true
	default:
		return false
	}
}

// AllowsTraffic 只有审核通过或已激活的店铺可以接收线上流量
func (s TenantStatus) AllowsTraffic() bool {
	return s == TenantApproved || s == TenantActive
}

// Tenant 代表一个接入聊天组件的店铺
type Tenant struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	DomainPattern string       `json:"domain"` // 精确域名、隐式子域名或 *.example.com
	Status        TenantStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Clone returns a copy so snapshots handed to the gateway cannot be mutated
// by later registry updates.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
