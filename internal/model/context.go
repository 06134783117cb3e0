package model

import "time"

// UnknownIP is used when no client address can be determined. It is never
// treated as local or attributable.
const UnknownIP = "unknown"

// ClientContext 单次请求的来源信息，随请求创建、随响应丢弃
type ClientContext struct {
	SourceIP string `json:"ip"`

	RefererURL      string `json:"referer,omitempty"`
	RefererDomain   string `json:"referer_domain,omitempty"`
	RefererProtocol string `json:"referer_protocol,omitempty"`
	RefererPort     int    `json:"referer_port,omitempty"`

	OriginURL      string `json:"origin,omitempty"`
	OriginDomain   string `json:"origin_domain,omitempty"`
	OriginProtocol string `json:"origin_protocol,omitempty"`
	OriginPort     int    `json:"origin_port,omitempty"`

	UserAgent  string    `json:"user_agent,omitempty"`
	Host       string    `json:"host,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// CandidateDomains returns the domains that can prove the request origin,
// Referer first, without duplicates.
func (c *ClientContext) CandidateDomains() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, 2)
	if c.RefererDomain != "" {
		out = append(out, c.RefererDomain)
	}
	if c.OriginDomain != "" && c.OriginDomain != c.RefererDomain {
		out = append(out, c.OriginDomain)
	}
	return out
}

// PrimaryDomain is the domain recorded in access logs.
func (c *ClientContext) PrimaryDomain() string {
	if c == nil {
		return ""
	}
	if c.RefererDomain != "" {
		return c.RefererDomain
	}
	return c.OriginDomain
}

// MatchedBy 描述验证通过的依据
type MatchedBy string

const (
	MatchedByDomain   MatchedBy = "domain"
	MatchedByIP       MatchedBy = "ip"
	MatchedByLocalDev MatchedBy = "local-dev"
	MatchedByNone     MatchedBy = "none"
)

// ValidationVerdict is the outcome of trust validation. Reason is for logs
// and audit only; callers must not parse it.
type ValidationVerdict struct {
	Allowed   bool      `json:"allowed"`
	Tenant    *Tenant   `json:"tenant,omitempty"`
	MatchedBy MatchedBy `json:"matched_by"`
	Reason    string    `json:"reason"`
}

// TenantID returns the matched tenant ID or "".
func (v ValidationVerdict) TenantID() string {
	if v.Tenant == nil {
		return ""
	}
	return v.Tenant.ID
}

func Allow(tenant *Tenant, by MatchedBy, reason string) ValidationVerdict {
	return ValidationVerdict{Allowed: true, Tenant: tenant, MatchedBy: by, Reason: reason}
}

func Deny(reason string) ValidationVerdict {
	return ValidationVerdict{Allowed: false, MatchedBy: MatchedByNone, Reason: reason}
}
