package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ElonQian1/QuickTalk--sub006/internal/domain"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

// HostResolver resolves a host to canonical IP strings. Failures yield an
// empty slice.
type HostResolver interface {
	Resolve(ctx context.Context, host string) []string
}

type TrustOptions struct {
	// OpenRegistryBypass admits everything while no shop is registered.
	// Must stay off in production.
	OpenRegistryBypass bool
	// DevDomains count as local domains in the local-dev shortcut.
	DevDomains []string
}

// TrustEngine 判断请求是否来自已登记店铺的网站
type TrustEngine struct {
	resolver   HostResolver
	bypass     bool
	devDomains []string
	logger     *slog.Logger
}

func NewTrustEngine(resolver HostResolver, opts TrustOptions, logger *slog.Logger) *TrustEngine {
	if logger == nil {
		logger = slog.Default()
	}
	dev := make([]string, 0, len(opts.DevDomains))
	for _, d := range opts.DevDomains {
		if n := domain.Normalize(d); n != "" {
			dev = append(dev, n)
		}
	}
	return &TrustEngine{
		resolver:   resolver,
		bypass:     opts.OpenRegistryBypass,
		devDomains: dev,
		logger:     logger,
	}
}

// Validate runs the checks in order and returns on the first decision:
// open-registry bypass, missing origin, local-dev shortcut, domain pattern
// sweep, DNS/IP fallback, deny.
func (e *TrustEngine) Validate(ctx context.Context, cc *model.ClientContext, tenants []*model.Tenant) model.ValidationVerdict {
	if e.bypass && len(tenants) == 0 {
		return model.Allow(nil, model.MatchedByNone, "open registry bypass: no shops registered")
	}

	candidates := cc.CandidateDomains()
	sourceIP := ""
	if cc != nil {
		sourceIP = cc.SourceIP
	}
	localSource := domain.IsLocalAddress(sourceIP)

	if len(candidates) == 0 {
		if localSource {
			return model.Allow(nil, model.MatchedByLocalDev, "local request without origin")
		}
		return model.Deny("missing origin")
	}

	if localSource {
		for _, c := range candidates {
			if e.isLocalDomain(c) {
				return model.Allow(nil, model.MatchedByLocalDev, "local development domain "+c)
			}
		}
	}

	eligible := make([]*model.Tenant, 0, len(tenants))
	for _, t := range tenants {
		if t != nil && t.Status.AllowsTraffic() {
			eligible = append(eligible, t)
		}
	}

	for _, t := range eligible {
		for _, c := range candidates {
			if domain.Matches(c, t.DomainPattern) {
				return model.Allow(t, model.MatchedByDomain, "domain "+c+" matches "+t.DomainPattern)
			}
		}
	}

	if v, ok := e.matchByIP(ctx, candidates, domain.CanonicalIP(sourceIP), eligible); ok {
		return v
	}

	return model.Deny("no approved shop matches " + strings.Join(candidates, ", "))
}

func (e *TrustEngine) isLocalDomain(candidate string) bool {
	if domain.IsLocalHostname(candidate) {
		return true
	}
	for _, d := range e.devDomains {
		if domain.Matches(candidate, d) {
			return true
		}
	}
	return false
}

// matchByIP compares the resolved addresses of each literal shop domain
// with the candidates' addresses and the source IP. Wildcard shops are not
// resolvable and never match here.
func (e *TrustEngine) matchByIP(ctx context.Context, candidates []string, sourceIP string, tenants []*model.Tenant) (model.ValidationVerdict, bool) {
	if e.resolver == nil {
		return model.ValidationVerdict{}, false
	}

	var candidateIPs map[string]struct{}
	resolved := make(map[string][]string)
	resolve := func(host string) []string {
		if ips, ok := resolved[host]; ok {
			return ips
		}
		ips := e.resolver.Resolve(ctx, host)
		resolved[host] = ips
		return ips
	}

	for _, t := range tenants {
		host := domain.LiteralHost(t.DomainPattern)
		if host == "" {
			continue
		}
		tenantIPs := resolve(host)
		if len(tenantIPs) == 0 {
			continue
		}

		if candidateIPs == nil {
			candidateIPs = make(map[string]struct{})
			for _, c := range candidates {
				for _, ip := range resolve(c) {
					candidateIPs[ip] = struct{}{}
				}
			}
		}

		for _, ip := range tenantIPs {
			if _, ok := candidateIPs[ip]; ok {
				return model.Allow(t, model.MatchedByIP, "resolved address "+ip+" shared with "+host), true
			}
			if sourceIP != "" && ip == sourceIP {
				return model.Allow(t, model.MatchedByIP, "source address "+ip+" belongs to "+host), true
			}
		}
	}
	if ctx.Err() != nil {
		e.logger.Debug("ip fallback cut short", "error", ctx.Err())
	}
	return model.ValidationVerdict{}, false
}
