// Package resolver resolves shop domains to IP addresses for the trust
// engine's IP fallback, with a process-wide TTL cache.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ElonQian1/QuickTalk--sub006/internal/domain"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/metrics"
)

const (
	DefaultTTL         = 30 * time.Minute
	DefaultNegativeTTL = time.Minute
	DefaultTimeout     = 3 * time.Second

	cacheMaxCost = 1 << 16
)

// LookupFunc matches (*net.Resolver).LookupIP.
type LookupFunc func(ctx context.Context, network, host string) ([]net.IP, error)

type entry struct {
	ips       []string
	expiresAt time.Time
}

// Resolver caches A/AAAA results per domain. Concurrent misses for the same
// domain share one lookup. A lookup keeps running after the caller's context
// ends so its result still lands in the cache.
type Resolver struct {
	lookup      LookupFunc
	cache       *ristretto.Cache[string, *entry]
	group       singleflight.Group
	ttl         time.Duration
	negativeTTL time.Duration
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	warnLimit   *rate.Limiter
}

type Option func(*Resolver)

func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithNegativeTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.negativeTTL = ttl
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func New(opts ...Option) (*Resolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *entry]{
		NumCounters:        cacheMaxCost * 10,
		MaxCost:            cacheMaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		lookup:      net.DefaultResolver.LookupIP,
		cache:       cache,
		ttl:         DefaultTTL,
		negativeTTL: DefaultNegativeTTL,
		timeout:     DefaultTimeout,
		now:         time.Now,
		logger:      slog.Default(),
		warnLimit:   rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Resolve returns the sorted, de-duplicated canonical IPs of host. Failures
// and NXDOMAIN yield an empty slice, never an error. IP literals resolve to
// themselves without a lookup.
func (r *Resolver) Resolve(ctx context.Context, host string) []string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return nil
	}
	if ip := domain.CanonicalIP(host); ip != "" {
		return []string{ip}
	}

	if e, ok := r.cache.Get(host); ok && r.now().Before(e.expiresAt) {
		metrics.DNSLookups.WithLabelValues("hit").Inc()
		return slices.Clone(e.ips)
	}

	ch := r.group.DoChan(host, func() (any, error) {
		return r.fill(ctx, host), nil
	})
	select {
	case res := <-ch:
		return slices.Clone(res.Val.([]string))
	case <-ctx.Done():
		return nil
	}
}

// fill performs the lookup and caches the outcome, negative results with a
// shorter TTL.
func (r *Resolver) fill(ctx context.Context, host string) []string {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	ips, err := r.lookupAll(lctx, host)
	ttl := r.ttl
	switch {
	case err != nil:
		metrics.DNSLookups.WithLabelValues("error").Inc()
		if r.warnLimit.Allow() {
			r.logger.Warn("dns lookup failed", "domain", host, "error", err)
		}
		ttl = r.negativeTTL
	case len(ips) == 0:
		metrics.DNSLookups.WithLabelValues("empty").Inc()
		ttl = r.negativeTTL
	default:
		metrics.DNSLookups.WithLabelValues("miss").Inc()
	}

	// ristretto 在写缓冲满或缓存已关闭时丢弃写入，下次同一域名会重新查询
	if !r.cache.SetWithTTL(host, &entry{ips: ips, expiresAt: r.now().Add(ttl)}, 1, ttl) {
		metrics.DNSLookups.WithLabelValues("cache_drop").Inc()
		r.logger.Debug("dns cache write dropped", "domain", host)
		return ips
	}
	r.cache.Wait()
	return ips
}

// lookupAll queries both address families in parallel. It only errors when
// both families fail for reasons other than "not found".
func (r *Resolver) lookupAll(ctx context.Context, host string) ([]string, error) {
	networks := []string{"ip4", "ip6"}
	results := make([][]net.IP, len(networks))
	errs := make([]error, len(networks))

	var g errgroup.Group
	for i, network := range networks {
		g.Go(func() error {
			ips, err := r.lookup(ctx, network, host)
			if err != nil && !isNotFound(err) {
				errs[i] = err
			}
			results[i] = ips
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, 4)
	for _, ips := range results {
		for _, ip := range ips {
			if s := domain.CanonicalIP(ip.String()); s != "" {
				out = append(out, s)
			}
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)

	if len(out) == 0 && errs[0] != nil && errs[1] != nil {
		return out, errors.Join(errs...)
	}
	return out, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// Invalidate drops host from the cache, or everything when host is "".
func (r *Resolver) Invalidate(host string) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		r.cache.Clear()
		return
	}
	r.cache.Del(host)
}

func (r *Resolver) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}
