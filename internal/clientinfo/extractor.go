// Package clientinfo builds the per-request ClientContext from headers and
// the connection address.
package clientinfo

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

// proxyHeaders are consulted in order before the socket address.
var proxyHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Client-IP",
}

// Extractor turns a raw request into a ClientContext. It never fails:
// anything missing or malformed leaves the corresponding field empty.
type Extractor struct {
	trustProxyHeaders bool
	logger            *slog.Logger
	now               func() time.Time
}

type Option func(*Extractor)

// WithProxyHeaders controls whether forwarding headers are trusted. When
// disabled only the socket address is used.
func WithProxyHeaders(trust bool) Option {
	return func(e *Extractor) { e.trustProxyHeaders = trust }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		trustProxyHeaders: false,
		logger:            slog.Default(),
		now:               time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract captures the client context of req.
func (e *Extractor) Extract(req *http.Request) *model.ClientContext {
	cc := &model.ClientContext{
		SourceIP:   e.clientIP(req),
		RefererURL: strings.TrimSpace(req.Header.Get("Referer")),
		OriginURL:  strings.TrimSpace(req.Header.Get("Origin")),
		UserAgent:  req.UserAgent(),
		Host:       req.Host,
		CapturedAt: e.now().UTC(),
	}

	if cc.RefererURL != "" {
		if host, scheme, port, ok := splitURL(cc.RefererURL); ok {
			cc.RefererDomain, cc.RefererProtocol, cc.RefererPort = host, scheme, port
		} else {
			e.logger.Debug("unparseable referer", "referer", cc.RefererURL, "ip", cc.SourceIP)
		}
	}
	if cc.OriginURL != "" {
		if host, scheme, port, ok := splitURL(cc.OriginURL); ok {
			cc.OriginDomain, cc.OriginProtocol, cc.OriginPort = host, scheme, port
		} else {
			e.logger.Debug("unparseable origin", "origin", cc.OriginURL, "ip", cc.SourceIP)
		}
	}
	return cc
}

func (e *Extractor) clientIP(req *http.Request) string {
	if e.trustProxyHeaders {
		for _, h := range proxyHeaders {
			v := req.Header.Get(h)
			if v == "" {
				continue
			}
			// X-Forwarded-For carries a chain; the first hop is the client.
			first, _, _ := strings.Cut(v, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	addr := strings.TrimSpace(req.RemoteAddr)
	if addr == "" {
		return model.UnknownIP
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

// splitURL returns the lower-cased hostname, scheme and effective port of
// raw. It fails for values without a host, such as "null" origins.
func splitURL(raw string) (host, scheme string, port int, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", 0, false
	}
	host = strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", "", 0, false
	}
	scheme = strings.ToLower(u.Scheme)
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", "", 0, false
		}
		port = n
	} else {
		port = defaultPort(scheme)
	}
	return host, scheme, port, true
}

func defaultPort(scheme string) int {
	switch scheme {
	case "https", "wss":
		return 443
	case "http", "ws":
		return 80
	default:
		return 0
	}
}
