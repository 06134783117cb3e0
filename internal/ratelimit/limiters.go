package ratelimit

import (
	"fmt"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/metrics"
)

// KeyFunc derives the caller identity for a request.
type KeyFunc func(cc *model.ClientContext, verdict model.ValidationVerdict) string

// DefaultKey is ip:shopId, with "unknown" for either missing part.
func DefaultKey(cc *model.ClientContext, verdict model.ValidationVerdict) string {
	ip := model.UnknownIP
	if cc != nil && cc.SourceIP != "" {
		ip = cc.SourceIP
	}
	tenant := verdict.TenantID()
	if tenant == "" {
		tenant = "unknown"
	}
	return ip + ":" + tenant
}

// Limiters holds one SlidingWindow per operation class.
type Limiters struct {
	policies map[model.OperationClass]model.RateLimitPolicy
	windows  map[model.OperationClass]*SlidingWindow
	keyFunc  KeyFunc
}

type ClassStatus struct {
	Class       model.OperationClass `json:"class"`
	Window      string               `json:"window"`
	MaxRequests int                  `json:"max_requests"`
	TrackedKeys int                  `json:"tracked_keys"`
}

// NewLimiters builds a window per policy. Classes without a policy fall back
// to the defaults.
func NewLimiters(policies map[model.OperationClass]model.RateLimitPolicy, keyFunc KeyFunc, opts ...WindowOption) *Limiters {
	merged := model.DefaultPolicies()
	for c, p := range policies {
		merged[c] = p
	}
	if keyFunc == nil {
		keyFunc = DefaultKey
	}
	l := &Limiters{
		policies: merged,
		windows:  make(map[model.OperationClass]*SlidingWindow, len(merged)),
		keyFunc:  keyFunc,
	}
	for c, p := range merged {
		l.windows[c] = NewSlidingWindow(p.Window, opts...)
	}
	return l
}

func (l *Limiters) Start() {
	for _, w := range l.windows {
		w.Start()
	}
}

func (l *Limiters) Close() {
	for _, w := range l.windows {
		w.Close()
	}
}

// Key returns the caller identity used by Allow.
func (l *Limiters) Key(cc *model.ClientContext, verdict model.ValidationVerdict) string {
	return l.keyFunc(cc, verdict)
}

// Allow checks key against the policy of class.
func (l *Limiters) Allow(class model.OperationClass, key string) (model.RateLimitVerdict, error) {
	w, ok := l.windows[class]
	if !ok {
		return model.RateLimitVerdict{}, fmt.Errorf("no limiter for class %q", class)
	}
	p := l.policies[class]
	v := w.Check(key, p.Window, p.MaxRequests)
	if !v.Allowed {
		metrics.RateLimitRejects.WithLabelValues(string(class)).Inc()
	}
	return v, nil
}

func (l *Limiters) Policy(class model.OperationClass) (model.RateLimitPolicy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Reset clears key in class, or the whole class when key is "".
func (l *Limiters) Reset(class model.OperationClass, key string) error {
	w, ok := l.windows[class]
	if !ok {
		return fmt.Errorf("no limiter for class %q", class)
	}
	if key == "" {
		w.ResetAll()
	} else {
		w.Reset(key)
	}
	return nil
}

func (l *Limiters) ResetAll() {
	for _, w := range l.windows {
		w.ResetAll()
	}
}

// Status reports each class in model.OperationClasses order.
func (l *Limiters) Status() []ClassStatus {
	out := make([]ClassStatus, 0, len(l.windows))
	for _, c := range model.OperationClasses {
		w, ok := l.windows[c]
		if !ok {
			continue
		}
		p := l.policies[c]
		out = append(out, ClassStatus{
			Class:       c,
			Window:      p.Window.String(),
			MaxRequests: p.MaxRequests,
			TrackedKeys: w.Len(),
		})
	}
	return out
}

// Window returns the store of class, or nil.
func (l *Limiters) Window(class model.OperationClass) *SlidingWindow {
	return l.windows[class]
}
