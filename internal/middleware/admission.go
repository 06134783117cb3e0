package middleware

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/config"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

const (
	ContextClientKey  = "client_context"
	ContextVerdictKey = "validation_verdict"
)

// GatewayScope selects the paths the admission gateway guards.
type GatewayScope struct {
	ProtectedPrefix string
	ExemptPrefixes  []string
}

func (s GatewayScope) Protects(path string) bool {
	if !strings.HasPrefix(path, s.ProtectedPrefix) {
		return false
	}
	for _, p := range s.ExemptPrefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}

// RouteClassifier maps a path to its rate limit class by longest prefix.
type RouteClassifier struct {
	rules    []config.RouteRule
	fallback model.OperationClass
}

func NewRouteClassifier(rules []config.RouteRule) *RouteClassifier {
	sorted := make([]config.RouteRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteClassifier{rules: sorted, fallback: model.ClassClientAPI}
}

func (r *RouteClassifier) Classify(path string) model.OperationClass {
	for _, rule := range r.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return model.OperationClass(rule.Class)
		}
	}
	return r.fallback
}

// AdmissionMiddleware 对受保护路径执行来源校验与限流
func AdmissionMiddleware(adm *service.Admission, scope GatewayScope, classifier *RouteClassifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !scope.Protects(path) {
			c.Next()
			return
		}

		res := adm.Admit(c.Request, RequestID(c), classifier.Classify(path))
		if res.Rate != nil {
			setRateHeaders(c, *res.Rate)
		}
		if res.Err != nil {
			if res.Err.Type == apperrors.ErrRateLimitExceeded && res.Rate != nil {
				c.Header("Retry-After", strconv.Itoa(res.Rate.RetryAfterSeconds))
			}
			_ = c.Error(res.Err)
			c.Abort()
			return
		}

		c.Set(ContextClientKey, res.Context)
		c.Set(ContextVerdictKey, res.Verdict)
		c.Next()
	}
}

func setRateHeaders(c *gin.Context, v model.RateLimitVerdict) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(v.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(v.Remaining, 0)))
	c.Header("X-RateLimit-Reset", v.ResetAt.UTC().Format(time.RFC3339))
}

// ClientContextFrom returns the context attached by AdmissionMiddleware.
func ClientContextFrom(c *gin.Context) (*model.ClientContext, bool) {
	v, ok := c.Get(ContextClientKey)
	if !ok {
		return nil, false
	}
	cc, ok := v.(*model.ClientContext)
	return cc, ok
}

func VerdictFrom(c *gin.Context) (model.ValidationVerdict, bool) {
	v, ok := c.Get(ContextVerdictKey)
	if !ok {
		return model.ValidationVerdict{}, false
	}
	verdict, ok := v.(model.ValidationVerdict)
	return verdict, ok
}
