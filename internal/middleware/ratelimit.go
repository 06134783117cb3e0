package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/clientinfo"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/ratelimit"
)

// ClassRateLimitMiddleware limits by client IP under a single class. Used
// for routes that skip domain checks, such as the admin API.
func ClassRateLimitMiddleware(limiters *ratelimit.Limiters, extractor *clientinfo.Extractor, class model.OperationClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := extractor.Extract(c.Request).SourceIP
		v, err := limiters.Allow(class, ip+":"+string(class))
		if err != nil {
			_ = c.Error(apperrors.New(apperrors.ErrInternal, "Internal server error", err))
			c.Abort()
			return
		}

		setRateHeaders(c, v)
		if !v.Allowed {
			c.Header("Retry-After", strconv.Itoa(v.RetryAfterSeconds))
			_ = c.Error(apperrors.NewRateLimited(v.RetryAfterSeconds).WithDetails(map[string]any{
				"limit":     v.Limit,
				"resetTime": v.ResetAt.UTC().Format(time.RFC3339),
			}))
			c.Abort()
			return
		}
		c.Next()
	}
}
