package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
)

// ReadOnlyMiddleware 只读模式下拒绝写请求；allow 中的路由 (c.FullPath) 例外
func ReadOnlyMiddleware(enabled bool, allow ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allow))
	for _, p := range allow {
		allowed[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if _, ok := allowed[c.FullPath()]; ok {
			c.Next()
			return
		}
		_ = c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
		c.Abort()
	}
}
