package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ElonQian1/QuickTalk--sub006/internal/config"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
)

const HeaderAdminKey = "X-Admin-Key"

func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			err := apperrors.New(apperrors.ErrAuthFailed, "admin key not configured", nil)
			err.HTTPStatus = http.StatusForbidden
			_ = c.Error(err)
			c.Abort()
			return
		}
		given := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(given), []byte(cfg.Auth.AdminKey)) != 1 {
			_ = c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid admin key", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
