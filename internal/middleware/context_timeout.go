package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// ContextTimeout bounds every request context, a non positive timeout leaves requests unbounded
// so that synchronous backups can be sized by app.default-context-timeout alone
// ContextTimeout 为请求上下文设置超时，timeout <= 0 时不限制
func ContextTimeout(timeout time.Duration) gin.HandlerFunc {
	if timeout <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
