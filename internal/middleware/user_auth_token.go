package middleware

import (
	"context"
	"errors"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// RequesterKey gin.Context 中存储请求者身份的键
const RequesterKey = "requester"

// RequesterResolver 根据 UID 加载请求者的组信息
type RequesterResolver interface {
	Requester(ctx context.Context, uid int64) (domain.Requester, error)
}

// UserAuthTokenWithConfig validates the JWT and resolves the caller's groups on every request
// Group changes take effect without a new login
// UserAuthTokenWithConfig 校验 JWT 并在每次请求时解析请求者的组，组变更无需重新登录即可生效
func UserAuthTokenWithConfig(tm app.TokenManager, resolver RequesterResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := app.NewResponse(c)

		token := bearerToken(c)
		if token == "" {
			response.ToResponse(code.ErrorNotUserAuthToken)
			c.Abort()
			return
		}

		user, err := tm.Parse(token)
		if errors.Is(err, app.ErrTokenExpired) {
			response.ToResponse(code.ErrorUserAuthTokenExpired)
			c.Abort()
			return
		}
		if err != nil {
			response.ToResponse(code.ErrorInvalidUserAuthToken)
			c.Abort()
			return
		}

		requester, err := resolver.Requester(c.Request.Context(), user.UID)
		if err != nil {
			response.ToResponse(code.ErrorInvalidUserAuthToken.Clone().WithDetails(err.Error()))
			c.Abort()
			return
		}

		c.Set(app.TokenClaimsKey, user)
		c.Set(RequesterKey, requester)
		c.Next()
	}
}

// GetRequester 获取认证中间件写入的请求者
func GetRequester(c *gin.Context) (domain.Requester, bool) {
	v, ok := c.Get(RequesterKey)
	if !ok {
		return domain.Requester{}, false
	}
	r, ok := v.(domain.Requester)
	return r, ok
}
