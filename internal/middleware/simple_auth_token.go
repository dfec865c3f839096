/**
  @author: haierkeys
  @since: 2022/9/14
  @desc:
**/

package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// SimpleAuthTokenWithConfig guards the private listener with a static token, an empty token disables the check
// SimpleAuthTokenWithConfig 使用静态令牌保护私有端口，令牌为空时不校验
func SimpleAuthTokenWithConfig(authToken string) gin.HandlerFunc {
	return func(c *gin.Context) {

		if authToken == "" {
			c.Next()
			return
		}

		token := bearerToken(c)
		if subtle.ConstantTimeCompare([]byte(token), []byte(authToken)) != 1 {
			app.NewResponse(c).ToResponse(code.ErrorInvalidAuthToken)
			c.Abort()
			return
		}
		c.Next()
	}
}

// bearerToken 从查询参数或请求头中读取令牌，去掉 Bearer 前缀
func bearerToken(c *gin.Context) string {
	var token string

	if s, exist := c.GetQuery("authorization"); exist {
		token = s
	} else if s, exist = c.GetQuery("token"); exist {
		token = s
	} else if s = c.GetHeader("Authorization"); len(s) != 0 {
		token = s
	} else if s = c.GetHeader("Token"); len(s) != 0 {
		token = s
	}

	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}
