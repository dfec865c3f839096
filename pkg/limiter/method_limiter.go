package limiter

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/juju/ratelimit"
)

// MethodLimiter limits by request path, query strings are ignored
// MethodLimiter 按请求路径限流，忽略查询参数
type MethodLimiter struct {
	*Limiter
}

// NewMethodLimiter 创建按路径限流器
func NewMethodLimiter() Face {
	return MethodLimiter{
		Limiter: &Limiter{limiterBuckets: make(map[string]*ratelimit.Bucket)},
	}
}

func (l MethodLimiter) Key(c *gin.Context) string {
	uri := c.Request.RequestURI
	index := strings.Index(uri, "?")
	if index == -1 {
		return uri
	}
	return uri[:index]
}

func (l MethodLimiter) AddBuckets(rules ...BucketRule) Face {
	l.addBuckets(rules...)
	return l
}
