package middleware

import (
	"math"
	"strconv"

	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/limiter"

	"github.com/gin-gonic/gin"
)

// RateLimiter rejects requests whose bucket is empty with 429 and a Retry-After hint
// RateLimiter 令牌桶为空时返回 429，并附带 Retry-After
func RateLimiter(l limiter.Face) gin.HandlerFunc {
	return func(c *gin.Context) {
		bucket, ok := l.GetBucket(l.Key(c))
		if !ok || bucket.TakeAvailable(1) > 0 {
			c.Next()
			return
		}

		seconds := 1
		if rate := bucket.Rate(); rate > 0 && rate < 1 {
			seconds = int(math.Round(1 / rate))
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		app.NewResponse(c).ToResponse(code.ErrorTooManyRequest.Clone().WithDetails(c.Request.Method + " " + c.FullPath()))
		c.Abort()
	}
}
