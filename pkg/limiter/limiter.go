// Package limiter token bucket rate limiting for HTTP routes
// Package limiter 基于令牌桶的接口限流
package limiter

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/ratelimit"
)

// Face 限流器接口
type Face interface {
	Key(c *gin.Context) string
	GetBucket(key string) (*ratelimit.Bucket, bool)
	AddBuckets(rules ...BucketRule) Face
}

// Limiter 令牌桶集合
type Limiter struct {
	mu             sync.RWMutex
	limiterBuckets map[string]*ratelimit.Bucket
}

// BucketRule 令牌桶规则
type BucketRule struct {
	Key          string        // 自定义键值对名称
	FillInterval time.Duration // 间隔多久放 N 个令牌
	Capacity     int64         // 令牌桶的容量
	Quantum      int64         // 每次到达间隔时间后所放的具体令牌数量
}

// GetBucket 获取键对应的令牌桶
func (l *Limiter) GetBucket(key string) (*ratelimit.Bucket, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bucket, ok := l.limiterBuckets[key]
	return bucket, ok
}

func (l *Limiter) addBuckets(rules ...BucketRule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rule := range rules {
		if _, ok := l.limiterBuckets[rule.Key]; !ok {
			l.limiterBuckets[rule.Key] = ratelimit.NewBucketWithQuantum(rule.FillInterval, rule.Capacity, rule.Quantum)
		}
	}
}
