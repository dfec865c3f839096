package limiter

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodLimiter_KeyIgnoresQuery(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/api/user/login?lang=zh", nil)

	l := NewMethodLimiter()
	assert.Equal(t, "/api/user/login", l.Key(c))
}

func TestMethodLimiter_Bucket(t *testing.T) {
	l := NewMethodLimiter().AddBuckets(BucketRule{
		Key:          "/api/user/login",
		FillInterval: time.Hour,
		Capacity:     2,
		Quantum:      2,
	})

	bucket, ok := l.GetBucket("/api/user/login")
	require.True(t, ok)
	assert.Equal(t, int64(1), bucket.TakeAvailable(1))
	assert.Equal(t, int64(1), bucket.TakeAvailable(1))
	assert.Equal(t, int64(0), bucket.TakeAvailable(1))

	_, ok = l.GetBucket("/api/vms")
	assert.False(t, ok)
}
