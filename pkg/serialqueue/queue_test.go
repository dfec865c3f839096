package serialqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecute_SerializesSameKey(t *testing.T) {
	m := New(nil, zap.NewNop())
	defer m.Shutdown(context.Background())

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Execute(context.Background(), 7, func(ctx context.Context) error {
				n := inFlight.Add(1)
				for {
					cur := maxInFlight.Load()
					if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestExecute_DifferentKeysRunConcurrently(t *testing.T) {
	m := New(nil, zap.NewNop())
	defer m.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for _, key := range []int64{1, 2} {
		wg.Add(1)
		go func(key int64) {
			defer wg.Done()
			_ = m.Execute(context.Background(), key, func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("operations on different keys did not run concurrently")
		}
	}
	assert.True(t, m.Busy(1))
	close(release)
	wg.Wait()
	assert.False(t, m.Busy(1))
}

func TestExecute_ReturnsErrorAndRecoversPanic(t *testing.T) {
	m := New(nil, zap.NewNop())
	defer m.Shutdown(context.Background())

	boom := errors.New("boom")
	err := m.Execute(context.Background(), 1, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = m.Execute(context.Background(), 1, func(ctx context.Context) error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	// the queue keeps working after a panic
	err = m.Execute(context.Background(), 1, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	m := New(nil, zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))
	err := m.Execute(context.Background(), 1, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCleanup_RemovesIdleQueues(t *testing.T) {
	m := New(&Config{IdleTimeout: time.Hour}, zap.NewNop())
	defer m.Shutdown(context.Background())

	require.NoError(t, m.Execute(context.Background(), 3, func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, m.QueueCount())

	m.cleanup(time.Now())
	assert.Equal(t, 1, m.QueueCount())

	m.cleanup(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 0, m.QueueCount())
}
