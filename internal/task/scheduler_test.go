package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/vm-backup-service/pkg/safe_close"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countTask struct {
	runs     atomic.Int32
	interval time.Duration
	startup  bool
	panics   bool
}

func (t *countTask) Name() string                { return "count" }
func (t *countTask) LoopInterval() time.Duration { return t.interval }
func (t *countTask) IsStartupRun() bool          { return t.startup }

func (t *countTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.panics {
		panic("boom")
	}
	return nil
}

func TestScheduler_StartupAndLoop(t *testing.T) {
	sc := safe_close.NewSafeClose()
	s := NewScheduler(zap.NewNop(), sc)
	loop := &countTask{interval: 5 * time.Millisecond, startup: true}
	once := &countTask{startup: true}
	s.AddTask(loop)
	s.AddTask(once)
	s.Start()

	require.Eventually(t, func() bool { return loop.runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	sc.SendCloseSignal(nil)
	require.NoError(t, sc.WaitClosed())

	stopped := loop.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, loop.runs.Load())
	assert.Equal(t, int32(1), once.runs.Load())
}

func TestScheduler_PanicKeepsLooping(t *testing.T) {
	sc := safe_close.NewSafeClose()
	s := NewScheduler(zap.NewNop(), sc)
	bad := &countTask{interval: 5 * time.Millisecond, panics: true}
	s.AddTask(bad)
	s.Start()

	require.Eventually(t, func() bool { return bad.runs.Load() >= 2 }, 2*time.Second, time.Millisecond)
	sc.SendCloseSignal(nil)
	require.NoError(t, sc.WaitClosed())
}
