// Package safe_close coordinates graceful shutdown of long running goroutines
// Package safe_close 协调长期运行协程的优雅关闭
package safe_close

import (
	"sync"
)

// SafeClose broadcasts one close signal to every attached worker and waits for them
// SafeClose 向所有挂载的协程广播关闭信号并等待其退出
type SafeClose struct {
	closeSignal chan struct{}
	wg          sync.WaitGroup

	mu     sync.Mutex
	closed bool
	err    error
}

func NewSafeClose() *SafeClose {
	return &SafeClose{
		closeSignal: make(chan struct{}),
	}
}

// Attach runs fn in its own goroutine
// fn must call done when it has finished its cleanup
// Attach 在独立协程中运行 fn，fn 完成清理后必须调用 done
func (s *SafeClose) Attach(fn func(done func(), closeSignal <-chan struct{})) {
	s.wg.Add(1)
	go fn(s.wg.Done, s.closeSignal)
}

// SendCloseSignal closes the signal channel once, the first non-nil error is kept
// SendCloseSignal 只关闭一次信号通道，保留第一个非空错误
func (s *SafeClose) SendCloseSignal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil && err != nil {
		s.err = err
	}
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeSignal)
}

// WaitClosed blocks until every attached worker called done
// WaitClosed 阻塞直到所有挂载的协程调用 done
func (s *SafeClose) WaitClosed() error {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Closed reports whether the close signal has been sent
// Closed 返回是否已发送关闭信号
func (s *SafeClose) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
