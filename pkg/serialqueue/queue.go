// Package serialqueue runs functions one at a time per key
// Package serialqueue 按 key 串行执行函数
// Used to guarantee that a VM never has two backup or restore operations in flight
// 用于保证同一虚拟机不会同时存在两个备份或恢复操作
package serialqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull returned when the key queue is full
	// ErrQueueFull 当 key 队列已满时返回
	ErrQueueFull = errors.New("serial queue is full")
	// ErrQueueClosed returned when the manager is closed
	// ErrQueueClosed 当管理器已关闭时返回
	ErrQueueClosed = errors.New("serial queue is closed")
	// ErrExecTimeout returned when waiting for the result timed out
	// ErrExecTimeout 等待执行结果超时
	ErrExecTimeout = errors.New("serial operation timeout")
)

// Config serial queue configuration
// Config 串行队列配置
type Config struct {
	// QueueCapacity per-key queue capacity, default 16
	// QueueCapacity 每个 key 的队列容量，默认 16
	QueueCapacity int
	// ExecTimeout maximum wait for one operation, default 6 hours
	// ExecTimeout 单个操作最长等待时间，默认 6 小时
	ExecTimeout time.Duration
	// IdleTimeout idle queue cleanup timeout, default 10 minutes
	// IdleTimeout 空闲队列清理时间，默认 10 分钟
	IdleTimeout time.Duration
}

// DefaultConfig returns default configuration
// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 16,
		ExecTimeout:   6 * time.Hour,
		IdleTimeout:   10 * time.Minute,
	}
}

type op struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

type keyQueue struct {
	key      int64
	ch       chan op
	lastUsed atomic.Int64
	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (q *keyQueue) stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Manager owns one queue per key
// Manager 为每个 key 维护一个队列
type Manager struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	queues map[int64]*keyQueue
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	cleanupDone chan struct{}
	cleanupWg   sync.WaitGroup
}

// New creates a serial queue manager, nil cfg uses defaults
// New 创建串行队列管理器，cfg 为 nil 时使用默认配置
func New(cfg *Config, logger *zap.Logger) *Manager {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.QueueCapacity > 0 {
			c.QueueCapacity = cfg.QueueCapacity
		}
		if cfg.ExecTimeout > 0 {
			c.ExecTimeout = cfg.ExecTimeout
		}
		if cfg.IdleTimeout > 0 {
			c.IdleTimeout = cfg.IdleTimeout
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:      c,
		logger:      logger,
		queues:      make(map[int64]*keyQueue),
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}

	m.cleanupWg.Add(1)
	go m.cleanupLoop()

	m.logger.Info("serial queue manager started",
		zap.Int("queueCapacity", c.QueueCapacity),
		zap.Duration("execTimeout", c.ExecTimeout),
		zap.Duration("idleTimeout", c.IdleTimeout))
	return m
}

// Execute runs fn after every earlier operation on key has finished and returns its error
// Execute 在同一 key 之前的操作完成后执行 fn 并返回其结果
func (m *Manager) Execute(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrQueueClosed
	}
	q := m.queueLocked(key)
	select {
	case q.ch <- op{ctx: ctx, fn: fn, result: result}:
	default:
		m.mu.Unlock()
		return ErrQueueFull
	}
	m.mu.Unlock()

	timer := time.NewTimer(m.config.ExecTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrExecTimeout
	case <-m.ctx.Done():
		return ErrQueueClosed
	}
}

// queueLocked returns the queue for key, creating it lazily. m.mu must be held.
func (m *Manager) queueLocked(key int64) *keyQueue {
	q, ok := m.queues[key]
	if !ok {
		q = &keyQueue{
			key:    key,
			ch:     make(chan op, m.config.QueueCapacity),
			done:   make(chan struct{}),
			stopCh: make(chan struct{}),
		}
		m.queues[key] = q
		go m.worker(q)
		m.logger.Debug("created serial queue", zap.Int64("key", key))
	}
	q.lastUsed.Store(time.Now().UnixNano())
	return q
}

func (m *Manager) worker(q *keyQueue) {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			m.drain(q)
			return
		case o := <-q.ch:
			m.run(q, o)
		}
	}
}

func (m *Manager) run(q *keyQueue, o op) {
	q.running.Store(true)
	defer func() {
		q.running.Store(false)
		q.lastUsed.Store(time.Now().UnixNano())
	}()

	if err := o.ctx.Err(); err != nil {
		o.result <- err
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("serial queue operation panic", zap.Int64("key", q.key), zap.Any("panic", r))
				err = fmt.Errorf("serial queue operation panic: %v", r)
			}
		}()
		err = o.fn(o.ctx)
	}()
	o.result <- err
}

func (m *Manager) drain(q *keyQueue) {
	for {
		select {
		case o := <-q.ch:
			m.run(q, o)
		default:
			return
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.cleanupWg.Done()
	ticker := time.NewTicker(m.config.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.cleanupDone:
			return
		case <-ticker.C:
			m.cleanup(time.Now())
		}
	}
}

// cleanup removes queues that are empty, idle and not running
// cleanup 移除空闲的空队列
func (m *Manager) cleanup(now time.Time) {
	threshold := m.config.IdleTimeout.Nanoseconds()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, q := range m.queues {
		if len(q.ch) > 0 || q.running.Load() {
			continue
		}
		if now.UnixNano()-q.lastUsed.Load() <= threshold {
			continue
		}
		q.stop()
		delete(m.queues, key)
		m.logger.Debug("removed idle serial queue", zap.Int64("key", key))
	}
}

// Busy reports whether key has a queued or running operation
// Busy 返回 key 是否有排队或执行中的操作
func (m *Manager) Busy(key int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[key]
	if !ok {
		return false
	}
	return len(q.ch) > 0 || q.running.Load()
}

// QueueCount returns the number of live queues
// QueueCount 返回当前队列数量
func (m *Manager) QueueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

// Shutdown stops accepting work and waits for queued operations to finish
// Shutdown 停止接收新操作并等待已排队的操作完成
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	queues := make([]*keyQueue, 0, len(m.queues))
	for _, q := range m.queues {
		q.stop()
		queues = append(queues, q)
	}
	m.mu.Unlock()

	m.logger.Info("serial queue manager shutting down", zap.Int("queues", len(queues)))
	close(m.cleanupDone)

	done := make(chan struct{})
	go func() {
		for _, q := range queues {
			<-q.done
		}
		m.cleanupWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		m.logger.Info("serial queue manager shutdown completed")
		return nil
	case <-ctx.Done():
		m.cancel()
		m.logger.Warn("serial queue manager shutdown timeout, forcing cancellation")
		return ctx.Err()
	}
}
