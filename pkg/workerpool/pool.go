// Package workerpool 提供固定数量 worker 的任务池
// The pool bounds how many backup executions run at the same time
// 用于限制同时执行的备份数量
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// 错误定义
var (
	// ErrWorkerPoolFull 当任务队列已满时返回
	ErrWorkerPoolFull = errors.New("worker pool queue is full")
	// ErrWorkerPoolClosed 当 Worker Pool 已关闭时返回
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
	// ErrTaskCancelled 当任务在执行前被取消时返回
	ErrTaskCancelled = errors.New("task was cancelled")
)

// Config Worker Pool 配置
type Config struct {
	// MaxWorkers 最大并发 worker 数量，默认 4
	MaxWorkers int
	// QueueSize 任务队列大小，默认 256
	QueueSize int
	// WarningPercent 告警阈值百分比，默认 0.8 (80%)
	WarningPercent float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     4,
		QueueSize:      256,
		WarningPercent: 0.8,
	}
}

type taskWrapper struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool 固定 worker 数量的任务池
type Pool struct {
	config Config
	logger *zap.Logger

	taskCh   chan taskWrapper
	workerWg sync.WaitGroup

	activeCount   atomic.Int64
	finishedCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed and the send side of taskCh
	mu     sync.RWMutex
	closed bool
}

// New 创建新的 Worker Pool
// cfg 为 nil 时使用默认配置，logger 为 nil 时使用 nop logger
func New(cfg *Config, logger *zap.Logger) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.MaxWorkers > 0 {
			c.MaxWorkers = cfg.MaxWorkers
		}
		if cfg.QueueSize > 0 {
			c.QueueSize = cfg.QueueSize
		}
		if cfg.WarningPercent > 0 && cfg.WarningPercent <= 1 {
			c.WarningPercent = cfg.WarningPercent
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: c,
		logger: logger,
		taskCh: make(chan taskWrapper, c.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < c.MaxWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}

	p.logger.Info("worker pool started",
		zap.Int("maxWorkers", c.MaxWorkers),
		zap.Int("queueSize", c.QueueSize))
	return p
}

func (p *Pool) worker() {
	defer p.workerWg.Done()
	for task := range p.taskCh {
		p.executeTask(task)
	}
}

func (p *Pool) executeTask(task taskWrapper) {
	p.activeCount.Add(1)
	defer func() {
		p.activeCount.Add(-1)
		p.finishedCount.Add(1)
	}()
	p.checkWarningThreshold()

	var err error
	if task.ctx.Err() != nil || p.ctx.Err() != nil {
		err = ErrTaskCancelled
	} else {
		err = p.safeRun(task)
	}

	if task.done != nil {
		task.done <- err
	}
}

func (p *Pool) safeRun(task taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker pool task panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("worker pool task panic: %v", r)
		}
	}()
	return task.fn(task.ctx)
}

func (p *Pool) checkWarningThreshold() {
	active := p.activeCount.Load()
	threshold := int64(float64(p.config.MaxWorkers) * p.config.WarningPercent)
	if threshold > 0 && active >= threshold && active > 1 {
		p.logger.Debug("worker pool approaching capacity",
			zap.Int64("activeCount", active),
			zap.Int("maxWorkers", p.config.MaxWorkers))
	}
}

func (p *Pool) enqueue(task taskWrapper) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}
	select {
	case p.taskCh <- task:
		return nil
	default:
		return ErrWorkerPoolFull
	}
}

// Submit 提交任务并等待完成
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := p.enqueue(taskWrapper{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAsync 异步提交任务，不等待结果
func (p *Pool) SubmitAsync(ctx context.Context, fn func(context.Context) error) error {
	return p.enqueue(taskWrapper{ctx: ctx, fn: fn})
}

// ActiveCount 返回当前活跃任务数
func (p *Pool) ActiveCount() int64 {
	return p.activeCount.Load()
}

// QueuedCount 返回当前队列中等待的任务数
func (p *Pool) QueuedCount() int {
	return len(p.taskCh)
}

// IsClosed 返回 Worker Pool 是否已关闭
func (p *Pool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Shutdown 关闭 Worker Pool，等待已提交任务完成
// ctx 到期后取消尚未开始的任务
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.taskCh)
	p.mu.Unlock()

	p.logger.Info("worker pool shutting down",
		zap.Int64("activeCount", p.activeCount.Load()),
		zap.Int("queuedCount", len(p.taskCh)))

	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool shutdown completed")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("worker pool shutdown timeout, forcing cancellation")
		return ctx.Err()
	}
}

// Metrics Worker Pool 指标
type Metrics struct {
	MaxWorkers    int
	ActiveCount   int64
	QueuedCount   int
	QueueCapacity int
	Finished      int64
	IsClosed      bool
	Sampled       time.Time
}

// GetMetrics 获取当前指标
func (p *Pool) GetMetrics() Metrics {
	return Metrics{
		MaxWorkers:    p.config.MaxWorkers,
		ActiveCount:   p.activeCount.Load(),
		QueuedCount:   len(p.taskCh),
		QueueCapacity: p.config.QueueSize,
		Finished:      p.finishedCount.Load(),
		IsClosed:      p.IsClosed(),
		Sampled:       time.Now(),
	}
}
