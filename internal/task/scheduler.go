package task

import (
	"context"
	"time"

	"github.com/haierkeys/vm-backup-service/pkg/safe_close"

	"go.uber.org/zap"
)

// Task 定义后台任务接口
type Task interface {
	Name() string                  // 任务名称
	Run(ctx context.Context) error // 执行任务
	LoopInterval() time.Duration   // 执行间隔，<= 0 只执行启动那一次
	IsStartupRun() bool            // 是否立即执行一次
}

// Scheduler 任务调度器
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task
	sc     *safe_close.SafeClose
}

// NewScheduler 创建任务调度器
func NewScheduler(logger *zap.Logger, sc *safe_close.SafeClose) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  make([]Task, 0),
		sc:     sc,
	}
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task Task) {
	s.tasks = append(s.tasks, task)
}

// Start 启动所有任务
func (s *Scheduler) Start() {
	if len(s.tasks) == 0 {
		s.logger.Info("no tasks to schedule")
		return
	}

	s.logger.Info("tasks starting", zap.Int("count", len(s.tasks)))

	for _, task := range s.tasks {
		s.startTask(task)
	}
}

// startTask 启动单个任务，同一任务的两次执行不会重叠
func (s *Scheduler) startTask(task Task) {
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-closeSignal:
				cancel()
			case <-ctx.Done():
			}
		}()

		if task.IsStartupRun() {
			s.runOnce(ctx, task, "startupRun")
		}

		if task.LoopInterval() <= 0 {
			return
		}

		ticker := time.NewTicker(task.LoopInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx, task, "loopRun")
			case <-closeSignal:
				s.logger.Info("task stopped", zap.String("name", task.Name()))
				return
			}
		}
	})
}

// runOnce 执行一次任务，捕获 panic
func (s *Scheduler) runOnce(ctx context.Context, task Task, kind string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic",
				zap.String("name", task.Name()),
				zap.String("type", kind),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug("task running", zap.String("name", task.Name()), zap.String("type", kind))
	if err := task.Run(ctx); err != nil {
		s.logger.Error("task running error",
			zap.String("name", task.Name()),
			zap.String("type", kind),
			zap.Error(err))
	}
}
