package task

import (
	"context"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/app"

	"go.uber.org/zap"
)

// SchedActionTask fires due scheduled actions of VMs and backup jobs
// SchedActionTask 触发到期的虚拟机与备份任务计划操作
type SchedActionTask struct {
	app      *app.App
	interval time.Duration
	logger   *zap.Logger
}

func (t *SchedActionTask) Name() string {
	return "SchedActionFire"
}

func (t *SchedActionTask) LoopInterval() time.Duration {
	return t.interval
}

// IsStartupRun 启动时补发停机期间到期的计划任务
func (t *SchedActionTask) IsStartupRun() bool {
	return true
}

func (t *SchedActionTask) Run(ctx context.Context) error {
	fired, err := t.app.SchedActionService.FireDue(ctx)
	if fired > 0 {
		t.logger.Info("task log",
			zap.String("task", t.Name()),
			zap.Int("fired", fired))
	}
	return err
}

// NewSchedActionTask 创建计划任务触发器
func NewSchedActionTask(appContainer *app.App) (Task, error) {
	return &SchedActionTask{
		app:      appContainer,
		interval: appContainer.Config().GetSchedulerInterval(),
		logger:   appContainer.Logger(),
	}, nil
}

func init() {
	RegisterWithApp(NewSchedActionTask)
}
