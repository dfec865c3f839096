package task

import (
	"context"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/app"

	"go.uber.org/zap"
)

// OrphanImageTask retries the deletion of backup images left in ERROR after a failed eviction
// OrphanImageTask 重试删除淘汰失败后遗留的 ERROR 备份镜像
type OrphanImageTask struct {
	app      *app.App
	interval time.Duration
	logger   *zap.Logger
}

func (t *OrphanImageTask) Name() string {
	return "OrphanImageCleanup"
}

func (t *OrphanImageTask) LoopInterval() time.Duration {
	return t.interval
}

func (t *OrphanImageTask) IsStartupRun() bool {
	return false
}

func (t *OrphanImageTask) Run(ctx context.Context) error {
	n, err := t.app.ImageService.PurgeOrphans(ctx)
	if n > 0 {
		t.logger.Info("task log",
			zap.String("task", t.Name()),
			zap.Int("purged", n))
	}
	return err
}

// NewOrphanImageTask 创建孤立镜像清理任务
func NewOrphanImageTask(appContainer *app.App) (Task, error) {
	return &OrphanImageTask{
		app:      appContainer,
		interval: appContainer.Config().GetOrphanCleanInterval(),
		logger:   appContainer.Logger(),
	}, nil
}

func init() {
	RegisterWithApp(NewOrphanImageTask)
}
