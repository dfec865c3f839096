package task

import (
	"context"
	"strconv"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/pkg/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DatastoreUsageTask exports the free capacity of every backup datastore
// DatastoreUsageTask 采集备份数据存储的可用容量
type DatastoreUsageTask struct {
	app      *app.App
	interval time.Duration
	logger   *zap.Logger
}

func (t *DatastoreUsageTask) Name() string {
	return "DatastoreUsage"
}

func (t *DatastoreUsageTask) LoopInterval() time.Duration {
	return t.interval
}

func (t *DatastoreUsageTask) IsStartupRun() bool {
	return true
}

func (t *DatastoreUsageTask) Run(ctx context.Context) error {
	list, err := t.app.DatastoreRepo.List(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, ds := range list {
		if ds.Type != domain.DatastoreBackup {
			continue
		}
		free, err := t.app.DatastoreService.FreeMB(ctx, ds)
		if err != nil {
			t.logger.Warn("datastore usage probe failed",
				zap.Int64(logger.FieldDatastoreID, ds.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		metrics.DatastoreFreeMB.WithLabelValues(strconv.FormatInt(ds.ID, 10)).Set(float64(free))
	}
	return errs
}

// NewDatastoreUsageTask 创建数据存储容量采集任务
func NewDatastoreUsageTask(appContainer *app.App) (Task, error) {
	return &DatastoreUsageTask{
		app:      appContainer,
		interval: appContainer.Config().GetUsageInterval(),
		logger:   appContainer.Logger(),
	}, nil
}

func init() {
	RegisterWithApp(NewDatastoreUsageTask)
}
