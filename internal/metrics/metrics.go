// Package metrics Prometheus 指标
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vmbackup"

// --- Backup metrics ---

var (
	BackupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_total",
		Help:      "Total number of VM backup executions.",
	}, []string{"mode", "status"})

	BackupDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backup_duration_seconds",
		Help:      "Duration of VM backup executions in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
	}, []string{"mode"})

	BackupSizeMB = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_size_mb_total",
		Help:      "Total size of written backups in MB.",
	}, []string{"mode"})

	RestoreTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restore_total",
		Help:      "Total number of restore operations.",
	}, []string{"kind", "status"})

	ImagesDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_deleted_total",
		Help:      "Total number of deleted backup images.",
	}, []string{"reason", "status"})
)

// --- Scheduler metrics ---

var (
	JobBucketVMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backup_job_vms",
		Help:      "Number of VMs per run bucket of a backup job.",
	}, []string{"job", "bucket"})

	JobLastRunTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backup_job_last_run_timestamp",
		Help:      "Unix timestamp of the last finished run of a backup job.",
	}, []string{"job"})

	JobCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_job_commands_total",
		Help:      "Total number of backup job commands by result.",
	}, []string{"command", "status"})

	RunningBackups = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "running_backups",
		Help:      "Number of backup executions currently running.",
	})

	SchedActionsFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sched_actions_fired_total",
		Help:      "Total number of fired scheduled actions.",
	}, []string{"parent_type", "action", "status"})
)

// --- Datastore metrics ---

var DatastoreFreeMB = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "datastore_free_mb",
	Help:      "Free capacity of backup datastores in MB, -1 when unknown.",
}, []string{"datastore"})

var registerOnce sync.Once

// Register 注册全部指标，重复调用无副作用
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			BackupTotal,
			BackupDurationSeconds,
			BackupSizeMB,
			RestoreTotal,
			ImagesDeletedTotal,
			JobBucketVMs,
			JobLastRunTimestamp,
			JobCommandsTotal,
			RunningBackups,
			SchedActionsFiredTotal,
			DatastoreFreeMB,
		)
	})
}

// Status 由 error 得到指标状态标签
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveBackup 记录一次备份执行
func ObserveBackup(mode string, started time.Time, sizeMB int64, err error) {
	BackupTotal.WithLabelValues(mode, Status(err)).Inc()
	BackupDurationSeconds.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	if err == nil && sizeMB > 0 {
		BackupSizeMB.WithLabelValues(mode).Add(float64(sizeMB))
	}
}
