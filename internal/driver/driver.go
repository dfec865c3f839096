// Package driver implements the backup datastore drivers
// Package driver 备份数据存储驱动
package driver

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
)

// BackupRequest describes one backup or increment of a VM into an image
// BackupRequest 一次将虚拟机备份到镜像的请求
type BackupRequest struct {
	VM    *domain.VM
	Image *domain.Image
	Disks []domain.Disk
	// IncrementID 本次写入的增量 ID，全量备份为 0
	IncrementID int
	FsFreeze    domain.FsFreeze
}

// Size 参与备份的磁盘总大小（MB）
func (r *BackupRequest) Size() int64 {
	var size int64
	for _, d := range r.Disks {
		size += d.Size
	}
	return size
}

// RestoreRequest 从备份镜像恢复的请求
type RestoreRequest struct {
	Image *domain.Image
	// DiskID -1 表示全部磁盘
	DiskID int
	// IncrementID -1 表示最新增量
	IncrementID int
	// TargetVMID 原地恢复的目标虚拟机，恢复为新实例时为 -1
	TargetVMID int64
}

// Artifact is what the driver wrote for a backup or an increment
// Artifact 驱动写入的备份产物
type Artifact struct {
	Source string
	// Size 单位 MB
	Size int64
}

// BackupDriver is implemented by every backup datastore backend
// BackupDriver 备份数据存储后端接口
type BackupDriver interface {
	Name() string

	// SupportsIncrement 是否支持增量备份，不支持时执行全量备份
	SupportsIncrement() bool

	// Backup 写入全量备份
	Backup(ctx context.Context, req *BackupRequest) (*Artifact, error)

	// Increment 在已有镜像上追加增量
	Increment(ctx context.Context, req *BackupRequest) (*Artifact, error)

	// Restore 读取备份数据，校验请求的磁盘与增量
	Restore(ctx context.Context, req *RestoreRequest) error

	// Delete 删除镜像的全部备份数据
	Delete(ctx context.Context, image *domain.Image) error
}
