package dto

import (
	"github.com/haierkeys/vm-backup-service/internal/domain"
)

// VMCreateRequest 创建虚拟机请求参数
type VMCreateRequest struct {
	Name  string          `json:"name" form:"name" binding:"required"`              // VM name // 虚拟机名称
	Disks []DiskParameter `json:"disks" form:"disks" binding:"required,min=1,dive"` // Disks // 磁盘
}

// DiskParameter 虚拟机磁盘参数，Size 单位 MB
type DiskParameter struct {
	ImageID  int64 `json:"imageId"`
	Size     int64 `json:"size" binding:"gt=0"`
	Volatile bool  `json:"volatile"`
}

// VMActionRequest 虚拟机操作请求参数
type VMActionRequest struct {
	Action string `json:"action" form:"action" binding:"required"` // deploy, poweroff, suspend, resume, undeploy, terminate
}

// SnapshotCreateRequest 快照请求参数
type SnapshotCreateRequest struct {
	Name string `json:"name" form:"name"`
}

// DiskSnapshotCreateRequest 磁盘快照请求参数
type DiskSnapshotCreateRequest struct {
	DiskID int    `json:"diskId" form:"diskId" binding:"gte=0"`
	Name   string `json:"name" form:"name"`
}

// VMBackupConfigRequest updates the VM backup configuration, absent fields are kept
// VMBackupConfigRequest 更新虚拟机备份配置，未提供的字段保持不变
type VMBackupConfigRequest struct {
	Mode           *string `json:"mode" form:"mode" binding:"omitempty,oneof=FULL INCREMENT full increment"`
	KeepLast       *int    `json:"keepLast" form:"keepLast"`
	FsFreeze       *string `json:"fsFreeze" form:"fsFreeze" binding:"omitempty,oneof=NONE SUSPEND AGENT none suspend agent"`
	BackupVolatile *bool   `json:"backupVolatile" form:"backupVolatile"`
}

// VMBackupRequest 直接备份请求参数
type VMBackupRequest struct {
	DatastoreID int64 `json:"datastoreId" form:"datastoreId" binding:"gte=0"`
	Reset       bool  `json:"reset" form:"reset"` // Start a new incremental chain // 开始新的增量链
}

// VMRestoreRequest 原地恢复请求参数，DiskID 与 IncrementID 为 -1 时表示全部磁盘和最新增量
type VMRestoreRequest struct {
	ImageID     int64 `json:"imageId" form:"imageId" binding:"gte=0"`
	DiskID      *int  `json:"diskId" form:"diskId"`
	IncrementID *int  `json:"incrementId" form:"incrementId"`
}

// DomainDisks 转换为领域磁盘，ID 按顺序分配
func (r *VMCreateRequest) DomainDisks() []domain.Disk {
	out := make([]domain.Disk, 0, len(r.Disks))
	for i, d := range r.Disks {
		out = append(out, domain.Disk{ID: i, ImageID: d.ImageID, Size: d.Size, Volatile: d.Volatile})
	}
	return out
}

// Input 校验枚举值并转换为服务层输入
func (r *VMBackupConfigRequest) Input() (mode *domain.BackupMode, freeze *domain.FsFreeze, err error) {
	if r.Mode != nil {
		m, err := domain.ParseBackupMode(*r.Mode)
		if err != nil {
			return nil, nil, err
		}
		mode = &m
	}
	if r.FsFreeze != nil {
		f, err := domain.ParseFsFreeze(*r.FsFreeze)
		if err != nil {
			return nil, nil, err
		}
		freeze = &f
	}
	return mode, freeze, nil
}

// Target 返回恢复目标磁盘与增量，未指定时为 -1
func (r *VMRestoreRequest) Target() (diskID, incrementID int) {
	diskID, incrementID = -1, -1
	if r.DiskID != nil {
		diskID = *r.DiskID
	}
	if r.IncrementID != nil {
		incrementID = *r.IncrementID
	}
	return diskID, incrementID
}

// ---------------- DTO / Response ----------------

// VMDTO 虚拟机数据传输对象
type VMDTO struct {
	ID            int64                 `json:"id"`
	Name          string                `json:"name"`
	UID           int64                 `json:"uid"`
	GID           int64                 `json:"gid"`
	Permissions   string                `json:"permissions"`
	State         string                `json:"state"`
	Disks         []domain.Disk         `json:"disks"`
	Snapshots     []domain.Snapshot     `json:"snapshots"`
	DiskSnapshots []domain.DiskSnapshot `json:"diskSnapshots"`
	STime         int64                 `json:"stime"`
	ErrorMessage  string                `json:"error,omitempty"`
	Backup        domain.BackupConfig   `json:"backupConfig"`
	SchedActions  []*SchedActionDTO     `json:"schedActions,omitempty"`
}

// VMBackupDTO 直接备份结果
type VMBackupDTO struct {
	VMID    int64 `json:"vmId"`
	ImageID int64 `json:"imageId"`
}
