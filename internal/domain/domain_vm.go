package domain

import (
	"fmt"
	"strings"
	"time"
)

// VMState VM lifecycle state
// VMState 虚拟机生命周期状态
type VMState string

const (
	VMStatePending    VMState = "PENDING"
	VMStateRunning    VMState = "RUNNING"
	VMStatePoweroff   VMState = "POWEROFF"
	VMStateSuspended  VMState = "SUSPENDED"
	VMStateUndeployed VMState = "UNDEPLOYED"
	VMStateDone       VMState = "DONE"
)

// VMAction 虚拟机状态操作
type VMAction string

const (
	VMActionDeploy    VMAction = "deploy"
	VMActionPoweroff  VMAction = "poweroff"
	VMActionSuspend   VMAction = "suspend"
	VMActionResume    VMAction = "resume"
	VMActionUndeploy  VMAction = "undeploy"
	VMActionTerminate VMAction = "terminate"
	VMActionBackup    VMAction = "backup"
)

// ParseVMAction 解析虚拟机操作名
func ParseVMAction(s string) (VMAction, error) {
	a := VMAction(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case VMActionDeploy, VMActionPoweroff, VMActionSuspend, VMActionResume,
		VMActionUndeploy, VMActionTerminate, VMActionBackup:
		return a, nil
	}
	return "", fmt.Errorf("invalid vm action %q", s)
}

// Transition returns the state reached by applying action, ok is false when not allowed
// Transition 返回执行操作后的状态，不允许时 ok 为 false
func (s VMState) Transition(a VMAction) (VMState, bool) {
	if s == VMStateDone {
		return s, false
	}
	switch a {
	case VMActionDeploy:
		if s == VMStatePending || s == VMStateUndeployed {
			return VMStateRunning, true
		}
	case VMActionResume:
		if s == VMStatePoweroff || s == VMStateSuspended || s == VMStateUndeployed {
			return VMStateRunning, true
		}
	case VMActionPoweroff:
		if s == VMStateRunning {
			return VMStatePoweroff, true
		}
	case VMActionSuspend:
		if s == VMStateRunning {
			return VMStateSuspended, true
		}
	case VMActionUndeploy:
		if s == VMStateRunning || s == VMStatePoweroff {
			return VMStateUndeployed, true
		}
	case VMActionTerminate:
		return VMStateDone, true
	}
	return s, false
}

// BackupDeferred reports whether a job run leaves the VM OUTDATED instead of attempting it
// BackupDeferred 任务运行时该状态的虚拟机保持 OUTDATED，不尝试备份
func (s VMState) BackupDeferred() bool {
	switch s {
	case VMStatePending, VMStateSuspended, VMStateUndeployed:
		return true
	}
	return false
}

// Disk 虚拟机磁盘，Size 单位 MB
type Disk struct {
	ID       int   `json:"id"`
	ImageID  int64 `json:"imageId"`
	Size     int64 `json:"size"`
	Volatile bool  `json:"volatile"`
}

// Snapshot 系统快照
type Snapshot struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Time int64  `json:"time"`
}

// DiskSnapshot 磁盘快照
type DiskSnapshot struct {
	ID     int    `json:"id"`
	DiskID int    `json:"diskId"`
	Name   string `json:"name"`
	Time   int64  `json:"time"`
}

// BackupConfig per VM backup configuration and chain state
// BackupConfig 虚拟机备份配置与增量链状态
type BackupConfig struct {
	BackupJobID         int64      `json:"backupJobId"`
	Mode                BackupMode `json:"mode"`
	KeepLast            int        `json:"keepLast"`
	FsFreeze            FsFreeze   `json:"fsFreeze"`
	BackupVolatile      bool       `json:"backupVolatile"`
	LastIncrementID     int        `json:"lastIncrementId"`
	IncrementalBackupID int64      `json:"incrementalBackupId"`
	// BackupIDs 备份镜像 ID，最新的在前
	BackupIDs []int64 `json:"backupIds"`
}

// DefaultBackupConfig 新虚拟机的备份配置
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		BackupJobID:         NoID,
		Mode:                ModeFull,
		FsFreeze:            FsFreezeNone,
		LastIncrementID:     -1,
		IncrementalBackupID: NoID,
		BackupIDs:           []int64{},
	}
}

// ResetChain 重置增量链
func (c *BackupConfig) ResetChain() {
	c.LastIncrementID = -1
	c.IncrementalBackupID = NoID
}

// RemoveBackupID 从备份列表中移除镜像，返回是否存在
func (c *BackupConfig) RemoveBackupID(imageID int64) bool {
	for i, id := range c.BackupIDs {
		if id == imageID {
			c.BackupIDs = append(c.BackupIDs[:i:i], c.BackupIDs[i+1:]...)
			return true
		}
	}
	return false
}

// VM 虚拟机
type VM struct {
	ID            int64
	Name          string
	UID           int64
	GID           int64
	Permissions   Permissions
	State         VMState
	Disks         []Disk
	Snapshots     []Snapshot
	DiskSnapshots []DiskSnapshot
	// STime 启动时间，相对计划时间的基准
	STime        int64
	ErrorMessage string
	Backup       BackupConfig
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasSnapshots 是否存在系统或磁盘快照
func (v *VM) HasSnapshots() bool {
	return len(v.Snapshots) > 0 || len(v.DiskSnapshots) > 0
}

// BackupSize sums the disk sizes included in a backup
// BackupSize 计算备份包含的磁盘大小总和
func (v *VM) BackupSize(includeVolatile bool) int64 {
	var size int64
	for _, d := range v.Disks {
		if d.Volatile && !includeVolatile {
			continue
		}
		size += d.Size
	}
	return size
}

// BackupDisks 返回参与备份的磁盘
func (v *VM) BackupDisks(includeVolatile bool) []Disk {
	out := make([]Disk, 0, len(v.Disks))
	for _, d := range v.Disks {
		if d.Volatile && !includeVolatile {
			continue
		}
		out = append(out, d)
	}
	return out
}

// VMTemplate 虚拟机模板，由恢复到新实例时创建
type VMTemplate struct {
	ID        int64
	Name      string
	UID       int64
	GID       int64
	Disks     []TemplateDisk
	CreatedAt time.Time
}

// TemplateDisk 模板中的磁盘
type TemplateDisk struct {
	ImageID int64 `json:"imageId"`
}
