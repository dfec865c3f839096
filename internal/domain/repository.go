// Package domain 定义领域模型和接口
package domain

import "context"

// Transactor runs fn inside a database transaction carried by ctx
// Transactor 在 ctx 携带的数据库事务中执行 fn
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// BackupJobRepository 备份任务仓储接口
// Getters return nil, nil when the row does not exist.
type BackupJobRepository interface {
	// Create 创建备份任务
	Create(ctx context.Context, job *BackupJob) (*BackupJob, error)

	// Update 保存备份任务（不含运行分类）
	Update(ctx context.Context, job *BackupJob) error

	// SetBackupVMs 只保存 BACKUP_VMS 列
	SetBackupVMs(ctx context.Context, id int64, vms []int64) error

	// GetByID 根据ID获取备份任务
	GetByID(ctx context.Context, id int64) (*BackupJob, error)

	// List 获取全部备份任务
	List(ctx context.Context) ([]*BackupJob, error)

	// FindByVM 查找包含虚拟机的备份任务
	FindByVM(ctx context.Context, vmID int64) (*BackupJob, error)

	// SaveRunState 保存运行分类与错误信息
	SaveRunState(ctx context.Context, id int64, buckets Buckets, errMsg string) error

	// SaveLastBackup 保存最近一次运行的时间与耗时
	SaveLastBackup(ctx context.Context, id int64, at, duration int64) error

	// Delete 删除备份任务
	Delete(ctx context.Context, id int64) error
}

// VMRepository 虚拟机仓储接口
type VMRepository interface {
	Create(ctx context.Context, vm *VM) (*VM, error)

	// Update 保存虚拟机全部字段
	Update(ctx context.Context, vm *VM) error

	GetByID(ctx context.Context, id int64) (*VM, error)

	List(ctx context.Context) ([]*VM, error)

	// ListByIDs 获取存在的虚拟机，不存在的 ID 被忽略
	ListByIDs(ctx context.Context, ids []int64) ([]*VM, error)

	// SetBackupJobID 设置虚拟机所属备份任务
	SetBackupJobID(ctx context.Context, vmIDs []int64, jobID int64) error

	// SetError 设置虚拟机错误信息，空字符串表示清除
	SetError(ctx context.Context, id int64, msg string) error

	// UpdateBackupSettings saves MODE, KEEP_LAST, FS_FREEZE and BACKUP_VOLATILE, resetChain also resets the increment chain
	// UpdateBackupSettings 只保存备份设置，resetChain 为 true 时重置增量链
	UpdateBackupSettings(ctx context.Context, id int64, cfg BackupConfig, resetChain bool) error

	// UpdateBackupChain saves BACKUP_IDS, LAST_INCREMENT_ID and INCREMENTAL_BACKUP_ID
	// Only the per-VM serial queue writes these columns.
	// UpdateBackupChain 只保存备份镜像列表与增量链，仅由虚拟机串行队列写入
	UpdateBackupChain(ctx context.Context, id int64, cfg BackupConfig) error

	// UpdateState 只保存状态与启动时间
	UpdateState(ctx context.Context, id int64, state VMState, stime int64) error

	// UpdateSnapshots 只保存快照列
	UpdateSnapshots(ctx context.Context, id int64, snapshots []Snapshot, diskSnapshots []DiskSnapshot) error
}

// ImageRepository 镜像仓储接口
type ImageRepository interface {
	Create(ctx context.Context, image *Image) (*Image, error)
	Update(ctx context.Context, image *Image) error
	GetByID(ctx context.Context, id int64) (*Image, error)
	List(ctx context.Context) ([]*Image, error)
	Delete(ctx context.Context, id int64) error

	// CountByDatastore 统计数据存储中的镜像数量
	CountByDatastore(ctx context.Context, datastoreID int64) (int64, error)

	// SumSizeByDatastore 统计数据存储中的镜像大小（MB）
	SumSizeByDatastore(ctx context.Context, datastoreID int64) (int64, error)
}

// DatastoreRepository 数据存储仓储接口
type DatastoreRepository interface {
	Create(ctx context.Context, ds *Datastore) (*Datastore, error)
	GetByID(ctx context.Context, id int64) (*Datastore, error)
	List(ctx context.Context) ([]*Datastore, error)
	Delete(ctx context.Context, id int64) error
}

// QuotaRepository 配额仓储接口
type QuotaRepository interface {
	// Get 获取配额，不存在时返回 nil
	Get(ctx context.Context, uid, datastoreID int64) (*Quota, error)

	// Save 创建或更新配额
	Save(ctx context.Context, q *Quota) error

	ListByUser(ctx context.Context, uid int64) ([]*Quota, error)
}

// UserRepository 用户仓储接口
type UserRepository interface {
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}

// GroupRepository 组仓储接口
type GroupRepository interface {
	Create(ctx context.Context, group *Group) (*Group, error)
	GetByID(ctx context.Context, id int64) (*Group, error)
	GetByName(ctx context.Context, name string) (*Group, error)
	List(ctx context.Context) ([]*Group, error)
}

// VMTemplateRepository 虚拟机模板仓储接口
type VMTemplateRepository interface {
	Create(ctx context.Context, tpl *VMTemplate) (*VMTemplate, error)
	GetByID(ctx context.Context, id int64) (*VMTemplate, error)
	List(ctx context.Context) ([]*VMTemplate, error)
}

// SchedActionRepository 计划任务仓储接口
type SchedActionRepository interface {
	// Create 创建计划任务，ID 按父对象单调分配
	Create(ctx context.Context, sa *SchedAction) (*SchedAction, error)

	Update(ctx context.Context, sa *SchedAction) error

	Get(ctx context.Context, parentType ParentType, parentID int64, id int) (*SchedAction, error)

	ListByParent(ctx context.Context, parentType ParentType, parentID int64) ([]*SchedAction, error)

	// ListDue 获取 TIME <= now 且尚未为该 TIME 执行过的计划任务
	ListDue(ctx context.Context, now int64) ([]*SchedAction, error)

	Delete(ctx context.Context, parentType ParentType, parentID int64, id int) error

	DeleteByParent(ctx context.Context, parentType ParentType, parentID int64) error
}
