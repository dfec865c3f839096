package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// runStateColumns are written only by SaveRunState and SaveLastBackup
var runStateColumns = []string{
	"updated_vms", "outdated_vms", "backing_up_vms", "error_vms", "error_messages", "error",
	"last_backup_time", "last_backup_duration", "created_at",
}

// backupJobRepository 实现 domain.BackupJobRepository 接口
type backupJobRepository struct {
	dao *Dao
}

// NewBackupJobRepository 创建 BackupJobRepository 实例
func NewBackupJobRepository(dao *Dao) domain.BackupJobRepository {
	return &backupJobRepository{dao: dao}
}

// toDomain 将数据库模型转换为领域模型
func (r *backupJobRepository) toDomain(m *model.BackupJob) *domain.BackupJob {
	if m == nil {
		return nil
	}
	perms, err := domain.ParsePermissions(m.Permissions)
	if err != nil {
		perms = domain.DefaultPermissions()
	}
	attrs := m.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &domain.BackupJob{
		ID:          m.ID,
		Name:        m.Name,
		UID:         m.UID,
		GID:         m.GID,
		Permissions: perms,
		Priority:    m.Priority,
		Lock:        domain.LockLevel(m.LockLevel),
		LockTime:    m.LockTime,
		Config: domain.BackupJobConfig{
			DatastoreID:    m.DatastoreID,
			Mode:           domain.BackupMode(m.Mode),
			KeepLast:       m.KeepLast,
			FsFreeze:       domain.FsFreeze(m.FsFreeze),
			BackupVolatile: m.BackupVolatile,
			Execution:      domain.Execution(m.Execution),
		},
		BackupVMs:  nonNil(m.BackupVMs),
		Attributes: attrs,
		Error:      m.Error,
		Buckets: domain.Buckets{
			Updated:   nonNil(m.UpdatedVMs),
			Outdated:  nonNil(m.OutdatedVMs),
			BackingUp: nonNil(m.BackingUpVMs),
			Errored:   nonNil(m.ErrorVMs),
			Messages:  m.ErrorMessages,
		},
		LastBackupTime:     m.LastBackupTime,
		LastBackupDuration: m.LastBackupDuration,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// toModel 将领域模型转换为数据库模型
func (r *backupJobRepository) toModel(j *domain.BackupJob) *model.BackupJob {
	return &model.BackupJob{
		ID:                 j.ID,
		Name:               j.Name,
		UID:                j.UID,
		GID:                j.GID,
		Permissions:        j.Permissions.Octal(),
		Priority:           j.Priority,
		LockLevel:          int(j.Lock),
		LockTime:           j.LockTime,
		DatastoreID:        j.Config.DatastoreID,
		Mode:               string(j.Config.Mode),
		KeepLast:           j.Config.KeepLast,
		FsFreeze:           string(j.Config.FsFreeze),
		BackupVolatile:     j.Config.BackupVolatile,
		Execution:          string(j.Config.Execution),
		BackupVMs:          nonNil(j.BackupVMs),
		Attributes:         j.Attributes,
		Error:              j.Error,
		UpdatedVMs:         nonNil(j.Buckets.Updated),
		OutdatedVMs:        nonNil(j.Buckets.Outdated),
		BackingUpVMs:       nonNil(j.Buckets.BackingUp),
		ErrorVMs:           nonNil(j.Buckets.Errored),
		ErrorMessages:      j.Buckets.Messages,
		LastBackupTime:     j.LastBackupTime,
		LastBackupDuration: j.LastBackupDuration,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

// Create 创建备份任务
func (r *backupJobRepository) Create(ctx context.Context, job *domain.BackupJob) (*domain.BackupJob, error) {
	m := r.toModel(job)
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// Update 保存备份任务，运行分类由 SaveRunState 单独维护
func (r *backupJobRepository) Update(ctx context.Context, job *domain.BackupJob) error {
	m := r.toModel(job)
	return r.dao.conn(ctx).Model(m).Select("*").Omit(runStateColumns...).Updates(m).Error
}

// SetBackupVMs 只保存 BACKUP_VMS 列
func (r *backupJobRepository) SetBackupVMs(ctx context.Context, id int64, vms []int64) error {
	m := &model.BackupJob{ID: id, BackupVMs: nonNil(vms)}
	return r.dao.conn(ctx).Model(m).Select("backup_vms").Updates(m).Error
}

// GetByID 根据ID获取备份任务
func (r *backupJobRepository) GetByID(ctx context.Context, id int64) (*domain.BackupJob, error) {
	var m model.BackupJob
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部备份任务，按 ID 升序
func (r *backupJobRepository) List(ctx context.Context) ([]*domain.BackupJob, error) {
	var ms []*model.BackupJob
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.BackupJob, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// FindByVM 查找 BACKUP_VMS 中包含虚拟机的备份任务
// BACKUP_VMS is a JSON column, so membership is checked in Go to stay portable across dialects
func (r *backupJobRepository) FindByVM(ctx context.Context, vmID int64) (*domain.BackupJob, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.HasVM(vmID) {
			return j, nil
		}
	}
	return nil, nil
}

// SaveRunState 保存运行分类与错误信息
func (r *backupJobRepository) SaveRunState(ctx context.Context, id int64, b domain.Buckets, errMsg string) error {
	m := &model.BackupJob{
		ID:            id,
		UpdatedVMs:    nonNil(b.Updated),
		OutdatedVMs:   nonNil(b.Outdated),
		BackingUpVMs:  nonNil(b.BackingUp),
		ErrorVMs:      nonNil(b.Errored),
		ErrorMessages: b.Messages,
		Error:         errMsg,
	}
	return r.dao.conn(ctx).Model(m).
		Select("updated_vms", "outdated_vms", "backing_up_vms", "error_vms", "error_messages", "error").
		Updates(m).Error
}

// SaveLastBackup 保存最近一次运行的时间与耗时
func (r *backupJobRepository) SaveLastBackup(ctx context.Context, id int64, at, duration int64) error {
	return r.dao.conn(ctx).Model(&model.BackupJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_backup_time": at, "last_backup_duration": duration}).Error
}

// Delete 删除备份任务
func (r *backupJobRepository) Delete(ctx context.Context, id int64) error {
	return r.dao.conn(ctx).Where("id = ?", id).Delete(&model.BackupJob{}).Error
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// 确保 backupJobRepository 实现了 domain.BackupJobRepository 接口
var _ domain.BackupJobRepository = (*backupJobRepository)(nil)
