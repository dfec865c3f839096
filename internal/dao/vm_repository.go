package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// vmRepository 实现 domain.VMRepository 接口
type vmRepository struct {
	dao *Dao
}

// NewVMRepository 创建 VMRepository 实例
func NewVMRepository(dao *Dao) domain.VMRepository {
	return &vmRepository{dao: dao}
}

func (r *vmRepository) toDomain(m *model.VM) *domain.VM {
	if m == nil {
		return nil
	}
	perms, err := domain.ParsePermissions(m.Permissions)
	if err != nil {
		perms = domain.DefaultPermissions()
	}
	vm := &domain.VM{
		ID:           m.ID,
		Name:         m.Name,
		UID:          m.UID,
		GID:          m.GID,
		Permissions:  perms,
		State:        domain.VMState(m.State),
		STime:        m.STime,
		ErrorMessage: m.ErrorMessage,
		Backup: domain.BackupConfig{
			BackupJobID:         m.BackupJobID,
			Mode:                domain.BackupMode(m.BackupMode),
			KeepLast:            m.KeepLast,
			FsFreeze:            domain.FsFreeze(m.FsFreeze),
			BackupVolatile:      m.BackupVolatile,
			LastIncrementID:     m.LastIncrementID,
			IncrementalBackupID: m.IncrementalBackupID,
			BackupIDs:           nonNil(m.BackupIDs),
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, d := range m.Disks {
		vm.Disks = append(vm.Disks, domain.Disk{ID: d.ID, ImageID: d.ImageID, Size: d.Size, Volatile: d.Volatile})
	}
	for _, s := range m.Snapshots {
		vm.Snapshots = append(vm.Snapshots, domain.Snapshot{ID: s.ID, Name: s.Name, Time: s.Time})
	}
	for _, s := range m.DiskSnapshots {
		vm.DiskSnapshots = append(vm.DiskSnapshots, domain.DiskSnapshot{ID: s.ID, DiskID: s.DiskID, Name: s.Name, Time: s.Time})
	}
	return vm
}

func (r *vmRepository) toModel(vm *domain.VM) *model.VM {
	m := &model.VM{
		ID:                  vm.ID,
		Name:                vm.Name,
		UID:                 vm.UID,
		GID:                 vm.GID,
		Permissions:         vm.Permissions.Octal(),
		State:               string(vm.State),
		Disks:               []model.Disk{},
		Snapshots:           []model.Snapshot{},
		DiskSnapshots:       []model.Snapshot{},
		STime:               vm.STime,
		ErrorMessage:        vm.ErrorMessage,
		BackupJobID:         vm.Backup.BackupJobID,
		BackupMode:          string(vm.Backup.Mode),
		KeepLast:            vm.Backup.KeepLast,
		FsFreeze:            string(vm.Backup.FsFreeze),
		BackupVolatile:      vm.Backup.BackupVolatile,
		LastIncrementID:     vm.Backup.LastIncrementID,
		IncrementalBackupID: vm.Backup.IncrementalBackupID,
		BackupIDs:           nonNil(vm.Backup.BackupIDs),
		CreatedAt:           vm.CreatedAt,
		UpdatedAt:           vm.UpdatedAt,
	}
	for _, d := range vm.Disks {
		m.Disks = append(m.Disks, model.Disk{ID: d.ID, ImageID: d.ImageID, Size: d.Size, Volatile: d.Volatile})
	}
	for _, s := range vm.Snapshots {
		m.Snapshots = append(m.Snapshots, model.Snapshot{ID: s.ID, Name: s.Name, Time: s.Time})
	}
	for _, s := range vm.DiskSnapshots {
		m.DiskSnapshots = append(m.DiskSnapshots, model.Snapshot{ID: s.ID, DiskID: s.DiskID, Name: s.Name, Time: s.Time})
	}
	return m
}

// Create 创建虚拟机
func (r *vmRepository) Create(ctx context.Context, vm *domain.VM) (*domain.VM, error) {
	m := r.toModel(vm)
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// Update 保存虚拟机全部字段
func (r *vmRepository) Update(ctx context.Context, vm *domain.VM) error {
	m := r.toModel(vm)
	return r.dao.conn(ctx).Model(m).Select("*").Omit("created_at").Updates(m).Error
}

// GetByID 根据ID获取虚拟机
func (r *vmRepository) GetByID(ctx context.Context, id int64) (*domain.VM, error) {
	var m model.VM
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部虚拟机
func (r *vmRepository) List(ctx context.Context) ([]*domain.VM, error) {
	var ms []*model.VM
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.VM, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// ListByIDs 获取存在的虚拟机
func (r *vmRepository) ListByIDs(ctx context.Context, ids []int64) ([]*domain.VM, error) {
	if len(ids) == 0 {
		return []*domain.VM{}, nil
	}
	var ms []*model.VM
	if err := r.dao.conn(ctx).Where("id IN ?", ids).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.VM, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// SetBackupJobID 设置虚拟机所属备份任务
func (r *vmRepository) SetBackupJobID(ctx context.Context, vmIDs []int64, jobID int64) error {
	if len(vmIDs) == 0 {
		return nil
	}
	return r.dao.conn(ctx).Model(&model.VM{}).Where("id IN ?", vmIDs).
		Update("backup_job_id", jobID).Error
}

// UpdateBackupSettings saves the user facing backup settings, the chain columns are left alone
// unless resetChain is set
// UpdateBackupSettings 只保存备份设置列，resetChain 为 true 时同时重置增量链
func (r *vmRepository) UpdateBackupSettings(ctx context.Context, id int64, cfg domain.BackupConfig, resetChain bool) error {
	m := &model.VM{
		ID:                  id,
		BackupMode:          string(cfg.Mode),
		KeepLast:            cfg.KeepLast,
		FsFreeze:            string(cfg.FsFreeze),
		BackupVolatile:      cfg.BackupVolatile,
		LastIncrementID:     -1,
		IncrementalBackupID: domain.NoID,
	}
	columns := []string{"backup_mode", "keep_last", "fs_freeze", "backup_volatile"}
	if resetChain {
		columns = append(columns, "last_increment_id", "incremental_backup_id")
	}
	return r.dao.conn(ctx).Model(m).Select(columns).Updates(m).Error
}

// UpdateBackupChain 只保存备份镜像列表与增量链列
func (r *vmRepository) UpdateBackupChain(ctx context.Context, id int64, cfg domain.BackupConfig) error {
	m := &model.VM{
		ID:                  id,
		LastIncrementID:     cfg.LastIncrementID,
		IncrementalBackupID: cfg.IncrementalBackupID,
		BackupIDs:           nonNil(cfg.BackupIDs),
	}
	return r.dao.conn(ctx).Model(m).
		Select("last_increment_id", "incremental_backup_id", "backup_ids").
		Updates(m).Error
}

// UpdateState 只保存状态与启动时间
func (r *vmRepository) UpdateState(ctx context.Context, id int64, state domain.VMState, stime int64) error {
	m := &model.VM{ID: id, State: string(state), STime: stime}
	return r.dao.conn(ctx).Model(m).Select("state", "stime").Updates(m).Error
}

// UpdateSnapshots 只保存快照列
func (r *vmRepository) UpdateSnapshots(ctx context.Context, id int64, snapshots []domain.Snapshot, diskSnapshots []domain.DiskSnapshot) error {
	m := &model.VM{ID: id, Snapshots: []model.Snapshot{}, DiskSnapshots: []model.Snapshot{}}
	for _, s := range snapshots {
		m.Snapshots = append(m.Snapshots, model.Snapshot{ID: s.ID, Name: s.Name, Time: s.Time})
	}
	for _, s := range diskSnapshots {
		m.DiskSnapshots = append(m.DiskSnapshots, model.Snapshot{ID: s.ID, DiskID: s.DiskID, Name: s.Name, Time: s.Time})
	}
	return r.dao.conn(ctx).Model(m).Select("snapshots", "disk_snapshots").Updates(m).Error
}

// SetError 设置虚拟机错误信息
func (r *vmRepository) SetError(ctx context.Context, id int64, msg string) error {
	return r.dao.conn(ctx).Model(&model.VM{}).Where("id = ?", id).
		Update("error_message", msg).Error
}

var _ domain.VMRepository = (*vmRepository)(nil)
