package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// VMBackupConfigInput partial update of a VM backup config, nil fields are kept
// VMBackupConfigInput 虚拟机备份配置的部分更新，nil 字段保持不变
type VMBackupConfigInput struct {
	Mode           *domain.BackupMode
	KeepLast       *int
	FsFreeze       *domain.FsFreeze
	BackupVolatile *bool
}

// VMService 虚拟机业务服务接口
type VMService interface {
	// Create registers a VM in PENDING, deploy moves it to RUNNING
	// Create 创建虚拟机，初始状态为 PENDING，deploy 后进入 RUNNING
	Create(ctx context.Context, r domain.Requester, name string, disks []domain.Disk) (*domain.VM, error)

	Get(ctx context.Context, r domain.Requester, id int64) (*domain.VM, error)

	// List 返回请求者具有 USE 权限的虚拟机
	List(ctx context.Context, r domain.Requester) ([]*domain.VM, error)

	// Action applies a lifecycle action, terminate also leaves the backup job and drops scheduled actions
	// Action 执行生命周期操作；terminate 同时退出备份任务并删除计划任务
	Action(ctx context.Context, r domain.Requester, id int64, action domain.VMAction) (*domain.VM, error)

	SnapshotCreate(ctx context.Context, r domain.Requester, id int64, name string) (*domain.Snapshot, error)

	DiskSnapshotCreate(ctx context.Context, r domain.Requester, id int64, diskID int, name string) (*domain.DiskSnapshot, error)

	UpdateBackupConfig(ctx context.Context, r domain.Requester, id int64, in *VMBackupConfigInput) (*domain.VM, error)

	// Backup runs a direct backup and waits for it, VMs managed by a backup job are rejected
	// Backup 直接备份虚拟机并等待完成；属于备份任务的虚拟机会被拒绝
	Backup(ctx context.Context, r domain.Requester, id, datastoreID int64, reset bool) (int64, error)

	Restore(ctx context.Context, r domain.Requester, id, imageID int64, diskID, incrementID int) error

	// scheduled runs a fired scheduled action without permission checks
	// scheduled 执行已触发的计划任务，不检查权限
	scheduled(ctx context.Context, id int64, action domain.VMAction, args string) error
}

// vmJobDetacher 虚拟机退出备份任务
type vmJobDetacher interface {
	DetachVM(ctx context.Context, vmID int64) error
}

type vmService struct {
	vmRepo    domain.VMRepository
	schedRepo domain.SchedActionRepository
	jobs      vmJobDetacher
	executor  BackupExecutor
	clock     clock.Clock
	logger    *zap.Logger
}

// NewVMService 创建 VMService 实例
func NewVMService(
	vmRepo domain.VMRepository,
	schedRepo domain.SchedActionRepository,
	jobs vmJobDetacher,
	executor BackupExecutor,
	clk clock.Clock,
	logger *zap.Logger,
) VMService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &vmService{
		vmRepo:    vmRepo,
		schedRepo: schedRepo,
		jobs:      jobs,
		executor:  executor,
		clock:     clk,
		logger:    logger,
	}
}

func (s *vmService) Create(ctx context.Context, r domain.Requester, name string, disks []domain.Disk) (*domain.VM, error) {
	if name == "" {
		return nil, codeErr(code.ErrorInvalidParams, "name is required")
	}
	out := make([]domain.Disk, len(disks))
	for i, d := range disks {
		d.ID = i
		if d.Size < 0 {
			return nil, codeErr(code.ErrorInvalidParams, fmt.Sprintf("disk %d: negative size", i))
		}
		out[i] = d
	}
	vm, err := s.vmRepo.Create(ctx, &domain.VM{
		Name:          name,
		UID:           r.UID,
		GID:           r.GID,
		Permissions:   domain.DefaultPermissions(),
		State:         domain.VMStatePending,
		Disks:         out,
		Snapshots:     []domain.Snapshot{},
		DiskSnapshots: []domain.DiskSnapshot{},
		STime:         s.clock.Now().Unix(),
		Backup:        domain.DefaultBackupConfig(),
	})
	if err != nil {
		return nil, dbErr(err)
	}
	s.logger.Info("vm created", zap.Int64(logger.FieldVMID, vm.ID), zap.Int64(logger.FieldUID, r.UID))
	return vm, nil
}

// load 加载虚拟机并检查权限
func (s *vmService) load(ctx context.Context, r domain.Requester, id int64, level domain.AuthLevel) (*domain.VM, error) {
	vm, err := s.vmRepo.GetByID(ctx, id)
	if err != nil {
		return nil, dbErr(err)
	}
	if vm == nil {
		return nil, codeErr(code.ErrorVMNotFound, fmt.Sprintf("VM %d", id))
	}
	if !domain.Authorize(r, vm.UID, vm.GID, vm.Permissions, level) {
		return nil, code.ErrorPermissionDenied
	}
	return vm, nil
}

func (s *vmService) Get(ctx context.Context, r domain.Requester, id int64) (*domain.VM, error) {
	return s.load(ctx, r, id, domain.AuthUse)
}

func (s *vmService) List(ctx context.Context, r domain.Requester) ([]*domain.VM, error) {
	all, err := s.vmRepo.List(ctx)
	if err != nil {
		return nil, dbErr(err)
	}
	out := make([]*domain.VM, 0, len(all))
	for _, vm := range all {
		if domain.Authorize(r, vm.UID, vm.GID, vm.Permissions, domain.AuthUse) {
			out = append(out, vm)
		}
	}
	return out, nil
}

func (s *vmService) Action(ctx context.Context, r domain.Requester, id int64, action domain.VMAction) (*domain.VM, error) {
	if action == domain.VMActionBackup {
		return nil, codeErr(code.ErrorInvalidVMAction, "use the backup operation")
	}
	vm, err := s.load(ctx, r, id, domain.AuthManage)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, vm, action)
}

// apply runs a state transition without permission checks, scheduled actions use it directly
// apply 执行状态转换，不检查权限
func (s *vmService) apply(ctx context.Context, vm *domain.VM, action domain.VMAction) (*domain.VM, error) {
	if vm.State == domain.VMStateDone {
		return nil, code.ErrorVMDone
	}
	next, ok := vm.State.Transition(action)
	if !ok {
		return nil, codeErr(code.ErrorVMInvalidState, fmt.Sprintf("%s from %s", action, vm.State))
	}

	stime := vm.STime
	if next == domain.VMStateRunning && vm.State == domain.VMStatePending {
		stime = s.clock.Now().Unix()
	}
	if action == domain.VMActionTerminate {
		if err := s.jobs.DetachVM(ctx, vm.ID); err != nil {
			return nil, err
		}
		if err := s.schedRepo.DeleteByParent(ctx, domain.ParentVM, vm.ID); err != nil {
			return nil, dbErr(err)
		}
	}
	if err := s.vmRepo.UpdateState(ctx, vm.ID, next, stime); err != nil {
		return nil, dbErr(err)
	}

	s.logger.Info("vm state changed",
		zap.Int64(logger.FieldVMID, vm.ID),
		zap.String(logger.FieldAction, string(action)),
		zap.String("from", string(vm.State)),
		zap.String("to", string(next)))
	return s.vmRepo.GetByID(ctx, vm.ID)
}

func (s *vmService) SnapshotCreate(ctx context.Context, r domain.Requester, id int64, name string) (*domain.Snapshot, error) {
	vm, err := s.load(ctx, r, id, domain.AuthManage)
	if err != nil {
		return nil, err
	}
	if err := snapshotAllowed(vm); err != nil {
		return nil, err
	}
	snap := domain.Snapshot{ID: nextSnapshotID(vm), Name: name, Time: s.clock.Now().Unix()}
	if snap.Name == "" {
		snap.Name = fmt.Sprintf("snapshot-%d", snap.ID)
	}
	if err := s.vmRepo.UpdateSnapshots(ctx, vm.ID, append(vm.Snapshots, snap), vm.DiskSnapshots); err != nil {
		return nil, dbErr(err)
	}
	return &snap, nil
}

func (s *vmService) DiskSnapshotCreate(ctx context.Context, r domain.Requester, id int64, diskID int, name string) (*domain.DiskSnapshot, error) {
	vm, err := s.load(ctx, r, id, domain.AuthManage)
	if err != nil {
		return nil, err
	}
	if err := snapshotAllowed(vm); err != nil {
		return nil, err
	}
	found := false
	for _, d := range vm.Disks {
		if d.ID == diskID {
			found = true
			break
		}
	}
	if !found {
		return nil, codeErr(code.ErrorVMDiskNotFound, fmt.Sprintf("disk %d", diskID))
	}

	sid := 0
	for _, ds := range vm.DiskSnapshots {
		if ds.DiskID == diskID && ds.ID >= sid {
			sid = ds.ID + 1
		}
	}
	snap := domain.DiskSnapshot{ID: sid, DiskID: diskID, Name: name, Time: s.clock.Now().Unix()}
	if snap.Name == "" {
		snap.Name = fmt.Sprintf("disk-%d-snapshot-%d", diskID, sid)
	}
	if err := s.vmRepo.UpdateSnapshots(ctx, vm.ID, vm.Snapshots, append(vm.DiskSnapshots, snap)); err != nil {
		return nil, dbErr(err)
	}
	return &snap, nil
}

func snapshotAllowed(vm *domain.VM) error {
	if vm.State == domain.VMStateDone {
		return code.ErrorVMDone
	}
	if vm.Backup.Mode == domain.ModeIncrement {
		return code.ErrorSnapshotWithIncrement
	}
	return nil
}

func nextSnapshotID(vm *domain.VM) int {
	id := 0
	for _, s := range vm.Snapshots {
		if s.ID >= id {
			id = s.ID + 1
		}
	}
	return id
}

func (s *vmService) UpdateBackupConfig(ctx context.Context, r domain.Requester, id int64, in *VMBackupConfigInput) (*domain.VM, error) {
	vm, err := s.load(ctx, r, id, domain.AuthManage)
	if err != nil {
		return nil, err
	}
	if vm.State == domain.VMStateDone {
		return nil, code.ErrorVMDone
	}

	cfg := vm.Backup
	reset := false
	if in.Mode != nil {
		if *in.Mode == domain.ModeIncrement && cfg.Mode != domain.ModeIncrement && vm.HasSnapshots() {
			return nil, code.ErrorIncrementWithSnapshot
		}
		if *in.Mode != cfg.Mode {
			cfg.ResetChain()
			reset = true
		}
		cfg.Mode = *in.Mode
	}
	if in.KeepLast != nil {
		if *in.KeepLast < 0 {
			return nil, code.ErrorInvalidKeepLast
		}
		cfg.KeepLast = *in.KeepLast
	}
	if in.FsFreeze != nil {
		cfg.FsFreeze = *in.FsFreeze
	}
	if in.BackupVolatile != nil {
		cfg.BackupVolatile = *in.BackupVolatile
	}
	if err := s.vmRepo.UpdateBackupSettings(ctx, vm.ID, cfg, reset); err != nil {
		return nil, dbErr(err)
	}
	vm.Backup = cfg
	return vm, nil
}

func (s *vmService) Backup(ctx context.Context, r domain.Requester, id, datastoreID int64, reset bool) (int64, error) {
	vm, err := s.load(ctx, r, id, domain.AuthAdmin)
	if err != nil {
		return -1, err
	}
	return s.backup(ctx, vm, datastoreID, reset)
}

// backup 直接备份，不检查权限
func (s *vmService) backup(ctx context.Context, vm *domain.VM, datastoreID int64, reset bool) (int64, error) {
	if vm.Backup.BackupJobID >= 0 {
		err := codeErr(code.ErrorVMInBackupJob, fmt.Sprintf("backup job %d", vm.Backup.BackupJobID))
		if serr := s.vmRepo.SetError(ctx, vm.ID, err.Error()); serr != nil {
			s.logger.Error("set vm error failed", zap.Int64(logger.FieldVMID, vm.ID), zap.Error(serr))
		}
		return -1, err
	}
	return s.executor.Execute(ctx, BackupRequest{VMID: vm.ID, DatastoreID: datastoreID, Reset: reset})
}

func (s *vmService) Restore(ctx context.Context, r domain.Requester, id, imageID int64, diskID, incrementID int) error {
	return s.executor.RestoreInPlace(ctx, r, id, imageID, diskID, incrementID)
}

func (s *vmService) scheduled(ctx context.Context, id int64, action domain.VMAction, args string) error {
	vm, err := s.vmRepo.GetByID(ctx, id)
	if err != nil {
		return dbErr(err)
	}
	if vm == nil {
		return codeErr(code.ErrorVMNotFound, fmt.Sprintf("VM %d", id))
	}
	if action == domain.VMActionBackup {
		dsID, reset, err := parseBackupArgs(args)
		if err != nil {
			return err
		}
		_, err = s.backup(ctx, vm, dsID, reset)
		return err
	}
	_, err = s.apply(ctx, vm, action)
	return err
}

// parseBackupArgs parses "<datastore_id>[,<reset>]" of a scheduled VM backup
// parseBackupArgs 解析计划备份参数 "<datastore_id>[,<reset>]"
func parseBackupArgs(args string) (int64, bool, error) {
	parts := strings.Split(strings.TrimSpace(args), ",")
	dsID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || dsID < 0 {
		return -1, false, codeErr(code.ErrorSchedInvalidAction, fmt.Sprintf("invalid backup args %q", args))
	}
	reset := false
	if len(parts) > 1 {
		reset, err = domain.ParseYesNo(parts[1])
		if err != nil {
			return -1, false, codeErr(code.ErrorSchedInvalidAction, fmt.Sprintf("invalid backup args %q", args))
		}
	}
	return dsID, reset, nil
}
