package service

import (
	"context"
	"fmt"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/driver"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/serialqueue"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BackupRequest one backup of one VM
// BackupRequest 一次虚拟机备份请求
type BackupRequest struct {
	VMID        int64
	DatastoreID int64
	// Reset 开始新的增量链
	Reset bool
}

// RestoreResult 恢复为新实例的结果
type RestoreResult struct {
	TemplateID int64
	ImageIDs   []int64
}

// BackupExecutor runs backups and restores, executions on one VM never overlap
// BackupExecutor 执行备份与恢复，同一虚拟机上的执行不会重叠
type BackupExecutor interface {
	// Execute 执行一次备份，返回备份镜像 ID
	Execute(ctx context.Context, req BackupRequest) (int64, error)

	// RestoreInPlace diskID -1 restores every disk, incrementID -1 the latest increment
	// RestoreInPlace 原地恢复，diskID 为 -1 表示全部磁盘，incrementID 为 -1 表示最新增量
	RestoreInPlace(ctx context.Context, r domain.Requester, vmID, imageID int64, diskID, incrementID int) error

	// RestoreNewInstance 由备份创建虚拟机模板与磁盘镜像
	RestoreNewInstance(ctx context.Context, r domain.Requester, imageID int64, name string) (*RestoreResult, error)
}

type backupExecutor struct {
	vmRepo     domain.VMRepository
	imageRepo  domain.ImageRepository
	dsRepo     domain.DatastoreRepository
	tplRepo    domain.VMTemplateRepository
	images     ImageService
	datastores DatastoreService
	quota      QuotaLedger
	drivers    *driver.Manager
	queue      *serialqueue.Manager
	clock      clock.Clock
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBackupExecutor 创建 BackupExecutor 实例
func NewBackupExecutor(
	vmRepo domain.VMRepository,
	imageRepo domain.ImageRepository,
	dsRepo domain.DatastoreRepository,
	tplRepo domain.VMTemplateRepository,
	images ImageService,
	datastores DatastoreService,
	quota QuotaLedger,
	drivers *driver.Manager,
	queue *serialqueue.Manager,
	clk clock.Clock,
	config *ServiceConfig,
	logger *zap.Logger,
) BackupExecutor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &backupExecutor{
		vmRepo:     vmRepo,
		imageRepo:  imageRepo,
		dsRepo:     dsRepo,
		tplRepo:    tplRepo,
		images:     images,
		datastores: datastores,
		quota:      quota,
		drivers:    drivers,
		queue:      queue,
		clock:      clk,
		timeout:    config.Backup.BackupTimeout,
		logger:     logger,
	}
}

func (e *backupExecutor) Execute(ctx context.Context, req BackupRequest) (int64, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var imageID int64
	err := e.queue.Execute(ctx, req.VMID, func(ctx context.Context) error {
		id, err := e.execute(ctx, req)
		imageID = id
		return err
	})

	// the VM ERROR attribute mirrors the outcome of its last backup
	msg := ""
	if err != nil {
		msg = err.Error()
		e.logger.Warn("backup failed",
			zap.Int64(logger.FieldVMID, req.VMID),
			zap.Int64(logger.FieldDatastoreID, req.DatastoreID),
			zap.Error(err))
	}
	if serr := e.vmRepo.SetError(context.Background(), req.VMID, msg); serr != nil {
		e.logger.Error("set vm error failed", zap.Int64(logger.FieldVMID, req.VMID), zap.Error(serr))
	}
	return imageID, err
}

func (e *backupExecutor) execute(ctx context.Context, req BackupRequest) (int64, error) {
	started := e.clock.Now()

	vm, err := e.vmRepo.GetByID(ctx, req.VMID)
	if err != nil {
		return -1, dbErr(err)
	}
	if vm == nil {
		return -1, codeErr(code.ErrorVMNotFound, fmt.Sprintf("VM %d", req.VMID))
	}
	if vm.State == domain.VMStateDone {
		return -1, code.ErrorVMDone
	}
	if vm.State != domain.VMStateRunning && vm.State != domain.VMStatePoweroff {
		return -1, codeErr(code.ErrorVMInvalidState, string(vm.State))
	}

	ds, err := e.dsRepo.GetByID(ctx, req.DatastoreID)
	if err != nil {
		return -1, dbErr(err)
	}
	if ds == nil {
		return -1, codeErr(code.ErrorDatastoreNotFound, fmt.Sprintf("datastore %d", req.DatastoreID))
	}
	if ds.Type != domain.DatastoreBackup {
		return -1, codeErr(code.ErrorDatastoreNotBackup, ds.Name)
	}
	drv, err := e.drivers.For(ds)
	if err != nil {
		return -1, codeErr(code.ErrorDriverNotSupported, err.Error())
	}

	cfg := vm.Backup
	disks := vm.BackupDisks(cfg.BackupVolatile)
	size := vm.BackupSize(cfg.BackupVolatile)

	mode := cfg.Mode
	if mode == domain.ModeIncrement && !drv.SupportsIncrement() {
		mode = domain.ModeFull
	}
	if mode == domain.ModeIncrement && vm.HasSnapshots() {
		return -1, code.ErrorIncrementWithSnapshot
	}

	var chain *domain.Image
	if mode == domain.ModeIncrement && !req.Reset && cfg.LastIncrementID >= 0 && cfg.IncrementalBackupID >= 0 {
		chain, err = e.imageRepo.GetByID(ctx, cfg.IncrementalBackupID)
		if err != nil {
			return -1, dbErr(err)
		}
		// a chain on another datastore or in a failed state starts over
		if chain != nil && (chain.State != domain.ImageStateReady || chain.DatastoreID != ds.ID) {
			chain = nil
		}
	}

	needed := size
	if chain != nil {
		needed = incrementSize(size)
	}
	if ds.CapacityCheck {
		free, err := e.datastores.FreeMB(ctx, ds)
		if err != nil {
			return -1, err
		}
		if free >= 0 && needed > free {
			return -1, codeErr(code.ErrorDatastoreCapacity, fmt.Sprintf("need %d MB, %d MB free", needed, free))
		}
	}

	var imageID int64
	if chain != nil {
		imageID, err = e.increment(ctx, vm, ds, drv, chain, disks, needed)
	} else {
		imageID, err = e.full(ctx, vm, ds, drv, mode, disks, needed)
	}
	metrics.ObserveBackup(string(mode), started, needed, err)
	if err != nil {
		return -1, err
	}

	e.logger.Info("backup done",
		zap.Int64(logger.FieldVMID, vm.ID),
		zap.Int64(logger.FieldImageID, imageID),
		zap.String(logger.FieldMode, string(mode)),
		zap.Duration(logger.FieldDuration, e.clock.Now().Sub(started)))
	return imageID, nil
}

func incrementSize(size int64) int64 {
	if size/10 < 1 {
		return 1
	}
	return size / 10
}

// full writes a new image at the head of the VM backup list and applies KEEP_LAST
// full 写入新的备份镜像并按 KEEP_LAST 淘汰旧备份
func (e *backupExecutor) full(ctx context.Context, vm *domain.VM, ds *domain.Datastore, drv driver.BackupDriver, mode domain.BackupMode, disks []domain.Disk, size int64) (int64, error) {
	if err := e.quota.Commit(ctx, vm.UID, ds.ID, 1, size); err != nil {
		return -1, err
	}

	now := e.clock.Now()
	diskIDs := make([]int, 0, len(disks))
	for _, d := range disks {
		diskIDs = append(diskIDs, d.ID)
	}
	img, err := e.imageRepo.Create(ctx, &domain.Image{
		Name:          fmt.Sprintf("%d %s", vm.ID, now.Format("15:04:05 02/01/2006")),
		UID:           vm.UID,
		GID:           vm.GID,
		DatastoreID:   ds.ID,
		Type:          domain.ImageTypeBackup,
		State:         domain.ImageStateLocked,
		VMID:          vm.ID,
		BackupDiskIDs: diskIDs,
		Increments:    []domain.Increment{},
		Mode:          mode,
		FsFreeze:      vm.Backup.FsFreeze,
	})
	if err != nil {
		e.rollbackQuota(vm, ds, 1, size)
		return -1, dbErr(err)
	}

	art, err := drv.Backup(ctx, &driver.BackupRequest{VM: vm, Image: img, Disks: disks, IncrementID: 0, FsFreeze: vm.Backup.FsFreeze})
	if err != nil {
		e.removeImage(img.ID)
		e.rollbackQuota(vm, ds, 1, size)
		return -1, codeErr(code.ErrorDriver, err.Error())
	}
	consumed := e.settleQuota(vm, ds, size, art.Size)

	img.State = domain.ImageStateReady
	img.Size = art.Size
	img.Source = art.Source
	img.Increments = []domain.Increment{{ID: 0, Type: string(domain.ModeFull), Size: art.Size, Source: art.Source, Date: now.Unix()}}
	if err := e.imageRepo.Update(ctx, img); err != nil {
		e.discard(vm, ds, drv, img, consumed)
		return -1, dbErr(err)
	}

	// reload, the VM may have changed while the driver was running
	cur, err := e.vmRepo.GetByID(ctx, vm.ID)
	if err != nil {
		e.discard(vm, ds, drv, img, consumed)
		return -1, dbErr(err)
	}
	if cur == nil {
		return img.ID, nil
	}
	cfg := cur.Backup
	cfg.BackupIDs = append([]int64{img.ID}, cfg.BackupIDs...)
	if mode == domain.ModeIncrement {
		cfg.LastIncrementID = 0
		cfg.IncrementalBackupID = img.ID
	}

	var evicted []int64
	if cfg.KeepLast > 0 {
		for len(cfg.BackupIDs) > cfg.KeepLast {
			oldest := cfg.BackupIDs[len(cfg.BackupIDs)-1]
			cfg.BackupIDs = cfg.BackupIDs[:len(cfg.BackupIDs)-1]
			if oldest == cfg.IncrementalBackupID {
				cfg.ResetChain()
			}
			evicted = append(evicted, oldest)
		}
	}
	if err := e.vmRepo.UpdateBackupChain(ctx, vm.ID, cfg); err != nil {
		e.discard(vm, ds, drv, img, consumed)
		return -1, dbErr(err)
	}

	for _, id := range evicted {
		if err := e.images.Purge(ctx, id, "keep_last"); err != nil {
			e.logger.Warn("evict backup failed",
				zap.Int64(logger.FieldVMID, vm.ID), zap.Int64(logger.FieldImageID, id), zap.Error(err))
		}
	}
	return img.ID, nil
}

// increment extends the active chain image with one increment
// increment 在当前增量镜像上追加一个增量
func (e *backupExecutor) increment(ctx context.Context, vm *domain.VM, ds *domain.Datastore, drv driver.BackupDriver, img *domain.Image, disks []domain.Disk, size int64) (int64, error) {
	if err := e.quota.Commit(ctx, vm.UID, ds.ID, 0, size); err != nil {
		return -1, err
	}

	incID := img.LastIncrementID() + 1
	if next := vm.Backup.LastIncrementID + 1; next > incID {
		incID = next
	}
	prevSize, prevIncrements := img.Size, img.Increments
	img.State = domain.ImageStateLocked
	if err := e.imageRepo.Update(ctx, img); err != nil {
		e.rollbackQuota(vm, ds, 0, size)
		return -1, dbErr(err)
	}

	art, err := drv.Increment(ctx, &driver.BackupRequest{VM: vm, Image: img, Disks: disks, IncrementID: incID, FsFreeze: vm.Backup.FsFreeze})
	if err != nil {
		e.restoreImage(img, prevSize, prevIncrements)
		e.rollbackQuota(vm, ds, 0, size)
		return -1, codeErr(code.ErrorDriver, err.Error())
	}
	consumed := e.settleQuota(vm, ds, size, art.Size)

	img.State = domain.ImageStateReady
	img.Size = prevSize + art.Size
	img.Increments = append(append([]domain.Increment{}, prevIncrements...), domain.Increment{
		ID: incID, Type: string(domain.ModeIncrement), Size: art.Size, Source: art.Source, Date: e.clock.Now().Unix(),
	})
	// a dropped increment leaves its data behind, the next increment reuses the ID and overwrites it
	if err := e.imageRepo.Update(ctx, img); err != nil {
		e.restoreImage(img, prevSize, prevIncrements)
		e.rollbackQuota(vm, ds, 0, consumed)
		return -1, dbErr(err)
	}

	cur, err := e.vmRepo.GetByID(ctx, vm.ID)
	if err != nil {
		e.restoreImage(img, prevSize, prevIncrements)
		e.rollbackQuota(vm, ds, 0, consumed)
		return -1, dbErr(err)
	}
	if cur == nil {
		return img.ID, nil
	}
	cfg := cur.Backup
	cfg.LastIncrementID = incID
	cfg.IncrementalBackupID = img.ID
	if !containsID(cfg.BackupIDs, img.ID) {
		cfg.BackupIDs = append([]int64{img.ID}, cfg.BackupIDs...)
	}
	if err := e.vmRepo.UpdateBackupChain(ctx, vm.ID, cfg); err != nil {
		e.restoreImage(img, prevSize, prevIncrements)
		e.rollbackQuota(vm, ds, 0, consumed)
		return -1, dbErr(err)
	}
	return img.ID, nil
}

// settleQuota corrects the committed size to what the driver wrote and returns the size now held
// settleQuota 按驱动实际写入大小修正配额，返回当前占用的大小
func (e *backupExecutor) settleQuota(vm *domain.VM, ds *domain.Datastore, committed, written int64) int64 {
	if written == committed {
		return committed
	}
	if err := e.quota.Adjust(context.Background(), vm.UID, ds.ID, 0, written-committed); err != nil {
		e.logger.Warn("quota adjust failed", zap.Int64(logger.FieldVMID, vm.ID), zap.Error(err))
		return committed
	}
	return written
}

func (e *backupExecutor) rollbackQuota(vm *domain.VM, ds *domain.Datastore, images, size int64) {
	if err := e.quota.Release(context.Background(), vm.UID, ds.ID, images, size); err != nil {
		e.logger.Error("quota rollback failed", zap.Int64(logger.FieldVMID, vm.ID), zap.Error(err))
	}
}

func (e *backupExecutor) removeImage(id int64) {
	if err := e.imageRepo.Delete(context.Background(), id); err != nil {
		e.logger.Error("remove failed backup image", zap.Int64(logger.FieldImageID, id), zap.Error(err))
	}
}

// discard drops a full backup the driver wrote but that could not be recorded
// discard 删除驱动已写入但无法记录的全量备份，并归还配额
func (e *backupExecutor) discard(vm *domain.VM, ds *domain.Datastore, drv driver.BackupDriver, img *domain.Image, size int64) {
	if err := drv.Delete(context.Background(), img); err != nil {
		e.logger.Error("remove backup data failed", zap.Int64(logger.FieldImageID, img.ID), zap.Error(err))
	}
	e.removeImage(img.ID)
	e.rollbackQuota(vm, ds, 1, size)
}

// restoreImage puts a chain image back to its state before the increment
// restoreImage 将增量镜像恢复到追加增量前的状态
func (e *backupExecutor) restoreImage(img *domain.Image, size int64, increments []domain.Increment) {
	img.State = domain.ImageStateReady
	img.Size = size
	img.Increments = increments
	if err := e.imageRepo.Update(context.Background(), img); err != nil {
		e.logger.Error("unlock backup image", zap.Int64(logger.FieldImageID, img.ID), zap.Error(err))
	}
}

// backupImage loads a backup image with the checks shared by both restore paths
// backupImage 加载备份镜像并执行两种恢复方式共同的校验
func (e *backupExecutor) backupImage(ctx context.Context, r domain.Requester, imageID int64) (*domain.Image, driver.BackupDriver, error) {
	img, err := e.imageRepo.GetByID(ctx, imageID)
	if err != nil {
		return nil, nil, dbErr(err)
	}
	if img == nil {
		return nil, nil, code.ErrorImageNotFound
	}
	if img.Type != domain.ImageTypeBackup {
		return nil, nil, code.ErrorImageNotBackup
	}
	if !canAccessImage(r, img) {
		return nil, nil, code.ErrorPermissionDenied
	}
	if img.State != domain.ImageStateReady {
		return nil, nil, codeErr(code.ErrorImageBusy, string(img.State))
	}
	ds, err := e.dsRepo.GetByID(ctx, img.DatastoreID)
	if err != nil {
		return nil, nil, dbErr(err)
	}
	if ds == nil {
		return nil, nil, code.ErrorDatastoreNotFound
	}
	drv, err := e.drivers.For(ds)
	if err != nil {
		return nil, nil, codeErr(code.ErrorDriverNotSupported, err.Error())
	}
	return img, drv, nil
}

func (e *backupExecutor) RestoreInPlace(ctx context.Context, r domain.Requester, vmID, imageID int64, diskID, incrementID int) (err error) {
	defer func() {
		metrics.RestoreTotal.WithLabelValues("in_place", metrics.Status(err)).Inc()
	}()

	vm, err := e.vmRepo.GetByID(ctx, vmID)
	if err != nil {
		return dbErr(err)
	}
	if vm == nil {
		return code.ErrorVMNotFound
	}
	if !domain.Authorize(r, vm.UID, vm.GID, vm.Permissions, domain.AuthManage) {
		return code.ErrorPermissionDenied
	}
	img, drv, err := e.backupImage(ctx, r, imageID)
	if err != nil {
		return err
	}

	return e.queue.Execute(ctx, vmID, func(ctx context.Context) error {
		vm, err := e.vmRepo.GetByID(ctx, vmID)
		if err != nil {
			return dbErr(err)
		}
		if vm == nil {
			return code.ErrorVMNotFound
		}
		if vm.State != domain.VMStatePoweroff {
			return codeErr(code.ErrorVMInvalidState, string(vm.State))
		}
		if diskID >= 0 && !img.HasDisk(diskID) {
			return codeErr(code.ErrorInvalidDiskID, fmt.Sprintf("disk %d", diskID))
		}
		if incrementID >= 0 && !hasIncrement(img, incrementID) {
			return codeErr(code.ErrorInvalidIncrementID, fmt.Sprintf("increment %d", incrementID))
		}

		if err := drv.Restore(ctx, &driver.RestoreRequest{Image: img, DiskID: diskID, IncrementID: incrementID, TargetVMID: vmID}); err != nil {
			return codeErr(code.ErrorDriver, err.Error())
		}
		if err := e.vmRepo.UpdateSnapshots(ctx, vmID, nil, nil); err != nil {
			return dbErr(err)
		}
		e.logger.Info("backup restored in place",
			zap.Int64(logger.FieldVMID, vmID),
			zap.Int64(logger.FieldImageID, imageID),
			zap.Int("disk", diskID),
			zap.Int("increment", incrementID))
		return nil
	})
}

func hasIncrement(img *domain.Image, id int) bool {
	for _, inc := range img.Increments {
		if inc.ID == id {
			return true
		}
	}
	return false
}

func (e *backupExecutor) RestoreNewInstance(ctx context.Context, r domain.Requester, imageID int64, name string) (res *RestoreResult, err error) {
	defer func() {
		metrics.RestoreTotal.WithLabelValues("new_instance", metrics.Status(err)).Inc()
	}()

	img, drv, err := e.backupImage(ctx, r, imageID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = fmt.Sprintf("%d-restore", img.ID)
	}

	target, err := e.imageDatastore(ctx)
	if err != nil {
		return nil, err
	}
	if err := drv.Restore(ctx, &driver.RestoreRequest{Image: img, DiskID: -1, IncrementID: -1, TargetVMID: domain.NoID}); err != nil {
		return nil, codeErr(code.ErrorDriver, err.Error())
	}

	sizes := make(map[int]int64, len(img.BackupDiskIDs))
	if vm, err := e.vmRepo.GetByID(ctx, img.VMID); err == nil && vm != nil {
		for _, d := range vm.Disks {
			sizes[d.ID] = d.Size
		}
	}

	imageIDs := make([]int64, len(img.BackupDiskIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, diskID := range img.BackupDiskIDs {
		g.Go(func() error {
			imgType := domain.ImageTypeDatablock
			if i == 0 {
				imgType = domain.ImageTypeOS
			}
			size := sizes[diskID]
			if size == 0 && len(img.BackupDiskIDs) > 0 {
				size = img.Size / int64(len(img.BackupDiskIDs))
			}
			created, err := e.imageRepo.Create(gctx, &domain.Image{
				Name:          fmt.Sprintf("%s-disk-%d", name, diskID),
				UID:           r.UID,
				GID:           r.GID,
				DatastoreID:   target.ID,
				Type:          imgType,
				State:         domain.ImageStateReady,
				Size:          size,
				Source:        fmt.Sprintf("%s#disk.%d", img.Source, diskID),
				VMID:          domain.NoID,
				BackupDiskIDs: []int{},
				Increments:    []domain.Increment{},
			})
			if err != nil {
				return err
			}
			imageIDs[i] = created.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, id := range imageIDs {
			if id > 0 {
				e.removeImage(id)
			}
		}
		return nil, dbErr(err)
	}

	tpl := &domain.VMTemplate{Name: name, UID: r.UID, GID: r.GID}
	for _, id := range imageIDs {
		tpl.Disks = append(tpl.Disks, domain.TemplateDisk{ImageID: id})
	}
	tpl, err = e.tplRepo.Create(ctx, tpl)
	if err != nil {
		return nil, dbErr(err)
	}
	e.logger.Info("backup restored to new instance",
		zap.Int64(logger.FieldImageID, imageID),
		zap.Int64("templateId", tpl.ID))
	return &RestoreResult{TemplateID: tpl.ID, ImageIDs: imageIDs}, nil
}

// imageDatastore returns the first IMAGE_DS
// imageDatastore 返回第一个镜像数据存储
func (e *backupExecutor) imageDatastore(ctx context.Context) (*domain.Datastore, error) {
	list, err := e.dsRepo.List(ctx)
	if err != nil {
		return nil, dbErr(err)
	}
	for _, ds := range list {
		if ds.Type == domain.DatastoreImage {
			return ds, nil
		}
	}
	return nil, codeErr(code.ErrorDatastoreNotFound, "no IMAGE_DS available")
}
