package service

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/driver"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/serialqueue"

	"go.uber.org/zap"
)

// ImageService 镜像业务服务接口
type ImageService interface {
	Get(ctx context.Context, r domain.Requester, id int64) (*domain.Image, error)
	List(ctx context.Context, r domain.Requester) ([]*domain.Image, error)

	// Delete removes an image, for backups it also detaches it from the VM and applies the chain-break rule
	// Delete 删除镜像；备份镜像同时从虚拟机解除引用并重置增量链
	Delete(ctx context.Context, r domain.Requester, id int64) error

	// Purge removes an image already detached from its VM, callers hold the VM serial slot
	// Purge 删除已从虚拟机解除引用的镜像，调用方已占用虚拟机串行队列
	Purge(ctx context.Context, id int64, reason string) error

	// PurgeOrphans retries the removal of ERROR backup images no VM references anymore
	// PurgeOrphans 重试删除不再被虚拟机引用的 ERROR 备份镜像
	PurgeOrphans(ctx context.Context) (int, error)
}

type imageService struct {
	imageRepo domain.ImageRepository
	vmRepo    domain.VMRepository
	dsRepo    domain.DatastoreRepository
	quota     QuotaLedger
	drivers   *driver.Manager
	queue     *serialqueue.Manager
	logger    *zap.Logger
}

// NewImageService 创建 ImageService 实例
func NewImageService(
	imageRepo domain.ImageRepository,
	vmRepo domain.VMRepository,
	dsRepo domain.DatastoreRepository,
	quota QuotaLedger,
	drivers *driver.Manager,
	queue *serialqueue.Manager,
	logger *zap.Logger,
) ImageService {
	return &imageService{
		imageRepo: imageRepo,
		vmRepo:    vmRepo,
		dsRepo:    dsRepo,
		quota:     quota,
		drivers:   drivers,
		queue:     queue,
		logger:    logger,
	}
}

func canAccessImage(r domain.Requester, img *domain.Image) bool {
	return r.Admin || r.UID == img.UID
}

func (s *imageService) Get(ctx context.Context, r domain.Requester, id int64) (*domain.Image, error) {
	img, err := s.imageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, dbErr(err)
	}
	if img == nil {
		return nil, code.ErrorImageNotFound
	}
	if !canAccessImage(r, img) {
		return nil, code.ErrorPermissionDenied
	}
	return img, nil
}

func (s *imageService) List(ctx context.Context, r domain.Requester) ([]*domain.Image, error) {
	all, err := s.imageRepo.List(ctx)
	if err != nil {
		return nil, dbErr(err)
	}
	out := make([]*domain.Image, 0, len(all))
	for _, img := range all {
		if canAccessImage(r, img) {
			out = append(out, img)
		}
	}
	return out, nil
}

func (s *imageService) Delete(ctx context.Context, r domain.Requester, id int64) error {
	img, err := s.Get(ctx, r, id)
	if err != nil {
		return err
	}
	if img.State == domain.ImageStateLocked || img.State == domain.ImageStateDeleting {
		return codeErr(code.ErrorImageBusy, string(img.State))
	}
	if img.Type != domain.ImageTypeBackup || img.VMID < 0 {
		return s.remove(ctx, id, false, "user")
	}
	return s.queue.Execute(ctx, img.VMID, func(ctx context.Context) error {
		return s.remove(ctx, id, true, "user")
	})
}

func (s *imageService) Purge(ctx context.Context, id int64, reason string) error {
	return s.remove(ctx, id, false, reason)
}

func (s *imageService) PurgeOrphans(ctx context.Context) (int, error) {
	all, err := s.imageRepo.List(ctx)
	if err != nil {
		return 0, dbErr(err)
	}
	purged := 0
	for _, img := range all {
		if img.Type != domain.ImageTypeBackup || img.State != domain.ImageStateError {
			continue
		}
		vm, err := s.vmRepo.GetByID(ctx, img.VMID)
		if err != nil {
			return purged, dbErr(err)
		}
		if vm != nil && containsID(vm.Backup.BackupIDs, img.ID) {
			continue
		}
		id := img.ID
		err = s.queue.Execute(ctx, img.VMID, func(ctx context.Context) error {
			return s.remove(ctx, id, false, "orphan")
		})
		if err != nil {
			s.logger.Warn("orphan backup purge failed", zap.Int64(logger.FieldImageID, id), zap.Error(err))
			continue
		}
		purged++
	}
	return purged, nil
}

func (s *imageService) remove(ctx context.Context, id int64, detach bool, reason string) (err error) {
	defer func() {
		metrics.ImagesDeletedTotal.WithLabelValues(reason, metrics.Status(err)).Inc()
	}()

	img, err := s.imageRepo.GetByID(ctx, id)
	if err != nil {
		return dbErr(err)
	}
	if img == nil {
		return code.ErrorImageNotFound
	}
	img.State = domain.ImageStateDeleting
	if err := s.imageRepo.Update(ctx, img); err != nil {
		return dbErr(err)
	}

	if img.Type == domain.ImageTypeBackup {
		if err := s.deleteData(ctx, img); err != nil {
			img.State = domain.ImageStateError
			if uerr := s.imageRepo.Update(ctx, img); uerr != nil {
				s.logger.Error("mark image error failed", zap.Int64(logger.FieldImageID, id), zap.Error(uerr))
			}
			s.logger.Warn("backup image delete failed",
				zap.Int64(logger.FieldImageID, id), zap.String("reason", reason), zap.Error(err))
			return codeErr(code.ErrorDriver, err.Error())
		}
		if detach {
			if err := s.detach(ctx, img); err != nil {
				return err
			}
		}
		if err := s.quota.Release(ctx, img.UID, img.DatastoreID, 1, img.Size); err != nil {
			s.logger.Error("quota release failed", zap.Int64(logger.FieldImageID, id), zap.Error(err))
		}
	}

	if err := s.imageRepo.Delete(ctx, id); err != nil {
		return dbErr(err)
	}
	s.logger.Info("image deleted",
		zap.Int64(logger.FieldImageID, id),
		zap.Int64(logger.FieldVMID, img.VMID),
		zap.String("reason", reason))
	return nil
}

func (s *imageService) deleteData(ctx context.Context, img *domain.Image) error {
	ds, err := s.dsRepo.GetByID(ctx, img.DatastoreID)
	if err != nil {
		return err
	}
	if ds == nil {
		return nil
	}
	drv, err := s.drivers.For(ds)
	if err != nil {
		return err
	}
	return drv.Delete(ctx, img)
}

// detach drops the image from the VM backup list and breaks the chain when it was the active one
// detach 从虚拟机备份列表移除镜像，若为当前增量镜像则重置增量链
func (s *imageService) detach(ctx context.Context, img *domain.Image) error {
	vm, err := s.vmRepo.GetByID(ctx, img.VMID)
	if err != nil {
		return dbErr(err)
	}
	if vm == nil {
		return nil
	}
	cfg := vm.Backup
	changed := cfg.RemoveBackupID(img.ID)
	if cfg.IncrementalBackupID == img.ID {
		cfg.ResetChain()
		changed = true
	}
	if !changed {
		return nil
	}
	return dbErr(s.vmRepo.UpdateBackupChain(ctx, vm.ID, cfg))
}
