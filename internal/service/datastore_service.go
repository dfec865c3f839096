package service

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/driver"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DatastoreInput 创建数据存储的参数
type DatastoreInput struct {
	Name          string
	Type          string
	DSMad         string
	LimitMB       int64 // -1 不限制
	CapacityCheck bool
	Attributes    map[string]string
}

// DatastoreService 数据存储业务服务接口
type DatastoreService interface {
	Create(ctx context.Context, r domain.Requester, in *DatastoreInput) (*domain.Datastore, error)
	Get(ctx context.Context, r domain.Requester, id int64) (*domain.Datastore, error)
	List(ctx context.Context, r domain.Requester) ([]*domain.Datastore, error)

	// Delete is refused while images still reference the datastore
	// Delete 数据存储中仍有镜像时拒绝删除
	Delete(ctx context.Context, r domain.Requester, id int64) error

	// FreeMB returns the free capacity in MB, -1 when unknown
	// FreeMB 返回可用容量（MB），未知时返回 -1
	FreeMB(ctx context.Context, ds *domain.Datastore) (int64, error)
}

type datastoreService struct {
	repo      domain.DatastoreRepository
	imageRepo domain.ImageRepository
	drivers   *driver.Manager
	sf        singleflight.Group
	logger    *zap.Logger
}

// NewDatastoreService 创建 DatastoreService 实例
func NewDatastoreService(repo domain.DatastoreRepository, imageRepo domain.ImageRepository, drivers *driver.Manager, logger *zap.Logger) DatastoreService {
	return &datastoreService{repo: repo, imageRepo: imageRepo, drivers: drivers, logger: logger}
}

func (s *datastoreService) Create(ctx context.Context, r domain.Requester, in *DatastoreInput) (*domain.Datastore, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, codeErr(code.ErrorInvalidParams, "datastore name is required")
	}
	dsType, err := domain.ParseDatastoreType(in.Type)
	if err != nil {
		return nil, codeErr(code.ErrorInvalidDatastoreType, err.Error())
	}
	dsMad := strings.ToLower(strings.TrimSpace(in.DSMad))
	if dsType == domain.DatastoreBackup && !s.drivers.Supports(dsMad) {
		return nil, codeErr(code.ErrorDriverNotSupported, in.DSMad)
	}
	attrs := make(map[string]string, len(in.Attributes))
	for k, v := range in.Attributes {
		attrs[strings.ToUpper(k)] = v
	}
	ds, err := s.repo.Create(ctx, &domain.Datastore{
		Name:          in.Name,
		UID:           r.UID,
		GID:           r.GID,
		Type:          dsType,
		DSMad:         dsMad,
		LimitMB:       in.LimitMB,
		CapacityCheck: in.CapacityCheck,
		Attributes:    attrs,
	})
	if err != nil {
		return nil, dbErr(err)
	}
	s.logger.Info("datastore created",
		zap.Int64(logger.FieldDatastoreID, ds.ID),
		zap.String("type", string(ds.Type)),
		zap.String(logger.FieldDriver, ds.DSMad))
	return ds, nil
}

func (s *datastoreService) Get(ctx context.Context, r domain.Requester, id int64) (*domain.Datastore, error) {
	ds, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, dbErr(err)
	}
	if ds == nil {
		return nil, code.ErrorDatastoreNotFound
	}
	return ds, nil
}

func (s *datastoreService) List(ctx context.Context, r domain.Requester) ([]*domain.Datastore, error) {
	list, err := s.repo.List(ctx)
	return list, dbErr(err)
}

func (s *datastoreService) Delete(ctx context.Context, r domain.Requester, id int64) error {
	if err := requireAdmin(r); err != nil {
		return err
	}
	ds, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return dbErr(err)
	}
	if ds == nil {
		return code.ErrorDatastoreNotFound
	}
	n, err := s.imageRepo.CountByDatastore(ctx, id)
	if err != nil {
		return dbErr(err)
	}
	if n > 0 {
		return codeErr(code.ErrorDatastoreNotEmpty, strconv.FormatInt(n, 10)+" images")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return dbErr(err)
	}
	s.drivers.Forget(id)
	return nil
}

func (s *datastoreService) FreeMB(ctx context.Context, ds *domain.Datastore) (int64, error) {
	if ds.LimitMB >= 0 {
		used, err := s.imageRepo.SumSizeByDatastore(ctx, ds.ID)
		if err != nil {
			return 0, dbErr(err)
		}
		free := ds.LimitMB - used
		if free < 0 {
			free = 0
		}
		return free, nil
	}
	if !s.drivers.IsLocal(ds) {
		return -1, nil
	}

	// concurrent backups to one datastore share a single probe
	v, err, _ := s.sf.Do(strconv.FormatInt(ds.ID, 10), func() (interface{}, error) {
		path := existingParent(s.drivers.LocalPath(ds))
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return int64(-1), err
		}
		return int64(usage.Free / (1024 * 1024)), nil
	})
	if err != nil {
		s.logger.Warn("datastore capacity probe failed",
			zap.Int64(logger.FieldDatastoreID, ds.ID), zap.Error(err))
		return -1, nil
	}
	return v.(int64), nil
}

// existingParent walks up until a directory exists, the datastore directory is created lazily
// existingParent 向上查找存在的目录
func existingParent(path string) string {
	p, err := filepath.Abs(path)
	if err != nil {
		p = path
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
