package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// imageRepository 实现 domain.ImageRepository 接口
type imageRepository struct {
	dao *Dao
}

// NewImageRepository 创建 ImageRepository 实例
func NewImageRepository(dao *Dao) domain.ImageRepository {
	return &imageRepository{dao: dao}
}

func (r *imageRepository) toDomain(m *model.Image) *domain.Image {
	img := &domain.Image{
		ID:            m.ID,
		Name:          m.Name,
		UID:           m.UID,
		GID:           m.GID,
		DatastoreID:   m.DatastoreID,
		Type:          domain.ImageType(m.Type),
		State:         domain.ImageState(m.State),
		Size:          m.Size,
		Source:        m.Source,
		VMID:          m.VMID,
		BackupDiskIDs: nonNil(m.BackupDiskIDs),
		Mode:          domain.BackupMode(m.Mode),
		FsFreeze:      domain.FsFreeze(m.FsFreeze),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, inc := range m.Increments {
		img.Increments = append(img.Increments, domain.Increment(inc))
	}
	return img
}

func (r *imageRepository) toModel(img *domain.Image) *model.Image {
	m := &model.Image{
		ID:            img.ID,
		Name:          img.Name,
		UID:           img.UID,
		GID:           img.GID,
		DatastoreID:   img.DatastoreID,
		Type:          string(img.Type),
		State:         string(img.State),
		Size:          img.Size,
		Source:        img.Source,
		VMID:          img.VMID,
		BackupDiskIDs: nonNil(img.BackupDiskIDs),
		Increments:    []model.Increment{},
		Mode:          string(img.Mode),
		FsFreeze:      string(img.FsFreeze),
		CreatedAt:     img.CreatedAt,
		UpdatedAt:     img.UpdatedAt,
	}
	for _, inc := range img.Increments {
		m.Increments = append(m.Increments, model.Increment(inc))
	}
	return m
}

// Create 创建镜像
func (r *imageRepository) Create(ctx context.Context, img *domain.Image) (*domain.Image, error) {
	m := r.toModel(img)
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// Update 保存镜像
func (r *imageRepository) Update(ctx context.Context, img *domain.Image) error {
	m := r.toModel(img)
	return r.dao.conn(ctx).Model(m).Select("*").Omit("created_at").Updates(m).Error
}

// GetByID 根据ID获取镜像
func (r *imageRepository) GetByID(ctx context.Context, id int64) (*domain.Image, error) {
	var m model.Image
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部镜像
func (r *imageRepository) List(ctx context.Context) ([]*domain.Image, error) {
	var ms []*model.Image
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Image, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// Delete 删除镜像
func (r *imageRepository) Delete(ctx context.Context, id int64) error {
	return r.dao.conn(ctx).Where("id = ?", id).Delete(&model.Image{}).Error
}

// CountByDatastore 统计数据存储中的镜像数量
func (r *imageRepository) CountByDatastore(ctx context.Context, datastoreID int64) (int64, error) {
	var n int64
	err := r.dao.conn(ctx).Model(&model.Image{}).Where("datastore_id = ?", datastoreID).Count(&n).Error
	return n, err
}

// SumSizeByDatastore 统计数据存储中的镜像大小（MB）
func (r *imageRepository) SumSizeByDatastore(ctx context.Context, datastoreID int64) (int64, error) {
	var sum struct{ Total int64 }
	err := r.dao.conn(ctx).Model(&model.Image{}).Select("COALESCE(SUM(size), 0) AS total").
		Where("datastore_id = ?", datastoreID).Scan(&sum).Error
	return sum.Total, err
}

var _ domain.ImageRepository = (*imageRepository)(nil)
