package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// datastoreRepository 实现 domain.DatastoreRepository 接口
type datastoreRepository struct {
	dao *Dao
}

// NewDatastoreRepository 创建 DatastoreRepository 实例
func NewDatastoreRepository(dao *Dao) domain.DatastoreRepository {
	return &datastoreRepository{dao: dao}
}

func (r *datastoreRepository) toDomain(m *model.Datastore) *domain.Datastore {
	attrs := m.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &domain.Datastore{
		ID:            m.ID,
		Name:          m.Name,
		UID:           m.UID,
		GID:           m.GID,
		Type:          domain.DatastoreType(m.Type),
		DSMad:         m.DSMad,
		LimitMB:       m.LimitMB,
		CapacityCheck: m.CapacityCheck,
		Attributes:    attrs,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// Create 创建数据存储
func (r *datastoreRepository) Create(ctx context.Context, ds *domain.Datastore) (*domain.Datastore, error) {
	m := &model.Datastore{
		Name:          ds.Name,
		UID:           ds.UID,
		GID:           ds.GID,
		Type:          string(ds.Type),
		DSMad:         ds.DSMad,
		LimitMB:       ds.LimitMB,
		CapacityCheck: ds.CapacityCheck,
		Attributes:    ds.Attributes,
	}
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// GetByID 根据ID获取数据存储
func (r *datastoreRepository) GetByID(ctx context.Context, id int64) (*domain.Datastore, error) {
	var m model.Datastore
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部数据存储
func (r *datastoreRepository) List(ctx context.Context) ([]*domain.Datastore, error) {
	var ms []*model.Datastore
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Datastore, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// Delete 删除数据存储
func (r *datastoreRepository) Delete(ctx context.Context, id int64) error {
	return r.dao.conn(ctx).Where("id = ?", id).Delete(&model.Datastore{}).Error
}

var _ domain.DatastoreRepository = (*datastoreRepository)(nil)
