package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// quotaRepository 实现 domain.QuotaRepository 接口
type quotaRepository struct {
	dao *Dao
}

// NewQuotaRepository 创建 QuotaRepository 实例
func NewQuotaRepository(dao *Dao) domain.QuotaRepository {
	return &quotaRepository{dao: dao}
}

func (r *quotaRepository) toDomain(m *model.Quota) *domain.Quota {
	return &domain.Quota{
		UID:         m.UID,
		DatastoreID: m.DatastoreID,
		ImagesLimit: m.ImagesLimit,
		SizeLimit:   m.SizeLimit,
		ImagesUsed:  m.ImagesUsed,
		SizeUsed:    m.SizeUsed,
	}
}

// Get 获取配额，不存在时返回 nil
func (r *quotaRepository) Get(ctx context.Context, uid, datastoreID int64) (*domain.Quota, error) {
	var m model.Quota
	ok, err := first(r.dao.conn(ctx).Where("uid = ? AND datastore_id = ?", uid, datastoreID), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// Save 创建或更新配额
func (r *quotaRepository) Save(ctx context.Context, q *domain.Quota) error {
	db := r.dao.conn(ctx)
	var m model.Quota
	ok, err := first(db.Where("uid = ? AND datastore_id = ?", q.UID, q.DatastoreID), &m)
	if err != nil {
		return err
	}
	m.UID = q.UID
	m.DatastoreID = q.DatastoreID
	m.ImagesLimit = q.ImagesLimit
	m.SizeLimit = q.SizeLimit
	m.ImagesUsed = q.ImagesUsed
	m.SizeUsed = q.SizeUsed
	if !ok {
		return db.Create(&m).Error
	}
	return db.Model(&m).Select("*").Updates(&m).Error
}

// ListByUser 获取用户的全部配额
func (r *quotaRepository) ListByUser(ctx context.Context, uid int64) ([]*domain.Quota, error) {
	var ms []*model.Quota
	if err := r.dao.conn(ctx).Where("uid = ?", uid).Order("datastore_id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Quota, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

var _ domain.QuotaRepository = (*quotaRepository)(nil)
