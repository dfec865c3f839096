package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// vmTemplateRepository 实现 domain.VMTemplateRepository 接口
type vmTemplateRepository struct {
	dao *Dao
}

// NewVMTemplateRepository 创建 VMTemplateRepository 实例
func NewVMTemplateRepository(dao *Dao) domain.VMTemplateRepository {
	return &vmTemplateRepository{dao: dao}
}

func (r *vmTemplateRepository) toDomain(m *model.VMTemplate) *domain.VMTemplate {
	tpl := &domain.VMTemplate{ID: m.ID, Name: m.Name, UID: m.UID, GID: m.GID, CreatedAt: m.CreatedAt}
	for _, id := range m.ImageIDs {
		tpl.Disks = append(tpl.Disks, domain.TemplateDisk{ImageID: id})
	}
	return tpl
}

// Create 创建虚拟机模板
func (r *vmTemplateRepository) Create(ctx context.Context, tpl *domain.VMTemplate) (*domain.VMTemplate, error) {
	m := &model.VMTemplate{Name: tpl.Name, UID: tpl.UID, GID: tpl.GID, ImageIDs: []int64{}}
	for _, d := range tpl.Disks {
		m.ImageIDs = append(m.ImageIDs, d.ImageID)
	}
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// GetByID 根据ID获取虚拟机模板
func (r *vmTemplateRepository) GetByID(ctx context.Context, id int64) (*domain.VMTemplate, error) {
	var m model.VMTemplate
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部虚拟机模板
func (r *vmTemplateRepository) List(ctx context.Context) ([]*domain.VMTemplate, error) {
	var ms []*model.VMTemplate
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.VMTemplate, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

var _ domain.VMTemplateRepository = (*vmTemplateRepository)(nil)
