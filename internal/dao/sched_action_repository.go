package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
	"gorm.io/gorm"
)

// schedActionRepository 实现 domain.SchedActionRepository 接口
type schedActionRepository struct {
	dao *Dao
}

// NewSchedActionRepository 创建 SchedActionRepository 实例
func NewSchedActionRepository(dao *Dao) domain.SchedActionRepository {
	return &schedActionRepository{dao: dao}
}

func (r *schedActionRepository) toDomain(m *model.SchedAction) *domain.SchedAction {
	return &domain.SchedAction{
		ID:         m.ActionID,
		ParentID:   m.ParentID,
		ParentType: domain.ParentType(m.ParentType),
		Action:     m.Action,
		Args:       m.Args,
		Time:       m.Time,
		Repeat:     domain.RepeatKind(m.Repeat),
		Days:       m.Days,
		EndType:    domain.EndType(m.EndType),
		EndValue:   m.EndValue,
		Warning:    m.Warning,
		Done:       m.Done,
	}
}

func (r *schedActionRepository) fill(m *model.SchedAction, sa *domain.SchedAction) {
	m.ActionID = sa.ID
	m.ParentID = sa.ParentID
	m.ParentType = string(sa.ParentType)
	m.Action = sa.Action
	m.Args = sa.Args
	m.Time = sa.Time
	m.Repeat = int(sa.Repeat)
	m.Days = sa.Days
	m.EndType = int(sa.EndType)
	m.EndValue = sa.EndValue
	m.Warning = sa.Warning
	m.Done = sa.Done
}

func (r *schedActionRepository) scope(ctx context.Context, parentType domain.ParentType, parentID int64) *gorm.DB {
	return r.dao.conn(ctx).Where("parent_type = ? AND parent_id = ?", string(parentType), parentID)
}

// Create 创建计划任务，ID 取该父对象曾分配过的最大 ID + 1
// Deleted actions are soft deleted so their IDs are never handed out again
func (r *schedActionRepository) Create(ctx context.Context, sa *domain.SchedAction) (*domain.SchedAction, error) {
	var created *domain.SchedAction
	err := r.dao.Transaction(ctx, func(ctx context.Context) error {
		var maxID struct{ Max *int }
		if err := r.scope(ctx, sa.ParentType, sa.ParentID).Unscoped().Model(&model.SchedAction{}).
			Select("MAX(action_id) AS max").Scan(&maxID).Error; err != nil {
			return err
		}
		next := 0
		if maxID.Max != nil {
			next = *maxID.Max + 1
		}
		m := &model.SchedAction{}
		r.fill(m, sa)
		m.ActionID = next
		if err := r.dao.conn(ctx).Create(m).Error; err != nil {
			return err
		}
		created = r.toDomain(m)
		return nil
	})
	return created, err
}

// Update 保存计划任务
func (r *schedActionRepository) Update(ctx context.Context, sa *domain.SchedAction) error {
	var m model.SchedAction
	ok, err := first(r.scope(ctx, sa.ParentType, sa.ParentID).Where("action_id = ?", sa.ID), &m)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.fill(&m, sa)
	return r.dao.conn(ctx).Model(&m).Select("*").Updates(&m).Error
}

// Get 获取计划任务
func (r *schedActionRepository) Get(ctx context.Context, parentType domain.ParentType, parentID int64, id int) (*domain.SchedAction, error) {
	var m model.SchedAction
	ok, err := first(r.scope(ctx, parentType, parentID).Where("action_id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// ListByParent 获取父对象的全部计划任务
func (r *schedActionRepository) ListByParent(ctx context.Context, parentType domain.ParentType, parentID int64) ([]*domain.SchedAction, error) {
	var ms []*model.SchedAction
	if err := r.scope(ctx, parentType, parentID).Order("action_id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.SchedAction, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// ListDue 获取 TIME <= now 且尚未为该 TIME 执行过的计划任务
func (r *schedActionRepository) ListDue(ctx context.Context, now int64) ([]*domain.SchedAction, error) {
	var ms []*model.SchedAction
	err := r.dao.conn(ctx).Where("time <= ? AND done < time", now).
		Order("time ASC").Order("row_id ASC").Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.SchedAction, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// Delete 删除计划任务
func (r *schedActionRepository) Delete(ctx context.Context, parentType domain.ParentType, parentID int64, id int) error {
	return r.scope(ctx, parentType, parentID).Where("action_id = ?", id).Delete(&model.SchedAction{}).Error
}

// DeleteByParent 删除父对象的全部计划任务
func (r *schedActionRepository) DeleteByParent(ctx context.Context, parentType domain.ParentType, parentID int64) error {
	return r.scope(ctx, parentType, parentID).Unscoped().Delete(&model.SchedAction{}).Error
}

var _ domain.SchedActionRepository = (*schedActionRepository)(nil)
