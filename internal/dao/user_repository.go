package dao

import (
	"context"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/model"
)

// userRepository 实现 domain.UserRepository 接口
type userRepository struct {
	dao *Dao
}

// NewUserRepository 创建 UserRepository 实例
func NewUserRepository(dao *Dao) domain.UserRepository {
	return &userRepository{dao: dao}
}

// toDomain 将数据库模型转换为领域模型
func (r *userRepository) toDomain(m *model.User) *domain.User {
	return &domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Password:  m.Password,
		GID:       m.GID,
		Groups:    nonNil(m.Groups),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// toModel 将领域模型转换为数据库模型
func (r *userRepository) toModel(u *domain.User) *model.User {
	return &model.User{
		ID:        u.ID,
		Name:      u.Name,
		Password:  u.Password,
		GID:       u.GID,
		Groups:    nonNil(u.Groups),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Create 创建用户
func (r *userRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	m := r.toModel(user)
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// Update 更新用户
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	m := r.toModel(user)
	return r.dao.conn(ctx).Model(m).Select("*").Omit("created_at").Updates(m).Error
}

// GetByID 根据ID获取用户
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var m model.User
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// GetByName 根据用户名获取用户
func (r *userRepository) GetByName(ctx context.Context, name string) (*domain.User, error) {
	var m model.User
	ok, err := first(r.dao.conn(ctx).Where("name = ?", name), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部用户
func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	var ms []*model.User
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.User, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// 确保 userRepository 实现了 domain.UserRepository 接口
var _ domain.UserRepository = (*userRepository)(nil)

// groupRepository 实现 domain.GroupRepository 接口
type groupRepository struct {
	dao *Dao
}

// NewGroupRepository 创建 GroupRepository 实例
func NewGroupRepository(dao *Dao) domain.GroupRepository {
	return &groupRepository{dao: dao}
}

func (r *groupRepository) toDomain(m *model.Group) *domain.Group {
	return &domain.Group{ID: m.ID, Name: m.Name, Admin: m.Admin, CreatedAt: m.CreatedAt}
}

// Create 创建组
func (r *groupRepository) Create(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	m := &model.Group{ID: g.ID, Name: g.Name, Admin: g.Admin}
	if err := r.dao.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// GetByID 根据ID获取组
func (r *groupRepository) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	var m model.Group
	ok, err := first(r.dao.conn(ctx).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// GetByName 根据名称获取组
func (r *groupRepository) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	var m model.Group
	ok, err := first(r.dao.conn(ctx).Where("name = ?", name), &m)
	if err != nil || !ok {
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 获取全部组
func (r *groupRepository) List(ctx context.Context) ([]*domain.Group, error) {
	var ms []*model.Group
	if err := r.dao.conn(ctx).Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Group, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

var _ domain.GroupRepository = (*groupRepository)(nil)
