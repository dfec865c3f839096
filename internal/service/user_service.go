package service

import (
	"context"
	"strings"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/util"

	"go.uber.org/zap"
)

const (
	// AdminGroupName 管理员组
	AdminGroupName = "oneadmin"
	// UsersGroupName 默认用户组
	UsersGroupName = "users"
	// AdminUserName 初始管理员
	AdminUserName = "oneadmin"
)

// UserService 定义用户、组与配额业务服务接口
type UserService interface {
	// Bootstrap creates the admin group, the users group and the admin user when missing
	// Bootstrap 创建缺失的管理员组、用户组与管理员用户
	Bootstrap(ctx context.Context, adminPassword string) error

	// Login 用户登录，返回 Token
	Login(ctx context.Context, name, password, clientIP string) (string, *domain.User, error)

	// Requester 由用户 ID 构建操作身份
	Requester(ctx context.Context, uid int64) (domain.Requester, error)

	Create(ctx context.Context, r domain.Requester, name, password string, gid int64) (*domain.User, error)
	Get(ctx context.Context, r domain.Requester, uid int64) (*domain.User, error)
	List(ctx context.Context, r domain.Requester) ([]*domain.User, error)

	// Chgrp 修改用户主组，原主组保留为附属组
	Chgrp(ctx context.Context, r domain.Requester, uid, gid int64) error

	CreateGroup(ctx context.Context, r domain.Requester, name string, admin bool) (*domain.Group, error)
	ListGroups(ctx context.Context, r domain.Requester) ([]*domain.Group, error)

	SetQuota(ctx context.Context, r domain.Requester, uid, datastoreID, imagesLimit, sizeLimit int64) error
	Quotas(ctx context.Context, r domain.Requester, uid int64) ([]*domain.Quota, error)
}

// userService 实现 UserService 接口
type userService struct {
	userRepo     domain.UserRepository
	groupRepo    domain.GroupRepository
	quota        QuotaLedger
	tokenManager app.TokenManager
	logger       *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(userRepo domain.UserRepository, groupRepo domain.GroupRepository, quota QuotaLedger, tokenManager app.TokenManager, logger *zap.Logger) UserService {
	return &userService{
		userRepo:     userRepo,
		groupRepo:    groupRepo,
		quota:        quota,
		tokenManager: tokenManager,
		logger:       logger,
	}
}

func (s *userService) ensureGroup(ctx context.Context, name string, admin bool) (*domain.Group, error) {
	g, err := s.groupRepo.GetByName(ctx, name)
	if err != nil {
		return nil, dbErr(err)
	}
	if g != nil {
		return g, nil
	}
	g, err = s.groupRepo.Create(ctx, &domain.Group{Name: name, Admin: admin})
	if err != nil {
		return nil, dbErr(err)
	}
	s.logger.Info("group created", zap.String("name", name), zap.Bool("admin", admin))
	return g, nil
}

func (s *userService) Bootstrap(ctx context.Context, adminPassword string) error {
	adminGroup, err := s.ensureGroup(ctx, AdminGroupName, true)
	if err != nil {
		return err
	}
	if _, err := s.ensureGroup(ctx, UsersGroupName, false); err != nil {
		return err
	}

	u, err := s.userRepo.GetByName(ctx, AdminUserName)
	if err != nil {
		return dbErr(err)
	}
	if u != nil {
		return nil
	}
	if adminPassword == "" {
		adminPassword = util.GetRandomString(16)
		s.logger.Warn("generated initial admin password, change it after the first login",
			zap.String("user", AdminUserName), zap.String("password", adminPassword))
	}
	hash, err := util.GeneratePasswordHash(adminPassword)
	if err != nil {
		return codeErr(code.ErrorServerInternal, err.Error())
	}
	_, err = s.userRepo.Create(ctx, &domain.User{
		Name:     AdminUserName,
		Password: hash,
		GID:      adminGroup.ID,
		Groups:   []int64{adminGroup.ID},
	})
	return dbErr(err)
}

func (s *userService) Login(ctx context.Context, name, password, clientIP string) (string, *domain.User, error) {
	user, err := s.userRepo.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return "", nil, dbErr(err)
	}
	// 安全考虑：不暴露用户是否存在，统一返回用户名或密码错误
	if user == nil || !util.CheckPasswordHash(user.Password, password) {
		return "", nil, code.ErrorUserLoginPasswordFailed
	}
	token, err := s.tokenManager.Generate(user.ID, user.Name, clientIP)
	if err != nil {
		return "", nil, codeErr(code.ErrorServerInternal, err.Error())
	}
	return token, user, nil
}

func (s *userService) Requester(ctx context.Context, uid int64) (domain.Requester, error) {
	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return domain.Requester{}, dbErr(err)
	}
	if user == nil {
		return domain.Requester{}, code.ErrorUserNotFound
	}
	r := domain.Requester{UID: user.ID, Name: user.Name, GID: user.GID, Groups: user.Groups}
	for _, gid := range append([]int64{user.GID}, user.Groups...) {
		g, err := s.groupRepo.GetByID(ctx, gid)
		if err != nil {
			return domain.Requester{}, dbErr(err)
		}
		if g != nil && g.Admin {
			r.Admin = true
			break
		}
	}
	return r, nil
}

func (s *userService) Create(ctx context.Context, r domain.Requester, name, password string, gid int64) (*domain.User, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return nil, codeErr(code.ErrorInvalidParams, "name and password are required")
	}
	existing, err := s.userRepo.GetByName(ctx, name)
	if err != nil {
		return nil, dbErr(err)
	}
	if existing != nil {
		return nil, code.ErrorUserAlreadyExists
	}

	var group *domain.Group
	if gid < 0 {
		group, err = s.groupRepo.GetByName(ctx, UsersGroupName)
	} else {
		group, err = s.groupRepo.GetByID(ctx, gid)
	}
	if err != nil {
		return nil, dbErr(err)
	}
	if group == nil {
		return nil, code.ErrorGroupNotFound
	}

	hash, err := util.GeneratePasswordHash(password)
	if err != nil {
		return nil, codeErr(code.ErrorInvalidParams, err.Error())
	}
	user, err := s.userRepo.Create(ctx, &domain.User{Name: name, Password: hash, GID: group.ID, Groups: []int64{group.ID}})
	if err != nil {
		return nil, dbErr(err)
	}
	s.logger.Info("user created", zap.Int64(logger.FieldUID, user.ID), zap.String("name", name))
	return user, nil
}

func (s *userService) Get(ctx context.Context, r domain.Requester, uid int64) (*domain.User, error) {
	if !r.Admin && r.UID != uid {
		return nil, code.ErrorPermissionDenied
	}
	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return nil, dbErr(err)
	}
	if user == nil {
		return nil, code.ErrorUserNotFound
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, r domain.Requester) ([]*domain.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, dbErr(err)
	}
	if r.Admin {
		return users, nil
	}
	out := make([]*domain.User, 0, 1)
	for _, u := range users {
		if u.ID == r.UID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *userService) Chgrp(ctx context.Context, r domain.Requester, uid, gid int64) error {
	if err := requireAdmin(r); err != nil {
		return err
	}
	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return dbErr(err)
	}
	if user == nil {
		return code.ErrorUserNotFound
	}
	group, err := s.groupRepo.GetByID(ctx, gid)
	if err != nil {
		return dbErr(err)
	}
	if group == nil {
		return code.ErrorGroupNotFound
	}
	user.GID = gid
	if !containsID(user.Groups, gid) {
		user.Groups = append(user.Groups, gid)
	}
	return dbErr(s.userRepo.Update(ctx, user))
}

func (s *userService) CreateGroup(ctx context.Context, r domain.Requester, name string, admin bool) (*domain.Group, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, codeErr(code.ErrorInvalidParams, "group name is required")
	}
	existing, err := s.groupRepo.GetByName(ctx, name)
	if err != nil {
		return nil, dbErr(err)
	}
	if existing != nil {
		return nil, code.ErrorGroupAlreadyExists
	}
	g, err := s.groupRepo.Create(ctx, &domain.Group{Name: name, Admin: admin})
	return g, dbErr(err)
}

func (s *userService) ListGroups(ctx context.Context, r domain.Requester) ([]*domain.Group, error) {
	groups, err := s.groupRepo.List(ctx)
	if err != nil {
		return nil, dbErr(err)
	}
	if r.Admin {
		return groups, nil
	}
	out := make([]*domain.Group, 0, len(r.Groups))
	for _, g := range groups {
		if r.InGroup(g.ID) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *userService) SetQuota(ctx context.Context, r domain.Requester, uid, datastoreID, imagesLimit, sizeLimit int64) error {
	if err := requireAdmin(r); err != nil {
		return err
	}
	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return dbErr(err)
	}
	if user == nil {
		return code.ErrorUserNotFound
	}
	return s.quota.SetLimits(ctx, uid, datastoreID, imagesLimit, sizeLimit)
}

func (s *userService) Quotas(ctx context.Context, r domain.Requester, uid int64) ([]*domain.Quota, error) {
	if !r.Admin && r.UID != uid {
		return nil, code.ErrorPermissionDenied
	}
	return s.quota.List(ctx, uid)
}
