package api_router

import (
	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/dto"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// UserHandler user API router handler
// UserHandler 用户、组与配额 API 路由处理器
type UserHandler struct {
	*Handler
}

// NewUserHandler creates UserHandler instance
// NewUserHandler 创建 UserHandler 实例
func NewUserHandler(a *app.App) *UserHandler {
	return &UserHandler{Handler: NewHandler(a)}
}

// Login handles user login
// @Summary User login
// @Tags User
// @Accept json
// @Produce json
// @Param params body dto.UserLoginRequest true "Login Parameters"
// @Success 200 {object} pkgapp.Res{data=dto.LoginDTO} "Success"
// @Failure 401 {object} pkgapp.Res "Wrong user name or password"
// @Router /api/user/login [post]
func (h *UserHandler) Login(c *gin.Context) {
	params := &dto.UserLoginRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}

	token, user, err := h.App.UserService.Login(c.Request.Context(), params.Username, params.Password, pkgapp.GetRequestIP(c))
	if err != nil {
		h.fail(c, "UserHandler.Login", err)
		return
	}
	ok(c, code.SuccessLogin, &dto.LoginDTO{Token: token, User: dto.NewUserDTO(user)})
}

// Create creates a user
// @Summary Create user (admin)
// @Tags User
// @Security UserAuthToken
// @Accept json
// @Produce json
// @Param params body dto.UserCreateRequest true "User Parameters"
// @Success 200 {object} pkgapp.Res{data=dto.UserDTO} "Success"
// @Router /api/users [post]
func (h *UserHandler) Create(c *gin.Context) {
	params := &dto.UserCreateRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}

	gid := domain.NoID
	if params.GID != nil {
		gid = *params.GID
	}
	user, err := h.App.UserService.Create(c.Request.Context(), r, params.Username, params.Password, gid)
	if err != nil {
		h.fail(c, "UserHandler.Create", err)
		return
	}
	ok(c, code.SuccessCreate, dto.NewUserDTO(user))
}

// Get returns one user
// @Router /api/users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	user, err := h.App.UserService.Get(c.Request.Context(), r, id)
	if err != nil {
		h.fail(c, "UserHandler.Get", err)
		return
	}
	ok(c, code.Success, dto.NewUserDTO(user))
}

// List lists users visible to the requester
// @Router /api/users [get]
func (h *UserHandler) List(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	users, err := h.App.UserService.List(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "UserHandler.List", err)
		return
	}
	pkgapp.NewResponse(c).ToResponseList(code.Success, pkgapp.Paginate(c, dto.NewUserDTOs(users)), len(users))
}

// Chgrp changes the primary group of a user
// @Router /api/users/{id}/chgrp [put]
func (h *UserHandler) Chgrp(c *gin.Context) {
	params := &dto.UserChgrpRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.App.UserService.Chgrp(c.Request.Context(), r, id, params.GID); err != nil {
		h.fail(c, "UserHandler.Chgrp", err)
		return
	}
	ok(c, code.SuccessUpdate, nil)
}

// Quota returns the per datastore usage of a user
// @Router /api/users/{id}/quota [get]
func (h *UserHandler) Quota(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	quotas, err := h.App.UserService.Quotas(c.Request.Context(), r, id)
	if err != nil {
		h.fail(c, "UserHandler.Quota", err)
		return
	}
	ok(c, code.Success, dto.NewQuotaDTOs(quotas))
}

// SetQuota sets the limits of a user on one datastore
// @Router /api/users/{id}/quota [put]
func (h *UserHandler) SetQuota(c *gin.Context) {
	params := &dto.QuotaSetRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	err := h.App.UserService.SetQuota(c.Request.Context(), r, id, params.DatastoreID, params.ImagesLimit, params.SizeLimit)
	if err != nil {
		h.fail(c, "UserHandler.SetQuota", err)
		return
	}
	ok(c, code.SuccessUpdate, nil)
}

// CreateGroup creates a group
// @Router /api/groups [post]
func (h *UserHandler) CreateGroup(c *gin.Context) {
	params := &dto.GroupCreateRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}
	group, err := h.App.UserService.CreateGroup(c.Request.Context(), r, params.Name, params.Admin)
	if err != nil {
		h.fail(c, "UserHandler.CreateGroup", err)
		return
	}
	ok(c, code.SuccessCreate, dto.NewGroupDTOs([]*domain.Group{group})[0])
}

// ListGroups lists groups
// @Router /api/groups [get]
func (h *UserHandler) ListGroups(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	groups, err := h.App.UserService.ListGroups(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "UserHandler.ListGroups", err)
		return
	}
	ok(c, code.Success, dto.NewGroupDTOs(groups))
}
