package api_router

import (
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/dto"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// 计划任务接口由虚拟机与备份任务共用，父对象由路由决定

func schedList(h *Handler, c *gin.Context, parent domain.ParentType) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	list, err := h.App.SchedActionService.List(c.Request.Context(), r, parent, id)
	if err != nil {
		h.fail(c, "SchedAction.List", err)
		return
	}
	ok(c, code.Success, dto.NewSchedActionDTOs(list))
}

func schedAdd(h *Handler, c *gin.Context, parent domain.ParentType) {
	params := &dto.SchedActionRequest{}
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
	sa, err := h.App.SchedActionService.Add(c.Request.Context(), r, parent, id, params.Fields)
	if err != nil {
		h.fail(c, "SchedAction.Add", err)
		return
	}
	ok(c, code.SuccessCreate, dto.NewSchedActionDTO(sa))
}

func schedUpdate(h *Handler, c *gin.Context, parent domain.ParentType) {
	params := &dto.SchedActionRequest{}
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
	sid, valid := paramInt(c, "sid")
	if !valid {
		return
	}
	sa, err := h.App.SchedActionService.Update(c.Request.Context(), r, parent, id, sid, params.Fields)
	if err != nil {
		h.fail(c, "SchedAction.Update", err)
		return
	}
	ok(c, code.SuccessUpdate, dto.NewSchedActionDTO(sa))
}

func schedDelete(h *Handler, c *gin.Context, parent domain.ParentType) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	sid, valid := paramInt(c, "sid")
	if !valid {
		return
	}
	if err := h.App.SchedActionService.Delete(c.Request.Context(), r, parent, id, sid); err != nil {
		h.fail(c, "SchedAction.Delete", err)
		return
	}
	ok(c, code.SuccessDelete, nil)
}
