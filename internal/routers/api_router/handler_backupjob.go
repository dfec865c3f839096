package api_router

import (
	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/dto"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// BackupJobHandler backup job API router handler
// BackupJobHandler 备份任务 API 路由处理器
type BackupJobHandler struct {
	*Handler
}

// NewBackupJobHandler creates BackupJobHandler instance
// NewBackupJobHandler 创建 BackupJobHandler 实例
func NewBackupJobHandler(a *app.App) *BackupJobHandler {
	return &BackupJobHandler{Handler: NewHandler(a)}
}

// Create allocates a backup job from a template
// @Summary Create backup job
// @Tags BackupJob
// @Security UserAuthToken
// @Accept json
// @Produce json
// @Param params body dto.BackupJobTemplateRequest true "Job template"
// @Success 200 {object} pkgapp.Res{data=dto.BackupJobDTO} "Success"
// @Failure 400 {object} pkgapp.Res "Invalid template"
// @Failure 409 {object} pkgapp.Res "VM already assigned"
// @Router /api/backupjobs [post]
func (h *BackupJobHandler) Create(c *gin.Context) {
	params := &dto.BackupJobTemplateRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}

	job, err := h.App.BackupJobService.Create(c.Request.Context(), r, params.Template)
	if err != nil {
		h.fail(c, "BackupJobHandler.Create", err)
		return
	}
	ok(c, code.SuccessCreate, dto.NewBackupJobDTO(job))
}

// Update replaces or merges the job template
// @Summary Update backup job
// @Tags BackupJob
// @Security UserAuthToken
// @Accept json
// @Produce json
// @Param id path int true "Job ID"
// @Param params body dto.BackupJobUpdateRequest true "Job template"
// @Success 200 {object} pkgapp.Res{data=dto.BackupJobDTO} "Success"
// @Router /api/backupjobs/{id} [put]
func (h *BackupJobHandler) Update(c *gin.Context) {
	params := &dto.BackupJobUpdateRequest{}
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

	job, err := h.App.BackupJobService.Update(c.Request.Context(), r, id, params.Template, params.Append)
	if err != nil {
		h.fail(c, "BackupJobHandler.Update", err)
		return
	}
	ok(c, code.SuccessUpdate, dto.NewBackupJobDTO(job))
}

// Delete removes the job, pending VMs of a running job are cancelled
// @Router /api/backupjobs/{id} [delete]
func (h *BackupJobHandler) Delete(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.App.BackupJobService.Delete(c.Request.Context(), r, id); err != nil {
		h.fail(c, "BackupJobHandler.Delete", err)
		return
	}
	ok(c, code.SuccessDelete, nil)
}

// Get shows one job with its buckets and scheduled actions
// @Router /api/backupjobs/{id} [get]
func (h *BackupJobHandler) Get(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	job, err := h.App.BackupJobService.Get(c.Request.Context(), r, id)
	if err != nil {
		h.fail(c, "BackupJobHandler.Get", err)
		return
	}
	ok(c, code.Success, dto.NewBackupJobDTO(job))
}

// List lists the jobs the requester may use
// @Router /api/backupjobs [get]
func (h *BackupJobHandler) List(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	jobs, err := h.App.BackupJobService.List(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "BackupJobHandler.List", err)
		return
	}
	pkgapp.NewResponse(c).ToResponseList(code.Success, pkgapp.Paginate(c, dto.NewBackupJobDTOs(jobs)), len(jobs))
}

// Rename @Router /api/backupjobs/{id}/rename [put]
func (h *BackupJobHandler) Rename(c *gin.Context) {
	params := &dto.BackupJobRenameRequest{}
	h.verb(c, "BackupJobHandler.Rename", params, func(r domain.Requester, id int64) error {
		return h.App.BackupJobService.Rename(c.Request.Context(), r, id, params.Name)
	})
}

// Chown @Router /api/backupjobs/{id}/chown [put]
func (h *BackupJobHandler) Chown(c *gin.Context) {
	params := &dto.BackupJobChownRequest{}
	h.verb(c, "BackupJobHandler.Chown", params, func(r domain.Requester, id int64) error {
		gid := domain.NoID
		if params.GID != nil {
			gid = *params.GID
		}
		return h.App.BackupJobService.Chown(c.Request.Context(), r, id, params.UID, gid)
	})
}

// Chgrp @Router /api/backupjobs/{id}/chgrp [put]
func (h *BackupJobHandler) Chgrp(c *gin.Context) {
	params := &dto.BackupJobChgrpRequest{}
	h.verb(c, "BackupJobHandler.Chgrp", params, func(r domain.Requester, id int64) error {
		return h.App.BackupJobService.Chgrp(c.Request.Context(), r, id, params.GID)
	})
}

// Chmod @Router /api/backupjobs/{id}/chmod [put]
func (h *BackupJobHandler) Chmod(c *gin.Context) {
	params := &dto.BackupJobChmodRequest{}
	h.verb(c, "BackupJobHandler.Chmod", params, func(r domain.Requester, id int64) error {
		return h.App.BackupJobService.Chmod(c.Request.Context(), r, id, params.Octal)
	})
}

// Lock @Router /api/backupjobs/{id}/lock [put]
func (h *BackupJobHandler) Lock(c *gin.Context) {
	params := &dto.BackupJobLockRequest{}
	h.verb(c, "BackupJobHandler.Lock", params, func(r domain.Requester, id int64) error {
		level, err := domain.ParseLockLevel(params.Level)
		if err != nil {
			return code.ErrorInvalidLockLevel.Clone().WithDetails(err.Error())
		}
		return h.App.BackupJobService.Lock(c.Request.Context(), r, id, level)
	})
}

// Unlock @Router /api/backupjobs/{id}/unlock [put]
func (h *BackupJobHandler) Unlock(c *gin.Context) {
	h.verb(c, "BackupJobHandler.Unlock", nil, func(r domain.Requester, id int64) error {
		return h.App.BackupJobService.Unlock(c.Request.Context(), r, id)
	})
}

// Priority @Router /api/backupjobs/{id}/priority [put]
func (h *BackupJobHandler) Priority(c *gin.Context) {
	params := &dto.BackupJobPriorityRequest{}
	h.verb(c, "BackupJobHandler.Priority", params, func(r domain.Requester, id int64) error {
		return h.App.BackupJobService.SetPriority(c.Request.Context(), r, id, params.Priority)
	})
}

// Backup starts one job
// @Summary Run backup job
// @Tags BackupJob
// @Security UserAuthToken
// @Produce json
// @Param id path int true "Job ID"
// @Success 200 {object} pkgapp.Res "Backup queued"
// @Failure 409 {object} pkgapp.Res "Run already in progress"
// @Router /api/backupjobs/{id}/backup [post]
func (h *BackupJobHandler) Backup(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.App.BackupScheduler.RunBackup(c.Request.Context(), r, []int64{id}); err != nil {
		h.fail(c, "BackupJobHandler.Backup", err)
		return
	}
	ok(c, code.SuccessQueued, nil)
}

// BackupMany starts several jobs in one dispatch round, ordered by priority
// @Router /api/backupjobs/backup [post]
func (h *BackupJobHandler) BackupMany(c *gin.Context) {
	params := &dto.BackupJobRunRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}
	if err := h.App.BackupScheduler.RunBackup(c.Request.Context(), r, params.IDs); err != nil {
		h.fail(c, "BackupJobHandler.BackupMany", err)
		return
	}
	ok(c, code.SuccessQueued, nil)
}

// Retry @Router /api/backupjobs/{id}/retry [post]
func (h *BackupJobHandler) Retry(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.App.BackupScheduler.Retry(c.Request.Context(), r, id); err != nil {
		h.fail(c, "BackupJobHandler.Retry", err)
		return
	}
	ok(c, code.SuccessQueued, nil)
}

// Cancel @Router /api/backupjobs/{id}/cancel [post]
func (h *BackupJobHandler) Cancel(c *gin.Context) {
	h.verb(c, "BackupJobHandler.Cancel", nil, func(r domain.Requester, id int64) error {
		return h.App.BackupScheduler.Cancel(c.Request.Context(), r, id)
	})
}

// SchedList @Router /api/backupjobs/{id}/sched [get]
func (h *BackupJobHandler) SchedList(c *gin.Context) {
	schedList(h.Handler, c, domain.ParentBackupJob)
}

// SchedAdd @Router /api/backupjobs/{id}/sched [post]
func (h *BackupJobHandler) SchedAdd(c *gin.Context) {
	schedAdd(h.Handler, c, domain.ParentBackupJob)
}

// SchedUpdate @Router /api/backupjobs/{id}/sched/{sid} [put]
func (h *BackupJobHandler) SchedUpdate(c *gin.Context) {
	schedUpdate(h.Handler, c, domain.ParentBackupJob)
}

// SchedDelete @Router /api/backupjobs/{id}/sched/{sid} [delete]
func (h *BackupJobHandler) SchedDelete(c *gin.Context) {
	schedDelete(h.Handler, c, domain.ParentBackupJob)
}

// verb binds params (when given), resolves the requester and job ID, then runs fn
// verb 绑定参数、解析请求者与任务 ID 后执行操作
func (h *BackupJobHandler) verb(c *gin.Context, method string, params interface{}, fn func(r domain.Requester, id int64) error) {
	if params != nil {
		if valid, errs := pkgapp.BindAndValid(c, params); !valid {
			invalid(c, errs)
			return
		}
	}
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := fn(r, id); err != nil {
		h.fail(c, method, err)
		return
	}
	ok(c, code.SuccessUpdate, nil)
}
