package api_router

import (
	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/dto"
	"github.com/haierkeys/vm-backup-service/internal/service"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// VMHandler VM API router handler
// VMHandler 虚拟机 API 路由处理器
type VMHandler struct {
	*Handler
}

// NewVMHandler creates VMHandler instance
// NewVMHandler 创建 VMHandler 实例
func NewVMHandler(a *app.App) *VMHandler {
	return &VMHandler{Handler: NewHandler(a)}
}

// Create @Router /api/vms [post]
func (h *VMHandler) Create(c *gin.Context) {
	params := &dto.VMCreateRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}
	vm, err := h.App.VMService.Create(c.Request.Context(), r, params.Name, params.DomainDisks())
	if err != nil {
		h.fail(c, "VMHandler.Create", err)
		return
	}
	ok(c, code.SuccessCreate, dto.NewVMDTO(vm))
}

// Get shows one VM with its backup configuration and scheduled actions
// @Router /api/vms/{id} [get]
func (h *VMHandler) Get(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	vm, err := h.App.VMService.Get(c.Request.Context(), r, id)
	if err != nil {
		h.fail(c, "VMHandler.Get", err)
		return
	}
	out := dto.NewVMDTO(vm)
	sched, err := h.App.SchedActionService.List(c.Request.Context(), r, domain.ParentVM, id)
	if err != nil {
		h.fail(c, "VMHandler.Get.Sched", err)
		return
	}
	out.SchedActions = dto.NewSchedActionDTOs(sched)
	ok(c, code.Success, out)
}

// List @Router /api/vms [get]
func (h *VMHandler) List(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	vms, err := h.App.VMService.List(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "VMHandler.List", err)
		return
	}
	pkgapp.NewResponse(c).ToResponseList(code.Success, pkgapp.Paginate(c, dto.NewVMDTOs(vms)), len(vms))
}

// Action runs a lifecycle action
// @Router /api/vms/{id}/action [post]
func (h *VMHandler) Action(c *gin.Context) {
	params := &dto.VMActionRequest{}
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
	action, err := domain.ParseVMAction(params.Action)
	if err != nil {
		h.fail(c, "VMHandler.Action", code.ErrorInvalidVMAction.Clone().WithDetails(err.Error()))
		return
	}
	vm, err := h.App.VMService.Action(c.Request.Context(), r, id, action)
	if err != nil {
		h.fail(c, "VMHandler.Action", err)
		return
	}
	ok(c, code.SuccessUpdate, dto.NewVMDTO(vm))
}

// SnapshotCreate @Router /api/vms/{id}/snapshot [post]
func (h *VMHandler) SnapshotCreate(c *gin.Context) {
	params := &dto.SnapshotCreateRequest{}
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
	snap, err := h.App.VMService.SnapshotCreate(c.Request.Context(), r, id, params.Name)
	if err != nil {
		h.fail(c, "VMHandler.SnapshotCreate", err)
		return
	}
	ok(c, code.SuccessCreate, snap)
}

// DiskSnapshotCreate @Router /api/vms/{id}/disk-snapshot [post]
func (h *VMHandler) DiskSnapshotCreate(c *gin.Context) {
	params := &dto.DiskSnapshotCreateRequest{}
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
	snap, err := h.App.VMService.DiskSnapshotCreate(c.Request.Context(), r, id, params.DiskID, params.Name)
	if err != nil {
		h.fail(c, "VMHandler.DiskSnapshotCreate", err)
		return
	}
	ok(c, code.SuccessCreate, snap)
}

// UpdateBackupConfig @Router /api/vms/{id}/backup-config [put]
func (h *VMHandler) UpdateBackupConfig(c *gin.Context) {
	params := &dto.VMBackupConfigRequest{}
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
	mode, freeze, err := params.Input()
	if err != nil {
		pkgapp.NewResponse(c).ToResponse(code.ErrorInvalidParams.Clone().WithDetails(err.Error()))
		return
	}
	vm, err := h.App.VMService.UpdateBackupConfig(c.Request.Context(), r, id, &service.VMBackupConfigInput{
		Mode:           mode,
		KeepLast:       params.KeepLast,
		FsFreeze:       freeze,
		BackupVolatile: params.BackupVolatile,
	})
	if err != nil {
		h.fail(c, "VMHandler.UpdateBackupConfig", err)
		return
	}
	ok(c, code.SuccessUpdate, dto.NewVMDTO(vm))
}

// Backup runs a direct backup of a VM that is not in a backup job
// The request returns once the backup image is created
// @Router /api/vms/{id}/backup [post]
func (h *VMHandler) Backup(c *gin.Context) {
	params := &dto.VMBackupRequest{}
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

	done := h.App.TrackOperation()
	defer done()
	imageID, err := h.App.VMService.Backup(c.Request.Context(), r, id, params.DatastoreID, params.Reset)
	if err != nil {
		h.fail(c, "VMHandler.Backup", err)
		return
	}
	ok(c, code.SuccessCreate, &dto.VMBackupDTO{VMID: id, ImageID: imageID})
}

// Restore restores a backup image onto the VM disks
// @Router /api/vms/{id}/restore [post]
func (h *VMHandler) Restore(c *gin.Context) {
	params := &dto.VMRestoreRequest{}
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

	done := h.App.TrackOperation()
	defer done()
	diskID, incrementID := params.Target()
	if err := h.App.VMService.Restore(c.Request.Context(), r, id, params.ImageID, diskID, incrementID); err != nil {
		h.fail(c, "VMHandler.Restore", err)
		return
	}
	ok(c, code.SuccessUpdate, nil)
}

// SchedList @Router /api/vms/{id}/sched [get]
func (h *VMHandler) SchedList(c *gin.Context) {
	schedList(h.Handler, c, domain.ParentVM)
}

// SchedAdd @Router /api/vms/{id}/sched [post]
func (h *VMHandler) SchedAdd(c *gin.Context) {
	schedAdd(h.Handler, c, domain.ParentVM)
}

// SchedUpdate @Router /api/vms/{id}/sched/{sid} [put]
func (h *VMHandler) SchedUpdate(c *gin.Context) {
	schedUpdate(h.Handler, c, domain.ParentVM)
}

// SchedDelete @Router /api/vms/{id}/sched/{sid} [delete]
func (h *VMHandler) SchedDelete(c *gin.Context) {
	schedDelete(h.Handler, c, domain.ParentVM)
}
