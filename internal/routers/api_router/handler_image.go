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

// ImageHandler image and datastore API router handler
// ImageHandler 镜像与数据存储 API 路由处理器
type ImageHandler struct {
	*Handler
}

// NewImageHandler creates ImageHandler instance
// NewImageHandler 创建 ImageHandler 实例
func NewImageHandler(a *app.App) *ImageHandler {
	return &ImageHandler{Handler: NewHandler(a)}
}

// Get @Router /api/images/{id} [get]
func (h *ImageHandler) Get(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	img, err := h.App.ImageService.Get(c.Request.Context(), r, id)
	if err != nil {
		h.fail(c, "ImageHandler.Get", err)
		return
	}
	ok(c, code.Success, dto.NewImageDTO(img))
}

// List @Router /api/images [get]
func (h *ImageHandler) List(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	images, err := h.App.ImageService.List(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "ImageHandler.List", err)
		return
	}
	pkgapp.NewResponse(c).ToResponseList(code.Success, pkgapp.Paginate(c, dto.NewImageDTOs(images)), len(images))
}

// Delete removes a backup image, breaking the incremental chain when needed
// @Router /api/images/{id} [delete]
func (h *ImageHandler) Delete(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.App.ImageService.Delete(c.Request.Context(), r, id); err != nil {
		h.fail(c, "ImageHandler.Delete", err)
		return
	}
	ok(c, code.SuccessDelete, nil)
}

// Restore creates a new VM template and disk images from a backup
// @Router /api/images/{id}/restore [post]
func (h *ImageHandler) Restore(c *gin.Context) {
	params := &dto.ImageRestoreRequest{}
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
	res, err := h.App.BackupExecutor.RestoreNewInstance(c.Request.Context(), r, id, params.Name)
	if err != nil {
		h.fail(c, "ImageHandler.Restore", err)
		return
	}
	ok(c, code.SuccessCreate, &dto.RestoreResultDTO{TemplateID: res.TemplateID, ImageIDs: res.ImageIDs})
}

// DatastoreCreate @Router /api/datastores [post]
func (h *ImageHandler) DatastoreCreate(c *gin.Context) {
	params := &dto.DatastoreCreateRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		invalid(c, errs)
		return
	}
	r, found := requester(c)
	if !found {
		return
	}
	limit := int64(-1)
	if params.LimitMB != nil {
		limit = *params.LimitMB
	}
	ds, err := h.App.DatastoreService.Create(c.Request.Context(), r, &service.DatastoreInput{
		Name:          params.Name,
		Type:          params.Type,
		DSMad:         params.DSMad,
		LimitMB:       limit,
		CapacityCheck: params.CapacityCheck,
		Attributes:    params.Attributes,
	})
	if err != nil {
		h.fail(c, "ImageHandler.DatastoreCreate", err)
		return
	}
	ok(c, code.SuccessCreate, dto.NewDatastoreDTO(ds))
}

// DatastoreGet shows a datastore, backup datastores also report free space
// @Router /api/datastores/{id} [get]
func (h *ImageHandler) DatastoreGet(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	ds, err := h.App.DatastoreService.Get(c.Request.Context(), r, id)
	if err != nil {
		h.fail(c, "ImageHandler.DatastoreGet", err)
		return
	}
	out := dto.NewDatastoreDTO(ds)
	if ds.Type == domain.DatastoreBackup {
		if free, err := h.App.DatastoreService.FreeMB(c.Request.Context(), ds); err == nil {
			out.FreeMB = &free
		} else {
			h.logError(c.Request.Context(), "ImageHandler.DatastoreGet.FreeMB", err)
		}
	}
	ok(c, code.Success, out)
}

// DatastoreList @Router /api/datastores [get]
func (h *ImageHandler) DatastoreList(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	list, err := h.App.DatastoreService.List(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "ImageHandler.DatastoreList", err)
		return
	}
	ok(c, code.Success, dto.NewDatastoreDTOs(list))
}

// DatastoreDelete @Router /api/datastores/{id} [delete]
func (h *ImageHandler) DatastoreDelete(c *gin.Context) {
	r, found := requester(c)
	if !found {
		return
	}
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.App.DatastoreService.Delete(c.Request.Context(), r, id); err != nil {
		h.fail(c, "ImageHandler.DatastoreDelete", err)
		return
	}
	ok(c, code.SuccessDelete, nil)
}
