// Package api_router 提供 HTTP API 路由处理器
package api_router

import (
	"context"
	"strconv"

	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/middleware"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	apperrors "github.com/haierkeys/vm-backup-service/pkg/errors"
	"github.com/haierkeys/vm-backup-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 基础 Handler 结构体，封装 App Container
// 所有 API Handler 都应该嵌入此结构体以获得依赖注入能力
type Handler struct {
	App *app.App
}

// NewHandler 创建基础 Handler 实例
func NewHandler(a *app.App) *Handler {
	return &Handler{App: a}
}

// logError logs server side failures, client errors are only logged at debug level
// logError 记录服务端错误，客户端错误只在 debug 级别记录
func (h *Handler) logError(ctx context.Context, method string, err error) {
	fields := []zap.Field{
		zap.String(logger.FieldMethod, method),
		zap.String(logger.FieldTraceID, middleware.GetTraceID(ctx)),
		zap.Error(err),
	}
	switch code.KindOf(err) {
	case code.KindInternal, code.KindDriver:
		h.App.Logger().Error("api request failed", fields...)
	default:
		h.App.Logger().Debug("api request rejected", fields...)
	}
}

// fail 记录错误并输出统一错误响应
func (h *Handler) fail(c *gin.Context, method string, err error) {
	h.logError(c.Request.Context(), method, err)
	apperrors.ErrorResponse(c, err)
}

// invalid 输出参数校验失败响应
func invalid(c *gin.Context, errs pkgapp.ValidErrors) {
	pkgapp.NewResponse(c).ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.ErrorsToString()).WithData(errs.MapsToString()))
}

// requester 获取当前请求者，认证中间件之后必然存在
func requester(c *gin.Context) (domain.Requester, bool) {
	r, ok := middleware.GetRequester(c)
	if !ok {
		pkgapp.NewResponse(c).ToResponse(code.ErrorNotUserAuthToken)
		return domain.Requester{}, false
	}
	return r, true
}

// paramID 解析路径参数中的对象 ID
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 0 {
		pkgapp.NewResponse(c).ToResponse(code.ErrorInvalidParams.Clone().WithDetails(name + " must be a non-negative integer"))
		return 0, false
	}
	return id, true
}

// paramInt 解析路径参数中的序号（计划任务 ID 等）
func paramInt(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id < 0 {
		pkgapp.NewResponse(c).ToResponse(code.ErrorInvalidParams.Clone().WithDetails(name + " must be a non-negative integer"))
		return 0, false
	}
	return id, true
}

// ok 输出成功响应
func ok(c *gin.Context, sc *code.Code, data interface{}) {
	resp := sc.Clone()
	if data != nil {
		resp = resp.WithData(data)
	}
	pkgapp.NewResponse(c).ToResponse(resp)
}
