package errors

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"
)

// AppError 统一应用错误结构体
// 包含错误码、消息、详情、追踪ID和时间戳
type AppError struct {
	// Code 错误码
	Code *code.Code `json:"-"`
	// Message 错误消息
	Message string `json:"message"`
	// TraceID 请求追踪ID
	TraceID string `json:"traceId,omitempty"`
	// Cause 原始错误（不序列化到JSON）
	Cause error `json:"-"`
	// Timestamp 错误发生时间
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口，支持错误链路追踪
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配
func (e *AppError) Is(target error) bool {
	return e.Code != nil && e.Code.Is(target)
}

// NewAppError 从 Code 对象创建 AppError
func NewAppError(c *code.Code, cause error) *AppError {
	return &AppError{
		Code:      c,
		Message:   c.Msg(),
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// WithTraceID 设置 TraceID 并返回自身（链式调用）
func (e *AppError) WithTraceID(traceID string) *AppError {
	e.TraceID = traceID
	return e
}

// ErrorResponse maps any error to the unified JSON response
// The HTTP status follows the error kind, unknown errors become internal errors
// ErrorResponse 将任意错误转换为统一 JSON 响应，HTTP 状态码由错误分类决定
func ErrorResponse(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != nil {
		resp := appErr.Code.Clone()
		if appErr.Cause != nil {
			resp = resp.WithDetails(appErr.Cause.Error())
		}
		app.NewResponse(c).ToResponse(resp)
		return
	}

	app.NewResponse(c).ToResponse(code.From(err))
}

// ErrorResponseWithCode 使用指定的 Code 对象返回错误响应
func ErrorResponseWithCode(c *gin.Context, codeErr *code.Code, cause error) {
	resp := codeErr.Clone()
	if cause != nil {
		resp = resp.WithDetails(cause.Error())
	}
	app.NewResponse(c).ToResponse(resp)
}

// IsAppError 检查错误是否为 AppError 类型
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}
