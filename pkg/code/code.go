package code

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error code so that callers can react without matching individual codes
// Kind 错误分类，调用方无需逐个匹配错误码即可处理
type Kind int

const (
	KindNone Kind = iota
	// KindValidation malformed input or unknown object
	// KindValidation 输入格式错误或对象不存在
	KindValidation
	// KindPermission insufficient ACL or ownership
	// KindPermission 权限不足
	KindPermission
	// KindConflict concurrent ownership or lock conflict
	// KindConflict 归属或锁冲突
	KindConflict
	// KindQuota quota or datastore capacity exhausted
	// KindQuota 配额或数据存储容量不足
	KindQuota
	// KindDriver backend driver failure
	// KindDriver 后端驱动失败
	KindDriver
	// KindState object in the wrong lifecycle state
	// KindState 对象生命周期状态错误
	KindState
	// KindAuth missing or invalid credentials
	// KindAuth 缺少或无效的凭据
	KindAuth
	// KindRateLimit too many requests
	// KindRateLimit 请求过多
	KindRateLimit
	// KindInternal unexpected server failure
	// KindInternal 服务器内部错误
	KindInternal
)

var kindNames = map[Kind]string{
	KindNone:       "None",
	KindValidation: "ValidationError",
	KindPermission: "PermissionError",
	KindConflict:   "ConflictError",
	KindQuota:      "QuotaExceeded",
	KindDriver:     "DriverError",
	KindState:      "StateError",
	KindAuth:       "AuthError",
	KindRateLimit:  "RateLimitError",
	KindInternal:   "InternalError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Code struct {
	// 状态码
	code int
	// 状态
	status bool
	// 错误分类
	kind Kind
	// 错误消息
	msg lang
	// 数据
	data interface{}
	// 是否含有Data
	haveData bool
	// 错误详细信息
	details []string
	// 是否含有详情
	haveDetails bool
}

var codes = map[int]string{}

func NewError(code int, kind Kind, l lang) *Code {
	if _, ok := codes[code]; ok {
		panic(fmt.Sprintf("错误码 %d 已经存在，请更换一个", code))
	}
	codes[code] = l.en

	return &Code{code: code, status: false, kind: kind, msg: l}
}

var sussCodes = map[int]string{}

func NewSuss(code int, l lang) *Code {
	if _, ok := sussCodes[code]; ok {
		panic(fmt.Sprintf("成功码 %d 已经存在，请更换一个", code))
	}
	sussCodes[code] = l.en

	return &Code{code: code, status: true, kind: KindNone, msg: l}
}

// Clone 创建一个新的 Code 副本
// Registered codes are package globals, always Clone before attaching data or details
// 注册的错误码是全局变量，附加数据或详情前必须先 Clone
func (e *Code) Clone() *Code {
	return &Code{
		code:    e.code,
		status:  e.status,
		kind:    e.kind,
		msg:     e.msg,
		details: []string{},
	}
}

func (e *Code) Error() string {
	if e.haveDetails && len(e.details) > 0 {
		msg := e.Msg()
		for _, d := range e.details {
			msg += ": " + d
		}
		return msg
	}
	return e.Msg()
}

// Is reports whether target is the same registered code
// Is 判断是否为同一个注册错误码
func (e *Code) Is(target error) bool {
	var t *Code
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

func (e *Code) Code() int {
	return e.code
}

func (e *Code) Status() bool {
	return e.status
}

func (e *Code) Kind() Kind {
	return e.kind
}

// Msg 英文消息，用于日志与 error 接口
func (e *Code) Msg() string {
	return e.msg.en
}

// MsgIn returns the message translated for a response
// MsgIn 返回指定语言的消息
func (e *Code) MsgIn(language string) string {
	return e.msg.In(language)
}

func (e *Code) Details() []string {
	return e.details
}

func (e *Code) Data() interface{} {
	return e.data
}

func (e *Code) HaveDetails() bool {
	return e.haveDetails
}

func (e *Code) HaveData() bool {
	return e.haveData
}

func (e *Code) WithData(data interface{}) *Code {
	e.haveData = true
	e.data = data
	return e
}

func (e *Code) WithDetails(details ...string) *Code {
	e.haveDetails = true
	e.details = []string{}
	e.details = append(e.details, details...)
	return e
}

// StatusCode maps the error kind to an HTTP status
// StatusCode 按错误分类映射 HTTP 状态码
func (e *Code) StatusCode() int {
	if e.status {
		return http.StatusOK
	}
	switch e.kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindConflict, KindState:
		return http.StatusConflict
	case KindQuota:
		return http.StatusUnprocessableEntity
	case KindDriver:
		return http.StatusBadGateway
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of the first *Code found in the error chain
// KindOf 返回错误链中第一个 *Code 的分类
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var c *Code
	if errors.As(err, &c) {
		return c.kind
	}
	return KindInternal
}

// From extracts a *Code from the error chain, wrapping unknown errors as internal errors
// From 从错误链中提取 *Code，未知错误包装为内部错误
func From(err error) *Code {
	var c *Code
	if errors.As(err, &c) {
		return c
	}
	return ErrorServerInternal.Clone().WithDetails(err.Error())
}
