package app

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// ValidError 单个字段的校验错误
type ValidError struct {
	Key     string
	Message string
}

// ValidErrors 校验错误集合
type ValidErrors []*ValidError

func (v *ValidError) Error() string {
	return v.Message
}

func (v ValidErrors) Error() string {
	return strings.Join(v.Errors(), ",")
}

// Errors 返回全部错误消息
func (v ValidErrors) Errors() []string {
	var errs []string
	for _, err := range v {
		errs = append(errs, err.Error())
	}
	return errs
}

// ErrorsToString joins all messages for the response details
// ErrorsToString 拼接全部错误消息，用于响应详情
func (v ValidErrors) ErrorsToString() string {
	return strings.Join(v.Errors(), ", ")
}

// MapsToString 按字段返回错误消息，用于响应数据
func (v ValidErrors) MapsToString() map[string]string {
	out := make(map[string]string, len(v))
	for _, err := range v {
		out[err.Key] = err.Message
	}
	return out
}

// BindAndValid binds the request into v and validates it with the translator set by the lang middleware
// BindAndValid 绑定请求参数并使用语言中间件设置的翻译器校验
func BindAndValid(c *gin.Context, v interface{}) (bool, ValidErrors) {
	var errs ValidErrors
	err := c.ShouldBind(v)
	if err == nil {
		return true, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs = append(errs, &ValidError{Key: "body", Message: err.Error()})
		return false, errs
	}

	trans, ok := c.Value("trans").(ut.Translator)
	if !ok {
		for _, fe := range verrs {
			errs = append(errs, &ValidError{Key: fe.Field(), Message: fe.Error()})
		}
		return false, errs
	}

	for key, value := range verrs.Translate(trans) {
		errs = append(errs, &ValidError{Key: key, Message: value})
	}
	return false, errs
}
