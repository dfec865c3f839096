package middleware

import (
	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
)

// translatorNames maps response languages to validator translator locales
var translatorNames = map[string]string{
	code.LangEN: "en",
	code.LangZH: "zh",
}

// LangWithTranslator picks the response language from ?lang, the lang header or Accept-Language
// and stores it with the matching validation translator
// LangWithTranslator 按 ?lang、lang 请求头或 Accept-Language 选择响应语言，并注入对应的校验翻译器
func LangWithTranslator(uni *ut.UniversalTranslator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exist := c.GetQuery("lang")
		if !exist {
			raw = c.GetHeader("lang")
		}
		if raw == "" {
			raw = c.GetHeader("Accept-Language")
		}

		language := code.NormalizeLang(raw)
		c.Set(app.LangKey, language)

		if uni != nil {
			trans, found := uni.GetTranslator(translatorNames[language])
			if !found {
				trans, _ = uni.GetTranslator("en")
			}
			c.Set("trans", trans)
		}

		c.Next()
	}
}
