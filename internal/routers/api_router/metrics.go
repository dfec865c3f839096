package api_router

import (
	"expvar"
	"fmt"

	"github.com/gin-gonic/gin"
)

// Expvar writes every published expvar variable as one JSON object
// Expvar 以 JSON 对象输出所有 expvar 变量
func Expvar(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	first := true
	fmt.Fprintf(c.Writer, "{\n")
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(c.Writer, ",\n")
		}
		first = false
		// expvar.Var.String() is valid JSON for every exported type
		fmt.Fprintf(c.Writer, "%q: %s", kv.Key, kv.Value.String())
	})
	fmt.Fprintf(c.Writer, "\n}\n")
}
