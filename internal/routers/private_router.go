package routers

import (
	"net/http/pprof"

	"github.com/haierkeys/vm-backup-service/internal/middleware"
	"github.com/haierkeys/vm-backup-service/internal/routers/api_router"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PprofPrefix pprof 路由前缀，仅 debug 模式注册
const PprofPrefix = "/debug/pprof"

// runtimeProfiles are served by pprof.Handler under PprofPrefix
var runtimeProfiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

// NewPrivateRouterWithLogger serves Prometheus metrics and expvar, plus pprof in debug mode.
// An empty privateToken leaves the listener unauthenticated.
// NewPrivateRouterWithLogger 私有端口路由：metrics、expvar，debug 模式下附加 pprof；privateToken 为空时不校验
func NewPrivateRouterWithLogger(runMode string, logger *zap.Logger, privateToken string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RecoveryWithLogger(logger))
	if privateToken != "" {
		r.Use(middleware.SimpleAuthTokenWithConfig(privateToken))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/debug/vars", api_router.Expvar)

	if runMode != gin.DebugMode {
		return r
	}

	p := r.Group(PprofPrefix)
	p.GET("/", gin.WrapF(pprof.Index))
	p.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	p.GET("/profile", gin.WrapF(pprof.Profile))
	p.Match([]string{"GET", "POST"}, "/symbol", gin.WrapF(pprof.Symbol))
	p.GET("/trace", gin.WrapF(pprof.Trace))
	for _, name := range runtimeProfiles {
		p.GET("/"+name, gin.WrapH(pprof.Handler(name)))
	}

	logger.Info("pprof enabled on private listener", zap.String("prefix", PprofPrefix))
	return r
}
