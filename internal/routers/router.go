package routers

import (
	"time"

	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/middleware"
	"github.com/haierkeys/vm-backup-service/internal/routers/api_router"
	"github.com/haierkeys/vm-backup-service/pkg/limiter"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
)

// LoginPath 登录接口路径，按此路径限流
const LoginPath = "/api/user/login"

// NewRouter creates the public API router
// NewRouter 创建对外 API 路由
func NewRouter(appContainer *app.App, uni *ut.UniversalTranslator) *gin.Engine {

	// 获取配置
	cfg := appContainer.Config()

	rate := cfg.Security.LoginRate
	if rate <= 0 {
		rate = 10
	}
	methodLimiters := limiter.NewMethodLimiter().AddBuckets(
		limiter.BucketRule{
			Key:          LoginPath,
			FillInterval: time.Second,
			Capacity:     rate,
			Quantum:      rate,
		},
	)

	r := gin.New()

	api := r.Group("/api")
	{
		api.Use(middleware.AppInfo(app.Name, appContainer.Version().Version))
		api.Use(middleware.TraceMiddleware(middleware.TracerConfig{Enabled: cfg.Tracer.Enabled, Header: cfg.Tracer.Header}))
		api.Use(middleware.RateLimiter(methodLimiters))
		api.Use(middleware.ContextTimeout(time.Duration(cfg.App.DefaultContextTimeout) * time.Second))
		api.Use(middleware.LangWithTranslator(uni))
		api.Use(middleware.AccessLogWithLogger(appContainer.Logger()))
		api.Use(middleware.RecoveryWithLogger(appContainer.Logger()))

		// 创建 Handlers（注入 App Container）
		healthHandler := api_router.NewHealthHandler(appContainer)
		userHandler := api_router.NewUserHandler(appContainer)
		jobHandler := api_router.NewBackupJobHandler(appContainer)
		vmHandler := api_router.NewVMHandler(appContainer)
		imageHandler := api_router.NewImageHandler(appContainer)

		// 无需认证
		api.GET("/health", healthHandler.Check)
		api.GET("/version", healthHandler.ServerVersion)
		api.POST("/user/login", userHandler.Login)

		auth := api.Group("", middleware.UserAuthTokenWithConfig(appContainer.TokenManager, appContainer))

		// 用户、组与配额
		auth.GET("/users", userHandler.List)
		auth.POST("/users", userHandler.Create)
		auth.GET("/users/:id", userHandler.Get)
		auth.PUT("/users/:id/chgrp", userHandler.Chgrp)
		auth.GET("/users/:id/quota", userHandler.Quota)
		auth.PUT("/users/:id/quota", userHandler.SetQuota)
		auth.GET("/groups", userHandler.ListGroups)
		auth.POST("/groups", userHandler.CreateGroup)

		// 数据存储与镜像
		auth.GET("/datastores", imageHandler.DatastoreList)
		auth.POST("/datastores", imageHandler.DatastoreCreate)
		auth.GET("/datastores/:id", imageHandler.DatastoreGet)
		auth.DELETE("/datastores/:id", imageHandler.DatastoreDelete)
		auth.GET("/images", imageHandler.List)
		auth.GET("/images/:id", imageHandler.Get)
		auth.DELETE("/images/:id", imageHandler.Delete)
		auth.POST("/images/:id/restore", imageHandler.Restore)

		// 虚拟机
		vms := auth.Group("/vms")
		{
			vms.GET("", vmHandler.List)
			vms.POST("", vmHandler.Create)
			vms.GET("/:id", vmHandler.Get)
			vms.POST("/:id/action", vmHandler.Action)
			vms.POST("/:id/snapshot", vmHandler.SnapshotCreate)
			vms.POST("/:id/disk-snapshot", vmHandler.DiskSnapshotCreate)
			vms.PUT("/:id/backup-config", vmHandler.UpdateBackupConfig)
			vms.POST("/:id/backup", vmHandler.Backup)
			vms.POST("/:id/restore", vmHandler.Restore)
			vms.GET("/:id/sched", vmHandler.SchedList)
			vms.POST("/:id/sched", vmHandler.SchedAdd)
			vms.PUT("/:id/sched/:sid", vmHandler.SchedUpdate)
			vms.DELETE("/:id/sched/:sid", vmHandler.SchedDelete)
		}

		// 备份任务
		jobs := auth.Group("/backupjobs")
		{
			jobs.GET("", jobHandler.List)
			jobs.POST("", jobHandler.Create)
			jobs.POST("/backup", jobHandler.BackupMany)
			jobs.GET("/:id", jobHandler.Get)
			jobs.PUT("/:id", jobHandler.Update)
			jobs.DELETE("/:id", jobHandler.Delete)
			jobs.PUT("/:id/rename", jobHandler.Rename)
			jobs.PUT("/:id/chown", jobHandler.Chown)
			jobs.PUT("/:id/chgrp", jobHandler.Chgrp)
			jobs.PUT("/:id/chmod", jobHandler.Chmod)
			jobs.PUT("/:id/lock", jobHandler.Lock)
			jobs.PUT("/:id/unlock", jobHandler.Unlock)
			jobs.PUT("/:id/priority", jobHandler.Priority)
			jobs.POST("/:id/backup", jobHandler.Backup)
			jobs.POST("/:id/retry", jobHandler.Retry)
			jobs.POST("/:id/cancel", jobHandler.Cancel)
			jobs.GET("/:id/sched", jobHandler.SchedList)
			jobs.POST("/:id/sched", jobHandler.SchedAdd)
			jobs.PUT("/:id/sched/:sid", jobHandler.SchedUpdate)
			jobs.DELETE("/:id/sched/:sid", jobHandler.SchedDelete)
		}
	}

	r.NoRoute(middleware.NoFound())

	return r
}
