// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/dao"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/driver"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/internal/service"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/serialqueue"
	"github.com/haierkeys/vm-backup-service/pkg/workerpool"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 应用容器，封装所有依赖和服务
type App struct {
	// 基础设施（注入的依赖）
	config *AppConfig
	logger *zap.Logger
	DB     *gorm.DB
	Dao    *dao.Dao

	// 并发控制组件
	workerPool  *workerpool.Pool
	serialQueue *serialqueue.Manager
	Drivers     *driver.Manager

	// Repository 层
	VMRepo          domain.VMRepository
	BackupJobRepo   domain.BackupJobRepository
	ImageRepo       domain.ImageRepository
	DatastoreRepo   domain.DatastoreRepository
	SchedActionRepo domain.SchedActionRepository
	UserRepo        domain.UserRepository
	GroupRepo       domain.GroupRepository

	// Service 层
	QuotaLedger        service.QuotaLedger
	UserService        service.UserService
	DatastoreService   service.DatastoreService
	ImageService       service.ImageService
	BackupExecutor     service.BackupExecutor
	BackupScheduler    service.BackupScheduler
	BackupJobService   service.BackupJobService
	VMService          service.VMService
	SchedActionService service.SchedActionService

	TokenManager pkgapp.TokenManager

	// StartTime 启动时间
	StartTime time.Time

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewApp 创建应用容器实例
// 初始化所有依赖并进行依赖注入，创建 oneadmin 用户并启动备份调度器
func NewApp(cfg *AppConfig, logger *zap.Logger, db *gorm.DB) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	a := &App{
		config:     cfg,
		logger:     logger,
		DB:         db,
		StartTime:  time.Now(),
		shutdownCh: make(chan struct{}),
	}

	wpConfig := cfg.GetWorkerPoolConfig()
	a.workerPool = workerpool.New(&wpConfig, logger)

	sqConfig := cfg.GetSerialQueueConfig()
	a.serialQueue = serialqueue.New(&sqConfig, logger)

	dbConfig := cfg.GetDatabaseConfig()
	a.Dao = dao.New(db, dao.WithConfig(&dbConfig), dao.WithLogger(logger))
	if err := a.Dao.Migrate(); err != nil {
		return nil, errors.Wrap(err, "database migrate")
	}

	a.TokenManager = pkgapp.NewTokenManager(pkgapp.TokenConfig{
		SecretKey: cfg.Security.AuthTokenKey,
		Expiry:    cfg.GetTokenExpiry(),
	})

	// Repository 层
	a.VMRepo = dao.NewVMRepository(a.Dao)
	a.BackupJobRepo = dao.NewBackupJobRepository(a.Dao)
	a.ImageRepo = dao.NewImageRepository(a.Dao)
	a.DatastoreRepo = dao.NewDatastoreRepository(a.Dao)
	a.SchedActionRepo = dao.NewSchedActionRepository(a.Dao)
	a.UserRepo = dao.NewUserRepository(a.Dao)
	a.GroupRepo = dao.NewGroupRepository(a.Dao)
	tplRepo := dao.NewVMTemplateRepository(a.Dao)

	svcConfig := cfg.GetServiceConfig()
	clk := clock.WallClock
	a.Drivers = driver.NewManager(svcConfig.Backup.StoragePath, logger)

	// Service 层（依赖注入），构造顺序即依赖顺序
	a.QuotaLedger = service.NewQuotaLedger(dao.NewQuotaRepository(a.Dao), a.Dao, logger)
	a.UserService = service.NewUserService(a.UserRepo, a.GroupRepo, a.QuotaLedger, a.TokenManager, logger)
	a.DatastoreService = service.NewDatastoreService(a.DatastoreRepo, a.ImageRepo, a.Drivers, logger)
	a.ImageService = service.NewImageService(a.ImageRepo, a.VMRepo, a.DatastoreRepo, a.QuotaLedger, a.Drivers, a.serialQueue, logger)
	a.BackupExecutor = service.NewBackupExecutor(a.VMRepo, a.ImageRepo, a.DatastoreRepo, tplRepo,
		a.ImageService, a.DatastoreService, a.QuotaLedger, a.Drivers, a.serialQueue, clk, svcConfig, logger)
	a.BackupScheduler = service.NewBackupScheduler(a.BackupJobRepo, a.VMRepo, a.BackupExecutor, a.workerPool, clk, svcConfig, logger)
	a.BackupJobService = service.NewBackupJobService(a.BackupJobRepo, a.VMRepo, a.DatastoreRepo, a.SchedActionRepo,
		a.UserRepo, a.GroupRepo, a.Dao, a.BackupScheduler, clk, svcConfig, logger)
	a.VMService = service.NewVMService(a.VMRepo, a.SchedActionRepo, a.BackupJobService, a.BackupExecutor, clk, logger)
	a.SchedActionService = service.NewSchedActionService(a.SchedActionRepo, a.VMRepo, a.BackupJobRepo,
		a.BackupScheduler, a.VMService, a.UserService, a.workerPool, clk, logger)

	metrics.Register(prometheus.DefaultRegisterer)

	ctx := context.Background()
	if err := a.UserService.Bootstrap(ctx, cfg.Security.AdminPassword); err != nil {
		return nil, errors.Wrap(err, "bootstrap users")
	}
	if err := a.BackupScheduler.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start backup scheduler")
	}

	logger.Info("App container initialized successfully",
		zap.Int("workerPoolMaxWorkers", wpConfig.MaxWorkers),
		zap.Int("serialQueueCapacity", sqConfig.QueueCapacity),
		zap.Int("backupMaxConcurrent", svcConfig.Backup.MaxConcurrent))

	return a, nil
}

// Close 释放数据库连接
func (a *App) Close() error {
	if a.Dao == nil {
		return nil
	}
	if err := a.Dao.Close(); err != nil {
		return errors.Wrap(err, "close database")
	}
	a.logger.Info("Database connection closed")
	return nil
}

// Config 获取应用配置
func (a *App) Config() *AppConfig {
	return a.config
}

// Logger 获取日志器
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Version 获取版本信息
func (a *App) Version() pkgapp.VersionInfo {
	return pkgapp.VersionInfo{
		Version:   Version,
		GitTag:    GitTag,
		BuildTime: BuildTime,
	}
}

// Requester 根据 Token 中的 UID 构造请求者
func (a *App) Requester(ctx context.Context, uid int64) (domain.Requester, error) {
	return a.UserService.Requester(ctx, uid)
}

// SubmitTaskAsync 异步提交任务到 Worker Pool
func (a *App) SubmitTaskAsync(ctx context.Context, task func(context.Context) error) error {
	return a.workerPool.SubmitAsync(ctx, task)
}

// WorkerPool 获取 Worker Pool
func (a *App) WorkerPool() *workerpool.Pool {
	return a.workerPool
}

// IsProductionMode 是否为生产模式
func (a *App) IsProductionMode() bool {
	return a.config.Log.Production
}

// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

// Shutdown 优雅关闭应用容器
// 按顺序关闭：Backup Scheduler -> Worker Pool -> Serial Queue -> 后台操作 -> Database
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("App container shutting down...")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
	}

	select {
	case <-a.shutdownCh:
		return nil
	default:
		close(a.shutdownCh)
	}

	var err error

	// 1. 停止派发新的备份，正在执行的备份完成后返回
	if a.BackupScheduler != nil {
		if serr := a.BackupScheduler.Shutdown(ctx); serr != nil {
			a.logger.Warn("Backup scheduler shutdown error", zap.Error(serr))
			err = multierr.Append(err, errors.Wrap(serr, "backup scheduler shutdown"))
		}
	}

	// 2. 关闭 Worker Pool（停止接受新任务，等待现有任务完成）
	if a.workerPool != nil {
		if perr := a.workerPool.Shutdown(ctx); perr != nil {
			a.logger.Warn("Worker pool shutdown error", zap.Error(perr))
			err = multierr.Append(err, errors.Wrap(perr, "worker pool shutdown"))
		}
	}

	// 3. 排空虚拟机串行队列
	if a.serialQueue != nil {
		if qerr := a.serialQueue.Shutdown(ctx); qerr != nil {
			a.logger.Warn("Serial queue shutdown error", zap.Error(qerr))
			err = multierr.Append(err, errors.Wrap(qerr, "serial queue shutdown"))
		}
	}

	// 4. 等待所有后台操作完成
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout waiting for background operations")
		err = multierr.Append(err, errors.Wrap(ctx.Err(), "background operations timeout"))
	}

	// 5. 关闭数据库连接
	err = multierr.Append(err, a.Close())

	if err != nil {
		a.logger.Warn("App container shutdown completed with errors",
			zap.Int("errorCount", len(multierr.Errors(err))))
		return err
	}
	a.logger.Info("App container shutdown completed successfully")
	return nil
}

// IsShuttingDown 检查应用是否正在关闭
func (a *App) IsShuttingDown() bool {
	select {
	case <-a.shutdownCh:
		return true
	default:
		return false
	}
}

// TrackOperation 跟踪后台操作（用于优雅关闭时等待）
// 返回一个函数，在操作完成时调用
func (a *App) TrackOperation() func() {
	a.wg.Add(1)
	return func() {
		a.wg.Done()
	}
}
