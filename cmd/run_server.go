package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	internalApp "github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/dao"
	"github.com/haierkeys/vm-backup-service/internal/routers"
	"github.com/haierkeys/vm-backup-service/internal/task"
	pkgapp "github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/safe_close"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	validatorV10 "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// defaultSecretKeys defines the list of default secret keys to be detected
// defaultSecretKeys 定义需要检测的默认密钥列表
var defaultSecretKeys = []string{
	"vm-backup-Auth-Token",
	"",
}

// DefaultShutdownTimeout default shutdown timeout duration
// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

type Server struct {
	logger            *zap.Logger             // 日志对象
	config            *internalApp.AppConfig  // 应用配置（注入的依赖）
	db                *gorm.DB                // 数据库连接
	ut                *ut.UniversalTranslator // 翻译器
	httpServer        *http.Server
	privateHttpServer *http.Server
	sc                *safe_close.SafeClose
	app               *internalApp.App // App Container
}

// checkSecurityConfigWithConfig 检查安全配置，如果使用默认密钥则输出警告
func checkSecurityConfigWithConfig(cfg *internalApp.AppConfig, lg *zap.Logger) {
	isDefault := false
	for _, key := range defaultSecretKeys {
		if cfg.Security.AuthTokenKey == key {
			isDefault = true
			break
		}
	}

	if isDefault {
		fmt.Println()
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println("⚠️  SECURITY WARNING: Using default secret key!")
		fmt.Println()
		fmt.Println("Please modify 'security.auth-token-key' in config.yaml")
		fmt.Println("Generate a secure key with:")
		fmt.Println("  openssl rand -base64 32")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println()

		if lg != nil {
			lg.Warn("Using default secret key - please change security.auth-token-key in config.yaml")
		}
	}
	if cfg.Security.PrivateToken == "" && lg != nil {
		lg.Warn("private listener has no token, keep security.private-http-listen on a trusted address",
			zap.String("listen", cfg.Server.PrivateHttpListen))
	}
}

func NewServer(runEnv *runFlags) (*Server, error) {

	// 使用 LoadConfig 直接加载配置到 AppConfig
	appConfig, configRealpath, err := internalApp.LoadConfig(runEnv.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(runEnv.port) > 0 {
		port := runEnv.port
		if !strings.Contains(port, ":") {
			port = ":" + port
		}
		appConfig.Server.HttpPort = port
	}

	// 确定运行模式
	runMode := runEnv.runMode
	if len(runMode) <= 0 {
		runMode = appConfig.Server.RunMode
	}

	if len(runMode) > 0 {
		gin.SetMode(runMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: appConfig,
		sc:     safe_close.NewSafeClose(),
	}

	if err := initLoggerWithConfig(s, appConfig); err != nil {
		return nil, fmt.Errorf("initLogger: %w", err)
	}

	checkSecurityConfigWithConfig(appConfig, s.logger)

	if err := initStorageWithConfig(appConfig); err != nil {
		return nil, fmt.Errorf("initStorage: %w", err)
	}

	db, err := dao.NewDBEngineWithConfig(appConfig.GetDatabaseConfig(), s.logger)
	if err != nil {
		return nil, fmt.Errorf("initDatabase: %w", err)
	}
	s.db = db

	// 初始化 App Container，创建 oneadmin 用户并启动备份调度器
	app, err := internalApp.NewApp(appConfig, s.logger, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create app container: %w", err)
	}
	s.app = app

	pkgapp.DefaultPaginationConfig = pkgapp.PaginationConfig{
		DefaultPageSize: appConfig.App.DefaultPageSize,
		MaxPageSize:     appConfig.App.MaxPageSize,
	}

	uni, err := initValidatorWithLogger(s.logger)
	if err != nil {
		return nil, fmt.Errorf("initValidator: %w", err)
	}
	s.ut = uni

	// 启动计划任务、孤立镜像清理与容量采集
	if err := initScheduler(s); err != nil {
		return nil, fmt.Errorf("initScheduler: %w", err)
	}

	banner := `
 _   ____  ___   ____             __
| | / /  |/  /  / __ )____ ______/ /____  ______
| |/ / /|_/ /  / __  / __ '/ ___/ //_/ / / / __ \
|___/_/  /_/  /_/ /_/\__,_/\___/_/|_|\__,_/ .___/
                                         /_/      `
	s.logger.Warn(fmt.Sprintf("%s\n\n%s v%s\nGit: %s\nBuildTime: %s\n", banner, internalApp.Name, internalApp.Version, internalApp.GitTag, internalApp.BuildTime))

	s.logger.Warn("config loaded", zap.String("path", configRealpath))

	// 启动 HTTP API 服务器
	if httpAddr := appConfig.Server.HttpPort; len(httpAddr) > 0 {
		s.logger.Warn("api_router", zap.String("config.server.HttpPort", appConfig.Server.HttpPort))
		s.httpServer = &http.Server{
			Addr:           appConfig.Server.HttpPort,
			Handler:        routers.NewRouter(s.app, s.ut),
			ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		s.attachHTTPServer("api", s.httpServer)
	}

	if httpAddr := appConfig.Server.PrivateHttpListen; len(httpAddr) > 0 {
		s.logger.Info("api_router", zap.String("config.server.PrivateHttpListen", appConfig.Server.PrivateHttpListen))
		s.privateHttpServer = &http.Server{
			Addr:           appConfig.Server.PrivateHttpListen,
			Handler:        routers.NewPrivateRouterWithLogger(runMode, s.logger, appConfig.Security.PrivateToken),
			ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		s.attachHTTPServer("private api", s.privateHttpServer)
	}

	// 注册 App Container 的优雅关闭：停止派发、等待运行中的备份、关闭数据库
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal
		if s.app != nil {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()

			if err := s.app.Shutdown(ctx); err != nil {
				s.logger.Error("failed to shutdown app container", zap.Error(err))
			} else {
				s.logger.Info("App container shutdown gracefully")
			}
		}
		_ = s.logger.Sync()
	})

	return s, nil
}

// attachHTTPServer runs srv until the close signal, a listen error closes the whole server
// attachHTTPServer 运行 HTTP 服务直到收到关闭信号
func (s *Server) attachHTTPServer(name string, srv *http.Server) {
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.ListenAndServe()
		}()
		select {
		case err := <-errChan:
			s.logger.Error(name+" service err", zap.Error(err))
			s.sc.SendCloseSignal(err)
		case <-closeSignal:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// 停止HTTP服务器
			if err := srv.Shutdown(ctx); err != nil {
				s.logger.Error(name+" service shutdown error", zap.Error(err))
			}
		}
	})
}

func initScheduler(s *Server) error {
	manager := task.NewManager(s.logger, s.sc, s.app)

	// 注册所有任务(业务层控制)
	if err := manager.RegisterTasks(); err != nil {
		s.logger.Error("failed to register tasks", zap.Error(err))
		return err
	}

	manager.Start()
	return nil
}

// initLoggerWithConfig 初始化日志器（使用注入的配置）
func initLoggerWithConfig(s *Server, cfg *internalApp.AppConfig) error {
	lg, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Production: cfg.Log.Production,
	})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	s.logger = lg

	return nil
}

// initValidatorWithLogger initializes validator, returns UniversalTranslator
// initValidatorWithLogger 初始化验证器，返回 UniversalTranslator
func initValidatorWithLogger(lg *zap.Logger) (*ut.UniversalTranslator, error) {
	validate, ok := binding.Validator.Engine().(*validatorV10.Validate)
	if !ok {
		lg.Warn("gin validator engine is not validator/v10, messages stay untranslated")
		return nil, nil
	}

	// 校验错误使用 json 字段名
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	uni := ut.New(en.New(), en.New(), zh.New())

	zhTran, _ := uni.GetTranslator("zh")
	enTran, _ := uni.GetTranslator("en")

	if err := zh_translations.RegisterDefaultTranslations(validate, zhTran); err != nil {
		return nil, err
	}
	if err := en_translations.RegisterDefaultTranslations(validate, enTran); err != nil {
		return nil, err
	}

	return uni, nil
}

// initStorageWithConfig 初始化存储目录（日志、数据库、本地备份）
func initStorageWithConfig(cfg *internalApp.AppConfig) error {
	dirs := []string{
		cfg.Backup.StoragePath,
	}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}
	if cfg.Database.Type == "sqlite" || cfg.Database.Type == "" {
		dirs = append(dirs, filepath.Dir(cfg.Database.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0754); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetApp 获取 App Container
func (s *Server) GetApp() *internalApp.App {
	return s.app
}

// GetConfig 获取应用配置
func (s *Server) GetConfig() *internalApp.AppConfig {
	return s.config
}
