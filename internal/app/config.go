// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/dao"
	"github.com/haierkeys/vm-backup-service/internal/service"
	"github.com/haierkeys/vm-backup-service/pkg/serialqueue"
	"github.com/haierkeys/vm-backup-service/pkg/util"
	"github.com/haierkeys/vm-backup-service/pkg/workerpool"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置
type AppConfig struct {
	File      string          `yaml:"-"` // 配置文件路径，不序列化
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	App       AppSettings     `yaml:"app"`
	Security  SecurityConfig  `yaml:"security"`
	Backup    BackupConfig    `yaml:"backup"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别，参见 zapcore.ParseLevel
	Level string `yaml:"level" default:"warn"`
	// File 日志文件路径，默认为 stderr
	File string `yaml:"file" default:"storage/logs/log.log"`
	// Production 是否启用 JSON 输出
	Production bool `yaml:"production" default:"true"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// RunMode 运行模式
	RunMode string `yaml:"run-mode" default:"release"`
	// HttpPort HTTP 端口
	HttpPort string `yaml:"http-port" default:":9100"`
	// ReadTimeout 读取超时（秒）
	ReadTimeout int `yaml:"read-timeout" default:"60"`
	// WriteTimeout 写入超时（秒）
	WriteTimeout int `yaml:"write-timeout" default:"60"`
	// PrivateHttpListen 私有 HTTP 监听地址，提供 metrics 与 pprof
	PrivateHttpListen string `yaml:"private-http-listen" default:":9101"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AuthTokenKey string `yaml:"auth-token-key" default:"vm-backup-Auth-Token"`
	TokenExpiry  string `yaml:"token-expiry" default:"7d"` // 支持格式：7d（天）、24h（小时）、30m（分钟）
	// AdminPassword 首次启动时创建的 oneadmin 用户密码
	AdminPassword string `yaml:"admin-password" default:"oneadmin"`
	// LoginRate 每秒允许的登录请求数
	LoginRate int64 `yaml:"login-rate" default:"10"`
	// PrivateToken 私有端口（metrics、pprof）访问令牌，为空时不校验
	PrivateToken string `yaml:"private-token"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Type 数据库类型：sqlite、mysql、postgres
	Type string `yaml:"type" default:"sqlite"`
	// Path SQLite 数据库文件路径
	Path string `yaml:"path" default:"storage/database/vmbackup.sqlite3"`
	// UserName 用户名
	UserName string `yaml:"username"`
	// Password 密码
	Password string `yaml:"password"`
	// Host 主机
	Host string `yaml:"host"`
	// Port 端口，0 使用驱动默认值
	Port int `yaml:"port"`
	// Name 数据库名
	Name string `yaml:"name"`
	// TablePrefix 表前缀
	TablePrefix string `yaml:"table-prefix"`
	// AutoMigrate 是否启用自动迁移
	AutoMigrate bool `yaml:"auto-migrate" default:"true"`
	// Charset 字符集
	Charset string `yaml:"charset"`
	// ParseTime 是否解析时间
	ParseTime bool `yaml:"parse-time"`
	// MaxIdleConns 最大闲置连接数
	MaxIdleConns int `yaml:"max-idle-conns" default:"10"`
	// MaxOpenConns 最大打开连接数
	MaxOpenConns int `yaml:"max-open-conns" default:"100"`
	// ConnMaxLifetime 连接最大生命周期
	ConnMaxLifetime string `yaml:"conn-max-lifetime" default:"30m"`
	// ConnMaxIdleTime 空闲连接最大生命周期
	ConnMaxIdleTime string `yaml:"conn-max-idle-time" default:"10m"`
}

// AppSettings 应用设置
type AppSettings struct {
	// DefaultContextTimeout 默认请求上下文超时（秒），直接备份会等待执行完成
	DefaultContextTimeout int `yaml:"default-context-timeout" default:"3600"`
	// DefaultPageSize 默认页面大小
	DefaultPageSize int `yaml:"default-page-size" default:"20"`
	// MaxPageSize 最大页面大小
	MaxPageSize int `yaml:"max-page-size" default:"200"`

	// Worker Pool 配置
	WorkerPoolMaxWorkers int `yaml:"worker-pool-max-workers" default:"32"`
	WorkerPoolQueueSize  int `yaml:"worker-pool-queue-size" default:"1000"`

	// Serial Queue 配置，同一虚拟机上的操作串行执行
	SerialQueueCapacity int    `yaml:"serial-queue-capacity" default:"100"`
	SerialQueueTimeout  string `yaml:"serial-queue-timeout" default:"6h"`
	SerialQueueIdleTime string `yaml:"serial-queue-idle-time" default:"10m"`
}

// BackupConfig 备份配置
type BackupConfig struct {
	// StoragePath 本地备份数据存储根目录
	StoragePath string `yaml:"storage-path" default:"storage/backups"`
	// MaxConcurrent 同时运行的备份数量
	MaxConcurrent int `yaml:"max-concurrent" default:"4"`
	// DefaultKeepLast 任务未设置 KEEP_LAST 时的默认值，0 表示不限制
	DefaultKeepLast int `yaml:"default-keep-last" default:"0"`
	// UserMaxPriority 非管理员可设置的最高优先级
	UserMaxPriority int `yaml:"user-max-priority" default:"50"`
	// Timeout 单次备份超时，空表示不限制
	Timeout string `yaml:"timeout"`
	// OrphanCleanInterval 孤立备份镜像清理间隔
	OrphanCleanInterval string `yaml:"orphan-clean-interval" default:"10m"`
	// UsageInterval 数据存储容量采集间隔
	UsageInterval string `yaml:"usage-interval" default:"5m"`
}

// SchedulerConfig 计划任务配置
type SchedulerConfig struct {
	// Interval 到期检查间隔
	Interval string `yaml:"interval" default:"30s"`
}

// TracerConfig 请求追踪配置
type TracerConfig struct {
	// Enabled 是否启用追踪
	Enabled bool `yaml:"enabled" default:"true"`
	// Header 追踪 ID 请求头名称
	Header string `yaml:"header" default:"X-Trace-ID"`
}

// LoadConfig 从文件加载配置
// 返回配置实例和配置文件的绝对路径
func LoadConfig(f string) (*AppConfig, string, error) {
	realpath, err := filepath.Abs(f)
	if err != nil {
		return nil, "", err
	}
	realpath = filepath.Clean(realpath)

	c := new(AppConfig)
	c.File = realpath

	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "set default config failed")
	}

	file, err := os.ReadFile(realpath)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "read config file failed")
	}

	if err := yaml.Unmarshal(file, c); err != nil {
		return nil, realpath, errors.Wrap(err, "parse config file failed")
	}

	// defaults.Set 只填充零值字段，YAML 中留空的字段需要再次填充
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "re-set default config failed")
	}

	return c, realpath, nil
}

// Save 保存配置到文件
func (c *AppConfig) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}
	if err := os.WriteFile(c.File, data, 0644); err != nil {
		return errors.Wrap(err, "write config file failed")
	}
	return nil
}

// GetDatabaseConfig 转换为 DAO 层数据库配置
func (c *AppConfig) GetDatabaseConfig() dao.DatabaseConfig {
	return dao.DatabaseConfig{
		Type:            c.Database.Type,
		Path:            c.Database.Path,
		UserName:        c.Database.UserName,
		Password:        c.Database.Password,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		Name:            c.Database.Name,
		TablePrefix:     c.Database.TablePrefix,
		AutoMigrate:     c.Database.AutoMigrate,
		Charset:         c.Database.Charset,
		ParseTime:       c.Database.ParseTime,
		MaxIdleConns:    c.Database.MaxIdleConns,
		MaxOpenConns:    c.Database.MaxOpenConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		RunMode:         c.Server.RunMode,
	}
}

// GetWorkerPoolConfig 获取 Worker Pool 配置
func (c *AppConfig) GetWorkerPoolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()

	if c.App.WorkerPoolMaxWorkers > 0 {
		cfg.MaxWorkers = c.App.WorkerPoolMaxWorkers
	}
	if c.App.WorkerPoolQueueSize > 0 {
		cfg.QueueSize = c.App.WorkerPoolQueueSize
	}
	// 备份执行占用 worker，保证并发上限可以达到
	if cfg.MaxWorkers < c.Backup.MaxConcurrent+1 {
		cfg.MaxWorkers = c.Backup.MaxConcurrent + 1
	}

	return cfg
}

// GetSerialQueueConfig 获取 Serial Queue 配置
func (c *AppConfig) GetSerialQueueConfig() serialqueue.Config {
	cfg := serialqueue.DefaultConfig()

	if c.App.SerialQueueCapacity > 0 {
		cfg.QueueCapacity = c.App.SerialQueueCapacity
	}
	if timeout, err := util.ParseDuration(c.App.SerialQueueTimeout); err == nil && c.App.SerialQueueTimeout != "" {
		cfg.ExecTimeout = timeout
	}
	if idle, err := util.ParseDuration(c.App.SerialQueueIdleTime); err == nil && c.App.SerialQueueIdleTime != "" {
		cfg.IdleTimeout = idle
	}

	return cfg
}

// GetServiceConfig 提取 Service 层需要的配置
func (c *AppConfig) GetServiceConfig() *service.ServiceConfig {
	cfg := service.DefaultServiceConfig()
	cfg.Backup.StoragePath = c.Backup.StoragePath
	cfg.Backup.DefaultKeepLast = c.Backup.DefaultKeepLast
	if c.Backup.MaxConcurrent > 0 {
		cfg.Backup.MaxConcurrent = c.Backup.MaxConcurrent
	}
	if c.Backup.UserMaxPriority > 0 {
		cfg.Backup.UserMaxPriority = c.Backup.UserMaxPriority
	}
	if c.Backup.Timeout != "" {
		if d, err := util.ParseDuration(c.Backup.Timeout); err == nil {
			cfg.Backup.BackupTimeout = d
		}
	}
	cfg.Scheduler.Interval = c.GetSchedulerInterval()
	return cfg
}

// GetSchedulerInterval 获取计划任务检查间隔
func (c *AppConfig) GetSchedulerInterval() time.Duration {
	return parseDurationOr(c.Scheduler.Interval, 30*time.Second)
}

// GetOrphanCleanInterval 获取孤立备份镜像清理间隔
func (c *AppConfig) GetOrphanCleanInterval() time.Duration {
	return parseDurationOr(c.Backup.OrphanCleanInterval, 10*time.Minute)
}

// GetUsageInterval 获取数据存储容量采集间隔
func (c *AppConfig) GetUsageInterval() time.Duration {
	return parseDurationOr(c.Backup.UsageInterval, 5*time.Minute)
}

// GetTokenExpiry 获取 Token 过期时间
func (c *AppConfig) GetTokenExpiry() time.Duration {
	return parseDurationOr(c.Security.TokenExpiry, 7*24*time.Hour)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if d, err := util.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
