// Package service implements the business logic layer
// Package service 实现业务逻辑层
package service

import "time"

// ServiceConfig service layer configuration
// ServiceConfig 服务层配置
type ServiceConfig struct {
	Backup    BackupServiceConfig    // Backup related config // 备份相关配置
	Scheduler SchedulerServiceConfig // Scheduled action config // 计划任务相关配置
}

// BackupServiceConfig backup service configuration
// BackupServiceConfig 备份服务配置
type BackupServiceConfig struct {
	DefaultKeepLast int           // KEEP_LAST used when a job does not set it, 0 keeps every backup // 任务未设置时的 KEEP_LAST，0 表示不限制
	UserMaxPriority int           // Highest priority a non admin may set // 非管理员可设置的最高优先级
	MaxConcurrent   int           // Backups running at the same time // 同时运行的备份数量
	BackupTimeout   time.Duration // Timeout of one backup execution, 0 disables it // 单次备份超时，0 表示不限制
	StoragePath     string        // Root directory of local backup datastores // 本地备份数据存储根目录
}

// SchedulerServiceConfig scheduled action configuration
// SchedulerServiceConfig 计划任务配置
type SchedulerServiceConfig struct {
	Interval time.Duration // Polling interval for due actions // 到期检查间隔
}

// DefaultServiceConfig 默认服务配置
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Backup: BackupServiceConfig{
			UserMaxPriority: 50,
			MaxConcurrent:   4,
			StoragePath:     "storage/backups",
		},
		Scheduler: SchedulerServiceConfig{Interval: 30 * time.Second},
	}
}
