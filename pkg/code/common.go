package code

var (
	Success       = NewSuss(1, lang{en: "Success", zh_cn: "成功"})
	SuccessCreate = NewSuss(2, lang{en: "Created successfully", zh_cn: "创建成功"})
	SuccessUpdate = NewSuss(3, lang{en: "Updated successfully", zh_cn: "更新成功"})
	SuccessDelete = NewSuss(4, lang{en: "Deleted successfully", zh_cn: "删除成功"})
	SuccessLogin  = NewSuss(5, lang{en: "Login successful", zh_cn: "登录成功"})
	SuccessQueued = NewSuss(6, lang{en: "Backup queued", zh_cn: "备份已加入队列"})
)

// Common 通用
var (
	ErrorServerInternal  = NewError(500, KindInternal, lang{en: "Internal server error", zh_cn: "服务器内部错误"})
	ErrorInvalidParams   = NewError(501, KindValidation, lang{en: "Invalid parameters", zh_cn: "参数错误"})
	ErrorDBQuery         = NewError(502, KindInternal, lang{en: "Database query failed", zh_cn: "数据库查询失败"})
	ErrorTooManyRequest  = NewError(503, KindRateLimit, lang{en: "Too many requests", zh_cn: "请求过多"})
	ErrorInvalidTemplate = NewError(504, KindValidation, lang{en: "Malformed template", zh_cn: "模板格式错误"})
	ErrorShuttingDown    = NewError(505, KindInternal, lang{en: "Service is shutting down", zh_cn: "服务正在关闭"})
	ErrorNotFoundAPI     = NewError(506, KindValidation, lang{en: "API route does not exist", zh_cn: "接口不存在"})
)

// Auth / users / groups 认证、用户与组
var (
	ErrorNotUserAuthToken        = NewError(1001, KindAuth, lang{en: "Authorization token missing", zh_cn: "缺少授权令牌"})
	ErrorInvalidUserAuthToken    = NewError(1002, KindAuth, lang{en: "Invalid authorization token", zh_cn: "授权令牌无效"})
	ErrorUserLoginPasswordFailed = NewError(1003, KindAuth, lang{en: "Wrong user name or password", zh_cn: "用户名或密码错误"})
	ErrorUserNotFound            = NewError(1004, KindValidation, lang{en: "User does not exist", zh_cn: "用户不存在"})
	ErrorUserAlreadyExists       = NewError(1005, KindConflict, lang{en: "User already exists", zh_cn: "用户已存在"})
	ErrorGroupNotFound           = NewError(1006, KindValidation, lang{en: "Group does not exist", zh_cn: "组不存在"})
	ErrorGroupAlreadyExists      = NewError(1007, KindConflict, lang{en: "Group already exists", zh_cn: "组已存在"})
	ErrorPermissionDenied        = NewError(1008, KindPermission, lang{en: "Not authorized to perform the operation", zh_cn: "无权执行该操作"})
	ErrorNotAdmin                = NewError(1009, KindPermission, lang{en: "Operation requires administrator rights", zh_cn: "该操作需要管理员权限"})
	ErrorGroupNotMember          = NewError(1010, KindPermission, lang{en: "User is not a member of the target group", zh_cn: "用户不是目标组成员"})
	ErrorInvalidAuthToken        = NewError(1011, KindAuth, lang{en: "Invalid private listener token", zh_cn: "私有端口令牌无效"})
	ErrorUserAuthTokenExpired    = NewError(1012, KindAuth, lang{en: "Authorization token expired, please log in again", zh_cn: "授权令牌已过期，请重新登录"})
)

// Backup jobs 备份任务
var (
	ErrorBackupJobNotFound     = NewError(2001, KindValidation, lang{en: "Backup job does not exist", zh_cn: "备份任务不存在"})
	ErrorBackupJobNameRequired = NewError(2002, KindValidation, lang{en: "Backup job name is required", zh_cn: "备份任务名称不能为空"})
	ErrorInvalidPriority       = NewError(2003, KindPermission, lang{en: "Priority above the allowed user ceiling", zh_cn: "优先级超过用户允许的上限"})
	ErrorPriorityOutOfRange    = NewError(2004, KindValidation, lang{en: "Priority must be between 0 and 99", zh_cn: "优先级必须在 0 到 99 之间"})
	ErrorInvalidBackupMode     = NewError(2005, KindValidation, lang{en: "Invalid backup mode", zh_cn: "无效的备份模式"})
	ErrorInvalidExecution      = NewError(2006, KindValidation, lang{en: "Invalid execution mode", zh_cn: "无效的执行方式"})
	ErrorInvalidFsFreeze       = NewError(2007, KindValidation, lang{en: "Invalid FS_FREEZE value", zh_cn: "无效的 FS_FREEZE 值"})
	ErrorInvalidKeepLast       = NewError(2008, KindValidation, lang{en: "Invalid KEEP_LAST value", zh_cn: "无效的 KEEP_LAST 值"})
	ErrorInvalidBackupVMs      = NewError(2009, KindValidation, lang{en: "Invalid BACKUP_VMS list", zh_cn: "无效的 BACKUP_VMS 列表"})
	ErrorVMAlreadyAssigned     = NewError(2010, KindConflict, lang{en: "VM already belongs to another backup job", zh_cn: "虚拟机已属于其他备份任务"})
	ErrorBackupJobLocked       = NewError(2011, KindConflict, lang{en: "Backup job is locked", zh_cn: "备份任务已锁定"})
	ErrorBackupJobRunning      = NewError(2012, KindConflict, lang{en: "Backup job already has a run in progress", zh_cn: "备份任务正在运行"})
	ErrorBackupJobNoDatastore  = NewError(2013, KindValidation, lang{en: "Backup job has no datastore", zh_cn: "备份任务未设置数据存储"})
	ErrorInvalidLockLevel      = NewError(2014, KindValidation, lang{en: "Invalid lock level", zh_cn: "无效的锁级别"})
	ErrorInvalidPermissions    = NewError(2015, KindValidation, lang{en: "Invalid permission octet", zh_cn: "无效的权限八进制值"})
	ErrorInvalidDatastoreID    = NewError(2016, KindValidation, lang{en: "Invalid DATASTORE_ID", zh_cn: "无效的 DATASTORE_ID"})
)

// VMs 虚拟机
var (
	ErrorVMNotFound            = NewError(3001, KindValidation, lang{en: "VM does not exist", zh_cn: "虚拟机不存在"})
	ErrorVMDone                = NewError(3002, KindState, lang{en: "VM is in DONE state", zh_cn: "虚拟机已处于 DONE 状态"})
	ErrorVMInvalidState        = NewError(3003, KindState, lang{en: "Operation not allowed in the current VM state", zh_cn: "当前虚拟机状态不允许该操作"})
	ErrorVMInBackupJob         = NewError(3004, KindConflict, lang{en: "VM is managed by a backup job", zh_cn: "虚拟机由备份任务管理"})
	ErrorSnapshotWithIncrement = NewError(3005, KindState, lang{en: "Snapshots are not allowed with incremental backups", zh_cn: "增量备份模式下不允许快照"})
	ErrorIncrementWithSnapshot = NewError(3006, KindState, lang{en: "Incremental backups are not allowed while snapshots exist", zh_cn: "存在快照时不允许增量备份"})
	ErrorInvalidVMAction       = NewError(3007, KindValidation, lang{en: "Unknown VM action", zh_cn: "未知的虚拟机操作"})
	ErrorVMTemplateNotFound    = NewError(3008, KindValidation, lang{en: "VM template does not exist", zh_cn: "虚拟机模板不存在"})
	ErrorVMDiskNotFound        = NewError(3009, KindValidation, lang{en: "VM disk does not exist", zh_cn: "虚拟机磁盘不存在"})
)

// Datastores / images / quotas 数据存储、镜像与配额
var (
	ErrorDatastoreNotFound    = NewError(4001, KindValidation, lang{en: "Datastore does not exist", zh_cn: "数据存储不存在"})
	ErrorDatastoreNotBackup   = NewError(4002, KindValidation, lang{en: "Datastore is not a backup datastore", zh_cn: "数据存储不是备份类型"})
	ErrorDatastoreNotEmpty    = NewError(4003, KindConflict, lang{en: "Datastore still holds images", zh_cn: "数据存储中仍有镜像"})
	ErrorDatastoreCapacity    = NewError(4004, KindQuota, lang{en: "Not enough space in datastore", zh_cn: "数据存储空间不足"})
	ErrorInvalidDatastoreType = NewError(4005, KindValidation, lang{en: "Invalid datastore type", zh_cn: "无效的数据存储类型"})
	ErrorQuotaExceeded        = NewError(4006, KindQuota, lang{en: "Quota exceeded", zh_cn: "超出配额"})
	ErrorImageNotFound        = NewError(4007, KindValidation, lang{en: "Image does not exist", zh_cn: "镜像不存在"})
	ErrorImageNotBackup       = NewError(4008, KindValidation, lang{en: "Image is not a backup image", zh_cn: "镜像不是备份类型"})
	ErrorInvalidDiskID        = NewError(4009, KindValidation, lang{en: "Disk is not part of the backup", zh_cn: "磁盘不在备份中"})
	ErrorInvalidIncrementID   = NewError(4010, KindValidation, lang{en: "Increment does not exist in the backup", zh_cn: "备份中不存在该增量"})
	ErrorDriver               = NewError(4011, KindDriver, lang{en: "Backup driver failure", zh_cn: "备份驱动失败"})
	ErrorDriverNotSupported   = NewError(4012, KindValidation, lang{en: "Unsupported datastore driver", zh_cn: "不支持的数据存储驱动"})
	ErrorImageBusy            = NewError(4013, KindState, lang{en: "Image is not in a deletable state", zh_cn: "镜像当前状态不可删除"})
)

// Scheduled actions 计划任务
var (
	ErrorSchedActionNotFound  = NewError(5001, KindValidation, lang{en: "Scheduled action does not exist", zh_cn: "计划任务不存在"})
	ErrorSchedInvalidTime     = NewError(5002, KindValidation, lang{en: "Invalid TIME for scheduled action", zh_cn: "计划任务 TIME 无效"})
	ErrorSchedInvalidRepeat   = NewError(5003, KindValidation, lang{en: "Invalid REPEAT for scheduled action", zh_cn: "计划任务 REPEAT 无效"})
	ErrorSchedInvalidDays     = NewError(5004, KindValidation, lang{en: "Invalid DAYS for scheduled action", zh_cn: "计划任务 DAYS 无效"})
	ErrorSchedInvalidEndType  = NewError(5005, KindValidation, lang{en: "Invalid END_TYPE for scheduled action", zh_cn: "计划任务 END_TYPE 无效"})
	ErrorSchedInvalidEndValue = NewError(5006, KindValidation, lang{en: "Invalid END_VALUE for scheduled action", zh_cn: "计划任务 END_VALUE 无效"})
	ErrorSchedInvalidWarning  = NewError(5007, KindValidation, lang{en: "Invalid WARNING for scheduled action", zh_cn: "计划任务 WARNING 无效"})
	ErrorSchedInvalidAction   = NewError(5008, KindValidation, lang{en: "Invalid ACTION for scheduled action", zh_cn: "计划任务 ACTION 无效"})
)
