// Package dto Defines data transfer objects (request parameters and response structs)
// Package dto 定义数据传输对象（请求参数和响应结构体）
package dto

// BackupJobTemplateRequest carries a backup job template in key = value syntax
// BackupJobTemplateRequest 备份任务模板请求参数（key = value 语法）
type BackupJobTemplateRequest struct {
	Template string `json:"template" form:"template" binding:"required"` // Job template // 任务模板
}

// BackupJobUpdateRequest 更新备份任务请求参数
type BackupJobUpdateRequest struct {
	Template string `json:"template" form:"template" binding:"required"` // Job template // 任务模板
	Append   bool   `json:"append" form:"append"`                        // Merge instead of replace // 合并而不是替换
}

// BackupJobRenameRequest 重命名请求参数
type BackupJobRenameRequest struct {
	Name string `json:"name" form:"name" binding:"required"` // New name // 新名称
}

// BackupJobChownRequest 修改属主请求参数，GID 为 -1 时保持不变
type BackupJobChownRequest struct {
	UID int64  `json:"uid" form:"uid" binding:"gte=0"` // New owner // 新属主
	GID *int64 `json:"gid" form:"gid"`                 // New group // 新属组
}

// BackupJobChgrpRequest 修改属组请求参数
type BackupJobChgrpRequest struct {
	GID int64 `json:"gid" form:"gid" binding:"gte=0"` // New group // 新属组
}

// BackupJobChmodRequest 修改权限请求参数
type BackupJobChmodRequest struct {
	Octal string `json:"octal" form:"octal" binding:"required,len=3,numeric"` // Permission octet such as 640 // 权限八进制，如 640
}

// BackupJobLockRequest 加锁请求参数
type BackupJobLockRequest struct {
	Level string `json:"level" form:"level" binding:"omitempty,oneof=USE MANAGE ADMIN ALL use manage admin all 1 2 3 4"` // Lock level // 锁级别
}

// BackupJobPriorityRequest 修改优先级请求参数
type BackupJobPriorityRequest struct {
	Priority int `json:"priority" form:"priority"` // New priority // 新优先级
}

// BackupJobRunRequest starts one or more jobs in the same dispatch round
// BackupJobRunRequest 在同一轮派发中启动一个或多个备份任务
type BackupJobRunRequest struct {
	IDs []int64 `json:"ids" form:"ids" binding:"required,min=1,dive,gte=0"` // Job IDs // 任务 ID
}

// SchedActionRequest scheduled action fields, keys follow the template attribute names
// SchedActionRequest 计划任务字段，键名与模板属性名一致
type SchedActionRequest struct {
	Fields map[string]string `json:"fields" binding:"required"` // TIME, REPEAT, DAYS, END_TYPE, END_VALUE, WARNING, ACTION, ARGS
}

// ---------------- DTO / Response ----------------

// BackupJobDTO backup job data transfer object
// BackupJobDTO 备份任务数据传输对象
type BackupJobDTO struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	UID            int64             `json:"uid"`
	GID            int64             `json:"gid"`
	UName          string            `json:"uname"`
	GName          string            `json:"gname"`
	Priority       int               `json:"priority"`
	Lock           string            `json:"lock"`
	LockTime       int64             `json:"lockTime,omitempty"`
	Permissions    string            `json:"permissions"`
	BackupVMs      string            `json:"backupVms"`
	DatastoreID    int64             `json:"datastoreId"`
	FsFreeze       string            `json:"fsFreeze"`
	KeepLast       int               `json:"keepLast"`
	Mode           string            `json:"mode"`
	BackupVolatile string            `json:"backupVolatile"`
	Execution      string            `json:"execution"`
	Error          string            `json:"error,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	UpdatedVMs     []int64           `json:"updatedVms"`
	OutdatedVMs    []int64           `json:"outdatedVms"`
	BackingUpVMs   []int64           `json:"backingUpVms"`
	ErrorVMs       []int64           `json:"errorVms"`
	SchedActions   []*SchedActionDTO `json:"schedActions,omitempty"`
	LastBackupTime int64             `json:"lastBackupTime"`
	LastDuration   int64             `json:"lastBackupDuration"`
}

// SchedActionDTO 计划任务数据传输对象
type SchedActionDTO struct {
	ID         int    `json:"id"`
	ParentID   int64  `json:"parentId"`
	ParentType string `json:"type"`
	Action     string `json:"action"`
	Args       string `json:"args,omitempty"`
	Time       int64  `json:"time"`
	Done       int64  `json:"done"`
	Repeat     int    `json:"repeat"`
	Days       string `json:"days"`
	EndType    int    `json:"endType"`
	EndValue   int64  `json:"endValue"`
	Warning    int64  `json:"warning"`
}
