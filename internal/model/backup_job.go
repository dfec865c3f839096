package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	TableNameBackupJob   = "backup_job"
	TableNameSchedAction = "sched_action"
)

// BackupJob mapped from table <backup_job>
type BackupJob struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"column:name;type:varchar(255);not null" json:"name"`
	UID         int64  `gorm:"column:uid;not null;index:idx_backup_job_uid" json:"uid"`
	GID         int64  `gorm:"column:gid;not null" json:"gid"`
	Permissions string `gorm:"column:permissions;type:varchar(3)" json:"permissions"`
	Priority    int    `gorm:"column:priority" json:"priority"`
	LockLevel   int    `gorm:"column:lock_level" json:"lockLevel"`
	LockTime    int64  `gorm:"column:lock_time" json:"lockTime"`

	DatastoreID    int64  `gorm:"column:datastore_id" json:"datastoreId"`
	Mode           string `gorm:"column:mode;type:varchar(16)" json:"mode"`
	KeepLast       int    `gorm:"column:keep_last" json:"keepLast"`
	FsFreeze       string `gorm:"column:fs_freeze;type:varchar(16)" json:"fsFreeze"`
	BackupVolatile bool   `gorm:"column:backup_volatile" json:"backupVolatile"`
	Execution      string `gorm:"column:execution;type:varchar(16)" json:"execution"`

	BackupVMs  []int64           `gorm:"column:backup_vms;serializer:json" json:"backupVms"`
	Attributes map[string]string `gorm:"column:attributes;serializer:json" json:"attributes"`
	Error      string            `gorm:"column:error;type:text" json:"error"`

	UpdatedVMs    []int64          `gorm:"column:updated_vms;serializer:json" json:"updatedVms"`
	OutdatedVMs   []int64          `gorm:"column:outdated_vms;serializer:json" json:"outdatedVms"`
	BackingUpVMs  []int64          `gorm:"column:backing_up_vms;serializer:json" json:"backingUpVms"`
	ErrorVMs      []int64          `gorm:"column:error_vms;serializer:json" json:"errorVms"`
	ErrorMessages map[int64]string `gorm:"column:error_messages;serializer:json" json:"errorMessages"`

	LastBackupTime     int64     `gorm:"column:last_backup_time" json:"lastBackupTime"`
	LastBackupDuration int64     `gorm:"column:last_backup_duration" json:"lastBackupDuration"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName BackupJob's table name
func (*BackupJob) TableName() string {
	return TableNameBackupJob
}

// SchedAction mapped from table <sched_action>
// ActionID is allocated per parent, the row id is internal
type SchedAction struct {
	RowID      int64  `gorm:"column:row_id;primaryKey;autoIncrement" json:"-"`
	ActionID   int    `gorm:"column:action_id;not null;uniqueIndex:idx_sched_parent,priority:3" json:"id"`
	ParentType string `gorm:"column:parent_type;type:varchar(16);not null;uniqueIndex:idx_sched_parent,priority:1" json:"parentType"`
	ParentID   int64  `gorm:"column:parent_id;not null;uniqueIndex:idx_sched_parent,priority:2" json:"parentId"`
	Action     string `gorm:"column:action;type:varchar(32);not null" json:"action"`
	Args       string `gorm:"column:args;type:varchar(255)" json:"args"`
	Time       int64  `gorm:"column:time;not null;index:idx_sched_time" json:"time"`
	Repeat     int    `gorm:"column:repeat" json:"repeat"`
	Days       string `gorm:"column:days;type:varchar(1024)" json:"days"`
	EndType    int    `gorm:"column:end_type" json:"endType"`
	EndValue   int64  `gorm:"column:end_value" json:"endValue"`
	Warning    int64  `gorm:"column:warning" json:"warning"`
	Done       int64  `gorm:"column:done" json:"done"`

	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName SchedAction's table name
func (*SchedAction) TableName() string {
	return TableNameSchedAction
}
