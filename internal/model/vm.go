package model

import "time"

const (
	TableNameVM         = "vm"
	TableNameVMTemplate = "vm_template"
)

// Disk VM disk column value
type Disk struct {
	ID       int   `json:"id"`
	ImageID  int64 `json:"imageId"`
	Size     int64 `json:"size"`
	Volatile bool  `json:"volatile"`
}

// Snapshot system snapshot column value
type Snapshot struct {
	ID     int    `json:"id"`
	DiskID int    `json:"diskId,omitempty"`
	Name   string `json:"name"`
	Time   int64  `json:"time"`
}

// VM mapped from table <vm>
type VM struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name          string     `gorm:"column:name;type:varchar(255);not null" json:"name"`
	UID           int64      `gorm:"column:uid;not null;index:idx_vm_uid" json:"uid"`
	GID           int64      `gorm:"column:gid;not null" json:"gid"`
	Permissions   string     `gorm:"column:permissions;type:varchar(3)" json:"permissions"`
	State         string     `gorm:"column:state;type:varchar(16);not null" json:"state"`
	Disks         []Disk     `gorm:"column:disks;serializer:json" json:"disks"`
	Snapshots     []Snapshot `gorm:"column:snapshots;serializer:json" json:"snapshots"`
	DiskSnapshots []Snapshot `gorm:"column:disk_snapshots;serializer:json" json:"diskSnapshots"`
	STime         int64      `gorm:"column:stime" json:"stime"`
	ErrorMessage  string     `gorm:"column:error_message;type:text" json:"errorMessage"`

	BackupJobID         int64   `gorm:"column:backup_job_id;index:idx_vm_backup_job" json:"backupJobId"`
	BackupMode          string  `gorm:"column:backup_mode;type:varchar(16)" json:"backupMode"`
	KeepLast            int     `gorm:"column:keep_last" json:"keepLast"`
	FsFreeze            string  `gorm:"column:fs_freeze;type:varchar(16)" json:"fsFreeze"`
	BackupVolatile      bool    `gorm:"column:backup_volatile" json:"backupVolatile"`
	LastIncrementID     int     `gorm:"column:last_increment_id" json:"lastIncrementId"`
	IncrementalBackupID int64   `gorm:"column:incremental_backup_id" json:"incrementalBackupId"`
	BackupIDs           []int64 `gorm:"column:backup_ids;serializer:json" json:"backupIds"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName VM's table name
func (*VM) TableName() string {
	return TableNameVM
}

// VMTemplate mapped from table <vm_template>
type VMTemplate struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	UID       int64     `gorm:"column:uid;not null" json:"uid"`
	GID       int64     `gorm:"column:gid;not null" json:"gid"`
	ImageIDs  []int64   `gorm:"column:image_ids;serializer:json" json:"imageIds"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName VMTemplate's table name
func (*VMTemplate) TableName() string {
	return TableNameVMTemplate
}
