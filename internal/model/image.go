package model

import "time"

const (
	TableNameImage     = "image"
	TableNameDatastore = "datastore"
)

// Increment one entry of a backup image chain
type Increment struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Source string `json:"source"`
	Date   int64  `json:"date"`
}

// Image mapped from table <image>
type Image struct {
	ID            int64       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name          string      `gorm:"column:name;type:varchar(255);not null" json:"name"`
	UID           int64       `gorm:"column:uid;not null;index:idx_image_uid" json:"uid"`
	GID           int64       `gorm:"column:gid;not null" json:"gid"`
	DatastoreID   int64       `gorm:"column:datastore_id;not null;index:idx_image_ds" json:"datastoreId"`
	Type          string      `gorm:"column:type;type:varchar(16);not null" json:"type"`
	State         string      `gorm:"column:state;type:varchar(16);not null" json:"state"`
	Size          int64       `gorm:"column:size" json:"size"`
	Source        string      `gorm:"column:source;type:text" json:"source"`
	VMID          int64       `gorm:"column:vm_id;index:idx_image_vm" json:"vmId"`
	BackupDiskIDs []int       `gorm:"column:backup_disk_ids;serializer:json" json:"backupDiskIds"`
	Increments    []Increment `gorm:"column:increments;serializer:json" json:"increments"`
	Mode          string      `gorm:"column:mode;type:varchar(16)" json:"mode"`
	FsFreeze      string      `gorm:"column:fs_freeze;type:varchar(16)" json:"fsFreeze"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName Image's table name
func (*Image) TableName() string {
	return TableNameImage
}

// Datastore mapped from table <datastore>
type Datastore struct {
	ID            int64             `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name          string            `gorm:"column:name;type:varchar(255);not null" json:"name"`
	UID           int64             `gorm:"column:uid;not null" json:"uid"`
	GID           int64             `gorm:"column:gid;not null" json:"gid"`
	Type          string            `gorm:"column:type;type:varchar(16);not null" json:"type"`
	DSMad         string            `gorm:"column:ds_mad;type:varchar(32)" json:"dsMad"`
	LimitMB       int64             `gorm:"column:limit_mb" json:"limitMb"`
	CapacityCheck bool              `gorm:"column:capacity_check" json:"capacityCheck"`
	Attributes    map[string]string `gorm:"column:attributes;serializer:json" json:"attributes"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName Datastore's table name
func (*Datastore) TableName() string {
	return TableNameDatastore
}
