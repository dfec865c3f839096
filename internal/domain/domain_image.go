package domain

import (
	"fmt"
	"strings"
	"time"
)

// ImageType 镜像类型
type ImageType string

const (
	ImageTypeOS        ImageType = "OS"
	ImageTypeDatablock ImageType = "DATABLOCK"
	ImageTypeBackup    ImageType = "BACKUP"
)

// ImageState 镜像状态
type ImageState string

const (
	ImageStateReady    ImageState = "READY"
	ImageStateLocked   ImageState = "LOCKED"
	ImageStateDeleting ImageState = "DELETING"
	ImageStateError    ImageState = "ERROR"
)

// Increment one element of a backup image chain, the first one is the full backup
// Increment 备份镜像链中的一个元素，第一个为全量备份
type Increment struct {
	ID     int    `json:"id"`
	Type   string `json:"type"` // FULL / INCREMENT
	Size   int64  `json:"size"`
	Source string `json:"source"`
	Date   int64  `json:"date"`
}

// Image 镜像目录条目，Size 单位 MB
type Image struct {
	ID            int64
	Name          string
	UID           int64
	GID           int64
	DatastoreID   int64
	Type          ImageType
	State         ImageState
	Size          int64
	Source        string
	VMID          int64
	BackupDiskIDs []int
	Increments    []Increment
	Mode          BackupMode
	FsFreeze      FsFreeze
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LastIncrementID 最新增量 ID，没有增量时为 -1
func (i *Image) LastIncrementID() int {
	if len(i.Increments) == 0 {
		return -1
	}
	return i.Increments[len(i.Increments)-1].ID
}

// HasDisk 备份中是否包含磁盘
func (i *Image) HasDisk(diskID int) bool {
	for _, d := range i.BackupDiskIDs {
		if d == diskID {
			return true
		}
	}
	return false
}

// DatastoreType 数据存储类型
type DatastoreType string

const (
	DatastoreImage  DatastoreType = "IMAGE_DS"
	DatastoreSystem DatastoreType = "SYSTEM_DS"
	DatastoreBackup DatastoreType = "BACKUP_DS"
)

// ParseDatastoreType 解析数据存储类型
func ParseDatastoreType(s string) (DatastoreType, error) {
	switch t := DatastoreType(strings.ToUpper(strings.TrimSpace(s))); t {
	case DatastoreImage, DatastoreSystem, DatastoreBackup:
		return t, nil
	case "":
		return DatastoreImage, nil
	}
	return "", fmt.Errorf("invalid datastore type %q", s)
}

// Datastore 数据存储
// DSMad selects the backup driver, Attributes carries driver settings such as BUCKET or ENDPOINT
type Datastore struct {
	ID            int64
	Name          string
	UID           int64
	GID           int64
	Type          DatastoreType
	DSMad         string
	LimitMB       int64 // -1 不限制
	CapacityCheck bool
	Attributes    map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Quota per user per datastore image usage, limits below zero are unlimited
// Quota 用户在某数据存储上的镜像用量，限制小于 0 表示不限制
type Quota struct {
	UID         int64
	DatastoreID int64
	ImagesLimit int64
	SizeLimit   int64
	ImagesUsed  int64
	SizeUsed    int64
}

// Fits 增加 images/size 后是否仍在限制内
func (q *Quota) Fits(images, size int64) bool {
	if q.ImagesLimit >= 0 && q.ImagesUsed+images > q.ImagesLimit {
		return false
	}
	if q.SizeLimit >= 0 && q.SizeUsed+size > q.SizeLimit {
		return false
	}
	return true
}

// User 用户
type User struct {
	ID        int64
	Name      string
	Password  string
	GID       int64
	Groups    []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group 组，Admin 组的成员绕过所有权限检查
type Group struct {
	ID        int64
	Name      string
	Admin     bool
	CreatedAt time.Time
}
