package dto

import (
	"strings"

	"github.com/haierkeys/vm-backup-service/internal/domain"
)

// ImageRestoreRequest 恢复为新实例请求参数
type ImageRestoreRequest struct {
	Name string `json:"name" form:"name"` // Name of the new template // 新模板名称
}

// DatastoreCreateRequest 创建数据存储请求参数
type DatastoreCreateRequest struct {
	Name          string            `json:"name" form:"name" binding:"required"`
	Type          string            `json:"type" form:"type" binding:"omitempty,oneof=IMAGE_DS SYSTEM_DS BACKUP_DS"`
	DSMad         string            `json:"dsMad" form:"dsMad"`
	LimitMB       *int64            `json:"limitMb" form:"limitMb"`
	CapacityCheck bool              `json:"capacityCheck" form:"capacityCheck"`
	Attributes    map[string]string `json:"attributes" form:"attributes"`
}

// ---------------- DTO / Response ----------------

// ImageDTO 镜像数据传输对象
type ImageDTO struct {
	ID              int64              `json:"id"`
	Name            string             `json:"name"`
	UID             int64              `json:"uid"`
	GID             int64              `json:"gid"`
	DatastoreID     int64              `json:"datastoreId"`
	Type            string             `json:"type"`
	State           string             `json:"state"`
	Size            int64              `json:"size"`
	Source          string             `json:"source"`
	VMID            int64              `json:"vmId"`
	BackupDiskIDs   []int              `json:"backupDiskIds"`
	Increments      []domain.Increment `json:"increments"`
	LastIncrementID int                `json:"lastIncrementId"`
	Mode            string             `json:"mode,omitempty"`
	FsFreeze        string             `json:"fsFreeze,omitempty"`
}

// RestoreResultDTO 恢复为新实例的结果
type RestoreResultDTO struct {
	TemplateID int64   `json:"templateId"`
	ImageIDs   []int64 `json:"imageIds"`
}

// DatastoreDTO 数据存储数据传输对象
type DatastoreDTO struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	UID           int64             `json:"uid"`
	GID           int64             `json:"gid"`
	Type          string            `json:"type"`
	DSMad         string            `json:"dsMad"`
	LimitMB       int64             `json:"limitMb"`
	CapacityCheck bool              `json:"capacityCheck"`
	FreeMB        *int64            `json:"freeMb,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

var secretAttributeMarkers = []string{"SECRET", "PASSWORD", "KEY"}

func isSecretAttribute(name string) bool {
	upper := strings.ToUpper(name)
	for _, m := range secretAttributeMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}
