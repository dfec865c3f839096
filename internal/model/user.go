package model

import "time"

const (
	TableNameUser  = "user"
	TableNameGroup = "user_group"
	TableNameQuota = "quota"
)

// User mapped from table <user>
type User struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(128);not null;uniqueIndex:idx_user_name" json:"name"`
	Password  string    `gorm:"column:password;type:varchar(255);not null" json:"-"`
	GID       int64     `gorm:"column:gid;not null;index:idx_user_gid" json:"gid"`
	Groups    []int64   `gorm:"column:groups;serializer:json" json:"groups"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName User's table name
func (*User) TableName() string {
	return TableNameUser
}

// Group mapped from table <user_group>
type Group struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(128);not null;uniqueIndex:idx_group_name" json:"name"`
	Admin     bool      `gorm:"column:admin" json:"admin"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName Group's table name
func (*Group) TableName() string {
	return TableNameGroup
}

// Quota mapped from table <quota>
type Quota struct {
	ID          int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UID         int64 `gorm:"column:uid;not null;uniqueIndex:idx_quota_uid_ds,priority:1" json:"uid"`
	DatastoreID int64 `gorm:"column:datastore_id;not null;uniqueIndex:idx_quota_uid_ds,priority:2" json:"datastoreId"`
	ImagesLimit int64 `gorm:"column:images_limit" json:"imagesLimit"`
	SizeLimit   int64 `gorm:"column:size_limit" json:"sizeLimit"`
	ImagesUsed  int64 `gorm:"column:images_used" json:"imagesUsed"`
	SizeUsed    int64 `gorm:"column:size_used" json:"sizeUsed"`
}

// TableName Quota's table name
func (*Quota) TableName() string {
	return TableNameQuota
}
