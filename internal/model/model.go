// Package model 数据库模型
package model

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// All 返回全部需要迁移的模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&Group{},
		&Quota{},
		&Datastore{},
		&Image{},
		&VM{},
		&VMTemplate{},
		&BackupJob{},
		&SchedAction{},
	}
}

// AutoMigrate 迁移全部表结构
func AutoMigrate(db *gorm.DB) error {
	for _, m := range All() {
		if err := db.AutoMigrate(m); err != nil {
			return errors.Wrapf(err, "auto migrate %T", m)
		}
	}
	return nil
}
