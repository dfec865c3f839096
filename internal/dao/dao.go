// Package dao 实现数据访问层
package dao

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/model"
	"github.com/haierkeys/vm-backup-service/pkg/util"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string
	Path            string
	UserName        string
	Password        string
	Host            string
	Port            int
	Name            string
	TablePrefix     string
	AutoMigrate     bool
	Charset         string
	ParseTime       bool
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime string
	ConnMaxIdleTime string
	RunMode         string
}

// Dao 数据访问对象
type Dao struct {
	db     *gorm.DB
	config *DatabaseConfig
	logger *zap.Logger
}

// Option Dao 配置选项
type Option func(*Dao)

// WithConfig 设置数据库配置
func WithConfig(cfg *DatabaseConfig) Option {
	return func(d *Dao) {
		d.config = cfg
	}
}

// WithLogger 设置日志器
func WithLogger(lg *zap.Logger) Option {
	return func(d *Dao) {
		d.logger = lg
	}
}

// New 创建 Dao 实例
func New(db *gorm.DB, opts ...Option) *Dao {
	d := &Dao{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DB 返回底层 gorm 连接
func (d *Dao) DB() *gorm.DB {
	return d.db
}

// Migrate 迁移全部表结构
func (d *Dao) Migrate() error {
	if d.config != nil && !d.config.AutoMigrate {
		return nil
	}
	return model.AutoMigrate(d.db)
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the shared connection
// conn 返回 ctx 中携带的事务，否则返回共享连接
func (d *Dao) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return d.db.WithContext(ctx)
}

// Transaction runs fn in a transaction, nested calls join the outer one
// Transaction 在事务中执行 fn，嵌套调用加入外层事务
func (d *Dao) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Close 关闭数据库连接
func (d *Dao) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// first loads one row, a missing row is not an error
// first 查询单行，不存在时返回 false
func first(db *gorm.DB, dst interface{}) (bool, error) {
	err := db.Take(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NewDBEngineWithConfig 根据配置创建数据库连接
func NewDBEngineWithConfig(c DatabaseConfig, lg *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(c)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Silent
	if c.RunMode == "debug" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix, // 表名前缀
			SingularTable: true,          // 使用单数表名
		},
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", c.Type)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if c.Type == "sqlite" || c.Type == "" {
		// a single connection keeps SQLite writers from failing with "database is locked"
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		if c.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(c.MaxIdleConns)
		}
		if c.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(c.MaxOpenConns)
		}
	}
	if d, err := util.ParseDuration(c.ConnMaxLifetime); err == nil && d > 0 {
		sqlDB.SetConnMaxLifetime(d)
	} else {
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if d, err := util.ParseDuration(c.ConnMaxIdleTime); err == nil && d > 0 {
		sqlDB.SetConnMaxIdleTime(d)
	}

	if lg != nil {
		lg.Info("database connected", zap.String("type", c.Type))
	}
	return db, nil
}

func dialectorFor(c DatabaseConfig) (gorm.Dialector, error) {
	switch c.Type {
	case "mysql":
		charset := c.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s&parseTime=true&loc=Local",
			c.UserName, c.Password, c.Host, c.Name, charset)), nil
	case "postgres":
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
			c.Host, c.UserName, c.Password, c.Name, port)), nil
	case "sqlite", "":
		if c.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
				return nil, errors.Wrap(err, "create database directory")
			}
		}
		return sqlite.Open(c.Path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", c.Type)
}
