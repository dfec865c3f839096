// Package storage 备份数据存储后端
package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/haierkeys/vm-backup-service/pkg/storage/aliyun_oss"
	"github.com/haierkeys/vm-backup-service/pkg/storage/aws_s3"
	"github.com/haierkeys/vm-backup-service/pkg/storage/cloudflare_r2"
	"github.com/haierkeys/vm-backup-service/pkg/storage/local_fs"
	"github.com/haierkeys/vm-backup-service/pkg/storage/webdav"

	"go.uber.org/zap"
)

type Type = string

const (
	LOCAL  Type = "localfs"
	S3     Type = "s3"
	MinIO  Type = "minio"
	R2     Type = "r2"
	OSS    Type = "oss"
	WebDAV Type = "webdav"
)

// StorageTypeMap 支持的存储类型
var StorageTypeMap = map[Type]bool{
	LOCAL:  true,
	S3:     true,
	MinIO:  true,
	R2:     true,
	OSS:    true,
	WebDAV: true,
}

// Config Unified storage configuration
// Config 统一存储配置
type Config struct {
	Type Type `yaml:"type"`

	CustomPath string `yaml:"custom-path"`

	// Cloud Storage (S3/OSS/MinIO/R2)
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
	AccountID       string `yaml:"account-id"` // Cloudflare R2 specific

	// WebDAV
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Local FS
	SavePath string `yaml:"save-path"`

	// PartSizeMB multipart threshold for S3 compatible backends
	PartSizeMB int `yaml:"part-size-mb"`
}

// FromAttributes builds a Config from datastore attributes such as BUCKET or ENDPOINT
// FromAttributes 由数据存储属性构建存储配置
func FromAttributes(storageType Type, attrs map[string]string) *Config {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := attrs[k]; ok && v != "" {
				return v
			}
		}
		return ""
	}
	part, _ := strconv.Atoi(get("PART_SIZE_MB"))
	return &Config{
		Type:            strings.ToLower(storageType),
		CustomPath:      get("CUSTOM_PATH", "PREFIX"),
		Endpoint:        get("ENDPOINT"),
		Region:          get("REGION"),
		BucketName:      get("BUCKET", "BUCKET_NAME"),
		AccessKeyID:     get("ACCESS_KEY_ID"),
		AccessKeySecret: get("ACCESS_KEY_SECRET", "SECRET_ACCESS_KEY"),
		AccountID:       get("ACCOUNT_ID"),
		User:            get("USER"),
		Password:        get("PASSWORD"),
		SavePath:        get("BASE_PATH", "SAVE_PATH"),
		PartSizeMB:      part,
	}
}

// Storager stores backup artifacts under a key
// Storager 以 key 存取备份数据
type Storager interface {
	// Put 写入对象，返回最终存储路径
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
	// Get 读取对象
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error
}

// NewClient 根据配置创建存储客户端
func NewClient(config *Config, logger *zap.Logger) (Storager, error) {
	if config == nil {
		return nil, fmt.Errorf("storage config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch config.Type {
	case LOCAL:
		return local_fs.NewClient(&local_fs.Config{
			SavePath:   config.SavePath,
			CustomPath: config.CustomPath,
		})
	case S3, MinIO:
		return aws_s3.NewClient(&aws_s3.Config{
			Endpoint:        config.Endpoint,
			Region:          config.Region,
			BucketName:      config.BucketName,
			AccessKeyID:     config.AccessKeyID,
			AccessKeySecret: config.AccessKeySecret,
			CustomPath:      config.CustomPath,
			UsePathStyle:    config.Type == MinIO,
			PartSizeMB:      config.PartSizeMB,
		}, aws_s3.WithLogger(logger))
	case R2:
		return cloudflare_r2.NewClient(&cloudflare_r2.Config{
			AccountID:       config.AccountID,
			BucketName:      config.BucketName,
			AccessKeyID:     config.AccessKeyID,
			AccessKeySecret: config.AccessKeySecret,
			CustomPath:      config.CustomPath,
		}, logger)
	case OSS:
		return aliyun_oss.NewClient(&aliyun_oss.Config{
			Endpoint:        config.Endpoint,
			BucketName:      config.BucketName,
			AccessKeyID:     config.AccessKeyID,
			AccessKeySecret: config.AccessKeySecret,
			CustomPath:      config.CustomPath,
		})
	case WebDAV:
		return webdav.NewClient(&webdav.Config{
			Endpoint:   config.Endpoint,
			User:       config.User,
			Password:   config.Password,
			CustomPath: config.CustomPath,
		})
	}
	return nil, fmt.Errorf("unsupported storage type %q", config.Type)
}
