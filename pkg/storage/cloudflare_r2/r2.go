package cloudflare_r2

import (
	"fmt"

	"github.com/haierkeys/vm-backup-service/pkg/storage/aws_s3"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	AccountID       string `yaml:"account-id"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
	CustomPath      string `yaml:"custom-path"`
}

// NewClient creates an R2 storage instance on top of the S3 client
// NewClient 基于 S3 客户端创建 R2 存储实例
func NewClient(conf *Config, logger *zap.Logger) (*aws_s3.S3, error) {
	if conf.AccountID == "" {
		return nil, errors.New("cloudflare_r2: account id is required")
	}
	return aws_s3.NewClient(&aws_s3.Config{
		Endpoint:        fmt.Sprintf("https://%s.r2.cloudflarestorage.com", conf.AccountID),
		Region:          "auto",
		BucketName:      conf.BucketName,
		AccessKeyID:     conf.AccessKeyID,
		AccessKeySecret: conf.AccessKeySecret,
		CustomPath:      conf.CustomPath,
	}, aws_s3.WithLogger(logger))
}
