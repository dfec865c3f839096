package aws_s3

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
	CustomPath      string `yaml:"custom-path"`
	// UsePathStyle is required by MinIO and most self hosted gateways
	UsePathStyle bool `yaml:"use-path-style"`
	PartSizeMB   int  `yaml:"part-size-mb"`
}

// S3 stores objects in an S3 compatible bucket
type S3 struct {
	S3Client *s3.Client
	Config   *Config
	logger   *zap.Logger
}

// Option 配置选项函数类型
type Option func(*S3)

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(s *S3) {
		s.logger = logger
	}
}

// NewClient 创建 S3 存储实例
func NewClient(conf *Config, opts ...Option) (*S3, error) {
	if conf.BucketName == "" {
		return nil, errors.New("aws_s3: bucket is required")
	}
	region := conf.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.AccessKeySecret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, errors.Wrap(err, "aws_s3")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = conf.UsePathStyle
	})

	s := &S3{
		S3Client: client,
		Config:   conf,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (p *S3) key(fileKey string) string {
	return path.Join(p.Config.CustomPath, fileKey)
}

// Put 上传对象
func (p *S3) Put(ctx context.Context, fileKey string, r io.Reader, size int64) (string, error) {
	key := p.key(fileKey)
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.Config.BucketName),
		Key:    aws.String(key),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := p.S3Client.PutObject(ctx, input); err != nil {
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noBucket) {
			p.logger.Warn("bucket does not exist", zap.String("bucket", p.Config.BucketName))
		}
		return "", errors.Wrap(err, "aws_s3")
	}
	return key, nil
}

// Get 下载对象
func (p *S3) Get(ctx context.Context, fileKey string) (io.ReadCloser, error) {
	out, err := p.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.Config.BucketName),
		Key:    aws.String(p.key(fileKey)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "aws_s3")
	}
	return out.Body, nil
}

// Delete 删除对象
func (p *S3) Delete(ctx context.Context, fileKey string) error {
	_, err := p.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.Config.BucketName),
		Key:    aws.String(p.key(fileKey)),
	})
	if err != nil {
		return errors.Wrap(err, "aws_s3")
	}
	return nil
}
