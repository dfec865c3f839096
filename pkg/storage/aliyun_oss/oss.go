package aliyun_oss

import (
	"context"
	"io"
	"path"
	"sync"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint        string `yaml:"endpoint"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
	CustomPath      string `yaml:"custom-path"`
}

// OSS stores objects in an Aliyun OSS bucket
type OSS struct {
	Client *oss.Client
	Config *Config

	once   sync.Once
	bucket *oss.Bucket
	err    error
}

func NewClient(conf *Config) (*OSS, error) {
	client, err := oss.New(conf.Endpoint, conf.AccessKeyID, conf.AccessKeySecret)
	if err != nil {
		return nil, errors.Wrap(err, "aliyun_oss")
	}
	return &OSS{Client: client, Config: conf}, nil
}

func (p *OSS) getBucket() (*oss.Bucket, error) {
	p.once.Do(func() {
		p.bucket, p.err = p.Client.Bucket(p.Config.BucketName)
	})
	return p.bucket, p.err
}

func (p *OSS) key(fileKey string) string {
	return path.Join(p.Config.CustomPath, fileKey)
}

// Put 上传对象
func (p *OSS) Put(ctx context.Context, fileKey string, r io.Reader, size int64) (string, error) {
	bucket, err := p.getBucket()
	if err != nil {
		return "", errors.Wrap(err, "aliyun_oss")
	}
	key := p.key(fileKey)
	if err := bucket.PutObject(key, r, oss.WithContext(ctx)); err != nil {
		return "", errors.Wrap(err, "aliyun_oss")
	}
	return key, nil
}

// Get 下载对象
func (p *OSS) Get(ctx context.Context, fileKey string) (io.ReadCloser, error) {
	bucket, err := p.getBucket()
	if err != nil {
		return nil, errors.Wrap(err, "aliyun_oss")
	}
	body, err := bucket.GetObject(p.key(fileKey), oss.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "aliyun_oss")
	}
	return body, nil
}

// Delete 删除对象
func (p *OSS) Delete(ctx context.Context, fileKey string) error {
	bucket, err := p.getBucket()
	if err != nil {
		return errors.Wrap(err, "aliyun_oss")
	}
	if err := bucket.DeleteObject(p.key(fileKey), oss.WithContext(ctx)); err != nil {
		return errors.Wrap(err, "aliyun_oss")
	}
	return nil
}
