package webdav

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"
)

// Config WebDAV 连接信息
type Config struct {
	Endpoint   string `yaml:"endpoint"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	CustomPath string `yaml:"custom-path"`
}

// WebDAV WebDAV 客户端
type WebDAV struct {
	Client *gowebdav.Client
	Config *Config
}

// NewClient 创建 WebDAV 客户端
func NewClient(conf *Config) (*WebDAV, error) {
	if conf.Endpoint == "" {
		return nil, errors.New("webdav: endpoint is required")
	}
	c := gowebdav.NewClient(conf.Endpoint, conf.User, conf.Password)
	return &WebDAV{Client: c, Config: conf}, nil
}

func (w *WebDAV) key(fileKey string) string {
	return path.Join("/", w.Config.CustomPath, fileKey)
}

// Put 上传对象
func (w *WebDAV) Put(ctx context.Context, fileKey string, r io.Reader, size int64) (string, error) {
	key := w.key(fileKey)
	if err := w.Client.MkdirAll(path.Dir(key), 0o755); err != nil {
		return "", errors.Wrap(err, "webdav")
	}
	if err := w.Client.WriteStream(key, r, os.ModePerm); err != nil {
		return "", errors.Wrap(err, "webdav")
	}
	return key, nil
}

// Get 下载对象
func (w *WebDAV) Get(ctx context.Context, fileKey string) (io.ReadCloser, error) {
	rc, err := w.Client.ReadStream(w.key(fileKey))
	if err != nil {
		return nil, errors.Wrap(err, "webdav")
	}
	return rc, nil
}

// Delete 删除对象
func (w *WebDAV) Delete(ctx context.Context, fileKey string) error {
	if err := w.Client.Remove(w.key(fileKey)); err != nil && !gowebdav.IsErrNotFound(err) {
		return errors.Wrap(err, "webdav")
	}
	return nil
}
