package local_fs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

type Config struct {
	SavePath   string `yaml:"save-path" default:"storage/backups"`
	CustomPath string `yaml:"custom-path"`
}

// LocalFS stores objects as files below SavePath
type LocalFS struct {
	Config *Config
}

func NewClient(conf *Config) (*LocalFS, error) {
	if conf.SavePath == "" {
		return nil, errors.New("local_fs: save path is required")
	}
	return &LocalFS{Config: conf}, nil
}

// Root 返回存储根目录
func (p *LocalFS) Root() string {
	return filepath.Join(p.Config.SavePath, p.Config.CustomPath)
}

func (p *LocalFS) path(fileKey string) string {
	return filepath.Join(p.Root(), filepath.FromSlash(fileKey))
}

// Put 写入文件，先写临时文件再重命名
func (p *LocalFS) Put(ctx context.Context, fileKey string, r io.Reader, size int64) (string, error) {
	dst := p.path(fileKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "local_fs")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "local_fs")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "local_fs")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "local_fs")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrap(err, "local_fs")
	}
	return dst, nil
}

// Get 打开文件
func (p *LocalFS) Get(ctx context.Context, fileKey string) (io.ReadCloser, error) {
	f, err := os.Open(p.path(fileKey))
	if err != nil {
		return nil, errors.Wrap(err, "local_fs")
	}
	return f, nil
}

// Delete 删除文件
func (p *LocalFS) Delete(ctx context.Context, fileKey string) error {
	err := os.Remove(p.path(fileKey))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "local_fs")
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
