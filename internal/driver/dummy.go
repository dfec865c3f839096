package driver

import (
	"context"
	"fmt"

	"github.com/haierkeys/vm-backup-service/internal/domain"
)

// Dummy is the in-process driver used by test datastores
// Full backups take the size of the disks, increments a tenth of it and at least 1 MB.
// Dummy 测试数据存储使用的进程内驱动
type Dummy struct {
	increments bool
}

// NewDummy 创建 dummy 驱动
func NewDummy(increments bool) *Dummy {
	return &Dummy{increments: increments}
}

func (d *Dummy) Name() string { return "dummy" }

func (d *Dummy) SupportsIncrement() bool { return d.increments }

func (d *Dummy) Backup(ctx context.Context, req *BackupRequest) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Artifact{
		Source: fmt.Sprintf("dummy://%d/%d", req.Image.ID, req.IncrementID),
		Size:   req.Size(),
	}, nil
}

func (d *Dummy) Increment(ctx context.Context, req *BackupRequest) (*Artifact, error) {
	if !d.increments {
		return nil, fmt.Errorf("dummy: increments disabled")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := req.Size() / 10
	if size < 1 {
		size = 1
	}
	return &Artifact{
		Source: fmt.Sprintf("dummy://%d/%d", req.Image.ID, req.IncrementID),
		Size:   size,
	}, nil
}

func (d *Dummy) Restore(ctx context.Context, req *RestoreRequest) error {
	return ctx.Err()
}

func (d *Dummy) Delete(ctx context.Context, image *domain.Image) error {
	return ctx.Err()
}

var _ BackupDriver = (*Dummy)(nil)
