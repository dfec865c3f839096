package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/storage"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// manifest is written once per disk and increment
// manifest 每个磁盘每个增量写入一份
type manifest struct {
	VMID        int64  `json:"vmId"`
	ImageID     int64  `json:"imageId"`
	IncrementID int    `json:"incrementId"`
	Type        string `json:"type"`
	DiskID      int    `json:"diskId"`
	Size        int64  `json:"size"`
	FsFreeze    string `json:"fsFreeze"`
	CreatedAt   int64  `json:"createdAt"`
}

// Object stores backups in an object store or a directory through pkg/storage
// Object 通过 pkg/storage 将备份写入对象存储或本地目录
type Object struct {
	name   string
	store  storage.Storager
	logger *zap.Logger
}

// NewObject 创建对象存储驱动
func NewObject(name string, store storage.Storager, lg *zap.Logger) *Object {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Object{name: name, store: store, logger: lg}
}

func (o *Object) Name() string { return o.name }

func (o *Object) SupportsIncrement() bool { return true }

func diskKey(source string, diskID int) string {
	return fmt.Sprintf("%s/disk.%d.json", source, diskID)
}

func (o *Object) write(ctx context.Context, req *BackupRequest, incType string, sizeOf func(domain.Disk) int64) (*Artifact, error) {
	source := fmt.Sprintf("vm-%d/image-%d/%d-%s", req.VM.ID, req.Image.ID, req.IncrementID, uuid.New().String())

	var total int64
	written := make([]string, 0, len(req.Disks))
	for _, d := range req.Disks {
		size := sizeOf(d)
		data, err := sonic.Marshal(manifest{
			VMID:        req.VM.ID,
			ImageID:     req.Image.ID,
			IncrementID: req.IncrementID,
			Type:        incType,
			DiskID:      d.ID,
			Size:        size,
			FsFreeze:    string(req.FsFreeze),
			CreatedAt:   time.Now().Unix(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "encode manifest")
		}
		key := diskKey(source, d.ID)
		if _, err := o.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			// best effort removal of the partial artifact
			for _, k := range written {
				_ = o.store.Delete(context.Background(), k)
			}
			return nil, errors.Wrapf(err, "%s: put %s", o.name, key)
		}
		written = append(written, key)
		total += size
	}

	o.logger.Debug("backup artifact written",
		zap.String(logger.FieldDriver, o.name),
		zap.Int64(logger.FieldImageID, req.Image.ID),
		zap.String(logger.FieldFileKey, source),
		zap.Int64(logger.FieldSize, total))
	return &Artifact{Source: source, Size: total}, nil
}

func (o *Object) Backup(ctx context.Context, req *BackupRequest) (*Artifact, error) {
	return o.write(ctx, req, string(domain.ModeFull), func(d domain.Disk) int64 { return d.Size })
}

func (o *Object) Increment(ctx context.Context, req *BackupRequest) (*Artifact, error) {
	return o.write(ctx, req, string(domain.ModeIncrement), func(d domain.Disk) int64 {
		if d.Size/10 < 1 {
			return 1
		}
		return d.Size / 10
	})
}

// Restore reads every manifest of the chain up to the requested increment
// Restore 读取增量链中直到目标增量的全部清单
func (o *Object) Restore(ctx context.Context, req *RestoreRequest) error {
	img := req.Image
	last := req.IncrementID
	if last < 0 {
		last = img.LastIncrementID()
	}
	for _, inc := range img.Increments {
		if inc.ID > last {
			break
		}
		for _, diskID := range img.BackupDiskIDs {
			if req.DiskID >= 0 && diskID != req.DiskID {
				continue
			}
			m, err := o.read(ctx, diskKey(inc.Source, diskID))
			if err != nil {
				return err
			}
			if m.DiskID != diskID || m.IncrementID != inc.ID {
				return fmt.Errorf("%s: manifest mismatch for disk %d increment %d", o.name, diskID, inc.ID)
			}
		}
	}
	return nil
}

func (o *Object) read(ctx context.Context, key string) (*manifest, error) {
	rc, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: get %s", o.name, key)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read %s", o.name, key)
	}
	var m manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "%s: decode %s", o.name, key)
	}
	return &m, nil
}

func (o *Object) Delete(ctx context.Context, image *domain.Image) error {
	for _, inc := range image.Increments {
		for _, diskID := range image.BackupDiskIDs {
			if err := o.store.Delete(ctx, diskKey(inc.Source, diskID)); err != nil {
				return errors.Wrapf(err, "%s: delete image %d", o.name, image.ID)
			}
		}
	}
	return nil
}

var _ BackupDriver = (*Object)(nil)
