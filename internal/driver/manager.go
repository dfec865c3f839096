package driver

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/storage"

	"go.uber.org/zap"
)

// Factory builds a driver for a datastore
// Factory 为数据存储创建驱动
type Factory func(ds *domain.Datastore) (BackupDriver, error)

// Manager resolves and caches one driver per datastore
// Manager 按数据存储解析并缓存驱动
type Manager struct {
	mu        sync.Mutex
	factories map[string]Factory
	drivers   map[int64]BackupDriver
	// root 本地存储默认根目录
	root   string
	logger *zap.Logger
}

// NewManager registers the dummy driver and every pkg/storage backend
// NewManager 注册 dummy 驱动与 pkg/storage 中的全部后端
func NewManager(root string, lg *zap.Logger) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	m := &Manager{
		factories: make(map[string]Factory),
		drivers:   make(map[int64]BackupDriver),
		root:      root,
		logger:    lg,
	}
	m.Register("dummy", func(ds *domain.Datastore) (BackupDriver, error) {
		incremental := true
		if v, ok := ds.Attributes["INCREMENTAL"]; ok {
			b, err := domain.ParseYesNo(v)
			if err != nil {
				return nil, err
			}
			incremental = b
		}
		return NewDummy(incremental), nil
	})
	for t := range storage.StorageTypeMap {
		m.Register(t, m.objectFactory(t))
	}
	return m
}

func (m *Manager) objectFactory(t storage.Type) Factory {
	return func(ds *domain.Datastore) (BackupDriver, error) {
		cfg := storage.FromAttributes(t, ds.Attributes)
		if cfg.Type == storage.LOCAL {
			cfg.SavePath = m.LocalPath(ds)
		}
		store, err := storage.NewClient(cfg, m.logger)
		if err != nil {
			return nil, err
		}
		return NewObject(t, store, m.logger), nil
	}
}

// LocalPath returns the directory of a local datastore, BASE_PATH or <root>/<id>
// LocalPath 返回本地数据存储目录
func (m *Manager) LocalPath(ds *domain.Datastore) string {
	for _, k := range []string{"BASE_PATH", "SAVE_PATH"} {
		if p := ds.Attributes[k]; p != "" {
			return p
		}
	}
	return filepath.Join(m.root, strconv.FormatInt(ds.ID, 10))
}

// IsLocal 数据存储是否写入本地文件系统
func (m *Manager) IsLocal(ds *domain.Datastore) bool {
	return strings.EqualFold(ds.DSMad, storage.LOCAL)
}

// Register 注册 DS_MAD 对应的驱动工厂，覆盖同名工厂
func (m *Manager) Register(dsMad string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[strings.ToLower(dsMad)] = f
}

// Supports 是否支持该 DS_MAD
func (m *Manager) Supports(dsMad string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.factories[strings.ToLower(dsMad)]
	return ok
}

// For returns the cached driver of ds, creating it on first use
// For 返回数据存储的驱动，首次使用时创建
func (m *Manager) For(ds *domain.Datastore) (BackupDriver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.drivers[ds.ID]; ok {
		return d, nil
	}
	f, ok := m.factories[strings.ToLower(ds.DSMad)]
	if !ok {
		return nil, fmt.Errorf("unsupported datastore driver %q", ds.DSMad)
	}
	d, err := f(ds)
	if err != nil {
		return nil, err
	}
	m.drivers[ds.ID] = d
	m.logger.Info("backup driver ready",
		zap.Int64(logger.FieldDatastoreID, ds.ID),
		zap.String(logger.FieldDriver, d.Name()))
	return d, nil
}

// Forget 丢弃缓存的驱动，数据存储删除后调用
func (m *Manager) Forget(datastoreID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, datastoreID)
}
