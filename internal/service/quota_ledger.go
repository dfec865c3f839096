package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"

	"go.uber.org/zap"
)

// QuotaLedger tracks image count and size per user and datastore
// QuotaLedger 记录用户在每个数据存储上的镜像数量与大小
type QuotaLedger interface {
	// Commit checks and adds usage atomically, nothing is consumed on failure
	// Commit 原子地检查并增加用量，失败时不消耗
	Commit(ctx context.Context, uid, datastoreID, images, size int64) error

	// Release 释放用量，不会低于 0
	Release(ctx context.Context, uid, datastoreID, images, size int64) error

	// Adjust 增加用量但不检查限制，用于修正预估大小
	Adjust(ctx context.Context, uid, datastoreID, images, size int64) error

	// SetLimits 设置限制，小于 0 表示不限制
	SetLimits(ctx context.Context, uid, datastoreID, imagesLimit, sizeLimit int64) error

	// Get 获取配额，未设置时返回不限制的空用量
	Get(ctx context.Context, uid, datastoreID int64) (*domain.Quota, error)

	List(ctx context.Context, uid int64) ([]*domain.Quota, error)
}

type quotaLedger struct {
	mu     sync.Mutex
	repo   domain.QuotaRepository
	tx     domain.Transactor
	logger *zap.Logger
}

// NewQuotaLedger 创建 QuotaLedger 实例
func NewQuotaLedger(repo domain.QuotaRepository, tx domain.Transactor, logger *zap.Logger) QuotaLedger {
	return &quotaLedger{repo: repo, tx: tx, logger: logger}
}

func (l *quotaLedger) load(ctx context.Context, uid, datastoreID int64) (*domain.Quota, error) {
	q, err := l.repo.Get(ctx, uid, datastoreID)
	if err != nil {
		return nil, dbErr(err)
	}
	if q == nil {
		q = &domain.Quota{UID: uid, DatastoreID: datastoreID, ImagesLimit: -1, SizeLimit: -1}
	}
	return q, nil
}

// update runs fn on the quota row under the ledger mutex and a transaction
// update 在互斥锁与事务中修改配额
func (l *quotaLedger) update(ctx context.Context, uid, datastoreID int64, fn func(q *domain.Quota) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.tx.Transaction(ctx, func(ctx context.Context) error {
		q, err := l.load(ctx, uid, datastoreID)
		if err != nil {
			return err
		}
		if err := fn(q); err != nil {
			return err
		}
		return dbErr(l.repo.Save(ctx, q))
	})
}

func (l *quotaLedger) Commit(ctx context.Context, uid, datastoreID, images, size int64) error {
	return l.update(ctx, uid, datastoreID, func(q *domain.Quota) error {
		if !q.Fits(images, size) {
			l.logger.Info("quota exceeded",
				zap.Int64(logger.FieldUID, uid),
				zap.Int64(logger.FieldDatastoreID, datastoreID),
				zap.Int64(logger.FieldSize, size))
			return codeErr(code.ErrorQuotaExceeded, fmt.Sprintf(
				"images %d+%d/%d, size %d+%d/%d MB",
				q.ImagesUsed, images, q.ImagesLimit, q.SizeUsed, size, q.SizeLimit))
		}
		q.ImagesUsed += images
		q.SizeUsed += size
		return nil
	})
}

func (l *quotaLedger) Release(ctx context.Context, uid, datastoreID, images, size int64) error {
	return l.update(ctx, uid, datastoreID, func(q *domain.Quota) error {
		q.ImagesUsed -= images
		q.SizeUsed -= size
		if q.ImagesUsed < 0 {
			q.ImagesUsed = 0
		}
		if q.SizeUsed < 0 {
			q.SizeUsed = 0
		}
		return nil
	})
}

func (l *quotaLedger) Adjust(ctx context.Context, uid, datastoreID, images, size int64) error {
	if images == 0 && size == 0 {
		return nil
	}
	if images < 0 || size < 0 {
		return l.Release(ctx, uid, datastoreID, -min(images, 0), -min(size, 0))
	}
	return l.update(ctx, uid, datastoreID, func(q *domain.Quota) error {
		q.ImagesUsed += images
		q.SizeUsed += size
		return nil
	})
}

func (l *quotaLedger) SetLimits(ctx context.Context, uid, datastoreID, imagesLimit, sizeLimit int64) error {
	return l.update(ctx, uid, datastoreID, func(q *domain.Quota) error {
		q.ImagesLimit = imagesLimit
		q.SizeLimit = sizeLimit
		return nil
	})
}

func (l *quotaLedger) Get(ctx context.Context, uid, datastoreID int64) (*domain.Quota, error) {
	return l.load(ctx, uid, datastoreID)
}

func (l *quotaLedger) List(ctx context.Context, uid int64) ([]*domain.Quota, error) {
	qs, err := l.repo.ListByUser(ctx, uid)
	if err != nil {
		return nil, dbErr(err)
	}
	return qs, nil
}
