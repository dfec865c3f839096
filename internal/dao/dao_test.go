package dao

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/haierkeys/vm-backup-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDao(t *testing.T) *Dao {
	t.Helper()
	cfg := DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "test.db"), AutoMigrate: true}
	db, err := NewDBEngineWithConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	d := New(db, WithConfig(&cfg), WithLogger(zap.NewNop()))
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newJob(name string, vms ...int64) *domain.BackupJob {
	return &domain.BackupJob{
		Name:        name,
		UID:         1,
		GID:         1,
		Permissions: domain.DefaultPermissions(),
		Priority:    domain.DefaultPriority,
		Config:      domain.DefaultBackupJobConfig(0),
		BackupVMs:   vms,
		Attributes:  map[string]string{},
	}
}

func TestBackupJobRepository_UpdateKeepsRunState(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupJobRepository(newTestDao(t))

	job, err := repo.Create(ctx, newJob("nightly", 3, 1))
	require.NoError(t, err)
	require.NotZero(t, job.ID)
	assert.Equal(t, []int64{3, 1}, job.BackupVMs)

	buckets := domain.Buckets{
		Updated:  []int64{3},
		Errored:  []int64{1},
		Messages: map[int64]string{1: "disk full"},
	}
	require.NoError(t, repo.SaveRunState(ctx, job.ID, buckets, "disk full"))

	job.Priority = 10
	job.Buckets = domain.Buckets{}
	job.Error = ""
	require.NoError(t, repo.Update(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Priority)
	assert.Equal(t, []int64{3}, got.Buckets.Updated)
	assert.Equal(t, []int64{1}, got.Buckets.Errored)
	assert.Empty(t, got.Buckets.Outdated)
	assert.Equal(t, "disk full", got.Buckets.Messages[1])
	assert.Equal(t, "disk full", got.Error)

	found, err := repo.FindByVM(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.ID, found.ID)

	missing, err := repo.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDao_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	d := newTestDao(t)
	repo := NewBackupJobRepository(d)

	boom := errors.New("boom")
	err := d.Transaction(ctx, func(ctx context.Context) error {
		if _, err := repo.Create(ctx, newJob("a")); err != nil {
			return err
		}
		// nested transactions join the outer one
		return d.Transaction(ctx, func(ctx context.Context) error {
			if _, err := repo.Create(ctx, newJob("b")); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSchedActionRepository_IDsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewSchedActionRepository(newTestDao(t))

	create := func(parentID int64) *domain.SchedAction {
		sa := domain.NewSchedAction(domain.ParentBackupJob, parentID, "backup")
		sa.Time = 100
		sa.Repeat = domain.RepeatWeekly
		sa.Days = "0"
		out, err := repo.Create(ctx, sa)
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, 0, create(1).ID)
	assert.Equal(t, 1, create(1).ID)
	assert.Equal(t, 0, create(2).ID)

	require.NoError(t, repo.Delete(ctx, domain.ParentBackupJob, 1, 1))
	assert.Equal(t, 2, create(1).ID)

	got, err := repo.Get(ctx, domain.ParentBackupJob, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.RepeatWeekly, got.Repeat)
	assert.Equal(t, int64(-1), got.Done)

	due, err := repo.ListDue(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	got.Done = 100
	require.NoError(t, repo.Update(ctx, got))
	due, err = repo.ListDue(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	require.NoError(t, repo.DeleteByParent(ctx, domain.ParentBackupJob, 1))
	list, err := repo.ListByParent(ctx, domain.ParentBackupJob, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestQuotaRepository_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	repo := NewQuotaRepository(newTestDao(t))

	q, err := repo.Get(ctx, 2, 100)
	require.NoError(t, err)
	assert.Nil(t, q)

	require.NoError(t, repo.Save(ctx, &domain.Quota{UID: 2, DatastoreID: 100, ImagesLimit: 3, SizeLimit: -1}))
	require.NoError(t, repo.Save(ctx, &domain.Quota{UID: 2, DatastoreID: 100, ImagesLimit: 3, SizeLimit: -1, ImagesUsed: 1, SizeUsed: 20}))

	q, err = repo.Get(ctx, 2, 100)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, int64(1), q.ImagesUsed)
	assert.Equal(t, int64(20), q.SizeUsed)
	assert.Equal(t, int64(-1), q.SizeLimit)

	list, err := repo.ListByUser(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestImageRepository_Aggregates(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDao(t))

	for _, size := range []int64{10, 32} {
		_, err := repo.Create(ctx, &domain.Image{
			Name: "img", UID: 1, DatastoreID: 5, Type: domain.ImageTypeBackup, State: domain.ImageStateReady,
			Size: size, VMID: 1, BackupDiskIDs: []int{0},
			Increments: []domain.Increment{{ID: 0, Type: "FULL", Size: size}},
		})
		require.NoError(t, err)
	}

	n, err := repo.CountByDatastore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sum, err := repo.SumSizeByDatastore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(42), sum)

	sum, err = repo.SumSizeByDatastore(ctx, 6)
	require.NoError(t, err)
	assert.Zero(t, sum)

	imgs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, 0, imgs[0].LastIncrementID())
}

func TestVMRepository_BackupWritersTouchOwnColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewVMRepository(newTestDao(t))

	cfg := domain.DefaultBackupConfig()
	cfg.BackupIDs = []int64{9, 4}
	cfg.LastIncrementID = 2
	cfg.IncrementalBackupID = 9
	vm, err := repo.Create(ctx, &domain.VM{
		Name: "db", UID: 1, GID: 1, Permissions: domain.DefaultPermissions(),
		State: domain.VMStateRunning, Disks: []domain.Disk{{Size: 8}}, Backup: cfg,
	})
	require.NoError(t, err)

	settings := vm.Backup
	settings.KeepLast = 6
	settings.FsFreeze = domain.FsFreezeAgent
	settings.BackupIDs = nil
	settings.LastIncrementID = 40
	require.NoError(t, repo.UpdateBackupSettings(ctx, vm.ID, settings, false))
	got, err := repo.GetByID(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Backup.KeepLast)
	assert.Equal(t, domain.FsFreezeAgent, got.Backup.FsFreeze)
	assert.Equal(t, []int64{9, 4}, got.Backup.BackupIDs)
	assert.Equal(t, 2, got.Backup.LastIncrementID)
	assert.Equal(t, int64(9), got.Backup.IncrementalBackupID)

	chain := got.Backup
	chain.KeepLast = 1
	chain.BackupIDs = []int64{11, 9, 4}
	chain.LastIncrementID = 3
	require.NoError(t, repo.UpdateBackupChain(ctx, vm.ID, chain))
	got, err = repo.GetByID(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Backup.KeepLast)
	assert.Equal(t, []int64{11, 9, 4}, got.Backup.BackupIDs)
	assert.Equal(t, 3, got.Backup.LastIncrementID)

	require.NoError(t, repo.UpdateBackupSettings(ctx, vm.ID, got.Backup, true))
	got, err = repo.GetByID(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, got.Backup.LastIncrementID)
	assert.Equal(t, domain.NoID, got.Backup.IncrementalBackupID)
	assert.Equal(t, []int64{11, 9, 4}, got.Backup.BackupIDs)
}

func TestBackupJobRepository_SetBackupVMs(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupJobRepository(newTestDao(t))

	job, err := repo.Create(ctx, newJob("prune", 5, 7, 8))
	require.NoError(t, err)
	require.NoError(t, repo.SaveRunState(ctx, job.ID, domain.Buckets{Updated: []int64{5}}, ""))

	require.NoError(t, repo.SetBackupVMs(ctx, job.ID, []int64{5, 8}))
	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 8}, got.BackupVMs)
	assert.Equal(t, "prune", got.Name)
	assert.Equal(t, []int64{5}, got.Buckets.Updated)

	require.NoError(t, repo.SetBackupVMs(ctx, job.ID, nil))
	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BackupVMs)
}
