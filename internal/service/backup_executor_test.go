package service

import (
	"context"
	"errors"
	"testing"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (e *testEnv) setBackup(vmID int64, in *VMBackupConfigInput) {
	e.t.Helper()
	_, err := e.vms.UpdateBackupConfig(e.ctx, e.admin, vmID, in)
	require.NoError(e.t, err)
}

func (e *testEnv) backup(vmID int64, reset bool) int64 {
	e.t.Helper()
	id, err := e.vms.Backup(e.ctx, e.admin, vmID, e.backupDS.ID, reset)
	require.NoError(e.t, err)
	return id
}

func (e *testEnv) image(id int64) *domain.Image {
	e.t.Helper()
	img, err := e.imageRepo.GetByID(e.ctx, id)
	require.NoError(e.t, err)
	require.NotNil(e.t, img)
	return img
}

func TestBackupExecutor_FullBackup(t *testing.T) {
	env := newEnv(t)
	owner := env.user("alice")
	vm := env.vm(owner, 30, 12)

	id := env.backup(vm.ID, false)
	img := env.image(id)
	assert.Equal(t, domain.ImageTypeBackup, img.Type)
	assert.Equal(t, domain.ImageStateReady, img.State)
	assert.Equal(t, int64(42), img.Size)
	assert.Equal(t, owner.UID, img.UID)
	assert.Equal(t, vm.ID, img.VMID)
	assert.Equal(t, []int{0, 1}, img.BackupDiskIDs)
	require.Len(t, img.Increments, 1)
	assert.Equal(t, 0, img.Increments[0].ID)

	got := env.reloadVM(vm.ID)
	assert.Equal(t, []int64{id}, got.Backup.BackupIDs)
	assert.Equal(t, -1, got.Backup.LastIncrementID)
	assert.Empty(t, got.ErrorMessage)

	q, err := env.quota.Get(env.ctx, owner.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ImagesUsed)
	assert.Equal(t, int64(42), q.SizeUsed)
}

func TestBackupExecutor_VolatileDisks(t *testing.T) {
	env := newEnv(t)
	vm, err := env.vms.Create(env.ctx, env.admin, "vol", []domain.Disk{{Size: 20}, {Size: 5, Volatile: true}})
	require.NoError(t, err)
	vm = env.deploy(env.admin, vm)

	assert.Equal(t, int64(20), env.image(env.backup(vm.ID, false)).Size)

	yes := true
	env.setBackup(vm.ID, &VMBackupConfigInput{BackupVolatile: &yes})
	img := env.image(env.backup(vm.ID, false))
	assert.Equal(t, int64(25), img.Size)
	assert.Equal(t, []int{0, 1}, img.BackupDiskIDs)
}

func TestBackupExecutor_QuotaExceeded(t *testing.T) {
	env := newEnv(t)
	owner := env.user("bob")
	vm := env.vm(owner, 100)
	require.NoError(t, env.users.SetQuota(env.ctx, env.admin, owner.UID, env.backupDS.ID, -1, 50))

	_, err := env.vms.Backup(env.ctx, env.admin, vm.ID, env.backupDS.ID, false)
	assert.ErrorIs(t, err, code.ErrorQuotaExceeded)

	imgs, err := env.imageRepo.List(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, imgs)
	assert.Empty(t, env.drv.calls())

	q, err := env.quota.Get(env.ctx, owner.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Zero(t, q.ImagesUsed)
	assert.Zero(t, q.SizeUsed)
	assert.NotEmpty(t, env.reloadVM(vm.ID).ErrorMessage)
}

func TestBackupExecutor_ImageQuotaKeepsUsage(t *testing.T) {
	env := newEnv(t)
	owner := env.user("oscar")
	vm := env.vm(owner, 30, 12)
	require.NoError(t, env.users.SetQuota(env.ctx, env.admin, owner.UID, env.backupDS.ID, 1, -1))

	first := env.backup(vm.ID, false)
	_, err := env.vms.Backup(env.ctx, env.admin, vm.ID, env.backupDS.ID, false)
	assert.ErrorIs(t, err, code.ErrorQuotaExceeded)

	q, err := env.quota.Get(env.ctx, owner.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ImagesUsed)
	assert.Equal(t, int64(42), q.SizeUsed)
	assert.Equal(t, []int64{first}, env.reloadVM(vm.ID).Backup.BackupIDs)
	imgs, err := env.imageRepo.List(env.ctx)
	require.NoError(t, err)
	assert.Len(t, imgs, 1)
	assert.Equal(t, []int64{vm.ID}, env.drv.calls())
}

// brokenImages fails every image update
type brokenImages struct {
	domain.ImageRepository
}

func (brokenImages) Update(context.Context, *domain.Image) error { return errors.New("image table gone") }

// brokenChain fails every write of the backup chain columns
type brokenChain struct {
	domain.VMRepository
}

func (brokenChain) UpdateBackupChain(context.Context, int64, domain.BackupConfig) error {
	return errors.New("vm table gone")
}

func (e *testEnv) executorWith(vmRepo domain.VMRepository, imageRepo domain.ImageRepository) BackupExecutor {
	return NewBackupExecutor(vmRepo, imageRepo, e.dsRepo, e.tplRepo, e.images, e.datastores, e.quota,
		e.drivers, e.queue, e.clock, e.cfg, zap.NewNop())
}

func TestBackupExecutor_RecordFailureDiscardsBackup(t *testing.T) {
	cases := map[string]func(env *testEnv) BackupExecutor{
		"image update": func(env *testEnv) BackupExecutor { return env.executorWith(env.vmRepo, brokenImages{env.imageRepo}) },
		"vm chain":     func(env *testEnv) BackupExecutor { return env.executorWith(brokenChain{env.vmRepo}, env.imageRepo) },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			env := newEnv(t)
			owner := env.user("peggy")
			vm := env.vm(owner, 30)

			_, err := build(env).Execute(env.ctx, BackupRequest{VMID: vm.ID, DatastoreID: env.backupDS.ID})
			assert.ErrorIs(t, err, code.ErrorDBQuery)

			imgs, err := env.imageRepo.List(env.ctx)
			require.NoError(t, err)
			assert.Empty(t, imgs)
			env.drv.mu.Lock()
			assert.Len(t, env.drv.deleted, 1)
			env.drv.mu.Unlock()

			q, err := env.quota.Get(env.ctx, owner.UID, env.backupDS.ID)
			require.NoError(t, err)
			assert.Zero(t, q.ImagesUsed)
			assert.Zero(t, q.SizeUsed)
			assert.Empty(t, env.reloadVM(vm.ID).Backup.BackupIDs)
		})
	}
}

func TestBackupExecutor_IncrementRecordFailureKeepsChain(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 100)
	mode := domain.ModeIncrement
	env.setBackup(vm.ID, &VMBackupConfigInput{Mode: &mode})
	first := env.backup(vm.ID, false)

	_, err := env.executorWith(brokenChain{env.vmRepo}, env.imageRepo).
		Execute(env.ctx, BackupRequest{VMID: vm.ID, DatastoreID: env.backupDS.ID})
	assert.ErrorIs(t, err, code.ErrorDBQuery)

	img := env.image(first)
	assert.Equal(t, domain.ImageStateReady, img.State)
	assert.Equal(t, int64(100), img.Size)
	assert.Len(t, img.Increments, 1)
	assert.Equal(t, 0, env.reloadVM(vm.ID).Backup.LastIncrementID)

	q, err := env.quota.Get(env.ctx, env.admin.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ImagesUsed)
	assert.Equal(t, int64(100), q.SizeUsed)
}

func TestBackupExecutor_DriverFailureRollsBack(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	env.drv.setFail(vm.ID, assert.AnError)

	_, err := env.vms.Backup(env.ctx, env.admin, vm.ID, env.backupDS.ID, false)
	assert.ErrorIs(t, err, code.ErrorDriver)

	imgs, err := env.imageRepo.List(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, imgs)
	q, err := env.quota.Get(env.ctx, env.admin.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Zero(t, q.SizeUsed)
	assert.Contains(t, env.reloadVM(vm.ID).ErrorMessage, assert.AnError.Error())
}

func TestBackupExecutor_KeepLastProperty(t *testing.T) {
	env := newEnv(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("the backup list never exceeds KEEP_LAST", prop.ForAll(
		func(keep, runs int) bool {
			vm := env.vm(env.admin, 4)
			env.setBackup(vm.ID, &VMBackupConfigInput{KeepLast: &keep})

			var ids []int64
			for i := 0; i < runs; i++ {
				ids = append([]int64{env.backup(vm.ID, false)}, ids...)
			}
			want := ids
			if len(want) > keep {
				want = want[:keep]
			}
			got := env.reloadVM(vm.ID).Backup.BackupIDs
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			// evicted images are gone
			for _, id := range ids[len(want):] {
				if img, err := env.imageRepo.GetByID(env.ctx, id); err != nil || img != nil {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 4),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}

func TestBackupExecutor_IncrementalChain(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 100)
	mode := domain.ModeIncrement
	env.setBackup(vm.ID, &VMBackupConfigInput{Mode: &mode})

	first := env.backup(vm.ID, false)
	cfg := env.reloadVM(vm.ID).Backup
	assert.Equal(t, 0, cfg.LastIncrementID)
	assert.Equal(t, first, cfg.IncrementalBackupID)

	second := env.backup(vm.ID, false)
	assert.Equal(t, first, second)
	img := env.image(first)
	require.Len(t, img.Increments, 2)
	assert.Equal(t, 1, img.Increments[1].ID)
	assert.Equal(t, string(domain.ModeIncrement), img.Increments[1].Type)
	assert.Equal(t, int64(110), img.Size)
	cfg = env.reloadVM(vm.ID).Backup
	assert.Equal(t, 1, cfg.LastIncrementID)
	assert.Equal(t, []int64{first}, cfg.BackupIDs)

	fresh := env.backup(vm.ID, true)
	assert.NotEqual(t, first, fresh)
	cfg = env.reloadVM(vm.ID).Backup
	assert.Equal(t, 0, cfg.LastIncrementID)
	assert.Equal(t, fresh, cfg.IncrementalBackupID)
	assert.Equal(t, []int64{fresh, first}, cfg.BackupIDs)

	q, err := env.quota.Get(env.ctx, env.admin.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.ImagesUsed)
	assert.Equal(t, int64(210), q.SizeUsed)
}

func TestBackupExecutor_IncrementFallsBackToFull(t *testing.T) {
	env := newEnv(t)
	env.drv.increments = false
	vm := env.vm(env.admin, 10)
	mode := domain.ModeIncrement
	env.setBackup(vm.ID, &VMBackupConfigInput{Mode: &mode})

	a := env.backup(vm.ID, false)
	b := env.backup(vm.ID, false)
	assert.NotEqual(t, a, b)
	assert.Equal(t, domain.ModeFull, env.image(b).Mode)
	assert.Equal(t, -1, env.reloadVM(vm.ID).Backup.LastIncrementID)
}

func TestBackupExecutor_CapacityCheck(t *testing.T) {
	env := newEnv(t)
	small, err := env.datastores.Create(env.ctx, env.admin, &DatastoreInput{
		Name: "small", Type: "BACKUP_DS", DSMad: "fake", LimitMB: 150, CapacityCheck: true,
	})
	require.NoError(t, err)
	vm := env.vm(env.admin, 100)

	_, err = env.vms.Backup(env.ctx, env.admin, vm.ID, small.ID, false)
	require.NoError(t, err)
	_, err = env.vms.Backup(env.ctx, env.admin, vm.ID, small.ID, false)
	assert.ErrorIs(t, err, code.ErrorDatastoreCapacity)
}

func TestBackupExecutor_RejectsInvalidTargets(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)

	_, err := env.vms.Backup(env.ctx, env.admin, vm.ID, env.imageDS.ID, false)
	assert.ErrorIs(t, err, code.ErrorDatastoreNotBackup)

	_, err = env.vms.Backup(env.ctx, env.admin, vm.ID, 999, false)
	assert.ErrorIs(t, err, code.ErrorDatastoreNotFound)

	_, err = env.vms.Action(env.ctx, env.admin, vm.ID, domain.VMActionSuspend)
	require.NoError(t, err)
	_, err = env.vms.Backup(env.ctx, env.admin, vm.ID, env.backupDS.ID, false)
	assert.ErrorIs(t, err, code.ErrorVMInvalidState)

	_, err = env.vms.Action(env.ctx, env.admin, vm.ID, domain.VMActionTerminate)
	require.NoError(t, err)
	_, err = env.vms.Backup(env.ctx, env.admin, vm.ID, env.backupDS.ID, false)
	assert.ErrorIs(t, err, code.ErrorVMDone)
}

func TestBackupExecutor_RestoreInPlace(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10, 10)
	id := env.backup(vm.ID, false)

	err := env.vms.Restore(env.ctx, env.admin, vm.ID, id, -1, -1)
	assert.ErrorIs(t, err, code.ErrorVMInvalidState)

	_, err = env.vms.Action(env.ctx, env.admin, vm.ID, domain.VMActionPoweroff)
	require.NoError(t, err)
	_, err = env.vms.SnapshotCreate(env.ctx, env.admin, vm.ID, "before")
	require.NoError(t, err)

	assert.ErrorIs(t, env.vms.Restore(env.ctx, env.admin, vm.ID, id, 7, -1), code.ErrorInvalidDiskID)
	assert.ErrorIs(t, env.vms.Restore(env.ctx, env.admin, vm.ID, id, 0, 3), code.ErrorInvalidIncrementID)
	assert.ErrorIs(t, env.vms.Restore(env.ctx, env.admin, vm.ID, 999, -1, -1), code.ErrorImageNotFound)

	require.NoError(t, env.vms.Restore(env.ctx, env.admin, vm.ID, id, 1, 0))
	assert.Empty(t, env.reloadVM(vm.ID).Snapshots)
	require.Len(t, env.drv.restores, 1)
	assert.Equal(t, 1, env.drv.restores[0].DiskID)
	assert.Equal(t, vm.ID, env.drv.restores[0].TargetVMID)
}

func TestBackupExecutor_RestoreNewInstance(t *testing.T) {
	env := newEnv(t)
	owner := env.user("carol")
	vm := env.vm(owner, 10, 20)
	id := env.backup(vm.ID, false)

	stranger := env.user("dave")
	_, err := env.executor.RestoreNewInstance(env.ctx, stranger, id, "")
	assert.ErrorIs(t, err, code.ErrorPermissionDenied)

	res, err := env.executor.RestoreNewInstance(env.ctx, owner, id, "copy")
	require.NoError(t, err)
	assert.NotZero(t, res.TemplateID)
	require.Len(t, res.ImageIDs, 2)

	osImg := env.image(res.ImageIDs[0])
	assert.Equal(t, domain.ImageTypeOS, osImg.Type)
	assert.Equal(t, env.imageDS.ID, osImg.DatastoreID)
	assert.Equal(t, int64(10), osImg.Size)
	dataImg := env.image(res.ImageIDs[1])
	assert.Equal(t, domain.ImageTypeDatablock, dataImg.Type)
	assert.Equal(t, int64(20), dataImg.Size)
	assert.Equal(t, owner.UID, dataImg.UID)
}
