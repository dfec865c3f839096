package service

import (
	"errors"
	"testing"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageService_DeleteBreaksChain(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 50)
	mode := domain.ModeIncrement
	env.setBackup(vm.ID, &VMBackupConfigInput{Mode: &mode})
	older := env.backup(vm.ID, true)
	chain := env.backup(vm.ID, true)
	env.backup(vm.ID, false)

	require.NoError(t, env.images.Delete(env.ctx, env.admin, chain))
	cfg := env.reloadVM(vm.ID).Backup
	assert.Equal(t, []int64{older}, cfg.BackupIDs)
	assert.Equal(t, -1, cfg.LastIncrementID)
	assert.Equal(t, domain.NoID, cfg.IncrementalBackupID)
	assert.Contains(t, env.drv.deleted, chain)

	// deleting an image outside the chain keeps it intact
	next := env.backup(vm.ID, false)
	require.NoError(t, env.images.Delete(env.ctx, env.admin, older))
	cfg = env.reloadVM(vm.ID).Backup
	assert.Equal(t, []int64{next}, cfg.BackupIDs)
	assert.Equal(t, next, cfg.IncrementalBackupID)

	q, err := env.quota.Get(env.ctx, env.admin.UID, env.backupDS.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ImagesUsed)
	assert.Equal(t, int64(50), q.SizeUsed)
}

func TestImageService_DriverFailureMarksError(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	id := env.backup(vm.ID, false)

	env.drv.deleteErr = errors.New("bucket gone")
	err := env.images.Delete(env.ctx, env.admin, id)
	assert.ErrorIs(t, err, code.ErrorDriver)
	assert.Equal(t, domain.ImageStateError, env.image(id).State)
	assert.Equal(t, []int64{id}, env.reloadVM(vm.ID).Backup.BackupIDs)

	// an image in ERROR can be deleted again once the backend recovers
	env.drv.deleteErr = nil
	require.NoError(t, env.images.Delete(env.ctx, env.admin, id))
	assert.Empty(t, env.reloadVM(vm.ID).Backup.BackupIDs)
}

func TestImageService_OwnerOnly(t *testing.T) {
	env := newEnv(t)
	owner := env.user("kim")
	other := env.user("lee")
	vm := env.vm(owner, 10)
	id := env.backup(vm.ID, false)

	_, err := env.images.Get(env.ctx, other, id)
	assert.ErrorIs(t, err, code.ErrorPermissionDenied)
	assert.ErrorIs(t, env.images.Delete(env.ctx, other, id), code.ErrorPermissionDenied)
	list, err := env.images.List(env.ctx, other)
	require.NoError(t, err)
	assert.Empty(t, list)

	img, err := env.images.Get(env.ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, vm.ID, img.VMID)
	assert.ErrorIs(t, env.images.Delete(env.ctx, owner, 4242), code.ErrorImageNotFound)
}

func TestDatastoreService_DeleteRefusesNonEmpty(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	id := env.backup(vm.ID, false)
	user := env.user("mia")

	assert.ErrorIs(t, env.datastores.Delete(env.ctx, user, env.backupDS.ID), code.ErrorNotAdmin)
	assert.ErrorIs(t, env.datastores.Delete(env.ctx, env.admin, env.backupDS.ID), code.ErrorDatastoreNotEmpty)

	require.NoError(t, env.images.Delete(env.ctx, env.admin, id))
	require.NoError(t, env.datastores.Delete(env.ctx, env.admin, env.backupDS.ID))
	_, err := env.datastores.Get(env.ctx, env.admin, env.backupDS.ID)
	assert.ErrorIs(t, err, code.ErrorDatastoreNotFound)

	_, err = env.datastores.Create(env.ctx, env.admin, &DatastoreInput{Name: "x", Type: "BACKUP_DS", DSMad: "tape"})
	assert.ErrorIs(t, err, code.ErrorDriverNotSupported)
	_, err = env.datastores.Create(env.ctx, env.admin, &DatastoreInput{Name: "x", Type: "NOPE"})
	assert.ErrorIs(t, err, code.ErrorInvalidDatastoreType)
}

func TestImageService_PurgeOrphans(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	keep := 1
	env.setBackup(vm.ID, &VMBackupConfigInput{KeepLast: &keep})
	first := env.backup(vm.ID, false)

	// eviction of the first backup fails on the backend
	env.drv.deleteErr = errors.New("timeout")
	second := env.backup(vm.ID, false)
	assert.Equal(t, []int64{second}, env.reloadVM(vm.ID).Backup.BackupIDs)
	assert.Equal(t, domain.ImageStateError, env.image(first).State)

	// a referenced image in ERROR is left to its owner
	require.Error(t, env.images.Delete(env.ctx, env.admin, second))

	env.drv.deleteErr = nil
	n, err := env.images.PurgeOrphans(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.images.Get(env.ctx, env.admin, first)
	assert.ErrorIs(t, err, code.ErrorImageNotFound)
	assert.Equal(t, domain.ImageStateError, env.image(second).State)
}
