package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupScheduler_PriorityOrder(t *testing.T) {
	env := newEnv(t)
	blockerVM := env.vm(env.admin, 10)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	vm3 := env.vm(env.admin, 10)

	blocker := env.job(env.admin, "blocker", 0, itoa(blockerVM.ID))
	low := env.job(env.admin, "low", 10, itoa(vm1.ID))
	highA := env.job(env.admin, "high-a", 20, itoa(vm2.ID))
	highB := env.job(env.admin, "high-b", 20, itoa(vm3.ID))

	// hold the only slot so the three runs queue up behind it
	env.drv.block()
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{blocker.ID}))
	env.awaitStart(blockerVM.ID)
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{low.ID, highB.ID, highA.ID}))
	env.drv.release()

	ctx, cancel := context.WithTimeout(env.ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, env.scheduler.Idle(ctx))

	assert.Equal(t, []int64{blockerVM.ID, vm2.ID, vm3.ID, vm1.ID}, env.drv.calls())
	for _, id := range []int64{blocker.ID, low.ID, highA.ID, highB.ID} {
		job := env.reloadJob(id)
		assert.Len(t, job.Buckets.Updated, 1)
		assert.Empty(t, job.Buckets.Outdated)
		assert.Empty(t, job.Buckets.BackingUp)
		assert.NotZero(t, job.LastBackupTime)
	}
}

func TestBackupScheduler_SequentialKeepsListOrder(t *testing.T) {
	env := newEnv(t, func(c *ServiceConfig) { c.Backup.MaxConcurrent = 4 })
	vms := []*domain.VM{env.vm(env.admin, 1), env.vm(env.admin, 1), env.vm(env.admin, 1), env.vm(env.admin, 1), env.vm(env.admin, 1)}

	job := env.job(env.admin, "ordered", 50, joinVMs(vms[4], vms[2], vms[0]))
	assert.Equal(t, []int64{vms[4].ID, vms[2].ID, vms[0].ID}, job.BackupVMs)

	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	assert.Equal(t, []int64{vms[4].ID, vms[2].ID, vms[0].ID}, env.drv.calls())
	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{vms[4].ID, vms[2].ID, vms[0].ID}, got.Buckets.Updated)
}

func TestBackupScheduler_CancelLetsRunningSettle(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "cancel", 50, joinVMs(vm1, vm2))

	env.drv.block()
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.awaitStart(vm1.ID)

	require.NoError(t, env.scheduler.Cancel(env.ctx, env.admin, job.ID))
	mid := env.reloadJob(job.ID)
	assert.Empty(t, mid.Buckets.Outdated)
	assert.Empty(t, mid.Buckets.BackingUp)

	env.drv.release()
	env.wait(job.ID)

	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{vm1.ID}, got.Buckets.Updated)
	assert.Empty(t, got.Buckets.Outdated)
	assert.Empty(t, got.Buckets.Errored)
	assert.Equal(t, []int64{vm1.ID}, env.drv.calls())
	assert.Len(t, env.reloadVM(vm1.ID).Backup.BackupIDs, 1)
	assert.Empty(t, env.reloadVM(vm2.ID).Backup.BackupIDs)
}

func TestBackupScheduler_RerunWhilePending(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "busy", 50, joinVMs(vm1, vm2))

	env.drv.block()
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.awaitStart(vm1.ID)

	err := env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID})
	assert.ErrorIs(t, err, code.ErrorBackupJobRunning)

	env.drv.release()
	env.wait(job.ID)
	assert.Len(t, env.reloadJob(job.ID).Buckets.Updated, 2)
}

func TestBackupScheduler_ErrorsAndRetry(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "retry", 50, joinVMs(vm1, vm2))

	env.drv.setFail(vm2.ID, errors.New("disk unreachable"))
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{vm1.ID}, got.Buckets.Updated)
	assert.Equal(t, []int64{vm2.ID}, got.Buckets.Errored)
	assert.Contains(t, got.Buckets.Messages[vm2.ID], "disk unreachable")
	assert.Contains(t, got.Error, "disk unreachable")
	assert.Contains(t, env.reloadVM(vm2.ID).ErrorMessage, "disk unreachable")

	env.drv.setFail(vm2.ID, nil)
	require.NoError(t, env.scheduler.Retry(env.ctx, env.admin, job.ID))
	env.wait(job.ID)

	got = env.reloadJob(job.ID)
	assert.ElementsMatch(t, []int64{vm1.ID, vm2.ID}, got.Buckets.Updated)
	assert.Empty(t, got.Buckets.Errored)
	assert.Empty(t, got.Error)
	assert.Empty(t, env.reloadVM(vm2.ID).ErrorMessage)
}

func TestBackupScheduler_RunValidatesEveryJobFirst(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	good := env.job(env.admin, "good", 50, itoa(vm.ID))
	noDS, err := env.jobs.Create(env.ctx, env.admin, `NAME = "no-ds"`)
	require.NoError(t, err)

	err = env.scheduler.RunBackup(env.ctx, env.admin, []int64{good.ID, noDS.ID})
	assert.ErrorIs(t, err, code.ErrorBackupJobNoDatastore)

	err = env.scheduler.RunBackup(env.ctx, env.admin, []int64{good.ID, 999})
	assert.ErrorIs(t, err, code.ErrorBackupJobNotFound)

	assert.Empty(t, env.reloadJob(good.ID).Buckets.Outdated)
	assert.Empty(t, env.drv.calls())
}

func TestBackupScheduler_PrunesMissingVMs(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	job := env.job(env.admin, "prune", 50, itoa(vm.ID)+",4242")

	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{vm.ID}, got.BackupVMs)
	assert.Equal(t, []int64{vm.ID}, got.Buckets.Updated)
}

func TestBackupScheduler_DeleteDropsPendingVMs(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "doomed", 50, joinVMs(vm1, vm2))

	env.drv.block()
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.awaitStart(vm1.ID)
	require.NoError(t, env.jobs.Delete(env.ctx, env.admin, job.ID))
	env.drv.release()

	ctx, cancel := context.WithTimeout(env.ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, env.scheduler.Idle(ctx))

	missing, err := env.jobRepo.GetByID(env.ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, []int64{vm1.ID}, env.drv.calls())
	assert.Equal(t, domain.NoID, env.reloadVM(vm2.ID).Backup.BackupJobID)
}

func TestBackupScheduler_UndeployedVMsStayOutdated(t *testing.T) {
	env := newEnv(t)
	vmA := env.pendingVM(env.admin, 10)
	vmB := env.pendingVM(env.admin, 10)
	job := env.job(env.admin, "waiting", 50, "4242,"+joinVMs(vmA, vmB))

	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{vmA.ID, vmB.ID}, got.BackupVMs)
	assert.ElementsMatch(t, []int64{vmA.ID, vmB.ID}, got.Buckets.Outdated)
	assert.Empty(t, got.Buckets.BackingUp)
	assert.Empty(t, got.Buckets.Errored)
	assert.Empty(t, got.Error)
	assert.Empty(t, env.drv.calls())

	// the run is over, a new one may start once the VMs are deployed
	env.deploy(env.admin, vmA)
	env.deploy(env.admin, vmB)
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	got = env.reloadJob(job.ID)
	assert.ElementsMatch(t, []int64{vmA.ID, vmB.ID}, got.Buckets.Updated)
	assert.Empty(t, got.Buckets.Outdated)
}

func TestBackupScheduler_DeferredVMDoesNotHoldRun(t *testing.T) {
	env := newEnv(t)
	ready := env.vm(env.admin, 10)
	suspended := env.vm(env.admin, 10)
	_, err := env.vms.Action(env.ctx, env.admin, suspended.ID, domain.VMActionSuspend)
	require.NoError(t, err)
	job := env.job(env.admin, "mixed", 50, joinVMs(suspended, ready))

	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{ready.ID}, got.Buckets.Updated)
	assert.Equal(t, []int64{suspended.ID}, got.Buckets.Outdated)
	assert.NotZero(t, got.LastBackupTime)
	assert.Equal(t, []int64{ready.ID}, env.drv.calls())
}

func TestBackupScheduler_DoneVMIsAnError(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	job := env.job(env.admin, "done", 50, itoa(vm.ID))
	// bypass terminate, which would detach the VM from the job
	require.NoError(t, env.vmRepo.UpdateState(env.ctx, vm.ID, domain.VMStateDone, vm.STime))

	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.wait(job.ID)

	got := env.reloadJob(job.ID)
	assert.Equal(t, []int64{vm.ID}, got.Buckets.Errored)
	assert.Empty(t, got.Buckets.Outdated)
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, env.drv.calls())
}

func TestBackupScheduler_RunSeesConcurrentReassignment(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	a := env.job(env.admin, "a", 50, joinVMs(vm1, vm2), `KEEP_LAST = 2`)
	b := env.job(env.admin, "b", 50, "", `KEEP_LAST = 7`)

	// move vm1 from a to b after the run command read a
	env.schedJobs.once(func(id int64) {
		_, err := env.jobs.Update(env.ctx, env.admin, a.ID, fmt.Sprintf("BACKUP_VMS = \"%d\"", vm2.ID), true)
		require.NoError(t, err)
		_, err = env.jobs.Update(env.ctx, env.admin, b.ID, fmt.Sprintf("BACKUP_VMS = \"%d\"", vm1.ID), true)
		require.NoError(t, err)
	})
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{a.ID}))
	env.wait(a.ID)

	assert.Equal(t, []int64{vm2.ID}, env.drv.calls())
	assert.Equal(t, []int64{vm2.ID}, env.reloadJob(a.ID).Buckets.Updated)
	moved := env.reloadVM(vm1.ID).Backup
	assert.Equal(t, b.ID, moved.BackupJobID)
	assert.Equal(t, 7, moved.KeepLast)
	assert.Empty(t, moved.BackupIDs)
	assert.Equal(t, a.ID, env.reloadVM(vm2.ID).Backup.BackupJobID)
}

func TestBackupScheduler_SettingsUpdateKeepsNewBackup(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	job := env.job(env.admin, "live", 50, itoa(vm.ID), `KEEP_LAST = 3`)

	env.drv.block()
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.awaitStart(vm.ID)
	_, err := env.jobs.Update(env.ctx, env.admin, job.ID, "KEEP_LAST = 5\nFS_FREEZE = AGENT", true)
	require.NoError(t, err)
	env.drv.release()
	env.wait(job.ID)

	cfg := env.reloadVM(vm.ID).Backup
	assert.Len(t, cfg.BackupIDs, 1)
	assert.Equal(t, 5, cfg.KeepLast)
	assert.Equal(t, domain.FsFreezeAgent, cfg.FsFreeze)

	// a settings write from a stale read leaves the chain columns alone
	stale := cfg
	stale.BackupIDs = nil
	stale.KeepLast = 4
	require.NoError(t, env.vmRepo.UpdateBackupSettings(env.ctx, vm.ID, stale, false))
	got := env.reloadVM(vm.ID).Backup
	assert.Equal(t, cfg.BackupIDs, got.BackupIDs)
	assert.Equal(t, 4, got.KeepLast)
}

func TestBackupScheduler_OneCommandStartsHighestFirst(t *testing.T) {
	env := newEnv(t)
	lowVM := env.vm(env.admin, 10)
	highVM := env.vm(env.admin, 10)
	low := env.job(env.admin, "low", 10, itoa(lowVM.ID))
	high := env.job(env.admin, "high", 60, itoa(highVM.ID))

	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{low.ID, high.ID}))
	ctx, cancel := context.WithTimeout(env.ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, env.scheduler.Idle(ctx))

	assert.Equal(t, []int64{highVM.ID, lowVM.ID}, env.drv.calls())
}

func TestBackupScheduler_CancelIsIdempotent(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "twice", 50, joinVMs(vm1, vm2))
	idle := env.job(env.admin, "never-run", 50, "")

	require.NoError(t, env.scheduler.Cancel(env.ctx, env.admin, idle.ID))

	env.drv.block()
	require.NoError(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}))
	env.awaitStart(vm1.ID)
	require.NoError(t, env.scheduler.Cancel(env.ctx, env.admin, job.ID))
	first := env.reloadJob(job.ID).Buckets
	require.NoError(t, env.scheduler.Cancel(env.ctx, env.admin, job.ID))
	assert.Equal(t, first, env.reloadJob(job.ID).Buckets)

	env.drv.release()
	env.wait(job.ID)
	done := env.reloadJob(job.ID)
	require.NoError(t, env.scheduler.Cancel(env.ctx, env.admin, job.ID))
	again := env.reloadJob(job.ID)
	assert.Equal(t, done.Buckets, again.Buckets)
	assert.Equal(t, done.LastBackupTime, again.LastBackupTime)
	assert.Equal(t, []int64{vm1.ID}, again.Buckets.Updated)
	assert.Equal(t, []int64{vm1.ID}, env.drv.calls())
}
