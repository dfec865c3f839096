package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupJobService_CreateAppliesConfig(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)

	job := env.job(env.admin, "nightly", 40, joinVMs(vm2, vm1),
		`KEEP_LAST = 3`, `MODE = "increment"`, `EXECUTION = "PARALLEL"`, `OWNER_NOTE = "db tier"`,
		`SCHED_ACTION = [ TIME = "+3600", REPEAT = "3", DAYS = "6" ]`)

	assert.Equal(t, 40, job.Priority)
	assert.Equal(t, []int64{vm2.ID, vm1.ID}, job.BackupVMs)
	assert.Equal(t, 3, job.Config.KeepLast)
	assert.Equal(t, domain.ModeIncrement, job.Config.Mode)
	assert.Equal(t, domain.ExecutionParallel, job.Config.Execution)
	assert.Equal(t, "db tier", job.Attributes["OWNER_NOTE"])
	_, reserved := job.Attributes["KEEP_LAST"]
	assert.False(t, reserved)

	for _, id := range []int64{vm1.ID, vm2.ID} {
		cfg := env.reloadVM(id).Backup
		assert.Equal(t, job.ID, cfg.BackupJobID)
		assert.Equal(t, 3, cfg.KeepLast)
		assert.Equal(t, domain.ModeIncrement, cfg.Mode)
	}

	got, err := env.jobs.Get(env.ctx, env.admin, job.ID)
	require.NoError(t, err)
	require.Len(t, got.SchedActions, 1)
	sa := got.SchedActions[0]
	assert.Equal(t, 0, sa.ID)
	assert.Equal(t, "backup", sa.Action)
	assert.Equal(t, domain.RepeatHourly, sa.Repeat)
	assert.Equal(t, got.CreatedAt.Unix()+3600, sa.Time)
	assert.Equal(t, AdminUserName, got.UName)
}

func TestBackupJobService_CreateValidation(t *testing.T) {
	env := newEnv(t)
	cases := map[string]struct {
		tmpl string
		want *code.Code
	}{
		"missing name":     {`PRIORITY = 3`, code.ErrorBackupJobNameRequired},
		"bad template":     {`NAME = "x`, code.ErrorInvalidTemplate},
		"image datastore":  {fmt.Sprintf("NAME = j\nDATASTORE_ID = %d", env.imageDS.ID), code.ErrorInvalidDatastoreID},
		"unknown mode":     {"NAME = j\nMODE = SNAPSHOT", code.ErrorInvalidBackupMode},
		"negative keep":    {"NAME = j\nKEEP_LAST = -2", code.ErrorInvalidKeepLast},
		"bad vm list":      {"NAME = j\nBACKUP_VMS = \"1,x\"", code.ErrorInvalidBackupVMs},
		"bad execution":    {"NAME = j\nEXECUTION = SOMETIMES", code.ErrorInvalidExecution},
		"bad sched repeat": {"NAME = j\nSCHED_ACTION = [ TIME = 10, REPEAT = 9 ]", code.ErrorSchedInvalidRepeat},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.jobs.Create(env.ctx, env.admin, c.tmpl)
			assert.ErrorIs(t, err, c.want)
		})
	}

	jobs, err := env.jobs.List(env.ctx, env.admin)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestBackupJobService_VMExclusivity(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	a := env.job(env.admin, "a", 10, joinVMs(vm1))

	_, err := env.jobs.Create(env.ctx, env.admin, fmt.Sprintf("NAME = b\nBACKUP_VMS = \"%d,%d\"", vm2.ID, vm1.ID))
	assert.ErrorIs(t, err, code.ErrorVMAlreadyAssigned)
	assert.Equal(t, domain.NoID, env.reloadVM(vm2.ID).Backup.BackupJobID)

	b := env.job(env.admin, "b", 10, joinVMs(vm2))
	_, err = env.jobs.Update(env.ctx, env.admin, b.ID, fmt.Sprintf("BACKUP_VMS = \"%d\"", vm1.ID), true)
	assert.ErrorIs(t, err, code.ErrorVMAlreadyAssigned)
	assert.Equal(t, a.ID, env.reloadVM(vm1.ID).Backup.BackupJobID)
	assert.Equal(t, b.ID, env.reloadVM(vm2.ID).Backup.BackupJobID)
}

func TestBackupJobService_UpdateReplaceAndAppend(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "upd", 10, joinVMs(vm1, vm2), `KEEP_LAST = 4`, `NOTE = "a"`)

	got, err := env.jobs.Update(env.ctx, env.admin, job.ID, "FS_FREEZE = AGENT\nNOTE2 = b", true)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Config.KeepLast)
	assert.Equal(t, domain.FsFreezeAgent, got.Config.FsFreeze)
	assert.Equal(t, []int64{vm1.ID, vm2.ID}, got.BackupVMs)
	assert.Equal(t, "a", got.Attributes["NOTE"])
	assert.Equal(t, "b", got.Attributes["NOTE2"])
	assert.Equal(t, domain.FsFreezeAgent, env.reloadVM(vm2.ID).Backup.FsFreeze)

	// replace drops everything the template does not repeat
	got, err = env.jobs.Update(env.ctx, env.admin, job.ID, fmt.Sprintf("BACKUP_VMS = \"%d\"\nNAME = ignored", vm2.ID), false)
	require.NoError(t, err)
	assert.Equal(t, "upd", got.Name)
	assert.Zero(t, got.Config.KeepLast)
	assert.Equal(t, domain.NoID, got.Config.DatastoreID)
	assert.Equal(t, []int64{vm2.ID}, got.BackupVMs)
	assert.Empty(t, got.Attributes)
	assert.Equal(t, domain.NoID, env.reloadVM(vm1.ID).Backup.BackupJobID)
	assert.Equal(t, job.ID, env.reloadVM(vm2.ID).Backup.BackupJobID)
}

func TestBackupJobService_ModeChangeResetsChain(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 100)
	mode := domain.ModeIncrement
	env.setBackup(vm.ID, &VMBackupConfigInput{Mode: &mode})
	env.backup(vm.ID, false)
	require.Equal(t, 0, env.reloadVM(vm.ID).Backup.LastIncrementID)

	job := env.job(env.admin, "full", 10, itoa(vm.ID))
	assert.Equal(t, domain.ModeFull, job.Config.Mode)
	cfg := env.reloadVM(vm.ID).Backup
	assert.Equal(t, domain.ModeFull, cfg.Mode)
	assert.Equal(t, -1, cfg.LastIncrementID)
	assert.Equal(t, domain.NoID, cfg.IncrementalBackupID)
	assert.Len(t, cfg.BackupIDs, 1)
}

func TestBackupJobService_PriorityCeilings(t *testing.T) {
	env := newEnv(t)
	user := env.user("erin")

	job := env.job(user, "mine", 50, "")
	assert.ErrorIs(t, env.jobs.SetPriority(env.ctx, user, job.ID, 73), code.ErrorInvalidPriority)
	assert.ErrorIs(t, env.jobs.SetPriority(env.ctx, user, job.ID, -1), code.ErrorPriorityOutOfRange)
	require.NoError(t, env.jobs.SetPriority(env.ctx, user, job.ID, 50))

	require.NoError(t, env.jobs.SetPriority(env.ctx, env.admin, job.ID, 99))
	assert.ErrorIs(t, env.jobs.SetPriority(env.ctx, env.admin, job.ID, 1223), code.ErrorPriorityOutOfRange)
	assert.Equal(t, 99, env.reloadJob(job.ID).Priority)

	_, err := env.jobs.Create(env.ctx, user, "NAME = hi\nPRIORITY = 51")
	assert.ErrorIs(t, err, code.ErrorInvalidPriority)
}

func TestBackupJobService_Permissions(t *testing.T) {
	env := newEnv(t)
	owner := env.user("frank")
	peer := env.user("grace")
	job := env.job(owner, "perm", 10, "")

	_, err := env.jobs.Get(env.ctx, peer, job.ID)
	assert.ErrorIs(t, err, code.ErrorPermissionDenied)
	assert.ErrorIs(t, env.jobs.Rename(env.ctx, peer, job.ID, "x"), code.ErrorPermissionDenied)
	list, err := env.jobs.List(env.ctx, peer)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the owner lacks the admin bit by default
	assert.ErrorIs(t, env.jobs.Chown(env.ctx, owner, job.ID, peer.UID, -1), code.ErrorPermissionDenied)

	require.NoError(t, env.jobs.Chmod(env.ctx, owner, job.ID, "666"))
	require.NoError(t, env.jobs.Rename(env.ctx, peer, job.ID, "shared"))
	got, err := env.jobs.Get(env.ctx, peer, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Name)
	assert.Equal(t, "666", got.Permissions.Octal())
	assert.ErrorIs(t, env.jobs.Chown(env.ctx, peer, job.ID, peer.UID, -1), code.ErrorPermissionDenied)

	assert.ErrorIs(t, env.jobs.Chmod(env.ctx, owner, job.ID, "9x0"), code.ErrorInvalidPermissions)

	require.NoError(t, env.jobs.Chown(env.ctx, env.admin, job.ID, peer.UID, -1))
	assert.Equal(t, peer.UID, env.reloadJob(job.ID).UID)
	assert.ErrorIs(t, env.jobs.Chown(env.ctx, env.admin, job.ID, 4242, -1), code.ErrorUserNotFound)

	assert.ErrorIs(t, env.jobs.Chgrp(env.ctx, peer, job.ID, env.admin.GID), code.ErrorGroupNotMember)
	require.NoError(t, env.jobs.Chgrp(env.ctx, env.admin, job.ID, env.admin.GID))
	assert.Equal(t, env.admin.GID, env.reloadJob(job.ID).GID)
}

func TestBackupJobService_LockBlocksEveryone(t *testing.T) {
	env := newEnv(t)
	job := env.job(env.admin, "locked", 10, "")

	assert.ErrorIs(t, env.jobs.Lock(env.ctx, env.admin, job.ID, domain.LockLevel(9)), code.ErrorInvalidLockLevel)
	require.NoError(t, env.jobs.Lock(env.ctx, env.admin, job.ID, domain.LockUse))
	got := env.reloadJob(job.ID)
	assert.Equal(t, domain.LockUse, got.Lock)
	assert.Equal(t, testEpoch.Unix(), got.LockTime)

	assert.ErrorIs(t, env.jobs.Rename(env.ctx, env.admin, job.ID, "x"), code.ErrorBackupJobLocked)
	assert.ErrorIs(t, env.jobs.Delete(env.ctx, env.admin, job.ID), code.ErrorBackupJobLocked)
	assert.ErrorIs(t, env.scheduler.RunBackup(env.ctx, env.admin, []int64{job.ID}), code.ErrorBackupJobLocked)
	_, err := env.jobs.Get(env.ctx, env.admin, job.ID)
	assert.NoError(t, err)

	require.NoError(t, env.jobs.Unlock(env.ctx, env.admin, job.ID))
	require.NoError(t, env.jobs.Rename(env.ctx, env.admin, job.ID, "open"))

	require.NoError(t, env.jobs.Lock(env.ctx, env.admin, job.ID, domain.LockAdmin))
	require.NoError(t, env.jobs.Rename(env.ctx, env.admin, job.ID, "still-open"))
	assert.ErrorIs(t, env.jobs.Chown(env.ctx, env.admin, job.ID, env.admin.UID, -1), code.ErrorBackupJobLocked)
}

func TestBackupJobService_DeleteReleasesVMs(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	job := env.job(env.admin, "gone", 10, itoa(vm.ID), `SCHED_ACTION = [ TIME = "+60" ]`)

	require.NoError(t, env.jobs.Delete(env.ctx, env.admin, job.ID))
	assert.Equal(t, domain.NoID, env.reloadVM(vm.ID).Backup.BackupJobID)
	left, err := env.schedRepo.ListByParent(env.ctx, domain.ParentBackupJob, job.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = env.jobs.Get(env.ctx, env.admin, job.ID)
	assert.ErrorIs(t, err, code.ErrorBackupJobNotFound)

	// the VM is free for another job
	env.job(env.admin, "next", 10, itoa(vm.ID))
}

func TestBackupJobService_ReplaceWithoutVMsReleasesThem(t *testing.T) {
	env := newEnv(t)
	vm1 := env.vm(env.admin, 10)
	vm2 := env.vm(env.admin, 10)
	job := env.job(env.admin, "swap", 10, joinVMs(vm1, vm2))

	got, err := env.jobs.Update(env.ctx, env.admin, job.ID, "KEEP_LAST = 2", false)
	require.NoError(t, err)
	assert.Empty(t, got.BackupVMs)
	assert.Empty(t, env.reloadJob(job.ID).BackupVMs)
	for _, id := range []int64{vm1.ID, vm2.ID} {
		assert.Equal(t, domain.NoID, env.reloadVM(id).Backup.BackupJobID)
	}

	// another job can take a released VM, and the first job can take it back afterwards
	other := env.job(env.admin, "other", 10, itoa(vm1.ID))
	_, err = env.jobs.Update(env.ctx, env.admin, job.ID, fmt.Sprintf("BACKUP_VMS = \"%d\"", vm1.ID), true)
	assert.ErrorIs(t, err, code.ErrorVMAlreadyAssigned)
	require.NoError(t, env.jobs.Delete(env.ctx, env.admin, other.ID))

	got, err = env.jobs.Update(env.ctx, env.admin, job.ID, fmt.Sprintf("BACKUP_VMS = \"%s\"", joinVMs(vm1, vm2)), true)
	require.NoError(t, err)
	assert.Equal(t, []int64{vm1.ID, vm2.ID}, got.BackupVMs)
	assert.Equal(t, 2, got.Config.KeepLast)
	for _, id := range []int64{vm1.ID, vm2.ID} {
		cfg := env.reloadVM(id).Backup
		assert.Equal(t, job.ID, cfg.BackupJobID)
		assert.Equal(t, 2, cfg.KeepLast)
	}
}

func TestBackupJobService_ExclusivityProperty(t *testing.T) {
	env := newEnv(t)
	const pool = 4
	vms := make([]*domain.VM, pool)
	for i := range vms {
		vms[i] = env.vm(env.admin, 1)
	}
	jobs := []*domain.BackupJob{env.job(env.admin, "p0", 10, ""), env.job(env.admin, "p1", 10, ""), env.job(env.admin, "p2", 10, "")}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	// each step gives job jobs[idx] the VMs picked by mask, or clears its list when mask is zero
	properties.Property("a VM belongs to at most one job and points back at it", prop.ForAll(
		func(steps []int) bool {
			for _, step := range steps {
				idx, mask := step%len(jobs), step/len(jobs)
				var picked []string
				for i, vm := range vms {
					if mask&(1<<i) != 0 {
						picked = append(picked, itoa(vm.ID))
					}
				}
				tmpl := fmt.Sprintf("BACKUP_VMS = \"%s\"", strings.Join(picked, ","))
				_, err := env.jobs.Update(env.ctx, env.admin, jobs[idx].ID, tmpl, true)
				if err != nil && !errors.Is(err, code.ErrorVMAlreadyAssigned) {
					return false
				}
			}

			owner := map[int64]int64{}
			for _, job := range jobs {
				for _, id := range env.reloadJob(job.ID).BackupVMs {
					if _, dup := owner[id]; dup {
						return false
					}
					owner[id] = job.ID
				}
			}
			for _, vm := range vms {
				want, ok := owner[vm.ID]
				if !ok {
					want = domain.NoID
				}
				if env.reloadVM(vm.ID).Backup.BackupJobID != want {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.IntRange(0, len(jobs)*(1<<pool)-1)),
	))

	properties.TestingRun(t)
}
