package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedActionService_AddValidation(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	job := env.job(env.admin, "j", 10, "")

	_, err := env.sched.Add(env.ctx, env.admin, domain.ParentBackupJob, job.ID,
		map[string]string{"ACTION": "poweroff", "TIME": "+10"})
	assert.ErrorIs(t, err, code.ErrorSchedInvalidAction)

	_, err = env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID,
		map[string]string{"ACTION": "backup", "ARGS": "x", "TIME": "+10"})
	assert.ErrorIs(t, err, code.ErrorSchedInvalidAction)

	_, err = env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID,
		map[string]string{"ACTION": "poweroff", "TIME": "+10", "REPEAT": "0", "DAYS": "9"})
	assert.ErrorIs(t, err, code.ErrorSchedInvalidDays)

	_, err = env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID, map[string]string{"ACTION": "poweroff"})
	assert.ErrorIs(t, err, code.ErrorSchedInvalidTime)

	stranger := env.user("heidi")
	_, err = env.sched.Add(env.ctx, stranger, domain.ParentVM, vm.ID,
		map[string]string{"ACTION": "poweroff", "TIME": "+10"})
	assert.ErrorIs(t, err, code.ErrorPermissionDenied)

	sa, err := env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID,
		map[string]string{"action": "SUSPEND", "time": "+10", "repeat": "0", "days": "5,1,3"})
	require.NoError(t, err)
	assert.Equal(t, "suspend", sa.Action)
	assert.Equal(t, vm.STime+10, sa.Time)
	assert.Equal(t, "1,3,5", sa.Days)
	assert.Equal(t, int64(-1), sa.Done)
}

func TestSchedActionService_UpdateKeepsEndValue(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)

	sa, err := env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID, map[string]string{
		"ACTION": "poweroff", "TIME": "+100", "REPEAT": "4", "DAYS": "1", "END_TYPE": "1", "END_VALUE": "5",
	})
	require.NoError(t, err)

	sa, err = env.sched.Update(env.ctx, env.admin, domain.ParentVM, vm.ID, sa.ID, map[string]string{
		"REPEAT": "3", "DAYS": "2", "END_VALUE": "9",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RepeatHourly, sa.Repeat)
	assert.Equal(t, "2", sa.Days)
	assert.Equal(t, domain.EndReps, sa.EndType)
	assert.Equal(t, int64(5), sa.EndValue)
	assert.Equal(t, "poweroff", sa.Action)

	sa, err = env.sched.Update(env.ctx, env.admin, domain.ParentVM, vm.ID, sa.ID, map[string]string{
		"END_TYPE": "1", "END_VALUE": "2",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sa.EndValue)

	_, err = env.sched.Update(env.ctx, env.admin, domain.ParentVM, vm.ID, 42, map[string]string{"REPEAT": "3"})
	assert.ErrorIs(t, err, code.ErrorSchedActionNotFound)

	require.NoError(t, env.sched.Delete(env.ctx, env.admin, domain.ParentVM, vm.ID, sa.ID))
	list, err := env.sched.List(env.ctx, env.admin, domain.ParentVM, vm.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSchedActionService_FireJobBackup(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)
	job := env.job(env.admin, "timed", 10, itoa(vm.ID), `SCHED_ACTION = [ TIME = "+60" ]`)

	fired, err := env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)

	env.clock.Advance(61 * time.Second)
	fired, err = env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	env.wait(job.ID)
	assert.Equal(t, []int64{vm.ID}, env.reloadJob(job.ID).Buckets.Updated)

	// one-shot actions stay with DONE set and never fire again
	sa, err := env.schedRepo.Get(env.ctx, domain.ParentBackupJob, job.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, sa)
	assert.Equal(t, env.clock.Now().Unix(), sa.Done)

	fired, err = env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestSchedActionService_RepetitionsRunOut(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)

	_, err := env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID, map[string]string{
		"ACTION": "poweroff", "TIME": "+10", "REPEAT": "3", "DAYS": "1", "END_TYPE": "1", "END_VALUE": "2",
	})
	require.NoError(t, err)

	env.clock.Advance(11 * time.Second)
	fired, err := env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, domain.VMStatePoweroff, env.reloadVM(vm.ID).State)

	sa, err := env.schedRepo.Get(env.ctx, domain.ParentVM, vm.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, sa)
	assert.Equal(t, int64(1), sa.EndValue)
	assert.Equal(t, vm.STime+10+3600, sa.Time)

	// the second firing fails on the powered off VM but still counts
	env.clock.Advance(time.Hour)
	fired, err = env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	list, err := env.sched.List(env.ctx, env.admin, domain.ParentVM, vm.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSchedActionService_ExpiredIsDropped(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)

	_, err := env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID, map[string]string{
		"ACTION": "suspend", "TIME": "1000", "REPEAT": "4", "DAYS": "1", "END_TYPE": "0", "END_VALUE": "500",
	})
	require.NoError(t, err)

	fired, err := env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Equal(t, domain.VMStateRunning, env.reloadVM(vm.ID).State)

	list, err := env.sched.List(env.ctx, env.admin, domain.ParentVM, vm.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSchedActionService_FireVMBackup(t *testing.T) {
	env := newEnv(t)
	vm := env.vm(env.admin, 10)

	_, err := env.sched.Add(env.ctx, env.admin, domain.ParentVM, vm.ID, map[string]string{
		"ACTION": "backup", "ARGS": fmt.Sprintf("%d,YES", env.backupDS.ID), "TIME": "+5",
	})
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	fired, err := env.sched.FireDue(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	require.Eventually(t, func() bool {
		return len(env.reloadVM(vm.ID).Backup.BackupIDs) == 1
	}, 10*time.Second, 20*time.Millisecond)
}
