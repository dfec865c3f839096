package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVMState_Transition(t *testing.T) {
	cases := []struct {
		from   VMState
		action VMAction
		to     VMState
		ok     bool
	}{
		{VMStatePending, VMActionDeploy, VMStateRunning, true},
		{VMStateRunning, VMActionDeploy, VMStateRunning, false},
		{VMStateRunning, VMActionSuspend, VMStateSuspended, true},
		{VMStatePoweroff, VMActionUndeploy, VMStateUndeployed, true},
		{VMStateUndeployed, VMActionDeploy, VMStateRunning, true},
		{VMStatePending, VMActionTerminate, VMStateDone, true},
	}
	for _, c := range cases {
		to, ok := c.from.Transition(c.action)
		assert.Equal(t, c.ok, ok, "%s -> %s", c.from, c.action)
		if ok {
			assert.Equal(t, c.to, to)
		}
	}
}

func TestVMState_BackupDeferred(t *testing.T) {
	for _, s := range []VMState{VMStatePending, VMStateSuspended, VMStateUndeployed} {
		assert.True(t, s.BackupDeferred(), s)
	}
	// DONE VMs are attempted so the run records them as errors
	for _, s := range []VMState{VMStateRunning, VMStatePoweroff, VMStateDone} {
		assert.False(t, s.BackupDeferred(), s)
	}
}
