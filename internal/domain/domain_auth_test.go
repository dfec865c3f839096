package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissions_Octal(t *testing.T) {
	p, err := ParsePermissions("640")
	require.NoError(t, err)
	assert.Equal(t, Permissions{OwnerU: true, OwnerM: true, GroupU: true}, p)
	assert.Equal(t, "640", p.Octal())
	assert.Equal(t, "um-u-----", p.String())

	assert.Equal(t, "600", DefaultPermissions().Octal())

	for _, bad := range []string{"", "64", "6400", "80a", "9aa"} {
		_, err := ParsePermissions(bad)
		assert.Error(t, err, bad)
	}
}

func TestAuthorize(t *testing.T) {
	owner := Requester{UID: 2, GID: 1}
	member := Requester{UID: 3, GID: 1}
	stranger := Requester{UID: 4, GID: 7}
	admin := Requester{UID: 0, GID: 0, Admin: true}

	perms := DefaultPermissions()
	assert.True(t, Authorize(owner, 2, 1, perms, AuthManage))
	assert.False(t, Authorize(owner, 2, 1, perms, AuthAdmin))
	assert.False(t, Authorize(member, 2, 1, perms, AuthUse))
	assert.False(t, Authorize(stranger, 2, 1, perms, AuthUse))
	assert.True(t, Authorize(admin, 2, 1, perms, AuthAdmin))

	open, _ := ParsePermissions("666")
	assert.True(t, Authorize(stranger, 2, 1, open, AuthManage))
	assert.False(t, Authorize(stranger, 2, 1, open, AuthAdmin))

	member.Groups = []int64{9}
	assert.True(t, member.InGroup(9))
	assert.True(t, member.InGroup(1))
}

func TestLockLevel_Blocks(t *testing.T) {
	assert.False(t, LockNone.Blocks(AuthAdmin))

	assert.True(t, LockUse.Blocks(AuthUse))
	assert.True(t, LockUse.Blocks(AuthManage))

	assert.False(t, LockManage.Blocks(AuthUse))
	assert.True(t, LockManage.Blocks(AuthManage))

	assert.False(t, LockAdmin.Blocks(AuthManage))
	assert.True(t, LockAdmin.Blocks(AuthAdmin))

	assert.True(t, LockAll.Blocks(AuthUse))

	l, err := ParseLockLevel("")
	require.NoError(t, err)
	assert.Equal(t, LockUse, l)
	_, err = ParseLockLevel("bogus")
	assert.Error(t, err)
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList(" 4, 2,0,2 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 0}, ids)
	assert.Equal(t, "4,2,0", JoinIDs(ids))
	assert.Equal(t, []int64{0, 2, 4}, SortedIDs(ids))

	ids, err = ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseIDList("1,a")
	assert.Error(t, err)
	_, err = ParseIDList("-1")
	assert.Error(t, err)
}

func TestVMState_TransitionPowerCycle(t *testing.T) {
	s, ok := VMStateRunning.Transition(VMActionPoweroff)
	assert.True(t, ok)
	assert.Equal(t, VMStatePoweroff, s)

	_, ok = VMStatePoweroff.Transition(VMActionSuspend)
	assert.False(t, ok)

	s, ok = VMStateSuspended.Transition(VMActionResume)
	assert.True(t, ok)
	assert.Equal(t, VMStateRunning, s)

	_, ok = VMStateDone.Transition(VMActionResume)
	assert.False(t, ok)
}
