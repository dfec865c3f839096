package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Requester 发起操作的身份
type Requester struct {
	UID    int64
	Name   string
	GID    int64   // 主组
	Groups []int64 // 所属的全部组（包含主组）
	Admin  bool    // 属于管理员组
}

// InGroup 是否为组成员
func (r Requester) InGroup(gid int64) bool {
	if r.GID == gid {
		return true
	}
	for _, g := range r.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// AuthLevel operation authorization level
// AuthLevel 操作所需的权限级别
type AuthLevel int

const (
	AuthUse    AuthLevel = 1
	AuthManage AuthLevel = 2
	AuthAdmin  AuthLevel = 3
)

func (l AuthLevel) String() string {
	switch l {
	case AuthUse:
		return "USE"
	case AuthManage:
		return "MANAGE"
	case AuthAdmin:
		return "ADMIN"
	}
	return "UNKNOWN"
}

// Permissions owner/group/other x use/manage/admin
// Permissions 属主/组/其他 x 使用/管理/管理员
type Permissions struct {
	OwnerU bool `json:"ownerU"`
	OwnerM bool `json:"ownerM"`
	OwnerA bool `json:"ownerA"`
	GroupU bool `json:"groupU"`
	GroupM bool `json:"groupM"`
	GroupA bool `json:"groupA"`
	OtherU bool `json:"otherU"`
	OtherM bool `json:"otherM"`
	OtherA bool `json:"otherA"`
}

// DefaultPermissions um- --- ---
func DefaultPermissions() Permissions {
	return Permissions{OwnerU: true, OwnerM: true}
}

// ParsePermissions parses an octal string such as "640", each digit is use(4)+manage(2)+admin(1)
// ParsePermissions 解析八进制权限字符串，每一位为 使用(4)+管理(2)+管理员(1)
func ParsePermissions(octal string) (Permissions, error) {
	octal = strings.TrimSpace(octal)
	if len(octal) != 3 {
		return Permissions{}, fmt.Errorf("permissions must be 3 octal digits: %q", octal)
	}
	var digits [3]int
	for i, c := range octal {
		d, err := strconv.Atoi(string(c))
		if err != nil || d < 0 || d > 7 {
			return Permissions{}, fmt.Errorf("invalid octal digit %q", c)
		}
		digits[i] = d
	}
	return Permissions{
		OwnerU: digits[0]&4 != 0, OwnerM: digits[0]&2 != 0, OwnerA: digits[0]&1 != 0,
		GroupU: digits[1]&4 != 0, GroupM: digits[1]&2 != 0, GroupA: digits[1]&1 != 0,
		OtherU: digits[2]&4 != 0, OtherM: digits[2]&2 != 0, OtherA: digits[2]&1 != 0,
	}, nil
}

func digit(u, m, a bool) int {
	d := 0
	if u {
		d |= 4
	}
	if m {
		d |= 2
	}
	if a {
		d |= 1
	}
	return d
}

// Octal 返回八进制表示，例如 "640"
func (p Permissions) Octal() string {
	return fmt.Sprintf("%d%d%d",
		digit(p.OwnerU, p.OwnerM, p.OwnerA),
		digit(p.GroupU, p.GroupM, p.GroupA),
		digit(p.OtherU, p.OtherM, p.OtherA))
}

// String 返回 "um-u-----" 形式
func (p Permissions) String() string {
	flag := func(b bool, c byte) byte {
		if b {
			return c
		}
		return '-'
	}
	return string([]byte{
		flag(p.OwnerU, 'u'), flag(p.OwnerM, 'm'), flag(p.OwnerA, 'a'),
		flag(p.GroupU, 'u'), flag(p.GroupM, 'm'), flag(p.GroupA, 'a'),
		flag(p.OtherU, 'u'), flag(p.OtherM, 'm'), flag(p.OtherA, 'a'),
	})
}

func (p Permissions) allows(u, m, a bool, level AuthLevel) bool {
	switch level {
	case AuthUse:
		return u
	case AuthManage:
		return m
	case AuthAdmin:
		return a
	}
	return false
}

// Authorize 判断身份对 (uid, gid, perms) 所描述对象是否拥有 level 权限
// Admins always pass. Owner, group and other triplets are OR-ed.
func Authorize(r Requester, uid, gid int64, perms Permissions, level AuthLevel) bool {
	if r.Admin {
		return true
	}
	if r.UID == uid && perms.allows(perms.OwnerU, perms.OwnerM, perms.OwnerA, level) {
		return true
	}
	if r.InGroup(gid) && perms.allows(perms.GroupU, perms.GroupM, perms.GroupA, level) {
		return true
	}
	return perms.allows(perms.OtherU, perms.OtherM, perms.OtherA, level)
}

// LockLevel object lock level, 0 means unlocked
// LockLevel 对象锁级别，0 表示未锁定
type LockLevel int

const (
	LockNone   LockLevel = 0
	LockUse    LockLevel = 1
	LockManage LockLevel = 2
	LockAdmin  LockLevel = 3
	LockAll    LockLevel = 4
)

// ParseLockLevel 解析 USE/MANAGE/ADMIN/ALL 或数字
func ParseLockLevel(s string) (LockLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "USE", "1":
		return LockUse, nil
	case "MANAGE", "2":
		return LockManage, nil
	case "ADMIN", "3":
		return LockAdmin, nil
	case "ALL", "4":
		return LockAll, nil
	}
	return LockNone, fmt.Errorf("invalid lock level %q", s)
}

func (l LockLevel) String() string {
	switch l {
	case LockNone:
		return "NONE"
	case LockUse:
		return "USE"
	case LockManage:
		return "MANAGE"
	case LockAdmin:
		return "ADMIN"
	case LockAll:
		return "ALL"
	}
	return "UNKNOWN"
}

// Blocks reports whether the lock rejects an operation of the given level
// USE and ALL block every level, MANAGE blocks manage and admin, ADMIN blocks admin only
// Blocks 判断锁是否拒绝该级别的操作
func (l LockLevel) Blocks(level AuthLevel) bool {
	if l == LockNone {
		return false
	}
	effective := l
	if l == LockAll {
		effective = LockUse
	}
	return int(level) >= int(effective)
}
