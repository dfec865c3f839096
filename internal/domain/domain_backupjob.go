package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPriority 默认优先级
	DefaultPriority = 50
	// MaxPriority 最大优先级
	MaxPriority = 99
	// NoID 未设置的对象 ID
	NoID int64 = -1
)

// BackupMode FULL or INCREMENT
type BackupMode string

const (
	ModeFull      BackupMode = "FULL"
	ModeIncrement BackupMode = "INCREMENT"
)

// ParseBackupMode 解析备份模式，空字符串返回默认值 FULL
func ParseBackupMode(s string) (BackupMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FULL":
		return ModeFull, nil
	case "INCREMENT":
		return ModeIncrement, nil
	}
	return "", fmt.Errorf("invalid backup mode %q", s)
}

// Execution SEQUENTIAL or PARALLEL
type Execution string

const (
	ExecutionSequential Execution = "SEQUENTIAL"
	ExecutionParallel   Execution = "PARALLEL"
)

// ParseExecution 解析执行方式，空字符串返回默认值 SEQUENTIAL
func ParseExecution(s string) (Execution, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SEQUENTIAL":
		return ExecutionSequential, nil
	case "PARALLEL":
		return ExecutionParallel, nil
	}
	return "", fmt.Errorf("invalid execution %q", s)
}

// FsFreeze NONE, SUSPEND or AGENT
type FsFreeze string

const (
	FsFreezeNone    FsFreeze = "NONE"
	FsFreezeSuspend FsFreeze = "SUSPEND"
	FsFreezeAgent   FsFreeze = "AGENT"
)

// ParseFsFreeze 解析文件系统冻结方式，空字符串返回默认值 NONE
func ParseFsFreeze(s string) (FsFreeze, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return FsFreezeNone, nil
	case "SUSPEND":
		return FsFreezeSuspend, nil
	case "AGENT":
		return FsFreezeAgent, nil
	}
	return "", fmt.Errorf("invalid fs_freeze %q", s)
}

// ParseYesNo 解析 YES/NO 布尔值
func ParseYesNo(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NO", "FALSE", "0":
		return false, nil
	case "YES", "TRUE", "1":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// YesNo 格式化布尔值
func YesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

// BackupJobConfig backup settings copied onto every member VM
// BackupJobConfig 备份配置，运行时复制到每个成员虚拟机
type BackupJobConfig struct {
	DatastoreID    int64
	Mode           BackupMode
	KeepLast       int
	FsFreeze       FsFreeze
	BackupVolatile bool
	Execution      Execution
}

// DefaultBackupJobConfig 默认备份配置
func DefaultBackupJobConfig(keepLast int) BackupJobConfig {
	return BackupJobConfig{
		DatastoreID: NoID,
		Mode:        ModeFull,
		KeepLast:    keepLast,
		FsFreeze:    FsFreezeNone,
		Execution:   ExecutionSequential,
	}
}

// Buckets 一次运行中虚拟机的分类，四个集合两两互斥
type Buckets struct {
	Updated   []int64          `json:"updated"`
	Outdated  []int64          `json:"outdated"`
	BackingUp []int64          `json:"backingUp"`
	Errored   []int64          `json:"errored"`
	Messages  map[int64]string `json:"messages,omitempty"`
}

// Active 是否仍有待执行或执行中的虚拟机
func (b Buckets) Active() bool {
	return len(b.Outdated) > 0 || len(b.BackingUp) > 0
}

// BackupJob 备份任务聚合
type BackupJob struct {
	ID          int64
	Name        string
	UID         int64
	GID         int64
	UName       string
	GName       string
	Permissions Permissions
	Priority    int
	Lock        LockLevel
	LockTime    int64

	Config    BackupJobConfig
	BackupVMs []int64 // 有序，唯一

	// Attributes 用户自定义属性
	Attributes map[string]string

	Error   string
	Buckets Buckets

	SchedActions []*SchedAction

	LastBackupTime     int64
	LastBackupDuration int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasVM 是否包含虚拟机
func (j *BackupJob) HasVM(vmID int64) bool {
	for _, id := range j.BackupVMs {
		if id == vmID {
			return true
		}
	}
	return false
}

// ParseIDList parses "4,2,0" keeping order and dropping duplicates
// ParseIDList 解析逗号分隔的 ID 列表，保持顺序并去重
func ParseIDList(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int64{}, nil
	}
	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// JoinIDs 格式化 ID 列表
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// SortedIDs 返回升序排列的副本
func SortedIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JobCommand enumerates the operations on a backup job
// Every command carries its own authorization level and lock behaviour
// JobCommand 备份任务操作枚举，每个操作自带权限级别与锁行为
type JobCommand int

const (
	CmdShow JobCommand = iota
	CmdUpdate
	CmdDelete
	CmdRename
	CmdChown
	CmdChgrp
	CmdChmod
	CmdLock
	CmdUnlock
	CmdPriority
	CmdBackup
	CmdRetry
	CmdCancel
	CmdSchedAdd
	CmdSchedUpdate
	CmdSchedDelete
)

var jobCommandNames = map[JobCommand]string{
	CmdShow:        "show",
	CmdUpdate:      "update",
	CmdDelete:      "delete",
	CmdRename:      "rename",
	CmdChown:       "chown",
	CmdChgrp:       "chgrp",
	CmdChmod:       "chmod",
	CmdLock:        "lock",
	CmdUnlock:      "unlock",
	CmdPriority:    "priority",
	CmdBackup:      "backup",
	CmdRetry:       "retry",
	CmdCancel:      "cancel",
	CmdSchedAdd:    "sched-add",
	CmdSchedUpdate: "sched-update",
	CmdSchedDelete: "sched-delete",
}

func (c JobCommand) String() string {
	if s, ok := jobCommandNames[c]; ok {
		return s
	}
	return "unknown"
}

// AuthLevel 操作所需权限级别
func (c JobCommand) AuthLevel() AuthLevel {
	switch c {
	case CmdShow:
		return AuthUse
	case CmdChown:
		return AuthAdmin
	default:
		return AuthManage
	}
}

// Lockable 操作是否受对象锁限制
func (c JobCommand) Lockable() bool {
	switch c {
	case CmdShow, CmdUnlock, CmdLock:
		return false
	}
	return true
}
