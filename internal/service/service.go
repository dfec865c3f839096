package service

import (
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/pkg/code"

	"github.com/jinzhu/copier"
)

// dbErr wraps a repository failure
// dbErr 包装仓储层错误
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	return code.ErrorDBQuery.Clone().WithDetails(err.Error())
}

// codeErr clones a registered code and attaches details
// codeErr 复制注册错误码并附加详情
func codeErr(c *code.Code, details ...string) error {
	return c.Clone().WithDetails(details...)
}

// requireAdmin 要求管理员身份
func requireAdmin(r domain.Requester) error {
	if !r.Admin {
		return code.ErrorNotAdmin
	}
	return nil
}

// schedFieldErr maps a scheduled action field error to its code
// schedFieldErr 将计划任务字段错误映射为错误码
func schedFieldErr(err error) error {
	fe, ok := err.(*domain.SchedFieldError)
	if !ok {
		return codeErr(code.ErrorInvalidTemplate, err.Error())
	}
	switch fe.Field {
	case domain.SchedFieldTime:
		return codeErr(code.ErrorSchedInvalidTime, fe.Msg)
	case domain.SchedFieldRepeat:
		return codeErr(code.ErrorSchedInvalidRepeat, fe.Msg)
	case domain.SchedFieldDays:
		return codeErr(code.ErrorSchedInvalidDays, fe.Msg)
	case domain.SchedFieldEndType:
		return codeErr(code.ErrorSchedInvalidEndType, fe.Msg)
	case domain.SchedFieldEndValue:
		return codeErr(code.ErrorSchedInvalidEndValue, fe.Msg)
	case domain.SchedFieldWarning:
		return codeErr(code.ErrorSchedInvalidWarning, fe.Msg)
	case domain.SchedFieldAction:
		return codeErr(code.ErrorSchedInvalidAction, fe.Msg)
	}
	return codeErr(code.ErrorInvalidTemplate, fe.Error())
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// checkJobCommand applies the ACL and the job lock for one command
// checkJobCommand 校验操作权限与任务锁
func checkJobCommand(r domain.Requester, job *domain.BackupJob, cmd domain.JobCommand) error {
	if !domain.Authorize(r, job.UID, job.GID, job.Permissions, cmd.AuthLevel()) {
		return codeErr(code.ErrorPermissionDenied, cmd.String())
	}
	if cmd.Lockable() && job.Lock.Blocks(cmd.AuthLevel()) {
		return codeErr(code.ErrorBackupJobLocked, job.Lock.String())
	}
	return nil
}

func observeCommand(cmd domain.JobCommand, err error) {
	metrics.JobCommandsTotal.WithLabelValues(cmd.String(), metrics.Status(err)).Inc()
}

// jobSettings copies the job backup settings onto a VM config, reset reports a mode change
// A mode change starts a new incremental chain.
// jobSettings 将任务的备份设置复制到虚拟机配置，模式变化时 reset 为 true，需重置增量链
func jobSettings(cur domain.BackupConfig, job *domain.BackupJob) (cfg domain.BackupConfig, reset bool, err error) {
	cfg = cur
	if err := copier.Copy(&cfg, &job.Config); err != nil {
		return cur, false, codeErr(code.ErrorServerInternal, err.Error())
	}
	cfg.BackupJobID = job.ID
	if cfg.Mode != cur.Mode {
		cfg.ResetChain()
		reset = true
	}
	return cfg, reset, nil
}
