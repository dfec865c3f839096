package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/workerpool"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Scheduled action field names, shared by templates and the API
// 计划任务字段名，模板与 API 共用
const (
	SchedTime     = "TIME"
	SchedRepeat   = "REPEAT"
	SchedDays     = "DAYS"
	SchedEndType  = "END_TYPE"
	SchedEndValue = "END_VALUE"
	SchedWarning  = "WARNING"
	SchedArgs     = "ARGS"
	SchedAction   = "ACTION"
)

// SchedActionService 计划任务业务服务接口
type SchedActionService interface {
	// Add 为虚拟机或备份任务创建计划任务
	Add(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, fields map[string]string) (*domain.SchedAction, error)

	// Update merges fields into an action, ID, parent, ACTION and DONE never change
	// END_VALUE only changes together with END_TYPE
	// Update 合并字段；ID、父对象、ACTION 与 DONE 不变，END_VALUE 仅随 END_TYPE 一起修改
	Update(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, id int, fields map[string]string) (*domain.SchedAction, error)

	Delete(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, id int) error

	List(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64) ([]*domain.SchedAction, error)

	// FireDue fires every due action and returns how many fired
	// FireDue 执行所有到期的计划任务，返回执行数量
	FireDue(ctx context.Context) (int, error)
}

// requesterResolver 由用户 ID 构建操作身份
type requesterResolver interface {
	Requester(ctx context.Context, uid int64) (domain.Requester, error)
}

type schedActionService struct {
	schedRepo domain.SchedActionRepository
	vmRepo    domain.VMRepository
	jobRepo   domain.BackupJobRepository
	scheduler BackupScheduler
	vms       VMService
	users     requesterResolver
	pool      *workerpool.Pool
	clock     clock.Clock
	logger    *zap.Logger
}

// NewSchedActionService 创建 SchedActionService 实例
func NewSchedActionService(
	schedRepo domain.SchedActionRepository,
	vmRepo domain.VMRepository,
	jobRepo domain.BackupJobRepository,
	scheduler BackupScheduler,
	vms VMService,
	users requesterResolver,
	pool *workerpool.Pool,
	clk clock.Clock,
	logger *zap.Logger,
) SchedActionService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &schedActionService{
		schedRepo: schedRepo,
		vmRepo:    vmRepo,
		jobRepo:   jobRepo,
		scheduler: scheduler,
		vms:       vms,
		users:     users,
		pool:      pool,
		clock:     clk,
		logger:    logger,
	}
}

var vmSchedActions = map[domain.VMAction]struct{}{
	domain.VMActionBackup:    {},
	domain.VMActionPoweroff:  {},
	domain.VMActionSuspend:   {},
	domain.VMActionResume:    {},
	domain.VMActionUndeploy:  {},
	domain.VMActionTerminate: {},
}

// buildSchedAction creates a validated action from fields, relative times use base
// buildSchedAction 由字段创建并校验计划任务，相对时间以 base 为基准
func buildSchedAction(parentType domain.ParentType, parentID int64, fields map[string]string, base time.Time) (*domain.SchedAction, error) {
	fields = upperKeys(fields)
	action := strings.ToLower(strings.TrimSpace(fields[SchedAction]))
	if action == "" {
		action = string(domain.VMActionBackup)
	}
	if err := checkSchedAction(parentType, action, fields[SchedArgs]); err != nil {
		return nil, err
	}

	sa := domain.NewSchedAction(parentType, parentID, action)
	t, err := domain.ParseSchedTime(fields[SchedTime], base)
	if err != nil {
		return nil, schedFieldErr(err)
	}
	sa.Time = t
	if err := mergeSchedFields(sa, fields, true); err != nil {
		return nil, err
	}
	return sa, nil
}

func checkSchedAction(parentType domain.ParentType, action, args string) error {
	switch parentType {
	case domain.ParentBackupJob:
		if action != string(domain.VMActionBackup) {
			return codeErr(code.ErrorSchedInvalidAction, action)
		}
	case domain.ParentVM:
		if _, ok := vmSchedActions[domain.VMAction(action)]; !ok {
			return codeErr(code.ErrorSchedInvalidAction, action)
		}
		if action == string(domain.VMActionBackup) {
			if _, _, err := parseBackupArgs(args); err != nil {
				return err
			}
		}
	default:
		return codeErr(code.ErrorInvalidParams, string(parentType))
	}
	return nil
}

// mergeSchedFields applies the recurrence fields and revalidates the action
// mergeSchedFields 应用重复规则字段并重新校验
func mergeSchedFields(sa *domain.SchedAction, fields map[string]string, creating bool) error {
	if v, ok := fields[SchedRepeat]; ok {
		r, err := domain.ParseRepeat(v)
		if err != nil {
			return schedFieldErr(err)
		}
		sa.Repeat = r
	}
	if v, ok := fields[SchedDays]; ok {
		sa.Days = strings.TrimSpace(v)
	}
	endType, hasEndType := fields[SchedEndType]
	if hasEndType {
		e, err := domain.ParseEndType(endType)
		if err != nil {
			return schedFieldErr(err)
		}
		sa.EndType = e
	}
	if v, ok := fields[SchedEndValue]; ok && (creating || hasEndType) {
		n, err := domain.ParseEndValue(v)
		if err != nil {
			return schedFieldErr(err)
		}
		sa.EndValue = n
	}
	if v, ok := fields[SchedWarning]; ok {
		n, err := domain.ParseWarning(v)
		if err != nil {
			return schedFieldErr(err)
		}
		sa.Warning = n
	}
	if v, ok := fields[SchedArgs]; ok {
		sa.Args = strings.TrimSpace(v)
	}

	if sa.Repeat == domain.RepeatNone {
		sa.Days = ""
	} else if days, err := domain.ParseDays(sa.Repeat, sa.Days); err == nil {
		sa.Days = joinDays(days)
	}
	if err := sa.Validate(); err != nil {
		return schedFieldErr(err)
	}
	return nil
}

func joinDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, ",")
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

// parent authorizes r on the parent object and returns the base of relative times
// parent 校验对父对象的权限，返回相对时间的基准
func (s *schedActionService) parent(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, cmd domain.JobCommand) (time.Time, error) {
	switch parentType {
	case domain.ParentVM:
		vm, err := s.vmRepo.GetByID(ctx, parentID)
		if err != nil {
			return time.Time{}, dbErr(err)
		}
		if vm == nil {
			return time.Time{}, codeErr(code.ErrorVMNotFound, fmt.Sprintf("VM %d", parentID))
		}
		if !domain.Authorize(r, vm.UID, vm.GID, vm.Permissions, cmd.AuthLevel()) {
			return time.Time{}, code.ErrorPermissionDenied
		}
		if cmd != domain.CmdShow && vm.State == domain.VMStateDone {
			return time.Time{}, code.ErrorVMDone
		}
		return time.Unix(vm.STime, 0), nil
	case domain.ParentBackupJob:
		job, err := s.jobRepo.GetByID(ctx, parentID)
		if err != nil {
			return time.Time{}, dbErr(err)
		}
		if job == nil {
			return time.Time{}, codeErr(code.ErrorBackupJobNotFound, fmt.Sprintf("backup job %d", parentID))
		}
		if err := checkJobCommand(r, job, cmd); err != nil {
			return time.Time{}, err
		}
		return job.CreatedAt, nil
	}
	return time.Time{}, codeErr(code.ErrorInvalidParams, string(parentType))
}

func (s *schedActionService) Add(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, fields map[string]string) (sa *domain.SchedAction, err error) {
	if parentType == domain.ParentBackupJob {
		defer func() { observeCommand(domain.CmdSchedAdd, err) }()
	}
	base, err := s.parent(ctx, r, parentType, parentID, domain.CmdSchedAdd)
	if err != nil {
		return nil, err
	}
	sa, err = buildSchedAction(parentType, parentID, fields, base)
	if err != nil {
		return nil, err
	}
	sa, err = s.schedRepo.Create(ctx, sa)
	if err != nil {
		return nil, dbErr(err)
	}
	s.logger.Info("scheduled action added",
		zap.String("parentType", string(parentType)),
		zap.Int64("parentId", parentID),
		zap.Int(logger.FieldSchedID, sa.ID),
		zap.Int64("time", sa.Time))
	return sa, nil
}

func (s *schedActionService) load(ctx context.Context, parentType domain.ParentType, parentID int64, id int) (*domain.SchedAction, error) {
	sa, err := s.schedRepo.Get(ctx, parentType, parentID, id)
	if err != nil {
		return nil, dbErr(err)
	}
	if sa == nil {
		return nil, codeErr(code.ErrorSchedActionNotFound, fmt.Sprintf("%s %d sched %d", parentType, parentID, id))
	}
	return sa, nil
}

func (s *schedActionService) Update(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, id int, fields map[string]string) (sa *domain.SchedAction, err error) {
	if parentType == domain.ParentBackupJob {
		defer func() { observeCommand(domain.CmdSchedUpdate, err) }()
	}
	base, err := s.parent(ctx, r, parentType, parentID, domain.CmdSchedUpdate)
	if err != nil {
		return nil, err
	}
	sa, err = s.load(ctx, parentType, parentID, id)
	if err != nil {
		return nil, err
	}

	fields = upperKeys(fields)
	if v, ok := fields[SchedTime]; ok {
		t, err := domain.ParseSchedTime(v, base)
		if err != nil {
			return nil, schedFieldErr(err)
		}
		sa.Time = t
	}
	if err := mergeSchedFields(sa, fields, false); err != nil {
		return nil, err
	}
	if err := checkSchedAction(parentType, sa.Action, sa.Args); err != nil {
		return nil, err
	}
	if err := s.schedRepo.Update(ctx, sa); err != nil {
		return nil, dbErr(err)
	}
	return sa, nil
}

func (s *schedActionService) Delete(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64, id int) (err error) {
	if parentType == domain.ParentBackupJob {
		defer func() { observeCommand(domain.CmdSchedDelete, err) }()
	}
	if _, err := s.parent(ctx, r, parentType, parentID, domain.CmdSchedDelete); err != nil {
		return err
	}
	if _, err := s.load(ctx, parentType, parentID, id); err != nil {
		return err
	}
	return dbErr(s.schedRepo.Delete(ctx, parentType, parentID, id))
}

func (s *schedActionService) List(ctx context.Context, r domain.Requester, parentType domain.ParentType, parentID int64) ([]*domain.SchedAction, error) {
	if _, err := s.parent(ctx, r, parentType, parentID, domain.CmdShow); err != nil {
		return nil, err
	}
	list, err := s.schedRepo.ListByParent(ctx, parentType, parentID)
	return list, dbErr(err)
}

func (s *schedActionService) FireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.schedRepo.ListDue(ctx, now.Unix())
	if err != nil {
		return 0, dbErr(err)
	}

	fired := 0
	for _, sa := range due {
		if sa.Expired() {
			s.logger.Info("scheduled action expired",
				zap.String("parentType", string(sa.ParentType)),
				zap.Int64("parentId", sa.ParentID),
				zap.Int(logger.FieldSchedID, sa.ID))
			if err := s.schedRepo.Delete(ctx, sa.ParentType, sa.ParentID, sa.ID); err != nil {
				s.logger.Error("remove expired scheduled action", zap.Error(err))
			}
			continue
		}

		s.fire(ctx, sa)
		fired++

		prev := time.Unix(sa.Time, 0)
		sa.Done = now.Unix()
		if sa.EndType == domain.EndReps {
			sa.EndValue--
		}
		next, ok := domain.NextFire(prev, now, sa.Rule())
		switch {
		case ok:
			sa.Time = next.Unix()
			err = s.schedRepo.Update(ctx, sa)
		case sa.Repeat == domain.RepeatNone:
			err = s.schedRepo.Update(ctx, sa)
		default:
			err = s.schedRepo.Delete(ctx, sa.ParentType, sa.ParentID, sa.ID)
		}
		if err != nil {
			s.logger.Error("advance scheduled action failed",
				zap.Int64("parentId", sa.ParentID), zap.Int(logger.FieldSchedID, sa.ID), zap.Error(err))
		}
	}
	return fired, nil
}

// fire triggers the action, failures are reported on the parent and never stop the loop
// fire 触发计划任务，失败记录在父对象上，不影响后续任务
func (s *schedActionService) fire(ctx context.Context, sa *domain.SchedAction) {
	log := s.logger.With(
		zap.String("parentType", string(sa.ParentType)),
		zap.Int64("parentId", sa.ParentID),
		zap.Int(logger.FieldSchedID, sa.ID),
		zap.String(logger.FieldAction, sa.Action))

	report := func(err error) {
		metrics.SchedActionsFiredTotal.WithLabelValues(string(sa.ParentType), sa.Action, metrics.Status(err)).Inc()
		if err != nil {
			log.Warn("scheduled action failed", zap.Error(err))
		} else {
			log.Info("scheduled action fired")
		}
	}

	switch sa.ParentType {
	case domain.ParentBackupJob:
		report(s.fireJob(ctx, sa.ParentID))
	case domain.ParentVM:
		action, vmID, args := domain.VMAction(sa.Action), sa.ParentID, sa.Args
		if action != domain.VMActionBackup {
			report(s.vms.scheduled(ctx, vmID, action, args))
			return
		}
		err := s.pool.SubmitAsync(context.Background(), func(ctx context.Context) error {
			err := s.vms.scheduled(ctx, vmID, action, args)
			report(err)
			return err
		})
		if err != nil {
			report(err)
		}
	}
}

func (s *schedActionService) fireJob(ctx context.Context, jobID int64) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return dbErr(err)
	}
	if job == nil {
		return codeErr(code.ErrorBackupJobNotFound, fmt.Sprintf("backup job %d", jobID))
	}
	r, err := s.users.Requester(ctx, job.UID)
	if err != nil {
		return err
	}
	return s.scheduler.RunBackup(ctx, r, []int64{jobID})
}
