package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/template"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Template attribute names of a backup job
// 备份任务模板属性名
const (
	attrName           = "NAME"
	attrPriority       = "PRIORITY"
	attrBackupVMs      = "BACKUP_VMS"
	attrDatastoreID    = "DATASTORE_ID"
	attrMode           = "MODE"
	attrKeepLast       = "KEEP_LAST"
	attrFsFreeze       = "FS_FREEZE"
	attrBackupVolatile = "BACKUP_VOLATILE"
	attrExecution      = "EXECUTION"
	attrSchedAction    = "SCHED_ACTION"
)

// reservedAttrs are never stored as user attributes
var reservedAttrs = map[string]struct{}{
	attrName: {}, attrPriority: {}, attrBackupVMs: {}, attrDatastoreID: {}, attrMode: {},
	attrKeepLast: {}, attrFsFreeze: {}, attrBackupVolatile: {}, attrExecution: {}, attrSchedAction: {},
	"ERROR": {},
}

// BackupJobService 备份任务业务服务接口
type BackupJobService interface {
	// Create 由模板创建备份任务
	Create(ctx context.Context, r domain.Requester, tmpl string) (*domain.BackupJob, error)

	// Update merges (append) or replaces the job template, NAME, PRIORITY and SCHED_ACTION are ignored
	// Update 合并或替换任务模板，忽略 NAME、PRIORITY 与 SCHED_ACTION
	Update(ctx context.Context, r domain.Requester, id int64, tmpl string, appendMode bool) (*domain.BackupJob, error)

	// Delete 清除成员虚拟机的引用、删除计划任务后删除备份任务
	Delete(ctx context.Context, r domain.Requester, id int64) error

	Rename(ctx context.Context, r domain.Requester, id int64, name string) error

	// Chown gid < 0 keeps the current group
	// Chown gid 小于 0 时保持原组
	Chown(ctx context.Context, r domain.Requester, id, uid, gid int64) error

	Chgrp(ctx context.Context, r domain.Requester, id, gid int64) error
	Chmod(ctx context.Context, r domain.Requester, id int64, octal string) error
	Lock(ctx context.Context, r domain.Requester, id int64, level domain.LockLevel) error
	Unlock(ctx context.Context, r domain.Requester, id int64) error
	SetPriority(ctx context.Context, r domain.Requester, id int64, priority int) error

	// Get 获取备份任务及其计划任务
	Get(ctx context.Context, r domain.Requester, id int64) (*domain.BackupJob, error)

	// List 返回请求者具有 USE 权限的备份任务
	List(ctx context.Context, r domain.Requester) ([]*domain.BackupJob, error)

	// DetachVM removes a VM from the job owning it
	// DetachVM 将虚拟机移出其所属备份任务
	DetachVM(ctx context.Context, vmID int64) error
}

type backupJobService struct {
	jobRepo   domain.BackupJobRepository
	vmRepo    domain.VMRepository
	dsRepo    domain.DatastoreRepository
	schedRepo domain.SchedActionRepository
	userRepo  domain.UserRepository
	groupRepo domain.GroupRepository
	tx        domain.Transactor
	scheduler BackupScheduler
	clock     clock.Clock
	config    *ServiceConfig
	logger    *zap.Logger

	// mu serializes writes of job rows and VM assignment
	mu sync.Mutex
}

// NewBackupJobService 创建 BackupJobService 实例
func NewBackupJobService(
	jobRepo domain.BackupJobRepository,
	vmRepo domain.VMRepository,
	dsRepo domain.DatastoreRepository,
	schedRepo domain.SchedActionRepository,
	userRepo domain.UserRepository,
	groupRepo domain.GroupRepository,
	tx domain.Transactor,
	scheduler BackupScheduler,
	clk clock.Clock,
	config *ServiceConfig,
	logger *zap.Logger,
) BackupJobService {
	if clk == nil {
		clk = clock.WallClock
	}
	svc := &backupJobService{
		jobRepo:   jobRepo,
		vmRepo:    vmRepo,
		dsRepo:    dsRepo,
		schedRepo: schedRepo,
		userRepo:  userRepo,
		groupRepo: groupRepo,
		tx:        tx,
		scheduler: scheduler,
		clock:     clk,
		config:    config,
		logger:    logger,
	}
	// runs prune and copy settings under the same lock as assignment
	if sched, ok := scheduler.(*backupScheduler); ok {
		sched.members = svc
	}
	return svc
}

// checkPriority 校验优先级范围与用户上限
func (s *backupJobService) checkPriority(r domain.Requester, p int) error {
	if p < 0 || p > domain.MaxPriority {
		return codeErr(code.ErrorPriorityOutOfRange, strconv.Itoa(p))
	}
	if !r.Admin && p > s.config.Backup.UserMaxPriority {
		return codeErr(code.ErrorInvalidPriority,
			fmt.Sprintf("%d above %d", p, s.config.Backup.UserMaxPriority))
	}
	return nil
}

// parseConfig applies the config attributes of tpl on top of base
// vms is nil when BACKUP_VMS is absent
// parseConfig 在 base 上应用模板中的配置属性，缺少 BACKUP_VMS 时 vms 为 nil
func (s *backupJobService) parseConfig(ctx context.Context, tpl *template.Template, base domain.BackupJobConfig) (domain.BackupJobConfig, []int64, error) {
	cfg := base
	var vms []int64

	if v, ok := tpl.Get(attrBackupVMs); ok {
		ids, err := domain.ParseIDList(v)
		if err != nil {
			return cfg, nil, codeErr(code.ErrorInvalidBackupVMs, err.Error())
		}
		vms = ids
	}
	if v, ok := tpl.Get(attrDatastoreID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, nil, codeErr(code.ErrorInvalidDatastoreID, v)
		}
		if id >= 0 {
			ds, err := s.dsRepo.GetByID(ctx, id)
			if err != nil {
				return cfg, nil, dbErr(err)
			}
			if ds == nil || ds.Type != domain.DatastoreBackup {
				return cfg, nil, codeErr(code.ErrorInvalidDatastoreID, v)
			}
		} else {
			id = domain.NoID
		}
		cfg.DatastoreID = id
	}
	if v, ok := tpl.Get(attrMode); ok {
		m, err := domain.ParseBackupMode(v)
		if err != nil {
			return cfg, nil, codeErr(code.ErrorInvalidBackupMode, err.Error())
		}
		cfg.Mode = m
	}
	if v, ok := tpl.Get(attrKeepLast); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, nil, codeErr(code.ErrorInvalidKeepLast, v)
		}
		cfg.KeepLast = n
	}
	if v, ok := tpl.Get(attrFsFreeze); ok {
		f, err := domain.ParseFsFreeze(v)
		if err != nil {
			return cfg, nil, codeErr(code.ErrorInvalidFsFreeze, err.Error())
		}
		cfg.FsFreeze = f
	}
	if v, ok := tpl.Get(attrBackupVolatile); ok {
		b, err := domain.ParseYesNo(v)
		if err != nil {
			return cfg, nil, codeErr(code.ErrorInvalidParams, err.Error())
		}
		cfg.BackupVolatile = b
	}
	if v, ok := tpl.Get(attrExecution); ok {
		e, err := domain.ParseExecution(v)
		if err != nil {
			return cfg, nil, codeErr(code.ErrorInvalidExecution, err.Error())
		}
		cfg.Execution = e
	}
	return cfg, vms, nil
}

func userAttributes(tpl *template.Template) map[string]string {
	out := map[string]string{}
	for k, v := range tpl.Values() {
		if _, ok := reservedAttrs[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func parseTemplate(tmpl string) (*template.Template, error) {
	tpl, err := template.Parse(tmpl)
	if err != nil {
		return nil, codeErr(code.ErrorInvalidTemplate, err.Error())
	}
	return tpl, nil
}

// assign makes job the owner of vms, ctx carries the transaction
// Every VM of vms must not be listed by another job. Departed VMs lose their back reference.
// assign 在事务中将 vms 分配给 job，已移出的虚拟机清除反向引用
func (s *backupJobService) assign(ctx context.Context, job *domain.BackupJob, prev []int64) error {
	jobs, err := s.jobRepo.List(ctx)
	if err != nil {
		return dbErr(err)
	}
	for _, other := range jobs {
		if other.ID == job.ID {
			continue
		}
		for _, id := range job.BackupVMs {
			if other.HasVM(id) {
				return codeErr(code.ErrorVMAlreadyAssigned,
					fmt.Sprintf("VM %d belongs to backup job %d", id, other.ID))
			}
		}
	}

	var departed []int64
	for _, id := range prev {
		if !job.HasVM(id) {
			departed = append(departed, id)
		}
	}
	if err := s.vmRepo.SetBackupJobID(ctx, departed, domain.NoID); err != nil {
		return dbErr(err)
	}

	vms, err := s.vmRepo.ListByIDs(ctx, job.BackupVMs)
	if err != nil {
		return dbErr(err)
	}
	return s.applySettings(ctx, job, vms)
}

// applySettings points vms at job and copies its backup settings, ctx carries the transaction
// BACKUP_IDS and the increment chain belong to the executor and are only reset on a mode change.
// applySettings 设置虚拟机所属任务并复制备份设置，备份列表与增量链仅在模式变化时重置
func (s *backupJobService) applySettings(ctx context.Context, job *domain.BackupJob, vms []*domain.VM) error {
	ids := make([]int64, 0, len(vms))
	for _, vm := range vms {
		ids = append(ids, vm.ID)
	}
	if err := s.vmRepo.SetBackupJobID(ctx, ids, job.ID); err != nil {
		return dbErr(err)
	}
	for _, vm := range vms {
		cfg, reset, err := jobSettings(vm.Backup, job)
		if err != nil {
			return err
		}
		if err := s.vmRepo.UpdateBackupSettings(ctx, vm.ID, cfg, reset); err != nil {
			return dbErr(err)
		}
	}
	return nil
}

// prepareRuns re-reads every job under the assignment lock and hands the fresh rows to start
// before the lock is released, so no assignment change lands between the prune and activation.
// prepareRuns 在分配锁内重新读取任务并调用 start，释放锁之前完成激活
func (s *backupJobService) prepareRuns(ctx context.Context, ids []int64, start func(jobs []*domain.BackupJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*domain.BackupJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.prepareRun(ctx, id)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}
	start(jobs)
	return nil
}

// prepareRun drops BACKUP_VMS entries whose VM no longer exists and copies the job settings
// onto the members, s.mu is held
// prepareRun 移除已不存在的虚拟机并同步成员的备份设置，调用方持有 s.mu
func (s *backupJobService) prepareRun(ctx context.Context, id int64) (job *domain.BackupJob, err error) {
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		cur, err := s.jobRepo.GetByID(ctx, id)
		if err != nil {
			return dbErr(err)
		}
		if cur == nil {
			return codeErr(code.ErrorBackupJobNotFound, fmt.Sprintf("backup job %d", id))
		}
		vms, err := s.vmRepo.ListByIDs(ctx, cur.BackupVMs)
		if err != nil {
			return dbErr(err)
		}
		present := make(map[int64]struct{}, len(vms))
		for _, vm := range vms {
			present[vm.ID] = struct{}{}
		}
		members := make([]int64, 0, len(cur.BackupVMs))
		for _, vmID := range cur.BackupVMs {
			if _, ok := present[vmID]; ok {
				members = append(members, vmID)
			}
		}
		if len(members) != len(cur.BackupVMs) {
			s.logger.Info("pruned missing vms from backup job",
				zap.Int64(logger.FieldJobID, id),
				zap.Int("before", len(cur.BackupVMs)),
				zap.Int("after", len(members)))
			if err := s.jobRepo.SetBackupVMs(ctx, id, members); err != nil {
				return dbErr(err)
			}
			cur.BackupVMs = members
		}
		if err := s.applySettings(ctx, cur, vms); err != nil {
			return err
		}
		job = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *backupJobService) Create(ctx context.Context, r domain.Requester, tmpl string) (job *domain.BackupJob, err error) {
	tpl, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	name, _ := tpl.Get(attrName)
	if name == "" {
		return nil, code.ErrorBackupJobNameRequired
	}
	priority := domain.DefaultPriority
	if v, ok := tpl.Get(attrPriority); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, codeErr(code.ErrorPriorityOutOfRange, v)
		}
		priority = p
	}
	if err := s.checkPriority(r, priority); err != nil {
		return nil, err
	}
	cfg, vms, err := s.parseConfig(ctx, tpl, domain.DefaultBackupJobConfig(s.config.Backup.DefaultKeepLast))
	if err != nil {
		return nil, err
	}
	if vms == nil {
		vms = []int64{}
	}

	now := s.clock.Now()
	var actions []*domain.SchedAction
	for _, vec := range tpl.Vectors(attrSchedAction) {
		sa, err := buildSchedAction(domain.ParentBackupJob, 0, vec.Map(), now)
		if err != nil {
			return nil, err
		}
		actions = append(actions, sa)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		created, err := s.jobRepo.Create(ctx, &domain.BackupJob{
			Name:        name,
			UID:         r.UID,
			GID:         r.GID,
			Permissions: domain.DefaultPermissions(),
			Priority:    priority,
			Config:      cfg,
			BackupVMs:   vms,
			Attributes:  userAttributes(tpl),
			Buckets:     domain.Buckets{Messages: map[int64]string{}},
			CreatedAt:   now,
		})
		if err != nil {
			return dbErr(err)
		}
		if err := s.assign(ctx, created, nil); err != nil {
			return err
		}
		for _, sa := range actions {
			sa.ParentID = created.ID
			out, err := s.schedRepo.Create(ctx, sa)
			if err != nil {
				return dbErr(err)
			}
			created.SchedActions = append(created.SchedActions, out)
		}
		job = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("backup job created",
		zap.Int64(logger.FieldJobID, job.ID),
		zap.Int64(logger.FieldUID, r.UID),
		zap.Int("vms", len(job.BackupVMs)),
		zap.Int("schedActions", len(job.SchedActions)))
	return job, nil
}

// load 加载任务并校验操作
func (s *backupJobService) load(ctx context.Context, r domain.Requester, id int64, cmd domain.JobCommand) (*domain.BackupJob, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, dbErr(err)
	}
	if job == nil {
		return nil, codeErr(code.ErrorBackupJobNotFound, fmt.Sprintf("backup job %d", id))
	}
	if err := checkJobCommand(r, job, cmd); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *backupJobService) Update(ctx context.Context, r domain.Requester, id int64, tmpl string, appendMode bool) (job *domain.BackupJob, err error) {
	defer func() { observeCommand(domain.CmdUpdate, err) }()

	tpl, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err = s.load(ctx, r, id, domain.CmdUpdate)
	if err != nil {
		return nil, err
	}

	base := domain.DefaultBackupJobConfig(s.config.Backup.DefaultKeepLast)
	if appendMode {
		base = job.Config
	}
	cfg, vms, err := s.parseConfig(ctx, tpl, base)
	if err != nil {
		return nil, err
	}

	prev := job.BackupVMs
	switch {
	case vms != nil:
		job.BackupVMs = vms
	case !appendMode:
		job.BackupVMs = []int64{}
	}
	if appendMode {
		for k, v := range userAttributes(tpl) {
			job.Attributes[k] = v
		}
	} else {
		job.Attributes = userAttributes(tpl)
	}
	job.Config = cfg

	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.jobRepo.Update(ctx, job); err != nil {
			return dbErr(err)
		}
		return s.assign(ctx, job, prev)
	})
	if err != nil {
		return nil, err
	}

	s.scheduler.Refresh(job)
	s.logger.Info("backup job updated",
		zap.Int64(logger.FieldJobID, job.ID),
		zap.Bool("append", appendMode),
		zap.Int("vms", len(job.BackupVMs)))
	return job, nil
}

func (s *backupJobService) Delete(ctx context.Context, r domain.Requester, id int64) (err error) {
	defer func() { observeCommand(domain.CmdDelete, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.load(ctx, r, id, domain.CmdDelete)
	if err != nil {
		return err
	}
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.vmRepo.SetBackupJobID(ctx, job.BackupVMs, domain.NoID); err != nil {
			return dbErr(err)
		}
		if err := s.schedRepo.DeleteByParent(ctx, domain.ParentBackupJob, job.ID); err != nil {
			return dbErr(err)
		}
		return dbErr(s.jobRepo.Delete(ctx, job.ID))
	})
	if err != nil {
		return err
	}

	s.scheduler.Forget(job.ID)
	s.logger.Info("backup job deleted", zap.Int64(logger.FieldJobID, job.ID))
	return nil
}

// mutate loads the job for cmd, applies fn and saves it
// mutate 加载任务、执行 fn 并保存
func (s *backupJobService) mutate(ctx context.Context, r domain.Requester, id int64, cmd domain.JobCommand, fn func(job *domain.BackupJob) error) (err error) {
	defer func() { observeCommand(cmd, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.load(ctx, r, id, cmd)
	if err != nil {
		return err
	}
	if err := fn(job); err != nil {
		return err
	}
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return dbErr(err)
	}
	s.logger.Info("backup job command",
		zap.Int64(logger.FieldJobID, id),
		zap.String(logger.FieldAction, cmd.String()),
		zap.Int64(logger.FieldUID, r.UID))
	return nil
}

func (s *backupJobService) Rename(ctx context.Context, r domain.Requester, id int64, name string) error {
	if name == "" {
		return code.ErrorBackupJobNameRequired
	}
	return s.mutate(ctx, r, id, domain.CmdRename, func(job *domain.BackupJob) error {
		job.Name = name
		return nil
	})
}

func (s *backupJobService) Chown(ctx context.Context, r domain.Requester, id, uid, gid int64) error {
	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return dbErr(err)
	}
	if user == nil {
		return codeErr(code.ErrorUserNotFound, strconv.FormatInt(uid, 10))
	}
	if gid >= 0 {
		if err := s.groupExists(ctx, gid); err != nil {
			return err
		}
	}
	return s.mutate(ctx, r, id, domain.CmdChown, func(job *domain.BackupJob) error {
		job.UID = uid
		if gid >= 0 {
			job.GID = gid
		}
		return nil
	})
}

func (s *backupJobService) groupExists(ctx context.Context, gid int64) error {
	g, err := s.groupRepo.GetByID(ctx, gid)
	if err != nil {
		return dbErr(err)
	}
	if g == nil {
		return codeErr(code.ErrorGroupNotFound, strconv.FormatInt(gid, 10))
	}
	return nil
}

func (s *backupJobService) Chgrp(ctx context.Context, r domain.Requester, id, gid int64) error {
	if err := s.groupExists(ctx, gid); err != nil {
		return err
	}
	if !r.Admin && !r.InGroup(gid) {
		return codeErr(code.ErrorGroupNotMember, strconv.FormatInt(gid, 10))
	}
	return s.mutate(ctx, r, id, domain.CmdChgrp, func(job *domain.BackupJob) error {
		job.GID = gid
		return nil
	})
}

func (s *backupJobService) Chmod(ctx context.Context, r domain.Requester, id int64, octal string) error {
	perms, err := domain.ParsePermissions(octal)
	if err != nil {
		return codeErr(code.ErrorInvalidPermissions, err.Error())
	}
	return s.mutate(ctx, r, id, domain.CmdChmod, func(job *domain.BackupJob) error {
		job.Permissions = perms
		return nil
	})
}

func (s *backupJobService) Lock(ctx context.Context, r domain.Requester, id int64, level domain.LockLevel) error {
	if level < domain.LockUse || level > domain.LockAll {
		return codeErr(code.ErrorInvalidLockLevel, strconv.Itoa(int(level)))
	}
	return s.mutate(ctx, r, id, domain.CmdLock, func(job *domain.BackupJob) error {
		job.Lock = level
		job.LockTime = s.clock.Now().Unix()
		return nil
	})
}

func (s *backupJobService) Unlock(ctx context.Context, r domain.Requester, id int64) error {
	return s.mutate(ctx, r, id, domain.CmdUnlock, func(job *domain.BackupJob) error {
		job.Lock = domain.LockNone
		job.LockTime = 0
		return nil
	})
}

func (s *backupJobService) SetPriority(ctx context.Context, r domain.Requester, id int64, priority int) error {
	if err := s.checkPriority(r, priority); err != nil {
		observeCommand(domain.CmdPriority, err)
		return err
	}
	var updated *domain.BackupJob
	err := s.mutate(ctx, r, id, domain.CmdPriority, func(job *domain.BackupJob) error {
		job.Priority = priority
		updated = job
		return nil
	})
	if err != nil {
		return err
	}
	s.scheduler.Refresh(updated)
	return nil
}

func (s *backupJobService) Get(ctx context.Context, r domain.Requester, id int64) (*domain.BackupJob, error) {
	job, err := s.load(ctx, r, id, domain.CmdShow)
	if err != nil {
		return nil, err
	}
	job.SchedActions, err = s.schedRepo.ListByParent(ctx, domain.ParentBackupJob, id)
	if err != nil {
		return nil, dbErr(err)
	}
	if u, err := s.userRepo.GetByID(ctx, job.UID); err == nil && u != nil {
		job.UName = u.Name
	}
	if g, err := s.groupRepo.GetByID(ctx, job.GID); err == nil && g != nil {
		job.GName = g.Name
	}
	return job, nil
}

func (s *backupJobService) List(ctx context.Context, r domain.Requester) ([]*domain.BackupJob, error) {
	all, err := s.jobRepo.List(ctx)
	if err != nil {
		return nil, dbErr(err)
	}
	out := make([]*domain.BackupJob, 0, len(all))
	for _, job := range all {
		if domain.Authorize(r, job.UID, job.GID, job.Permissions, domain.AuthUse) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *backupJobService) DetachVM(ctx context.Context, vmID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobRepo.FindByVM(ctx, vmID)
	if err != nil {
		return dbErr(err)
	}
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if job != nil {
			job.BackupVMs = removeID(job.BackupVMs, vmID)
			if err := s.jobRepo.SetBackupVMs(ctx, job.ID, job.BackupVMs); err != nil {
				return dbErr(err)
			}
		}
		return dbErr(s.vmRepo.SetBackupJobID(ctx, []int64{vmID}, domain.NoID))
	})
	if err != nil {
		return err
	}
	if job != nil {
		s.scheduler.Refresh(job)
		s.logger.Info("vm left backup job", zap.Int64(logger.FieldJobID, job.ID), zap.Int64(logger.FieldVMID, vmID))
	}
	return nil
}
