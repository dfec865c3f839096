package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/metrics"
	"github.com/haierkeys/vm-backup-service/pkg/code"
	"github.com/haierkeys/vm-backup-service/pkg/logger"
	"github.com/haierkeys/vm-backup-service/pkg/workerpool"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// BackupScheduler drives backup job runs
// Jobs are dispatched by descending priority, ties by ascending job ID.
// BackupScheduler 驱动备份任务的运行，按优先级降序调度，同优先级按任务 ID 升序
type BackupScheduler interface {
	// RunBackup validates every job before touching any state, then starts the runs
	// RunBackup 先校验全部任务再启动运行，立即返回
	RunBackup(ctx context.Context, r domain.Requester, jobIDs []int64) error

	// Retry 将 ERROR 中的虚拟机移回 OUTDATED 并清除任务错误
	Retry(ctx context.Context, r domain.Requester, jobID int64) error

	// Cancel clears OUTDATED and BACKING_UP, running executions still settle
	// Cancel 清空 OUTDATED 与 BACKING_UP，执行中的备份仍会完成并归类
	Cancel(ctx context.Context, r domain.Requester, jobID int64) error

	// Wait 阻塞直到任务没有待执行或执行中的虚拟机
	Wait(ctx context.Context, jobID int64) error

	// Idle 阻塞直到所有任务空闲
	Idle(ctx context.Context) error

	// Refresh picks up priority and config changes, pending VMs that left the job are dropped
	// Refresh 同步任务优先级与配置的变更，已退出任务的待执行虚拟机被移除
	Refresh(job *domain.BackupJob)

	// Forget drops a deleted job, pending VMs are cancelled
	// Forget 移除已删除的任务，待执行的虚拟机被取消
	Forget(jobID int64)

	// Start resumes persisted runs and starts the dispatcher
	// Start 恢复持久化的运行状态并启动调度循环
	Start(ctx context.Context) error

	Shutdown(ctx context.Context) error
}

// jobRun in-memory run state of one job, guarded by mu
// jobRun 单个任务的内存运行状态，由 mu 保护
type jobRun struct {
	mu          sync.Mutex
	id          int64
	priority    int
	execution   domain.Execution
	datastoreID int64

	buckets domain.Buckets
	errMsg  string
	started time.Time
	active  bool
	idle    chan struct{}
	// inflight maps a VM to the token of its latest dispatched execution
	inflight map[int64]uint64
	// deferred OUTDATED VMs the last dispatch pass found not deployed
	deferred  map[int64]struct{}
	forgotten bool
}

// busy reports whether VMs are still executing or waiting for a slot
// Deferred VMs stay OUTDATED without keeping the run open.
// busy 是否仍有执行中或等待调度的虚拟机，未部署的虚拟机不计入
func (j *jobRun) busy() bool {
	if len(j.inflight) > 0 {
		return true
	}
	for _, id := range j.buckets.Outdated {
		if _, ok := j.deferred[id]; !ok {
			return true
		}
	}
	return false
}

// jobMembers prepares the member lists of jobs right before a run
// start runs under the assignment lock, it may take s.mu but nothing that waits on assignment.
type jobMembers interface {
	prepareRuns(ctx context.Context, ids []int64, start func(jobs []*domain.BackupJob)) error
}

type unit struct {
	job   *jobRun
	vmID  int64
	dsID  int64
	token uint64
}

type backupScheduler struct {
	jobRepo  domain.BackupJobRepository
	vmRepo   domain.VMRepository
	members  jobMembers
	executor BackupExecutor
	pool     *workerpool.Pool
	clock    clock.Clock
	logger   *zap.Logger

	maxConcurrent int

	// lock order: mu, then jobRun.mu
	mu      sync.Mutex
	jobs    map[int64]*jobRun
	running int
	seq     uint64

	// cmdMu serializes run commands between validation and activation
	cmdMu sync.Mutex

	wake       chan struct{}
	units      sync.WaitGroup
	unitCtx    context.Context
	unitCancel context.CancelFunc
	stop       context.CancelFunc
	done       chan struct{}
}

// NewBackupScheduler 创建 BackupScheduler 实例
func NewBackupScheduler(
	jobRepo domain.BackupJobRepository,
	vmRepo domain.VMRepository,
	executor BackupExecutor,
	pool *workerpool.Pool,
	clk clock.Clock,
	config *ServiceConfig,
	logger *zap.Logger,
) BackupScheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	limit := config.Backup.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	unitCtx, unitCancel := context.WithCancel(context.Background())
	return &backupScheduler{
		jobRepo:       jobRepo,
		vmRepo:        vmRepo,
		executor:      executor,
		pool:          pool,
		clock:         clk,
		logger:        logger,
		maxConcurrent: limit,
		jobs:          make(map[int64]*jobRun),
		wake:          make(chan struct{}, 1),
		unitCtx:       unitCtx,
		unitCancel:    unitCancel,
	}
}

func (s *backupScheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *backupScheduler) Start(ctx context.Context) error {
	jobs, err := s.jobRepo.List(ctx)
	if err != nil {
		return dbErr(err)
	}

	s.mu.Lock()
	for _, job := range jobs {
		b := job.Buckets
		if !b.Active() && len(b.Updated) == 0 && len(b.Errored) == 0 {
			continue
		}
		// executions interrupted by the previous shutdown start over
		resumed := len(b.BackingUp)
		b.Outdated = append(append([]int64{}, b.BackingUp...), b.Outdated...)
		b.BackingUp = []int64{}
		if b.Messages == nil {
			b.Messages = map[int64]string{}
		}

		j := s.newRun(job)
		j.buckets = b
		j.errMsg = job.Error
		if b.Active() {
			j.active = true
			j.started = s.clock.Now()
		} else {
			close(j.idle)
		}
		s.jobs[job.ID] = j
		if resumed > 0 {
			s.persist(j)
			s.logger.Info("backup job run resumed",
				zap.Int64(logger.FieldJobID, job.ID), zap.Int("vms", len(b.Outdated)))
		}
	}

	// a run left with only undeployed VMs is already over
	runs := make([]*jobRun, 0, len(s.jobs))
	for _, j := range s.jobs {
		runs = append(runs, j)
	}
	waiting := s.undeployed(runs)
	for _, j := range runs {
		j.mu.Lock()
		for _, id := range j.buckets.Outdated {
			if _, ok := waiting[id]; ok {
				j.deferred[id] = struct{}{}
			}
		}
		if j.active && !j.busy() {
			j.active = false
			close(j.idle)
		}
		j.mu.Unlock()
	}
	s.mu.Unlock()

	loopCtx, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	s.kick()
	return nil
}

func (s *backupScheduler) newRun(job *domain.BackupJob) *jobRun {
	return &jobRun{
		id:          job.ID,
		priority:    job.Priority,
		execution:   job.Config.Execution,
		datastoreID: job.Config.DatastoreID,
		idle:        make(chan struct{}),
		inflight:    make(map[int64]uint64),
		deferred:    make(map[int64]struct{}),
	}
}

func (s *backupScheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.dispatch()
	}
}

// dispatch hands OUTDATED VMs to the worker pool in priority order
// VMs that are not deployed stay OUTDATED and a run with nothing else left finishes.
// dispatch 按优先级将 OUTDATED 虚拟机交给 worker pool，未部署的虚拟机保持 OUTDATED
func (s *backupScheduler) dispatch() {
	s.mu.Lock()
	runs := make([]*jobRun, 0, len(s.jobs))
	for _, j := range s.jobs {
		runs = append(runs, j)
	}
	sort.Slice(runs, func(a, b int) bool {
		if runs[a].priority != runs[b].priority {
			return runs[a].priority > runs[b].priority
		}
		return runs[a].id < runs[b].id
	})
	waiting := s.undeployed(runs)

	var units []unit
	for _, j := range runs {
		j.mu.Lock()
		changed := false
		j.deferred = make(map[int64]struct{})
		rest := make([]int64, 0, len(j.buckets.Outdated))
		for _, vmID := range j.buckets.Outdated {
			if _, ok := waiting[vmID]; ok {
				j.deferred[vmID] = struct{}{}
				rest = append(rest, vmID)
				continue
			}
			if s.running >= s.maxConcurrent ||
				(j.execution != domain.ExecutionParallel && len(j.buckets.BackingUp) > 0) {
				rest = append(rest, vmID)
				continue
			}
			j.buckets.BackingUp = append(j.buckets.BackingUp, vmID)
			s.seq++
			j.inflight[vmID] = s.seq
			s.running++
			units = append(units, unit{job: j, vmID: vmID, dsID: j.datastoreID, token: s.seq})
			changed = true
		}
		j.buckets.Outdated = rest
		if !s.finishIfIdle(j) && changed {
			s.persist(j)
		}
		j.mu.Unlock()
	}
	s.mu.Unlock()

	for _, u := range units {
		s.units.Add(1)
		// the task context never expires, so a queued unit always runs and settles
		err := s.pool.SubmitAsync(context.Background(), func(context.Context) error {
			defer s.units.Done()
			s.execute(s.unitCtx, u)
			return nil
		})
		if err != nil {
			s.units.Done()
			s.logger.Warn("backup dispatch rejected",
				zap.Int64(logger.FieldJobID, u.job.id), zap.Int64(logger.FieldVMID, u.vmID), zap.Error(err))
			s.requeue(u)
		}
	}
}

// undeployed returns the OUTDATED VMs of runs whose state defers the backup, s.mu is held
// A failed lookup defers nothing, the executor then reports each VM.
// undeployed 返回状态尚不允许备份的 OUTDATED 虚拟机，调用方持有 s.mu
func (s *backupScheduler) undeployed(runs []*jobRun) map[int64]struct{} {
	var ids []int64
	for _, j := range runs {
		j.mu.Lock()
		ids = append(ids, j.buckets.Outdated...)
		j.mu.Unlock()
	}
	out := make(map[int64]struct{})
	if len(ids) == 0 {
		return out
	}
	vms, err := s.vmRepo.ListByIDs(context.Background(), ids)
	if err != nil {
		s.logger.Error("load outdated vms failed", zap.Error(err))
		return out
	}
	for _, vm := range vms {
		if vm.State.BackupDeferred() {
			out[vm.ID] = struct{}{}
		}
	}
	return out
}

func (s *backupScheduler) execute(ctx context.Context, u unit) {
	metrics.RunningBackups.Inc()
	s.logger.Debug("backup dispatched",
		zap.Int64(logger.FieldJobID, u.job.id),
		zap.Int64(logger.FieldVMID, u.vmID),
		zap.Int64(logger.FieldDatastoreID, u.dsID))
	_, err := s.executor.Execute(ctx, BackupRequest{VMID: u.vmID, DatastoreID: u.dsID})
	metrics.RunningBackups.Dec()
	s.settle(u, err)
	s.kick()
}

// settle records the outcome of one execution
// Only the latest dispatch of a VM settles, and a VM queued again by a new run is left alone.
// settle 记录一次执行的结果，仅最新一次派发生效，新一轮中重新排队的虚拟机不受影响
func (s *backupScheduler) settle(u unit, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--

	j := u.job
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.forgotten || j.inflight[u.vmID] != u.token {
		return
	}
	delete(j.inflight, u.vmID)
	j.buckets.BackingUp = removeID(j.buckets.BackingUp, u.vmID)
	if !containsID(j.buckets.Outdated, u.vmID) {
		if err == nil {
			j.buckets.Updated = append(j.buckets.Updated, u.vmID)
			delete(j.buckets.Messages, u.vmID)
		} else {
			j.buckets.Errored = append(j.buckets.Errored, u.vmID)
			if j.buckets.Messages == nil {
				j.buckets.Messages = map[int64]string{}
			}
			j.buckets.Messages[u.vmID] = err.Error()
			j.errMsg = fmt.Sprintf("VM %d: %s", u.vmID, err.Error())
		}
	}
	if !s.finishIfIdle(j) {
		s.persist(j)
	}
}

// requeue puts a VM the pool refused back at the head of OUTDATED
// requeue 将 worker pool 拒绝的虚拟机放回 OUTDATED 队首
func (s *backupScheduler) requeue(u unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--

	j := u.job
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.forgotten || j.inflight[u.vmID] != u.token {
		return
	}
	delete(j.inflight, u.vmID)
	j.buckets.BackingUp = removeID(j.buckets.BackingUp, u.vmID)
	if !containsID(j.buckets.Outdated, u.vmID) {
		j.buckets.Outdated = append([]int64{u.vmID}, j.buckets.Outdated...)
	}
	s.persist(j)
}

// finishIfIdle closes the run once nothing is pending or executing, j.mu is held
// The final state is persisted before waiters wake up. It reports whether the run finished.
// finishIfIdle 没有待执行或执行中的虚拟机时结束本轮运行，唤醒等待者前先持久化，调用方持有 j.mu
func (s *backupScheduler) finishIfIdle(j *jobRun) bool {
	if !j.active || j.busy() {
		return false
	}
	j.active = false
	if len(j.buckets.Errored) == 0 {
		j.errMsg = ""
	}

	now := s.clock.Now()
	duration := int64(now.Sub(j.started).Seconds())
	if err := s.jobRepo.SaveLastBackup(context.Background(), j.id, now.Unix(), duration); err != nil {
		s.logger.Error("save last backup failed", zap.Int64(logger.FieldJobID, j.id), zap.Error(err))
	}
	metrics.JobLastRunTimestamp.WithLabelValues(strconv.FormatInt(j.id, 10)).Set(float64(now.Unix()))
	s.logger.Info("backup job run finished",
		zap.Int64(logger.FieldJobID, j.id),
		zap.Int("updated", len(j.buckets.Updated)),
		zap.Int("errors", len(j.buckets.Errored)),
		zap.Int64(logger.FieldDuration, duration))

	s.persist(j)
	close(j.idle)
	return true
}

// persist writes the buckets through to the job row, j.mu is held
// persist 将运行分类写入任务记录，调用方持有 j.mu
func (s *backupScheduler) persist(j *jobRun) {
	if j.forgotten {
		return
	}
	b := domain.Buckets{
		Updated:   append([]int64{}, j.buckets.Updated...),
		Outdated:  append([]int64{}, j.buckets.Outdated...),
		BackingUp: append([]int64{}, j.buckets.BackingUp...),
		Errored:   append([]int64{}, j.buckets.Errored...),
		Messages:  make(map[int64]string, len(j.buckets.Messages)),
	}
	for k, v := range j.buckets.Messages {
		b.Messages[k] = v
	}
	if err := s.jobRepo.SaveRunState(context.Background(), j.id, b, j.errMsg); err != nil {
		s.logger.Error("save run state failed", zap.Int64(logger.FieldJobID, j.id), zap.Error(err))
	}

	id := strconv.FormatInt(j.id, 10)
	metrics.JobBucketVMs.WithLabelValues(id, "updated").Set(float64(len(b.Updated)))
	metrics.JobBucketVMs.WithLabelValues(id, "outdated").Set(float64(len(b.Outdated)))
	metrics.JobBucketVMs.WithLabelValues(id, "backing_up").Set(float64(len(b.BackingUp)))
	metrics.JobBucketVMs.WithLabelValues(id, "error").Set(float64(len(b.Errored)))
}

// loadJob 加载任务并校验操作
func (s *backupScheduler) loadJob(ctx context.Context, r domain.Requester, id int64, cmd domain.JobCommand) (*domain.BackupJob, error) {
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

func (s *backupScheduler) pending(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.active && j.buckets.Active()
}

func (s *backupScheduler) RunBackup(ctx context.Context, r domain.Requester, jobIDs []int64) (err error) {
	defer func() { observeCommand(domain.CmdBackup, err) }()
	if len(jobIDs) == 0 {
		return codeErr(code.ErrorInvalidParams, "no backup job given")
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	jobs := make([]*domain.BackupJob, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, err := s.loadJob(ctx, r, id, domain.CmdBackup)
		if err != nil {
			return err
		}
		if job.Config.DatastoreID < 0 {
			return codeErr(code.ErrorBackupJobNoDatastore, job.Name)
		}
		if s.pending(id) {
			return codeErr(code.ErrorBackupJobRunning, job.Name)
		}
		jobs = append(jobs, job)
	}

	if s.members == nil {
		return codeErr(code.ErrorServerInternal, "backup job members are not bound")
	}
	ids := make([]int64, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	err = s.members.prepareRuns(ctx, ids, func(prepared []*domain.BackupJob) {
		sort.SliceStable(prepared, func(a, b int) bool {
			if prepared[a].Priority != prepared[b].Priority {
				return prepared[a].Priority > prepared[b].Priority
			}
			return prepared[a].ID < prepared[b].ID
		})
		// one hold of s.mu, a dispatch pass sees every run at once
		s.mu.Lock()
		for _, job := range prepared {
			s.activate(job)
		}
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}
	s.kick()
	return nil
}

// activate starts a fresh run with every member VM OUTDATED, s.mu is held
// activate 以全部成员虚拟机为 OUTDATED 开始新一轮运行，调用方持有 s.mu
func (s *backupScheduler) activate(job *domain.BackupJob) {
	j, ok := s.jobs[job.ID]
	if !ok {
		j = s.newRun(job)
		s.jobs[job.ID] = j
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.priority = job.Priority
	j.execution = job.Config.Execution
	j.datastoreID = job.Config.DatastoreID
	j.deferred = make(map[int64]struct{})
	j.buckets = domain.Buckets{
		Updated:   []int64{},
		Outdated:  append([]int64{}, job.BackupVMs...),
		BackingUp: []int64{},
		Errored:   []int64{},
		Messages:  map[int64]string{},
	}
	s.begin(j)
	if !s.finishIfIdle(j) {
		s.persist(j)
	}

	s.logger.Info("backup job run started",
		zap.Int64(logger.FieldJobID, job.ID),
		zap.Int(logger.FieldPriority, job.Priority),
		zap.Int("vms", len(job.BackupVMs)))
}

// begin marks the run active, j.mu is held
func (s *backupScheduler) begin(j *jobRun) {
	if j.active {
		return
	}
	j.active = true
	j.started = s.clock.Now()
	j.idle = make(chan struct{})
}

func (s *backupScheduler) Retry(ctx context.Context, r domain.Requester, jobID int64) (err error) {
	defer func() { observeCommand(domain.CmdRetry, err) }()

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	job, err := s.loadJob(ctx, r, jobID, domain.CmdRetry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		j = s.newRun(job)
		j.buckets = job.Buckets
		close(j.idle)
		s.jobs[jobID] = j
	}
	j.mu.Lock()
	j.priority = job.Priority
	j.execution = job.Config.Execution
	j.datastoreID = job.Config.DatastoreID
	retried := j.buckets.Errored
	j.buckets.Errored = []int64{}
	j.deferred = make(map[int64]struct{})
	for _, id := range retried {
		if !containsID(j.buckets.Outdated, id) {
			j.buckets.Outdated = append(j.buckets.Outdated, id)
		}
		delete(j.buckets.Messages, id)
	}
	j.errMsg = ""
	if len(j.buckets.Outdated) > 0 {
		s.begin(j)
	}
	s.persist(j)
	j.mu.Unlock()
	s.mu.Unlock()

	s.logger.Info("backup job retry", zap.Int64(logger.FieldJobID, jobID), zap.Int("vms", len(retried)))
	s.kick()
	return nil
}

func (s *backupScheduler) Cancel(ctx context.Context, r domain.Requester, jobID int64) (err error) {
	defer func() { observeCommand(domain.CmdCancel, err) }()

	if _, err := s.loadJob(ctx, r, jobID, domain.CmdCancel); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	cancelled := len(j.buckets.Outdated) + len(j.buckets.BackingUp)
	j.buckets.Outdated = []int64{}
	j.buckets.BackingUp = []int64{}
	if !s.finishIfIdle(j) {
		s.persist(j)
	}

	s.logger.Info("backup job cancelled", zap.Int64(logger.FieldJobID, jobID), zap.Int("vms", cancelled))
	return nil
}

func (s *backupScheduler) Wait(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	j.mu.Lock()
	if !j.active {
		j.mu.Unlock()
		return nil
	}
	idle := j.idle
	j.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *backupScheduler) Idle(ctx context.Context) error {
	for {
		s.mu.Lock()
		ids := make([]int64, 0, len(s.jobs))
		for id, j := range s.jobs {
			j.mu.Lock()
			if j.active {
				ids = append(ids, id)
			}
			j.mu.Unlock()
		}
		s.mu.Unlock()

		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			if err := s.Wait(ctx, id); err != nil {
				return err
			}
		}
	}
}

func (s *backupScheduler) Refresh(job *domain.BackupJob) {
	s.mu.Lock()
	j, ok := s.jobs[job.ID]
	if ok {
		j.mu.Lock()
		j.priority = job.Priority
		j.execution = job.Config.Execution
		j.datastoreID = job.Config.DatastoreID
		kept := j.buckets.Outdated[:0:0]
		for _, id := range j.buckets.Outdated {
			if job.HasVM(id) {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(j.buckets.Outdated) {
			j.buckets.Outdated = kept
			if !s.finishIfIdle(j) {
				s.persist(j)
			}
		}
		j.mu.Unlock()
	}
	s.mu.Unlock()
	if ok {
		s.kick()
	}
}

func (s *backupScheduler) Forget(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return
	}
	delete(s.jobs, jobID)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.forgotten = true
	j.buckets.Outdated = nil
	if j.active {
		j.active = false
		close(j.idle)
	}
	id := strconv.FormatInt(jobID, 10)
	for _, b := range []string{"updated", "outdated", "backing_up", "error"} {
		metrics.JobBucketVMs.DeleteLabelValues(id, b)
	}
	metrics.JobLastRunTimestamp.DeleteLabelValues(id)
}

// Shutdown stops dispatching and waits for running executions
// Pending VMs stay OUTDATED in the database and resume on the next Start.
// Shutdown 停止调度并等待执行中的备份；待执行的虚拟机保留在数据库中，下次启动时恢复
func (s *backupScheduler) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
		<-s.done
	}

	finished := make(chan struct{})
	go func() {
		s.units.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		s.unitCancel()
		return ctx.Err()
	}
}
