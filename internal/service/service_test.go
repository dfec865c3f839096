package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/dao"
	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/driver"
	"github.com/haierkeys/vm-backup-service/pkg/app"
	"github.com/haierkeys/vm-backup-service/pkg/serialqueue"
	"github.com/haierkeys/vm-backup-service/pkg/workerpool"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDriver records calls and can block or fail backups per VM
type fakeDriver struct {
	mu         sync.Mutex
	increments bool
	gate       chan struct{}
	started    chan int64
	fail       map[int64]error
	order      []int64
	restores   []*driver.RestoreRequest
	deleteErr  error
	deleted    []int64
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		increments: true,
		started:    make(chan int64, 64),
		fail:       map[int64]error{},
	}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) SupportsIncrement() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.increments
}

func (d *fakeDriver) run(ctx context.Context, req *driver.BackupRequest, size int64) (*driver.Artifact, error) {
	d.mu.Lock()
	d.order = append(d.order, req.VM.ID)
	gate := d.gate
	err := d.fail[req.VM.ID]
	d.mu.Unlock()

	select {
	case d.started <- req.VM.ID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &driver.Artifact{Source: fmt.Sprintf("fake://%d/%d", req.Image.ID, req.IncrementID), Size: size}, nil
}

func (d *fakeDriver) Backup(ctx context.Context, req *driver.BackupRequest) (*driver.Artifact, error) {
	return d.run(ctx, req, req.Size())
}

func (d *fakeDriver) Increment(ctx context.Context, req *driver.BackupRequest) (*driver.Artifact, error) {
	return d.run(ctx, req, incrementSize(req.Size()))
}

func (d *fakeDriver) Restore(ctx context.Context, req *driver.RestoreRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restores = append(d.restores, req)
	return nil
}

func (d *fakeDriver) Delete(ctx context.Context, image *domain.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleteErr != nil {
		return d.deleteErr
	}
	d.deleted = append(d.deleted, image.ID)
	return nil
}

func (d *fakeDriver) block() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
}

func (d *fakeDriver) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

func (d *fakeDriver) setFail(vmID int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, vmID)
		return
	}
	d.fail[vmID] = err
}

func (d *fakeDriver) calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64{}, d.order...)
}

// hookedJobs runs a one-shot hook right after the next job read, the caller keeps the row it read
type hookedJobs struct {
	domain.BackupJobRepository
	mu    sync.Mutex
	onGet func(id int64)
}

func (h *hookedJobs) GetByID(ctx context.Context, id int64) (*domain.BackupJob, error) {
	job, err := h.BackupJobRepository.GetByID(ctx, id)
	h.mu.Lock()
	fn := h.onGet
	h.onGet = nil
	h.mu.Unlock()
	if fn != nil {
		fn(id)
	}
	return job, err
}

func (h *hookedJobs) once(fn func(id int64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onGet = fn
}

type testEnv struct {
	t     *testing.T
	ctx   context.Context
	clock *testclock.Clock
	drv   *fakeDriver

	vmRepo    domain.VMRepository
	jobRepo   domain.BackupJobRepository
	imageRepo domain.ImageRepository
	schedRepo domain.SchedActionRepository
	// schedJobs is the job repository the scheduler reads through
	schedJobs *hookedJobs
	dsRepo    domain.DatastoreRepository
	tplRepo   domain.VMTemplateRepository

	cfg     *ServiceConfig
	drivers *driver.Manager
	queue   *serialqueue.Manager

	quota      QuotaLedger
	users      UserService
	datastores DatastoreService
	images     ImageService
	executor   BackupExecutor
	scheduler  BackupScheduler
	jobs       BackupJobService
	vms        VMService
	sched      SchedActionService

	admin    domain.Requester
	backupDS *domain.Datastore
	imageDS  *domain.Datastore
}

var testEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, tune ...func(*ServiceConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()
	lg := zap.NewNop()

	dbCfg := dao.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "service.db"), AutoMigrate: true}
	db, err := dao.NewDBEngineWithConfig(dbCfg, lg)
	require.NoError(t, err)
	d := dao.New(db, dao.WithConfig(&dbCfg), dao.WithLogger(lg))
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { _ = d.Close() })

	cfg := DefaultServiceConfig()
	cfg.Backup.MaxConcurrent = 1
	cfg.Backup.StoragePath = t.TempDir()
	for _, fn := range tune {
		fn(cfg)
	}

	env := &testEnv{
		t:         t,
		ctx:       ctx,
		clock:     testclock.NewClock(testEpoch),
		drv:       newFakeDriver(),
		vmRepo:    dao.NewVMRepository(d),
		jobRepo:   dao.NewBackupJobRepository(d),
		imageRepo: dao.NewImageRepository(d),
		schedRepo: dao.NewSchedActionRepository(d),
		dsRepo:    dao.NewDatastoreRepository(d),
		tplRepo:   dao.NewVMTemplateRepository(d),
		cfg:       cfg,
	}
	dsRepo := env.dsRepo
	userRepo := dao.NewUserRepository(d)
	groupRepo := dao.NewGroupRepository(d)

	pool := workerpool.New(&workerpool.Config{MaxWorkers: 4, QueueSize: 64}, lg)
	queue := serialqueue.New(&serialqueue.Config{ExecTimeout: 10 * time.Second}, lg)
	drivers := driver.NewManager(cfg.Backup.StoragePath, lg)
	drivers.Register("fake", func(*domain.Datastore) (driver.BackupDriver, error) { return env.drv, nil })
	env.drivers, env.queue = drivers, queue
	env.schedJobs = &hookedJobs{BackupJobRepository: env.jobRepo}

	env.quota = NewQuotaLedger(dao.NewQuotaRepository(d), d, lg)
	env.users = NewUserService(userRepo, groupRepo, env.quota, app.NewTokenManager(app.TokenConfig{SecretKey: "test"}), lg)
	env.datastores = NewDatastoreService(dsRepo, env.imageRepo, drivers, lg)
	env.images = NewImageService(env.imageRepo, env.vmRepo, dsRepo, env.quota, drivers, queue, lg)
	env.executor = NewBackupExecutor(env.vmRepo, env.imageRepo, dsRepo, env.tplRepo,
		env.images, env.datastores, env.quota, drivers, queue, env.clock, cfg, lg)
	env.scheduler = NewBackupScheduler(env.schedJobs, env.vmRepo, env.executor, pool, env.clock, cfg, lg)
	env.jobs = NewBackupJobService(env.jobRepo, env.vmRepo, dsRepo, env.schedRepo, userRepo, groupRepo, d,
		env.scheduler, env.clock, cfg, lg)
	env.vms = NewVMService(env.vmRepo, env.schedRepo, env.jobs, env.executor, env.clock, lg)
	env.sched = NewSchedActionService(env.schedRepo, env.vmRepo, env.jobRepo, env.scheduler, env.vms, env.users,
		pool, env.clock, lg)

	require.NoError(t, env.scheduler.Start(ctx))
	t.Cleanup(func() {
		env.drv.release()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.scheduler.Shutdown(sctx)
		_ = pool.Shutdown(sctx)
		_ = queue.Shutdown(sctx)
	})

	require.NoError(t, env.users.Bootstrap(ctx, "secret"))
	admin, err := userRepo.GetByName(ctx, AdminUserName)
	require.NoError(t, err)
	env.admin, err = env.users.Requester(ctx, admin.ID)
	require.NoError(t, err)
	require.True(t, env.admin.Admin)

	env.backupDS, err = env.datastores.Create(ctx, env.admin, &DatastoreInput{
		Name: "backups", Type: "BACKUP_DS", DSMad: "fake", LimitMB: -1,
	})
	require.NoError(t, err)
	env.imageDS, err = env.datastores.Create(ctx, env.admin, &DatastoreInput{
		Name: "images", Type: "IMAGE_DS", LimitMB: -1,
	})
	require.NoError(t, err)
	return env
}

// user creates a regular member of the users group
func (e *testEnv) user(name string) domain.Requester {
	e.t.Helper()
	u, err := e.users.Create(e.ctx, e.admin, name, "pw-"+name, -1)
	require.NoError(e.t, err)
	r, err := e.users.Requester(e.ctx, u.ID)
	require.NoError(e.t, err)
	return r
}

// vm creates a running VM owned by r with the given disk sizes
func (e *testEnv) vm(r domain.Requester, sizes ...int64) *domain.VM {
	e.t.Helper()
	return e.deploy(r, e.pendingVM(r, sizes...))
}

// pendingVM registers a VM that was never deployed
func (e *testEnv) pendingVM(r domain.Requester, sizes ...int64) *domain.VM {
	e.t.Helper()
	disks := make([]domain.Disk, len(sizes))
	for i, s := range sizes {
		disks[i] = domain.Disk{Size: s}
	}
	vm, err := e.vms.Create(e.ctx, r, fmt.Sprintf("vm-%d", len(sizes)), disks)
	require.NoError(e.t, err)
	return vm
}

func (e *testEnv) deploy(r domain.Requester, vm *domain.VM) *domain.VM {
	e.t.Helper()
	got, err := e.vms.Action(e.ctx, r, vm.ID, domain.VMActionDeploy)
	require.NoError(e.t, err)
	return got
}

// job creates a backup job on the backup datastore
func (e *testEnv) job(r domain.Requester, name string, priority int, vms string, extra ...string) *domain.BackupJob {
	e.t.Helper()
	tmpl := fmt.Sprintf("NAME = %q\nPRIORITY = %d\nBACKUP_VMS = %q\nDATASTORE_ID = %d\n", name, priority, vms, e.backupDS.ID)
	for _, x := range extra {
		tmpl += x + "\n"
	}
	job, err := e.jobs.Create(e.ctx, r, tmpl)
	require.NoError(e.t, err)
	return job
}

func (e *testEnv) reloadVM(id int64) *domain.VM {
	e.t.Helper()
	vm, err := e.vmRepo.GetByID(e.ctx, id)
	require.NoError(e.t, err)
	require.NotNil(e.t, vm)
	return vm
}

func (e *testEnv) reloadJob(id int64) *domain.BackupJob {
	e.t.Helper()
	job, err := e.jobRepo.GetByID(e.ctx, id)
	require.NoError(e.t, err)
	require.NotNil(e.t, job)
	return job
}

func (e *testEnv) wait(jobID int64) {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()
	require.NoError(e.t, e.scheduler.Wait(ctx, jobID))
}

// awaitStart blocks until the driver picks up vmID
func (e *testEnv) awaitStart(vmID int64) {
	e.t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case id := <-e.drv.started:
			if id == vmID {
				return
			}
		case <-timeout:
			e.t.Fatalf("backup of VM %d never started", vmID)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func joinVMs(vms ...*domain.VM) string {
	ids := make([]string, len(vms))
	for i, vm := range vms {
		ids[i] = itoa(vm.ID)
	}
	return strings.Join(ids, ",")
}
