// Package upgrade runs firmware upgrade workflows against standalone
// firewalls and HA pairs: role assignment, version and compatibility
// checks, image provisioning, HA suspension, install, reboot and
// before/after snapshots.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/HerbHall/panupgrade/internal/inventory"
	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/internal/panos"
	"github.com/HerbHall/panupgrade/internal/snapshot"
	"github.com/HerbHall/panupgrade/internal/swversion"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/go-redis/redis/v8"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
)

var (
	// ErrNotConfigured is returned when the module runs without the
	// inventory or job stores.
	ErrNotConfigured = errors.New("upgrade module is not wired to inventory and job stores")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid upgrade request")
)

type inventoryProvider interface {
	Store() *inventory.Store
	Dialer() *panos.Dialer
}

type jobsProvider interface {
	Store() *jobs.Store
	Tracker() *jobs.Tracker
}

type snapshotProvider interface {
	Coordinator() *snapshot.Coordinator
}

// Module implements the upgrade plugin.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	inventory *inventory.Store
	jobs      *jobs.Store
	tracker   *jobs.Tracker
	snapshots *snapshot.Coordinator
	orch      *Orchestrator
	queue     *Queue
	redis     *redis.Client
}

// New creates the upgrade module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "upgrade",
		Version:      "0.1.0",
		Description:  "Firmware upgrade workflows for standalone firewalls and HA pairs",
		Dependencies: []string{"inventory", "jobs", "snapshot"},
		Required:     true,
		Roles:        []string{"upgrade"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal upgrade config: %w", err)
		}
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("upgrade config: %w", err)
	}

	var dialer *panos.Dialer
	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("inventory"); ok {
			if inv, ok := p.(inventoryProvider); ok {
				m.inventory = inv.Store()
				dialer = inv.Dialer()
			}
		}
		if p, ok := deps.Plugins.Resolve("jobs"); ok {
			if jp, ok := p.(jobsProvider); ok {
				m.jobs = jp.Store()
				m.tracker = jp.Tracker()
			}
		}
		if p, ok := deps.Plugins.Resolve("snapshot"); ok {
			if sp, ok := p.(snapshotProvider); ok {
				m.snapshots = sp.Coordinator()
			}
		}
	}

	lock, err := m.deviceLock()
	if err != nil {
		return err
	}
	var prober Prober
	if m.cfg.ICMPProbe {
		prober = NewICMPProber(m.cfg.ICMPPrivileged, m.logger.Named("icmp"))
	}

	opts := Options{
		Tracker:      m.tracker,
		Snapshots:    m.snapshots,
		Provisioner:  NewProvisioner(lock, clock.WallClock, m.cfg.DownloadPollInterval, m.cfg.DownloadPollAttempts),
		Prober:       prober,
		Clock:        clock.WallClock,
		SettlePeriod: m.cfg.SettlePeriod,
		Logger:       m.logger,
	}
	if m.inventory != nil && dialer != nil {
		opts.Inventory = m.inventory
		opts.Dial = func(dev *models.Device, prof *models.Profile) Driver {
			return dialer.Dial(dev, prof)
		}
	}
	m.orch = NewOrchestrator(opts)
	m.queue = NewQueue(m.orch.Run, m.cfg.Workers, m.cfg.QueueSize, m.logger)

	m.logger.Info("upgrade module initialized",
		zap.Int("workers", m.cfg.Workers),
		zap.String("lock_backend", m.cfg.LockBackend),
		zap.Duration("settle_period", m.cfg.SettlePeriod),
		zap.Bool("icmp_probe", m.cfg.ICMPProbe),
		zap.Bool("wired", m.ready()),
	)
	return nil
}

func (m *Module) deviceLock() (DeviceLock, error) {
	if m.cfg.LockBackend != LockBackendRedis {
		return NewLocalLock(), nil
	}
	m.redis = redis.NewClient(&redis.Options{
		Addr:     m.cfg.Redis.Addr,
		Password: m.cfg.Redis.Password,
		DB:       m.cfg.Redis.DB,
	})
	return NewRedisLock(m.redis, m.cfg.Redis.LockTTL), nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

// Start launches the worker pool and resumes jobs left over by a previous
// process: pending jobs are queued again, running ones end errored.
func (m *Module) Start(ctx context.Context) error {
	m.queue.Start()
	if m.jobs == nil {
		return nil
	}
	return m.recover(ctx)
}

func (m *Module) recover(ctx context.Context) error {
	running, err := m.jobs.List(ctx, jobs.ListFilter{Status: models.JobStatusRunning})
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for i := range running {
		j := &running[i]
		m.tracker.Logger(j.ID).Errorf(ctx, "job was interrupted by a restart during %q", j.CurrentStep)
		m.tracker.SetStatus(ctx, j.ID, models.JobStatusErrored)
	}

	pending, err := m.jobs.List(ctx, jobs.ListFilter{Status: models.JobStatusPending})
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	// List is newest first; resume in submission order.
	for i := len(pending) - 1; i >= 0; i-- {
		if err := m.queue.Submit(requestFor(&pending[i])); err != nil {
			m.logger.Warn("pending job not resumed", zap.String("job_id", pending[i].ID), zap.Error(err))
		}
	}
	if len(running) > 0 || len(pending) > 0 {
		m.logger.Info("job queue recovered",
			zap.Int("errored", len(running)),
			zap.Int("resumed", len(pending)),
		)
	}
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	var err error
	if m.queue != nil {
		err = m.queue.Stop(ctx)
	}
	if m.redis != nil {
		if cerr := m.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	status := "ok"
	if !m.ready() {
		status = "degraded"
	}
	active := 0
	if m.queue != nil {
		active = m.queue.Active()
	}
	return plugin.HealthStatus{
		Status: status,
		Details: map[string]string{
			"active_jobs":  strconv.Itoa(active),
			"workers":      strconv.Itoa(m.cfg.Workers),
			"lock_backend": m.cfg.LockBackend,
		},
	}
}

func (m *Module) ready() bool {
	return m.inventory != nil && m.jobs != nil
}

// JobRequest is the input of an upgrade.
type JobRequest struct {
	AuthorID      string `json:"author_id"`
	DeviceID      string `json:"device_id"`
	ProfileID     string `json:"profile_id"`
	TargetVersion string `json:"target_version"`
	DryRun        bool   `json:"dry_run"`
}

func (r JobRequest) validate() error {
	switch {
	case r.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidRequest)
	case r.ProfileID == "":
		return fmt.Errorf("%w: profile_id is required", ErrInvalidRequest)
	}
	if _, err := swversion.Parse(r.TargetVersion); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Enqueue records a pending job for r and hands it to the worker pool.
func (m *Module) Enqueue(ctx context.Context, r JobRequest) (*models.Job, error) {
	if !m.ready() {
		return nil, ErrNotConfigured
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	job := &models.Job{
		AuthorID:      r.AuthorID,
		DeviceID:      r.DeviceID,
		ProfileID:     r.ProfileID,
		TargetVersion: r.TargetVersion,
		DryRun:        r.DryRun,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := m.queue.Submit(requestFor(job)); err != nil {
		m.tracker.Logger(job.ID).Errorf(ctx, "job could not be queued: %v", err)
		m.tracker.SetStatus(ctx, job.ID, models.JobStatusErrored)
		return nil, err
	}
	m.logger.Info("upgrade job queued",
		zap.String("job_id", job.ID),
		zap.String("device_id", job.DeviceID),
		zap.String("target_version", job.TargetVersion),
		zap.Bool("dry_run", job.DryRun),
	)
	return job, nil
}

// RunNow executes one workflow on the calling goroutine. An empty jobID
// creates a job record first; a jobID with no record runs without one.
func (m *Module) RunNow(ctx context.Context, jobID string, r JobRequest) (string, models.JobStatus, error) {
	if err := r.validate(); err != nil {
		return "", "", err
	}
	if jobID == "" && m.jobs != nil {
		job := &models.Job{
			AuthorID:      r.AuthorID,
			DeviceID:      r.DeviceID,
			ProfileID:     r.ProfileID,
			TargetVersion: r.TargetVersion,
			DryRun:        r.DryRun,
		}
		if err := m.jobs.Create(ctx, job); err != nil {
			return "", "", err
		}
		jobID = job.ID
	}
	status := m.orch.Run(ctx, Request{
		JobID:         jobID,
		AuthorID:      r.AuthorID,
		DeviceID:      r.DeviceID,
		ProfileID:     r.ProfileID,
		TargetVersion: r.TargetVersion,
		DryRun:        r.DryRun,
	})
	return jobID, status, nil
}

// Cancel requests cooperative cancellation of a queued or running job.
func (m *Module) Cancel(jobID string) bool {
	if m.queue == nil {
		return false
	}
	return m.queue.Cancel(jobID)
}

// Orchestrator returns the workflow runner.
func (m *Module) Orchestrator() *Orchestrator { return m.orch }

func requestFor(j *models.Job) Request {
	return Request{
		JobID:         j.ID,
		AuthorID:      j.AuthorID,
		DeviceID:      j.DeviceID,
		ProfileID:     j.ProfileID,
		TargetVersion: j.TargetVersion,
		DryRun:        j.DryRun,
	}
}
