package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/internal/snapshot"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Phase names one state of the workflow.
type Phase string

const (
	PhaseInit              Phase = "init"
	PhaseRoleAssignment    Phase = "role_assignment"
	PhaseVersionResolution Phase = "version_resolution"
	PhaseCompatibilityGate Phase = "compatibility_gate"
	PhaseProvisionBase     Phase = "provision_base"
	PhaseProvisionTarget   Phase = "provision_target"
	PhaseHASyncWait        Phase = "ha_sync_wait"
	PhaseHARoleDecision    Phase = "ha_role_decision"
	PhasePreSnapshot       Phase = "pre_snapshot"
	PhaseHASuspend         Phase = "ha_suspend"
	PhaseUpgrade           Phase = "upgrade"
	PhaseReboot            Phase = "reboot"
	PhasePostSnapshot      Phase = "post_snapshot"
)

var phaseLabels = map[Phase]string{
	PhaseInit:              "Loading device and profile",
	PhaseRoleAssignment:    "Assigning HA roles",
	PhaseVersionResolution: "Resolving versions",
	PhaseCompatibilityGate: "Checking HA compatibility",
	PhaseProvisionBase:     "Provisioning base image",
	PhaseProvisionTarget:   "Provisioning target image",
	PhaseHASyncWait:        "Waiting for HA sync",
	PhaseHARoleDecision:    "Deciding HA suspension",
	PhasePreSnapshot:       "Capturing pre-upgrade snapshot",
	PhaseHASuspend:         "Suspending HA",
	PhaseUpgrade:           "Installing software",
	PhaseReboot:            "Rebooting",
	PhasePostSnapshot:      "Capturing post-upgrade snapshot",
}

// Label is the progress text shown for the phase.
func (p Phase) Label() string {
	if l, ok := phaseLabels[p]; ok {
		return l
	}
	return string(p)
}

type phaseFunc func(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error

type step struct {
	phase Phase
	fn    phaseFunc
}

// Options wires an Orchestrator.
type Options struct {
	Inventory   Inventory
	Dial        DriverFactory
	Tracker     *jobs.Tracker
	Snapshots   *snapshot.Coordinator
	Provisioner *Provisioner
	// Prober gates reboot polling on ICMP reachability when set.
	Prober Prober
	Clock  clock.Clock
	// SettlePeriod is waited after a reboot before the post-upgrade snapshot.
	SettlePeriod time.Duration
	Logger       *zap.Logger
}

// Orchestrator runs upgrade workflows. One Orchestrator serves any number
// of concurrent runs; all per-run state lives in an UpgradeContext.
type Orchestrator struct {
	inventory   Inventory
	dial        DriverFactory
	tracker     *jobs.Tracker
	snapshots   *snapshot.Coordinator
	provisioner *Provisioner
	prober      Prober
	clock       clock.Clock
	settle      time.Duration
	logger      *zap.Logger
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		inventory:   opts.Inventory,
		dial:        opts.Dial,
		tracker:     opts.Tracker,
		snapshots:   opts.Snapshots,
		provisioner: opts.Provisioner,
		prober:      opts.Prober,
		clock:       opts.Clock,
		settle:      opts.SettlePeriod,
		logger:      opts.Logger,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = clock.WallClock
	}
	if o.tracker == nil {
		o.tracker = jobs.NewTracker(nil, nil, o.logger)
	}
	if o.snapshots == nil {
		o.snapshots = snapshot.NewCoordinator(nil, nil, o.logger)
	}
	if o.provisioner == nil {
		o.provisioner = NewProvisioner(nil, o.clock, 30*time.Second, 60)
	}
	return o
}

// Run executes the workflow for req and returns its terminal status. The
// job record moves to running on entry and to the returned status on exit.
// Both ctx ending and req.Cancel are honored between phases only: a phase
// that has started runs to completion, bounded by the driver timeouts and
// its own retry budgets.
func (o *Orchestrator) Run(ctx context.Context, req Request) models.JobStatus {
	log := o.tracker.Logger(req.JobID).With(zap.String("device_id", req.DeviceID))
	o.tracker.SetStatus(ctx, req.JobID, models.JobStatusRunning)
	start := o.clock.Now()
	mode := "live"
	if req.DryRun {
		mode = "dry run"
	}
	log.Infof(ctx, "upgrade of %s to %s requested (%s)", req.DeviceID, req.TargetVersion, mode)

	uc := newUpgradeContext(req, log)
	err := o.run(ctx, uc)
	status := outcomeFor(err)

	switch status {
	case models.JobStatusCompleted:
		log.Step(ctx, "Completed")
		log.Infof(ctx, "upgrade workflow completed in %s", o.clock.Now().Sub(start).Round(time.Second))
	case models.JobStatusSkipped:
		log.Warnf(ctx, "upgrade workflow skipped: %v", err)
	default:
		log.Errorf(ctx, "upgrade workflow failed: %v", err)
	}
	workflowsTotal.WithLabelValues(string(status)).Inc()
	o.tracker.SetStatus(ctx, req.JobID, status)
	return status
}

func (o *Orchestrator) run(ctx context.Context, uc *UpgradeContext) error {
	if err := o.phase(ctx, uc, nil, PhaseInit, o.load); err != nil {
		return err
	}
	if err := o.phase(ctx, uc, uc.Requested, PhaseRoleAssignment, o.assignRoles); err != nil {
		return err
	}

	work := newWorklist(uc)
	for h, ok := work.pop(); ok; h, ok = work.pop() {
		for _, st := range o.stepsFor(h) {
			if err := o.phase(ctx, uc, h, st.phase, st.fn); err != nil {
				return err
			}
			if h.done {
				break
			}
		}
	}
	return nil
}

func (o *Orchestrator) stepsFor(h *DeviceHandle) []step {
	switch h.Role {
	case RoleStandalone:
		return []step{
			{PhaseVersionResolution, o.resolveVersions},
			{PhaseProvisionBase, o.provisionBase},
			{PhaseProvisionTarget, o.provisionTarget},
			{PhasePreSnapshot, o.preSnapshot},
			{PhaseUpgrade, o.install},
			{PhaseReboot, o.reboot},
			{PhasePostSnapshot, o.postSnapshot},
		}
	case RoleSecondary:
		return []step{
			{PhaseVersionResolution, o.resolveVersions},
			{PhaseCompatibilityGate, o.checkCompatibility},
			{PhaseProvisionBase, o.provisionBase},
			{PhaseProvisionTarget, o.provisionTarget},
			{PhaseHASyncWait, o.waitForSync},
			{PhaseHARoleDecision, o.decideSuspension},
			{PhasePreSnapshot, o.preSnapshot},
			{PhaseHASuspend, o.suspend},
			{PhaseUpgrade, o.install},
			{PhaseReboot, o.reboot},
			{PhasePostSnapshot, o.postSnapshot},
		}
	default:
		return []step{
			{PhaseVersionResolution, o.resolveVersions},
			{PhaseCompatibilityGate, o.checkCompatibility},
			{PhaseProvisionBase, o.provisionBase},
			{PhaseProvisionTarget, o.provisionTarget},
			{PhaseHASyncWait, o.waitForSync},
			{PhasePreSnapshot, o.preSnapshot},
			{PhaseUpgrade, o.install},
			{PhaseReboot, o.reboot},
			{PhasePostSnapshot, o.postSnapshot},
		}
	}
}

// phase runs one state. Cancellation is checked on entry and the state
// itself runs on a context that cannot be cancelled, so the device is never
// left mid-download or mid-suspend. Errors and panics are converted to a
// phaseError carrying the phase and device.
func (o *Orchestrator) phase(ctx context.Context, uc *UpgradeContext, h *DeviceHandle, p Phase, fn phaseFunc) (err error) {
	device := ""
	if h != nil {
		device = h.name()
	}
	if ierr := uc.interrupted(ctx); ierr != nil {
		uc.StopWorkflow = true
		return &phaseError{phase: p, device: device, outcome: models.JobStatusErrored, err: ierr}
	}

	label := p.Label()
	if device != "" {
		label = fmt.Sprintf("%s: %s", device, label)
	}
	uc.Log.Step(ctx, label)
	start := o.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("workflow phase panicked",
				zap.String("job_id", uc.Request.JobID),
				zap.String("phase", string(p)),
				zap.String("device", device),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("panic: %v", r)
		}
		phaseDuration.WithLabelValues(string(p)).Observe(o.clock.Now().Sub(start).Seconds())
		if err == nil {
			return
		}
		uc.StopWorkflow = true
		var pe *phaseError
		if !errors.As(err, &pe) {
			err = &phaseError{phase: p, device: device, outcome: models.JobStatusErrored, err: err}
			return
		}
		if pe.phase == "" {
			pe.phase = p
		}
		if pe.device == "" {
			pe.device = device
		}
	}()

	return fn(context.WithoutCancel(ctx), uc, h)
}
