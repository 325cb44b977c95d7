package upgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/panupgrade/internal/swversion"
	"github.com/HerbHall/panupgrade/pkg/models"
)

// ErrCancelled is returned when a workflow stops on a cancel request.
var ErrCancelled = errors.New("cancelled")

// Request is one upgrade of one requested device.
type Request struct {
	JobID         string
	AuthorID      string
	DeviceID      string
	ProfileID     string
	TargetVersion string
	DryRun        bool
	// Cancel, when closed, stops the workflow at the next phase boundary.
	Cancel <-chan struct{}
}

// WorkflowLog is the job-scoped log plus progress reporting.
type WorkflowLog interface {
	JobLog
	Step(ctx context.Context, step string)
}

// DeviceHandle ties a device record to the driver and profile used for it.
type DeviceHandle struct {
	Role    Role
	Device  *models.Device
	Profile *models.Profile
	Driver  Driver
	Current swversion.Version

	done bool
	pre  *models.Snapshot
}

func (h *DeviceHandle) name() string {
	if h.Device.Hostname != "" {
		return h.Device.Hostname
	}
	return h.Device.ID
}

// UpgradeContext is the mutable state of one workflow run. Only the
// orchestrator touches it.
type UpgradeContext struct {
	Request Request
	Log     WorkflowLog
	DryRun  bool

	Target        swversion.Version
	TargetKey     string
	LocalVersion  swversion.Version
	PeerVersion   swversion.Version
	HA            *models.HAStatus
	Requested     *DeviceHandle
	Primary       *DeviceHandle
	Secondary     *DeviceHandle
	Standalone    *DeviceHandle
	StopWorkflow  bool
	suspendTarget *DeviceHandle
	suspendedByUs map[string]bool
}

func newUpgradeContext(req Request, log WorkflowLog) *UpgradeContext {
	return &UpgradeContext{
		Request:       req,
		Log:           log,
		DryRun:        req.DryRun,
		suspendedByUs: make(map[string]bool),
	}
}

// interrupted reports a pending cancel request or a done context.
func (uc *UpgradeContext) interrupted(ctx context.Context) error {
	select {
	case <-uc.Request.Cancel:
		return ErrCancelled
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}

// peerOf returns the other member of the pair, or nil.
func (uc *UpgradeContext) peerOf(h *DeviceHandle) *DeviceHandle {
	switch h {
	case uc.Primary:
		return uc.Secondary
	case uc.Secondary:
		return uc.Primary
	}
	return nil
}

// worklist is the queue of devices still to process, consumed front to back.
type worklist struct {
	items []*DeviceHandle
}

func newWorklist(uc *UpgradeContext) *worklist {
	w := &worklist{}
	if uc.Standalone != nil {
		w.push(uc.Standalone)
		return w
	}
	if uc.Secondary != nil {
		w.push(uc.Secondary)
	}
	if uc.Primary != nil {
		w.push(uc.Primary)
	}
	return w
}

func (w *worklist) push(h *DeviceHandle) { w.items = append(w.items, h) }

func (w *worklist) pop() (*DeviceHandle, bool) {
	if len(w.items) == 0 {
		return nil, false
	}
	h := w.items[0]
	w.items = w.items[1:]
	return h, true
}

// phaseError carries the phase a workflow stopped in and the outcome the
// stop maps to.
type phaseError struct {
	phase   Phase
	device  string
	outcome models.JobStatus
	err     error
}

func (e *phaseError) Error() string {
	if e.device != "" {
		return fmt.Sprintf("%s on %s: %v", e.phase, e.device, e.err)
	}
	return fmt.Sprintf("%s: %v", e.phase, e.err)
}

func (e *phaseError) Unwrap() error { return e.err }

// skipf ends the workflow as skipped.
func skipf(format string, args ...any) error {
	return &phaseError{outcome: models.JobStatusSkipped, err: fmt.Errorf(format, args...)}
}

// outcomeFor maps a workflow error to the job's terminal status.
func outcomeFor(err error) models.JobStatus {
	if err == nil {
		return models.JobStatusCompleted
	}
	var pe *phaseError
	if errors.As(err, &pe) && pe.outcome != "" {
		return pe.outcome
	}
	return models.JobStatusErrored
}
