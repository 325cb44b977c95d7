package upgrade

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/internal/snapshot"
	"github.com/HerbHall/panupgrade/internal/store"
	"github.com/HerbHall/panupgrade/internal/testutil"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// callLog records driver calls across every fake in a test, in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// matching returns the calls whose operation is one of ops.
func (c *callLog) matching(ops ...string) []string {
	var out []string
	for _, call := range c.all() {
		fields := strings.Fields(call)
		if len(fields) > 1 && slices.Contains(ops, fields[1]) {
			out = append(out, call)
		}
	}
	return out
}

var mutatingOps = []string{"download", "install", "suspend", "reboot"}

// fakeDriver is a scriptable device. A nil ha reports HA disabled.
type fakeDriver struct {
	id  string
	log *callLog

	mu              sync.Mutex
	version         string
	installed       string
	ha              *models.HAStatus
	peer            *fakeDriver
	catalog         models.SoftwareCatalog
	suspendResp     string
	suspendErr      error
	installFailures int
	captureFailures int
	unsyncedChecks  int
	capture         *models.SnapshotData
	postCapture     *models.SnapshotData
	onCapture       func()
	onDownload      func()
	onReboot        func()
}

func newFakeDriver(id, version string, log *callLog, catalog ...string) *fakeDriver {
	d := &fakeDriver{
		id:          id,
		log:         log,
		version:     version,
		suspendResp: SuspendSuccess,
		catalog:     models.SoftwareCatalog{version: {Version: version, Downloaded: true, Current: true}},
		capture: &models.SnapshotData{
			ContentVersion: "8700-7000",
			Interfaces:     []models.NetworkInterface{{Name: "ethernet1/1", Status: "up"}},
			Routes:         []models.RouteEntry{{VirtualRouter: "default", Destination: "0.0.0.0/0", Nexthop: "10.0.0.254"}},
		},
	}
	for _, v := range catalog {
		d.catalog[v] = models.SoftwareImage{Version: v}
	}
	return d
}

// pair links a and b as an HA pair in the given local states.
func pair(a *fakeDriver, aState models.HAState, b *fakeDriver, bState models.HAState) {
	a.peer, b.peer = b, a
	a.ha = &models.HAStatus{DeploymentType: "Active-Passive", LocalState: aState, PeerState: bState, PeerIP: "10.0.0.2"}
	b.ha = &models.HAStatus{DeploymentType: "Active-Passive", LocalState: bState, PeerState: aState, PeerIP: "10.0.0.1"}
}

func (d *fakeDriver) currentVersion() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (d *fakeDriver) SystemInfo(_ context.Context) (*models.SystemInfo, error) {
	d.log.add("%s system_info", d.id)
	d.mu.Lock()
	defer d.mu.Unlock()
	return &models.SystemInfo{Hostname: d.id, SWVersion: d.version, Serial: "serial-" + d.id}, nil
}

func (d *fakeDriver) HAStatus(_ context.Context) (*models.HAStatus, error) {
	d.log.add("%s ha_status", d.id)
	peerVersion := ""
	if d.peer != nil {
		peerVersion = d.peer.currentVersion()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ha == nil {
		return &models.HAStatus{DeploymentType: models.HADeploymentDisabled}, nil
	}
	out := *d.ha
	out.LocalVersion = d.version
	out.PeerVersion = peerVersion
	out.RunningSync = models.RunningSyncSynchronized
	if out.LocalState == models.HAStateSuspended || out.PeerState == models.HAStateSuspended {
		out.RunningSync = "not synchronized"
	} else if d.unsyncedChecks > 0 {
		d.unsyncedChecks--
		out.RunningSync = "synchronization in progress"
	}
	return &out, nil
}

func (d *fakeDriver) SoftwareCatalog(_ context.Context) (models.SoftwareCatalog, error) {
	d.log.add("%s catalog", d.id)
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(models.SoftwareCatalog, len(d.catalog))
	for k, v := range d.catalog {
		out[k] = v
	}
	return out, nil
}

func (d *fakeDriver) DownloadSoftware(_ context.Context, version string) error {
	d.log.add("%s download %s", d.id, version)
	d.mu.Lock()
	hook := d.onDownload
	img := d.catalog[version]
	img.Downloaded = true
	d.catalog[version] = img
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (d *fakeDriver) InstallSoftware(_ context.Context, version string) error {
	d.log.add("%s install %s", d.id, version)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.installFailures > 0 {
		d.installFailures--
		return errors.New("software manager is busy")
	}
	d.installed = version
	return nil
}

func (d *fakeDriver) SuspendHA(_ context.Context) (string, error) {
	d.log.add("%s suspend", d.id)
	d.mu.Lock()
	if d.suspendErr != nil {
		d.mu.Unlock()
		return "", d.suspendErr
	}
	resp := d.suspendResp
	if resp == SuspendSuccess && d.ha != nil {
		d.ha.LocalState = models.HAStateSuspended
	}
	d.mu.Unlock()

	if resp == SuspendSuccess && d.peer != nil {
		d.peer.mu.Lock()
		if d.peer.ha != nil {
			d.peer.ha.PeerState = models.HAStateSuspended
		}
		d.peer.mu.Unlock()
	}
	return resp, nil
}

func (d *fakeDriver) Reboot(_ context.Context) error {
	d.log.add("%s reboot", d.id)
	d.mu.Lock()
	hook := d.onReboot
	if d.installed != "" {
		d.version = d.installed
	}
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (d *fakeDriver) CaptureSnapshot(_ context.Context, categories []string) (*models.SnapshotData, error) {
	d.log.add("%s capture %d", d.id, len(categories))
	d.mu.Lock()
	hook := d.onCapture
	var data *models.SnapshotData
	var err error
	switch {
	case d.captureFailures > 0:
		d.captureFailures--
		err = errors.New("management plane busy")
	case d.installed != "" && d.version == d.installed && d.postCapture != nil:
		data = d.postCapture
	default:
		data = d.capture
	}
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return data, err
}

// fakeInventory is an in-memory device and profile source.
type fakeInventory struct {
	mu       sync.Mutex
	devices  map[string]models.Device
	profiles map[string]models.Profile
	upserts  []string
}

func newFakeInventory(prof models.Profile, devices ...models.Device) *fakeInventory {
	inv := &fakeInventory{
		devices:  make(map[string]models.Device),
		profiles: map[string]models.Profile{prof.ID: prof},
	}
	for _, d := range devices {
		inv.devices[d.ID] = d
	}
	return inv
}

func (f *fakeInventory) GetDevice(_ context.Context, id string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeInventory) FindDeviceByAddress(_ context.Context, addr string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.IPv4 == addr || d.IPv6 == addr {
			return &d, nil
		}
	}
	return nil, nil
}

func (f *fakeInventory) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeInventory) UpsertDevice(_ context.Context, d *models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.ID] = *d
	f.upserts = append(f.upserts, d.ID)
	return nil
}

func (f *fakeInventory) device(id string) models.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[id]
}

// harness wires an Orchestrator to fakes plus real job and snapshot stores.
type harness struct {
	inv       *fakeInventory
	drivers   map[string]*fakeDriver
	calls     *callLog
	jobs      *jobs.Store
	snapshots *snapshot.Store
	orch      *Orchestrator
}

func newHarness(t *testing.T, prof models.Profile, devices ...models.Device) *harness {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	deps := plugin.Dependencies{Logger: zap.NewNop(), Store: db}
	jm := jobs.New()
	if err := jm.Init(ctx, deps); err != nil {
		t.Fatalf("init jobs: %v", err)
	}
	sm := snapshot.New()
	if err := sm.Init(ctx, deps); err != nil {
		t.Fatalf("init snapshot: %v", err)
	}

	h := &harness{
		inv:       newFakeInventory(prof, devices...),
		drivers:   make(map[string]*fakeDriver),
		calls:     &callLog{},
		jobs:      jm.Store(),
		snapshots: sm.Coordinator().Store(),
	}
	h.orch = NewOrchestrator(Options{
		Inventory: h.inv,
		Dial: func(dev *models.Device, _ *models.Profile) Driver {
			d, ok := h.drivers[dev.ID]
			if !ok {
				t.Fatalf("no fake driver for %s", dev.ID)
			}
			return d
		},
		Tracker:     jm.Tracker(),
		Snapshots:   sm.Coordinator(),
		Provisioner: NewProvisioner(NewLocalLock(), clock.WallClock, 0, 3),
		Clock:       clock.WallClock,
		Logger:      zap.NewNop(),
	})
	return h
}

func (h *harness) driver(id, version string, catalog ...string) *fakeDriver {
	d := newFakeDriver(id, version, h.calls, catalog...)
	h.drivers[id] = d
	return d
}

// run creates a job record and runs the workflow for it.
func (h *harness) run(t *testing.T, deviceID, target string, dryRun bool) (*models.Job, models.JobStatus) {
	t.Helper()
	return h.runWith(t, Request{DeviceID: deviceID, TargetVersion: target, DryRun: dryRun})
}

func (h *harness) runWith(t *testing.T, req Request) (*models.Job, models.JobStatus) {
	t.Helper()
	return h.runCtx(t, context.Background(), req)
}

func (h *harness) runCtx(t *testing.T, runCtx context.Context, req Request) (*models.Job, models.JobStatus) {
	t.Helper()
	ctx := context.Background()
	if req.ProfileID == "" {
		req.ProfileID = "default"
	}
	job := &models.Job{DeviceID: req.DeviceID, ProfileID: req.ProfileID, TargetVersion: req.TargetVersion, DryRun: req.DryRun}
	if err := h.jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	req.JobID = job.ID
	status := h.orch.Run(runCtx, req)

	got, err := h.jobs.Get(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("reload job: %v", err)
	}
	return got, status
}

// logText joins the job's task log for substring assertions.
func (h *harness) logText(t *testing.T, jobID string) string {
	t.Helper()
	entries, err := h.jobs.ListLogs(context.Background(), jobID, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Severity))
		b.WriteString(": ")
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	return b.String()
}

func standalone(id, version string) models.Device {
	return testutil.NewDevice(testutil.WithID(id), testutil.WithHostname(id), testutil.WithVersion(version))
}
