package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/panupgrade/internal/inventory"
	"github.com/HerbHall/panupgrade/internal/snapshot"
	"github.com/HerbHall/panupgrade/internal/swversion"
	"github.com/HerbHall/panupgrade/pkg/models"
)

// SuspendSuccess is the literal response of a successful HA suspend.
const SuspendSuccess = "Successfully changed HA state to suspended"

var (
	errHASuspended = errors.New("HA member is suspended")
	errHADisabled  = errors.New("HA is disabled")
	errNotSynced   = errors.New("HA configuration not synchronized")
	errUnreachable = errors.New("device not reachable")
)

// load validates the request and reads the requested device and profile.
// The stored record is enough for the primary guard, so no device is
// contacted before it passes.
func (o *Orchestrator) load(ctx context.Context, uc *UpgradeContext, _ *DeviceHandle) error {
	req := uc.Request
	target, err := swversion.Parse(req.TargetVersion)
	if err != nil {
		uc.Log.Errorf(ctx, "target version %q is not valid: %v", req.TargetVersion, err)
		return err
	}
	uc.Target = target
	uc.TargetKey = strings.TrimSpace(req.TargetVersion)

	if o.inventory == nil || o.dial == nil {
		return errors.New("no device inventory configured")
	}
	dev, err := o.inventory.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return fmt.Errorf("load device %s: %w", req.DeviceID, err)
	}
	if dev == nil {
		return fmt.Errorf("device %s not found", req.DeviceID)
	}
	prof, err := o.inventory.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", req.ProfileID, err)
	}
	if prof == nil {
		return fmt.Errorf("profile %s not found", req.ProfileID)
	}

	if dev.IsHAPrimary() {
		uc.Log.Warnf(ctx, "%s is the %s member of its HA pair; request the upgrade on its peer", dev.Hostname, dev.LocalState)
		return skipf("%s is the active HA member", dev.Hostname)
	}

	uc.Requested = &DeviceHandle{Device: dev, Profile: prof, Driver: o.dial(dev, prof)}
	return nil
}

// assignRoles classifies the requested device from its live HA state and
// locates the peer.
func (o *Orchestrator) assignRoles(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	ha, err := h.Driver.HAStatus(ctx)
	if err != nil {
		return fmt.Errorf("read HA state: %w", err)
	}
	uc.HA = ha

	cls := Classify(ha)
	switch {
	case cls.Role == RoleStandalone:
		h.Role = RoleStandalone
		uc.Standalone = h
		uc.Log.Infof(ctx, "%s is standalone", h.name())
		return nil
	case cls.Suspended:
		uc.Log.Errorf(ctx, "%s reports HA local state %q and peer state %q; refusing to operate on a suspended pair",
			h.name(), ha.LocalState, ha.PeerState)
		return errHASuspended
	case cls.Role == RolePrimary:
		uc.Log.Warnf(ctx, "%s is %s; request the upgrade on its peer", h.name(), ha.LocalState)
		return skipf("%s is the active HA member", h.name())
	}

	h.Role = RoleSecondary
	uc.Secondary = h
	uc.Log.Infof(ctx, "%s is the %s HA member (peer %s is %s)", h.name(), ha.LocalState, ha.PeerIP, ha.PeerState)

	peer, err := o.findPeer(ctx, h.Device, ha)
	if err != nil {
		return err
	}
	if peer == nil {
		uc.Log.Warnf(ctx, "HA peer %s of %s is not in the inventory; only %s will be upgraded", ha.PeerIP, h.name(), h.name())
		return nil
	}
	uc.Primary = &DeviceHandle{Role: RolePrimary, Device: peer, Profile: h.Profile, Driver: o.dial(peer, h.Profile)}
	return nil
}

func (o *Orchestrator) findPeer(ctx context.Context, dev *models.Device, ha *models.HAStatus) (*models.Device, error) {
	if dev.PeerID != "" {
		peer, err := o.inventory.GetDevice(ctx, dev.PeerID)
		if err != nil {
			return nil, fmt.Errorf("load peer %s: %w", dev.PeerID, err)
		}
		if peer != nil {
			return peer, nil
		}
	}
	if ha.PeerIP == "" {
		return nil, nil
	}
	peer, err := o.inventory.FindDeviceByAddress(ctx, ha.PeerIP)
	if err != nil {
		return nil, fmt.Errorf("look up peer %s: %w", ha.PeerIP, err)
	}
	return peer, nil
}

// resolveVersions reads the running version and decides whether the device
// needs the upgrade at all.
func (o *Orchestrator) resolveVersions(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	info, err := h.Driver.SystemInfo(ctx)
	if err != nil {
		return fmt.Errorf("read system info: %w", err)
	}
	cur, err := swversion.Parse(info.SWVersion)
	if err != nil {
		return fmt.Errorf("device reports version %q: %w", info.SWVersion, err)
	}
	h.Current = cur

	if h.Role == RoleSecondary {
		uc.LocalVersion = cur
		if err := o.resolvePeerVersion(ctx, uc); err != nil {
			return err
		}
	}

	switch checkVersions(cur, uc.Target) {
	case versionEqual:
		if h.Role == RolePrimary {
			uc.Log.Infof(ctx, "%s already runs %s", h.name(), cur)
			h.done = true
			return nil
		}
		uc.Log.Warnf(ctx, "%s already runs %s; nothing to do", h.name(), cur)
		return skipf("%s already runs %s", h.name(), cur)
	case versionDowngrade:
		uc.Log.Errorf(ctx, "%s runs %s, newer than the requested %s; downgrades are not performed", h.name(), cur, uc.Target)
		return fmt.Errorf("downgrade from %s to %s refused", cur, uc.Target)
	}
	uc.Log.Infof(ctx, "%s runs %s, upgrading to %s", h.name(), cur, uc.TargetKey)
	return nil
}

func (o *Orchestrator) resolvePeerVersion(ctx context.Context, uc *UpgradeContext) error {
	raw := ""
	if uc.HA != nil {
		raw = uc.HA.PeerVersion
	}
	if raw == "" && uc.Primary != nil {
		info, err := uc.Primary.Driver.SystemInfo(ctx)
		if err != nil {
			return fmt.Errorf("read peer system info: %w", err)
		}
		raw = info.SWVersion
	}
	if raw == "" {
		return nil
	}
	v, err := swversion.Parse(raw)
	if err != nil {
		return fmt.Errorf("peer reports version %q: %w", raw, err)
	}
	uc.PeerVersion = v
	return nil
}

// checkCompatibility refuses target versions the pair cannot run side by
// side during the upgrade. The secondary also checks its peer's path, so a
// pair the primary cannot follow is refused before anything is changed.
func (o *Orchestrator) checkCompatibility(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	if err := o.gate(ctx, uc, h.name(), h.Current); err != nil {
		return err
	}
	if h.Role != RoleSecondary || uc.PeerVersion == (swversion.Version{}) || !IsUpgradeRequired(uc.PeerVersion, uc.Target) {
		return nil
	}
	peer := "HA peer of " + h.name()
	if uc.Primary != nil {
		peer = uc.Primary.name()
	}
	return o.gate(ctx, uc, peer, uc.PeerVersion)
}

func (o *Orchestrator) gate(ctx context.Context, uc *UpgradeContext, name string, cur swversion.Version) error {
	ok, reason := IsHACompatible(cur, uc.Target)
	if !ok {
		uc.Log.Errorf(ctx, "%s: %s -> %s is not an HA-compatible upgrade: %s", name, cur, uc.Target, reason)
		return fmt.Errorf("incompatible upgrade path for %s %s -> %s: %s", name, cur, uc.Target, reason)
	}
	uc.Log.Debugf(ctx, "%s: %s -> %s is HA compatible", name, cur, uc.Target)
	return nil
}

func (o *Orchestrator) provisionBase(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	base := uc.Target.Base()
	if base == uc.Target {
		uc.Log.Debugf(ctx, "%s is a base release", uc.TargetKey)
		return nil
	}
	return o.provision(ctx, uc, h, base.String())
}

func (o *Orchestrator) provisionTarget(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	return o.provision(ctx, uc, h, uc.TargetKey)
}

func (o *Orchestrator) provision(ctx context.Context, uc *UpgradeContext, h *DeviceHandle, version string) error {
	catalog, err := o.provisioner.CheckAvailable(ctx, h.Driver, version)
	if err != nil {
		uc.Log.Errorf(ctx, "%s is not available on %s", version, h.name())
		return err
	}
	if uc.DryRun {
		switch img := catalog[version]; {
		case img.Downloaded:
			uc.Log.Infof(ctx, "%s already downloaded on %s", version, h.name())
		case img.Downloading:
			uc.Log.Warnf(ctx, "%s is downloading on %s", version, h.name())
		default:
			uc.Log.Infof(ctx, "would download %s to %s", version, h.name())
		}
		return nil
	}
	return o.provisioner.EnsureDownloaded(ctx, h.Driver, h.Device.ID, version, h.Profile.Download, uc.Log)
}

// waitForSync polls until the pair reports its configuration synchronized.
// A pair with either member suspended earlier in this run cannot sync, so
// the wait is replaced by a single state check.
func (o *Orchestrator) waitForSync(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	suspended := h
	if !uc.suspendedByUs[h.Device.ID] {
		suspended = uc.peerOf(h)
	}
	if suspended != nil && uc.suspendedByUs[suspended.Device.ID] {
		ha, err := h.Driver.HAStatus(ctx)
		if err != nil {
			return fmt.Errorf("read HA state: %w", err)
		}
		if err := uc.checkSuspended(h, ha); err != nil {
			uc.Log.Errorf(ctx, "%s: %v", h.name(), err)
			return err
		}
		uc.HA = ha
		uc.Log.Infof(ctx, "%s was suspended by this run; not waiting for HA sync", suspended.name())
		return nil
	}

	policy := h.Profile.Snapshot
	var last *models.HAStatus
	loop := retryLoop{
		clock:  o.clock,
		policy: policy,
		fatal: func(err error) bool {
			return errors.Is(err, errHASuspended) || errors.Is(err, errHADisabled)
		},
		notify: func(err error, n int) {
			uc.Log.Debugf(ctx, "HA sync check %d on %s: %v", n, h.name(), err)
		},
	}
	err := loop.run(ctx, func() error {
		ha, err := h.Driver.HAStatus(ctx)
		if err != nil {
			return fmt.Errorf("read HA state: %w", err)
		}
		if !ha.Enabled() {
			return errHADisabled
		}
		if err := uc.checkSuspended(h, ha); err != nil {
			return err
		}
		if ha.RunningSync != models.RunningSyncSynchronized {
			return fmt.Errorf("%w: running-sync is %q", errNotSynced, ha.RunningSync)
		}
		last = ha
		return nil
	})
	if err != nil {
		uc.Log.Errorf(ctx, "HA sync wait on %s failed: %v", h.name(), err)
		return err
	}
	uc.HA = last
	uc.Log.Infof(ctx, "HA configuration synchronized on %s", h.name())
	return nil
}

// checkSuspended fails when either side of ha is suspended, unless this
// run suspended that side itself.
func (uc *UpgradeContext) checkSuspended(h *DeviceHandle, ha *models.HAStatus) error {
	if ha.LocalState == models.HAStateSuspended && !uc.suspendedByUs[h.Device.ID] {
		return fmt.Errorf("%w: local state of %s", errHASuspended, h.name())
	}
	if ha.PeerState == models.HAStateSuspended {
		peer := uc.peerOf(h)
		if peer == nil || !uc.suspendedByUs[peer.Device.ID] {
			return fmt.Errorf("%w: peer of %s", errHASuspended, h.name())
		}
	}
	return nil
}

// decideSuspension picks which member, if any, to suspend before the
// secondary is upgraded, from the version skew between the two.
func (o *Orchestrator) decideSuspension(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	local, peerV := uc.LocalVersion, uc.PeerVersion
	if peerV == (swversion.Version{}) {
		return fmt.Errorf("version of the HA peer of %s is unknown", h.name())
	}
	state := uc.HA.LocalState

	switch checkVersions(local, peerV) {
	case versionDowngrade:
		uc.Log.Infof(ctx, "%s (%s) is ahead of its peer (%s); no suspension needed", h.name(), local, peerV)
		return nil
	case versionUpgrade:
		var target *DeviceHandle
		switch {
		case state.IsActive():
			target = h
		case uc.HA.PeerState.IsActive():
			target = uc.Primary
			if target == nil {
				return fmt.Errorf("active peer of %s is not in the inventory", h.name())
			}
		default:
			return fmt.Errorf("neither member of the pair is active (local %q, peer %q)", state, uc.HA.PeerState)
		}
		uc.Log.Infof(ctx, "%s (%s) is behind its peer (%s); the active member %s will be suspended", h.name(), local, peerV, target.name())
		uc.suspendTarget = target
		return nil
	}

	switch {
	case state.IsActive():
		uc.Log.Infof(ctx, "%s is %s; no suspension needed", h.name(), state)
	case state == models.HAStateInitial:
		uc.Log.Errorf(ctx, "%s is still in the initial HA state; not proceeding", h.name())
		return fmt.Errorf("%s is in the initial HA state", h.name())
	default:
		uc.Log.Infof(ctx, "%s is %s at the same version as its peer; it will be suspended", h.name(), state)
		uc.suspendTarget = h
	}
	return nil
}

func (o *Orchestrator) suspend(ctx context.Context, uc *UpgradeContext, _ *DeviceHandle) error {
	t := uc.suspendTarget
	if t == nil {
		uc.Log.Debugf(ctx, "no HA suspension required")
		return nil
	}
	if uc.DryRun {
		uc.Log.Infof(ctx, "would suspend HA on %s", t.name())
		return nil
	}
	resp, err := t.Driver.SuspendHA(ctx)
	if err != nil {
		return fmt.Errorf("suspend HA on %s: %w", t.name(), err)
	}
	if strings.TrimSpace(resp) != SuspendSuccess {
		uc.Log.Errorf(ctx, "HA suspend on %s returned %q", t.name(), resp)
		return fmt.Errorf("suspend HA on %s: unexpected response %q", t.name(), resp)
	}
	uc.suspendedByUs[t.Device.ID] = true
	uc.Log.Infof(ctx, "HA suspended on %s", t.name())
	return nil
}

func (o *Orchestrator) preSnapshot(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	snap, err := o.capture(ctx, uc, h, models.SnapshotPreUpgrade)
	if err != nil {
		return err
	}
	h.pre = snap
	return nil
}

func (o *Orchestrator) postSnapshot(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	if !uc.DryRun && o.settle > 0 {
		uc.Log.Infof(ctx, "waiting %s for %s to settle", o.settle, h.name())
		if err := sleep(ctx, o.clock, o.settle); err != nil {
			return fmt.Errorf("interrupted: %w", err)
		}
	}
	post, err := o.capture(ctx, uc, h, models.SnapshotPostUpgrade)
	if err != nil {
		return err
	}
	if h.pre != nil && post != nil {
		diff := snapshot.Compare(&h.pre.SnapshotData, &post.SnapshotData)
		if diff.Empty() {
			uc.Log.Infof(ctx, "%s: snapshots match: %s", h.name(), diff.Summary())
		} else {
			uc.Log.Warnf(ctx, "%s: snapshot differences: %s", h.name(), diff.Summary())
		}
	}
	return nil
}

// capture takes one snapshot, retried per the profile's snapshot policy.
func (o *Orchestrator) capture(ctx context.Context, uc *UpgradeContext, h *DeviceHandle, typ models.SnapshotType) (*models.Snapshot, error) {
	var snap *models.Snapshot
	loop := retryLoop{
		clock:  o.clock,
		policy: h.Profile.Snapshot,
		fatal:  func(err error) bool { return errors.Is(err, snapshot.ErrUnknownCategory) },
		notify: func(err error, n int) {
			uc.Log.Warnf(ctx, "%s snapshot attempt %d on %s failed: %v", typ, n, h.name(), err)
		},
	}
	err := loop.run(ctx, func() error {
		var err error
		snap, err = o.snapshots.Capture(ctx, h.Driver, uc.Log, snapshot.Request{
			JobID:    uc.Request.JobID,
			DeviceID: h.Device.ID,
			Type:     typ,
			Profile:  h.Profile,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s snapshot: %w", typ, err)
	}
	if snap == nil {
		uc.Log.Debugf(ctx, "no snapshot categories enabled")
	}
	return snap, nil
}

// install asks the device to install the target, retried while the
// software manager is busy.
func (o *Orchestrator) install(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	if uc.DryRun {
		uc.Log.Infof(ctx, "would install %s on %s", uc.TargetKey, h.name())
		return nil
	}
	loop := retryLoop{
		clock:  o.clock,
		policy: h.Profile.Install,
		notify: func(err error, n int) {
			uc.Log.Warnf(ctx, "install attempt %d of %s on %s failed: %v", n, uc.TargetKey, h.name(), err)
		},
	}
	if err := loop.run(ctx, func() error { return h.Driver.InstallSoftware(ctx, uc.TargetKey) }); err != nil {
		return fmt.Errorf("install %s: %w", uc.TargetKey, err)
	}
	uc.Log.Infof(ctx, "%s installed on %s", uc.TargetKey, h.name())
	return nil
}

// reboot restarts the device and waits until it answers running the
// target, then records the new version in the inventory.
func (o *Orchestrator) reboot(ctx context.Context, uc *UpgradeContext, h *DeviceHandle) error {
	if uc.DryRun {
		uc.Log.Infof(ctx, "would reboot %s", h.name())
		return nil
	}
	if err := h.Driver.Reboot(ctx); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	policy := h.Profile.Reboot
	uc.Log.Infof(ctx, "%s rebooting; waiting up to %s for it to return", h.name(), policy.Budget())

	var info *models.SystemInfo
	loop := retryLoop{
		clock:  o.clock,
		policy: policy,
		notify: func(err error, n int) {
			uc.Log.Debugf(ctx, "%s not back yet (check %d): %v", h.name(), n, err)
		},
	}
	err := loop.run(ctx, func() error {
		if o.prober != nil && !o.prober.Reachable(ctx, h.Device.Address()) {
			return errUnreachable
		}
		got, err := h.Driver.SystemInfo(ctx)
		if err != nil {
			return err
		}
		v, err := swversion.Parse(got.SWVersion)
		if err != nil {
			return err
		}
		if v != uc.Target {
			return fmt.Errorf("running %s", got.SWVersion)
		}
		info = got
		return nil
	})
	if err != nil {
		uc.Log.Errorf(ctx, "%s did not come back on %s: %v", h.name(), uc.TargetKey, err)
		return fmt.Errorf("wait for reboot: %w", err)
	}

	h.Current = uc.Target
	inventory.ApplySystemInfo(h.Device, info)
	if err := o.inventory.UpsertDevice(ctx, h.Device); err != nil {
		uc.Log.Warnf(ctx, "could not record the new version of %s: %v", h.name(), err)
	}
	uc.Log.Infof(ctx, "%s is running %s", h.name(), info.SWVersion)
	return nil
}
