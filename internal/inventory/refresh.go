package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

// TopicDeviceRefreshed is published after a device record is refreshed.
const TopicDeviceRefreshed = "inventory.device.refreshed"

// Probe is the read-only slice of the device API used by refresh.
type Probe interface {
	SystemInfo(ctx context.Context) (*models.SystemInfo, error)
	HAStatus(ctx context.Context) (*models.HAStatus, error)
}

// ProbeDialer opens a Probe for a device using a profile's credentials.
type ProbeDialer func(dev *models.Device, prof *models.Profile) Probe

// Refresher updates device records from the live device.
type Refresher struct {
	store  *Store
	dial   ProbeDialer
	bus    plugin.EventBus
	logger *zap.Logger
}

// NewRefresher returns a Refresher. bus may be nil.
func NewRefresher(store *Store, dial ProbeDialer, bus plugin.EventBus, logger *zap.Logger) *Refresher {
	return &Refresher{store: store, dial: dial, bus: bus, logger: logger}
}

// Refresh reads system and HA state from the device and stores it. When the
// device reports an HA peer whose address matches an inventory record, the
// two are linked in both directions. An unknown peer is only a warning.
func (r *Refresher) Refresh(ctx context.Context, deviceID, profileID string) (*models.Device, error) {
	dev, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	prof, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		return nil, fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
	}

	drv := r.dial(dev, prof)
	info, err := drv.SystemInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", deviceID, err)
	}
	ha, err := drv.HAStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", deviceID, err)
	}

	ApplySystemInfo(dev, info)
	ApplyHAStatus(dev, ha)
	now := time.Now().UTC()
	dev.LastRefreshed = &now
	if err := r.store.UpsertDevice(ctx, dev); err != nil {
		return nil, err
	}

	if dev.HAEnabled && dev.PeerIP != "" {
		peer, err := r.store.FindDeviceByAddress(ctx, dev.PeerIP)
		switch {
		case err != nil:
			return nil, err
		case peer == nil:
			r.logger.Warn("HA peer not found in inventory",
				zap.String("device_id", dev.ID),
				zap.String("peer_ip", dev.PeerIP),
			)
		case peer.ID != dev.ID:
			if err := r.store.LinkPeers(ctx, dev.ID, peer.ID); err != nil {
				return nil, err
			}
			dev.PeerID = peer.ID
		}
	}

	r.logger.Info("device refreshed",
		zap.String("device_id", dev.ID),
		zap.String("sw_version", dev.SWVersion),
		zap.Bool("ha_enabled", dev.HAEnabled),
		zap.String("local_state", string(dev.LocalState)),
	)
	if r.bus != nil {
		r.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicDeviceRefreshed,
			Source:    "inventory",
			Timestamp: now,
			Payload:   *dev,
		})
	}
	return dev, nil
}

// ApplySystemInfo copies the identity and version fields of info onto dev.
// Empty values in info leave the stored value in place.
func ApplySystemInfo(dev *models.Device, info *models.SystemInfo) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&dev.Hostname, info.Hostname)
	set(&dev.IPv4, info.IPv4)
	set(&dev.IPv6, info.IPv6)
	set(&dev.Serial, info.Serial)
	set(&dev.Model, info.Model)
	set(&dev.SWVersion, info.SWVersion)
	set(&dev.AppVersion, info.AppVersion)
	set(&dev.ThreatVersion, info.ThreatVersion)
	set(&dev.Uptime, info.Uptime)
}

// ApplyHAStatus copies the HA role fields of ha onto dev. A device that
// reports HA disabled loses its HA fields but keeps any peer link until the
// peer is refreshed.
func ApplyHAStatus(dev *models.Device, ha *models.HAStatus) {
	if !ha.Enabled() {
		dev.HAEnabled = false
		dev.LocalState = models.HAStateUnknown
		dev.PeerState = models.HAStateUnknown
		dev.PeerIP = ""
		return
	}
	dev.HAEnabled = true
	dev.LocalState = ha.LocalState
	dev.PeerState = ha.PeerState
	dev.PeerIP = ha.PeerIP
}
