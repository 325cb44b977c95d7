// Package testutil holds fixtures shared by module tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// NewDevice returns a standalone Device with sensible defaults, suitable for
// test fixtures. Override individual fields with options.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		ID:        uuid.New().String(),
		Hostname:  "fw-test",
		Serial:    "0070000001",
		IPv4:      "10.0.0.1",
		Model:     "PA-3220",
		SWVersion: "10.1.0",
		Topology:  models.TopologyDirect,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithID sets the device id.
func WithID(id string) func(*models.Device) {
	return func(d *models.Device) { d.ID = id }
}

// WithHostname sets the device hostname.
func WithHostname(name string) func(*models.Device) {
	return func(d *models.Device) { d.Hostname = name }
}

// WithIPv4 sets the management address.
func WithIPv4(ip string) func(*models.Device) {
	return func(d *models.Device) { d.IPv4 = ip }
}

// WithSerial sets the serial number.
func WithSerial(serial string) func(*models.Device) {
	return func(d *models.Device) { d.Serial = serial }
}

// WithVersion sets the running PAN-OS version.
func WithVersion(v string) func(*models.Device) {
	return func(d *models.Device) { d.SWVersion = v }
}

// WithHA marks the device as an HA member in the given local state.
func WithHA(state models.HAState, peerID, peerIP string) func(*models.Device) {
	return func(d *models.Device) {
		d.HAEnabled = true
		d.LocalState = state
		d.PeerID = peerID
		d.PeerIP = peerIP
	}
}

// WithPanorama reaches the device through a Panorama controller.
func WithPanorama(addr string) func(*models.Device) {
	return func(d *models.Device) {
		d.Topology = models.TopologyPanorama
		d.Panorama = addr
	}
}

// NewHAPair returns an active/passive pair linked to each other.
func NewHAPair(version string) (active, passive models.Device) {
	active = NewDevice(
		WithID("fw-a"), WithHostname("fw-a"), WithIPv4("10.0.0.1"), WithSerial("0070000001"), WithVersion(version),
		WithHA(models.HAStateActive, "fw-b", "10.0.0.2"),
	)
	passive = NewDevice(
		WithID("fw-b"), WithHostname("fw-b"), WithIPv4("10.0.0.2"), WithSerial("0070000002"), WithVersion(version),
		WithHA(models.HAStatePassive, "fw-a", "10.0.0.1"),
	)
	active.PeerState = models.HAStatePassive
	passive.PeerState = models.HAStateActive
	return active, passive
}

// NewProfile returns the default profile with test credentials and fast
// retry intervals.
func NewProfile(opts ...func(*models.Profile)) models.Profile {
	p := models.DefaultProfile()
	p.ID = "default"
	p.Name = "default"
	p.Username = "admin"
	p.Password = "secret"
	fast := models.RetryPolicy{MaximumAttempts: 3, RetryInterval: time.Millisecond}
	p.Download, p.Install, p.Reboot, p.Snapshot = fast, fast, fast, fast
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithSnapshots replaces the snapshot flags.
func WithSnapshots(flags models.SnapshotFlags) func(*models.Profile) {
	return func(p *models.Profile) { p.Snapshots = flags }
}

// WithRetry sets the same retry policy for every phase.
func WithRetry(attempts int, interval time.Duration) func(*models.Profile) {
	return func(p *models.Profile) {
		r := models.RetryPolicy{MaximumAttempts: attempts, RetryInterval: interval}
		p.Download, p.Install, p.Reboot, p.Snapshot = r, r, r, r
	}
}
