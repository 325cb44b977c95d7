package models

import "time"

// HAState is the local or peer state a firewall reports for its HA pair.
type HAState string

const (
	HAStateActive          HAState = "active"
	HAStatePassive         HAState = "passive"
	HAStateActivePrimary   HAState = "active-primary"
	HAStateActiveSecondary HAState = "active-secondary"
	HAStateSuspended       HAState = "suspended"
	HAStateInitial         HAState = "initial"
	HAStateNonFunctional   HAState = "non-functional"
	HAStateUnknown         HAState = ""
)

// IsActive reports whether the state carries traffic for the pair.
// Only active and active-primary count; active-secondary is treated as
// the secondary member for sequencing.
func (s HAState) IsActive() bool {
	return s == HAStateActive || s == HAStateActivePrimary
}

// Topology describes how the management plane of a device is reached.
type Topology string

const (
	TopologyDirect   Topology = "direct"
	TopologyPanorama Topology = "panorama"
)

// Device is the persisted inventory record of a single firewall.
// Peer linkage is by ID only; callers look the peer up in the store.
type Device struct {
	ID            string   `json:"id" yaml:"id" example:"fw-dc1-a"`
	Hostname      string   `json:"hostname" yaml:"hostname" example:"dc1-fw-a"`
	Serial        string   `json:"serial,omitempty" yaml:"serial" example:"007054000123456"`
	IPv4          string   `json:"ipv4,omitempty" yaml:"ipv4" example:"10.0.0.10"`
	IPv6          string   `json:"ipv6,omitempty" yaml:"ipv6"`
	Model         string   `json:"model,omitempty" yaml:"model" example:"PA-3220"`
	SWVersion     string   `json:"sw_version,omitempty" yaml:"sw_version" example:"10.1.6-h3"`
	AppVersion    string   `json:"app_version,omitempty" yaml:"app_version"`
	ThreatVersion string   `json:"threat_version,omitempty" yaml:"threat_version"`
	Uptime        string   `json:"uptime,omitempty" yaml:"-"`
	Topology      Topology `json:"topology" yaml:"topology" example:"direct"`
	// Panorama is the management controller address used when Topology is panorama.
	Panorama string `json:"panorama,omitempty" yaml:"panorama"`

	HAEnabled  bool    `json:"ha_enabled" yaml:"ha_enabled"`
	LocalState HAState `json:"local_state,omitempty" yaml:"local_state"`
	PeerState  HAState `json:"peer_state,omitempty" yaml:"peer_state"`
	PeerIP     string  `json:"peer_ip,omitempty" yaml:"peer_ip"`
	PeerID     string  `json:"peer_id,omitempty" yaml:"peer_id"`

	LastRefreshed *time.Time `json:"last_refreshed,omitempty" yaml:"-"`
	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"-"`
}

// Address returns the address the management API is reached on.
func (d *Device) Address() string {
	if d.Topology == TopologyPanorama && d.Panorama != "" {
		return d.Panorama
	}
	if d.IPv4 != "" {
		return d.IPv4
	}
	if d.IPv6 != "" {
		return d.IPv6
	}
	return d.Hostname
}

// IsHAPrimary reports whether the stored record marks the device as the
// active member of an HA pair.
func (d *Device) IsHAPrimary() bool {
	return d.HAEnabled && d.LocalState.IsActive()
}
