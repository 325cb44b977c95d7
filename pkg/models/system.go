package models

// SystemInfo is what a firewall reports about itself.
type SystemInfo struct {
	Hostname      string `json:"hostname"`
	IPv4          string `json:"ipv4"`
	IPv6          string `json:"ipv6"`
	Serial        string `json:"serial"`
	Model         string `json:"model"`
	SWVersion     string `json:"sw_version"`
	AppVersion    string `json:"app_version"`
	ThreatVersion string `json:"threat_version"`
	Uptime        string `json:"uptime"`
}

// HADeploymentDisabled is the literal deployment type of a device without HA.
const HADeploymentDisabled = "disabled"

// RunningSyncSynchronized is the running-sync value of a pair whose
// configuration matches on both members.
const RunningSyncSynchronized = "synchronized"

// HAStatus is the live HA report of a device.
type HAStatus struct {
	// DeploymentType is the literal mode string the device reports
	// ("disabled", "Active-Passive", "Active-Active").
	DeploymentType string  `json:"deployment_type"`
	LocalState     HAState `json:"local_state"`
	PeerState      HAState `json:"peer_state"`
	PeerIP         string  `json:"peer_ip"`
	PeerSerial     string  `json:"peer_serial"`
	LocalVersion   string  `json:"local_version"`
	PeerVersion    string  `json:"peer_version"`
	RunningSync    string  `json:"running_sync"`
}

// Enabled reports whether the device participates in an HA pair.
func (h *HAStatus) Enabled() bool {
	return h != nil && h.DeploymentType != "" && h.DeploymentType != HADeploymentDisabled
}

// AnySuspended reports whether either member reports the suspended state.
func (h *HAStatus) AnySuspended() bool {
	return h != nil && (h.LocalState == HAStateSuspended || h.PeerState == HAStateSuspended)
}

// SoftwareImage is one entry of a device's software catalog.
type SoftwareImage struct {
	Version     string `json:"version"`
	Filename    string `json:"filename,omitempty"`
	Size        string `json:"size,omitempty"`
	Released    string `json:"released_on,omitempty"`
	Downloaded  bool   `json:"downloaded"`
	Downloading bool   `json:"downloading"`
	Current     bool   `json:"current"`
	Latest      bool   `json:"latest"`
}

// SoftwareCatalog maps version strings to catalog entries.
type SoftwareCatalog map[string]SoftwareImage
