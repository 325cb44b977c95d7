package models

import "time"

// SnapshotType distinguishes captures taken before and after an upgrade.
type SnapshotType string

const (
	SnapshotPreUpgrade  SnapshotType = "pre_upgrade"
	SnapshotPostUpgrade SnapshotType = "post_upgrade"
)

// LicenseEntry is one license installed on a device.
type LicenseEntry struct {
	Feature         string            `json:"feature"`
	Description     string            `json:"description"`
	Serial          string            `json:"serial"`
	Issued          string            `json:"issued"`
	Expires         string            `json:"expires"`
	Expired         string            `json:"expired"`
	BaseLicenseName string            `json:"base_license_name"`
	Authcode        string            `json:"authcode"`
	Custom          map[string]string `json:"custom,omitempty"`
}

// NetworkInterface is a physical interface and its link state.
type NetworkInterface struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// RouteEntry is one entry of the routing table.
type RouteEntry struct {
	VirtualRouter string `json:"virtual_router"`
	Destination   string `json:"destination"`
	Nexthop       string `json:"nexthop"`
	Interface     string `json:"interface"`
	Metric        string `json:"metric"`
	Flags         string `json:"flags"`
	RouteTable    string `json:"route_table"`
}

// ARPEntry is one entry of the ARP table.
type ARPEntry struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Port      string `json:"port"`
	Status    string `json:"status"`
	TTL       string `json:"ttl"`
}

// IPSecTunnel is one configured IPSec tunnel and its state.
type IPSecTunnel struct {
	Name    string `json:"name"`
	Gateway string `json:"gateway"`
	State   string `json:"state"`
}

// SessionStats summarizes the session table.
type SessionStats struct {
	NumActive int64 `json:"num_active"`
	NumMax    int64 `json:"num_max"`
	NumTCP    int64 `json:"num_tcp"`
	NumUDP    int64 `json:"num_udp"`
	NumICMP   int64 `json:"num_icmp"`
	KBPS      int64 `json:"kbps"`
	PPS       int64 `json:"pps"`
	CPS       int64 `json:"cps"`
}

// SnapshotData is the structured result of a capture, before it is owned
// by a job.
type SnapshotData struct {
	ContentVersion string             `json:"content_version,omitempty"`
	Licenses       []LicenseEntry     `json:"licenses,omitempty"`
	Interfaces     []NetworkInterface `json:"interfaces,omitempty"`
	Routes         []RouteEntry       `json:"routes,omitempty"`
	ARPEntries     []ARPEntry         `json:"arp_entries,omitempty"`
	IPSecTunnels   []IPSecTunnel      `json:"ip_sec_tunnels,omitempty"`
	SessionStats   *SessionStats      `json:"session_stats,omitempty"`
}

// Empty reports whether the capture carries no data at all.
func (d *SnapshotData) Empty() bool {
	return d == nil ||
		(d.ContentVersion == "" &&
			len(d.Licenses) == 0 &&
			len(d.Interfaces) == 0 &&
			len(d.Routes) == 0 &&
			len(d.ARPEntries) == 0 &&
			len(d.IPSecTunnels) == 0 &&
			d.SessionStats == nil)
}

// Snapshot is an immutable, persisted capture owned by a job and a device.
type Snapshot struct {
	ID        string       `json:"id"`
	JobID     string       `json:"job_id"`
	DeviceID  string       `json:"device_id"`
	Type      SnapshotType `json:"snapshot_type"`
	CreatedAt time.Time    `json:"created_at"`
	SnapshotData
}
