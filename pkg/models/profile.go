package models

import "time"

// RetryPolicy bounds a retried or polled phase: at most MaximumAttempts
// tries, RetryInterval apart.
type RetryPolicy struct {
	MaximumAttempts int           `json:"maximum_attempts"`
	RetryInterval   time.Duration `json:"retry_interval"`
}

// Budget returns the worst-case wall-clock time the policy may wait.
func (p RetryPolicy) Budget() time.Duration {
	return time.Duration(p.MaximumAttempts) * p.RetryInterval
}

// SnapshotCategory names one kind of operational state a snapshot captures.
type SnapshotCategory string

const (
	SnapshotARPTable       SnapshotCategory = "arp_table"
	SnapshotContentVersion SnapshotCategory = "content_version"
	SnapshotIPSecTunnels   SnapshotCategory = "ip_sec_tunnels"
	SnapshotLicense        SnapshotCategory = "license"
	SnapshotNICs           SnapshotCategory = "nics"
	SnapshotRoutes         SnapshotCategory = "routes"
	SnapshotSessionStats   SnapshotCategory = "session_stats"
)

// KnownSnapshotCategories is the recognized capture set.
var KnownSnapshotCategories = []SnapshotCategory{
	SnapshotARPTable,
	SnapshotContentVersion,
	SnapshotIPSecTunnels,
	SnapshotLicense,
	SnapshotNICs,
	SnapshotRoutes,
	SnapshotSessionStats,
}

// SnapshotFlags enables individual capture categories.
type SnapshotFlags struct {
	ARPTable       bool `json:"arp_table"`
	ContentVersion bool `json:"content_version"`
	IPSecTunnels   bool `json:"ip_sec_tunnels"`
	License        bool `json:"license"`
	NICs           bool `json:"nics"`
	Routes         bool `json:"routes"`
	SessionStats   bool `json:"session_stats"`
}

// Profile is the immutable configuration bundle a workflow runs with.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	APIKey   string `json:"-"`

	Snapshots SnapshotFlags `json:"snapshots"`
	// Extra lists additional category names enabled on top of Snapshots.
	// Unrecognized names make every capture under this profile fail.
	Extra []string `json:"extra_snapshot_categories,omitempty"`

	Download RetryPolicy `json:"download"`
	Install  RetryPolicy `json:"install"`
	Reboot   RetryPolicy `json:"reboot"`
	Snapshot RetryPolicy `json:"snapshot"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultProfile returns a profile with every capture enabled and the retry
// policy defaults used when an imported profile leaves them unset.
func DefaultProfile() Profile {
	return Profile{
		Snapshots: SnapshotFlags{
			ARPTable:       true,
			ContentVersion: true,
			IPSecTunnels:   true,
			License:        true,
			NICs:           true,
			Routes:         true,
			SessionStats:   true,
		},
		Download: RetryPolicy{MaximumAttempts: 3, RetryInterval: 60 * time.Second},
		Install:  RetryPolicy{MaximumAttempts: 3, RetryInterval: 60 * time.Second},
		Reboot:   RetryPolicy{MaximumAttempts: 30, RetryInterval: 60 * time.Second},
		Snapshot: RetryPolicy{MaximumAttempts: 3, RetryInterval: 60 * time.Second},
	}
}

// EnabledSnapshotCategories returns the category names switched on by the
// profile, in a stable order, followed by any extra names.
func (p *Profile) EnabledSnapshotCategories() []string {
	flags := []struct {
		on  bool
		cat SnapshotCategory
	}{
		{p.Snapshots.ARPTable, SnapshotARPTable},
		{p.Snapshots.ContentVersion, SnapshotContentVersion},
		{p.Snapshots.IPSecTunnels, SnapshotIPSecTunnels},
		{p.Snapshots.License, SnapshotLicense},
		{p.Snapshots.NICs, SnapshotNICs},
		{p.Snapshots.Routes, SnapshotRoutes},
		{p.Snapshots.SessionStats, SnapshotSessionStats},
	}
	var out []string
	for _, f := range flags {
		if f.on {
			out = append(out, string(f.cat))
		}
	}
	return append(out, p.Extra...)
}
