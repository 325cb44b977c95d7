package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// Change is a value that differs between two snapshots.
type Change struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// CategoryDiff lists the keys of one category that appeared, disappeared or
// changed value between two snapshots.
type CategoryDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether nothing differs.
func (d CategoryDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares a pre-upgrade and a post-upgrade snapshot.
type Diff struct {
	ContentVersion *Change      `json:"content_version,omitempty"`
	Licenses       CategoryDiff `json:"licenses"`
	Interfaces     CategoryDiff `json:"interfaces"`
	Routes         CategoryDiff `json:"routes"`
	ARPEntries     CategoryDiff `json:"arp_entries"`
	IPSecTunnels   CategoryDiff `json:"ip_sec_tunnels"`
	ActiveSessions *Change      `json:"active_sessions,omitempty"`
}

// Compare diffs two captures. Categories missing from either side are not
// compared.
func Compare(pre, post *models.SnapshotData) Diff {
	var d Diff
	if pre.ContentVersion != "" && post.ContentVersion != "" && pre.ContentVersion != post.ContentVersion {
		d.ContentVersion = &Change{Before: pre.ContentVersion, After: post.ContentVersion}
	}
	if pre.SessionStats != nil && post.SessionStats != nil && pre.SessionStats.NumActive != post.SessionStats.NumActive {
		d.ActiveSessions = &Change{
			Before: fmt.Sprint(pre.SessionStats.NumActive),
			After:  fmt.Sprint(post.SessionStats.NumActive),
		}
	}

	d.Licenses = compareKeyed(pre.Licenses, post.Licenses,
		func(l models.LicenseEntry) (string, string) { return l.Feature, l.Expires + "|" + l.Expired })
	d.Interfaces = compareKeyed(pre.Interfaces, post.Interfaces,
		func(n models.NetworkInterface) (string, string) { return n.Name, n.Status })
	d.Routes = compareKeyed(pre.Routes, post.Routes,
		func(r models.RouteEntry) (string, string) {
			return r.VirtualRouter + " " + r.Destination + " via " + r.Nexthop, r.Interface
		})
	d.ARPEntries = compareKeyed(pre.ARPEntries, post.ARPEntries,
		func(a models.ARPEntry) (string, string) { return a.Interface + " " + a.IP, a.MAC })
	d.IPSecTunnels = compareKeyed(pre.IPSecTunnels, post.IPSecTunnels,
		func(t models.IPSecTunnel) (string, string) { return t.Name, t.State })
	return d
}

// Empty reports whether the two snapshots match.
func (d Diff) Empty() bool {
	return d.ContentVersion == nil && d.ActiveSessions == nil &&
		d.Licenses.Empty() && d.Interfaces.Empty() && d.Routes.Empty() &&
		d.ARPEntries.Empty() && d.IPSecTunnels.Empty()
}

// Summary renders the differing categories as "routes +1 -2 ~0, ...".
func (d Diff) Summary() string {
	var parts []string
	if d.ContentVersion != nil {
		parts = append(parts, fmt.Sprintf("content %s -> %s", d.ContentVersion.Before, d.ContentVersion.After))
	}
	for _, c := range []struct {
		name string
		diff CategoryDiff
	}{
		{"licenses", d.Licenses},
		{"interfaces", d.Interfaces},
		{"routes", d.Routes},
		{"arp", d.ARPEntries},
		{"ipsec", d.IPSecTunnels},
	} {
		if !c.diff.Empty() {
			parts = append(parts, fmt.Sprintf("%s +%d -%d ~%d", c.name, len(c.diff.Added), len(c.diff.Removed), len(c.diff.Changed)))
		}
	}
	if d.ActiveSessions != nil {
		parts = append(parts, fmt.Sprintf("sessions %s -> %s", d.ActiveSessions.Before, d.ActiveSessions.After))
	}
	if len(parts) == 0 {
		return "no differences"
	}
	return strings.Join(parts, ", ")
}

func compareKeyed[T any](pre, post []T, key func(T) (k, v string)) CategoryDiff {
	before := make(map[string]string, len(pre))
	for _, e := range pre {
		k, v := key(e)
		before[k] = v
	}
	var d CategoryDiff
	seen := make(map[string]bool, len(post))
	for _, e := range post {
		k, v := key(e)
		seen[k] = true
		old, ok := before[k]
		switch {
		case !ok:
			d.Added = append(d.Added, k)
		case old != v:
			d.Changed = append(d.Changed, k)
		}
	}
	for k := range before {
		if !seen[k] {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
