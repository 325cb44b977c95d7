package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"gopkg.in/yaml.v3"
)

// File is the on-disk inventory format.
type File struct {
	Profiles []ProfileEntry `yaml:"profiles"`
	Devices  []DeviceEntry  `yaml:"devices"`
}

// Duration decodes "90s" style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// RetryEntry is a retry policy in the inventory file.
type RetryEntry struct {
	MaximumAttempts *int      `yaml:"maximum_attempts"`
	RetryInterval   *Duration `yaml:"retry_interval"`
}

func (r *RetryEntry) applyTo(p *models.RetryPolicy) {
	if r == nil {
		return
	}
	if r.MaximumAttempts != nil {
		p.MaximumAttempts = *r.MaximumAttempts
	}
	if r.RetryInterval != nil {
		p.RetryInterval = time.Duration(*r.RetryInterval)
	}
}

// ProfileEntry is a profile in the inventory file. Unset fields keep the
// defaults of models.DefaultProfile.
type ProfileEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	APIKey      string `yaml:"api_key"`
	Snapshots   struct {
		ARPTable       *bool `yaml:"arp_table"`
		ContentVersion *bool `yaml:"content_version"`
		IPSecTunnels   *bool `yaml:"ip_sec_tunnels"`
		License        *bool `yaml:"license"`
		NICs           *bool `yaml:"nics"`
		Routes         *bool `yaml:"routes"`
		SessionStats   *bool `yaml:"session_stats"`
	} `yaml:"snapshots"`
	Extra    []string    `yaml:"extra_snapshot_categories"`
	Download *RetryEntry `yaml:"download"`
	Install  *RetryEntry `yaml:"install"`
	Reboot   *RetryEntry `yaml:"reboot"`
	Snapshot *RetryEntry `yaml:"snapshot"`
}

// Profile converts the entry to a model, filling defaults.
func (e *ProfileEntry) Profile() models.Profile {
	p := models.DefaultProfile()
	p.ID, p.Name, p.Description = e.ID, e.Name, e.Description
	p.Username, p.Password, p.APIKey = e.Username, e.Password, e.APIKey
	if p.Name == "" {
		p.Name = e.ID
	}
	flag := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	s := e.Snapshots
	flag(&p.Snapshots.ARPTable, s.ARPTable)
	flag(&p.Snapshots.ContentVersion, s.ContentVersion)
	flag(&p.Snapshots.IPSecTunnels, s.IPSecTunnels)
	flag(&p.Snapshots.License, s.License)
	flag(&p.Snapshots.NICs, s.NICs)
	flag(&p.Snapshots.Routes, s.Routes)
	flag(&p.Snapshots.SessionStats, s.SessionStats)
	p.Extra = e.Extra
	e.Download.applyTo(&p.Download)
	e.Install.applyTo(&p.Install)
	e.Reboot.applyTo(&p.Reboot)
	e.Snapshot.applyTo(&p.Snapshot)
	return p
}

// DeviceEntry is a device in the inventory file.
type DeviceEntry struct {
	ID         string          `yaml:"id"`
	Hostname   string          `yaml:"hostname"`
	Serial     string          `yaml:"serial"`
	IPv4       string          `yaml:"ipv4"`
	IPv6       string          `yaml:"ipv6"`
	Topology   models.Topology `yaml:"topology"`
	Panorama   string          `yaml:"panorama"`
	SWVersion  string          `yaml:"sw_version"`
	HAEnabled  bool            `yaml:"ha_enabled"`
	LocalState models.HAState  `yaml:"local_state"`
	PeerID     string          `yaml:"peer_id"`
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Profiles int `json:"profiles"`
	Devices  int `json:"devices"`
	Links    int `json:"links"`
}

// Import reads an inventory file and upserts its profiles and devices.
// Peer links are applied after every device exists.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return ImportResult{}, fmt.Errorf("decode inventory: %w", err)
	}
	if err := f.validate(); err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for i := range f.Profiles {
		p := f.Profiles[i].Profile()
		if err := s.UpsertProfile(ctx, &p); err != nil {
			return res, err
		}
		res.Profiles++
	}

	for _, e := range f.Devices {
		existing, err := s.GetDevice(ctx, e.ID)
		if err != nil {
			return res, err
		}
		d := existing
		if d == nil {
			d = &models.Device{ID: e.ID}
		}
		d.Hostname, d.Serial, d.IPv4, d.IPv6 = e.Hostname, e.Serial, e.IPv4, e.IPv6
		d.Topology, d.Panorama = e.Topology, e.Panorama
		if e.SWVersion != "" {
			d.SWVersion = e.SWVersion
		}
		if e.HAEnabled {
			d.HAEnabled, d.LocalState = true, e.LocalState
		}
		if err := s.UpsertDevice(ctx, d); err != nil {
			return res, err
		}
		res.Devices++
	}

	for _, e := range f.Devices {
		if e.PeerID == "" {
			continue
		}
		if err := s.LinkPeers(ctx, e.ID, e.PeerID); err != nil {
			return res, err
		}
		res.Links++
	}
	return res, nil
}

func (f *File) validate() error {
	seen := make(map[string]bool)
	for i, p := range f.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profiles[%d]: id is required", i)
		}
	}
	for i, d := range f.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.IPv4 == "" && d.IPv6 == "" && d.Hostname == "" {
			return fmt.Errorf("devices[%d] %s: an address or hostname is required", i, d.ID)
		}
		switch d.Topology {
		case "", models.TopologyDirect:
		case models.TopologyPanorama:
			if d.Panorama == "" || d.Serial == "" {
				return fmt.Errorf("devices[%d] %s: panorama topology needs panorama and serial", i, d.ID)
			}
		default:
			return fmt.Errorf("devices[%d] %s: unknown topology %q", i, d.ID, d.Topology)
		}
	}
	for i, d := range f.Devices {
		if d.PeerID != "" && !seen[d.PeerID] {
			return fmt.Errorf("devices[%d] %s: peer %q is not in the file", i, d.ID, d.PeerID)
		}
		if d.PeerID == d.ID && d.ID != "" {
			return fmt.Errorf("devices[%d] %s: device cannot be its own peer", i, d.ID)
		}
	}
	return nil
}
