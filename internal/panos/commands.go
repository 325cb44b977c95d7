package panos

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// Operational command bodies.
const (
	cmdSystemInfo    = "<show><system><info></info></system></show>"
	cmdHAAll         = "<show><high-availability><all></all></high-availability></show>"
	cmdSoftwareCheck = "<request><system><software><check></check></software></system></request>"
	cmdSoftwareInfo  = "<request><system><software><info></info></software></system></request>"
	cmdHASuspend     = "<request><high-availability><state><suspend></suspend></state></high-availability></request>"
	cmdReboot        = "<request><restart><system></system></restart></request>"
)

func cmdDownload(version string) string {
	return "<request><system><software><download><version>" + escape(version) +
		"</version></download></software></system></request>"
}

func cmdInstall(version string) string {
	return "<request><system><software><install><version>" + escape(version) +
		"</version></install></software></system></request>"
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

type systemInfoResult struct {
	System struct {
		Hostname      string `xml:"hostname"`
		IPAddress     string `xml:"ip-address"`
		IPv6Address   string `xml:"ipv6-address"`
		Serial        string `xml:"serial"`
		Model         string `xml:"model"`
		SWVersion     string `xml:"sw-version"`
		AppVersion    string `xml:"app-version"`
		ThreatVersion string `xml:"threat-version"`
		Uptime        string `xml:"uptime"`
	} `xml:"system"`
}

// SystemInfo returns what the device reports about itself.
func (c *Client) SystemInfo(ctx context.Context) (*models.SystemInfo, error) {
	var res systemInfoResult
	if err := c.op(ctx, cmdSystemInfo, &res); err != nil {
		return nil, fmt.Errorf("show system info: %w", err)
	}
	s := res.System
	ipv6 := s.IPv6Address
	if strings.EqualFold(ipv6, "unknown") {
		ipv6 = ""
	}
	return &models.SystemInfo{
		Hostname:      s.Hostname,
		IPv4:          s.IPAddress,
		IPv6:          ipv6,
		Serial:        s.Serial,
		Model:         s.Model,
		SWVersion:     s.SWVersion,
		AppVersion:    s.AppVersion,
		ThreatVersion: s.ThreatVersion,
		Uptime:        s.Uptime,
	}, nil
}

type haMember struct {
	State    string `xml:"state"`
	BuildRel string `xml:"build-rel"`
	MgmtIP   string `xml:"mgmt-ip"`
	Serial   string `xml:"serial-num"`
}

type haResult struct {
	Enabled string `xml:"enabled"`
	Group   struct {
		Mode        string   `xml:"mode"`
		RunningSync string   `xml:"running-sync"`
		Local       haMember `xml:"local-info"`
		Peer        haMember `xml:"peer-info"`
	} `xml:"group"`
}

// HAStatus returns the live HA report. A device without HA reports the
// deployment type "disabled" and nothing else.
func (c *Client) HAStatus(ctx context.Context) (*models.HAStatus, error) {
	var res haResult
	if err := c.op(ctx, cmdHAAll, &res); err != nil {
		return nil, fmt.Errorf("show high-availability: %w", err)
	}
	if !strings.EqualFold(res.Enabled, "yes") {
		return &models.HAStatus{DeploymentType: models.HADeploymentDisabled}, nil
	}
	g := res.Group
	mode := g.Mode
	if mode == "" {
		mode = "Active-Passive"
	}
	return &models.HAStatus{
		DeploymentType: mode,
		LocalState:     models.HAState(strings.ToLower(g.Local.State)),
		PeerState:      models.HAState(strings.ToLower(g.Peer.State)),
		PeerIP:         stripPrefixLen(g.Peer.MgmtIP),
		PeerSerial:     g.Peer.Serial,
		LocalVersion:   g.Local.BuildRel,
		PeerVersion:    g.Peer.BuildRel,
		RunningSync:    strings.ToLower(g.RunningSync),
	}, nil
}

// stripPrefixLen turns "10.0.0.10/24" into "10.0.0.10".
func stripPrefixLen(ip string) string {
	if i := strings.IndexByte(ip, '/'); i >= 0 {
		return ip[:i]
	}
	return ip
}

type softwareInfoResult struct {
	Versions []struct {
		Version    string `xml:"version"`
		Filename   string `xml:"filename"`
		Size       string `xml:"size"`
		ReleasedOn string `xml:"released-on"`
		Downloaded string `xml:"downloaded"`
		Current    string `xml:"current"`
		Latest     string `xml:"latest"`
	} `xml:"sw-updates>versions>entry"`
}

// SoftwareCatalog refreshes the device's view of available releases and
// returns it keyed by version string.
func (c *Client) SoftwareCatalog(ctx context.Context) (models.SoftwareCatalog, error) {
	if err := c.op(ctx, cmdSoftwareCheck, nil); err != nil {
		return nil, fmt.Errorf("software check: %w", err)
	}
	var res softwareInfoResult
	if err := c.op(ctx, cmdSoftwareInfo, &res); err != nil {
		return nil, fmt.Errorf("software info: %w", err)
	}

	catalog := make(models.SoftwareCatalog, len(res.Versions))
	for _, e := range res.Versions {
		dl := strings.ToLower(strings.TrimSpace(e.Downloaded))
		catalog[e.Version] = models.SoftwareImage{
			Version:     e.Version,
			Filename:    e.Filename,
			Size:        e.Size,
			Released:    e.ReleasedOn,
			Downloaded:  dl == "yes",
			Downloading: dl == "downloading",
			Current:     yes(e.Current),
			Latest:      yes(e.Latest),
		}
	}
	return catalog, nil
}

func yes(s string) bool { return strings.EqualFold(strings.TrimSpace(s), "yes") }

// DownloadSoftware asks the device to fetch version. It returns once the
// download job is accepted; completion shows up in the catalog.
func (c *Client) DownloadSoftware(ctx context.Context, version string) error {
	if err := c.op(ctx, cmdDownload(version), nil); err != nil {
		return fmt.Errorf("download %s: %w", version, err)
	}
	return nil
}

// InstallSoftware asks the device to install a downloaded version.
func (c *Client) InstallSoftware(ctx context.Context, version string) error {
	if err := c.op(ctx, cmdInstall(version), nil); err != nil {
		return fmt.Errorf("install %s: %w", version, err)
	}
	return nil
}

// SuspendHA requests HA suspension and returns the device's reply text.
// Callers decide whether the text means success.
func (c *Client) SuspendHA(ctx context.Context) (string, error) {
	var res struct {
		Text string  `xml:",chardata"`
		Msg  message `xml:"msg"`
	}
	if err := c.op(ctx, cmdHASuspend, &res); err != nil {
		return "", fmt.Errorf("suspend ha: %w", err)
	}
	if t := strings.TrimSpace(res.Text); t != "" {
		return t, nil
	}
	return res.Msg.String(), nil
}

// Reboot restarts the device.
func (c *Client) Reboot(ctx context.Context) error {
	if err := c.op(ctx, cmdReboot, nil); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
