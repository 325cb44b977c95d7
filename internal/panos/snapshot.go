package panos

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// ErrUnknownCategory is returned for capture categories the client cannot
// collect.
var ErrUnknownCategory = errors.New("unknown snapshot category")

const (
	cmdLicenseInfo  = "<request><license><info></info></license></request>"
	cmdInterfaceAll = "<show><interface>all</interface></show>"
	cmdRoutes       = "<show><routing><route></route></routing></show>"
	cmdARPAll       = "<show><arp><entry name = 'all'/></arp></show>"
	cmdSessionInfo  = "<show><session><info></info></session></show>"
	cmdVPNFlow      = "<show><vpn><flow></flow></vpn></show>"
)

type collector func(ctx context.Context, c *Client, out *models.SnapshotData) error

var collectors = map[models.SnapshotCategory]collector{
	models.SnapshotContentVersion: collectContentVersion,
	models.SnapshotLicense:        collectLicenses,
	models.SnapshotNICs:           collectInterfaces,
	models.SnapshotRoutes:         collectRoutes,
	models.SnapshotARPTable:       collectARP,
	models.SnapshotSessionStats:   collectSessionStats,
	models.SnapshotIPSecTunnels:   collectIPSec,
}

// CaptureSnapshot collects exactly the requested categories. Any failing
// category fails the whole capture; partial results are never returned.
func (c *Client) CaptureSnapshot(ctx context.Context, categories []string) (*models.SnapshotData, error) {
	fns := make([]collector, 0, len(categories))
	for _, cat := range categories {
		fn, ok := collectors[models.SnapshotCategory(cat)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
		}
		fns = append(fns, fn)
	}

	data := &models.SnapshotData{}
	for i, fn := range fns {
		if err := fn(ctx, c, data); err != nil {
			return nil, fmt.Errorf("capture %s: %w", categories[i], err)
		}
	}
	return data, nil
}

func collectContentVersion(ctx context.Context, c *Client, out *models.SnapshotData) error {
	info, err := c.SystemInfo(ctx)
	if err != nil {
		return err
	}
	out.ContentVersion = info.AppVersion
	return nil
}

func collectLicenses(ctx context.Context, c *Client, out *models.SnapshotData) error {
	var res struct {
		Entries []struct {
			Feature         string `xml:"feature"`
			Description     string `xml:"description"`
			Serial          string `xml:"serial"`
			Issued          string `xml:"issued"`
			Expires         string `xml:"expires"`
			Expired         string `xml:"expired"`
			BaseLicenseName string `xml:"base-license-name"`
			Authcode        string `xml:"authcode"`
			Custom          struct {
				Fields []struct {
					XMLName xml.Name
					Value   string `xml:",chardata"`
				} `xml:",any"`
			} `xml:"custom"`
		} `xml:"licenses>entry"`
	}
	if err := c.op(ctx, cmdLicenseInfo, &res); err != nil {
		return err
	}
	for _, e := range res.Entries {
		entry := models.LicenseEntry{
			Feature:         e.Feature,
			Description:     e.Description,
			Serial:          e.Serial,
			Issued:          e.Issued,
			Expires:         e.Expires,
			Expired:         e.Expired,
			BaseLicenseName: e.BaseLicenseName,
			Authcode:        e.Authcode,
		}
		if len(e.Custom.Fields) > 0 {
			entry.Custom = make(map[string]string, len(e.Custom.Fields))
			for _, f := range e.Custom.Fields {
				entry.Custom[f.XMLName.Local] = strings.TrimSpace(f.Value)
			}
		}
		out.Licenses = append(out.Licenses, entry)
	}
	return nil
}

func collectInterfaces(ctx context.Context, c *Client, out *models.SnapshotData) error {
	var res struct {
		Entries []struct {
			Name  string `xml:"name"`
			State string `xml:"state"`
		} `xml:"hw>entry"`
	}
	if err := c.op(ctx, cmdInterfaceAll, &res); err != nil {
		return err
	}
	for _, e := range res.Entries {
		out.Interfaces = append(out.Interfaces, models.NetworkInterface{Name: e.Name, Status: e.State})
	}
	return nil
}

func collectRoutes(ctx context.Context, c *Client, out *models.SnapshotData) error {
	var res struct {
		Entries []struct {
			VirtualRouter string `xml:"virtual-router"`
			Destination   string `xml:"destination"`
			Nexthop       string `xml:"nexthop"`
			Metric        string `xml:"metric"`
			Flags         string `xml:"flags"`
			Interface     string `xml:"interface"`
			RouteTable    string `xml:"route-table"`
		} `xml:"entry"`
	}
	if err := c.op(ctx, cmdRoutes, &res); err != nil {
		return err
	}
	for _, e := range res.Entries {
		out.Routes = append(out.Routes, models.RouteEntry{
			VirtualRouter: e.VirtualRouter,
			Destination:   e.Destination,
			Nexthop:       e.Nexthop,
			Interface:     e.Interface,
			Metric:        e.Metric,
			Flags:         strings.TrimSpace(e.Flags),
			RouteTable:    e.RouteTable,
		})
	}
	return nil
}

func collectARP(ctx context.Context, c *Client, out *models.SnapshotData) error {
	var res struct {
		Entries []struct {
			Status    string `xml:"status"`
			IP        string `xml:"ip"`
			MAC       string `xml:"mac"`
			TTL       string `xml:"ttl"`
			Interface string `xml:"interface"`
			Port      string `xml:"port"`
		} `xml:"entries>entry"`
	}
	if err := c.op(ctx, cmdARPAll, &res); err != nil {
		return err
	}
	for _, e := range res.Entries {
		out.ARPEntries = append(out.ARPEntries, models.ARPEntry{
			Interface: e.Interface,
			IP:        e.IP,
			MAC:       e.MAC,
			Port:      e.Port,
			Status:    strings.TrimSpace(e.Status),
			TTL:       e.TTL,
		})
	}
	return nil
}

func collectSessionStats(ctx context.Context, c *Client, out *models.SnapshotData) error {
	var res struct {
		NumActive string `xml:"num-active"`
		NumMax    string `xml:"num-max"`
		NumTCP    string `xml:"num-tcp"`
		NumUDP    string `xml:"num-udp"`
		NumICMP   string `xml:"num-icmp"`
		KBPS      string `xml:"kbps"`
		PPS       string `xml:"pps"`
		CPS       string `xml:"cps"`
	}
	if err := c.op(ctx, cmdSessionInfo, &res); err != nil {
		return err
	}
	out.SessionStats = &models.SessionStats{
		NumActive: atoi(res.NumActive),
		NumMax:    atoi(res.NumMax),
		NumTCP:    atoi(res.NumTCP),
		NumUDP:    atoi(res.NumUDP),
		NumICMP:   atoi(res.NumICMP),
		KBPS:      atoi(res.KBPS),
		PPS:       atoi(res.PPS),
		CPS:       atoi(res.CPS),
	}
	return nil
}

func collectIPSec(ctx context.Context, c *Client, out *models.SnapshotData) error {
	var res struct {
		Entries []struct {
			Name   string `xml:"name"`
			PeerIP string `xml:"peerip"`
			State  string `xml:"state"`
		} `xml:"IPSec>entry"`
	}
	if err := c.op(ctx, cmdVPNFlow, &res); err != nil {
		return err
	}
	for _, e := range res.Entries {
		out.IPSecTunnels = append(out.IPSecTunnels, models.IPSecTunnel{
			Name:    e.Name,
			Gateway: e.PeerIP,
			State:   e.State,
		})
	}
	return nil
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
