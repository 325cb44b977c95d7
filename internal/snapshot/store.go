package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/google/uuid"
)

// Store persists snapshots and their nested category rows.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create writes snap and every nested row in one transaction. An empty ID is
// filled with a UUID.
func (s *Store) Create(ctx context.Context, snap *models.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, job_id, device_id, snapshot_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.JobID, snap.DeviceID, string(snap.Type), snap.CreatedAt); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if err := insertNested(ctx, tx, snap.ID, &snap.SnapshotData); err != nil {
		return err
	}
	return tx.Commit()
}

func insertNested(ctx context.Context, tx *sql.Tx, id string, d *models.SnapshotData) error {
	exec := func(what, query string, args ...any) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", what, err)
		}
		return nil
	}

	if d.ContentVersion != "" {
		if err := exec("content version",
			`INSERT INTO snapshot_content (snapshot_id, content_version) VALUES (?, ?)`,
			id, d.ContentVersion); err != nil {
			return err
		}
	}
	for i, l := range d.Licenses {
		custom := ""
		if len(l.Custom) > 0 {
			b, err := json.Marshal(l.Custom)
			if err != nil {
				return fmt.Errorf("encode license custom fields: %w", err)
			}
			custom = string(b)
		}
		if err := exec("license", `
			INSERT INTO snapshot_licenses (snapshot_id, seq, feature, description, serial, issued,
				expires, expired, base_license_name, authcode, custom)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, l.Feature, l.Description, l.Serial, l.Issued, l.Expires, l.Expired,
			l.BaseLicenseName, l.Authcode, custom); err != nil {
			return err
		}
	}
	for i, n := range d.Interfaces {
		if err := exec("interface",
			`INSERT INTO snapshot_interfaces (snapshot_id, seq, name, status) VALUES (?, ?, ?, ?)`,
			id, i, n.Name, n.Status); err != nil {
			return err
		}
	}
	for i, r := range d.Routes {
		if err := exec("route", `
			INSERT INTO snapshot_routes (snapshot_id, seq, virtual_router, destination, nexthop,
				interface, metric, flags, route_table)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, r.VirtualRouter, r.Destination, r.Nexthop, r.Interface, r.Metric, r.Flags,
			r.RouteTable); err != nil {
			return err
		}
	}
	for i, a := range d.ARPEntries {
		if err := exec("arp entry", `
			INSERT INTO snapshot_arp_entries (snapshot_id, seq, interface, ip, mac, port, status, ttl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, a.Interface, a.IP, a.MAC, a.Port, a.Status, a.TTL); err != nil {
			return err
		}
	}
	for i, tun := range d.IPSecTunnels {
		if err := exec("ipsec tunnel",
			`INSERT INTO snapshot_ipsec_tunnels (snapshot_id, seq, name, gateway, state) VALUES (?, ?, ?, ?, ?)`,
			id, i, tun.Name, tun.Gateway, tun.State); err != nil {
			return err
		}
	}
	if ss := d.SessionStats; ss != nil {
		if err := exec("session stats", `
			INSERT INTO snapshot_sessions (snapshot_id, num_active, num_max, num_tcp, num_udp,
				num_icmp, kbps, pps, cps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, ss.NumActive, ss.NumMax, ss.NumTCP, ss.NumUDP, ss.NumICMP, ss.KBPS, ss.PPS,
			ss.CPS); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a snapshot with its nested rows. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, device_id, snapshot_type, created_at FROM snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &snap.JobID, &snap.DeviceID, &snap.Type, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if err := s.loadNested(ctx, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListByJob returns every snapshot of a job in capture order.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, device_id, snapshot_type, created_at
		FROM snapshots WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var out []models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		if err := rows.Scan(&snap.ID, &snap.JobID, &snap.DeviceID, &snap.Type, &snap.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Nested loads run after the cursor closes; the store holds one connection.
	for i := range out {
		if err := s.loadNested(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadNested(ctx context.Context, snap *models.Snapshot) error {
	d := &snap.SnapshotData
	id := snap.ID

	err := s.db.QueryRowContext(ctx,
		`SELECT content_version FROM snapshot_content WHERE snapshot_id = ?`, id).Scan(&d.ContentVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load content version: %w", err)
	}

	err = each(ctx, s.db, `SELECT feature, description, serial, issued, expires, expired,
		base_license_name, authcode, custom FROM snapshot_licenses WHERE snapshot_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) error {
			var l models.LicenseEntry
			var custom string
			if err := rows.Scan(&l.Feature, &l.Description, &l.Serial, &l.Issued, &l.Expires,
				&l.Expired, &l.BaseLicenseName, &l.Authcode, &custom); err != nil {
				return err
			}
			if custom != "" {
				if err := json.Unmarshal([]byte(custom), &l.Custom); err != nil {
					return fmt.Errorf("decode license custom fields: %w", err)
				}
			}
			d.Licenses = append(d.Licenses, l)
			return nil
		})
	if err != nil {
		return fmt.Errorf("load licenses: %w", err)
	}

	err = each(ctx, s.db, `SELECT name, status FROM snapshot_interfaces WHERE snapshot_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) error {
			var n models.NetworkInterface
			if err := rows.Scan(&n.Name, &n.Status); err != nil {
				return err
			}
			d.Interfaces = append(d.Interfaces, n)
			return nil
		})
	if err != nil {
		return fmt.Errorf("load interfaces: %w", err)
	}

	err = each(ctx, s.db, `SELECT virtual_router, destination, nexthop, interface, metric, flags,
		route_table FROM snapshot_routes WHERE snapshot_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) error {
			var r models.RouteEntry
			if err := rows.Scan(&r.VirtualRouter, &r.Destination, &r.Nexthop, &r.Interface,
				&r.Metric, &r.Flags, &r.RouteTable); err != nil {
				return err
			}
			d.Routes = append(d.Routes, r)
			return nil
		})
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}

	err = each(ctx, s.db, `SELECT interface, ip, mac, port, status, ttl
		FROM snapshot_arp_entries WHERE snapshot_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) error {
			var a models.ARPEntry
			if err := rows.Scan(&a.Interface, &a.IP, &a.MAC, &a.Port, &a.Status, &a.TTL); err != nil {
				return err
			}
			d.ARPEntries = append(d.ARPEntries, a)
			return nil
		})
	if err != nil {
		return fmt.Errorf("load arp entries: %w", err)
	}

	err = each(ctx, s.db, `SELECT name, gateway, state FROM snapshot_ipsec_tunnels WHERE snapshot_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) error {
			var tun models.IPSecTunnel
			if err := rows.Scan(&tun.Name, &tun.Gateway, &tun.State); err != nil {
				return err
			}
			d.IPSecTunnels = append(d.IPSecTunnels, tun)
			return nil
		})
	if err != nil {
		return fmt.Errorf("load ipsec tunnels: %w", err)
	}

	var ss models.SessionStats
	err = s.db.QueryRowContext(ctx, `SELECT num_active, num_max, num_tcp, num_udp, num_icmp, kbps, pps, cps
		FROM snapshot_sessions WHERE snapshot_id = ?`, id).
		Scan(&ss.NumActive, &ss.NumMax, &ss.NumTCP, &ss.NumUDP, &ss.NumICMP, &ss.KBPS, &ss.PPS, &ss.CPS)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load session stats: %w", err)
	default:
		d.SessionStats = &ss
	}
	return nil
}

func each(ctx context.Context, db *sql.DB, query, id string, fn func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
