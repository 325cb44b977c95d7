package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/panupgrade/internal/secrets"
	"github.com/HerbHall/panupgrade/pkg/models"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("not found")

// Store provides database access for devices and profiles. Profile
// credentials are sealed on write and opened on read.
type Store struct {
	db     *sql.DB
	sealer *secrets.Sealer
}

// NewStore returns a Store over db. A nil sealer stores credentials as is.
func NewStore(db *sql.DB, sealer *secrets.Sealer) *Store {
	if sealer == nil {
		sealer, _ = secrets.NewSealer("")
	}
	return &Store{db: db, sealer: sealer}
}

// -- Devices --

const deviceColumns = `id, hostname, serial, ipv4, ipv6, model, sw_version, app_version, threat_version,
	uptime, topology, panorama, ha_enabled, local_state, peer_state, peer_ip, peer_id,
	last_refreshed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*models.Device, error) {
	var d models.Device
	var haEnabled int
	var peerID sql.NullString
	var refreshed sql.NullTime
	err := row.Scan(
		&d.ID, &d.Hostname, &d.Serial, &d.IPv4, &d.IPv6, &d.Model, &d.SWVersion, &d.AppVersion,
		&d.ThreatVersion, &d.Uptime, &d.Topology, &d.Panorama, &haEnabled, &d.LocalState,
		&d.PeerState, &d.PeerIP, &peerID, &refreshed, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.HAEnabled = haEnabled != 0
	d.PeerID = peerID.String
	if refreshed.Valid {
		t := refreshed.Time
		d.LastRefreshed = &t
	}
	return &d, nil
}

// UpsertDevice inserts d or replaces the stored record with the same id.
func (s *Store) UpsertDevice(ctx context.Context, d *models.Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Topology == "" {
		d.Topology = models.TopologyDirect
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			serial = excluded.serial,
			ipv4 = excluded.ipv4,
			ipv6 = excluded.ipv6,
			model = excluded.model,
			sw_version = excluded.sw_version,
			app_version = excluded.app_version,
			threat_version = excluded.threat_version,
			uptime = excluded.uptime,
			topology = excluded.topology,
			panorama = excluded.panorama,
			ha_enabled = excluded.ha_enabled,
			local_state = excluded.local_state,
			peer_state = excluded.peer_state,
			peer_ip = excluded.peer_ip,
			peer_id = excluded.peer_id,
			last_refreshed = excluded.last_refreshed,
			updated_at = excluded.updated_at`,
		d.ID, d.Hostname, d.Serial, d.IPv4, d.IPv6, d.Model, d.SWVersion, d.AppVersion,
		d.ThreatVersion, d.Uptime, string(d.Topology), d.Panorama, boolInt(d.HAEnabled),
		string(d.LocalState), string(d.PeerState), d.PeerIP, nullString(d.PeerID),
		nullTime(d.LastRefreshed), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.ID, err)
	}
	return nil
}

// GetDevice returns a device by id. Returns nil, nil if not found.
func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM inventory_devices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// FindDeviceByAddress returns the device whose IPv4 or IPv6 address is addr.
// Returns nil, nil if none matches.
func (s *Store) FindDeviceByAddress(ctx context.Context, addr string) (*models.Device, error) {
	if addr == "" {
		return nil, nil
	}
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM inventory_devices WHERE ipv4 = ? OR ipv6 = ? ORDER BY id LIMIT 1`,
		addr, addr))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find device by address: %w", err)
	}
	return d, nil
}

// ListDevices returns every device ordered by hostname.
func (s *Store) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM inventory_devices ORDER BY hostname, id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// LinkPeers records a and b as HA peers of each other. Any previous
// partner of either side is unlinked so the relation stays symmetric.
func (s *Store) LinkPeers(ctx context.Context, a, b string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE inventory_devices SET peer_id = NULL, updated_at = ?
		 WHERE peer_id IN (?, ?) AND id NOT IN (?, ?)`,
		now, a, b, a, b); err != nil {
		return fmt.Errorf("unlink stale peers: %w", err)
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		res, err := tx.ExecContext(ctx,
			`UPDATE inventory_devices SET peer_id = ?, updated_at = ? WHERE id = ?`,
			pair[1], now, pair[0])
		if err != nil {
			return fmt.Errorf("link %s -> %s: %w", pair[0], pair[1], err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("link %s: %w", pair[0], ErrNotFound)
		}
	}
	return tx.Commit()
}

// -- Profiles --

const profileColumns = `id, name, description, username, password, api_key,
	snap_arp_table, snap_content_version, snap_ip_sec_tunnels, snap_license, snap_nics,
	snap_routes, snap_session_stats, snap_extra,
	download_attempts, download_interval_ms, install_attempts, install_interval_ms,
	reboot_attempts, reboot_interval_ms, snapshot_attempts, snapshot_interval_ms,
	created_at, updated_at`

// UpsertProfile inserts p or replaces the stored profile with the same id.
func (s *Store) UpsertProfile(ctx context.Context, p *models.Profile) error {
	password, err := s.sealer.Seal(p.Password)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	apiKey, err := s.sealer.Seal(p.APIKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	f := p.Snapshots

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventory_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			username = excluded.username,
			password = excluded.password,
			api_key = excluded.api_key,
			snap_arp_table = excluded.snap_arp_table,
			snap_content_version = excluded.snap_content_version,
			snap_ip_sec_tunnels = excluded.snap_ip_sec_tunnels,
			snap_license = excluded.snap_license,
			snap_nics = excluded.snap_nics,
			snap_routes = excluded.snap_routes,
			snap_session_stats = excluded.snap_session_stats,
			snap_extra = excluded.snap_extra,
			download_attempts = excluded.download_attempts,
			download_interval_ms = excluded.download_interval_ms,
			install_attempts = excluded.install_attempts,
			install_interval_ms = excluded.install_interval_ms,
			reboot_attempts = excluded.reboot_attempts,
			reboot_interval_ms = excluded.reboot_interval_ms,
			snapshot_attempts = excluded.snapshot_attempts,
			snapshot_interval_ms = excluded.snapshot_interval_ms,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Description, p.Username, password, apiKey,
		boolInt(f.ARPTable), boolInt(f.ContentVersion), boolInt(f.IPSecTunnels), boolInt(f.License),
		boolInt(f.NICs), boolInt(f.Routes), boolInt(f.SessionStats), strings.Join(p.Extra, ","),
		p.Download.MaximumAttempts, p.Download.RetryInterval.Milliseconds(),
		p.Install.MaximumAttempts, p.Install.RetryInterval.Milliseconds(),
		p.Reboot.MaximumAttempts, p.Reboot.RetryInterval.Milliseconds(),
		p.Snapshot.MaximumAttempts, p.Snapshot.RetryInterval.Milliseconds(),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) scanProfile(row scanner) (*models.Profile, error) {
	var p models.Profile
	var arp, content, ipsec, license, nics, routes, sessions int
	var extra string
	var dlMS, instMS, rebootMS, snapMS int64
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Username, &p.Password, &p.APIKey,
		&arp, &content, &ipsec, &license, &nics, &routes, &sessions, &extra,
		&p.Download.MaximumAttempts, &dlMS, &p.Install.MaximumAttempts, &instMS,
		&p.Reboot.MaximumAttempts, &rebootMS, &p.Snapshot.MaximumAttempts, &snapMS,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Snapshots = models.SnapshotFlags{
		ARPTable:       arp != 0,
		ContentVersion: content != 0,
		IPSecTunnels:   ipsec != 0,
		License:        license != 0,
		NICs:           nics != 0,
		Routes:         routes != 0,
		SessionStats:   sessions != 0,
	}
	if extra != "" {
		p.Extra = strings.Split(extra, ",")
	}
	p.Download.RetryInterval = time.Duration(dlMS) * time.Millisecond
	p.Install.RetryInterval = time.Duration(instMS) * time.Millisecond
	p.Reboot.RetryInterval = time.Duration(rebootMS) * time.Millisecond
	p.Snapshot.RetryInterval = time.Duration(snapMS) * time.Millisecond

	if p.Password, err = s.sealer.Open(p.Password); err != nil {
		return nil, fmt.Errorf("open password of profile %s: %w", p.ID, err)
	}
	if p.APIKey, err = s.sealer.Open(p.APIKey); err != nil {
		return nil, fmt.Errorf("open api key of profile %s: %w", p.ID, err)
	}
	return &p, nil
}

// GetProfile returns a profile with credentials opened. Returns nil, nil if
// not found.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	p, err := s.scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM inventory_profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM inventory_profiles ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		p, err := s.scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
