package inventory

import (
	"database/sql"

	"github.com/HerbHall/panupgrade/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create inventory tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS inventory_devices (
						id TEXT PRIMARY KEY,
						hostname TEXT NOT NULL DEFAULT '',
						serial TEXT NOT NULL DEFAULT '',
						ipv4 TEXT NOT NULL DEFAULT '',
						ipv6 TEXT NOT NULL DEFAULT '',
						model TEXT NOT NULL DEFAULT '',
						sw_version TEXT NOT NULL DEFAULT '',
						app_version TEXT NOT NULL DEFAULT '',
						threat_version TEXT NOT NULL DEFAULT '',
						uptime TEXT NOT NULL DEFAULT '',
						topology TEXT NOT NULL DEFAULT 'direct',
						panorama TEXT NOT NULL DEFAULT '',
						ha_enabled INTEGER NOT NULL DEFAULT 0,
						local_state TEXT NOT NULL DEFAULT '',
						peer_state TEXT NOT NULL DEFAULT '',
						peer_ip TEXT NOT NULL DEFAULT '',
						peer_id TEXT REFERENCES inventory_devices(id) ON DELETE SET NULL,
						last_refreshed DATETIME,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_inventory_devices_ipv4 ON inventory_devices(ipv4)`,
					`CREATE INDEX IF NOT EXISTS idx_inventory_devices_serial ON inventory_devices(serial)`,

					`CREATE TABLE IF NOT EXISTS inventory_profiles (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						username TEXT NOT NULL DEFAULT '',
						password TEXT NOT NULL DEFAULT '',
						api_key TEXT NOT NULL DEFAULT '',
						snap_arp_table INTEGER NOT NULL DEFAULT 1,
						snap_content_version INTEGER NOT NULL DEFAULT 1,
						snap_ip_sec_tunnels INTEGER NOT NULL DEFAULT 1,
						snap_license INTEGER NOT NULL DEFAULT 1,
						snap_nics INTEGER NOT NULL DEFAULT 1,
						snap_routes INTEGER NOT NULL DEFAULT 1,
						snap_session_stats INTEGER NOT NULL DEFAULT 1,
						snap_extra TEXT NOT NULL DEFAULT '',
						download_attempts INTEGER NOT NULL DEFAULT 3,
						download_interval_ms INTEGER NOT NULL DEFAULT 60000,
						install_attempts INTEGER NOT NULL DEFAULT 3,
						install_interval_ms INTEGER NOT NULL DEFAULT 60000,
						reboot_attempts INTEGER NOT NULL DEFAULT 30,
						reboot_interval_ms INTEGER NOT NULL DEFAULT 60000,
						snapshot_attempts INTEGER NOT NULL DEFAULT 3,
						snapshot_interval_ms INTEGER NOT NULL DEFAULT 60000,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
