package snapshot

import (
	"database/sql"

	"github.com/HerbHall/panupgrade/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create snapshot tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS snapshots (
						id TEXT PRIMARY KEY,
						job_id TEXT NOT NULL,
						device_id TEXT NOT NULL,
						snapshot_type TEXT NOT NULL,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_snapshots_job ON snapshots(job_id, created_at)`,

					`CREATE TABLE IF NOT EXISTS snapshot_content (
						snapshot_id TEXT PRIMARY KEY REFERENCES snapshots(id) ON DELETE CASCADE,
						content_version TEXT NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS snapshot_licenses (
						snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
						seq INTEGER NOT NULL,
						feature TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						serial TEXT NOT NULL DEFAULT '',
						issued TEXT NOT NULL DEFAULT '',
						expires TEXT NOT NULL DEFAULT '',
						expired TEXT NOT NULL DEFAULT '',
						base_license_name TEXT NOT NULL DEFAULT '',
						authcode TEXT NOT NULL DEFAULT '',
						custom TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (snapshot_id, seq)
					)`,
					`CREATE TABLE IF NOT EXISTS snapshot_interfaces (
						snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
						seq INTEGER NOT NULL,
						name TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (snapshot_id, seq)
					)`,
					`CREATE TABLE IF NOT EXISTS snapshot_routes (
						snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
						seq INTEGER NOT NULL,
						virtual_router TEXT NOT NULL DEFAULT '',
						destination TEXT NOT NULL DEFAULT '',
						nexthop TEXT NOT NULL DEFAULT '',
						interface TEXT NOT NULL DEFAULT '',
						metric TEXT NOT NULL DEFAULT '',
						flags TEXT NOT NULL DEFAULT '',
						route_table TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (snapshot_id, seq)
					)`,
					`CREATE TABLE IF NOT EXISTS snapshot_arp_entries (
						snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
						seq INTEGER NOT NULL,
						interface TEXT NOT NULL DEFAULT '',
						ip TEXT NOT NULL DEFAULT '',
						mac TEXT NOT NULL DEFAULT '',
						port TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT '',
						ttl TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (snapshot_id, seq)
					)`,
					`CREATE TABLE IF NOT EXISTS snapshot_ipsec_tunnels (
						snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
						seq INTEGER NOT NULL,
						name TEXT NOT NULL,
						gateway TEXT NOT NULL DEFAULT '',
						state TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (snapshot_id, seq)
					)`,
					`CREATE TABLE IF NOT EXISTS snapshot_sessions (
						snapshot_id TEXT PRIMARY KEY REFERENCES snapshots(id) ON DELETE CASCADE,
						num_active INTEGER NOT NULL DEFAULT 0,
						num_max INTEGER NOT NULL DEFAULT 0,
						num_tcp INTEGER NOT NULL DEFAULT 0,
						num_udp INTEGER NOT NULL DEFAULT 0,
						num_icmp INTEGER NOT NULL DEFAULT 0,
						kbps INTEGER NOT NULL DEFAULT 0,
						pps INTEGER NOT NULL DEFAULT 0,
						cps INTEGER NOT NULL DEFAULT 0
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
