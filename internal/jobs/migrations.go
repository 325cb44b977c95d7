package jobs

import (
	"database/sql"

	"github.com/HerbHall/panupgrade/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create job and task log tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS jobs (
						id TEXT PRIMARY KEY,
						job_type TEXT NOT NULL DEFAULT 'upgrade',
						author_id TEXT NOT NULL DEFAULT '',
						device_id TEXT NOT NULL,
						profile_id TEXT NOT NULL,
						target_version TEXT NOT NULL,
						dry_run INTEGER NOT NULL DEFAULT 0,
						status TEXT NOT NULL DEFAULT 'pending',
						current_step TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						started_at DATETIME,
						finished_at DATETIME
					)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_device ON jobs(device_id)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,

					`CREATE TABLE IF NOT EXISTS job_logs (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
						severity TEXT NOT NULL,
						message TEXT NOT NULL,
						timestamp DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, id)`,
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
