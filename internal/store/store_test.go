package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/HerbHall/panupgrade/pkg/plugin"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_invalid_path(t *testing.T) {
	if _, err := New("/nonexistent/path/to/db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestTx_rollback(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)"); err != nil {
			return err
		}
		return sql.ErrNoRows
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count after rollback = %d, want 0", count)
	}
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name        string
		migrations  []plugin.Migration
		wantErr     bool
		wantApplied int
	}{
		{
			name: "applies in order",
			migrations: []plugin.Migration{
				{Version: 1, Description: "create devices", Up: exec("CREATE TABLE inv_devices (id TEXT PRIMARY KEY)")},
				{Version: 2, Description: "add serial", Up: exec("ALTER TABLE inv_devices ADD COLUMN serial TEXT")},
			},
			wantApplied: 2,
		},
		{
			name: "failure rolls back the failing step only",
			migrations: []plugin.Migration{
				{Version: 1, Description: "ok", Up: exec("CREATE TABLE partial (id INTEGER)")},
				{Version: 2, Description: "bad", Up: exec("NOT SQL")},
			},
			wantErr:     true,
			wantApplied: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			err := s.Migrate(ctx, "inventory", tc.migrations)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Migrate() error = %v, wantErr %v", err, tc.wantErr)
			}

			var count int
			err = s.DB().QueryRowContext(ctx,
				"SELECT COUNT(*) FROM _migrations WHERE module = 'inventory'").Scan(&count)
			if err != nil {
				t.Fatalf("count migrations: %v", err)
			}
			if count != tc.wantApplied {
				t.Errorf("applied = %d, want %d", count, tc.wantApplied)
			}
		})
	}
}

func TestMigrate_skips_applied(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	calls := 0
	migrations := []plugin.Migration{{
		Version:     1,
		Description: "create jobs",
		Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("CREATE TABLE jobs_x (id TEXT)")
			return err
		},
	}}

	for i := 0; i < 2; i++ {
		if err := s.Migrate(ctx, "jobs", migrations); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
	if calls != 1 {
		t.Errorf("migration ran %d times, want 1", calls)
	}
}

func TestForeignKeys_enabled(t *testing.T) {
	s := tempDB(t)
	var fk int
	if err := s.DB().QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		first   string
		second  string
		wantErr error
	}{
		{"same version", "0.4.0", "0.4.0", nil},
		{"newer binary", "0.4.0", "0.5.0", nil},
		{"older binary", "0.5.0", "0.4.0", ErrNewerSchema},
		{"dev binary", "0.5.0", "dev", nil},
		{"dev database", "dev", "0.1.0", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			if err := s.CheckVersion(ctx, tc.first); err != nil {
				t.Fatalf("first CheckVersion: %v", err)
			}
			err := s.CheckVersion(ctx, tc.second)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("second CheckVersion: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("second CheckVersion error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func exec(stmt string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec(stmt)
		return err
	}
}
