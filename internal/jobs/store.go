package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned by mutations that target a missing job.
var ErrNotFound = errors.New("job not found")

// Store provides database access for jobs and their task logs.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, job_type, author_id, device_id, profile_id, target_version, dry_run,
	status, current_step, created_at, updated_at, started_at, finished_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	var dryRun int
	var started, finished sql.NullTime
	err := row.Scan(&j.ID, &j.JobType, &j.AuthorID, &j.DeviceID, &j.ProfileID, &j.TargetVersion,
		&dryRun, &j.Status, &j.CurrentStep, &j.CreatedAt, &j.UpdatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	j.DryRun = dryRun != 0
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

// Create inserts a new pending job. An empty ID is filled with a UUID.
func (s *Store) Create(ctx context.Context, j *models.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.JobType == "" {
		j.JobType = "upgrade"
	}
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now

	dryRun := 0
	if j.DryRun {
		dryRun = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, author_id, device_id, profile_id, target_version, dry_run,
			status, current_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.JobType, j.AuthorID, j.DeviceID, j.ProfileID, j.TargetVersion, dryRun,
		string(j.Status), j.CurrentStep, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns a job by id. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	DeviceID string
	Status   models.JobStatus
	Limit    int
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Job, error) {
	var where []string
	var args []any
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// UpdateStatus sets the job status. The first transition to running stamps
// started_at; a terminal status stamps finished_at.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	now := time.Now().UTC()
	var started, finished any
	if status == models.JobStatusRunning {
		started = now
	}
	if status.Terminal() {
		finished = now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?,
			updated_at = ?,
			started_at = COALESCE(started_at, ?),
			finished_at = COALESCE(?, finished_at)
		WHERE id = ?`,
		string(status), now, started, finished, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetCurrentStep records the phase a running job is in.
func (s *Store) SetCurrentStep(ctx context.Context, id, step string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_step = ?, updated_at = ? WHERE id = ?`,
		step, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set current step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendLog adds a task log line. When the job does not exist nothing is
// written and ok is false; that is not an error.
func (s *Store) AppendLog(ctx context.Context, e *models.JobLogEntry) (ok bool, err error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, severity, message, timestamp)
		SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM jobs WHERE id = ?)`,
		e.JobID, string(e.Severity), e.Message, e.Timestamp, e.JobID)
	if err != nil {
		return false, fmt.Errorf("append job log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	e.ID, _ = res.LastInsertId()
	return true, nil
}

// ListLogs returns the log lines of a job with id greater than afterID, in
// insertion order.
func (s *Store) ListLogs(ctx context.Context, jobID string, afterID int64) ([]models.JobLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, severity, message, timestamp
		FROM job_logs WHERE job_id = ? AND id > ? ORDER BY id`,
		jobID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var out []models.JobLogEntry
	for rows.Next() {
		var e models.JobLogEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Severity, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
