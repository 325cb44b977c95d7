package upgrade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/jobs", Handler: m.handleCreateJob},
		{Method: "GET", Path: "/jobs", Handler: m.handleListJobs},
		{Method: "GET", Path: "/jobs/{id}", Handler: m.handleGetJob},
		{Method: "GET", Path: "/jobs/{id}/logs", Handler: m.handleJobLogs},
		{Method: "POST", Path: "/jobs/{id}/cancel", Handler: m.handleCancelJob},
		{Method: "GET", Path: "/jobs/{id}/snapshots", Handler: m.handleJobSnapshots},
	}
}

func (m *Module) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := m.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueStopped):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		m.logger.Error("failed to enqueue upgrade", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (m *Module) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if m.jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "job store not available")
		return
	}
	q := r.URL.Query()
	f := jobs.ListFilter{DeviceID: q.Get("device_id"), Status: models.JobStatus(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	list, err := m.jobs.List(r.Context(), f)
	if err != nil {
		m.logger.Error("failed to list jobs", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []models.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (m *Module) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := m.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobLogs returns the task log, optionally only entries after ?after=.
func (m *Module) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := m.lookupJob(w, r)
	if !ok {
		return
	}
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be an integer")
			return
		}
		after = n
	}
	entries, err := m.jobs.ListLogs(r.Context(), job.ID, after)
	if err != nil {
		m.logger.Error("failed to list job logs", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list job logs")
		return
	}
	if entries == nil {
		entries = []models.JobLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (m *Module) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := m.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, r, http.StatusConflict, "job already finished")
		return
	}
	if !m.Cancel(job.ID) {
		writeError(w, r, http.StatusConflict, "job is not queued in this process")
		return
	}
	m.tracker.Logger(job.ID).Warnf(r.Context(), "cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (m *Module) handleJobSnapshots(w http.ResponseWriter, r *http.Request) {
	job, ok := m.lookupJob(w, r)
	if !ok {
		return
	}
	if m.snapshots == nil || m.snapshots.Store() == nil {
		writeError(w, r, http.StatusServiceUnavailable, "snapshot store not available")
		return
	}
	snaps, err := m.snapshots.Store().ListByJob(r.Context(), job.ID)
	if err != nil {
		m.logger.Error("failed to list snapshots", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (m *Module) lookupJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	if m.jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "job store not available")
		return nil, false
	}
	job, err := m.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		m.logger.Error("failed to get job", zap.String("job_id", r.PathValue("id")), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	if job == nil {
		writeError(w, r, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIProblem{
		Type:     "https://panupgrade.dev/problems/" + strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "-")),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}
