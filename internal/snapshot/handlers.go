package snapshot

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/{id}", Handler: m.handleGetSnapshot},
		{Method: "GET", Path: "/{id}/diff", Handler: m.handleDiff},
	}
}

func (m *Module) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "snapshot store not available")
		return
	}
	snap, err := m.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		m.logger.Warn("failed to get snapshot", zap.String("snapshot_id", r.PathValue("id")), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to get snapshot")
		return
	}
	if snap == nil {
		writeError(w, r, http.StatusNotFound, "snapshot not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDiff compares snapshot {id} (the earlier capture) with ?against=.
func (m *Module) handleDiff(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "snapshot store not available")
		return
	}
	against := r.URL.Query().Get("against")
	if against == "" {
		writeError(w, r, http.StatusBadRequest, "against is required")
		return
	}

	pre, err := m.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to get snapshot")
		return
	}
	post, err := m.store.Get(r.Context(), against)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to get snapshot")
		return
	}
	if pre == nil || post == nil {
		writeError(w, r, http.StatusNotFound, "snapshot not found")
		return
	}
	writeJSON(w, http.StatusOK, Compare(&pre.SnapshotData, &post.SnapshotData))
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
