package inventory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "POST", Path: "/devices/{id}/refresh", Handler: m.handleRefreshDevice},
		{Method: "GET", Path: "/profiles", Handler: m.handleListProfiles},
	}
}

// handleListDevices returns every inventory device.
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "inventory store not available")
		return
	}
	devices, err := m.store.ListDevices(r.Context())
	if err != nil {
		m.logger.Warn("failed to list devices", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "inventory store not available")
		return
	}
	dev, err := m.store.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		m.logger.Warn("failed to get device", zap.String("device_id", r.PathValue("id")), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to get device")
		return
	}
	if dev == nil {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleRefreshDevice re-reads system and HA state from the device.
// The profile whose credentials are used is given by ?profile_id=.
func (m *Module) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	if m.refresher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "inventory store not available")
		return
	}
	profileID := r.URL.Query().Get("profile_id")
	if profileID == "" {
		writeError(w, r, http.StatusBadRequest, "profile_id is required")
		return
	}

	dev, err := m.refresher.Refresh(r.Context(), r.PathValue("id"), profileID)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	case err != nil:
		m.logger.Warn("device refresh failed", zap.String("device_id", r.PathValue("id")), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (m *Module) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "inventory store not available")
		return
	}
	profiles, err := m.store.ListProfiles(r.Context())
	if err != nil {
		m.logger.Warn("failed to list profiles", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
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
