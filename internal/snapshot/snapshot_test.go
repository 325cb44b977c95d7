package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/HerbHall/panupgrade/pkg/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPluginContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

func seededModule(t *testing.T) (*Module, string, string) {
	t.Helper()
	s := testStore(t)
	ctx := context.Background()
	pre := &models.Snapshot{JobID: "job-1", DeviceID: "fw-1", Type: models.SnapshotPreUpgrade, SnapshotData: fullData()}
	postData := fullData()
	postData.Routes = nil
	post := &models.Snapshot{JobID: "job-1", DeviceID: "fw-1", Type: models.SnapshotPostUpgrade, SnapshotData: postData}
	require.NoError(t, s.Create(ctx, pre))
	require.NoError(t, s.Create(ctx, post))
	return &Module{logger: zap.NewNop(), store: s}, pre.ID, post.ID
}

func TestHandleGetSnapshot(t *testing.T) {
	m, preID, _ := seededModule(t)

	tests := []struct {
		id     string
		status int
	}{
		{preID, http.StatusOK},
		{"missing", http.StatusNotFound},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/"+tc.id, http.NoBody)
		req.SetPathValue("id", tc.id)
		w := httptest.NewRecorder()

		m.handleGetSnapshot(w, req)

		assert.Equal(t, tc.status, w.Code, "GET %s", tc.id)
	}
}

func TestHandleDiff(t *testing.T) {
	m, preID, postID := seededModule(t)

	req := httptest.NewRequest(http.MethodGet, "/"+preID+"/diff?against="+postID, http.NoBody)
	req.SetPathValue("id", preID)
	w := httptest.NewRecorder()

	m.handleDiff(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var d Diff
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
	assert.Len(t, d.Routes.Removed, 1)
}

func TestHandleDiff_MissingAgainst(t *testing.T) {
	m, preID, _ := seededModule(t)
	req := httptest.NewRequest(http.MethodGet, "/"+preID+"/diff", http.NoBody)
	req.SetPathValue("id", preID)
	w := httptest.NewRecorder()

	m.handleDiff(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_NilStore(t *testing.T) {
	m := &Module{logger: zap.NewNop()}
	req := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	w := httptest.NewRecorder()
	m.handleGetSnapshot(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
