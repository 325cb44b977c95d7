package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/HerbHall/panupgrade/internal/event"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCapturer struct {
	data  *models.SnapshotData
	err   error
	calls [][]string
}

func (f *fakeCapturer) CaptureSnapshot(_ context.Context, categories []string) (*models.SnapshotData, error) {
	f.calls = append(f.calls, categories)
	return f.data, f.err
}

type lines struct {
	mu  sync.Mutex
	out []string
}

func (l *lines) Infof(_ context.Context, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, "info: "+fmt.Sprintf(format, args...))
}

func (l *lines) Errorf(_ context.Context, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, "error: "+fmt.Sprintf(format, args...))
}

func request(p *models.Profile) Request {
	return Request{JobID: "job-1", DeviceID: "fw-1", Type: models.SnapshotPreUpgrade, Profile: p}
}

func TestCapture_PersistsAndPublishes(t *testing.T) {
	s := testStore(t)
	bus := event.NewBus(zap.NewNop())
	var got []plugin.Event
	var mu sync.Mutex
	bus.Subscribe(TopicCaptured, func(_ context.Context, e plugin.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	data := fullData()
	dev := &fakeCapturer{data: &data}
	p := models.DefaultProfile()
	c := NewCoordinator(s, bus, zap.NewNop())

	snap, err := c.Capture(context.Background(), dev, &lines{}, request(&p))
	require.NoError(t, err)
	require.NotNil(t, snap)
	bus.Wait()

	require.Len(t, dev.calls, 1)
	assert.Len(t, dev.calls[0], len(models.KnownSnapshotCategories))

	stored, err := s.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, snap.ID, stored[0].ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, snap.ID, got[0].Payload.(Captured).ID)
}

func TestCapture_OnlyEnabledCategories(t *testing.T) {
	data := models.SnapshotData{ContentVersion: "8799-8509"}
	dev := &fakeCapturer{data: &data}
	p := models.Profile{Snapshots: models.SnapshotFlags{ContentVersion: true, Routes: true}}

	_, err := NewCoordinator(testStore(t), nil, zap.NewNop()).Capture(context.Background(), dev, &lines{}, request(&p))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"content_version", "routes"}}, dev.calls)
}

func TestCapture_UnknownCategoryMakesNoCall(t *testing.T) {
	dev := &fakeCapturer{}
	p := models.DefaultProfile()
	p.Extra = []string{"bgp_peers"}
	log := &lines{}

	_, err := NewCoordinator(testStore(t), nil, zap.NewNop()).Capture(context.Background(), dev, log, request(&p))
	require.ErrorIs(t, err, ErrUnknownCategory)
	assert.Empty(t, dev.calls)
	require.Len(t, log.out, 1)
	assert.Contains(t, log.out[0], "bgp_peers")
}

func TestCapture_EmptyOrFailedCreatesNothing(t *testing.T) {
	tests := []struct {
		name    string
		dev     *fakeCapturer
		wantErr error
	}{
		{"nil result", &fakeCapturer{}, ErrEmptyCapture},
		{"empty result", &fakeCapturer{data: &models.SnapshotData{}}, ErrEmptyCapture},
		{"device error", &fakeCapturer{err: errors.New("timeout")}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := testStore(t)
			p := models.DefaultProfile()
			snap, err := NewCoordinator(s, nil, zap.NewNop()).Capture(context.Background(), tc.dev, &lines{}, request(&p))
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Nil(t, snap)

			stored, err := s.ListByJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestCapture_NothingEnabled(t *testing.T) {
	dev := &fakeCapturer{}
	p := models.Profile{}
	snap, err := NewCoordinator(nil, nil, zap.NewNop()).Capture(context.Background(), dev, &lines{}, request(&p))
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Empty(t, dev.calls)
}
