package inventory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairInventory = `
profiles:
  - id: lab
    username: admin
    password: hunter2
    snapshots:
      arp_table: false
    extra_snapshot_categories: [bgp_peers]
    download:
      maximum_attempts: 5
      retry_interval: 90s
devices:
  - id: fw-a
    hostname: edge-a
    ipv4: 10.0.0.1
    sw_version: 10.1.0
    ha_enabled: true
    local_state: active
    peer_id: fw-b
  - id: fw-b
    hostname: edge-b
    ipv4: 10.0.0.2
    ha_enabled: true
    local_state: passive
  - id: fw-c
    serial: "007000000123"
    hostname: branch
    topology: panorama
    panorama: panorama.example.net
`

func TestImport_PairAndProfile(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	res, err := s.Import(ctx, strings.NewReader(pairInventory))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Profiles: 1, Devices: 3, Links: 1}, res)

	a, err := s.GetDevice(ctx, "fw-a")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "fw-b", a.PeerID)
	assert.Equal(t, models.HAStateActive, a.LocalState)
	assert.Equal(t, "10.1.0", a.SWVersion)

	b, _ := s.GetDevice(ctx, "fw-b")
	assert.Equal(t, "fw-a", b.PeerID)

	c, _ := s.GetDevice(ctx, "fw-c")
	assert.Equal(t, "panorama.example.net", c.Address())

	p, err := s.GetProfile(ctx, "lab")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "lab", p.Name)
	assert.False(t, p.Snapshots.ARPTable)
	assert.True(t, p.Snapshots.Routes)
	assert.Equal(t, []string{"bgp_peers"}, p.Extra)
	assert.Equal(t, models.RetryPolicy{MaximumAttempts: 5, RetryInterval: 90 * time.Second}, p.Download)
	assert.Equal(t, models.DefaultProfile().Install, p.Install)
}

func TestImport_KeepsRefreshedVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, strings.NewReader(pairInventory))
	require.NoError(t, err)

	b, _ := s.GetDevice(ctx, "fw-b")
	b.SWVersion = "10.1.6"
	require.NoError(t, s.UpsertDevice(ctx, b))

	_, err = s.Import(ctx, strings.NewReader(pairInventory))
	require.NoError(t, err)
	b, _ = s.GetDevice(ctx, "fw-b")
	assert.Equal(t, "10.1.6", b.SWVersion)
}

func TestImport_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown field",
			doc:     "devices:\n  - id: fw-a\n    ipv4: 10.0.0.1\n    colour: red\n",
			wantErr: "colour",
		},
		{
			name:    "missing id",
			doc:     "devices:\n  - ipv4: 10.0.0.1\n",
			wantErr: "id is required",
		},
		{
			name:    "duplicate id",
			doc:     "devices:\n  - id: a\n    ipv4: 10.0.0.1\n  - id: a\n    ipv4: 10.0.0.2\n",
			wantErr: "duplicate",
		},
		{
			name:    "no address",
			doc:     "devices:\n  - id: a\n",
			wantErr: "address",
		},
		{
			name:    "panorama without serial",
			doc:     "devices:\n  - id: a\n    hostname: x\n    topology: panorama\n    panorama: p\n",
			wantErr: "panorama topology",
		},
		{
			name:    "unknown peer",
			doc:     "devices:\n  - id: a\n    ipv4: 10.0.0.1\n    peer_id: b\n",
			wantErr: "not in the file",
		},
		{
			name:    "bad duration",
			doc:     "profiles:\n  - id: p\n    install:\n      retry_interval: soon\n",
			wantErr: "line",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := testStore(t)
			_, err := s.Import(context.Background(), strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			devices, _ := s.ListDevices(context.Background())
			assert.Empty(t, devices)
		})
	}
}

func TestImport_EmptyDocument(t *testing.T) {
	s := testStore(t)
	res, err := s.Import(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{}, res)
}
