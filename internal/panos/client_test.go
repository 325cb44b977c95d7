package panos

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeDevice answers XML API calls from a table keyed by cmd (or by type
// for non-op requests) and records what it received.
type fakeDevice struct {
	t         *testing.T
	responses map[string]string

	mu      sync.Mutex
	calls   []string
	targets []string
	keys    []string
}

func newFakeDevice(t *testing.T, responses map[string]string) (*fakeDevice, *httptest.Server) {
	t.Helper()
	f := &fakeDevice{t: t, responses: responses}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse form: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := r.PostForm.Get("cmd")
	if r.PostForm.Get("type") != "op" {
		key = r.PostForm.Get("type")
	}

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.targets = append(f.targets, r.PostForm.Get("target"))
	f.keys = append(f.keys, r.Header.Get("X-PAN-KEY"))
	f.mu.Unlock()

	body, ok := f.responses[key]
	if !ok {
		body = `<response status="error"><msg><line>unknown command</line></msg></response>`
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(body))
}

func ok(inner string) string {
	return `<response status="success"><result>` + inner + `</result></response>`
}

func testClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewClient(srv.URL, Credentials{APIKey: "k"}, opts...)
}

func TestClient_SystemInfo(t *testing.T) {
	_, srv := newFakeDevice(t, map[string]string{
		cmdSystemInfo: ok(`<system>
			<hostname>dc1-fw-a</hostname>
			<ip-address>10.0.0.10</ip-address>
			<ipv6-address>unknown</ipv6-address>
			<serial>007054000123456</serial>
			<model>PA-3220</model>
			<sw-version>10.1.6-h3</sw-version>
			<app-version>8700-8000</app-version>
			<threat-version>8700-8000</threat-version>
			<uptime>10 days, 1:02:03</uptime>
		</system>`),
	})

	info, err := testClient(t, srv).SystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dc1-fw-a", info.Hostname)
	assert.Equal(t, "10.0.0.10", info.IPv4)
	assert.Empty(t, info.IPv6, "unknown IPv6 is normalized to empty")
	assert.Equal(t, "10.1.6-h3", info.SWVersion)
	assert.Equal(t, "8700-8000", info.AppVersion)
}

func TestClient_HAStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.HAStatus
	}{
		{
			name: "disabled",
			body: ok(`<enabled>no</enabled>`),
			want: models.HAStatus{DeploymentType: models.HADeploymentDisabled},
		},
		{
			name: "active passive pair",
			body: ok(`<enabled>yes</enabled><group>
				<mode>Active-Passive</mode>
				<running-sync>synchronized</running-sync>
				<local-info><state>passive</state><build-rel>10.1.0</build-rel><mgmt-ip>10.0.0.11/24</mgmt-ip></local-info>
				<peer-info><state>active</state><build-rel>10.1.0</build-rel><mgmt-ip>10.0.0.10/24</mgmt-ip><serial-num>0070540001</serial-num></peer-info>
			</group>`),
			want: models.HAStatus{
				DeploymentType: "Active-Passive",
				LocalState:     models.HAStatePassive,
				PeerState:      models.HAStateActive,
				PeerIP:         "10.0.0.10",
				PeerSerial:     "0070540001",
				LocalVersion:   "10.1.0",
				PeerVersion:    "10.1.0",
				RunningSync:    models.RunningSyncSynchronized,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := newFakeDevice(t, map[string]string{cmdHAAll: tc.body})
			got, err := testClient(t, srv).HAStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestClient_SoftwareCatalog(t *testing.T) {
	f, srv := newFakeDevice(t, map[string]string{
		cmdSoftwareCheck: ok(`<sw-updates/>`),
		cmdSoftwareInfo:  ok(`<sw-updates><versions>
			<entry><version>10.2.0</version><downloaded>yes</downloaded><current>no</current><latest>no</latest></entry>
			<entry><version>10.2.3</version><downloaded>downloading</downloaded><current>no</current><latest>yes</latest></entry>
			<entry><version>10.1.0</version><downloaded>yes</downloaded><current>yes</current><latest>no</latest></entry>
		</versions></sw-updates>`),
	})

	cat, err := testClient(t, srv).SoftwareCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, cat, 3)
	assert.True(t, cat["10.2.0"].Downloaded)
	assert.True(t, cat["10.2.3"].Downloading)
	assert.False(t, cat["10.2.3"].Downloaded)
	assert.True(t, cat["10.1.0"].Current)
	assert.Equal(t, []string{cmdSoftwareCheck, cmdSoftwareInfo}, f.calls, "check must precede info")
}

func TestClient_ProtocolError(t *testing.T) {
	_, srv := newFakeDevice(t, map[string]string{
		cmdDownload("10.2.0"): `<response status="error" code="17"><msg><line>image not found</line></msg></response>`,
	})

	err := testClient(t, srv).DownloadSoftware(context.Background(), "10.2.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.Contains(t, err.Error(), "image not found")
}

func TestClient_SuspendHA(t *testing.T) {
	_, srv := newFakeDevice(t, map[string]string{
		cmdHASuspend: ok(`Successfully changed HA state to suspended`),
	})

	msg, err := testClient(t, srv).SuspendHA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Successfully changed HA state to suspended", msg)
}

func TestClient_Keygen_and_Target(t *testing.T) {
	f, srv := newFakeDevice(t, map[string]string{
		"keygen":  ok(`<key>GENERATED</key>`),
		cmdReboot: ok(``),
		cmdHAAll:  ok(`<enabled>no</enabled>`),
	})

	c := NewClient(srv.URL, Credentials{Username: "admin", Password: "pw"},
		WithTarget("007054000123456"), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, c.Reboot(context.Background()))
	_, err := c.HAStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"keygen", cmdReboot, cmdHAAll}, f.calls, "key is generated once")
	assert.Equal(t, "", f.keys[0])
	assert.Equal(t, "GENERATED", f.keys[1])
	assert.Equal(t, "007054000123456", f.targets[1])
}

func TestClient_MissingCredentials(t *testing.T) {
	_, srv := newFakeDevice(t, nil)
	c := NewClient(srv.URL, Credentials{}, WithLogger(zaptest.NewLogger(t)))
	_, err := c.SystemInfo(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}
