package inventory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/HerbHall/panupgrade/internal/secrets"
	"github.com/HerbHall/panupgrade/internal/store"
	"github.com/HerbHall/panupgrade/internal/testutil"
	"github.com/HerbHall/panupgrade/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return testStoreSealed(t, "")
}

func testStoreSealed(t *testing.T, passphrase string) *Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "inventory", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sealer, err := secrets.NewSealer(passphrase)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return NewStore(db.DB(), sealer)
}

func insertDevice(t *testing.T, s *Store, d models.Device) {
	t.Helper()
	if err := s.UpsertDevice(context.Background(), &d); err != nil {
		t.Fatalf("UpsertDevice(%s): %v", d.ID, err)
	}
}

// -- Devices --

func TestUpsertDevice_AndGetDevice(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertDevice(t, s, testutil.NewDevice(testutil.WithID("fw-1"), testutil.WithVersion("10.1.3")))

	got, err := s.GetDevice(ctx, "fw-1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got == nil {
		t.Fatal("GetDevice returned nil, want non-nil")
	}
	if got.SWVersion != "10.1.3" {
		t.Errorf("SWVersion = %q, want %q", got.SWVersion, "10.1.3")
	}
	if got.Topology != models.TopologyDirect {
		t.Errorf("Topology = %q, want %q", got.Topology, models.TopologyDirect)
	}
	if got.LastRefreshed != nil {
		t.Errorf("LastRefreshed = %v, want nil", got.LastRefreshed)
	}

	got.SWVersion = "10.2.0"
	if err := s.UpsertDevice(ctx, got); err != nil {
		t.Fatalf("UpsertDevice update: %v", err)
	}
	again, _ := s.GetDevice(ctx, "fw-1")
	if again.SWVersion != "10.2.0" {
		t.Errorf("SWVersion after update = %q, want %q", again.SWVersion, "10.2.0")
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	s := testStore(t)
	got, err := s.GetDevice(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got != nil {
		t.Errorf("GetDevice = %+v, want nil", got)
	}
}

func TestFindDeviceByAddress(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertDevice(t, s, testutil.NewDevice(testutil.WithID("fw-1"), testutil.WithIPv4("10.0.0.1")))
	insertDevice(t, s, testutil.NewDevice(testutil.WithID("fw-2"), testutil.WithIPv4("10.0.0.2")))

	tests := []struct {
		addr string
		want string
	}{
		{"10.0.0.2", "fw-2"},
		{"10.0.0.9", ""},
		{"", ""},
	}
	for _, tc := range tests {
		got, err := s.FindDeviceByAddress(ctx, tc.addr)
		if err != nil {
			t.Fatalf("FindDeviceByAddress(%q): %v", tc.addr, err)
		}
		var id string
		if got != nil {
			id = got.ID
		}
		if id != tc.want {
			t.Errorf("FindDeviceByAddress(%q) = %q, want %q", tc.addr, id, tc.want)
		}
	}
}

func TestListDevices_OrderedByHostname(t *testing.T) {
	s := testStore(t)
	insertDevice(t, s, testutil.NewDevice(testutil.WithID("b"), testutil.WithHostname("zulu")))
	insertDevice(t, s, testutil.NewDevice(testutil.WithID("a"), testutil.WithHostname("alpha")))

	got, err := s.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Hostname != "alpha" || got[1].Hostname != "zulu" {
		t.Errorf("order = [%s %s], want [alpha zulu]", got[0].Hostname, got[1].Hostname)
	}
}

func TestLinkPeers_Symmetric(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"fw-a", "fw-b", "fw-c"} {
		insertDevice(t, s, testutil.NewDevice(testutil.WithID(id)))
	}

	if err := s.LinkPeers(ctx, "fw-a", "fw-b"); err != nil {
		t.Fatalf("LinkPeers(a, b): %v", err)
	}
	a, _ := s.GetDevice(ctx, "fw-a")
	b, _ := s.GetDevice(ctx, "fw-b")
	if a.PeerID != "fw-b" || b.PeerID != "fw-a" {
		t.Fatalf("peers = (%q, %q), want (fw-b, fw-a)", a.PeerID, b.PeerID)
	}

	// Re-pairing a with c must release b.
	if err := s.LinkPeers(ctx, "fw-a", "fw-c"); err != nil {
		t.Fatalf("LinkPeers(a, c): %v", err)
	}
	b, _ = s.GetDevice(ctx, "fw-b")
	c, _ := s.GetDevice(ctx, "fw-c")
	if b.PeerID != "" {
		t.Errorf("fw-b PeerID = %q, want empty", b.PeerID)
	}
	if c.PeerID != "fw-a" {
		t.Errorf("fw-c PeerID = %q, want fw-a", c.PeerID)
	}
}

func TestLinkPeers_MissingDevice(t *testing.T) {
	s := testStore(t)
	insertDevice(t, s, testutil.NewDevice(testutil.WithID("fw-a")))

	err := s.LinkPeers(context.Background(), "fw-a", "ghost")
	if err == nil {
		t.Fatal("LinkPeers with a missing device succeeded")
	}
}

// -- Profiles --

func TestUpsertProfile_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := testutil.NewProfile()
	p.Snapshots.ARPTable = false
	p.Extra = []string{"bgp_peers", "mfa"}
	if err := s.UpsertProfile(ctx, &p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	got, err := s.GetProfile(ctx, "default")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got == nil {
		t.Fatal("GetProfile returned nil")
	}
	if got.Password != "secret" || got.Username != "admin" {
		t.Errorf("credentials = (%q, %q), want (admin, secret)", got.Username, got.Password)
	}
	if got.Snapshots.ARPTable || !got.Snapshots.Routes {
		t.Errorf("Snapshots = %+v, want arp off and routes on", got.Snapshots)
	}
	if strings.Join(got.Extra, ",") != "bgp_peers,mfa" {
		t.Errorf("Extra = %v", got.Extra)
	}
	if got.Download != p.Download {
		t.Errorf("Download = %+v, want %+v", got.Download, p.Download)
	}
}

func TestUpsertProfile_SealsCredentials(t *testing.T) {
	s := testStoreSealed(t, "correct horse")
	ctx := context.Background()

	p := testutil.NewProfile()
	p.APIKey = "LUFRPT1"
	if err := s.UpsertProfile(ctx, &p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	var rawPassword, rawKey string
	if err := s.db.QueryRowContext(ctx,
		`SELECT password, api_key FROM inventory_profiles WHERE id = ?`, "default").
		Scan(&rawPassword, &rawKey); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if !secrets.IsSealed(rawPassword) || !secrets.IsSealed(rawKey) {
		t.Errorf("stored credentials are not sealed: %q %q", rawPassword, rawKey)
	}

	got, err := s.GetProfile(ctx, "default")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Password != "secret" || got.APIKey != "LUFRPT1" {
		t.Errorf("opened credentials = (%q, %q)", got.Password, got.APIKey)
	}
}

func TestGetProfile_SealedWithoutPassphrase(t *testing.T) {
	s := testStoreSealed(t, "correct horse")
	ctx := context.Background()
	p := testutil.NewProfile()
	if err := s.UpsertProfile(ctx, &p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	s.sealer, _ = secrets.NewSealer("")
	_, err := s.GetProfile(ctx, "default")
	if !errors.Is(err, secrets.ErrNoPassphrase) {
		t.Errorf("GetProfile error = %v, want ErrNoPassphrase", err)
	}
}
