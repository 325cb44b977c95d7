package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

type fakeModule struct {
	info     plugin.PluginInfo
	initErr  error
	startErr error
	stops    *[]string
}

func newFake(name string, deps ...string) *fakeModule {
	return &fakeModule{info: plugin.PluginInfo{
		Name:         name,
		Version:      "1.0.0",
		Dependencies: deps,
		APIVersion:   plugin.APIVersionCurrent,
	}}
}

func (m *fakeModule) Info() plugin.PluginInfo                             { return m.info }
func (m *fakeModule) Init(_ context.Context, _ plugin.Dependencies) error { return m.initErr }
func (m *fakeModule) Start(_ context.Context) error                       { return m.startErr }

func (m *fakeModule) Stop(_ context.Context) error {
	if m.stops != nil {
		*m.stops = append(*m.stops, m.info.Name)
	}
	return nil
}

func noDeps(string) plugin.Dependencies { return plugin.Dependencies{} }

func TestValidate_orders_by_dependency(t *testing.T) {
	r := New(zap.NewNop())
	for _, m := range []*fakeModule{
		newFake("upgrade", "inventory", "jobs", "snapshot"),
		newFake("snapshot", "jobs"),
		newFake("jobs"),
		newFake("inventory"),
	} {
		if err := r.Register(m); err != nil {
			t.Fatalf("Register(%s): %v", m.info.Name, err)
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	want := []string{"inventory", "jobs", "snapshot", "upgrade"}
	if len(r.order) != len(want) {
		t.Fatalf("order = %v, want %v", r.order, want)
	}
	for i := range want {
		if r.order[i] != want[i] {
			t.Fatalf("order = %v, want %v", r.order, want)
		}
	}
}

func TestRegister_duplicate(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Register(newFake("jobs")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(newFake("jobs")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestValidate_cycle(t *testing.T) {
	r := New(zap.NewNop())
	_ = r.Register(newFake("a", "b"))
	_ = r.Register(newFake("b", "a"))
	if err := r.Validate(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestValidate_missing_dependency(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		wantErr  bool
	}{
		{"optional module is disabled", false, false},
		{"required module aborts", true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New(zap.NewNop())
			m := newFake("upgrade", "inventory")
			m.info.Required = tc.required
			_ = r.Register(m)
			_ = r.Register(newFake("ws", "upgrade"))

			err := r.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if !r.IsDisabled("upgrade") {
				t.Error("upgrade should be disabled")
			}
			if !r.IsDisabled("ws") {
				t.Error("dependent ws should be cascade-disabled")
			}
		})
	}
}

func TestInitAll_optional_failure_disables(t *testing.T) {
	r := New(zap.NewNop())
	bad := newFake("inventory")
	bad.initErr = errors.New("boom")
	_ = r.Register(bad)
	_ = r.Register(newFake("jobs"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := r.InitAll(context.Background(), noDeps); err != nil {
		t.Fatalf("InitAll: %v", err)
	}
	if _, ok := r.Resolve("inventory"); ok {
		t.Error("failed module should not resolve")
	}
	if _, ok := r.Resolve("jobs"); !ok {
		t.Error("healthy module should resolve")
	}
}

func TestStartAll_required_failure(t *testing.T) {
	r := New(zap.NewNop())
	m := newFake("jobs")
	m.info.Required = true
	m.startErr = errors.New("boom")
	_ = r.Register(m)

	_ = r.Validate()
	_ = r.InitAll(context.Background(), noDeps)
	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected required start failure to abort")
	}
}

func TestStopAll_reverse_order(t *testing.T) {
	var stops []string
	r := New(zap.NewNop())
	for _, m := range []*fakeModule{newFake("inventory"), newFake("upgrade", "inventory")} {
		m.stops = &stops
		_ = r.Register(m)
	}
	_ = r.Validate()
	_ = r.InitAll(context.Background(), noDeps)
	_ = r.StartAll(context.Background())
	r.StopAll(context.Background())

	if len(stops) != 2 || stops[0] != "upgrade" || stops[1] != "inventory" {
		t.Errorf("stop order = %v, want [upgrade inventory]", stops)
	}
}

func TestResolveByRole(t *testing.T) {
	r := New(zap.NewNop())
	m := newFake("jobs")
	m.info.Roles = []string{"task_log"}
	_ = r.Register(m)
	_ = r.Register(newFake("inventory"))
	_ = r.Validate()

	got := r.ResolveByRole("task_log")
	if len(got) != 1 || got[0].Info().Name != "jobs" {
		t.Errorf("ResolveByRole(task_log) = %v", got)
	}
}
