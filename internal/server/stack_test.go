package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/HerbHall/panupgrade/internal/config"
	"github.com/HerbHall/panupgrade/internal/event"
	"github.com/HerbHall/panupgrade/internal/inventory"
	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/internal/registry"
	"github.com/HerbHall/panupgrade/internal/snapshot"
	"github.com/HerbHall/panupgrade/internal/store"
	"github.com/HerbHall/panupgrade/internal/upgrade"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testStack is the real module set composed the way serve composes it,
// on an in-memory database. The upgrade queue is never started, so no
// workflow runs during these tests.
type testStack struct {
	handler   http.Handler
	logs      *observer.ObservedLogs
	db        *store.SQLiteStore
	inventory *inventory.Module
}

func newTestStack(t *testing.T, settings map[string]any) *testStack {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	cfg := config.New(v)

	inv := inventory.New()
	reg := registry.New(logger.Named("registry"))
	for _, m := range []plugin.Plugin{inv, jobs.New(), snapshot.New(), upgrade.New()} {
		if err := reg.Register(m); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bus := event.NewBus(logger)
	err = reg.InitAll(context.Background(), func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	srv := New(Config{Host: "127.0.0.1"}, reg, logger, nil)
	return &testStack{handler: srv.Handler(), logs: logs, db: db, inventory: inv}
}
