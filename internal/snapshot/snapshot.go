// Package snapshot captures pre- and post-upgrade operational state from
// devices, stores it and compares captures.
package snapshot

import (
	"context"
	"fmt"

	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module implements the snapshot plugin.
type Module struct {
	logger      *zap.Logger
	store       *Store
	coordinator *Coordinator
}

// New creates the snapshot module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "snapshot",
		Version:     "0.1.0",
		Description: "Pre and post upgrade state snapshots",
		Required:    true,
		Roles:       []string{"snapshot"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "snapshot", migrations()); err != nil {
			return fmt.Errorf("snapshot migrations: %w", err)
		}
		m.store = NewStore(deps.Store.DB())
	}
	m.coordinator = NewCoordinator(m.store, deps.Bus, m.logger)
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Coordinator returns the capture coordinator.
func (m *Module) Coordinator() *Coordinator { return m.coordinator }
