// Package jobs stores upgrade job records and their append-only task logs,
// and hands out job-scoped logging handles.
package jobs

import (
	"context"
	"fmt"

	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

var _ plugin.Plugin = (*Module)(nil)

// Module implements the jobs plugin.
type Module struct {
	logger  *zap.Logger
	store   *Store
	tracker *Tracker
}

// New creates the jobs module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "jobs",
		Version:     "0.1.0",
		Description: "Job records, status and task log",
		Required:    true,
		Roles:       []string{"task_log"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "jobs", migrations()); err != nil {
			return fmt.Errorf("jobs migrations: %w", err)
		}
		m.store = NewStore(deps.Store.DB())
	}
	m.tracker = NewTracker(m.store, deps.Bus, m.logger)
	m.logger.Info("jobs module initialized", zap.Bool("persistent", m.store != nil))
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Store returns the job store. Nil when no database was supplied.
func (m *Module) Store() *Store { return m.store }

// Tracker returns the task log and status sink.
func (m *Module) Tracker() *Tracker { return m.tracker }
