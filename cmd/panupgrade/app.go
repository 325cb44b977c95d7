package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/panupgrade/internal/config"
	"github.com/HerbHall/panupgrade/internal/event"
	"github.com/HerbHall/panupgrade/internal/inventory"
	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/internal/registry"
	"github.com/HerbHall/panupgrade/internal/snapshot"
	"github.com/HerbHall/panupgrade/internal/store"
	"github.com/HerbHall/panupgrade/internal/upgrade"
	"github.com/HerbHall/panupgrade/internal/version"
	"github.com/HerbHall/panupgrade/internal/webhook"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the composed module set shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
	db     *store.SQLiteStore
	bus    *event.Bus
	reg    *registry.Registry

	inventory *inventory.Module
	upgrade   *upgrade.Module
}

// bootstrap loads configuration, opens the database and initializes every
// module. Modules are not started; serve does that.
func bootstrap(ctx context.Context) (*app, error) {
	v, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	dbPath := v.GetString("database.path")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", zap.String("component", "database"), zap.String("path", dbPath))

	a := &app{
		v:         v,
		logger:    logger,
		db:        db,
		bus:       event.NewBus(logger.Named("event")),
		reg:       registry.New(logger.Named("registry")),
		inventory: inventory.New(),
		upgrade:   upgrade.New(),
	}

	// Compile-time composition.
	modules := []plugin.Plugin{
		a.inventory,
		jobs.New(),
		snapshot.New(),
		a.upgrade,
		webhook.New(),
	}
	for _, m := range modules {
		if err := a.reg.Register(m); err != nil {
			a.close()
			return nil, fmt.Errorf("register module: %w", err)
		}
	}
	if err := a.reg.Validate(); err != nil {
		a.close()
		return nil, fmt.Errorf("module validation: %w", err)
	}

	cfg := config.New(v)
	err = a.reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     a.bus,
			Plugins: a.reg,
		}
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize modules: %w", err)
	}
	return a, nil
}

// close stops the modules, flushes in-flight events and releases the
// database.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.reg.StopAll(ctx)
	a.bus.Wait()
	_ = a.db.Close()
	_ = a.logger.Sync()
}
