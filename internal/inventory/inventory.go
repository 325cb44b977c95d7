// Package inventory owns the device and profile records: storage, the
// YAML import and live refresh from the devices themselves.
package inventory

import (
	"context"
	"fmt"
	"os"

	"github.com/HerbHall/panupgrade/internal/panos"
	"github.com/HerbHall/panupgrade/internal/secrets"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module implements the inventory plugin.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	store     *Store
	dialer    *panos.Dialer
	refresher *Refresher
}

// New creates the inventory module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "inventory",
		Version:     "0.1.0",
		Description: "Firewall inventory, upgrade profiles and device refresh",
		Required:    true,
		Roles:       []string{"inventory"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal inventory config: %w", err)
		}
	}

	m.dialer = panos.NewDialer(m.cfg.DialerConfig, nil, m.logger.Named("panos"))

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "inventory", migrations()); err != nil {
			return fmt.Errorf("inventory migrations: %w", err)
		}
		sealer, err := secrets.NewSealer(m.cfg.Passphrase)
		if err != nil {
			return fmt.Errorf("init sealer: %w", err)
		}
		m.store = NewStore(deps.Store.DB(), sealer)
		m.refresher = NewRefresher(m.store, m.ProbeDialer(), deps.Bus, m.logger)
	}

	m.logger.Info("inventory module initialized",
		zap.Bool("sealed_credentials", m.cfg.Passphrase != ""),
		zap.Duration("api_timeout", m.cfg.Timeout),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	if m.cfg.InventoryFile == "" || m.store == nil {
		return nil
	}
	res, err := m.ImportFile(ctx, m.cfg.InventoryFile)
	if err != nil {
		return err
	}
	m.logger.Info("inventory file imported",
		zap.String("path", m.cfg.InventoryFile),
		zap.Int("profiles", res.Profiles),
		zap.Int("devices", res.Devices),
		zap.Int("peer_links", res.Links),
	)
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	return nil
}

// ImportFile imports the inventory file at path.
func (m *Module) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open inventory file: %w", err)
	}
	defer f.Close()
	return m.store.Import(ctx, f)
}

// Store returns the inventory store. Nil before Init with a database.
func (m *Module) Store() *Store { return m.store }

// Dialer returns the XML API dialer shared by every consumer of devices.
func (m *Module) Dialer() *panos.Dialer { return m.dialer }

// Refresher returns the device refresher.
func (m *Module) Refresher() *Refresher { return m.refresher }

// ProbeDialer adapts the XML API dialer to the refresh contract.
func (m *Module) ProbeDialer() ProbeDialer {
	return func(dev *models.Device, prof *models.Profile) Probe {
		return m.dialer.Dial(dev, prof)
	}
}
