package inventory

import "github.com/HerbHall/panupgrade/internal/panos"

// Config holds the inventory module settings (plugins.inventory.*).
type Config struct {
	// InventoryFile is imported on start when set.
	InventoryFile string `mapstructure:"inventory_file"`
	// Passphrase seals profile credentials at rest. Empty stores them as is.
	Passphrase string `mapstructure:"passphrase"`

	panos.DialerConfig `mapstructure:",squash"`
}

// DefaultConfig returns the inventory defaults.
func DefaultConfig() Config {
	return Config{DialerConfig: panos.DefaultDialerConfig()}
}
