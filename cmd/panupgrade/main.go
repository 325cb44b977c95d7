// Command panupgrade upgrades PAN-OS firewalls and HA pairs.
package main

import (
	"fmt"
	"os"

	"github.com/HerbHall/panupgrade/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "panupgrade",
	Short:         "PAN-OS firmware upgrade orchestrator",
	Long:          `Upgrades standalone PAN-OS firewalls and HA pairs, secondary first, with pre and post state snapshots.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./panupgrade.yaml, ./configs, /etc/panupgrade)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging.format (json, console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the logging flags on top.
func loadConfig() (*viper.Viper, error) {
	v, err := server.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		v.Set("logging.level", logLevel)
	}
	if logFormat != "" {
		v.Set("logging.format", logFormat)
	}
	return v, nil
}
