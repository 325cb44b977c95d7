package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load an inventory YAML file of profiles and devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.inventory.ImportFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d profiles, %d devices, %d peer links\n",
			res.Profiles, res.Devices, res.Links)
		return nil
	},
}

var refreshProfile string

var refreshCmd = &cobra.Command{
	Use:   "refresh DEVICE",
	Short: "Re-read system and HA state from a device into the inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		dev, err := a.inventory.Refresher().Refresh(cmd.Context(), args[0], refreshProfile)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(dev)
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshProfile, "profile", "", "profile whose credentials reach the device")
	_ = refreshCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(importCmd, refreshCmd)
}
