package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/imamik/btmesh-provisioner/cmd/btmesh/handlers"
)

// Devices returns the command group for inspecting registry devices.
func Devices() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect mesh devices in the registry",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List mesh devices and their provisioning state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.DevicesList(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get NAME...",
		Short: "Print devices as YAML",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DevicesGet(cmd.Context(), configPath, args, cmd.OutOrStdout())
		},
	})

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Show a live dashboard of mesh devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.DevicesWatch(cmd.Context(), configPath, interval)
		},
	}
	watch.Flags().DurationVar(&interval, "interval", 3*time.Second, "Registry poll interval")
	cmd.AddCommand(watch)

	return cmd
}
