package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/btmesh-provisioner/cmd/btmesh/handlers"
)

// Operator returns the command running the registry reconciler.
//
// Optional flags:
//
//	--config, -c: Path to configuration YAML file (default: environment only)
//
// Environment variables:
//
//	BTMESH_*: override single configuration values
func Operator() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Reconcile registry devices with the mesh",
		Long: `Run the operator.

The operator periodically lists the mesh devices of the application in the
device registry. New devices get a finalizer and a provision command; deleted
devices get a reset command and lose the finalizer once the gateway reports
the reset. Status events from the gateway are recorded on the devices.

Examples:
  # Run with a configuration file
  btmesh operator -c btmesh.yaml

  # Run from environment only
  BTMESH_APPLICATION=app1 BTMESH_REGISTRY_URL=https://registry.example.com btmesh operator`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Operator(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
