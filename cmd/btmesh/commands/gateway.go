package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/btmesh-provisioner/cmd/btmesh/handlers"
)

// Gateway returns the command running the provisioning gateway.
//
// Optional flags:
//
//	--config, -c: Path to configuration YAML file (default: environment only)
//
// Environment variables:
//
//	BTMESH_GATEWAY_TOKEN: mesh node token (required unless set in the file)
func Gateway() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Provision and reset mesh nodes on request",
		Long: `Run the gateway.

The gateway attaches to the local bluetooth-meshd as provisioner, receives
provision and reset commands and reports the outcome of each as a status
event. New nodes get the application key, model bindings and sensor and
battery publication configured.

Examples:
  btmesh gateway -c btmesh.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Gateway(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
