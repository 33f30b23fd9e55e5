// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"flag"

	"github.com/spf13/cobra"

	"github.com/imamik/btmesh-provisioner/cmd/btmesh/handlers"
)

// Root returns the root command for the btmesh CLI.
//
// Logging flags (--zap-log-level, --zap-devel, ...) are persistent and apply
// to every subcommand.
func Root() *cobra.Command {
	logOpts := handlers.DefaultLogOptions()

	cmd := &cobra.Command{
		Use:           "btmesh",
		Short:         "Provision Bluetooth mesh devices from a cloud device registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cmd.SetContext(handlers.SetupLogger(cmd.Context(), &logOpts))
		},
	}

	goFlags := flag.NewFlagSet("btmesh", flag.ContinueOnError)
	logOpts.BindFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)

	// Services
	cmd.AddCommand(Operator())
	cmd.AddCommand(Gateway())

	// Utility commands
	cmd.AddCommand(Devices())
	cmd.AddCommand(Version())

	return cmd
}
