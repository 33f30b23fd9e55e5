// Package main is the entry point for the btmesh CLI.
//
// btmesh connects Bluetooth mesh devices to a cloud device registry. The
// operator watches the registry and asks for devices to be provisioned or
// reset; the gateway runs next to the local mesh stack and carries those
// requests out.
//
// Commands: operator, gateway, devices, version.
//
// For detailed usage information, run:
//
//	btmesh --help
package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/imamik/btmesh-provisioner/cmd/btmesh/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(signals.SetupSignalHandler()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
