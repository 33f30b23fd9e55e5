// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// DefaultLogOptions returns zap options with human readable output when
// stdout is a terminal and JSON otherwise.
func DefaultLogOptions() zap.Options {
	return zap.Options{Development: isInteractiveTTY()}
}

// SetupLogger installs the global logger and returns ctx carrying it.
func SetupLogger(ctx context.Context, opts *zap.Options) context.Context {
	logger := zap.New(zap.UseFlagOptions(opts))
	log.SetLogger(logger)
	if ctx == nil {
		ctx = context.Background()
	}
	return log.IntoContext(ctx, logger)
}

func isInteractiveTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
