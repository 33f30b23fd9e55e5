package handlers

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/config"
	"github.com/imamik/btmesh-provisioner/internal/operator/controller"
	"github.com/imamik/btmesh-provisioner/internal/platform/drogue"
	"github.com/imamik/btmesh-provisioner/internal/server"
	"github.com/imamik/btmesh-provisioner/internal/util/async"
)

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfigFile loads config from file (for testing injection).
	loadConfigFile = config.LoadFile

	// newTransport opens the message transport.
	newTransport = connectTransport

	// newRegistry creates the device registry client.
	newRegistry = func(cfg *config.Config) controller.Registry {
		return drogue.NewClient(cfg.Registry.URL,
			drogue.WithToken(cfg.Registry.Token),
			drogue.WithTimeout(cfg.Registry.Timeout),
			drogue.WithMetrics(cfg.Metrics.Enabled),
		)
	}
)

// Operator runs the device reconciler until ctx ends.
//
// It loads and validates the configuration, connects the transport,
// subscribes to the application's event topic and runs the reconciler next to
// the metrics and probe endpoints.
func Operator(ctx context.Context, configPath string) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateOperator(); err != nil {
		return fmt.Errorf("invalid operator configuration: %w", err)
	}

	logger := log.FromContext(ctx).WithName("operator").WithValues("application", cfg.Application)
	ctx = log.IntoContext(ctx, logger)
	logger.Info("Starting operator", "registry", cfg.Registry.URL, "transport", cfg.Transport.Kind)

	client, err := newTransport(ctx, cfg.Transport, cfg.Application, "operator")
	if err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	defer func() { _ = client.Close() }()

	events, err := client.Subscribe(ctx, v1alpha1.ApplicationTopic(cfg.Application), cfg.Transport.Group)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	reconciler := controller.NewDeviceReconciler(newRegistry(cfg), client, cfg.Application,
		controller.WithInterval(cfg.Operator.Interval),
		controller.WithFinalizer(cfg.Operator.Finalizer),
		controller.WithMetrics(cfg.Metrics.Enabled),
	)

	return async.RunUntilFirst(ctx, []async.Task{
		{Name: "reconciler", Func: func(ctx context.Context) error {
			return reconciler.Run(ctx, events)
		}},
		serverTask(cfg.Metrics),
	})
}

// serverTask serves metrics and probes. With both endpoints disabled it just
// waits for ctx so it never ends the sibling tasks.
func serverTask(cfg config.MetricsConfig) async.Task {
	opts := server.Options{ProbeAddress: cfg.ProbeAddress}
	if cfg.Enabled {
		opts.MetricsAddress = cfg.BindAddress
	}
	srv := server.New(opts)
	srv.AddReadyzCheck("ping", healthz.Ping)

	return async.Task{Name: "server", Func: func(ctx context.Context) error {
		if err := srv.Run(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}}
}
