package handlers

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/internal/config"
	"github.com/imamik/btmesh-provisioner/internal/gateway/provisioner"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
	"github.com/imamik/btmesh-provisioner/internal/mesh/bluez"
	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/util/async"
)

// meshNode is an attached mesh stack with its callback streams.
type meshNode interface {
	mesh.Node
	Outcomes() <-chan mesh.ProvisionerMessage
	Elements() <-chan mesh.ElementMessage
}

// connectMesh attaches to the local mesh daemon (for testing injection).
var connectMesh = func(ctx context.Context, cfg bluez.Config) (meshNode, error) {
	node, err := bluez.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Gateway runs the provisioning sequencer until ctx ends or the mesh stack
// goes away.
//
// It loads and validates the configuration, attaches to the mesh daemon with
// the configured node token, subscribes to the command topic and runs the
// sequencer next to the metrics and probe endpoints. The sequencer
// unregisters from the mesh daemon on the way out.
func Gateway(ctx context.Context, configPath string) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		return fmt.Errorf("invalid gateway configuration: %w", err)
	}

	logger := log.FromContext(ctx).WithName("gateway").WithValues("application", cfg.Application)
	ctx = log.IntoContext(ctx, logger)
	logger.Info("Starting gateway", "commandTopic", cfg.Gateway.CommandTopic, "transport", cfg.Transport.Kind)

	// The broker and the mesh daemon are independent; connect both at once.
	var (
		client transport.Client
		node   meshNode
	)
	err = async.RunParallel(ctx, []async.Task{
		{Name: "transport", Func: func(ctx context.Context) (err error) {
			client, err = newTransport(ctx, cfg.Transport, cfg.Application, "gateway")
			return err
		}},
		{Name: "mesh", Func: func(ctx context.Context) (err error) {
			node, err = connectMesh(ctx, meshConfig(cfg.Gateway))
			return err
		}},
	})
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		if node != nil {
			_ = node.Unregister(context.WithoutCancel(ctx))
		}
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer func() { _ = client.Close() }()

	commands, err := client.Subscribe(ctx, cfg.Gateway.CommandTopic, cfg.Transport.Group)
	if err != nil {
		_ = node.Unregister(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	sequencer := provisioner.New(node, client, sequencerOptions(cfg)...)

	return async.RunUntilFirst(ctx, []async.Task{
		{Name: "sequencer", Func: func(ctx context.Context) error {
			return sequencer.Run(ctx, node.Outcomes(), node.Elements(), commands)
		}},
		serverTask(cfg.Metrics),
	})
}

func meshConfig(gw config.GatewayConfig) bluez.Config {
	cfg := bluez.DefaultConfig()
	// Validated by ValidateGateway.
	cfg.Token, _ = bluez.ParseToken(gw.Token)
	cfg.StartAddress = mesh.Address(gw.StartAddress)
	return cfg
}

func sequencerOptions(cfg *config.Config) []provisioner.Option {
	gw := cfg.Gateway
	return []provisioner.Option{
		provisioner.WithSettler(provisioner.DelaySettler{
			Initial: gw.Settle.Initial,
			Step:    gw.Settle.Step,
			Final:   gw.Settle.Final,
		}),
		provisioner.WithProvisionTimeout(gw.ProvisionTimeout),
		provisioner.WithDrainDelay(gw.DrainDelay),
		provisioner.WithMaxConcurrentBinds(gw.MaxConcurrentBinds),
		provisioner.WithPublishLabel(gw.Label()),
		provisioner.WithMetrics(cfg.Metrics.Enabled),
	}
}
