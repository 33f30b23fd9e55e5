package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/btmesh-provisioner/internal/config"
	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/transport/memory"
	"github.com/imamik/btmesh-provisioner/internal/transport/mqtt"
	"github.com/imamik/btmesh-provisioner/internal/transport/nats"
)

// connectRetries bounds the initial connection attempts to the broker.
const connectRetries = 10

// connectTransport opens the configured message transport. role names the
// process in the client ID when none is configured.
func connectTransport(ctx context.Context, cfg config.TransportConfig, application, role string) (transport.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("btmesh-%s-%s", role, application)
	}

	switch cfg.Kind {
	case config.TransportMQTT:
		c, err := mqtt.Connect(ctx, mqtt.Options{
			URL:            cfg.URL,
			ClientID:       clientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			QoS:            1,
			ConnectRetries: connectRetries,
		})
		if err != nil {
			return nil, err
		}
		return c, nil

	case config.TransportNATS:
		c, err := nats.Connect(ctx, nats.Options{
			URL:            cfg.URL,
			Name:           clientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			ConnectRetries: connectRetries,
		})
		if err != nil {
			return nil, err
		}
		return c, nil

	case config.TransportMemory:
		return memory.NewBroker(), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", cfg.Kind)
}
