package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/imamik/btmesh-provisioner/internal/mesh"
	"github.com/imamik/btmesh-provisioner/internal/mesh/bluez"
	"github.com/imamik/btmesh-provisioner/internal/transport"
)

// Validate checks the settings shared by all commands and returns every
// problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Application == "" {
		errs = append(errs, errors.New("application is required"))
	}

	switch c.Transport.Kind {
	case TransportMQTT, TransportNATS:
		if c.Transport.URL == "" {
			errs = append(errs, fmt.Errorf("transport.url is required for %s", c.Transport.Kind))
		} else if _, err := url.Parse(c.Transport.URL); err != nil {
			errs = append(errs, fmt.Errorf("transport.url: %w", err))
		}
	case TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is not one of %s, %s, %s",
			c.Transport.Kind, TransportMQTT, TransportNATS, TransportMemory))
	}

	if c.Registry.Timeout < 0 {
		errs = append(errs, errors.New("registry.timeout must not be negative"))
	}
	if c.Operator.Interval < 0 {
		errs = append(errs, errors.New("operator.interval must not be negative"))
	}

	gw := c.Gateway
	if !mesh.Address(gw.StartAddress).IsUnicast() {
		errs = append(errs, fmt.Errorf("gateway.startAddress %s is not a unicast address", mesh.Address(gw.StartAddress)))
	}
	if gw.CommandTopic != "" {
		if err := transport.ValidateFilter(gw.CommandTopic); err != nil {
			errs = append(errs, fmt.Errorf("gateway.commandTopic: %w", err))
		}
	}
	if gw.Settle.Initial < 0 || gw.Settle.Step < 0 || gw.Settle.Final < 0 {
		errs = append(errs, errors.New("gateway.settle delays must not be negative"))
	}
	if gw.ProvisionTimeout < 0 {
		errs = append(errs, errors.New("gateway.provisionTimeout must not be negative"))
	}
	if gw.DrainDelay < 0 {
		errs = append(errs, errors.New("gateway.drainDelay must not be negative"))
	}
	if gw.MaxConcurrentBinds < 0 {
		errs = append(errs, errors.New("gateway.maxConcurrentBinds must not be negative"))
	}
	if gw.PublishLabel != "" {
		if _, err := uuid.Parse(gw.PublishLabel); err != nil {
			errs = append(errs, fmt.Errorf("gateway.publishLabel: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ValidateOperator checks the settings the operator needs on top of Validate.
func (c *Config) ValidateOperator() error {
	var errs []error
	if c.Registry.URL == "" {
		errs = append(errs, errors.New("registry.url is required"))
	} else if u, err := url.Parse(c.Registry.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("registry.url %q is not an absolute URL", c.Registry.URL))
	}
	if c.Operator.Finalizer == "" {
		errs = append(errs, errors.New("operator.finalizer is required"))
	}
	return errors.Join(errs...)
}

// ValidateGateway checks the settings the gateway needs on top of Validate.
func (c *Config) ValidateGateway() error {
	var errs []error
	if c.Gateway.Token == "" {
		errs = append(errs, errors.New("gateway.token is required"))
	} else if _, err := bluez.ParseToken(c.Gateway.Token); err != nil {
		errs = append(errs, fmt.Errorf("gateway.token: %w", err))
	}
	if c.Gateway.CommandTopic == "" {
		errs = append(errs, errors.New("gateway.commandTopic is required"))
	}
	return errors.Join(errs...)
}

// Label returns the parsed publication label, or the default label when it
// is unset or invalid.
func (g GatewayConfig) Label() uuid.UUID {
	label, err := uuid.Parse(g.PublishLabel)
	if err != nil {
		return mesh.DefaultPublishLabel
	}
	return label
}
