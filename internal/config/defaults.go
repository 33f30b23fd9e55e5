package config

import (
	"time"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

// Default values
const (
	DefaultTransportKind      = TransportMQTT
	DefaultRegistryTimeout    = 10 * time.Second
	DefaultOperatorInterval   = 10 * time.Second
	DefaultStartAddress       = 0x00aa
	DefaultSettleInitial      = 6 * time.Second
	DefaultSettleStep         = 4 * time.Second
	DefaultSettleFinal        = 5 * time.Second
	DefaultProvisionTimeout   = 5 * time.Minute
	DefaultDrainDelay         = time.Second
	DefaultMaxConcurrentBinds = 1
	DefaultMetricsAddress     = ":8080"
	DefaultProbeAddress       = ":8081"
)

// applyDefaults fills unset fields. raw is the decoded YAML document, used to
// tell an explicit false from an absent boolean.
func applyDefaults(cfg *Config, raw map[string]interface{}) {
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = DefaultTransportKind
	}

	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = DefaultRegistryTimeout
	}

	if cfg.Operator.Interval == 0 {
		cfg.Operator.Interval = DefaultOperatorInterval
	}
	if cfg.Operator.Finalizer == "" {
		cfg.Operator.Finalizer = v1alpha1.Finalizer
	}

	gw := &cfg.Gateway
	if gw.StartAddress == 0 {
		gw.StartAddress = DefaultStartAddress
	}
	if gw.CommandTopic == "" && cfg.Application != "" {
		gw.CommandTopic = v1alpha1.CommandFilter(cfg.Application)
	}
	if gw.Settle == (SettleConfig{}) {
		gw.Settle = SettleConfig{
			Initial: DefaultSettleInitial,
			Step:    DefaultSettleStep,
			Final:   DefaultSettleFinal,
		}
	}
	if gw.ProvisionTimeout == 0 {
		gw.ProvisionTimeout = DefaultProvisionTimeout
	}
	if gw.DrainDelay == 0 {
		gw.DrainDelay = DefaultDrainDelay
	}
	if gw.MaxConcurrentBinds == 0 {
		gw.MaxConcurrentBinds = DefaultMaxConcurrentBinds
	}
	if gw.PublishLabel == "" {
		gw.PublishLabel = mesh.DefaultPublishLabel.String()
	}

	if !cfg.Metrics.Enabled {
		cfg.Metrics.Enabled = !isSet(raw, "metrics", "enabled")
	}
	if cfg.Metrics.BindAddress == "" {
		cfg.Metrics.BindAddress = DefaultMetricsAddress
	}
	if cfg.Metrics.ProbeAddress == "" {
		cfg.Metrics.ProbeAddress = DefaultProbeAddress
	}
}

// isSet reports whether the nested key path is present in raw.
func isSet(raw map[string]interface{}, path ...string) bool {
	current := raw
	for i, key := range path {
		v, ok := current[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		current, ok = v.(map[string]interface{})
		if !ok {
			return false
		}
	}
	return false
}
