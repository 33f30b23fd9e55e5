package config

import (
	"time"
)

// Transport kinds.
const (
	TransportMQTT   = "mqtt"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	// Application is the registry application whose devices are managed.
	Application string `mapstructure:"application" yaml:"application"`

	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Operator  OperatorConfig  `mapstructure:"operator" yaml:"operator"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// TransportConfig selects and configures the message transport.
type TransportConfig struct {
	Kind     string `mapstructure:"kind" yaml:"kind"`
	URL      string `mapstructure:"url" yaml:"url"`
	ClientID string `mapstructure:"clientID" yaml:"clientID"`
	// Group is the consumer group for inbound subscriptions. Empty means
	// every instance receives every message.
	Group    string `mapstructure:"group" yaml:"group"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RegistryConfig points the operator at the device registry.
type RegistryConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// OperatorConfig configures the reconciler.
type OperatorConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Finalizer string        `mapstructure:"finalizer" yaml:"finalizer"`
}

// GatewayConfig configures the provisioning gateway.
type GatewayConfig struct {
	// Token is the mesh node token, 16 hex digits.
	Token            string        `mapstructure:"token" yaml:"token"`
	StartAddress     uint16        `mapstructure:"startAddress" yaml:"startAddress"`
	CommandTopic     string        `mapstructure:"commandTopic" yaml:"commandTopic"`
	Settle           SettleConfig  `mapstructure:"settle" yaml:"settle"`
	ProvisionTimeout time.Duration `mapstructure:"provisionTimeout" yaml:"provisionTimeout"`
	DrainDelay       time.Duration `mapstructure:"drainDelay" yaml:"drainDelay"`
	// MaxConcurrentBinds bounds how many devices are configured at once.
	MaxConcurrentBinds int    `mapstructure:"maxConcurrentBinds" yaml:"maxConcurrentBinds"`
	PublishLabel       string `mapstructure:"publishLabel" yaml:"publishLabel"`
}

// SettleConfig holds the waits around the configuration steps of a new node.
type SettleConfig struct {
	Initial time.Duration `mapstructure:"initial" yaml:"initial"`
	Step    time.Duration `mapstructure:"step" yaml:"step"`
	Final   time.Duration `mapstructure:"final" yaml:"final"`
}

// MetricsConfig configures the metrics and health endpoints.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress  string `mapstructure:"bindAddress" yaml:"bindAddress"`
	ProbeAddress string `mapstructure:"probeAddress" yaml:"probeAddress"`
}
