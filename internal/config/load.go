package config

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// LookupEnv returns the value of an environment variable, as os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// LoadFile reads the configuration from a YAML file, applies BTMESH_*
// environment overrides and defaults and validates the result. An empty path
// loads from the environment only.
func LoadFile(path string) (*Config, error) {
	var data []byte
	if path != "" {
		// #nosec G304
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = b
	}
	return Load(data, os.LookupEnv)
}

// Load parses data as YAML and builds the configuration. lookup provides the
// environment overrides and may be nil.
func Load(data []byte, lookup LookupEnv) (*Config, error) {
	rawConfig := map[string]interface{}{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
		}
		if rawConfig == nil {
			rawConfig = map[string]interface{}{}
		}
	}

	if lookup != nil {
		applyEnv(rawConfig, lookup)
	}

	cfg, err := decode(rawConfig)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg, rawConfig)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func decode(rawConfig map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
