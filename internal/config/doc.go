// Package config loads the runtime configuration shared by the operator and
// the gateway.
//
// Configuration is read from an optional YAML file, overridden by BTMESH_*
// environment variables, completed with defaults and validated. Validation
// reports every problem at once.
package config
