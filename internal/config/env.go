package config

// envPrefix prefixes every environment override.
const envPrefix = "BTMESH_"

// envOverrides maps environment variables (without prefix) to config keys.
var envOverrides = []struct {
	name string
	path []string
}{
	{"APPLICATION", []string{"application"}},
	{"TRANSPORT_KIND", []string{"transport", "kind"}},
	{"TRANSPORT_URL", []string{"transport", "url"}},
	{"TRANSPORT_CLIENT_ID", []string{"transport", "clientID"}},
	{"TRANSPORT_GROUP", []string{"transport", "group"}},
	{"TRANSPORT_USERNAME", []string{"transport", "username"}},
	{"TRANSPORT_PASSWORD", []string{"transport", "password"}},
	{"REGISTRY_URL", []string{"registry", "url"}},
	{"REGISTRY_TOKEN", []string{"registry", "token"}},
	{"REGISTRY_TIMEOUT", []string{"registry", "timeout"}},
	{"OPERATOR_INTERVAL", []string{"operator", "interval"}},
	{"GATEWAY_TOKEN", []string{"gateway", "token"}},
	{"GATEWAY_START_ADDRESS", []string{"gateway", "startAddress"}},
	{"GATEWAY_COMMAND_TOPIC", []string{"gateway", "commandTopic"}},
	{"GATEWAY_PROVISION_TIMEOUT", []string{"gateway", "provisionTimeout"}},
	{"GATEWAY_MAX_CONCURRENT_BINDS", []string{"gateway", "maxConcurrentBinds"}},
	{"METRICS_ENABLED", []string{"metrics", "enabled"}},
	{"METRICS_BIND_ADDRESS", []string{"metrics", "bindAddress"}},
	{"METRICS_PROBE_ADDRESS", []string{"metrics", "probeAddress"}},
}

// applyEnv writes environment overrides into the raw document before it is
// decoded, so they go through the same conversions as file values.
func applyEnv(rawConfig map[string]interface{}, lookup LookupEnv) {
	for _, o := range envOverrides {
		if v, ok := lookup(envPrefix + o.name); ok && v != "" {
			setPath(rawConfig, v, o.path...)
		}
	}
}

func setPath(raw map[string]interface{}, value interface{}, path ...string) {
	current := raw
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
