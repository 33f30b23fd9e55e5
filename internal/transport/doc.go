// Package transport abstracts the publish/subscribe broker that carries
// commands from the operator to gateways and status events back.
//
// Topics and filters use MQTT syntax: levels separated by '/', '+' matching
// one level and '#' matching the remainder. Delivery is at least once and may
// duplicate; consumers must be idempotent.
//
// # Implementations
//
//   - mqtt/: Eclipse Paho client with shared subscriptions
//   - nats/: NATS client with queue groups
//   - memory/: in-process broker for tests and local runs
//   - mocks/: generated Client and Publisher mocks
package transport
