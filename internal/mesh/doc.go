// Package mesh defines the contract between the gateway and the local
// Bluetooth mesh stack.
//
// # Core Types
//
// Node is the set of operations the gateway needs from the stack: adding an
// unprovisioned device, resetting a node and sending the foundation
// configuration messages of the bind sequence. ProvisionerMessage and
// ElementMessage are delivered by the stack on channels.
//
// # Configuration Messages
//
// EncodeModelAppBind, EncodeModelPubVirtualSet and EncodeNodeReset build the
// access-layer payloads sent with the remote node's device key.
// DecodeConfigStatus parses the status messages the node sends back.
package mesh
