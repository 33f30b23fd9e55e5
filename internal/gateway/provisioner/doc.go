// Package provisioner implements the gateway side of device provisioning.
//
// A Sequencer consumes provision and reset commands from the transport and
// provisioning outcomes and configuration replies from the mesh stack. For
// each device it adds the node to the network, configures the new node
// (application key, model bindings, publications) and reports the result as
// a status event. Every device is handled by its own task, so a failure or a
// hung step affects only that device.
package provisioner
