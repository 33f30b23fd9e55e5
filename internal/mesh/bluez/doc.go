// Package bluez implements mesh.Node on top of the bluetooth-meshd D-Bus API.
//
// The gateway registers an application tree (application, provisioner and
// one element hosting the configuration server and client models), attaches
// to its node with a token and then drives provisioning and configuration
// through the Management1 and Node1 interfaces. Callbacks from the daemon
// are forwarded on the channels returned by Outcomes and Elements.
package bluez
