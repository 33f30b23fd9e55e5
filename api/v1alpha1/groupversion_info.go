// Package v1alpha1 contains the device registry API types consumed by the
// btmesh operator, and the command/event schema shared with the gateway.
package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var (
	// GroupVersion is the registry API group version the device types belong to.
	GroupVersion = schema.GroupVersion{Group: "registry", Version: "v1alpha1"}

	// DeviceKind is the kind of a registry device record.
	DeviceKind = GroupVersion.WithKind("Device")
)

// APIPath returns the REST path prefix of the registry API version.
func APIPath() string {
	return "/api/" + GroupVersion.Group + "/" + GroupVersion.Version
}
