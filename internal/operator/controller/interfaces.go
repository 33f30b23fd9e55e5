package controller

import (
	"context"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
)

// Registry defines the device registry operations used by the reconciler.
// This interface enables testing with mocks.
type Registry interface {
	// ListDevices returns all devices of an application.
	ListDevices(ctx context.Context, application string) ([]v1alpha1.Device, error)

	// GetDevice returns one device, or an error satisfying drogue.IsNotFound.
	GetDevice(ctx context.Context, application, name string) (*v1alpha1.Device, error)

	// UpdateDevice writes a device back, guarded by its resourceVersion.
	UpdateDevice(ctx context.Context, device *v1alpha1.Device) error
}

// Publisher sends commands to the gateway.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}
