package controller

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/platform/drogue"
)

// applyEvent records a gateway status event on the named device. The device
// is always written back; a failed write is healed by a later event or sweep.
func (r *DeviceReconciler) applyEvent(ctx context.Context, name string, event *v1alpha1.Event) error {
	logger := log.FromContext(ctx)

	device, err := r.registry.GetDevice(ctx, r.application, name)
	if err != nil {
		if drogue.IsNotFound(err) {
			logger.Info("Event for unknown device, ignoring")
			return nil
		}
		return fmt.Errorf("failed to get device: %w", err)
	}

	status, ok, err := device.MeshStatus()
	if err != nil || !ok {
		status = &v1alpha1.BtMeshStatus{}
	}

	switch st := event.Status.(type) {
	case v1alpha1.Reset:
		controllerutil.RemoveFinalizer(device, r.finalizer)
		status.Observe(st)
		logger.Info("Device reset", "error", v1alpha1.ErrorMessage(st))

	case v1alpha1.Provisioned:
		status.Observe(st)
		alias := v1alpha1.FormatAddress(st.Address)
		if _, err := device.AddAlias(alias); err != nil {
			return fmt.Errorf("failed to add alias %s: %w", alias, err)
		}
		logger.Info("Device provisioned", "address", alias)

	case v1alpha1.Provisioning:
		status.Observe(st)
		if st.Error != nil {
			logger.Info("Provisioning failed", "error", *st.Error)
		}

	default:
		return fmt.Errorf("%w: %T", v1alpha1.ErrUnknownState, event.Status)
	}

	if err := device.SetMeshStatus(status); err != nil {
		return err
	}
	if err := r.registry.UpdateDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	return nil
}
