package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/platform/drogue"
)

// reconcileDevice applies the sweep decision to one mesh device and persists
// the device if the finalizers or the status changed. It returns the state
// label the device was counted under.
func (r *DeviceReconciler) reconcileDevice(ctx context.Context, device *v1alpha1.Device) (string, error) {
	logger := log.FromContext(ctx)

	spec, _, err := device.MeshSpec()
	if err != nil {
		return "invalid", fmt.Errorf("invalid mesh spec: %w", err)
	}

	status, hasStatus, err := device.MeshStatus()
	if err != nil {
		logger.Info("Replacing unreadable mesh status", "error", err.Error())
		hasStatus = false
	}
	if !hasStatus {
		status = v1alpha1.NewBtMeshStatus()
	}
	changed := !hasStatus
	label := stateLabel(status.State)

	switch {
	case !device.IsDeleting():
		if controllerutil.AddFinalizer(device, r.finalizer) {
			logger.V(1).Info("Added finalizer", "finalizer", r.finalizer)
			changed = true
		}
		if status.IsProvisioning() {
			r.sendCommand(ctx, device, v1alpha1.ProvisionCommand{Device: spec.Device})
		}

	case !controllerutil.ContainsFinalizer(device, r.finalizer):
		// Already released; the registry removes the record.
		return "deleting", nil

	case status.Address != nil:
		label = "deleting"
		r.sendCommand(ctx, device, v1alpha1.ResetCommand{Address: *status.Address, Device: spec.Device})

	default:
		// A Provision may still be in flight; the finalizer stays until a
		// Provisioned event records the address the next sweep resets.
		label = "deleting"
		logger.V(1).Info("Deleting device has no address yet, waiting")
	}

	if !changed {
		return label, nil
	}
	if err := device.SetMeshStatus(status); err != nil {
		return label, err
	}
	if err := r.registry.UpdateDevice(ctx, device); err != nil {
		if drogue.IsConflict(err) {
			logger.V(1).Info("Device changed concurrently, retrying next sweep")
			return label, nil
		}
		return label, fmt.Errorf("failed to update device: %w", err)
	}
	return label, nil
}

// sendCommand publishes cmd on the command topic of device. Failures are
// logged; the next sweep sends the command again.
func (r *DeviceReconciler) sendCommand(ctx context.Context, device *v1alpha1.Device, cmd v1alpha1.Command) {
	logger := log.FromContext(ctx)
	command := string(cmd.CommandType())

	payload, err := json.Marshal(cmd)
	if err != nil {
		logger.Error(err, "Failed to encode command", "command", command)
		r.recordCommand(command, "error")
		return
	}

	topic := v1alpha1.CommandTopic(r.application, device.Name)
	if err := r.publisher.Publish(ctx, topic, payload); err != nil {
		logger.Error(err, "Failed to send command", "command", command, "topic", topic)
		r.recordCommand(command, "error")
		return
	}
	logger.V(1).Info("Sent command", "command", command, "topic", topic)
	r.recordCommand(command, "success")
}

func stateLabel(state v1alpha1.DeviceState) string {
	switch state.(type) {
	case v1alpha1.Provisioned:
		return "provisioned"
	case v1alpha1.Reset:
		return "reset"
	default:
		return "provisioning"
	}
}
