package v1alpha1

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BtMeshStatus is the provisioning status recorded in the device status.
//
// State and Conditions move together: use Observe to change the state so the
// conditions stay consistent with it.
type BtMeshStatus struct {
	// Address is the unicast address assigned by the mesh, once known
	// +optional
	Address *uint16 `json:"address"`

	// Conditions represent the latest available observations
	// +optional
	Conditions []metav1.Condition `json:"conditions"`

	// State is the provisioning state
	State DeviceState `json:"state"`
}

// NewBtMeshStatus returns the status of a device whose provisioning was just
// requested.
func NewBtMeshStatus() *BtMeshStatus {
	status := &BtMeshStatus{}
	status.Observe(Provisioning{})
	return status
}

// Observe records state and updates the conditions to match it.
//
// Setting a condition that already holds the same status is a no-op apart from
// reason and message, so observing the same state twice changes nothing.
func (s *BtMeshStatus) Observe(state DeviceState) {
	s.State = state

	switch st := state.(type) {
	case Provisioned:
		address := st.Address
		s.Address = &address
		meta.SetStatusCondition(&s.Conditions, metav1.Condition{
			Type:    ConditionProvisioned,
			Status:  metav1.ConditionTrue,
			Reason:  ReasonProvisioned,
			Message: fmt.Sprintf("Device provisioned at address %s", FormatAddress(st.Address)),
		})
		meta.SetStatusCondition(&s.Conditions, metav1.Condition{
			Type:    ConditionProvisioning,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonProvisioned,
			Message: "Provisioning complete",
		})

	case Provisioning:
		meta.SetStatusCondition(&s.Conditions, metav1.Condition{
			Type:    ConditionProvisioning,
			Status:  metav1.ConditionTrue,
			Reason:  ReasonProvisioningPending,
			Message: "Waiting for the gateway to provision the device",
		})
		if st.Error != nil {
			meta.SetStatusCondition(&s.Conditions, metav1.Condition{
				Type:    ConditionProvisioned,
				Status:  metav1.ConditionFalse,
				Reason:  ReasonProvisioningFailed,
				Message: *st.Error,
			})
		}

	case Reset:
		message := "Device removed from the mesh"
		if st.Error != nil {
			message = *st.Error
		}
		meta.SetStatusCondition(&s.Conditions, metav1.Condition{
			Type:    ConditionProvisioned,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonReset,
			Message: message,
		})
		meta.SetStatusCondition(&s.Conditions, metav1.Condition{
			Type:    ConditionProvisioning,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonReset,
			Message: message,
		})
	}
}

// IsProvisioning reports whether the device still needs provisioning.
func (s *BtMeshStatus) IsProvisioning() bool {
	_, ok := s.State.(Provisioning)
	return ok
}

// Condition returns the named condition, or nil if it is not set.
func (s *BtMeshStatus) Condition(conditionType string) *metav1.Condition {
	return meta.FindStatusCondition(s.Conditions, conditionType)
}

type btMeshStatusJSON struct {
	Address    *uint16            `json:"address"`
	Conditions []metav1.Condition `json:"conditions"`
	State      json.RawMessage    `json:"state"`
}

// MarshalJSON encodes the status with a tagged state.
func (s BtMeshStatus) MarshalJSON() ([]byte, error) {
	state := s.State
	if state == nil {
		state = Provisioning{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	conditions := s.Conditions
	if conditions == nil {
		conditions = []metav1.Condition{}
	}
	return json.Marshal(btMeshStatusJSON{
		Address:    s.Address,
		Conditions: conditions,
		State:      raw,
	})
}

// UnmarshalJSON decodes the status and its tagged state.
func (s *BtMeshStatus) UnmarshalJSON(data []byte) error {
	var aux btMeshStatusJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var state DeviceState = Provisioning{}
	if len(aux.State) > 0 && string(aux.State) != "null" {
		st, err := UnmarshalState(aux.State)
		if err != nil {
			return err
		}
		state = st
	}
	*s = BtMeshStatus{
		Address:    aux.Address,
		Conditions: aux.Conditions,
		State:      state,
	}
	return nil
}
