package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownState is returned when a state carries an unknown type tag.
	ErrUnknownState = errors.New("unknown device state")
	// ErrMalformedState is returned when a state is missing required fields.
	ErrMalformedState = errors.New("malformed device state")
)

// StateType is the wire tag of a DeviceState variant.
type StateType string

const (
	StateProvisioning StateType = "provisioning"
	StateProvisioned  StateType = "provisioned"
	StateReset        StateType = "reset"
)

// DeviceState is the provisioning state of a device. The set of variants is
// closed: Provisioning, Provisioned and Reset.
type DeviceState interface {
	Type() StateType
	isDeviceState()
}

// Provisioning means provisioning is requested. Error is set when the last
// attempt failed.
type Provisioning struct {
	Error *string
}

// Provisioned means the device joined the mesh at Address.
type Provisioned struct {
	Address uint16
}

// Reset means the device was removed from the mesh. Error is set when the
// node reset failed on the gateway.
type Reset struct {
	Error  *string
	Device string
}

func (Provisioning) Type() StateType { return StateProvisioning }
func (Provisioned) Type() StateType  { return StateProvisioned }
func (Reset) Type() StateType        { return StateReset }

func (Provisioning) isDeviceState() {}
func (Provisioned) isDeviceState()  {}
func (Reset) isDeviceState()        {}

// MarshalJSON encodes the state with its type tag.
func (s Provisioning) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  StateType `json:"type"`
		Error *string   `json:"error"`
	}{StateProvisioning, s.Error})
}

// MarshalJSON encodes the state with its type tag.
func (s Provisioned) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    StateType `json:"type"`
		Address uint16    `json:"address"`
	}{StateProvisioned, s.Address})
}

// MarshalJSON encodes the state with its type tag.
func (s Reset) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   StateType `json:"type"`
		Error  *string   `json:"error"`
		Device string    `json:"device,omitempty"`
	}{StateReset, s.Error, s.Device})
}

type stateFields struct {
	Type    StateType `json:"type"`
	Error   *string   `json:"error"`
	Address *uint16   `json:"address"`
	Device  string    `json:"device"`
}

// UnmarshalState decodes a tagged device state.
func UnmarshalState(data []byte) (DeviceState, error) {
	var f stateFields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}
	switch f.Type {
	case StateProvisioning:
		return Provisioning{Error: f.Error}, nil
	case StateProvisioned:
		if f.Address == nil {
			return nil, fmt.Errorf("%w: provisioned state without address", ErrMalformedState)
		}
		return Provisioned{Address: *f.Address}, nil
	case StateReset:
		return Reset{Error: f.Error, Device: f.Device}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedState)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, f.Type)
	}
}

// ErrorMessage returns the error text carried by a state, or "" if none.
func ErrorMessage(s DeviceState) string {
	switch st := s.(type) {
	case Provisioning:
		if st.Error != nil {
			return *st.Error
		}
	case Reset:
		if st.Error != nil {
			return *st.Error
		}
	case Provisioned:
	}
	return ""
}

// FormatAddress renders a unicast address the way it appears in device aliases.
func FormatAddress(address uint16) string {
	return fmt.Sprintf("0x%04x", address)
}
