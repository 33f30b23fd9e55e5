package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrMalformedCommand is returned for command payloads that cannot be decoded.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrUnknownCommand is returned for commands with an unknown type tag.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformedEvent is returned for event payloads that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed event")
)

// EventChannel is the channel gateway status events are published on.
const EventChannel = "btmesh"

// CommandTopic returns the topic commands for a device are published on.
func CommandTopic(application, device string) string {
	return fmt.Sprintf("command/%s/%s/%s", application, device, EventChannel)
}

// CommandFilter returns the topic filter matching commands for every device of
// an application.
func CommandFilter(application string) string {
	return fmt.Sprintf("command/%s/+/%s", application, EventChannel)
}

// ApplicationTopic returns the topic registry change and device event
// envelopes of an application are delivered on.
func ApplicationTopic(application string) string {
	return "app/" + application
}

// EventTopic returns the topic status events for a mesh device are published on.
func EventTopic(device uuid.UUID) string {
	return EventChannel + "/" + SimpleUUID(device)
}

// SimpleUUID renders a UUID as 32 lowercase hex digits without separators.
func SimpleUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// CommandType is the wire tag of a Command.
type CommandType string

const (
	CommandProvision CommandType = "provision"
	CommandReset     CommandType = "reset"
)

// Command is a request from the operator to the gateway. The set of variants
// is closed: ProvisionCommand and ResetCommand.
type Command interface {
	CommandType() CommandType
	isCommand()
}

// ProvisionCommand asks the gateway to add the device with the given UUID to
// the mesh.
type ProvisionCommand struct {
	Device string
}

// ResetCommand asks the gateway to remove the node at Address from the mesh.
// Device identifies the mesh device so the outcome can be routed back.
type ResetCommand struct {
	Address uint16
	Device  string
}

func (ProvisionCommand) CommandType() CommandType { return CommandProvision }
func (ResetCommand) CommandType() CommandType     { return CommandReset }

func (ProvisionCommand) isCommand() {}
func (ResetCommand) isCommand()     {}

// MarshalJSON encodes the command with its type tag.
func (c ProvisionCommand) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Command CommandType `json:"command"`
		Device  string      `json:"device"`
	}{CommandProvision, c.Device})
}

// MarshalJSON encodes the command with its type tag.
func (c ResetCommand) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Command CommandType `json:"command"`
		Address uint16      `json:"address"`
		Device  string      `json:"device,omitempty"`
	}{CommandReset, c.Address, c.Device})
}

type commandFields struct {
	Command CommandType `json:"command"`
	Device  string      `json:"device"`
	Address *uint16     `json:"address"`
}

// ParseCommand decodes a command payload.
func ParseCommand(data []byte) (Command, error) {
	var f commandFields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	switch f.Command {
	case CommandProvision:
		if f.Device == "" {
			return nil, fmt.Errorf("%w: provision without device", ErrMalformedCommand)
		}
		return ProvisionCommand{Device: f.Device}, nil
	case CommandReset:
		if f.Address == nil {
			return nil, fmt.Errorf("%w: reset without address", ErrMalformedCommand)
		}
		return ResetCommand{Address: *f.Address, Device: f.Device}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, f.Command)
	}
}

// Event is a status report from the gateway about one device.
type Event struct {
	Status DeviceState
}

// MarshalJSON encodes the event.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedEvent)
	}
	raw, err := json.Marshal(e.Status)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Status json.RawMessage `json:"status"`
	}{raw})
}

// ParseEvent decodes an event payload.
func ParseEvent(data []byte) (*Event, error) {
	var aux struct {
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if len(aux.Status) == 0 || string(aux.Status) == "null" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedEvent)
	}
	state, err := UnmarshalState(aux.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return &Event{Status: state}, nil
}

// UnmarshalJSON decodes an event payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEvent(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}
