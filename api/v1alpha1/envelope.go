package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"

	cloudevent "github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"
)

// ErrMalformedEnvelope is returned when an inbound message is not a valid
// CloudEvent.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Subjects of inbound application events.
const (
	// SubjectDevices signals that registry membership changed.
	SubjectDevices = "devices"
	// SubjectBtMesh carries a gateway status event for one device.
	SubjectBtMesh = EventChannel
)

// CloudEvent extension attributes set by the cloud endpoint.
const (
	ExtensionApplication = "application"
	ExtensionDevice      = "device"
)

// EventType is the CloudEvent type of device events.
const EventType = "io.drogue.event.v1"

// Envelope is an inbound application event as delivered by the transport.
type Envelope struct {
	Subject     string
	Application string
	Device      string
	Data        []byte
}

// ParseEnvelope decodes a structured-mode CloudEvent.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	ce := cloudevent.New()
	if err := json.Unmarshal(payload, &ce); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	env := &Envelope{
		Subject: ce.Subject(),
		Data:    ce.Data(),
	}
	ext := ce.Extensions()
	if v, ok := ext[ExtensionDevice]; ok {
		s, err := types.ToString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: device attribute: %w", ErrMalformedEnvelope, err)
		}
		env.Device = s
	}
	if v, ok := ext[ExtensionApplication]; ok {
		if s, err := types.ToString(v); err == nil {
			env.Application = s
		}
	}
	return env, nil
}

// Event decodes the envelope data as a gateway status event.
func (e *Envelope) Event() (*Event, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformedEvent)
	}
	return ParseEvent(e.Data)
}

// NewEnvelope wraps data into a structured-mode CloudEvent the way the cloud
// endpoint does for messages received from devices.
func NewEnvelope(application, device, subject string, data []byte) ([]byte, error) {
	ce := cloudevent.New()
	ce.SetID(uuid.NewString())
	ce.SetSource(fmt.Sprintf("drogue://%s/%s", application, device))
	ce.SetType(EventType)
	ce.SetSubject(subject)
	ce.SetExtension(ExtensionApplication, application)
	ce.SetExtension(ExtensionDevice, device)
	if data != nil {
		if err := ce.SetData(cloudevent.ApplicationJSON, json.RawMessage(data)); err != nil {
			return nil, fmt.Errorf("failed to set event data: %w", err)
		}
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return json.Marshal(ce)
}
