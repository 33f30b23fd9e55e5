package controller

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/platform/drogue"
)

// MockRegistry is an in-memory registry for testing. Devices are stored by
// name; updates bump the resourceVersion and fail with a conflict when the
// caller's version is stale.
type MockRegistry struct {
	mu      sync.Mutex
	devices map[string]*v1alpha1.Device

	// Configurable responses
	ListDevicesFunc  func(ctx context.Context, application string) ([]v1alpha1.Device, error)
	GetDeviceFunc    func(ctx context.Context, application, name string) (*v1alpha1.Device, error)
	UpdateDeviceFunc func(ctx context.Context, device *v1alpha1.Device) error

	// Call tracking
	ListDevicesCalls  int
	GetDeviceCalls    []string
	UpdateDeviceCalls []*v1alpha1.Device
}

func newMockRegistry(devices ...*v1alpha1.Device) *MockRegistry {
	m := &MockRegistry{devices: map[string]*v1alpha1.Device{}}
	for _, d := range devices {
		m.Put(d)
	}
	return m
}

// Put stores a copy of device, assigning a resourceVersion if it has none.
func (m *MockRegistry) Put(device *v1alpha1.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := device.DeepCopy()
	if d.ResourceVersion == "" {
		d.ResourceVersion = "1"
	}
	m.devices[d.Name] = d
}

// Device returns a copy of the stored device.
func (m *MockRegistry) Device(name string) *v1alpha1.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[name]
	if !ok {
		return nil
	}
	return d.DeepCopy()
}

func (m *MockRegistry) ListDevices(ctx context.Context, application string) ([]v1alpha1.Device, error) {
	m.mu.Lock()
	m.ListDevicesCalls++
	m.mu.Unlock()

	if m.ListDevicesFunc != nil {
		return m.ListDevicesFunc(ctx, application)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]v1alpha1.Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRegistry) GetDevice(ctx context.Context, application, name string) (*v1alpha1.Device, error) {
	m.mu.Lock()
	m.GetDeviceCalls = append(m.GetDeviceCalls, name)
	m.mu.Unlock()

	if m.GetDeviceFunc != nil {
		return m.GetDeviceFunc(ctx, application, name)
	}

	d := m.Device(name)
	if d == nil {
		return nil, &drogue.StatusError{Operation: "get", StatusCode: 404}
	}
	return d, nil
}

func (m *MockRegistry) UpdateDevice(ctx context.Context, device *v1alpha1.Device) error {
	m.mu.Lock()
	m.UpdateDeviceCalls = append(m.UpdateDeviceCalls, device.DeepCopy())
	m.mu.Unlock()

	if m.UpdateDeviceFunc != nil {
		return m.UpdateDeviceFunc(ctx, device)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.devices[device.Name]
	if !ok {
		return &drogue.StatusError{Operation: "update", StatusCode: 404}
	}
	if stored.ResourceVersion != device.ResourceVersion {
		return &drogue.StatusError{Operation: "update", StatusCode: 409}
	}
	version, _ := strconv.Atoi(stored.ResourceVersion)
	d := device.DeepCopy()
	d.ResourceVersion = strconv.Itoa(version + 1)
	if d.IsDeleting() && len(d.Finalizers) == 0 {
		delete(m.devices, d.Name)
		return nil
	}
	m.devices[d.Name] = d
	return nil
}

func (m *MockRegistry) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UpdateDeviceCalls)
}

// PublishCall tracks arguments to Publish.
type PublishCall struct {
	Topic   string
	Payload []byte
}

// Command decodes the published payload.
func (c PublishCall) Command() v1alpha1.Command {
	cmd, err := v1alpha1.ParseCommand(c.Payload)
	if err != nil {
		return nil
	}
	return cmd
}

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu sync.Mutex

	// Configurable responses
	PublishFunc func(ctx context.Context, topic string, payload []byte) error

	// Call tracking
	PublishCalls []PublishCall
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	m.PublishCalls = append(m.PublishCalls, PublishCall{Topic: topic, Payload: append([]byte(nil), payload...)})
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, payload)
	}
	return nil
}

func (m *MockPublisher) calls() []PublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishCall(nil), m.PublishCalls...)
}

func (m *MockPublisher) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishCalls = nil
}

// meshDevice builds a registry device with a btmesh section.
func meshDevice(name, uuid string) *v1alpha1.Device {
	d := &v1alpha1.Device{}
	d.Application = testApplication
	d.Name = name
	d.Spec = v1alpha1.Sections{
		v1alpha1.SectionBtMesh: json.RawMessage(`{"device":"` + uuid + `"}`),
	}
	return d
}

// withStatus records state on the device.
func withStatus(d *v1alpha1.Device, state v1alpha1.DeviceState) *v1alpha1.Device {
	status := &v1alpha1.BtMeshStatus{}
	status.Observe(state)
	if err := d.SetMeshStatus(status); err != nil {
		panic(err)
	}
	return d
}
