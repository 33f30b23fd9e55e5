package provisioner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

// MockNode is a mesh.Node for testing. Every call is appended to an
// operation log; behavior is configurable per method.
type MockNode struct {
	mu  sync.Mutex
	ops []string

	active    int
	maxActive int

	// Configurable responses
	AddNodeFunc    func(ctx context.Context, device uuid.UUID) error
	ResetFunc      func(ctx context.Context, address mesh.Address) error
	AddAppKeyFunc  func(ctx context.Context, address mesh.Address, appIndex, netIndex uint16) error
	BindFunc       func(ctx context.Context, address mesh.Address, appIndex uint16, model mesh.ModelID) error
	PubSetFunc     func(ctx context.Context, address mesh.Address, pub mesh.Publication) error
	UnregisterFunc func(ctx context.Context) error

	// Call tracking
	PubSetCalls     []mesh.Publication
	UnregisterCalls int
}

func (m *MockNode) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

// enter tracks how many configuration calls run at the same time.
func (m *MockNode) enter() func() {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}
}

// Ops returns a copy of the operation log.
func (m *MockNode) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// MaxActive returns the highest number of overlapping configuration calls.
func (m *MockNode) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

func (m *MockNode) AddNode(ctx context.Context, device uuid.UUID) error {
	m.record("add-node " + device.String())
	if m.AddNodeFunc != nil {
		return m.AddNodeFunc(ctx, device)
	}
	return nil
}

func (m *MockNode) Reset(ctx context.Context, address mesh.Address) error {
	m.record("reset " + address.String())
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, address)
	}
	return nil
}

func (m *MockNode) AddAppKey(ctx context.Context, address mesh.Address, appIndex, netIndex uint16) error {
	defer m.enter()()
	m.record(fmt.Sprintf("add-app-key %s %d %d", address, appIndex, netIndex))
	if m.AddAppKeyFunc != nil {
		return m.AddAppKeyFunc(ctx, address, appIndex, netIndex)
	}
	return nil
}

func (m *MockNode) Bind(ctx context.Context, address mesh.Address, appIndex uint16, model mesh.ModelID) error {
	defer m.enter()()
	m.record(fmt.Sprintf("bind %s %s", address, model))
	if m.BindFunc != nil {
		return m.BindFunc(ctx, address, appIndex, model)
	}
	return nil
}

func (m *MockNode) PubSet(ctx context.Context, address mesh.Address, pub mesh.Publication) error {
	defer m.enter()()
	m.record(fmt.Sprintf("pub-set %s %s", address, pub.Model))
	m.mu.Lock()
	m.PubSetCalls = append(m.PubSetCalls, pub)
	m.mu.Unlock()
	if m.PubSetFunc != nil {
		return m.PubSetFunc(ctx, address, pub)
	}
	return nil
}

func (m *MockNode) Unregister(ctx context.Context) error {
	m.mu.Lock()
	m.UnregisterCalls++
	m.mu.Unlock()
	m.record("unregister")
	if m.UnregisterFunc != nil {
		return m.UnregisterFunc(ctx)
	}
	return nil
}

// PublishedEvent is one event sent by the sequencer.
type PublishedEvent struct {
	Topic string
	State v1alpha1.DeviceState
}

// MockPublisher decodes published events and hands them out on Events.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, payload []byte) error

	Events chan PublishedEvent
}

func newMockPublisher() *MockPublisher {
	return &MockPublisher{Events: make(chan PublishedEvent, 64)}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, payload); err != nil {
			return err
		}
	}
	event, err := v1alpha1.ParseEvent(payload)
	if err != nil {
		return err
	}
	m.Events <- PublishedEvent{Topic: topic, State: event.Status}
	return nil
}
