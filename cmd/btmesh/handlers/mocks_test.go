package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/config"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

// fakeRegistry serves devices from memory.
type fakeRegistry struct {
	mu      sync.Mutex
	devices map[string]*v1alpha1.Device
	listErr error
}

func newFakeRegistry(devices ...*v1alpha1.Device) *fakeRegistry {
	r := &fakeRegistry{devices: map[string]*v1alpha1.Device{}}
	for _, d := range devices {
		r.devices[d.Name] = d
	}
	return r
}

func (r *fakeRegistry) ListDevices(_ context.Context, _ string) ([]v1alpha1.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]v1alpha1.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.DeepCopy())
	}
	return out, nil
}

func (r *fakeRegistry) GetDevice(_ context.Context, _, name string) (*v1alpha1.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("device %s not found", name)
	}
	return d.DeepCopy(), nil
}

func (r *fakeRegistry) UpdateDevice(_ context.Context, device *v1alpha1.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.Name] = device.DeepCopy()
	return nil
}

// meshDevice builds a registry device with a btmesh section and, when state
// is set, a recorded status.
func meshDevice(name, id string, state v1alpha1.DeviceState) *v1alpha1.Device {
	d := &v1alpha1.Device{}
	d.Name = name
	d.Application = "app1"
	if err := d.Spec.Set(v1alpha1.SectionBtMesh, v1alpha1.BtMeshSpec{Device: id}); err != nil {
		panic(err)
	}
	if state != nil {
		status := &v1alpha1.BtMeshStatus{}
		status.Observe(state)
		if err := d.SetMeshStatus(status); err != nil {
			panic(err)
		}
	}
	return d
}

func deleting(d *v1alpha1.Device) *v1alpha1.Device {
	now := metav1.NewTime(time.Now())
	d.DeletionTimestamp = &now
	return d
}

// testConfig returns a configuration valid for both processes, running on the
// in-memory transport with the HTTP endpoints disabled.
func testConfig() *config.Config {
	return &config.Config{
		Application: "app1",
		Transport:   config.TransportConfig{Kind: config.TransportMemory},
		Registry:    config.RegistryConfig{URL: "http://registry.test", Timeout: time.Second},
		Operator:    config.OperatorConfig{Interval: time.Second, Finalizer: "btmesh"},
		Gateway: config.GatewayConfig{
			Token:              "0123456789abcdef",
			StartAddress:       0x00aa,
			CommandTopic:       "command/app1/+/btmesh",
			ProvisionTimeout:   time.Minute,
			MaxConcurrentBinds: 1,
		},
		Metrics: config.MetricsConfig{BindAddress: "0", ProbeAddress: "0"},
	}
}

// stubConfig makes loadConfigFile return cfg until the test ends.
func stubConfig(t interface{ Cleanup(func()) }, cfg *config.Config, err error) {
	orig := loadConfigFile
	loadConfigFile = func(string) (*config.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfigFile = orig })
}

// fakeNode is a mesh stack where every device joins at a fixed address.
type fakeNode struct {
	mu         sync.Mutex
	ops        []string
	address    mesh.Address
	unregister chan struct{}

	outcomes chan mesh.ProvisionerMessage
	elements chan mesh.ElementMessage
}

func newFakeNode(address mesh.Address) *fakeNode {
	return &fakeNode{
		address:    address,
		unregister: make(chan struct{}),
		outcomes:   make(chan mesh.ProvisionerMessage, 8),
		elements:   make(chan mesh.ElementMessage, 8),
	}
}

func (n *fakeNode) record(op string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
}

func (n *fakeNode) Ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}

func (n *fakeNode) Outcomes() <-chan mesh.ProvisionerMessage { return n.outcomes }
func (n *fakeNode) Elements() <-chan mesh.ElementMessage     { return n.elements }

func (n *fakeNode) AddNode(_ context.Context, device uuid.UUID) error {
	n.record("add-node")
	n.outcomes <- mesh.AddNodeComplete{UUID: device, Unicast: n.address, Count: 1}
	return nil
}

func (n *fakeNode) Reset(_ context.Context, address mesh.Address) error {
	n.record("reset " + address.String())
	return nil
}

func (n *fakeNode) AddAppKey(_ context.Context, address mesh.Address, _, _ uint16) error {
	n.record("add-app-key " + address.String())
	return nil
}

func (n *fakeNode) Bind(_ context.Context, address mesh.Address, _ uint16, model mesh.ModelID) error {
	n.record(fmt.Sprintf("bind %s %s", address, model))
	return nil
}

func (n *fakeNode) PubSet(_ context.Context, address mesh.Address, pub mesh.Publication) error {
	n.record(fmt.Sprintf("pub-set %s %s", address, pub.Model))
	return nil
}

func (n *fakeNode) Unregister(context.Context) error {
	n.record("unregister")
	close(n.unregister)
	return nil
}
