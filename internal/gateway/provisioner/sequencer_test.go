package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/transport/mocks"
)

var (
	deviceA = uuid.MustParse("8f3b0c4e-2d61-4a8e-9b1c-5e7f10a2b3c4")
	deviceB = uuid.MustParse("1c2d3e4f-5a6b-4c7d-8e9f-a0b1c2d3e4f5")
)

type harness struct {
	node     *MockNode
	outcomes chan mesh.ProvisionerMessage
	elements chan mesh.ElementMessage
	commands chan transport.Message

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startSequencer(t *testing.T, node *MockNode, publisher Publisher, opts ...Option) *harness {
	t.Helper()

	opts = append([]Option{WithSettler(InstantSettler{}), WithDrainDelay(0)}, opts...)
	s := New(node, publisher, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		node:     node,
		outcomes: make(chan mesh.ProvisionerMessage, 8),
		elements: make(chan mesh.ElementMessage, 8),
		commands: make(chan transport.Message, 8),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.err = s.Run(ctx, h.outcomes, h.elements, h.commands)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) send(t *testing.T, cmd v1alpha1.Command) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	h.commands <- transport.Message{Topic: "command/app1/device", Payload: payload}
}

// provision sends a provision command and waits until the node was asked to
// add the device, so a following outcome finds it pending.
func (h *harness) provision(t *testing.T, device uuid.UUID) {
	t.Helper()
	before := countOps(h.node, "add-node "+device.String())
	h.send(t, v1alpha1.ProvisionCommand{Device: device.String()})
	NewWithT(t).Eventually(func() int {
		return countOps(h.node, "add-node "+device.String())
	}).Should(BeNumerically(">", before))
}

func receiveEvent(t *testing.T, publisher *MockPublisher) PublishedEvent {
	t.Helper()
	select {
	case event := <-publisher.Events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return PublishedEvent{}
	}
}

func countOps(node *MockNode, prefix string) int {
	n := 0
	for _, op := range node.Ops() {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New(&MockNode{}, newMockPublisher(),
		WithProvisionTimeout(0), WithMaxConcurrentBinds(0), WithSettler(nil), WithPublishLabel(uuid.Nil))
	assert.Equal(t, defaultProvisionTimeout, s.provisionTimeout)
	assert.Equal(t, defaultDrainDelay, s.drainDelay)
	assert.Equal(t, int64(defaultMaxConcurrentBinds), s.maxBinds)
	assert.Equal(t, DefaultSettler(), s.settler)
	assert.Equal(t, mesh.DefaultPublishLabel, s.publishLabel)
	assert.False(t, s.enableMetrics)
}

func TestSequencer_Provision(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	h.provision(t, deviceA)
	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x00aa, Count: 1}

	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.EventTopic(deviceA), event.Topic)
	assert.Equal(t, v1alpha1.Provisioned{Address: 0x00aa}, event.State)

	assert.Equal(t, []string{
		"add-node " + deviceA.String(),
		"add-app-key 0x00aa 0 0",
		"bind 0x00aa SensorSetupServer",
		"bind 0x00aa GenericOnOffServer",
		"bind 0x00aa GenericBatteryServer",
		"pub-set 0x00aa SensorSetupServer",
		"pub-set 0x00aa GenericBatteryServer",
	}, h.node.Ops())
}

func TestSequencer_PublicationParameters(t *testing.T) {
	t.Parallel()

	label := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	publisher := newMockPublisher()
	node := &MockNode{}
	h := startSequencer(t, node, publisher, WithPublishLabel(label))

	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x0010, Count: 1}
	receiveEvent(t, publisher)

	node.mu.Lock()
	defer node.mu.Unlock()
	require.Len(t, node.PubSetCalls, 2)

	sensor, battery := node.PubSetCalls[0], node.PubSetCalls[1]
	assert.Equal(t, mesh.SensorSetupServer, sensor.Model)
	assert.Equal(t, 4*time.Second, sensor.Period.Duration())
	assert.Equal(t, mesh.GenericBatteryServer, battery.Model)
	assert.Equal(t, 60*time.Second, battery.Period.Duration())

	for _, pub := range node.PubSetCalls {
		assert.Equal(t, label, pub.Label)
		assert.Equal(t, mesh.DefaultTTL, pub.TTL)
		assert.Equal(t, uint8(5), pub.Retransmit.Count)
		assert.Equal(t, uint16(0), pub.AppIndex)
	}
}

type recordingSettler struct {
	mu     sync.Mutex
	stages []Stage
}

func (r *recordingSettler) Settle(ctx context.Context, stage Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	return ctx.Err()
}

func TestSequencer_SettlesBetweenSteps(t *testing.T) {
	t.Parallel()

	settler := &recordingSettler{}
	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher, WithSettler(settler))

	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x0010, Count: 1}
	receiveEvent(t, publisher)

	settler.mu.Lock()
	defer settler.mu.Unlock()
	assert.Equal(t, []Stage{
		StageInitial,
		StageStep, StageStep, StageStep, StageStep, StageStep,
		StageFinal,
	}, settler.stages)
}

func TestSequencer_DuplicateProvisionDropped(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	h := startSequencer(t, &MockNode{}, newMockPublisher())

	h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})
	h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})

	g.Eventually(func() int { return countOps(h.node, "add-node") }).Should(Equal(1))
	g.Consistently(func() int { return countOps(h.node, "add-node") }, 100*time.Millisecond).Should(Equal(1))
}

func TestSequencer_AddNodeError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	publisher := newMockPublisher()
	node := &MockNode{
		AddNodeFunc: func(context.Context, uuid.UUID) error {
			return errors.New("busy")
		},
	}
	h := startSequencer(t, node, publisher)

	h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})
	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.EventTopic(deviceA), event.Topic)
	assert.Equal(t, v1alpha1.Provisioning{Error: ptrTo("busy")}, event.State)

	// The pending entry is released, so a later retry is accepted.
	g.Eventually(func() int {
		h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})
		return countOps(node, "add-node")
	}).Should(BeNumerically(">=", 2))
}

func TestSequencer_DuplicateDuringAddNodeDropped(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	release := make(chan struct{})
	publisher := newMockPublisher()
	node := &MockNode{
		AddNodeFunc: func(ctx context.Context, _ uuid.UUID) error {
			select {
			case <-release:
				return errors.New("busy")
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	h := startSequencer(t, node, publisher)

	h.provision(t, deviceA)
	h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})
	g.Consistently(func() int { return countOps(node, "add-node") }, 100*time.Millisecond).Should(Equal(1))

	close(release)
	assert.Equal(t, v1alpha1.Provisioning{Error: ptrTo("busy")}, receiveEvent(t, publisher).State)

	// A resend after AddNode returned is accepted again.
	g.Eventually(func() int {
		h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})
		return countOps(node, "add-node")
	}).Should(BeNumerically(">=", 2))
}

func TestSequencer_AddNodeCanceledOnShutdown(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	node := &MockNode{
		AddNodeFunc: func(ctx context.Context, _ uuid.UUID) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	h := startSequencer(t, node, publisher)

	h.provision(t, deviceA)
	h.stop()

	require.NoError(t, h.err)
	assert.Empty(t, publisher.Events, "shutdown must not be reported as a provisioning failure")
}

func TestSequencer_AddNodeFailed(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	h.provision(t, deviceA)
	h.outcomes <- mesh.AddNodeFailed{UUID: deviceA, Reason: "capability-failed"}

	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.EventTopic(deviceA), event.Topic)
	assert.Equal(t, v1alpha1.Provisioning{Error: ptrTo("capability-failed")}, event.State)
	assert.Equal(t, 0, countOps(h.node, "bind"))
}

func TestSequencer_AddNodeFailedWithoutPending(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	h.outcomes <- mesh.AddNodeFailed{UUID: deviceB, Reason: "timeout"}

	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.EventTopic(deviceB), event.Topic)
	assert.Equal(t, v1alpha1.Provisioning{Error: ptrTo("timeout")}, event.State)
}

func TestSequencer_ProvisionTimeout(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher, WithProvisionTimeout(50*time.Millisecond))

	h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})

	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.Provisioning{Error: ptrTo("provisioning timed out")}, event.State)
}

func TestSequencer_BindFailureIsolated(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	node := &MockNode{
		BindFunc: func(_ context.Context, address mesh.Address, _ uint16, model mesh.ModelID) error {
			if address == 0x00aa && model == mesh.GenericOnOffServer {
				return &mesh.OperationError{Op: "bind", Address: address, Err: errors.New("no ack")}
			}
			return nil
		},
	}
	h := startSequencer(t, node, publisher, WithMaxConcurrentBinds(2))

	h.provision(t, deviceA)
	h.provision(t, deviceB)
	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x00aa, Count: 1}
	h.outcomes <- mesh.AddNodeComplete{UUID: deviceB, Unicast: 0x00ab, Count: 1}

	events := map[string]v1alpha1.DeviceState{}
	for range 2 {
		event := receiveEvent(t, publisher)
		events[event.Topic] = event.State
	}

	failed := events[v1alpha1.EventTopic(deviceA)]
	require.IsType(t, v1alpha1.Provisioning{}, failed)
	assert.Contains(t, v1alpha1.ErrorMessage(failed), "bind GenericOnOffServer")
	assert.Contains(t, v1alpha1.ErrorMessage(failed), "no ack")

	assert.Equal(t, v1alpha1.Provisioned{Address: 0x00ab}, events[v1alpha1.EventTopic(deviceB)])
	assert.Equal(t, 0, countOps(node, "pub-set 0x00aa"))
}

func TestSequencer_RecoversTaskPanic(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	node := &MockNode{
		AddAppKeyFunc: func(context.Context, mesh.Address, uint16, uint16) error {
			panic("stack gone")
		},
	}
	h := startSequencer(t, node, publisher)

	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x00aa, Count: 1}

	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.EventTopic(deviceA), event.Topic)
	assert.Contains(t, v1alpha1.ErrorMessage(event.State), "stack gone")

	// The loop survives and keeps serving other devices.
	h.send(t, v1alpha1.ResetCommand{Address: 0x0010, Device: deviceB.String()})
	event = receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.Reset{Device: deviceB.String()}, event.State)
}

func TestSequencer_StandaloneOutcome(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	h.outcomes <- mesh.AddNodeComplete{UUID: deviceB, Unicast: 0x00b0, Count: 2}

	event := receiveEvent(t, publisher)
	assert.Equal(t, v1alpha1.EventTopic(deviceB), event.Topic)
	assert.Equal(t, v1alpha1.Provisioned{Address: 0x00b0}, event.State)
	assert.Equal(t, 0, countOps(h.node, "add-node"))
}

func TestSequencer_Reset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		device    string
		resetErr  error
		wantTopic string
		wantState v1alpha1.DeviceState
	}{
		{
			name:      "success",
			device:    deviceA.String(),
			wantTopic: v1alpha1.EventTopic(deviceA),
			wantState: v1alpha1.Reset{Device: deviceA.String()},
		},
		{
			name:      "failure",
			device:    deviceA.String(),
			resetErr:  errors.New("no route"),
			wantTopic: v1alpha1.EventTopic(deviceA),
			wantState: v1alpha1.Reset{Device: deviceA.String(), Error: ptrTo("no route")},
		},
		{
			name:      "without device",
			wantTopic: v1alpha1.EventChannel,
			wantState: v1alpha1.Reset{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			publisher := newMockPublisher()
			node := &MockNode{
				ResetFunc: func(context.Context, mesh.Address) error { return tt.resetErr },
			}
			h := startSequencer(t, node, publisher)

			h.send(t, v1alpha1.ResetCommand{Address: 0x00aa, Device: tt.device})

			event := receiveEvent(t, publisher)
			assert.Equal(t, tt.wantTopic, event.Topic)
			assert.Equal(t, tt.wantState, event.State)
			assert.Equal(t, 1, countOps(node, "reset 0x00aa"))
		})
	}
}

func TestSequencer_MalformedCommandsDropped(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	h.commands <- transport.Message{Topic: "command/app1/x", Payload: []byte("not json")}
	h.commands <- transport.Message{Topic: "command/app1/x", Payload: []byte(`{"command":"reboot"}`)}
	h.send(t, v1alpha1.ProvisionCommand{Device: "not-a-uuid"})
	h.send(t, v1alpha1.ResetCommand{Address: 0x0010})

	event := receiveEvent(t, publisher)
	assert.IsType(t, v1alpha1.Reset{}, event.State)
	assert.Equal(t, []string{"reset 0x0010"}, h.node.Ops())
}

func TestSequencer_ElementMessages(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	h.elements <- mesh.ElementMessage{Source: 0x10, DevKey: true, Data: []byte{0x80, 0x03, 0x00, 0x00, 0x00, 0x00}}
	h.elements <- mesh.ElementMessage{Source: 0x10, DevKey: true, Data: []byte{0x80}}
	h.elements <- mesh.ElementMessage{Source: 0x10, Data: []byte{0x82, 0x04}}
	close(h.elements)

	// A closed element source does not end the loop.
	h.send(t, v1alpha1.ResetCommand{Address: 0x0010})
	receiveEvent(t, publisher)
	assert.Empty(t, publisher.Events)
}

func TestSequencer_StopsWhenCommandsClose(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher)

	// An accepted provisioning is still waiting for its outcome.
	h.send(t, v1alpha1.ProvisionCommand{Device: deviceA.String()})
	g.Eventually(func() int { return countOps(h.node, "add-node") }).Should(Equal(1))

	close(h.commands)
	g.Eventually(h.done).Should(BeClosed())
	require.NoError(t, h.err)

	ops := h.node.Ops()
	assert.Equal(t, "unregister", ops[len(ops)-1])
	assert.Equal(t, 1, h.node.UnregisterCalls)
	assert.Empty(t, publisher.Events)
}

func TestSequencer_StopsWhenOutcomesClose(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	node := &MockNode{
		UnregisterFunc: func(ctx context.Context) error {
			return ctx.Err()
		},
	}
	h := startSequencer(t, node, newMockPublisher())

	close(h.outcomes)
	g.Eventually(h.done).Should(BeClosed())
	require.NoError(t, h.err)
	assert.Equal(t, 1, node.UnregisterCalls)
}

func TestSequencer_UnregisterError(t *testing.T) {
	t.Parallel()

	node := &MockNode{
		UnregisterFunc: func(context.Context) error {
			return errors.New("bus closed")
		},
	}
	h := startSequencer(t, node, newMockPublisher())

	h.stop()
	assert.EqualError(t, h.err, "bus closed")
}

func TestSequencer_BindsSerialized(t *testing.T) {
	t.Parallel()

	publisher := newMockPublisher()
	node := &MockNode{
		BindFunc: func(context.Context, mesh.Address, uint16, mesh.ModelID) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}
	h := startSequencer(t, node, publisher)

	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x0010, Count: 1}
	h.outcomes <- mesh.AddNodeComplete{UUID: deviceB, Unicast: 0x0020, Count: 1}
	receiveEvent(t, publisher)
	receiveEvent(t, publisher)

	assert.Equal(t, 1, node.MaxActive())

	// Each device's steps are contiguous.
	var addresses []string
	for _, op := range node.Ops() {
		fields := strings.Fields(op)
		if len(addresses) == 0 || addresses[len(addresses)-1] != fields[1] {
			addresses = append(addresses, fields[1])
		}
	}
	assert.Len(t, addresses, 2)
}

func TestSequencer_PublishFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	published := make(chan struct{})

	gomock.InOrder(
		publisher.EXPECT().
			Publish(gomock.Any(), v1alpha1.EventChannel, gomock.Any()).
			Return(transport.ErrPublish),
		publisher.EXPECT().
			Publish(gomock.Any(), v1alpha1.EventChannel, gomock.Any()).
			DoAndReturn(func(context.Context, string, []byte) error {
				close(published)
				return nil
			}),
	)

	h := startSequencer(t, &MockNode{}, publisher)

	h.send(t, v1alpha1.ResetCommand{Address: 0x0010})
	NewWithT(t).Eventually(func() int { return countOps(h.node, "reset") }).Should(Equal(1))
	h.send(t, v1alpha1.ResetCommand{Address: 0x0011})

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("second event was not published")
	}
}

func TestSequencer_Metrics(t *testing.T) {
	publisher := newMockPublisher()
	h := startSequencer(t, &MockNode{}, publisher, WithMetrics(true))

	resets := testutil.ToFloat64(resetsTotal.WithLabelValues("success"))
	provisions := testutil.ToFloat64(provisionsTotal.WithLabelValues("success"))
	accepted := testutil.ToFloat64(commandsTotal.WithLabelValues("provision", "accepted"))

	h.send(t, v1alpha1.ResetCommand{Address: 0x0010})
	receiveEvent(t, publisher)
	h.provision(t, deviceA)
	h.outcomes <- mesh.AddNodeComplete{UUID: deviceA, Unicast: 0x0020, Count: 1}
	receiveEvent(t, publisher)

	assert.Equal(t, resets+1, testutil.ToFloat64(resetsTotal.WithLabelValues("success")))
	assert.Equal(t, provisions+1, testutil.ToFloat64(provisionsTotal.WithLabelValues("success")))
	assert.Equal(t, accepted+1, testutil.ToFloat64(commandsTotal.WithLabelValues("provision", "accepted")))
	NewWithT(t).Eventually(func() float64 { return testutil.ToFloat64(provisionsPending) }).Should(BeZero())
}

func ptrTo[T any](v T) *T { return &v }
