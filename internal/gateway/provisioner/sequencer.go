package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/util/ptr"
)

const (
	defaultProvisionTimeout   = 5 * time.Minute
	defaultDrainDelay         = time.Second
	defaultMaxConcurrentBinds = 1
)

// ErrProvisionTimeout is reported when the stack gives no outcome in time.
var ErrProvisionTimeout = errors.New("provisioning timed out")

// Publisher sends status events to the cloud.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Sequencer drives provisioning and reset of mesh devices.
type Sequencer struct {
	node      mesh.Node
	publisher Publisher

	settler          Settler
	provisionTimeout time.Duration
	drainDelay       time.Duration
	maxBinds         int64
	publishLabel     uuid.UUID
	enableMetrics    bool

	pending *pendingSet
	binds   *semaphore.Weighted
	tasks   sync.WaitGroup
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithSettler sets the pacing of node configuration.
func WithSettler(settler Settler) Option {
	return func(s *Sequencer) {
		if settler != nil {
			s.settler = settler
		}
	}
}

// WithProvisionTimeout bounds the wait for a provisioning outcome.
func WithProvisionTimeout(timeout time.Duration) Option {
	return func(s *Sequencer) {
		if timeout > 0 {
			s.provisionTimeout = timeout
		}
	}
}

// WithDrainDelay sets the wait after unregistering, letting the stack settle
// before the process exits.
func WithDrainDelay(delay time.Duration) Option {
	return func(s *Sequencer) {
		if delay >= 0 {
			s.drainDelay = delay
		}
	}
}

// WithMaxConcurrentBinds bounds how many nodes are configured at once.
func WithMaxConcurrentBinds(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.maxBinds = int64(n)
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(enabled bool) Option {
	return func(s *Sequencer) {
		s.enableMetrics = enabled
	}
}

// WithPublishLabel sets the virtual label configured nodes publish to.
func WithPublishLabel(label uuid.UUID) Option {
	return func(s *Sequencer) {
		if label != uuid.Nil {
			s.publishLabel = label
		}
	}
}

// New creates a Sequencer for node.
func New(node mesh.Node, publisher Publisher, opts ...Option) *Sequencer {
	s := &Sequencer{
		node:             node,
		publisher:        publisher,
		settler:          DefaultSettler(),
		provisionTimeout: defaultProvisionTimeout,
		drainDelay:       defaultDrainDelay,
		maxBinds:         defaultMaxConcurrentBinds,
		publishLabel:     mesh.DefaultPublishLabel,
		pending:          newPendingSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.binds = semaphore.NewWeighted(s.maxBinds)
	return s
}

// Run handles one event at a time from the three sources until the outcome
// or command source closes or ctx ends. It then cancels and waits for the
// device tasks, unregisters from the stack and waits the drain delay.
func (s *Sequencer) Run(ctx context.Context, outcomes <-chan mesh.ProvisionerMessage, elements <-chan mesh.ElementMessage, commands <-chan transport.Message) error {
	logger := log.FromContext(ctx).WithName("sequencer")
	ctx = log.IntoContext(ctx, logger)
	logger.Info("Starting provisioning sequencer")

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.loop(taskCtx, outcomes, elements, commands)

	cancel()
	s.tasks.Wait()

	err := s.node.Unregister(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error(err, "Failed to unregister from mesh stack")
	}
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}
	logger.Info("Provisioning sequencer stopped")
	return err
}

func (s *Sequencer) loop(ctx context.Context, outcomes <-chan mesh.ProvisionerMessage, elements <-chan mesh.ElementMessage, commands <-chan transport.Message) {
	logger := log.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled")
			return

		case msg, ok := <-outcomes:
			if !ok {
				logger.Info("Outcome stream closed")
				return
			}
			s.handleOutcome(ctx, msg)

		case msg, ok := <-elements:
			if !ok {
				elements = nil
				continue
			}
			s.handleElement(ctx, msg)

		case msg, ok := <-commands:
			if !ok {
				logger.Info("Command stream closed")
				return
			}
			s.handleCommand(ctx, msg)
		}
	}
}

func (s *Sequencer) handleCommand(ctx context.Context, msg transport.Message) {
	logger := log.FromContext(ctx)

	cmd, err := v1alpha1.ParseCommand(msg.Payload)
	if err != nil {
		logger.V(1).Info("Dropping command", "topic", msg.Topic, "error", err.Error())
		s.recordCommand("unknown", "malformed")
		return
	}

	switch c := cmd.(type) {
	case v1alpha1.ProvisionCommand:
		device, err := uuid.Parse(c.Device)
		if err != nil {
			logger.V(1).Info("Dropping provision command with invalid device", "device", c.Device)
			s.recordCommand(string(c.CommandType()), "malformed")
			return
		}
		s.provision(ctx, device)

	case v1alpha1.ResetCommand:
		s.recordCommand(string(c.CommandType()), "accepted")
		s.reset(ctx, mesh.Address(c.Address), c.Device)
	}
}

// provision starts provisioning device unless it is already pending. The
// entry is held from before AddNode until the task exits, so a duplicate
// arriving while AddNode runs is dropped and the next sweep sends it again.
func (s *Sequencer) provision(ctx context.Context, device uuid.UUID) {
	logger := log.FromContext(ctx).WithValues("device", device.String())

	entry, ok := s.pending.add(device, time.Now())
	if !ok {
		logger.V(1).Info("Provisioning already in progress, dropping command")
		s.recordCommand(string(v1alpha1.CommandProvision), "duplicate")
		return
	}
	s.recordCommand(string(v1alpha1.CommandProvision), "accepted")
	s.recordPending()

	s.spawn(ctx, device, s.fail, func(ctx context.Context) {
		defer s.recordPending()
		defer s.pending.remove(device, entry)

		logger.Info("Provisioning device")
		if err := s.node.AddNode(ctx, device); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, device, err)
			return
		}

		timer := time.NewTimer(s.provisionTimeout)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fail(ctx, device, ErrProvisionTimeout)
		case outcome := <-entry.outcome:
			s.complete(ctx, device, outcome, entry.started)
		}
	})
}

// complete acts on the outcome of AddNode.
func (s *Sequencer) complete(ctx context.Context, device uuid.UUID, outcome mesh.ProvisionerMessage, started time.Time) {
	switch o := outcome.(type) {
	case mesh.AddNodeComplete:
		log.FromContext(ctx).Info("Device joined the mesh",
			"device", device.String(),
			"address", o.Unicast.String(),
			"elements", o.Count,
			"duration", time.Since(started).String(),
		)
		s.configure(ctx, device, o.Unicast)
	case mesh.AddNodeFailed:
		s.fail(ctx, device, errors.New(o.Reason))
	}
}

func (s *Sequencer) handleOutcome(ctx context.Context, msg mesh.ProvisionerMessage) {
	logger := log.FromContext(ctx).WithValues("device", msg.Device().String())

	delivered, pending := s.pending.deliver(msg)
	switch {
	case delivered:
		return
	case pending:
		logger.V(1).Info("Dropping repeated outcome")
		return
	}

	switch o := msg.(type) {
	case mesh.AddNodeComplete:
		// No provision in flight, e.g. after a gateway restart. Configure the
		// node anyway so it ends up usable.
		entry, ok := s.pending.add(o.UUID, time.Now())
		if !ok {
			return
		}
		logger.Info("Configuring node without pending provision", "address", o.Unicast.String())
		s.recordPending()
		s.spawn(ctx, o.UUID, s.fail, func(ctx context.Context) {
			defer s.recordPending()
			defer s.pending.remove(o.UUID, entry)
			s.configure(ctx, o.UUID, o.Unicast)
		})

	case mesh.AddNodeFailed:
		s.fail(ctx, o.UUID, errors.New(o.Reason))
	}
}

func (s *Sequencer) handleElement(ctx context.Context, msg mesh.ElementMessage) {
	logger := log.FromContext(ctx).WithValues("source", msg.Source.String())

	status, ok, err := mesh.DecodeConfigStatus(msg.Data)
	switch {
	case err != nil:
		logger.V(1).Info("Malformed element message", "error", err.Error())
	case !ok:
		logger.V(1).Info("Element message", "devKey", msg.DevKey, "length", len(msg.Data))
	case status.OK():
		logger.V(1).Info("Configuration status", "status", status.String())
	default:
		logger.Info("Configuration rejected by node", "status", status.String())
	}
}

// reset removes the node at address and reports the outcome for device.
func (s *Sequencer) reset(ctx context.Context, address mesh.Address, device string) {
	id, _ := uuid.Parse(device)
	onPanic := func(ctx context.Context, _ uuid.UUID, err error) {
		s.publishReset(ctx, device, id, err)
	}

	s.spawn(ctx, id, onPanic, func(ctx context.Context) {
		logger := log.FromContext(ctx).WithValues("address", address.String(), "device", device)
		logger.Info("Resetting node")
		err := s.node.Reset(ctx, address)
		if err != nil {
			logger.Error(err, "Failed to reset node")
		}
		s.publishReset(ctx, device, id, err)
	})
}

// spawn runs fn as a supervised device task. A panic is reported through
// onPanic instead of taking the gateway down.
func (s *Sequencer) spawn(ctx context.Context, device uuid.UUID, onPanic func(context.Context, uuid.UUID, error), fn func(context.Context)) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("device task panicked: %v", r)
				log.FromContext(ctx).Error(err, "Recovered device task", "device", device.String(), "stack", string(debug.Stack()))
				onPanic(ctx, device, err)
			}
		}()
		fn(ctx)
	}()
}

// fail reports that provisioning device failed.
func (s *Sequencer) fail(ctx context.Context, device uuid.UUID, err error) {
	log.FromContext(ctx).Info("Provisioning failed", "device", device.String(), "error", err.Error())
	s.recordProvision("failed")
	s.publish(ctx, v1alpha1.EventTopic(device), v1alpha1.Provisioning{Error: ptr.To(err.Error())})
}

func (s *Sequencer) publishReset(ctx context.Context, device string, id uuid.UUID, err error) {
	state := v1alpha1.Reset{Device: device}
	result := "success"
	if err != nil {
		state.Error = ptr.To(err.Error())
		result = "failed"
	}
	s.recordReset(result)

	topic := v1alpha1.EventChannel
	if id != uuid.Nil {
		topic = v1alpha1.EventTopic(id)
	}
	s.publish(ctx, topic, state)
}

// publish sends a status event. Failures are logged; the operator repeats
// its command on the next sweep.
func (s *Sequencer) publish(ctx context.Context, topic string, state v1alpha1.DeviceState) {
	logger := log.FromContext(ctx)

	payload, err := json.Marshal(v1alpha1.Event{Status: state})
	if err != nil {
		logger.Error(err, "Failed to encode event", "topic", topic)
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), topic, payload); err != nil {
		logger.Error(err, "Failed to publish event", "topic", topic)
		return
	}
	logEvent(logger, topic, state)
}

func logEvent(logger logr.Logger, topic string, state v1alpha1.DeviceState) {
	logger.V(1).Info("Published event", "topic", topic, "state", string(state.Type()))
}
