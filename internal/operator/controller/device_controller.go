package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/util/async"
)

const (
	// Default sweep interval
	defaultInterval = 10 * time.Second
)

// DeviceReconciler reconciles the mesh devices of one registry application.
type DeviceReconciler struct {
	registry    Registry
	publisher   Publisher
	application string

	interval      time.Duration
	finalizer     string
	clock         clock.WithTicker
	enableMetrics bool
}

// Option configures a DeviceReconciler.
type Option func(*DeviceReconciler)

// WithInterval sets the sweep interval.
func WithInterval(interval time.Duration) Option {
	return func(r *DeviceReconciler) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(enabled bool) Option {
	return func(r *DeviceReconciler) {
		r.enableMetrics = enabled
	}
}

// WithFinalizer overrides the finalizer placed on mesh devices.
func WithFinalizer(finalizer string) Option {
	return func(r *DeviceReconciler) {
		if finalizer != "" {
			r.finalizer = finalizer
		}
	}
}

// WithClock sets the clock driving the sweep ticker.
func WithClock(c clock.WithTicker) Option {
	return func(r *DeviceReconciler) {
		r.clock = c
	}
}

// NewDeviceReconciler creates a reconciler for the devices of application.
func NewDeviceReconciler(registry Registry, publisher Publisher, application string, opts ...Option) *DeviceReconciler {
	r := &DeviceReconciler{
		registry:    registry,
		publisher:   publisher,
		application: application,
		interval:    defaultInterval,
		finalizer:   v1alpha1.Finalizer,
		clock:       clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps the registry every interval and applies inbound events until ctx
// is cancelled or events is closed. The first sweep runs immediately.
func (r *DeviceReconciler) Run(ctx context.Context, events <-chan transport.Message) error {
	logger := log.FromContext(ctx).WithValues("application", r.application)
	ctx = log.IntoContext(ctx, logger)
	logger.Info("Starting device reconciler", "interval", r.interval.String())

	err := async.RunUntilFirst(ctx, []async.Task{
		{Name: "sweep", Func: r.sweepLoop},
		{Name: "events", Func: func(ctx context.Context) error {
			return r.eventLoop(ctx, events)
		}},
	})
	logger.Info("Device reconciler stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *DeviceReconciler) sweepLoop(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.ReconcileSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			r.ReconcileSweep(ctx)
		}
	}
}

func (r *DeviceReconciler) eventLoop(ctx context.Context, events <-chan transport.Message) error {
	logger := log.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				logger.Info("Event stream closed")
				return nil
			}
			if err := r.HandleEvent(ctx, msg.Payload); err != nil {
				logEventError(logger, err, msg.Topic)
			}
		}
	}
}

// logEventError logs parse errors as detail and everything else as errors.
func logEventError(logger logr.Logger, err error, topic string) {
	if errors.Is(err, v1alpha1.ErrMalformedEnvelope) || errors.Is(err, v1alpha1.ErrMalformedEvent) {
		logger.V(1).Info("Dropping malformed event", "topic", topic, "error", err.Error())
		return
	}
	logger.Error(err, "Failed to handle event", "topic", topic)
}

// ReconcileSweep lists all devices of the application and reconciles those
// that participate in the mesh. It returns the number of mesh devices
// considered. A list failure skips the sweep.
func (r *DeviceReconciler) ReconcileSweep(ctx context.Context) int {
	logger := log.FromContext(ctx)
	start := time.Now()

	devices, err := r.registry.ListDevices(ctx, r.application)
	if err != nil {
		logger.Error(err, "Failed to list devices, skipping sweep")
		r.recordSweep("error", time.Since(start).Seconds())
		return 0
	}

	considered := 0
	counts := map[string]int{}
	for i := range devices {
		device := &devices[i]
		if !device.Spec.Has(v1alpha1.SectionBtMesh) {
			continue
		}
		considered++

		deviceCtx := log.IntoContext(ctx, logger.WithValues("device", device.Name))
		state, err := r.reconcileDevice(deviceCtx, device)
		if err != nil {
			log.FromContext(deviceCtx).Error(err, "Failed to reconcile device")
		}
		counts[state]++
	}

	r.recordDeviceCounts(counts)
	r.recordSweep("success", time.Since(start).Seconds())
	logger.V(1).Info("Sweep complete", "devices", len(devices), "mesh", considered)
	return considered
}

// HandleEvent applies one inbound CloudEvent. A "devices" event triggers a
// sweep; a "btmesh" event is applied to the device it names. Other subjects
// are ignored.
func (r *DeviceReconciler) HandleEvent(ctx context.Context, payload []byte) error {
	env, err := v1alpha1.ParseEnvelope(payload)
	if err != nil {
		r.recordEvent("unknown", "malformed")
		return err
	}

	switch env.Subject {
	case v1alpha1.SubjectDevices:
		r.recordEvent(env.Subject, "success")
		r.ReconcileSweep(ctx)
		return nil

	case v1alpha1.SubjectBtMesh:
		if env.Device == "" {
			r.recordEvent(env.Subject, "malformed")
			return fmt.Errorf("%w: event without device", v1alpha1.ErrMalformedEnvelope)
		}
		event, err := env.Event()
		if err != nil {
			r.recordEvent(env.Subject, "malformed")
			return fmt.Errorf("event for device %s: %w", env.Device, err)
		}
		ctx = log.IntoContext(ctx, log.FromContext(ctx).WithValues("device", env.Device))
		if err := r.applyEvent(ctx, env.Device, event); err != nil {
			r.recordEvent(env.Subject, "error")
			return err
		}
		r.recordEvent(env.Subject, "success")
		return nil

	default:
		log.FromContext(ctx).V(1).Info("Ignoring event", "subject", env.Subject)
		r.recordEvent("other", "ignored")
		return nil
	}
}
