package provisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

const (
	sensorPublishPeriod  = 4 * time.Second
	batteryPublishPeriod = 60 * time.Second
	publishRetransmits   = 5
)

// bindStep is one configuration message sent to a new node.
type bindStep struct {
	name string
	run  func(ctx context.Context, node mesh.Node, address mesh.Address) error
}

func bindModel(model mesh.ModelID) bindStep {
	return bindStep{
		name: "bind " + model.String(),
		run: func(ctx context.Context, node mesh.Node, address mesh.Address) error {
			return node.Bind(ctx, address, 0, model)
		},
	}
}

func publish(model mesh.ModelID, period time.Duration, label uuid.UUID) (bindStep, error) {
	p, err := mesh.PeriodFromDuration(period)
	if err != nil {
		return bindStep{}, fmt.Errorf("publish period of %s: %w", model, err)
	}
	pub := mesh.Publication{
		Model:      model,
		Label:      label,
		TTL:        mesh.DefaultTTL,
		Period:     p,
		Retransmit: mesh.Retransmit{Count: publishRetransmits},
	}
	return bindStep{
		name: "pub-set " + model.String(),
		run: func(ctx context.Context, node mesh.Node, address mesh.Address) error {
			return node.PubSet(ctx, address, pub)
		},
	}, nil
}

// bindSteps returns the configuration of a new node, in the order it is sent.
func bindSteps(label uuid.UUID) ([]bindStep, error) {
	sensor, err := publish(mesh.SensorSetupServer, sensorPublishPeriod, label)
	if err != nil {
		return nil, err
	}
	battery, err := publish(mesh.GenericBatteryServer, batteryPublishPeriod, label)
	if err != nil {
		return nil, err
	}
	return []bindStep{
		{
			name: "add app key",
			run: func(ctx context.Context, node mesh.Node, address mesh.Address) error {
				return node.AddAppKey(ctx, address, 0, 0)
			},
		},
		bindModel(mesh.SensorSetupServer),
		bindModel(mesh.GenericOnOffServer),
		bindModel(mesh.GenericBatteryServer),
		sensor,
		battery,
	}, nil
}

// configure runs the bind sequence for the node at address and publishes the
// resulting state of device.
func (s *Sequencer) configure(ctx context.Context, device uuid.UUID, address mesh.Address) {
	logger := log.FromContext(ctx).WithValues("device", device.String(), "address", address.String())

	if err := s.binds.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.binds.Release(1)

	start := time.Now()
	if err := s.bind(ctx, address); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.recordBind("failed", time.Since(start))
		s.fail(ctx, device, err)
		return
	}
	s.recordBind("success", time.Since(start))
	s.recordProvision("success")

	logger.Info("Device provisioned", "duration", time.Since(start).String())
	s.publish(ctx, v1alpha1.EventTopic(device), v1alpha1.Provisioned{Address: uint16(address)})
}

func (s *Sequencer) bind(ctx context.Context, address mesh.Address) error {
	logger := log.FromContext(ctx)

	steps, err := bindSteps(s.publishLabel)
	if err != nil {
		return err
	}
	if err := s.settler.Settle(ctx, StageInitial); err != nil {
		return err
	}
	for i, step := range steps {
		logger.V(1).Info("Configuring node", "step", step.name)
		if err := step.run(ctx, s.node, address); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		stage := StageStep
		if i == len(steps)-1 {
			stage = StageFinal
		}
		if err := s.settler.Settle(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}
