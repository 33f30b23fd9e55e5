package provisioner

import (
	"context"
	"time"
)

// Stage identifies a settle point in the configuration of a new node.
type Stage int

const (
	// StageInitial is before the first configuration message.
	StageInitial Stage = iota
	// StageStep is between two configuration messages.
	StageStep
	// StageFinal is after the last configuration message.
	StageFinal
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageStep:
		return "step"
	case StageFinal:
		return "final"
	}
	return "unknown"
}

// Settler gives a freshly provisioned node time to process configuration
// messages. The mesh stack does not confirm them, so configuration is paced.
type Settler interface {
	Settle(ctx context.Context, stage Stage) error
}

// DelaySettler waits a fixed time at each stage.
type DelaySettler struct {
	Initial time.Duration
	Step    time.Duration
	Final   time.Duration
}

// DefaultSettler returns the delays the configuration sequence was tuned with.
func DefaultSettler() DelaySettler {
	return DelaySettler{
		Initial: 6 * time.Second,
		Step:    4 * time.Second,
		Final:   5 * time.Second,
	}
}

// Settle waits the delay of stage or until ctx ends.
func (d DelaySettler) Settle(ctx context.Context, stage Stage) error {
	var delay time.Duration
	switch stage {
	case StageInitial:
		delay = d.Initial
	case StageStep:
		delay = d.Step
	case StageFinal:
		delay = d.Final
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InstantSettler does not wait. It suits stacks that confirm configuration
// themselves, and tests.
type InstantSettler struct{}

// Settle returns immediately unless ctx has ended.
func (InstantSettler) Settle(ctx context.Context, _ Stage) error {
	return ctx.Err()
}
