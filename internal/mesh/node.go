package mesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotAttached is returned by a Node that lost its attachment to the stack.
var ErrNotAttached = errors.New("mesh node not attached")

// Node is the gateway's handle on the local mesh stack. It acts as the
// provisioner and configuration client of the network.
type Node interface {
	// AddNode starts provisioning the unprovisioned device with the given
	// UUID. The outcome arrives later as a ProvisionerMessage.
	AddNode(ctx context.Context, device uuid.UUID) error

	// Reset sends Config Node Reset to the node at address.
	Reset(ctx context.Context, address Address) error

	// AddAppKey distributes the application key appIndex, bound to netIndex,
	// to the node at address.
	AddAppKey(ctx context.Context, address Address, appIndex, netIndex uint16) error

	// Bind binds the application key appIndex to model on the node at address.
	Bind(ctx context.Context, address Address, appIndex uint16, model ModelID) error

	// PubSet configures publication of a model on the node at address.
	PubSet(ctx context.Context, address Address, pub Publication) error

	// Unregister detaches the gateway application from the stack.
	Unregister(ctx context.Context) error
}

// ProvisionerMessage is a provisioning outcome reported by the stack.
type ProvisionerMessage interface {
	Device() uuid.UUID
	isProvisionerMessage()
}

// AddNodeComplete reports that a device joined the network. Unicast is the
// address of its primary element and Count the number of elements.
type AddNodeComplete struct {
	UUID    uuid.UUID
	Unicast Address
	Count   uint8
}

// AddNodeFailed reports that provisioning a device failed.
type AddNodeFailed struct {
	UUID   uuid.UUID
	Reason string
}

func (m AddNodeComplete) Device() uuid.UUID { return m.UUID }
func (m AddNodeFailed) Device() uuid.UUID   { return m.UUID }

func (AddNodeComplete) isProvisionerMessage() {}
func (AddNodeFailed) isProvisionerMessage()   {}

// ElementMessage is an access message received by a local element.
type ElementMessage struct {
	Source   Address
	Remote   bool
	NetIndex uint16
	DevKey   bool
	Data     []byte
}

// OperationError is a failed mesh operation against one node.
type OperationError struct {
	Op      string
	Address Address
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("mesh %s on %s: %v", e.Op, e.Address, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
