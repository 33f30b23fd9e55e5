package provisioner

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

// pendingProvision marks a device whose provisioning is in flight. The
// outcome reported by the stack is handed to the device task on outcome.
type pendingProvision struct {
	outcome chan mesh.ProvisionerMessage
	started time.Time
}

// pendingSet holds at most one in-flight provisioning per device.
type pendingSet struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*pendingProvision
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: map[uuid.UUID]*pendingProvision{}}
}

// add registers device and returns the new entry, or false if the device is
// already pending.
func (p *pendingSet) add(device uuid.UUID, now time.Time) (*pendingProvision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[device]; ok {
		return nil, false
	}
	entry := &pendingProvision{
		outcome: make(chan mesh.ProvisionerMessage, 1),
		started: now,
	}
	p.entries[device] = entry
	return entry, true
}

func (p *pendingSet) get(device uuid.UUID) (*pendingProvision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[device]
	return entry, ok
}

// remove deletes the entry for device if it is still entry.
func (p *pendingSet) remove(device uuid.UUID, entry *pendingProvision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.entries[device]; ok && current == entry {
		delete(p.entries, device)
	}
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// deliver hands msg to the pending entry of its device. It returns false if
// the device is not pending.
func (p *pendingSet) deliver(msg mesh.ProvisionerMessage) (delivered, pending bool) {
	entry, ok := p.get(msg.Device())
	if !ok {
		return false, false
	}
	select {
	case entry.outcome <- msg:
		return true, true
	default:
		return false, true
	}
}
