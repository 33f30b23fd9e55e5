package transport

import (
	"context"
	"sync"
)

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 64

// Subscription is a buffered delivery channel shared by the implementations.
// Deliver may be called from any goroutine; Close waits for in-flight
// deliveries before closing the channel.
type Subscription struct {
	Filter string
	Group  string

	ch        chan Message
	done      chan struct{}
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewSubscription returns an open subscription for filter.
func NewSubscription(filter, group string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{
		Filter: filter,
		Group:  group,
		ch:     make(chan Message, buffer),
		done:   make(chan struct{}),
	}
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Matches reports whether topic matches the subscription filter.
func (s *Subscription) Matches(topic string) bool {
	return Match(s.Filter, topic)
}

// Deliver queues msg, blocking while the buffer is full. It returns false if
// the subscription was closed or ctx ended first.
func (s *Subscription) Deliver(ctx context.Context, msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close closes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// CloseOnDone closes the subscription when ctx ends, then calls cleanup.
func (s *Subscription) CloseOnDone(ctx context.Context, cleanup func()) {
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		if cleanup != nil {
			cleanup()
		}
		s.Close()
	}()
}
