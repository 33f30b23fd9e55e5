// Package memory provides an in-process transport with MQTT topic matching.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/imamik/btmesh-provisioner/internal/transport"
)

// Broker is an in-process broker. Subscribers in the same group receive each
// message in turn; other subscribers receive every matching message.
type Broker struct {
	buffer int

	mu     sync.Mutex
	subs   []*transport.Subscription
	next   map[string]int
	closed bool
}

var _ transport.Client = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the channel capacity of new subscriptions.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		b.buffer = n
	}
}

// NewBroker returns an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		buffer: transport.DefaultBuffer,
		next:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers payload to every matching subscription, blocking while a
// subscriber's buffer is full.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	targets, err := b.route(topic)
	if err != nil {
		return err
	}

	msg := transport.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, sub := range targets {
		if !sub.Deliver(ctx, msg) && ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, ctx.Err())
		}
	}
	return nil
}

// route picks the subscriptions that receive a message on topic.
func (b *Broker) route(topic string) ([]*transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, transport.ErrClosed)
	}

	var targets []*transport.Subscription
	groups := map[string][]*transport.Subscription{}
	var order []string
	for _, sub := range b.subs {
		if !sub.Matches(topic) {
			continue
		}
		if sub.Group == "" {
			targets = append(targets, sub)
			continue
		}
		key := sub.Group + "\x00" + sub.Filter
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], sub)
	}
	for _, key := range order {
		members := groups[key]
		i := b.next[key] % len(members)
		b.next[key] = i + 1
		targets = append(targets, members[i])
	}
	return targets, nil
}

// Subscribe registers a subscription for filter.
func (b *Broker) Subscribe(ctx context.Context, filter, group string) (<-chan transport.Message, error) {
	if err := transport.ValidateFilter(filter); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}

	sub := transport.NewSubscription(filter, group, b.buffer)
	b.subs = append(b.subs, sub)
	sub.CloseOnDone(ctx, func() { b.remove(sub) })
	return sub.C(), nil
}

func (b *Broker) remove(sub *transport.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later calls to Publish and Subscribe fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
