// Package mqtt implements transport.Client with the Eclipse Paho MQTT client.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/util/retry"
)

// Options configures the connection.
type Options struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	QoS          byte
	CleanSession bool
	Buffer       int

	ConnectTimeout time.Duration
	// ConnectRetries bounds the initial connection attempts. Negative retries
	// until the context ends.
	ConnectRetries int
}

// Client is a transport.Client backed by an MQTT broker.
type Client struct {
	client paho.Client
	opts   Options
	log    logr.Logger

	mu     sync.Mutex
	subs   map[*transport.Subscription]string
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

var _ transport.Client = (*Client)(nil)

// Connect opens a connection, retrying with exponential backoff.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	c := newClient(ctx, opts, nil)

	err := retry.WithExponentialBackoff(ctx, func() error {
		return c.wait(ctx, c.client.Connect())
	}, retry.WithMaxRetries(opts.ConnectRetries), retry.WithInitialDelay(500*time.Millisecond), retry.WithJitter(0.2))
	if err != nil {
		c.cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.URL, err)
	}
	c.log.Info("Connected to MQTT broker", "url", opts.URL, "clientID", opts.ClientID)
	return c, nil
}

// newClient builds the client without connecting. factory replaces
// paho.NewClient in tests.
func newClient(ctx context.Context, opts Options, factory func(*paho.ClientOptions) paho.Client) *Client {
	if opts.QoS > 2 {
		opts.QoS = 1
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if factory == nil {
		factory = paho.NewClient
	}

	// Deliveries outlive the connect context.
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Client{
		opts:   opts,
		log:    log.FromContext(ctx).WithName("mqtt"),
		subs:   make(map[*transport.Subscription]string),
		ctx:    lifetime,
		cancel: cancel,
	}

	po := paho.NewClientOptions().
		AddBroker(opts.URL).
		SetClientID(opts.ClientID).
		SetCleanSession(opts.CleanSession).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(opts.ConnectTimeout).
		SetDefaultPublishHandler(c.handle).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Error(err, "Connection to MQTT broker lost")
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	c.client = factory(po)
	return c
}

// wait blocks until token completes or ctx ends.
func (c *Client) wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends payload with the configured QoS and waits for the broker ack.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, transport.ErrClosed)
	}
	if err := c.wait(ctx, c.client.Publish(topic, c.opts.QoS, false, payload)); err != nil {
		return fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, err)
	}
	return nil
}

// Subscribe subscribes to filter, as a shared subscription when group is set.
func (c *Client) Subscribe(ctx context.Context, filter, group string) (<-chan transport.Message, error) {
	if err := transport.ValidateFilter(filter); err != nil {
		return nil, err
	}

	sub := transport.NewSubscription(filter, group, c.opts.Buffer)
	remote := transport.SharedFilter(group, filter)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c.subs[sub] = remote
	c.mu.Unlock()

	// A nil callback routes messages through the default handler, which
	// matches on the unshared filter.
	if err := c.wait(ctx, c.client.Subscribe(remote, c.opts.QoS, nil)); err != nil {
		c.forget(sub)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", remote, err)
	}
	c.log.Info("Subscribed", "filter", remote)

	sub.CloseOnDone(ctx, func() {
		if c.forget(sub) && !c.isClosed() {
			c.client.Unsubscribe(remote)
		}
	})
	return sub.C(), nil
}

// forget removes sub and reports whether it was still registered.
func (c *Client) forget(sub *transport.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sub]
	delete(c.subs, sub)
	return ok
}

func (c *Client) snapshot() []*transport.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]*transport.Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	return subs
}

// handle dispatches an inbound message to matching subscriptions.
func (c *Client) handle(_ paho.Client, m paho.Message) {
	msg := transport.Message{Topic: m.Topic(), Payload: m.Payload()}
	delivered := false
	for _, sub := range c.snapshot() {
		if sub.Matches(msg.Topic) && sub.Deliver(c.ctx, msg) {
			delivered = true
		}
	}
	if !delivered {
		c.log.V(1).Info("Dropping message without subscriber", "topic", msg.Topic)
	}
}

// onConnect restores subscriptions after a reconnect.
func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	remotes := make(map[string]struct{}, len(c.subs))
	for _, remote := range c.subs {
		remotes[remote] = struct{}{}
	}
	c.mu.Unlock()

	for remote := range remotes {
		client.Subscribe(remote, c.opts.QoS, nil)
		c.log.V(1).Info("Restored subscription", "filter", remote)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects and closes all subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[*transport.Subscription]string{}
	c.mu.Unlock()

	c.cancel()
	for sub := range subs {
		sub.Close()
	}
	c.client.Disconnect(250)
	return nil
}
