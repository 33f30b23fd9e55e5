// Package nats implements transport.Client on NATS core subjects.
//
// MQTT style topics are mapped to subjects: '/' becomes '.', '+' becomes '*'
// and '#' becomes '>'. Groups map to queue groups.
package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/internal/transport"
	"github.com/imamik/btmesh-provisioner/internal/util/retry"
)

const flushTimeout = 5 * time.Second

// Options configures the connection.
type Options struct {
	URL      string
	Name     string
	Username string
	Password string
	Buffer   int

	// ConnectRetries bounds the initial connection attempts. Negative retries
	// until the context ends.
	ConnectRetries int
}

// Client is a transport.Client backed by a NATS connection.
type Client struct {
	nc   *nats.Conn
	opts Options
	log  logr.Logger

	mu     sync.Mutex
	subs   map[*transport.Subscription]*nats.Subscription
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

var _ transport.Client = (*Client)(nil)

// Connect opens a connection, retrying with exponential backoff.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	logger := log.FromContext(ctx).WithName("nats")

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, "Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}
	if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	var nc *nats.Conn
	err := retry.WithExponentialBackoff(ctx, func() error {
		var err error
		nc, err = nats.Connect(opts.URL, natsOpts...)
		return err
	}, retry.WithMaxRetries(opts.ConnectRetries), retry.WithInitialDelay(500*time.Millisecond), retry.WithJitter(0.2))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.URL, err)
	}
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())

	return newClient(ctx, nc, opts, logger), nil
}

func newClient(ctx context.Context, nc *nats.Conn, opts Options, logger logr.Logger) *Client {
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Client{
		nc:     nc,
		opts:   opts,
		log:    logger,
		subs:   make(map[*transport.Subscription]*nats.Subscription),
		ctx:    lifetime,
		cancel: cancel,
	}
}

// Subject maps an MQTT topic or filter to a NATS subject.
func Subject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// Topic maps a NATS subject back to an MQTT topic.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// Publish sends payload and flushes so the server has it before returning.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, transport.ErrClosed)
	}
	if err := c.nc.Publish(Subject(topic), payload); err != nil {
		return fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, err)
	}
	if err := c.flush(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", transport.ErrPublish, topic, err)
	}
	return nil
}

// Subscribe subscribes to filter, as a queue subscription when group is set.
func (c *Client) Subscribe(ctx context.Context, filter, group string) (<-chan transport.Message, error) {
	if err := transport.ValidateFilter(filter); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, transport.ErrClosed
	}

	sub := transport.NewSubscription(filter, group, c.opts.Buffer)
	handler := func(m *nats.Msg) {
		if !sub.Deliver(c.ctx, transport.Message{Topic: Topic(m.Subject), Payload: m.Data}) {
			c.log.V(1).Info("Dropping message for closed subscription", "subject", m.Subject)
		}
	}

	subject := Subject(filter)
	var ns *nats.Subscription
	var err error
	if group != "" {
		ns, err = c.nc.QueueSubscribe(subject, group, handler)
	} else {
		ns, err = c.nc.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if err := c.flush(ctx); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[sub] = ns
	c.mu.Unlock()
	c.log.Info("Subscribed", "subject", subject, "queue", group)

	sub.CloseOnDone(ctx, func() {
		c.mu.Lock()
		ns, ok := c.subs[sub]
		delete(c.subs, sub)
		c.mu.Unlock()
		if ok {
			_ = ns.Unsubscribe()
		}
	})
	return sub.C(), nil
}

// flush waits for the server to acknowledge buffered operations. nats.go
// requires a deadline on the context.
func (c *Client) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return c.nc.FlushWithContext(ctx)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close unsubscribes everything and closes the connection. Pending
// deliveries are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[*transport.Subscription]*nats.Subscription{}
	c.mu.Unlock()

	c.cancel()
	for sub, ns := range subs {
		_ = ns.Unsubscribe()
		sub.Close()
	}
	c.nc.Close()
	return nil
}
