package transport

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrPublish is returned when a message could not be handed to the broker.
	ErrPublish = errors.New("publish failed")
	// ErrClosed is returned by a client that was closed.
	ErrClosed = errors.New("transport closed")
	// ErrInvalidFilter is returned for malformed topic filters.
	ErrInvalidFilter = errors.New("invalid topic filter")
)

// Message is a message received on a subscription.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Client is a connection to a broker.
type Client interface {
	Publisher

	// Subscribe delivers messages matching filter until ctx ends or the
	// client is closed; the returned channel is then closed. Subscribers
	// sharing a non-empty group split the messages between them.
	Subscribe(ctx context.Context, filter, group string) (<-chan Message, error)

	// Close disconnects from the broker and closes all subscriptions.
	Close() error
}

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/imamik/btmesh-provisioner/internal/transport Client,Publisher

// SharedFilter returns the MQTT shared subscription filter for group, or
// filter unchanged when group is empty.
func SharedFilter(group, filter string) string {
	if group == "" {
		return filter
	}
	return "$shared/" + group + "/" + filter
}

// ValidateFilter checks that filter is a well formed topic filter.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidFilter
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return errors.Join(ErrInvalidFilter, errors.New("'#' must be the last level"))
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return errors.Join(ErrInvalidFilter, errors.New("wildcards must occupy a whole level"))
		}
	}
	return nil
}

// Match reports whether topic matches filter.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	// Wildcards do not match topics starting with '$'.
	if len(t) > 0 && strings.HasPrefix(t[0], "$") && len(f) > 0 && (f[0] == "+" || f[0] == "#") {
		return false
	}

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
