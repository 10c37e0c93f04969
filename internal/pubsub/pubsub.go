// Package pubsub abstracts the message backend that relays call traffic
// between server instances.
package pubsub

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing or subscribing on a closed bus
var ErrClosed = errors.New("pubsub: bus closed")

// Message is one payload received on a subscription
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is a stream of messages matching a pattern. Messages is closed
// once the subscription ends, either through Close or its context.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is a topic-style or channel-style pub/sub backend
type Bus interface {
	// Name identifies the backend in logs and metrics
	Name() string
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe listens on pattern. Subscribers sharing a non-empty group
	// split the stream between them instead of each receiving a copy.
	Subscribe(ctx context.Context, pattern, group string) (Subscription, error)
	// Subject joins tokens with the backend's separator
	Subject(tokens ...string) string
	// Wildcard matches exactly one subject token
	Wildcard() string
	Close() error
}

// DefaultBuffer is the per-subscription delivery buffer
const DefaultBuffer = 256

// chanSubscription adapts a backend-specific receive loop to Subscription
type chanSubscription struct {
	out     chan Message
	done    chan struct{}
	once    sync.Once
	closeFn func() error
	err     error
}

func newChanSubscription(buffer int, closeFn func() error) *chanSubscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &chanSubscription{
		out:     make(chan Message, buffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

func (s *chanSubscription) Messages() <-chan Message {
	return s.out
}

func (s *chanSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}

// deliver hands msg to the consumer. It returns false once the subscription is closed.
func (s *chanSubscription) deliver(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	}
}

// closeWith closes the subscription when ctx ends
func (s *chanSubscription) closeWith(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
}
