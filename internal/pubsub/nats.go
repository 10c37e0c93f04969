package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes on dot-separated subjects and uses queue groups for
// load-balanced delivery
type NATSBus struct {
	nc     *nats.Conn
	buffer int
}

// NewNATSBus wraps an established connection. Close drains it.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc, buffer: DefaultBuffer}
}

func (b *NATSBus) Name() string { return "nats" }

func (b *NATSBus) Subject(tokens ...string) string { return strings.Join(tokens, ".") }

func (b *NATSBus) Wildcard() string { return "*" }

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.nc.IsClosed() {
		return ErrClosed
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, pattern, group string) (Subscription, error) {
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}

	in := make(chan *nats.Msg, b.buffer)
	var (
		sub *nats.Subscription
		err error
	)
	if group != "" {
		sub, err = b.nc.ChanQueueSubscribe(pattern, group, in)
	} else {
		sub, err = b.nc.ChanSubscribe(pattern, in)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	s := newChanSubscription(b.buffer, func() error {
		if !sub.IsValid() {
			return nil
		}
		return sub.Unsubscribe()
	})

	// nats does not close chan subscriptions on unsubscribe, so the loop
	// watches done instead of ranging over in.
	go func() {
		defer close(s.out)
		for {
			select {
			case <-s.done:
				return
			case m := <-in:
				if !s.deliver(Message{Subject: m.Subject, Data: m.Data}) {
					return
				}
			}
		}
	}()
	s.closeWith(ctx)

	return s, nil
}

func (b *NATSBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}
