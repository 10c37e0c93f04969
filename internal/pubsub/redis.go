package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes on colon-separated channels and subscribes with
// PSUBSCRIBE. Every Redis pattern subscription receives its own copy, so the
// group argument is not needed for per-connection delivery and is ignored.
type RedisBus struct {
	client *redis.Client
	buffer int
}

// NewRedisBus wraps a client. Close does not close the client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, buffer: DefaultBuffer}
}

func (b *RedisBus) Name() string { return "redis" }

func (b *RedisBus) Subject(tokens ...string) string { return strings.Join(tokens, ":") }

func (b *RedisBus) Wildcard() string { return "*" }

func (b *RedisBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := b.client.Publish(ctx, subject, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, pattern, _ string) (Subscription, error) {
	var ps *redis.PubSub
	if strings.ContainsAny(pattern, "*?[") {
		ps = b.client.PSubscribe(ctx, pattern)
	} else {
		ps = b.client.Subscribe(ctx, pattern)
	}

	// wait for the subscription confirmation so no early publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	s := newChanSubscription(b.buffer, ps.Close)
	ch := ps.Channel()

	go func() {
		defer close(s.out)
		for {
			select {
			case <-s.done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if !s.deliver(Message{Subject: m.Channel, Data: []byte(m.Payload)}) {
					return
				}
			}
		}
	}()
	s.closeWith(ctx)

	return s, nil
}

func (b *RedisBus) Close() error {
	return nil
}
