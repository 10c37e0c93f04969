package pubsub

import (
	"context"
	"strings"
	"sync"
)

// MemoryBus is an in-process backend for single-instance deployments and
// tests. Subjects follow NATS syntax and exactly one member of a queue group
// receives each message.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	next   map[string]int
	closed bool
}

type memorySub struct {
	*chanSubscription
	pattern []string
	group   string
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[*memorySub]struct{}),
		next: make(map[string]int),
	}
}

func (b *MemoryBus) Name() string { return "memory" }

func (b *MemoryBus) Subject(tokens ...string) string { return strings.Join(tokens, ".") }

func (b *MemoryBus) Wildcard() string { return "*" }

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tokens := strings.Split(subject, ".")
	payload := append([]byte(nil), data...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	groups := make(map[string][]*memorySub)
	for sub := range b.subs {
		if !matchTokens(sub.pattern, tokens) {
			continue
		}
		if sub.group == "" {
			sub.offer(Message{Subject: subject, Data: payload})
			continue
		}
		key := sub.group + "|" + strings.Join(sub.pattern, ".")
		groups[key] = append(groups[key], sub)
	}
	for key, members := range groups {
		i := b.next[key] % len(members)
		b.next[key]++
		members[i].offer(Message{Subject: subject, Data: payload})
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, pattern, group string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{pattern: strings.Split(pattern, "."), group: group}
	sub.chanSubscription = newChanSubscription(DefaultBuffer, func() error {
		b.remove(sub)
		return nil
	})
	b.subs[sub] = struct{}{}
	sub.closeWith(ctx)
	return sub, nil
}

func (b *MemoryBus) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// out is only written under b.mu, so closing it here cannot race a send
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.out)
	}
}

// offer is a non-blocking send; a full consumer drops its own copy only
func (s *memorySub) offer(msg Message) {
	select {
	case s.out <- msg:
	default:
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*memorySub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func matchTokens(pattern, subject []string) bool {
	if len(pattern) != len(subject) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return true
}
