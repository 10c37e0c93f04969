package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luli-tech/taskPadi-be/internal/pubsub"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
)

var (
	errTransportClosed    = errors.New("transport closed")
	errSubscriptionClosed = errors.New("subscription closed")
	errKeepaliveFailed    = errors.New("keepalive ping failed")
)

// Options configures a Bridge
type Options struct {
	// FrameType is websocket.BinaryMessage or websocket.TextMessage
	FrameType int
	WriteWait time.Duration
	// PongWait bounds how long a participant may stay silent. Any frame or
	// pong extends it; PingInterval must be shorter.
	PongWait     time.Duration
	PingInterval time.Duration
	Metrics      *metrics.Metrics
}

// Bridge runs relay sessions. At most one session per (call, user) runs at a
// time; a newer one replaces the older.
type Bridge struct {
	bus          pubsub.Bus
	frameType    int
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
	metrics      *metrics.Metrics

	mu     sync.Mutex
	active map[sessionKey]*running
	closed bool
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge creates a bridge over bus
func NewBridge(bus pubsub.Bus, opts Options) *Bridge {
	if opts.FrameType != websocket.TextMessage {
		opts.FrameType = websocket.BinaryMessage
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	return &Bridge{
		bus:          bus,
		frameType:    opts.FrameType,
		writeWait:    opts.WriteWait,
		pongWait:     opts.PongWait,
		pingInterval: opts.PingInterval,
		metrics:      opts.Metrics,
		active:       make(map[sessionKey]*running),
	}
}

// Run pumps frames between t and the call's subjects until either side
// closes or ctx ends. t is closed before Run returns.
func (b *Bridge) Run(ctx context.Context, callID, userID uuid.UUID, t Transport) error {
	sess := NewSession(b.bus, callID, userID)
	log := logger.With(
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()),
		zap.String("backend", b.bus.Name()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &running{cancel: cancel, done: make(chan struct{})}
	if err := b.acquire(sess.key(), r); err != nil {
		_ = t.Close()
		return err
	}
	defer b.release(sess.key(), r)

	sub, err := b.bus.Subscribe(ctx, sess.SubscribePattern, sess.Group)
	if err != nil {
		_ = t.Close()
		b.recordPubSubError("subscribe")
		return fmt.Errorf("failed to subscribe to relay: %w", err)
	}

	if b.metrics != nil {
		b.metrics.IncRelaySessions()
		defer b.metrics.DecRelaySessions()
	}
	log.Info("Relay session started",
		zap.String("publish", sess.PublishSubject),
		zap.String("subscribe", sess.SubscribePattern))

	_ = t.SetReadDeadline(time.Now().Add(b.pongWait))
	t.SetPongHandler(func(string) error {
		return t.SetReadDeadline(time.Now().Add(b.pongWait))
	})

	g, gctx := errgroup.WithContext(ctx)
	// gctx ends when the first pump returns; closing both ends unblocks the other
	go func() {
		<-gctx.Done()
		_ = t.Close()
		_ = sub.Close()
	}()
	g.Go(func() error { return b.inbound(gctx, sess, sub, t) })
	g.Go(func() error { return b.outbound(gctx, sess, t, log) })
	g.Go(func() error { return b.keepalive(gctx, t) })

	err = g.Wait()
	log.Info("Relay session ended", zap.NamedError("reason", err))
	return nil
}

// Shutdown cancels every running session and waits for them to finish
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	b.closed = true
	sessions := make([]*running, 0, len(b.active))
	for _, r := range b.active {
		sessions = append(sessions, r)
	}
	b.mu.Unlock()

	for _, r := range sessions {
		r.cancel()
		<-r.done
	}
}

// ActiveSessions returns the number of running sessions
func (b *Bridge) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

func (b *Bridge) acquire(key sessionKey, r *running) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("relay bridge is shutting down")
	}
	prev := b.active[key]
	b.active[key] = r
	b.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	return nil
}

func (b *Bridge) release(key sessionKey, r *running) {
	b.mu.Lock()
	if b.active[key] == r {
		delete(b.active, key)
	}
	b.mu.Unlock()
	close(r.done)
}

// inbound forwards every message published by other participants
func (b *Bridge) inbound(ctx context.Context, sess Session, sub pubsub.Subscription, t Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return errSubscriptionClosed
			}
			if msg.Subject == sess.PublishSubject {
				b.recordFrame("echo")
				continue
			}

			_ = t.SetWriteDeadline(time.Now().Add(b.writeWait))
			if err := t.WriteMessage(b.frameType, msg.Data); err != nil {
				return fmt.Errorf("failed to forward frame: %w", err)
			}
			b.recordFrame("inbound")
		}
	}
}

// outbound publishes every frame read from the participant
func (b *Bridge) outbound(ctx context.Context, sess Session, t Transport, log *zap.Logger) error {
	for {
		messageType, data, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", errTransportClosed, err)
		}

		_ = t.SetReadDeadline(time.Now().Add(b.pongWait))

		if messageType != b.frameType {
			log.Warn("Ignoring unexpected relay frame", zap.Int("frame_type", messageType))
			continue
		}

		if err := b.bus.Publish(ctx, sess.PublishSubject, data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.recordPubSubError("publish")
			log.Warn("Failed to publish relay frame", zap.Error(err))
			continue
		}
		b.recordFrame("outbound")
	}
}

// keepalive pings the participant. WriteControl is safe alongside the
// inbound writer.
func (b *Bridge) keepalive(ctx context.Context, t Transport) error {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.writeWait)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", errKeepaliveFailed, err)
			}
		}
	}
}

func (b *Bridge) recordFrame(direction string) {
	if b.metrics != nil {
		b.metrics.RecordRelayFrame(direction)
	}
}

func (b *Bridge) recordPubSubError(op string) {
	if b.metrics != nil {
		b.metrics.RecordPubSubError(b.bus.Name(), op)
	}
}
