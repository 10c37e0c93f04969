package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func assertNoMessage(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message on %s", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_WildcardMatchesOneToken(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, bus.Subject("call", "c1", bus.Wildcard()), "")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, "call.c1.u1", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "call.c2.u1", []byte("b")))
	require.NoError(t, bus.Publish(ctx, "call.c1.u1.extra", []byte("c")))

	msg := receive(t, sub)
	assert.Equal(t, "call.c1.u1", msg.Subject)
	assert.Equal(t, []byte("a"), msg.Data)
	assertNoMessage(t, sub)
}

func TestMemoryBus_QueueGroupDeliversOnce(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx, "call.c1.*", "media-c1-u2")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "call.c1.*", "media-c1-u2")
	require.NoError(t, err)
	plain, err := bus.Subscribe(ctx, "call.c1.*", "")
	require.NoError(t, err)

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Publish(ctx, "call.c1.u1", []byte{byte(i)}))
	}

	assert.Equal(t, n, len(a.Messages())+len(b.Messages()))
	assert.Equal(t, n, len(plain.Messages()))
}

func TestMemoryBus_CloseEndsStream(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx, "call.c1.*", "")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by context")
	}

	assert.NoError(t, sub.Close())
	assert.NoError(t, bus.Publish(context.Background(), "call.c1.u1", []byte("x")))
}

func TestMemoryBus_ClosedBus(t *testing.T) {
	bus := NewMemoryBus()
	sub, err := bus.Subscribe(context.Background(), "a.b", "")
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(context.Background(), "a.b", nil), ErrClosed)
	_, err = bus.Subscribe(context.Background(), "a.b", "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubjectSchemes(t *testing.T) {
	assert.Equal(t, "call.c.u", (&NATSBus{}).Subject("call", "c", "u"))
	assert.Equal(t, "call:c:u", (&RedisBus{}).Subject("call", "c", "u"))
	assert.Equal(t, "call.c.u", NewMemoryBus().Subject("call", "c", "u"))
}
