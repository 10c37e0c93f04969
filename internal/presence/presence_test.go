package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luli-tech/taskPadi-be/internal/hub"
	redisRepo "github.com/luli-tech/taskPadi-be/internal/repository/redis"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *hub.Hub, *redisRepo.PresenceRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := hub.New(16, nil)
	store := redisRepo.NewPresenceRepository(client)
	return NewBroadcaster(h, store), h, store
}

type status struct {
	Type     string    `json:"type"`
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

func drain(t *testing.T, conn *hub.Connection) []status {
	t.Helper()
	var out []status
	for {
		select {
		case frame := <-conn.Outbound():
			var s status
			require.NoError(t, json.Unmarshal(frame, &s))
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestConnect_AnnouncesAndRecords(t *testing.T) {
	b, h, store := newTestBroadcaster(t)
	ctx := context.Background()
	watcher := h.Register(uuid.New())
	alice := uuid.New()

	conn := b.Connect(ctx, alice)
	assert.Equal(t, alice, conn.UserID())
	assert.True(t, h.IsOnline(alice))

	got := drain(t, watcher)
	require.Len(t, got, 1)
	assert.Equal(t, status{Type: "user_status", UserID: alice, IsOnline: true}, got[0])

	online, err := store.IsUserOnline(ctx, alice)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestDisconnect_AnnouncesOnce(t *testing.T) {
	b, h, store := newTestBroadcaster(t)
	ctx := context.Background()
	watcher := h.Register(uuid.New())
	alice := uuid.New()

	conn := b.Connect(ctx, alice)
	drain(t, watcher)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Disconnect(ctx, conn)
		}()
	}
	wg.Wait()

	got := drain(t, watcher)
	require.Len(t, got, 1)
	assert.False(t, got[0].IsOnline)
	assert.False(t, h.IsOnline(alice))

	online, err := store.IsUserOnline(ctx, alice)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestDisconnect_KeepsRecordWhileAnotherDeviceIsConnected(t *testing.T) {
	b, h, store := newTestBroadcaster(t)
	ctx := context.Background()
	alice := uuid.New()

	phone := b.Connect(ctx, alice)
	laptop := b.Connect(ctx, alice)

	b.Disconnect(ctx, phone)
	assert.True(t, h.IsOnline(alice))
	online, err := store.IsUserOnline(ctx, alice)
	require.NoError(t, err)
	assert.True(t, online)

	b.Disconnect(ctx, laptop)
	online, err = store.IsUserOnline(ctx, alice)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestBroadcaster_WithoutStore(t *testing.T) {
	h := hub.New(16, nil)
	b := NewBroadcaster(h, nil)
	ctx := context.Background()

	conn := b.Connect(ctx, uuid.New())
	b.Refresh(ctx, conn.UserID())
	b.Disconnect(ctx, conn)

	assert.Zero(t, h.ConnectionCount())
}
