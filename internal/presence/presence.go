// Package presence ties connection lifecycle to online/offline broadcasts and
// the shared Redis presence record.
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/internal/hub"
	"github.com/luli-tech/taskPadi-be/internal/signaling"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
)

const storeTimeout = 2 * time.Second

// Store records presence for other instances and services
type Store interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Broadcaster registers connections and announces presence changes.
// Store writes are best-effort; a nil store disables them.
type Broadcaster struct {
	hub   *hub.Hub
	store Store
}

// NewBroadcaster creates a Broadcaster over h
func NewBroadcaster(h *hub.Hub, store Store) *Broadcaster {
	return &Broadcaster{hub: h, store: store}
}

// Connect registers a connection for userID and announces the user online
func (b *Broadcaster) Connect(ctx context.Context, userID uuid.UUID) *hub.Connection {
	conn := b.hub.Register(userID)
	b.hub.Broadcast(signaling.UserStatus{UserID: userID, IsOnline: true})

	if b.store != nil {
		ctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := b.store.SetUserOnline(ctx, userID); err != nil {
			logger.Warn("Failed to record presence",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
	return conn
}

// Disconnect unregisters conn. Only the call that actually removed it
// announces the user offline; the shared record is cleared once the user has
// no connection left on this instance.
func (b *Broadcaster) Disconnect(ctx context.Context, conn *hub.Connection) {
	if !b.hub.Unregister(conn) {
		return
	}

	userID := conn.UserID()
	b.hub.Broadcast(signaling.UserStatus{UserID: userID, IsOnline: false})

	if b.store == nil || b.hub.IsOnline(userID) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := b.store.SetUserOffline(ctx, userID); err != nil {
		logger.Warn("Failed to clear presence",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

// Refresh extends the shared presence record on heartbeat
func (b *Broadcaster) Refresh(ctx context.Context, userID uuid.UUID) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := b.store.RefreshPresence(ctx, userID); err != nil {
		logger.Debug("Failed to refresh presence",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
