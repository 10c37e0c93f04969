// Package hub is the process-local registry of live signaling connections.
package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/internal/signaling"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
)

// DefaultSendBuffer is the per-connection outbound queue size
const DefaultSendBuffer = 256

// Hub maps user ids to their live connections. Sends hold the read lock while
// enqueueing and Unregister takes the write lock, so a send racing an
// unregister either delivers first or does not see the connection at all.
type Hub struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[uuid.UUID]*Connection
	count int

	sendBuffer int
	metrics    *metrics.Metrics
}

// New creates a hub. metrics may be nil.
func New(sendBuffer int, m *metrics.Metrics) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		users:      make(map[uuid.UUID]map[uuid.UUID]*Connection),
		sendBuffer: sendBuffer,
		metrics:    m,
	}
}

// Register adds a new connection for userID
func (h *Hub) Register(userID uuid.UUID) *Connection {
	conn := newConnection(userID, h.sendBuffer)

	h.mu.Lock()
	conns, ok := h.users[userID]
	if !ok {
		conns = make(map[uuid.UUID]*Connection)
		h.users[userID] = conns
	}
	conns[conn.id] = conn
	h.count++
	count := h.count
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(count)
	}
	logger.Debug("Connection registered",
		zap.String("user_id", userID.String()),
		zap.String("conn_id", conn.id.String()))

	return conn
}

// Unregister removes conn and closes its queue. It returns true only for the
// call that actually removed it.
func (h *Hub) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}

	h.mu.Lock()
	conns := h.users[conn.userID]
	if conns == nil || conns[conn.id] != conn {
		h.mu.Unlock()
		return false
	}
	delete(conns, conn.id)
	if len(conns) == 0 {
		delete(h.users, conn.userID)
	}
	h.count--
	count := h.count
	conn.close()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(count)
	}
	logger.Debug("Connection unregistered",
		zap.String("user_id", conn.userID.String()),
		zap.String("conn_id", conn.id.String()))

	return true
}

// SendToUser delivers msg to every connection of userID. Users without
// connections are skipped silently.
func (h *Hub) SendToUser(userID uuid.UUID, msg signaling.Message) {
	data, ok := encode(msg)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliverLocked(userID, data, msg.Type())
}

// SendToUsers delivers msg to each listed user
func (h *Hub) SendToUsers(userIDs []uuid.UUID, msg signaling.Message) {
	if len(userIDs) == 0 {
		return
	}
	data, ok := encode(msg)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		h.deliverLocked(id, data, msg.Type())
	}
}

// Broadcast delivers msg to every registered connection
func (h *Hub) Broadcast(msg signaling.Message) {
	data, ok := encode(msg)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.users {
		h.deliverLocked(id, data, msg.Type())
	}
}

// IsOnline reports whether userID has at least one connection
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// UserConnectionCount returns the number of connections userID holds
func (h *Hub) UserConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// ConnectionCount returns the total number of connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// OnlineUsers returns a snapshot of connected user ids
func (h *Hub) OnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	return ids
}

// deliverLocked must be called with at least the read lock held.
// Send never blocks, so no I/O happens under the lock.
func (h *Hub) deliverLocked(userID uuid.UUID, data []byte, msgType string) {
	for _, conn := range h.users[userID] {
		err := conn.Send(data)
		if err == nil {
			if h.metrics != nil {
				h.metrics.RecordWebSocketMessage(msgType, "out")
			}
			continue
		}

		reason := "closed"
		if errors.Is(err, ErrSendBufferFull) {
			reason = "buffer_full"
		}
		if h.metrics != nil {
			h.metrics.RecordDroppedMessage(reason)
		}
		logger.Debug("Dropped message for connection",
			zap.String("user_id", userID.String()),
			zap.String("conn_id", conn.id.String()),
			zap.String("type", msgType),
			zap.String("reason", reason))
	}
}

func encode(msg signaling.Message) ([]byte, bool) {
	data, err := signaling.Encode(msg)
	if err != nil {
		logger.Error("Failed to encode signaling message",
			zap.String("type", msg.Type()),
			zap.Error(err))
		return nil, false
	}
	return data, true
}
