package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/luli-tech/taskPadi-be/internal/signaling"
)

var (
	// ErrConnectionClosed is returned when sending to an unregistered connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when the outbound queue has no free slot
	ErrSendBufferFull = errors.New("send buffer full")
)

// Connection is one live signaling channel owned by a user session. The
// writer goroutine drains Outbound until the hub closes it.
type Connection struct {
	id     uuid.UUID
	userID uuid.UUID
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func newConnection(userID uuid.UUID, buffer int) *Connection {
	return &Connection{
		id:     uuid.New(),
		userID: userID,
		send:   make(chan []byte, buffer),
	}
}

// ID identifies this connection among the user's devices
func (c *Connection) ID() uuid.UUID { return c.id }

// UserID returns the owning user
func (c *Connection) UserID() uuid.UUID { return c.userID }

// Outbound is the FIFO queue of encoded frames. It is closed on unregister.
func (c *Connection) Outbound() <-chan []byte { return c.send }

// Closed reports whether the connection has been unregistered
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send enqueues an encoded frame without blocking
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendMessage encodes msg and enqueues it on this connection only
func (c *Connection) SendMessage(msg signaling.Message) error {
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
