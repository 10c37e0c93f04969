// Package relay bridges a participant's relay connection to the pub/sub
// backend. Payloads are never inspected.
package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luli-tech/taskPadi-be/internal/pubsub"
)

// Transport is the participant side of a relay session.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session holds the addressing for one (call, user) relay
type Session struct {
	CallID           uuid.UUID
	UserID           uuid.UUID
	PublishSubject   string
	SubscribePattern string
	Group            string
}

// NewSession derives the addressing for userID in callID using the bus's
// subject scheme: call.{call}.{user} / call.{call}.* on NATS.
func NewSession(bus pubsub.Bus, callID, userID uuid.UUID) Session {
	call := callID.String()
	return Session{
		CallID:           callID,
		UserID:           userID,
		PublishSubject:   bus.Subject("call", call, userID.String()),
		SubscribePattern: bus.Subject("call", call, bus.Wildcard()),
		Group:            fmt.Sprintf("media-%s-%s", call, userID),
	}
}

type sessionKey struct {
	callID uuid.UUID
	userID uuid.UUID
}

func (s Session) key() sessionKey {
	return sessionKey{callID: s.CallID, userID: s.UserID}
}
