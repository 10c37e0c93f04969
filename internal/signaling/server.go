// Package signaling defines the tagged JSON messages exchanged over the main
// signaling connection. Every frame is a JSON object whose "type" field names
// the variant.
package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Server message types
const (
	TypeChatMessage      = "chat_message"
	TypeTypingIndicator  = "typing_indicator"
	TypeMessageDelivered = "message_delivered"
	TypeUserStatus       = "user_status"
	TypeCallInitiated    = "call_initiated"
	TypeCallAccepted     = "call_accepted"
	TypeCallRejected     = "call_rejected"
	TypeCallEnded        = "call_ended"
	TypeCallOffer        = "call_offer"
	TypeCallAnswer       = "call_answer"
	TypeIceCandidate     = "ice_candidate"
	TypeError            = "error"
	TypePing             = "ping"
	TypePong             = "pong"
)

// Message is a server-to-client message. The set is closed.
type Message interface {
	Type() string
	serverMessage()
}

// RelayPath is the relative path of the relay connection for a call
func RelayPath(callID uuid.UUID) string {
	return "/api/video-calls/" + callID.String() + "/ws"
}

// ChatMessage delivers a stored direct message to both parties
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Content    string    `json:"content"`
	ImageURL   *string   `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TypingIndicator tells a user whether their conversation partner is typing
type TypingIndicator struct {
	UserID           uuid.UUID `json:"user_id"`
	ConversationWith uuid.UUID `json:"conversation_with"`
	IsTyping         bool      `json:"is_typing"`
}

// MessageDelivered tells a sender that the receiver got their message
type MessageDelivered struct {
	MessageID uuid.UUID `json:"message_id"`
}

// UserStatus announces a user going online or offline
type UserStatus struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

// CallInitiated invites a user to a call. It is also sent to users added to a
// call in progress.
type CallInitiated struct {
	CallID     uuid.UUID `json:"call_id"`
	CallerID   uuid.UUID `json:"caller_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	CallType   string    `json:"call_type"`
	WSURL      string    `json:"ws_url"`
}

// CallAccepted tells participants the call is now active
type CallAccepted struct {
	CallID     uuid.UUID `json:"call_id"`
	CallerID   uuid.UUID `json:"caller_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	CallType   string    `json:"call_type"`
	WSURL      string    `json:"ws_url"`
}

// CallRejected tells the caller the invitation was declined
type CallRejected struct {
	CallID     uuid.UUID `json:"call_id"`
	CallerID   uuid.UUID `json:"caller_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	CallType   string    `json:"call_type"`
}

// CallEnded tells participants the call is over
type CallEnded struct {
	CallID  uuid.UUID `json:"call_id"`
	EndedBy uuid.UUID `json:"ended_by"`
}

// CallOffer carries a peer's SDP offer
type CallOffer struct {
	CallID     uuid.UUID `json:"call_id"`
	FromUserID uuid.UUID `json:"from_user_id"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	SDP        string    `json:"sdp"`
}

// CallAnswer carries a peer's SDP answer
type CallAnswer struct {
	CallID     uuid.UUID `json:"call_id"`
	FromUserID uuid.UUID `json:"from_user_id"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	SDP        string    `json:"sdp"`
}

// IceCandidate carries a peer's ICE candidate
type IceCandidate struct {
	CallID     uuid.UUID `json:"call_id"`
	FromUserID uuid.UUID `json:"from_user_id"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	Candidate  string    `json:"candidate"`
}

// Error reports a failed client request
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Ping is the application-level heartbeat
type Ping struct{}

// Pong answers a client ping
type Pong struct{}

func (ChatMessage) Type() string      { return TypeChatMessage }
func (TypingIndicator) Type() string  { return TypeTypingIndicator }
func (MessageDelivered) Type() string { return TypeMessageDelivered }
func (UserStatus) Type() string       { return TypeUserStatus }
func (CallInitiated) Type() string    { return TypeCallInitiated }
func (CallAccepted) Type() string     { return TypeCallAccepted }
func (CallRejected) Type() string     { return TypeCallRejected }
func (CallEnded) Type() string        { return TypeCallEnded }
func (CallOffer) Type() string        { return TypeCallOffer }
func (CallAnswer) Type() string       { return TypeCallAnswer }
func (IceCandidate) Type() string     { return TypeIceCandidate }
func (Error) Type() string            { return TypeError }
func (Ping) Type() string             { return TypePing }
func (Pong) Type() string             { return TypePong }

func (ChatMessage) serverMessage()      {}
func (TypingIndicator) serverMessage()  {}
func (MessageDelivered) serverMessage() {}
func (UserStatus) serverMessage()       {}
func (CallInitiated) serverMessage()    {}
func (CallAccepted) serverMessage()     {}
func (CallRejected) serverMessage()     {}
func (CallEnded) serverMessage()        {}
func (CallOffer) serverMessage()        {}
func (CallAnswer) serverMessage()       {}
func (IceCandidate) serverMessage()     {}
func (Error) serverMessage()            {}
func (Ping) serverMessage()             {}
func (Pong) serverMessage()             {}

// Encode renders msg as a tagged JSON object
func Encode(msg Message) ([]byte, error) {
	return tag(msg.Type(), msg)
}

// tag marshals v, which must encode as a JSON object, and prepends the type field
func tag(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", typ, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("failed to encode %s: payload is not an object", typ)
	}

	typeField, _ := json.Marshal(typ)
	out := make([]byte, 0, len(body)+len(typeField)+9)
	out = append(out, `{"type":`...)
	out = append(out, typeField...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
