package signaling

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
)

// Client message types
const (
	TypeSendMessage          = "send_message"
	TypeMarkMessageDelivered = "mark_message_delivered"
	TypeAcceptCall           = "accept_call"
	TypeRejectCall           = "reject_call"
	TypeEndCall              = "end_call"
	TypeSendCallOffer        = "send_call_offer"
	TypeSendCallAnswer       = "send_call_answer"
	TypeSendIceCandidate     = "send_ice_candidate"
)

// ClientMessage is a client-to-server message. The set is closed.
type ClientMessage interface {
	Type() string
	clientMessage()
}

// SendMessage asks to store and deliver a direct message
type SendMessage struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	Content    string    `json:"content"`
	ImageURL   *string   `json:"image_url,omitempty"`
}

// SendTyping reports typing state toward a conversation partner. It shares
// the typing_indicator tag with the server message.
type SendTyping struct {
	ConversationWith uuid.UUID `json:"conversation_with"`
	IsTyping         bool      `json:"is_typing"`
}

// MarkMessageDelivered acknowledges a received message
type MarkMessageDelivered struct {
	MessageID uuid.UUID `json:"message_id"`
}

// AcceptCall answers a call invitation
type AcceptCall struct {
	CallID uuid.UUID `json:"call_id"`
}

// RejectCall declines a call invitation
type RejectCall struct {
	CallID uuid.UUID `json:"call_id"`
}

// EndCall hangs up a call
type EndCall struct {
	CallID uuid.UUID `json:"call_id"`
}

// SendCallOffer forwards an SDP offer to another participant
type SendCallOffer struct {
	CallID   uuid.UUID `json:"call_id"`
	ToUserID uuid.UUID `json:"to_user_id"`
	SDP      string    `json:"sdp"`
}

// SendCallAnswer forwards an SDP answer to another participant
type SendCallAnswer struct {
	CallID   uuid.UUID `json:"call_id"`
	ToUserID uuid.UUID `json:"to_user_id"`
	SDP      string    `json:"sdp"`
}

// SendIceCandidate forwards an ICE candidate to another participant
type SendIceCandidate struct {
	CallID    uuid.UUID `json:"call_id"`
	ToUserID  uuid.UUID `json:"to_user_id"`
	Candidate string    `json:"candidate"`
}

// ClientPing asks the server for a pong
type ClientPing struct{}

func (SendMessage) Type() string          { return TypeSendMessage }
func (SendTyping) Type() string           { return TypeTypingIndicator }
func (MarkMessageDelivered) Type() string { return TypeMarkMessageDelivered }
func (AcceptCall) Type() string           { return TypeAcceptCall }
func (RejectCall) Type() string           { return TypeRejectCall }
func (EndCall) Type() string              { return TypeEndCall }
func (SendCallOffer) Type() string        { return TypeSendCallOffer }
func (SendCallAnswer) Type() string       { return TypeSendCallAnswer }
func (SendIceCandidate) Type() string     { return TypeSendIceCandidate }
func (ClientPing) Type() string           { return TypePing }

func (SendMessage) clientMessage()          {}
func (SendTyping) clientMessage()           {}
func (MarkMessageDelivered) clientMessage() {}
func (AcceptCall) clientMessage()           {}
func (RejectCall) clientMessage()           {}
func (EndCall) clientMessage()              {}
func (SendCallOffer) clientMessage()        {}
func (SendCallAnswer) clientMessage()       {}
func (SendIceCandidate) clientMessage()     {}
func (ClientPing) clientMessage()           {}

// EncodeClient renders a client message; used by clients and tests
func EncodeClient(msg ClientMessage) ([]byte, error) {
	return tag(msg.Type(), msg)
}

// DecodeClientMessage parses one inbound text frame. Unknown tags, malformed
// JSON and missing required fields are BadRequest errors.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, apperrors.BadRequestError("Invalid message format")
	}

	var (
		msg ClientMessage
		err error
	)
	switch envelope.Type {
	case TypeSendMessage:
		var m SendMessage
		if err = json.Unmarshal(data, &m); err == nil {
			err = validateSendMessage(m)
		}
		msg = m
	case TypeTypingIndicator:
		var m SendTyping
		if err = json.Unmarshal(data, &m); err == nil {
			err = requireID(m.ConversationWith, "conversation_with")
		}
		msg = m
	case TypeMarkMessageDelivered:
		var m MarkMessageDelivered
		if err = json.Unmarshal(data, &m); err == nil {
			err = requireID(m.MessageID, "message_id")
		}
		msg = m
	case TypeAcceptCall:
		var m AcceptCall
		if err = json.Unmarshal(data, &m); err == nil {
			err = requireID(m.CallID, "call_id")
		}
		msg = m
	case TypeRejectCall:
		var m RejectCall
		if err = json.Unmarshal(data, &m); err == nil {
			err = requireID(m.CallID, "call_id")
		}
		msg = m
	case TypeEndCall:
		var m EndCall
		if err = json.Unmarshal(data, &m); err == nil {
			err = requireID(m.CallID, "call_id")
		}
		msg = m
	case TypeSendCallOffer:
		var m SendCallOffer
		if err = json.Unmarshal(data, &m); err == nil {
			err = validatePeerSignal(m.CallID, m.ToUserID, m.SDP, "sdp")
		}
		msg = m
	case TypeSendCallAnswer:
		var m SendCallAnswer
		if err = json.Unmarshal(data, &m); err == nil {
			err = validatePeerSignal(m.CallID, m.ToUserID, m.SDP, "sdp")
		}
		msg = m
	case TypeSendIceCandidate:
		var m SendIceCandidate
		if err = json.Unmarshal(data, &m); err == nil {
			err = validatePeerSignal(m.CallID, m.ToUserID, m.Candidate, "candidate")
		}
		msg = m
	case TypePing:
		msg = ClientPing{}
	case "":
		return nil, apperrors.BadRequestError("Missing message type")
	default:
		return nil, apperrors.BadRequestError("Unknown message type: " + envelope.Type)
	}

	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.BadRequestError("Invalid " + envelope.Type + " payload")
	}
	return msg, nil
}

func validateSendMessage(m SendMessage) error {
	if err := requireID(m.ReceiverID, "receiver_id"); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" && (m.ImageURL == nil || *m.ImageURL == "") {
		return apperrors.MissingFieldError("content")
	}
	return nil
}

func validatePeerSignal(callID, to uuid.UUID, payload, field string) error {
	if err := requireID(callID, "call_id"); err != nil {
		return err
	}
	if err := requireID(to, "to_user_id"); err != nil {
		return err
	}
	if payload == "" {
		return apperrors.MissingFieldError(field)
	}
	return nil
}

func requireID(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return apperrors.MissingFieldError(field)
	}
	return nil
}
