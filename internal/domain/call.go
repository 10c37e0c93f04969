package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusActive     CallStatus = "active"
	CallStatusEnded      CallStatus = "ended"
	CallStatusMissed     CallStatus = "missed"
	CallStatusRejected   CallStatus = "rejected"
)

// IsTerminal reports whether no further transition is possible
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusRejected:
		return true
	}
	return false
}

// IsJoinable reports whether a participant may open a relay session
func (s CallStatus) IsJoinable() bool {
	switch s {
	case CallStatusInitiating, CallStatusRinging, CallStatusActive:
		return true
	}
	return false
}

// IsAnswerable reports whether the call may still be accepted or rejected
func (s CallStatus) IsAnswerable() bool {
	return s == CallStatusInitiating || s == CallStatusRinging
}

// CanTransition reports whether from -> to is an edge of the call state machine
func CanTransition(from, to CallStatus) bool {
	switch from {
	case CallStatusInitiating:
		return to == CallStatusRinging || to == CallStatusActive || to == CallStatusRejected || to == CallStatusEnded
	case CallStatusRinging:
		return to == CallStatusActive || to == CallStatusRejected || to == CallStatusEnded || to == CallStatusMissed
	case CallStatusActive:
		return to == CallStatusEnded
	}
	return false
}

// CallType is the media kind of a call
type CallType string

const (
	CallTypeVideo CallType = "video"
	CallTypeVoice CallType = "voice"
)

// ParseCallType validates a client-supplied call type; empty means video
func ParseCallType(s string) (CallType, bool) {
	switch CallType(s) {
	case "":
		return CallTypeVideo, true
	case CallTypeVideo, CallTypeVoice:
		return CallType(s), true
	}
	return "", false
}

// Call represents a video/voice call between a direct pair or a group's members
type Call struct {
	CallID          uuid.UUID  `json:"call_id"`
	CallerID        uuid.UUID  `json:"caller_id"`
	ReceiverID      *uuid.UUID `json:"receiver_id,omitempty"`
	GroupID         *uuid.UUID `json:"group_id,omitempty"`
	CallType        CallType   `json:"call_type"`
	Status          CallStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// IsGroup reports whether the call targets a group
func (c *Call) IsGroup() bool {
	return c.GroupID != nil
}

// DurationUntil computes the call duration in whole seconds. It is nil when
// the call never became active.
func (c *Call) DurationUntil(endedAt time.Time) *int {
	if c.StartedAt == nil {
		return nil
	}
	secs := int(endedAt.Sub(*c.StartedAt).Seconds())
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// ParticipantRole distinguishes the initiator from invitees
type ParticipantRole string

const (
	ParticipantRoleInitiator ParticipantRole = "initiator"
	ParticipantRoleInvitee   ParticipantRole = "invitee"
)

// ParticipantStatus is a participant's join state
type ParticipantStatus string

const (
	ParticipantStatusInvited ParticipantStatus = "invited"
	ParticipantStatusJoined  ParticipantStatus = "joined"
	ParticipantStatusLeft    ParticipantStatus = "left"
)

// CallParticipant is a user's membership record within a call
type CallParticipant struct {
	CallID   uuid.UUID         `json:"call_id"`
	UserID   uuid.UUID         `json:"user_id"`
	Role     ParticipantRole   `json:"role"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt *time.Time        `json:"joined_at,omitempty"`
	LeftAt   *time.Time        `json:"left_at,omitempty"`
}

// CallDetails is a call together with its roster
type CallDetails struct {
	Call
	Participants []CallParticipant `json:"participants"`
}

// Participant returns the roster entry for userID
func (d *CallDetails) Participant(userID uuid.UUID) (*CallParticipant, bool) {
	for i := range d.Participants {
		if d.Participants[i].UserID == userID {
			return &d.Participants[i], true
		}
	}
	return nil, false
}

// OtherParticipantIDs lists every participant except userID
func (d *CallDetails) OtherParticipantIDs(userID uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.Participants))
	for _, p := range d.Participants {
		if p.UserID != userID {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// CallHistoryPage is one page of a user's call history
type CallHistoryPage struct {
	Data       []CallDetails `json:"data"`
	Total      int64         `json:"total"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	TotalPages int           `json:"total_pages"`
}
