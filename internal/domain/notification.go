package domain

import (
	"github.com/google/uuid"
)

// Notification types written by the realtime core
const (
	NotificationTypeMessage = "message"
	NotificationTypeCall    = "call"
)

// NotificationCreate represents data needed to create a notification record
type NotificationCreate struct {
	UserID uuid.UUID
	Type   string
	Title  string
	Body   string
	Data   map[string]interface{}
}
