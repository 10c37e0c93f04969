package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a direct chat message.
// Maps to the Cassandra messages_by_conversation and messages_by_id tables.
type Message struct {
	MessageID      uuid.UUID  `json:"id" cql:"message_id"`
	ConversationID string     `json:"-" cql:"conversation_id"`
	SenderID       uuid.UUID  `json:"sender_id" cql:"sender_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id" cql:"receiver_id"`
	Content        string     `json:"content" cql:"content"`
	ImageURL       *string    `json:"image_url,omitempty" cql:"image_url"`
	CreatedAt      time.Time  `json:"created_at" cql:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" cql:"delivered_at"`
}

// ConversationKey is the partition key for a direct conversation. It is the
// same for both directions.
func ConversationKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// MessageBucket partitions a conversation by calendar month (yyyymm)
func MessageBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}
