package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
)

// MessageRepository handles direct message storage in Cassandra.
// messages_by_conversation is partitioned by (conversation_id, bucket) where
// bucket is the yyyymm of created_at; messages_by_id serves lookups.
type MessageRepository struct {
	session *gocql.Session
	metrics *metrics.Metrics
}

// NewMessageRepository creates a new MessageRepository. m may be nil.
func NewMessageRepository(session *gocql.Session, m *metrics.Metrics) *MessageRepository {
	return &MessageRepository{session: session, metrics: m}
}

func (r *MessageRepository) observe(operation string, start time.Time, err *error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case *err == nil, errors.Is(*err, domain.ErrNotFound):
	case errors.Is(*err, gocql.ErrTimeoutNoResponse), errors.Is(*err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	r.metrics.RecordCassandraQuery(operation, status, time.Since(start))
}

// Save writes the message to both tables in a logged batch
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) (err error) {
	defer r.observe("save", time.Now(), &err)

	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}
	if message.ConversationID == "" {
		message.ConversationID = domain.ConversationKey(message.SenderID, message.ReceiverID)
	}
	bucket := domain.MessageBucket(message.CreatedAt)

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO messages_by_conversation (
			conversation_id, bucket, created_at, message_id, sender_id, receiver_id, content, image_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ConversationID,
		bucket,
		message.CreatedAt,
		gocql.UUID(message.MessageID),
		gocql.UUID(message.SenderID),
		gocql.UUID(message.ReceiverID),
		message.Content,
		message.ImageURL,
	)
	batch.Query(`
		INSERT INTO messages_by_id (
			message_id, conversation_id, bucket, sender_id, receiver_id, content, image_url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gocql.UUID(message.MessageID),
		message.ConversationID,
		bucket,
		gocql.UUID(message.SenderID),
		gocql.UUID(message.ReceiverID),
		message.Content,
		message.ImageURL,
		message.CreatedAt,
	)

	if err = r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (_ *domain.Message, err error) {
	defer r.observe("get_by_id", time.Now(), &err)

	var (
		id, sender, receiver gocql.UUID
		msg                  domain.Message
		deliveredAt          time.Time
	)
	err = r.session.Query(`
		SELECT message_id, conversation_id, sender_id, receiver_id, content, image_url, created_at, delivered_at
		FROM messages_by_id
		WHERE message_id = ?`,
		gocql.UUID(messageID),
	).WithContext(ctx).Scan(
		&id,
		&msg.ConversationID,
		&sender,
		&receiver,
		&msg.Content,
		&msg.ImageURL,
		&msg.CreatedAt,
		&deliveredAt,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg.MessageID = uuid.UUID(id)
	msg.SenderID = uuid.UUID(sender)
	msg.ReceiverID = uuid.UUID(receiver)
	if !deliveredAt.IsZero() {
		msg.DeliveredAt = &deliveredAt
	}
	return &msg, nil
}

// MarkDelivered sets delivered_at once. It reports whether this call set it.
func (r *MessageRepository) MarkDelivered(ctx context.Context, messageID uuid.UUID, at time.Time) (_ bool, err error) {
	defer r.observe("mark_delivered", time.Now(), &err)

	var current time.Time
	applied, err := r.session.Query(`
		UPDATE messages_by_id SET delivered_at = ?
		WHERE message_id = ?
		IF delivered_at = null`,
		at,
		gocql.UUID(messageID),
	).WithContext(ctx).ScanCAS(&current)
	if err != nil {
		return false, fmt.Errorf("failed to mark message delivered: %w", err)
	}
	return applied, nil
}

// GetByConversation retrieves one page of a conversation bucket, newest
// first. Setting the page state turns off automatic paging.
func (r *MessageRepository) GetByConversation(ctx context.Context, a, b uuid.UUID, bucket int, limit int, pageState []byte) (_ []domain.Message, _ []byte, err error) {
	defer r.observe("get_by_conversation", time.Now(), &err)

	conversationID := domain.ConversationKey(a, b)
	iter := r.session.Query(`
		SELECT message_id, sender_id, receiver_id, content, image_url, created_at
		FROM messages_by_conversation
		WHERE conversation_id = ? AND bucket = ?
		ORDER BY created_at DESC`,
		conversationID, bucket,
	).WithContext(ctx).PageSize(limit).PageState(pageState).Iter()

	var (
		messages             []domain.Message
		id, sender, receiver gocql.UUID
		msg                  domain.Message
	)
	for iter.Scan(&id, &sender, &receiver, &msg.Content, &msg.ImageURL, &msg.CreatedAt) {
		msg.MessageID = uuid.UUID(id)
		msg.SenderID = uuid.UUID(sender)
		msg.ReceiverID = uuid.UUID(receiver)
		msg.ConversationID = conversationID
		messages = append(messages, msg)
		msg = domain.Message{}
	}

	nextPageState := iter.PageState()
	if err = iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nextPageState, nil
}
