package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/service/storage"
	"github.com/luli-tech/taskPadi-be/internal/signaling"
	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
	"github.com/luli-tech/taskPadi-be/pkg/sanitize"
)

const (
	// MaxContentLength is the longest message body accepted, in runes
	MaxContentLength = 4000

	defaultHistoryLimit = 50
	maxHistoryLimit     = 100

	previewLength       = 50
	notificationTimeout = 5 * time.Second
)

// MessageRepository defines message persistence
type MessageRepository interface {
	Save(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
	MarkDelivered(ctx context.Context, messageID uuid.UUID, at time.Time) (bool, error)
	GetByConversation(ctx context.Context, a, b uuid.UUID, bucket int, limit int, pageState []byte) ([]domain.Message, []byte, error)
}

// UserRepository defines the user lookups the service needs
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// NotificationRepository stores notification records
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.NotificationCreate) error
}

// ImageResolver turns an image reference into a downloadable URL
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Notifier delivers signaling messages to connected users
type Notifier interface {
	SendToUser(userID uuid.UUID, msg signaling.Message)
}

// Service relays direct chat messages, delivery receipts and typing indicators
type Service struct {
	messages      MessageRepository
	users         UserRepository
	notifications NotificationRepository
	images        ImageResolver
	notifier      Notifier
	metrics       *metrics.Metrics
	now           func() time.Time

	background sync.WaitGroup
}

// NewService creates a new chat service. notifications, images and m may be nil.
func NewService(
	messages MessageRepository,
	users UserRepository,
	notifications NotificationRepository,
	images ImageResolver,
	notifier Notifier,
	m *metrics.Metrics,
) *Service {
	return &Service{
		messages:      messages,
		users:         users,
		notifications: notifications,
		images:        images,
		notifier:      notifier,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until background notification writes finish
func (s *Service) Wait() {
	s.background.Wait()
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ReceiverID uuid.UUID
	Content    string
	ImageURL   *string
}

// SendMessage stores a direct message and delivers it to both parties
func (s *Service) SendMessage(ctx context.Context, senderID uuid.UUID, input *SendMessageInput) (*domain.Message, error) {
	content := sanitize.MessageText(input.Content)
	hasImage := input.ImageURL != nil && strings.TrimSpace(*input.ImageURL) != ""
	if content == "" && !hasImage {
		return nil, apperrors.BadRequestError("Message content cannot be empty")
	}
	if !sanitize.ValidateStringLength(content, 0, MaxContentLength) {
		return nil, apperrors.BadRequestError(fmt.Sprintf("Message content exceeds %d characters", MaxContentLength))
	}
	if input.ReceiverID == senderID {
		return nil, apperrors.BadRequestError("Cannot send a message to yourself")
	}

	if _, err := s.lookupUser(ctx, input.ReceiverID); err != nil {
		return nil, err
	}

	// the object key is stored; recipients get a downloadable URL
	var storedRef, deliveredURL *string
	if hasImage {
		ref := strings.TrimSpace(*input.ImageURL)
		if !storage.OwnedBy(ref, senderID) {
			return nil, apperrors.ForbiddenError("Image must be one of your own uploads")
		}
		url := ref
		if s.images != nil {
			resolved, err := s.images.Resolve(ctx, ref)
			if err != nil {
				return nil, apperrors.StorageError(err)
			}
			url = resolved
		}
		storedRef, deliveredURL = &ref, &url
	}

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: domain.ConversationKey(senderID, input.ReceiverID),
		SenderID:       senderID,
		ReceiverID:     input.ReceiverID,
		Content:        content,
		ImageURL:       storedRef,
		CreatedAt:      s.now(),
	}
	if err := s.messages.Save(ctx, message); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	message.ImageURL = deliveredURL

	out := signaling.ChatMessage{
		ID:         message.MessageID,
		SenderID:   senderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		ImageURL:   message.ImageURL,
		CreatedAt:  message.CreatedAt,
	}
	s.notifier.SendToUser(message.ReceiverID, out)
	s.notifier.SendToUser(senderID, out)

	if s.metrics != nil {
		kind := "text"
		if hasImage {
			kind = "image"
		}
		s.metrics.RecordMessage(kind)
	}
	s.notifyAsync(message)

	return message, nil
}

// MarkDelivered records that the receiver got messageID and tells the sender
func (s *Service) MarkDelivered(ctx context.Context, userID, messageID uuid.UUID) error {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.MessageNotFoundError()
		}
		return apperrors.DatabaseError(err)
	}
	if message.ReceiverID != userID {
		return apperrors.ForbiddenError("Only the receiver can mark a message delivered")
	}

	if _, err := s.messages.MarkDelivered(ctx, messageID, s.now()); err != nil {
		return apperrors.DatabaseError(err)
	}

	s.notifier.SendToUser(message.SenderID, signaling.MessageDelivered{MessageID: messageID})
	return nil
}

// HistoryInput selects one page of a conversation. Bucket is a yyyymm month
// and defaults to the current one.
type HistoryInput struct {
	WithUserID uuid.UUID
	Bucket     int
	Limit      int
	PageState  []byte
}

// HistoryPage is one page of a conversation, newest first
type HistoryPage struct {
	Messages      []domain.Message `json:"messages"`
	Bucket        int              `json:"bucket"`
	NextPageState []byte           `json:"next_page_state,omitempty"`
	HasMore       bool             `json:"has_more"`
}

// History returns messages exchanged between userID and input.WithUserID.
// Image references are resolved to downloadable URLs.
func (s *Service) History(ctx context.Context, userID uuid.UUID, input *HistoryInput) (*HistoryPage, error) {
	if input.WithUserID == uuid.Nil || input.WithUserID == userID {
		return nil, apperrors.BadRequestError("A different conversation partner is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	bucket := input.Bucket
	if bucket == 0 {
		bucket = domain.MessageBucket(s.now())
	}

	messages, next, err := s.messages.GetByConversation(ctx, userID, input.WithUserID, bucket, limit, input.PageState)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.images != nil {
		for i := range messages {
			ref := messages[i].ImageURL
			if ref == nil || *ref == "" {
				continue
			}
			if !storage.OwnedBy(*ref, messages[i].SenderID) {
				messages[i].ImageURL = nil
				continue
			}
			url, err := s.images.Resolve(ctx, *ref)
			if err != nil {
				return nil, apperrors.StorageError(err)
			}
			messages[i].ImageURL = &url
		}
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	return &HistoryPage{
		Messages:      messages,
		Bucket:        bucket,
		NextPageState: next,
		HasMore:       len(next) > 0,
	}, nil
}

// Typing forwards a typing indicator from userID to towardID only
func (s *Service) Typing(userID, towardID uuid.UUID, isTyping bool) error {
	if towardID == userID {
		return apperrors.BadRequestError("Cannot send typing indicator to yourself")
	}
	s.notifier.SendToUser(towardID, signaling.TypingIndicator{
		UserID:           userID,
		ConversationWith: towardID,
		IsTyping:         isTyping,
	})
	return nil
}

func (s *Service) lookupUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return user, nil
}

// notifyAsync writes a "new message" record for the receiver. Failures are logged only.
func (s *Service) notifyAsync(message *domain.Message) {
	if s.notifications == nil {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		title := "New message"
		if sender, err := s.users.GetByID(ctx, message.SenderID); err == nil {
			title = fmt.Sprintf("New message from %s", sender.Username)
		}

		body := preview(message.Content)
		if body == "" && message.ImageURL != nil {
			body = "Sent an image"
		}

		err := s.notifications.Create(ctx, &domain.NotificationCreate{
			UserID: message.ReceiverID,
			Type:   domain.NotificationTypeMessage,
			Title:  title,
			Body:   body,
			Data: map[string]interface{}{
				"message_id": message.MessageID.String(),
				"sender_id":  message.SenderID.String(),
			},
		})
		if err != nil {
			logger.Warn("Failed to create message notification",
				zap.String("message_id", message.MessageID.String()),
				zap.Error(err))
		}
	}()
}

// preview truncates content to previewLength runes
func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength])
}
