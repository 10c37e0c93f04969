package chat

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/service/storage"
	"github.com/luli-tech/taskPadi-be/internal/signaling"
	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
)

// MockMessageRepository is a mock implementation of MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) MarkDelivered(ctx context.Context, messageID uuid.UUID, at time.Time) (bool, error) {
	args := m.Called(ctx, messageID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) GetByConversation(ctx context.Context, a, b uuid.UUID, bucket int, limit int, pageState []byte) ([]domain.Message, []byte, error) {
	args := m.Called(ctx, a, b, bucket, limit, pageState)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	next, _ := args.Get(1).([]byte)
	return args.Get(0).([]domain.Message), next, args.Error(2)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockNotificationRepository is a mock implementation of NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.NotificationCreate) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockImageResolver is a mock implementation of ImageResolver
type MockImageResolver struct {
	mock.Mock
}

func (m *MockImageResolver) Resolve(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

type delivery struct {
	to  uuid.UUID
	msg signaling.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []delivery
}

func (n *recordingNotifier) SendToUser(userID uuid.UUID, msg signaling.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, delivery{to: userID, msg: msg})
}

func (n *recordingNotifier) all() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery(nil), n.sent...)
}

type testEnv struct {
	svc           *Service
	messages      *MockMessageRepository
	users         *MockUserRepository
	notifications *MockNotificationRepository
	images        *MockImageResolver
	notifier      *recordingNotifier
	sender        uuid.UUID
	receiver      uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		messages:      new(MockMessageRepository),
		users:         new(MockUserRepository),
		notifications: new(MockNotificationRepository),
		images:        new(MockImageResolver),
		notifier:      &recordingNotifier{},
		sender:        uuid.New(),
		receiver:      uuid.New(),
	}
	env.users.On("GetByID", mock.Anything, env.sender).Return(&domain.User{UserID: env.sender, Username: "alice", IsActive: true}, nil).Maybe()
	env.users.On("GetByID", mock.Anything, env.receiver).Return(&domain.User{UserID: env.receiver, Username: "bob", IsActive: true}, nil).Maybe()
	env.notifications.On("Create", mock.Anything, mock.Anything).Return(nil).Maybe()

	env.svc = NewService(env.messages, env.users, env.notifications, env.images, env.notifier, nil)
	t.Cleanup(env.svc.Wait)
	return env
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	env.messages.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.SenderID == env.sender &&
			m.ReceiverID == env.receiver &&
			m.Content == "hello" &&
			m.ConversationID == domain.ConversationKey(env.receiver, env.sender)
	})).Return(nil)

	msg, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{
		ReceiverID: env.receiver,
		Content:    "  hello  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Nil(t, msg.ImageURL)

	sent := env.notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(t, env.receiver, sent[0].to)
	assert.Equal(t, env.sender, sent[1].to)
	assert.Equal(t, sent[0].msg, sent[1].msg)

	chat, ok := sent[0].msg.(signaling.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, msg.MessageID, chat.ID)

	env.svc.Wait()
	env.notifications.AssertCalled(t, "Create", mock.Anything, mock.MatchedBy(func(n *domain.NotificationCreate) bool {
		return n.UserID == env.receiver && n.Title == "New message from alice" && n.Body == "hello"
	}))
	env.images.AssertNotCalled(t, "Resolve")
}

func TestSendMessage_ResolvesImageKey(t *testing.T) {
	env := newTestEnv(t)
	key := env.sender.String() + "/cat.png"
	env.images.On("Resolve", mock.Anything, key).Return("https://minio.test/chat-images/cat.png?sig=1", nil)
	env.messages.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.ImageURL != nil && *m.ImageURL == key
	})).Return(nil)

	msg, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{
		ReceiverID: env.receiver,
		ImageURL:   &key,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.ImageURL)
	assert.Equal(t, "https://minio.test/chat-images/cat.png?sig=1", *msg.ImageURL)

	chat := env.notifier.all()[0].msg.(signaling.ChatMessage)
	assert.Equal(t, msg.ImageURL, chat.ImageURL)

	env.svc.Wait()
	env.notifications.AssertCalled(t, "Create", mock.Anything, mock.MatchedBy(func(n *domain.NotificationCreate) bool {
		return n.Body == "Sent an image"
	}))
}

// fakeObjectStorage records presign requests made by a real storage.ImageResolver
type fakeObjectStorage struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeObjectStorage) PresignedGetObject(_ context.Context, bucket, key string, _ time.Duration, _ url.Values) (*url.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return url.Parse("https://minio.test/" + bucket + "/" + key + "?X-Amz-Signature=ok")
}

func (f *fakeObjectStorage) presigned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func TestSendMessage_RejectsForeignImageKey(t *testing.T) {
	env := newTestEnv(t)
	store := &fakeObjectStorage{}
	env.svc = NewService(env.messages, env.users, env.notifications,
		storage.NewImageResolver(store, "chat-images", time.Hour), env.notifier, nil)

	for _, ref := range []string{
		"someone-else/private-scan.pdf",
		env.receiver.String() + "/private-scan.pdf",
		env.sender.String() + "/../" + env.receiver.String() + "/private-scan.pdf",
		env.sender.String() + "/",
	} {
		ref := ref
		_, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{
			ReceiverID: env.receiver,
			ImageURL:   &ref,
		})
		require.Error(t, err, ref)
		assert.Equal(t, http.StatusForbidden, apperrors.GetAppError(err).StatusCode, ref)
	}

	assert.Empty(t, store.presigned())
	env.messages.AssertNotCalled(t, "Save")
	assert.Empty(t, env.notifier.all())
}

func TestSendMessage_PresignsOwnImageKey(t *testing.T) {
	env := newTestEnv(t)
	store := &fakeObjectStorage{}
	env.svc = NewService(env.messages, env.users, env.notifications,
		storage.NewImageResolver(store, "chat-images", time.Hour), env.notifier, nil)
	env.messages.On("Save", mock.Anything, mock.Anything).Return(nil)

	key := "/" + env.sender.String() + "/cat.png"
	msg, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{
		ReceiverID: env.receiver,
		ImageURL:   &key,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.ImageURL)
	assert.Equal(t, []string{env.sender.String() + "/cat.png"}, store.presigned())
	assert.Contains(t, *msg.ImageURL, "X-Amz-Signature=ok")
}

func TestSendMessage_ImageResolveFailure(t *testing.T) {
	env := newTestEnv(t)
	env.images.On("Resolve", mock.Anything, mock.Anything).Return("", errors.New("minio down"))

	key := env.sender.String() + "/cat.png"
	_, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{
		ReceiverID: env.receiver,
		ImageURL:   &key,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorage))
	env.messages.AssertNotCalled(t, "Save")
	assert.Empty(t, env.notifier.all())
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t)
	ghost := uuid.New()
	env.users.On("GetByID", mock.Anything, ghost).Return(nil, domain.ErrNotFound)

	tests := []struct {
		name   string
		input  SendMessageInput
		status int
	}{
		{"empty", SendMessageInput{ReceiverID: env.receiver, Content: "   "}, http.StatusBadRequest},
		{"control characters only", SendMessageInput{ReceiverID: env.receiver, Content: "\x00\x07"}, http.StatusBadRequest},
		{"too long", SendMessageInput{ReceiverID: env.receiver, Content: strings.Repeat("é", MaxContentLength+1)}, http.StatusBadRequest},
		{"self", SendMessageInput{ReceiverID: env.sender, Content: "hi"}, http.StatusBadRequest},
		{"unknown receiver", SendMessageInput{ReceiverID: ghost, Content: "hi"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SendMessage(context.Background(), env.sender, &tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.status, apperrors.GetAppError(err).StatusCode)
		})
	}

	// exactly the limit is fine
	env.messages.On("Save", mock.Anything, mock.Anything).Return(nil)
	_, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{
		ReceiverID: env.receiver,
		Content:    strings.Repeat("é", MaxContentLength),
	})
	assert.NoError(t, err)
}

func TestSendMessage_SaveFailure(t *testing.T) {
	env := newTestEnv(t)
	env.messages.On("Save", mock.Anything, mock.Anything).Return(errors.New("cassandra timeout"))

	_, err := env.svc.SendMessage(context.Background(), env.sender, &SendMessageInput{ReceiverID: env.receiver, Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	assert.Empty(t, env.notifier.all())
}

func TestMarkDelivered(t *testing.T) {
	env := newTestEnv(t)
	messageID := uuid.New()
	env.messages.On("GetByID", mock.Anything, messageID).Return(&domain.Message{
		MessageID:  messageID,
		SenderID:   env.sender,
		ReceiverID: env.receiver,
	}, nil)
	env.messages.On("MarkDelivered", mock.Anything, messageID, mock.Anything).Return(true, nil)

	err := env.svc.MarkDelivered(context.Background(), env.sender, messageID)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperrors.GetAppError(err).StatusCode)

	require.NoError(t, env.svc.MarkDelivered(context.Background(), env.receiver, messageID))

	sent := env.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, env.sender, sent[0].to)
	assert.Equal(t, signaling.MessageDelivered{MessageID: messageID}, sent[0].msg)
}

func TestMarkDelivered_NotFound(t *testing.T) {
	env := newTestEnv(t)
	messageID := uuid.New()
	env.messages.On("GetByID", mock.Anything, messageID).Return(nil, domain.ErrNotFound)

	err := env.svc.MarkDelivered(context.Background(), env.receiver, messageID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMessageNotFound))
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return now }

	key := env.sender.String() + "/cat.png"
	foreign := "someone-else/private-scan.pdf"
	stored := []domain.Message{
		{MessageID: uuid.New(), SenderID: env.receiver, ReceiverID: env.sender, Content: "second"},
		{MessageID: uuid.New(), SenderID: env.sender, ReceiverID: env.receiver, ImageURL: &key},
		{MessageID: uuid.New(), SenderID: env.receiver, ReceiverID: env.sender, ImageURL: &foreign},
	}
	env.messages.On("GetByConversation", mock.Anything, env.sender, env.receiver, 202603, maxHistoryLimit, []byte(nil)).
		Return(stored, []byte("next"), nil)
	env.images.On("Resolve", mock.Anything, key).Return("https://minio.test/chat-images/u1/cat.png?sig=2", nil)

	page, err := env.svc.History(context.Background(), env.sender, &HistoryInput{
		WithUserID: env.receiver,
		Limit:      1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 202603, page.Bucket)
	assert.True(t, page.HasMore)
	assert.Equal(t, []byte("next"), page.NextPageState)
	require.Len(t, page.Messages, 3)
	assert.Nil(t, page.Messages[0].ImageURL)
	assert.Equal(t, "https://minio.test/chat-images/u1/cat.png?sig=2", *page.Messages[1].ImageURL)
	assert.Nil(t, page.Messages[2].ImageURL)
	env.images.AssertNotCalled(t, "Resolve", mock.Anything, foreign)
}

func TestHistory_Empty(t *testing.T) {
	env := newTestEnv(t)
	env.messages.On("GetByConversation", mock.Anything, env.sender, env.receiver, 202501, defaultHistoryLimit, []byte(nil)).
		Return(nil, nil, nil)

	page, err := env.svc.History(context.Background(), env.sender, &HistoryInput{WithUserID: env.receiver, Bucket: 202501})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.NotNil(t, page.Messages)
	assert.False(t, page.HasMore)

	_, err = env.svc.History(context.Background(), env.sender, &HistoryInput{WithUserID: env.sender})
	assert.Error(t, err)
}

func TestTyping(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.svc.Typing(env.sender, env.receiver, true))
	sent := env.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, env.receiver, sent[0].to)
	assert.Equal(t, signaling.TypingIndicator{
		UserID:           env.sender,
		ConversationWith: env.receiver,
		IsTyping:         true,
	}, sent[0].msg)

	assert.Error(t, env.svc.Typing(env.sender, env.sender, true))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	assert.Equal(t, strings.Repeat("ü", 50), preview(strings.Repeat("ü", 60)))
}
