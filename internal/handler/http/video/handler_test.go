package video

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/middleware"
	"github.com/luli-tech/taskPadi-be/internal/service/video"
	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockCallService is a mock implementation of CallService
type MockCallService struct {
	mock.Mock
}

func (m *MockCallService) details(args mock.Arguments) (*domain.CallDetails, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallDetails), args.Error(1)
}

func (m *MockCallService) Initiate(ctx context.Context, input *video.InitiateCallInput) (*domain.CallDetails, error) {
	return m.details(m.Called(ctx, input))
}

func (m *MockCallService) Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	return m.details(m.Called(ctx, callID, userID))
}

func (m *MockCallService) Reject(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	return m.details(m.Called(ctx, callID, userID))
}

func (m *MockCallService) End(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	return m.details(m.Called(ctx, callID, userID))
}

func (m *MockCallService) AddParticipant(ctx context.Context, callID, inviterID, newUserID uuid.UUID) (*domain.CallDetails, error) {
	return m.details(m.Called(ctx, callID, inviterID, newUserID))
}

func (m *MockCallService) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	return m.details(m.Called(ctx, callID, userID))
}

func (m *MockCallService) History(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.CallHistoryPage, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallHistoryPage), args.Error(1)
}

func (m *MockCallService) ActiveCalls(ctx context.Context, userID uuid.UUID) ([]domain.CallDetails, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CallDetails), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupRouter(svc CallService, userID uuid.UUID) *gin.Engine {
	r := gin.New()
	group := r.Group("/api/video-calls", func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(group)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestInitiateCall(t *testing.T) {
	svc := new(MockCallService)
	caller, receiver := uuid.New(), uuid.New()
	call := &domain.CallDetails{Call: domain.Call{CallID: uuid.New(), CallerID: caller, ReceiverID: &receiver, Status: domain.CallStatusInitiating}}

	svc.On("Initiate", mock.Anything, mock.MatchedBy(func(in *video.InitiateCallInput) bool {
		return in.CallerID == caller && in.ReceiverID != nil && *in.ReceiverID == receiver && in.GroupID == nil && in.CallType == "voice"
	})).Return(call, nil)

	w, env := do(t, setupRouter(svc, caller), http.MethodPost, "/api/video-calls", map[string]any{
		"receiver_id": receiver,
		"call_type":   "voice",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	var got domain.CallDetails
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, call.CallID, got.CallID)
}

func TestInitiateCall_Errors(t *testing.T) {
	caller := uuid.New()

	t.Run("malformed body", func(t *testing.T) {
		w, env := do(t, setupRouter(new(MockCallService), caller), http.MethodPost, "/api/video-calls", "nope")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Success)
	})

	t.Run("service validation error", func(t *testing.T) {
		svc := new(MockCallService)
		svc.On("Initiate", mock.Anything, mock.Anything).Return(nil, apperrors.BadRequestError("Either receiver_id or group_id must be provided"))

		w, env := do(t, setupRouter(svc, caller), http.MethodPost, "/api/video-calls", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "BAD_REQUEST", env.Error.Code)
		assert.Equal(t, "Either receiver_id or group_id must be provided", env.Error.Message)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w, _ := do(t, setupRouter(new(MockCallService), uuid.Nil), http.MethodPost, "/api/video-calls", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCallActions(t *testing.T) {
	user := uuid.New()
	callID := uuid.New()
	active := &domain.CallDetails{Call: domain.Call{CallID: callID, Status: domain.CallStatusActive}}

	tests := []struct {
		name   string
		method string
		path   string
		mockFn string
		err    error
		status int
	}{
		{"get", http.MethodGet, "/api/video-calls/" + callID.String(), "GetCall", nil, http.StatusOK},
		{"accept", http.MethodPost, "/api/video-calls/" + callID.String() + "/accept", "Accept", nil, http.StatusOK},
		{"reject forbidden", http.MethodPost, "/api/video-calls/" + callID.String() + "/reject", "Reject", apperrors.ForbiddenError("Only the receiver can answer this call"), http.StatusForbidden},
		{"end not found", http.MethodPost, "/api/video-calls/" + callID.String() + "/end", "End", apperrors.CallNotFoundError(), http.StatusNotFound},
		{"database failure", http.MethodPost, "/api/video-calls/" + callID.String() + "/end", "End", apperrors.DatabaseError(assert.AnError), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockCallService)
			if tt.err != nil {
				svc.On(tt.mockFn, mock.Anything, callID, user).Return(nil, tt.err)
			} else {
				svc.On(tt.mockFn, mock.Anything, callID, user).Return(active, nil)
			}

			w, env := do(t, setupRouter(svc, user), tt.method, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.err == nil, env.Success)
			svc.AssertExpectations(t)
		})
	}
}

func TestCallActions_InvalidID(t *testing.T) {
	svc := new(MockCallService)
	w, env := do(t, setupRouter(svc, uuid.New()), http.MethodPost, "/api/video-calls/not-a-uuid/accept", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid call ID", env.Error.Message)
	svc.AssertNotCalled(t, "Accept")
}

func TestGetHistory(t *testing.T) {
	user := uuid.New()
	svc := new(MockCallService)
	svc.On("History", mock.Anything, user, 100, 5).Return(&domain.CallHistoryPage{Total: 0, Limit: 100, Offset: 5}, nil)
	svc.On("History", mock.Anything, user, 20, 0).Return(&domain.CallHistoryPage{Limit: 20}, nil)
	r := setupRouter(svc, user)

	w, _ := do(t, r, http.MethodGet, "/api/video-calls?limit=500&offset=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/video-calls", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/video-calls?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}

func TestGetActiveCalls(t *testing.T) {
	user := uuid.New()
	svc := new(MockCallService)
	svc.On("ActiveCalls", mock.Anything, user).Return([]domain.CallDetails{{Call: domain.Call{CallID: uuid.New()}}}, nil)

	w, env := do(t, setupRouter(svc, user), http.MethodGet, "/api/video-calls/active", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var calls []domain.CallDetails
	require.NoError(t, json.Unmarshal(env.Data, &calls))
	assert.Len(t, calls, 1)
	svc.AssertNotCalled(t, "GetCall")
}

func TestAddParticipant(t *testing.T) {
	user, invitee, callID := uuid.New(), uuid.New(), uuid.New()
	svc := new(MockCallService)
	svc.On("AddParticipant", mock.Anything, callID, user, invitee).Return(&domain.CallDetails{Call: domain.Call{CallID: callID}}, nil)
	r := setupRouter(svc, user)

	w, _ := do(t, r, http.MethodPost, "/api/video-calls/"+callID.String()+"/participants", map[string]any{"user_id": invitee})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/video-calls/"+callID.String()+"/participants", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNumberOfCalls(t, "AddParticipant", 1)
}
