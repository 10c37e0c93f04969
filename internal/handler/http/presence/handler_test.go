package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLookup) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func setupRouter(lookup Lookup) *gin.Engine {
	r := gin.New()
	NewHandler(lookup).RegisterRoutes(r.Group("/api/presence"))
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestGetUserStatus(t *testing.T) {
	lookup := new(MockLookup)
	userID := uuid.New()
	lookup.On("IsUserOnline", mock.Anything, userID).Return(true, nil)

	w, env := do(t, setupRouter(lookup), "/api/presence/"+userID.String())

	assert.Equal(t, http.StatusOK, w.Code)
	var status UserStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, userID, status.UserID)
	assert.True(t, status.IsOnline)
}

func TestGetUserStatus_InvalidID(t *testing.T) {
	lookup := new(MockLookup)

	w, env := do(t, setupRouter(lookup), "/api/presence/not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
	lookup.AssertNotCalled(t, "IsUserOnline", mock.Anything, mock.Anything)
}

func TestGetOnlineUsers(t *testing.T) {
	lookup := new(MockLookup)
	online := []uuid.UUID{uuid.New(), uuid.New()}
	lookup.On("GetOnlineUsers", mock.Anything).Return(online, nil)

	w, env := do(t, setupRouter(lookup), "/api/presence/online")

	assert.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Users []uuid.UUID `json:"users"`
		Count int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.ElementsMatch(t, online, data.Users)
	assert.Equal(t, 2, data.Count)
}

func TestGetOnlineUsers_StoreDown(t *testing.T) {
	lookup := new(MockLookup)
	lookup.On("GetOnlineUsers", mock.Anything).Return(nil, errors.New("connection refused"))

	w, env := do(t, setupRouter(lookup), "/api/presence/online")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)
}
