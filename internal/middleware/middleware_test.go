package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/pkg/jwt"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockRevocationChecker struct {
	mock.Mock
}

func (m *MockRevocationChecker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}

type MockUserLookup struct {
	mock.Mock
}

func (m *MockUserLookup) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func newManager() *jwt.JWTManager {
	return jwt.NewJWTManager("test-secret", "issuer", "audience", time.Minute)
}

func authRouter(a *Authenticator) *gin.Engine {
	r := gin.New()
	r.GET("/me", a.Middleware(), func(c *gin.Context) {
		id, ok := GetUserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	return r
}

func TestAuthenticator(t *testing.T) {
	manager := newManager()
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "alice", "user")
	require.NoError(t, err)

	foreign, err := jwt.NewJWTManager("other-secret", "issuer", "audience", time.Minute).
		GenerateAccessToken(userID, "alice", "user")
	require.NoError(t, err)

	users := new(MockUserLookup)
	users.On("GetByID", mock.Anything, userID).Return(&domain.User{UserID: userID, IsActive: true}, nil)
	revoked := new(MockRevocationChecker)
	revoked.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil)

	router := authRouter(NewAuthenticator(manager, revoked, users))

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer header", "/me", "Bearer " + token, http.StatusOK},
		{"query token", "/me?token=" + token, "", http.StatusOK},
		{"missing token", "/me", "", http.StatusUnauthorized},
		{"malformed header", "/me", "Token " + token, http.StatusUnauthorized},
		{"wrong signature", "/me", "Bearer " + foreign, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String(), w.Body.String())
			}
		})
	}
}

func TestAuthenticator_Revocation(t *testing.T) {
	manager := newManager()
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "alice", "user")
	require.NoError(t, err)

	t.Run("revoked", func(t *testing.T) {
		revoked := new(MockRevocationChecker)
		revoked.On("IsRevoked", mock.Anything, mock.Anything).Return(true, nil)

		_, err := NewAuthenticator(manager, revoked, nil).Authenticate(context.Background(), token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TOKEN_REVOKED")
	})

	t.Run("blacklist unavailable fails open", func(t *testing.T) {
		revoked := new(MockRevocationChecker)
		revoked.On("IsRevoked", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))

		claims, err := NewAuthenticator(manager, revoked, nil).Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
	})
}

func TestAuthenticator_AccountChecks(t *testing.T) {
	manager := newManager()
	inactive, ghost := uuid.New(), uuid.New()

	users := new(MockUserLookup)
	users.On("GetByID", mock.Anything, inactive).Return(&domain.User{UserID: inactive, IsActive: false}, nil)
	users.On("GetByID", mock.Anything, ghost).Return(nil, domain.ErrNotFound)
	a := NewAuthenticator(manager, nil, users)

	token, _ := manager.GenerateAccessToken(inactive, "bob", "user")
	_, err := a.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCOUNT_INACTIVE")

	token, _ = manager.GenerateAccessToken(ghost, "ghost", "user")
	_, err = a.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TOKEN")
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware(NewOriginPolicy([]string{"http://app.test"})))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		method string
		origin string
		status int
	}{
		{"allowed origin", http.MethodGet, "http://app.test", http.StatusOK},
		{"no origin", http.MethodGet, "", http.StatusOK},
		{"foreign origin", http.MethodGet, "http://evil.test", http.StatusForbidden},
		{"preflight", http.MethodOptions, "http://app.test", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ping", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusForbidden && tt.origin != "" {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	p := NewOriginPolicy([]string{"*"})
	assert.True(t, p.Allowed("http://anything.test"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://other.test")
	assert.False(t, NewOriginPolicy(nil).CheckOrigin(req))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestLogger_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestMetricsHandler(t *testing.T) {
	m := metrics.NewMetrics("test")
	r := gin.New()
	r.Use(NewPrometheusMiddleware(m).Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", MetricsHandler(m))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{endpoint="/ping",method="GET",service="test",status="200"} 1`)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.GET("/calls", NewRateLimiter(client, "calls", 2, time.Minute).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	mr.FastForward(time.Minute + time.Second)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	r := gin.New()
	r.GET("/calls", NewRateLimiter(client, "calls", 1, time.Minute).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
