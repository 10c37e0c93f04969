package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
	"github.com/luli-tech/taskPadi-be/pkg/response"
)

// Lookup reads the shared presence record
type Lookup interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error)
}

// Handler exposes presence over REST
type Handler struct {
	presence Lookup
}

// NewHandler creates a new presence handler
func NewHandler(presence Lookup) *Handler {
	return &Handler{presence: presence}
}

// RegisterRoutes mounts the presence routes on an authenticated group
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/online", h.GetOnlineUsers)
	group.GET("/:user_id", h.GetUserStatus)
}

// UserStatus is one user's presence
type UserStatus struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

// GetOnlineUsers lists users with a live connection on any instance
// GET /api/presence/online
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	users, err := h.presence.GetOnlineUsers(c.Request.Context())
	if err != nil {
		response.FromError(c, unavailable(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

// GetUserStatus reports whether one user is online
// GET /api/presence/:user_id
func (h *Handler) GetUserStatus(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	online, err := h.presence.IsUserOnline(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, unavailable(err))
		return
	}

	response.Success(c, http.StatusOK, UserStatus{UserID: userID, IsOnline: online})
}

func unavailable(err error) error {
	return apperrors.WrapWithStatus(apperrors.ErrCodeServiceUnavail, "Presence is unavailable", http.StatusServiceUnavailable, err)
}
