package ws

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/internal/middleware"
	"github.com/luli-tech/taskPadi-be/internal/relay"
	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/response"
)

// RelayAuthorizer checks that a user may join a call's relay
type RelayAuthorizer interface {
	AuthorizeRelay(ctx context.Context, callID, userID uuid.UUID) error
}

// RelayHandler serves GET /api/video-calls/:id/ws
type RelayHandler struct {
	bridge   *relay.Bridge
	calls    RelayAuthorizer
	maxSize  int64
	upgrader websocket.Upgrader
}

// NewRelayHandler creates a relay handler. A nil bridge means no pub/sub
// backend is configured and every request gets 503.
func NewRelayHandler(bridge *relay.Bridge, calls RelayAuthorizer, opts Options) *RelayHandler {
	opts.defaults()
	return &RelayHandler{
		bridge:   bridge,
		calls:    calls,
		maxSize:  opts.MaxMessageSize,
		upgrader: newUpgrader(opts),
	}
}

// ServeWS authorizes the caller and bridges the upgraded connection until either side closes
func (h *RelayHandler) ServeWS(c *gin.Context) {
	if h.bridge == nil {
		response.FromError(c, apperrors.ServiceUnavailableError("Media relay is not configured"))
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Authentication required")
		return
	}

	if err := h.calls.AuthorizeRelay(c.Request.Context(), callID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Relay upgrade failed",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	conn.SetReadLimit(h.maxSize)

	// hijacked connections outlive the request context; the bridge owns shutdown
	if err := h.bridge.Run(context.Background(), callID, userID, conn); err != nil {
		logger.Warn("Relay session failed",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

// RegisterRoutes mounts the relay endpoint on an authenticated group
func (h *RelayHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/:id/ws", h.ServeWS)
}
