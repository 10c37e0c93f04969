package chat

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/middleware"
	"github.com/luli-tech/taskPadi-be/internal/service/chat"
	"github.com/luli-tech/taskPadi-be/pkg/response"
)

// ChatService is the part of the chat service the REST API exposes
type ChatService interface {
	SendMessage(ctx context.Context, senderID uuid.UUID, input *chat.SendMessageInput) (*domain.Message, error)
	MarkDelivered(ctx context.Context, userID, messageID uuid.UUID) error
	History(ctx context.Context, userID uuid.UUID, input *chat.HistoryInput) (*chat.HistoryPage, error)
}

// Handler handles chat HTTP requests
type Handler struct {
	chatService ChatService
}

// NewHandler creates a new chat handler
func NewHandler(chatService ChatService) *Handler {
	return &Handler{chatService: chatService}
}

// RegisterRoutes mounts the message routes on an authenticated group
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("", h.SendMessage)
	group.GET("/with/:user_id", h.GetMessages)
	group.POST("/:id/delivered", h.MarkDelivered)
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	Content    string    `json:"content"`
	ImageURL   *string   `json:"image_url,omitempty"`
}

// GetMessagesQuery represents query parameters for listing messages
type GetMessagesQuery struct {
	Bucket    int    `form:"bucket"`
	Limit     int    `form:"limit"`
	PageState string `form:"page_state"` // Base64 encoded
}

// SendMessage handles sending a new message
// POST /api/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Invalid request body")
		return
	}
	if req.ReceiverID == uuid.Nil {
		response.ValidationError(c, "receiver_id is required")
		return
	}

	senderID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), senderID, &chat.SendMessageInput{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		ImageURL:   req.ImageURL,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, message)
}

// GetMessages retrieves one page of the conversation with another user
// GET /api/messages/with/:user_id?bucket=yyyymm&limit=50&page_state=base64
func (h *Handler) GetMessages(c *gin.Context) {
	withUserID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	var query GetMessagesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, "Invalid query parameters")
		return
	}

	var pageState []byte
	if query.PageState != "" {
		pageState, err = base64.URLEncoding.DecodeString(query.PageState)
		if err != nil {
			response.ValidationError(c, "Invalid page state")
			return
		}
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	page, err := h.chatService.History(c.Request.Context(), userID, &chat.HistoryInput{
		WithUserID: withUserID,
		Bucket:     query.Bucket,
		Limit:      query.Limit,
		PageState:  pageState,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	var nextPageState string
	if len(page.NextPageState) > 0 {
		nextPageState = base64.URLEncoding.EncodeToString(page.NextPageState)
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":        page.Messages,
		"bucket":          page.Bucket,
		"next_page_state": nextPageState,
		"has_more":        page.HasMore,
	})
}

// MarkDelivered acknowledges receipt of a message
// POST /api/messages/:id/delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.MarkDelivered(c.Request.Context(), userID, messageID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message_id": messageID,
		"delivered":  true,
	})
}
