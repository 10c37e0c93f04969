package video

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/middleware"
	"github.com/luli-tech/taskPadi-be/internal/service/video"
	"github.com/luli-tech/taskPadi-be/pkg/pagination"
	"github.com/luli-tech/taskPadi-be/pkg/response"
)

// CallService is the part of the video service the REST API exposes
type CallService interface {
	Initiate(ctx context.Context, input *video.InitiateCallInput) (*domain.CallDetails, error)
	Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	Reject(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	End(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	AddParticipant(ctx context.Context, callID, inviterID, newUserID uuid.UUID) (*domain.CallDetails, error)
	GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.CallHistoryPage, error)
	ActiveCalls(ctx context.Context, userID uuid.UUID) ([]domain.CallDetails, error)
}

// Handler handles video call HTTP requests
type Handler struct {
	videoService CallService
}

// NewHandler creates a new video handler
func NewHandler(videoService CallService) *Handler {
	return &Handler{videoService: videoService}
}

// RegisterRoutes mounts the call routes on an authenticated group
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("", h.InitiateCall)
	group.GET("", h.GetHistory)
	group.GET("/active", h.GetActiveCalls)
	group.GET("/:id", h.GetCall)
	group.POST("/:id/accept", h.AcceptCall)
	group.POST("/:id/reject", h.RejectCall)
	group.POST("/:id/end", h.EndCall)
	group.POST("/:id/participants", h.AddParticipant)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ReceiverID *uuid.UUID `json:"receiver_id"`
	GroupID    *uuid.UUID `json:"group_id"`
	CallType   string     `json:"call_type"`
}

// InitiateCall starts a new call
// POST /api/video-calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Invalid request body")
		return
	}

	callerID, ok := currentUser(c)
	if !ok {
		return
	}

	call, err := h.videoService.Initiate(c.Request.Context(), &video.InitiateCallInput{
		CallerID:   callerID,
		ReceiverID: req.ReceiverID,
		GroupID:    req.GroupID,
		CallType:   req.CallType,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// GetHistory lists the caller's calls, newest first
// GET /api/video-calls?limit=&offset=
func (h *Handler) GetHistory(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	p, err := pagination.ParseLimitOffset(c.Query("limit"), c.Query("offset"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	page, err := h.videoService.History(c.Request.Context(), uid, p.Limit, p.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, page)
}

// GetActiveCalls lists the caller's live calls
// GET /api/video-calls/active
func (h *Handler) GetActiveCalls(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	calls, err := h.videoService.ActiveCalls(c.Request.Context(), uid)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, calls)
}

// GetCall retrieves call information
// GET /api/video-calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	h.callAction(c, http.StatusOK, h.videoService.GetCall)
}

// AcceptCall answers a call
// POST /api/video-calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	h.callAction(c, http.StatusOK, h.videoService.Accept)
}

// RejectCall declines a call
// POST /api/video-calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	h.callAction(c, http.StatusOK, h.videoService.Reject)
}

// EndCall terminates a call
// POST /api/video-calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	h.callAction(c, http.StatusOK, h.videoService.End)
}

// AddParticipantRequest names the user to invite
type AddParticipantRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// AddParticipant invites another user into a call in progress
// POST /api/video-calls/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	callID, ok := parseCallID(c)
	if !ok {
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == uuid.Nil {
		response.ValidationError(c, "user_id is required")
		return
	}

	uid, ok := currentUser(c)
	if !ok {
		return
	}

	call, err := h.videoService.AddParticipant(c.Request.Context(), callID, uid, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

type callFunc func(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)

// callAction runs fn for the :id call on behalf of the authenticated user
func (h *Handler) callAction(c *gin.Context, status int, fn callFunc) {
	callID, ok := parseCallID(c)
	if !ok {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	call, err := fn(c.Request.Context(), callID, uid)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, status, call)
}

func parseCallID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return id, true
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
	}
	return id, ok
}
