package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/hub"
	"github.com/luli-tech/taskPadi-be/internal/middleware"
	"github.com/luli-tech/taskPadi-be/internal/service/chat"
	"github.com/luli-tech/taskPadi-be/internal/signaling"
	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
	"github.com/luli-tech/taskPadi-be/pkg/response"
)

const dispatchTimeout = 10 * time.Second

var errQueueClosed = errors.New("outbound queue closed")

// Presence registers signaling connections
type Presence interface {
	Connect(ctx context.Context, userID uuid.UUID) *hub.Connection
	Disconnect(ctx context.Context, conn *hub.Connection)
	Refresh(ctx context.Context, userID uuid.UUID)
}

// Router delivers messages to a user's connections
type Router interface {
	SendToUser(userID uuid.UUID, msg signaling.Message)
}

// ChatService handles chat client messages
type ChatService interface {
	SendMessage(ctx context.Context, senderID uuid.UUID, input *chat.SendMessageInput) (*domain.Message, error)
	MarkDelivered(ctx context.Context, userID, messageID uuid.UUID) error
	Typing(userID, towardID uuid.UUID, isTyping bool) error
}

// CallService handles call control and authorizes peer signaling
type CallService interface {
	Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	Reject(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	End(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error)
	AuthorizeSignal(ctx context.Context, callID, from, to uuid.UUID) error
}

// Options tunes WebSocket connections
type Options struct {
	HeartbeatInterval time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	CheckOrigin       func(r *http.Request) bool
	Metrics           *metrics.Metrics
}

func (o *Options) defaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.PongWait <= o.HeartbeatInterval {
		o.PongWait = 2 * o.HeartbeatInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
}

func newUpgrader(opts Options) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.CheckOrigin,
	}
}

// SignalingHandler serves the main signaling connection at GET /ws
type SignalingHandler struct {
	presence Presence
	router   Router
	chat     ChatService
	calls    CallService
	opts     Options
	upgrader websocket.Upgrader

	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// NewSignalingHandler creates a signaling handler. A nil chat service answers
// chat messages with ServiceUnavailable; typing indicators are still relayed.
func NewSignalingHandler(p Presence, router Router, chatSvc ChatService, calls CallService, opts Options) *SignalingHandler {
	opts.defaults()
	base, stop := context.WithCancel(context.Background())
	return &SignalingHandler{
		presence: p,
		router:   router,
		chat:     chatSvc,
		calls:    calls,
		opts:     opts,
		upgrader: newUpgrader(opts),
		base:     base,
		stop:     stop,
	}
}

// Shutdown ends every signaling session and waits for their cleanup
func (h *SignalingHandler) Shutdown() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.stop()
	h.sessions.Wait()
}

// begin counts a new session unless Shutdown has started
func (h *SignalingHandler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}

// ServeWS upgrades an authenticated request and runs the session until the
// client goes away
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Authentication required")
		return
	}
	if !h.begin() {
		response.FromError(c, apperrors.ServiceUnavailableError("Server is shutting down"))
		return
	}
	defer h.sessions.Done()

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		h.recordError("upgrade")
		return
	}

	s := &session{
		handler: h,
		ws:      wsConn,
		userID:  userID,
		log:     logger.With(zap.String("user_id", userID.String())),
	}
	s.run()
}

type session struct {
	handler *SignalingHandler
	ws      *websocket.Conn
	conn    *hub.Connection
	userID  uuid.UUID
	log     *zap.Logger
}

// run blocks until both loops have exited, then unregisters the connection
func (s *session) run() {
	h := s.handler
	s.conn = h.presence.Connect(h.base, s.userID)
	s.log = s.log.With(zap.String("conn_id", s.conn.ID().String()))
	s.log.Info("Signaling connection opened")

	ctx, cancel := context.WithCancel(h.base)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.readLoop(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.writeLoop(ctx)
	})
	g.Go(func() error {
		// unblocks ReadMessage once either loop is done
		<-ctx.Done()
		_ = s.ws.Close()
		return nil
	})
	err := g.Wait()
	cancel()

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()
	h.presence.Disconnect(cleanupCtx, s.conn)

	if err != nil {
		s.log.Info("Signaling connection closed", zap.Error(err))
	} else {
		s.log.Info("Signaling connection closed")
	}
}

func (s *session) readLoop(ctx context.Context) error {
	opts := s.handler.opts
	s.ws.SetReadLimit(opts.MaxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		frameType, data, err := s.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("Signaling read failed", zap.Error(err))
				s.handler.recordError("read")
				return err
			}
			return nil
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(opts.PongWait))

		if frameType != websocket.TextMessage {
			s.log.Warn("Ignoring non-text frame on signaling connection", zap.Int("frame_type", frameType))
			s.handler.recordError("binary_frame")
			continue
		}

		msg, err := signaling.DecodeClientMessage(data)
		if err != nil {
			s.replyError(err)
			continue
		}
		s.handler.recordMessage(msg.Type(), "inbound")

		if err := s.dispatch(ctx, msg); err != nil {
			s.replyError(err)
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	opts := s.handler.opts
	ticker := time.NewTicker(opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			_ = s.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return nil

		case data, ok := <-s.conn.Outbound():
			if !ok {
				return errQueueClosed
			}
			_ = s.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.handler.recordError("write")
				return err
			}

		case <-ticker.C:
			// a connection whose queue cannot take a ping is treated as dead
			if err := s.conn.SendMessage(signaling.Ping{}); err != nil {
				return err
			}
			_ = s.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
			s.handler.presence.Refresh(ctx, s.userID)
		}
	}
}

func (s *session) dispatch(ctx context.Context, msg signaling.ClientMessage) error {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	h := s.handler
	switch m := msg.(type) {
	case signaling.ClientPing:
		return s.conn.SendMessage(signaling.Pong{})

	case signaling.SendMessage:
		if h.chat == nil {
			return errChatUnavailable
		}
		_, err := h.chat.SendMessage(ctx, s.userID, &chat.SendMessageInput{
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			ImageURL:   m.ImageURL,
		})
		return err
	case signaling.SendTyping:
		if h.chat != nil {
			return h.chat.Typing(s.userID, m.ConversationWith, m.IsTyping)
		}
		if m.ConversationWith == s.userID {
			return apperrors.BadRequestError("Cannot send typing indicator to yourself")
		}
		h.router.SendToUser(m.ConversationWith, signaling.TypingIndicator{
			UserID:           s.userID,
			ConversationWith: m.ConversationWith,
			IsTyping:         m.IsTyping,
		})
		return nil
	case signaling.MarkMessageDelivered:
		if h.chat == nil {
			return errChatUnavailable
		}
		return h.chat.MarkDelivered(ctx, s.userID, m.MessageID)

	case signaling.AcceptCall:
		_, err := h.calls.Accept(ctx, m.CallID, s.userID)
		return err
	case signaling.RejectCall:
		_, err := h.calls.Reject(ctx, m.CallID, s.userID)
		return err
	case signaling.EndCall:
		_, err := h.calls.End(ctx, m.CallID, s.userID)
		return err

	case signaling.SendCallOffer:
		return s.forward(ctx, m.CallID, m.ToUserID, signaling.CallOffer{CallID: m.CallID, FromUserID: s.userID, ToUserID: m.ToUserID, SDP: m.SDP})
	case signaling.SendCallAnswer:
		return s.forward(ctx, m.CallID, m.ToUserID, signaling.CallAnswer{CallID: m.CallID, FromUserID: s.userID, ToUserID: m.ToUserID, SDP: m.SDP})
	case signaling.SendIceCandidate:
		return s.forward(ctx, m.CallID, m.ToUserID, signaling.IceCandidate{CallID: m.CallID, FromUserID: s.userID, ToUserID: m.ToUserID, Candidate: m.Candidate})
	}

	return apperrors.BadRequestError("Unsupported message type: " + msg.Type())
}

var errChatUnavailable = apperrors.ServiceUnavailableError("Chat is not configured")

func (s *session) forward(ctx context.Context, callID, to uuid.UUID, out signaling.Message) error {
	if err := s.handler.calls.AuthorizeSignal(ctx, callID, s.userID, to); err != nil {
		return err
	}
	s.handler.router.SendToUser(to, out)
	return nil
}

// replyError sends an error frame to this connection only
func (s *session) replyError(err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		s.log.Error("Signaling message failed", zap.Error(err))
	} else {
		s.log.Debug("Signaling message rejected", zap.Error(err))
	}
	s.handler.recordError(string(appErr.Code))

	if sendErr := s.conn.SendMessage(signaling.Error{Message: appErr.Message, Code: string(appErr.Code)}); sendErr != nil {
		s.log.Debug("Failed to queue error reply", zap.Error(sendErr))
	}
}

func (h *SignalingHandler) recordMessage(msgType, direction string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.RecordWebSocketMessage(msgType, direction)
	}
}

func (h *SignalingHandler) recordError(reason string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.RecordWebSocketError(reason)
	}
}
