package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
	maxFrameBytes  = 16 << 10
	errorQueueSize = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Connections authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client frame types.
const (
	FrameSend   = "send"
	FrameTyping = "typing"
	FrameRead   = "read"
)

// clientFrame is what the browser sends over the chat socket.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// serverFrame is what the server pushes: a full view state or an error.
type serverFrame struct {
	Type  string          `json:"type"`
	State *chat.ViewState `json:"state,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ChatOptions tunes the live pieces behind a chat socket.
type ChatOptions struct {
	PresenceHeartbeat time.Duration
	TypingTimeout     time.Duration
}

// ChatHandler serves the chat websocket.
type ChatHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	users         *service.UserService
	feed          realtime.Feed
	presence      realtime.Presence
	opts          ChatOptions
	logger        *logger.Logger
}

// NewChatHandler creates a new chat websocket handler.
func NewChatHandler(
	conversations *service.ConversationService,
	messages *service.MessageService,
	users *service.UserService,
	feed realtime.Feed,
	presence realtime.Presence,
	opts ChatOptions,
	log *logger.Logger,
) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		messages:      messages,
		users:         users,
		feed:          feed,
		presence:      presence,
		opts:          opts,
		logger:        log.Named("chat"),
	}
}

// Serve handles GET /ws/chat?conversation_id=
func (h *ChatHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	conversationID := r.URL.Query().Get("conversation_id")
	if _, err := uuid.Parse(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation_id format")
		return
	}

	conv, err := h.conversations.Open(r.Context(), id, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	peerID := conv.StudentID
	if !id.IsAdmin() {
		peerID = ""
		if conv.AdminID != nil {
			peerID = *conv.AdminID
		}
	}
	peerName := service.UnknownName
	if peerID != "" {
		peerName = h.users.Name(r.Context(), peerID)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	metrics.WebsocketConnectionsActive.Inc()
	defer metrics.WebsocketConnectionsActive.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := h.logger.With(
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", id.UserID),
	)

	view, tracker, err := h.openView(ctx, id, conv.ID, peerID, peerName, log)
	if err != nil {
		log.Error("failed to open chat view", zap.Error(err))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to open chat"),
			time.Now().Add(writeWait))
		return
	}
	defer tracker.Leave()
	defer view.Close()

	errs := make(chan string, errorQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		// Unblocks the reader when the writer gives up first.
		defer ws.Close()
		h.writeLoop(ctx, ws, view, errs, log)
	}()

	h.readLoop(ctx, ws, view, errs, log)
	cancel()
	<-writerDone
}

func (h *ChatHandler) openView(ctx context.Context, id model.Identity, conversationID, peerID, peerName string, log *logger.Logger) (*chat.View, *chat.Tracker, error) {
	session, err := chat.OpenSession(ctx, h.messages, h.feed, id, conversationID, log)
	if err != nil {
		return nil, nil, err
	}

	tracker := chat.NewTracker(h.presence, h.opts.PresenceHeartbeat, log)
	if err := tracker.Join(ctx, id.UserID); err != nil {
		session.Close()
		return nil, nil, err
	}

	return chat.NewView(session, tracker, chat.NewTyping(h.opts.TypingTimeout), peerID, peerName), tracker, nil
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, view *chat.View, errs chan<- string, log *logger.Logger) {
	ws.SetReadLimit(maxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("chat socket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			report(errs, "invalid frame")
			continue
		}

		switch frame.Type {
		case FrameSend:
			if _, err := view.Submit(ctx, frame.Content); err != nil {
				if statusFor(err) == http.StatusInternalServerError {
					log.Error("failed to send message", zap.Error(err))
					report(errs, "failed to send message")
				} else {
					report(errs, err.Error())
				}
			}
		case FrameTyping:
			view.Keystroke()
		case FrameRead:
			if _, err := view.MarkRead(ctx); err != nil {
				log.Warn("failed to mark messages read", zap.Error(err))
			}
		default:
			report(errs, "unknown frame type")
		}
	}
}

func report(errs chan<- string, message string) {
	select {
	case errs <- message:
	default:
	}
}

func (h *ChatHandler) writeLoop(ctx context.Context, ws *websocket.Conn, view *chat.View, errs <-chan string, log *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(frame serverFrame) error {
		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return ws.WriteJSON(frame)
	}

	state := view.State()
	if err := write(serverFrame{Type: "state", State: &state}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-view.Done():
			return
		case <-view.Changes():
			state := view.State()
			if err := write(serverFrame{Type: "state", State: &state}); err != nil {
				log.Debug("chat write failed", zap.Error(err))
				return
			}
		case msg := <-errs:
			if err := write(serverFrame{Type: "error", Error: msg}); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
