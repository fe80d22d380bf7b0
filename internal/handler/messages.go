package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messages      *service.MessageService
	conversations *service.ConversationService
	replies       *service.ReplyService
	feed          realtime.Feed
	logger        *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *service.MessageService, conversations *service.ConversationService, replies *service.ReplyService, feed realtime.Feed, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages:      messages,
		conversations: conversations,
		replies:       replies,
		feed:          feed,
		logger:        log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, err := h.conversations.Open(ctx, identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	msgs, err := h.messages.List(ctx, conv.ID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{Messages: msgs})
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.messages.Send(r.Context(), identity(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Stream handles GET /api/v1/conversations/{id}/stream. It opens a live
// message session for the caller and sends the full message list on
// connect and after every new message.
func (h *MessageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	log := h.logger.With(zap.String("conversation_id", conversationID))

	if _, err := h.conversations.Open(ctx, identity(r), conversationID); err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	session, err := chat.OpenSession(ctx, h.messages, h.feed, identity(r), conversationID, log)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to open conversation")
		return
	}
	defer session.Close()

	stream, ok := startSSE(w)
	if !ok {
		return
	}
	defer stream.close()

	if err := stream.send("messages", &model.ListMessagesResponse{Messages: session.Messages()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return
		case <-session.Done():
			return
		case <-session.Changed():
			if err := stream.send("messages", &model.ListMessagesResponse{Messages: session.Messages()}); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := stream.heartbeat(); err != nil {
				return
			}
		}
	}
}

// SuggestReply handles POST /api/v1/conversations/{id}/suggest-reply
func (h *MessageHandler) SuggestReply(w http.ResponseWriter, r *http.Request) {
	suggestion, err := h.replies.Suggest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to suggest reply")
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}
