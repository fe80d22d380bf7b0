// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service  *service.ConversationService
	messages *service.MessageService
	feed     realtime.Feed
	logger   *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, messages *service.MessageService, feed realtime.Feed, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service:  svc,
		messages: messages,
		feed:     feed,
		logger:   log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListForAdmin(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Mine handles POST /api/v1/conversations/mine
func (h *ConversationHandler) Mine(w http.ResponseWriter, r *http.Request) {
	conv, err := h.service.FindOrCreate(r.Context(), identity(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to open conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Unread handles GET /api/v1/conversations/mine/unread
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ForStudent(r.Context(), identity(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get unread count")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// StreamMine handles GET /api/v1/conversations/mine/stream. It sends the
// student's unread badge on connect and after every change to their
// conversation.
func (h *ConversationHandler) StreamMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studentID := identity(r).UserID
	stream, ok := startSSE(w)
	if !ok {
		return
	}
	defer stream.close()

	err := watchWithHeartbeat(ctx, stream, func(ctx context.Context) error {
		return chat.Watch(ctx, h.feed, model.ChangeFilter{Table: model.TableConversations, Scope: studentID},
			func(ctx context.Context) (*model.UnreadResponse, error) {
				return h.service.ForStudent(ctx, studentID)
			},
			func(resp *model.UnreadResponse) error {
				return stream.send("unread", resp)
			},
			h.logger,
		)
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("unread stream ended", zap.String("student_id", studentID), zap.Error(err))
	}
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.service.Open(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Read handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) Read(w http.ResponseWriter, r *http.Request) {
	n, err := h.messages.Acknowledge(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to mark conversation read")
		return
	}
	writeJSON(w, http.StatusOK, &model.MarkReadResponse{Updated: n})
}

// Stream handles GET /api/v1/conversations/stream. It sends the admin list
// on connect and again after every conversation change.
func (h *ConversationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stream, ok := startSSE(w)
	if !ok {
		return
	}
	defer stream.close()

	err := watchWithHeartbeat(ctx, stream, func(ctx context.Context) error {
		return chat.Watch(ctx, h.feed, model.ChangeFilter{Table: model.TableConversations},
			h.service.ListForAdmin,
			func(resp *model.ListConversationsResponse) error {
				return stream.send("conversations", resp)
			},
			h.logger,
		)
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("conversation stream ended", zap.Error(err))
	}
}
