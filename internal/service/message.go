package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

// MessageService handles message operations.
type MessageService struct {
	messages      store.MessageStore
	conversations *ConversationService
	publisher
	now Clock
}

// NewMessageService creates a new message service.
func NewMessageService(messages store.MessageStore, conversations *ConversationService, feed realtime.Feed, log *logger.Logger) *MessageService {
	log = log.Named("messages")
	return &MessageService{
		messages:      messages,
		conversations: conversations,
		publisher:     publisher{feed: feed, logger: log},
		now:           utcNow,
	}
}

// List returns a conversation's messages in creation order.
func (s *MessageService) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// Send stores a message from the caller. The conversation preview and the
// recipient's unread counter change in the same write.
func (s *MessageService) Send(ctx context.Context, sender model.Identity, conversationID, body string) (*model.Message, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.conversations.Open(ctx, sender, conversationID)
	if err != nil {
		return nil, err
	}

	recipient := model.SideAdmin
	if sender.IsAdmin() {
		recipient = model.SideStudent
	}

	msg := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       sender.UserID,
		Content:        content,
		IsRead:         false,
		CreatedAt:      s.now(),
	}

	updated, err := s.messages.AppendMessage(ctx, msg, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(sender.Role)).Inc()
	s.logger.Debug("message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("sender_id", sender.UserID),
	)

	s.publish(ctx, model.TableMessages, model.ChangeInsert, conv.ID, msg)
	s.publish(ctx, model.TableConversations, model.ChangeUpdate, updated.StudentID, updated)
	return msg, nil
}

// MarkRead flags every message not written by readerID as read.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	n, err := s.messages.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	if n > 0 {
		s.publish(ctx, model.TableMessages, model.ChangeUpdate, conversationID, model.MarkReadResponse{Updated: n})
	}
	return n, nil
}

// Acknowledge marks the conversation read for the caller and clears the
// caller's unread counter.
func (s *MessageService) Acknowledge(ctx context.Context, reader model.Identity, conversationID string) (int, error) {
	conv, err := s.conversations.Open(ctx, reader, conversationID)
	if err != nil {
		return 0, err
	}
	n, err := s.MarkRead(ctx, conv.ID, reader.UserID)
	if err != nil {
		return 0, err
	}
	if conv.Unread(reader.Role.Side()) > 0 {
		if _, err := s.conversations.ResetUnread(ctx, conv.ID, reader.Role.Side()); err != nil {
			return n, err
		}
	}
	return n, nil
}
