package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

// UnknownName is shown when a profile cannot be found.
const UnknownName = "Unknown"

// ConversationService handles conversation operations.
type ConversationService struct {
	conversations store.ConversationStore
	users         store.UserStore
	publisher
	now Clock
}

// NewConversationService creates a new conversation service.
func NewConversationService(conversations store.ConversationStore, users store.UserStore, feed realtime.Feed, log *logger.Logger) *ConversationService {
	log = log.Named("conversations")
	return &ConversationService{
		conversations: conversations,
		users:         users,
		publisher:     publisher{feed: feed, logger: log},
		now:           utcNow,
	}
}

// FindOrCreate returns the student's conversation, creating it linked to
// the first administrator when none exists. Concurrent calls yield one row.
func (s *ConversationService) FindOrCreate(ctx context.Context, studentID string) (*model.Conversation, error) {
	existing, err := s.conversations.FindConversationByStudent(ctx, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	var adminID *string
	admin, err := s.users.FirstAdmin(ctx)
	switch {
	case err == nil:
		adminID = &admin
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to find administrator: %w", err)
	}

	now := s.now()
	conv, created, err := s.conversations.UpsertConversation(ctx, &model.Conversation{
		ID:            newID(),
		StudentID:     studentID,
		AdminID:       adminID,
		LastMessageAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if created {
		metrics.ConversationsTotal.Inc()
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("student_id", studentID),
		)
		s.publish(ctx, model.TableConversations, model.ChangeInsert, conv.StudentID, conv)
	}
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// Authorize reports whether the caller may read and write conv. Students
// only reach their own conversation.
func Authorize(id model.Identity, conv *model.Conversation) error {
	if id.IsAdmin() || conv.StudentID == id.UserID {
		return nil
	}
	return ErrForbidden
}

// Open loads a conversation on behalf of the caller.
func (s *ConversationService) Open(ctx context.Context, id model.Identity, conversationID string) (*model.Conversation, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(id, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ForStudent returns the unread badge of the student's conversation. A
// student without a conversation has nothing unread.
func (s *ConversationService) ForStudent(ctx context.Context, studentID string) (*model.UnreadResponse, error) {
	conv, err := s.conversations.FindConversationByStudent(ctx, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.UnreadResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return &model.UnreadResponse{ConversationID: conv.ID, Unread: conv.UnreadByStudent}, nil
}

// ListForAdmin returns every conversation, most recent first, with the
// student's display name and the administrators' unread total.
func (s *ConversationService) ListForAdmin(ctx context.Context) (*model.ListConversationsResponse, error) {
	convs, err := s.conversations.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]model.ConversationSummary, 0, len(convs))
	unread := 0
	for _, conv := range convs {
		unread += conv.UnreadByAdmin
		name := UnknownName
		if p, err := s.users.GetProfile(ctx, conv.StudentID); err == nil {
			name = p.FullName
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to get student profile: %w", err)
		}
		out = append(out, model.ConversationSummary{Conversation: conv, StudentName: name})
	}

	return &model.ListConversationsResponse{Conversations: out, Total: len(out), UnreadTotal: unread}, nil
}

// ResetUnread zeroes the unread counter of one side.
func (s *ConversationService) ResetUnread(ctx context.Context, conversationID string, side model.Side) (*model.Conversation, error) {
	if !side.Valid() {
		return nil, invalid("side", "must be admin or student")
	}
	conv, err := s.conversations.ResetUnread(ctx, conversationID, side)
	if err != nil {
		return nil, fmt.Errorf("failed to reset unread: %w", err)
	}
	s.publish(ctx, model.TableConversations, model.ChangeUpdate, conv.StudentID, conv)
	return conv, nil
}
