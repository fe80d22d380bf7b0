package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/llm"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/metrics"
	"github.com/campusdesk/helpdesk/pkg/tracing"
)

// ReplyContextSize is how many recent messages a suggestion sees.
const ReplyContextSize = 20

const replySystemPrompt = "You are a helpful campus helpdesk administrator. " +
	"Draft a short, friendly reply to the student's latest message. " +
	"Reply with the message text only."

// ReplyService drafts administrator replies with an LLM.
type ReplyService struct {
	messages      *MessageService
	conversations *ConversationService
	client        llm.Client
	logger        *logger.Logger
}

// NewReplyService creates a reply service. A nil client disables suggestions.
func NewReplyService(messages *MessageService, conversations *ConversationService, client llm.Client, log *logger.Logger) *ReplyService {
	return &ReplyService{
		messages:      messages,
		conversations: conversations,
		client:        client,
		logger:        log.Named("reply"),
	}
}

// Enabled reports whether an LLM is configured.
func (s *ReplyService) Enabled() bool {
	return s.client != nil
}

// Transcript maps the newest limit messages to chat turns: the student is
// the user and administrators are the assistant.
func Transcript(msgs []model.Message, studentID string, limit int) []llm.ChatMessage {
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleAssistant
		if m.SenderID == studentID {
			role = llm.RoleUser
		}
		out = append(out, llm.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

// Suggest drafts a reply for the conversation.
func (s *ReplyService) Suggest(ctx context.Context, conversationID string) (*model.ReplySuggestion, error) {
	if s.client == nil {
		return nil, ErrLLMDisabled
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.List(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, invalid("conversation", "has no messages to reply to")
	}

	ctx, span := tracing.Tracer("helpdesk/service").Start(ctx, "ReplyService.Suggest")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.String("llm.provider", s.client.Name()),
	)

	start := time.Now()
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		System:    replySystemPrompt,
		Messages:  Transcript(msgs, conv.StudentID, ReplyContextSize),
		MaxTokens: 512,
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMRequest(s.client.Name(), status, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		s.logger.Error("reply suggestion failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to suggest reply: %w", err)
	}

	s.logger.Debug("reply suggested",
		zap.String("conversation_id", conv.ID),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
	)
	return &model.ReplySuggestion{
		ConversationID: conv.ID,
		Content:        resp.Content,
		Model:          resp.Model,
		LatencyMs:      resp.LatencyMs,
	}, nil
}
