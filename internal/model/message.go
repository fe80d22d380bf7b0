package model

import (
	"time"
)

// Message is one entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Before orders messages by creation time, then id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// MarkReadResponse reports how many messages were flipped to read.
type MarkReadResponse struct {
	Updated int `json:"updated"`
}

// ReplySuggestion is a drafted reply for an administrator.
type ReplySuggestion struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Model          string `json:"model"`
	LatencyMs      int64  `json:"latency_ms"`
}
