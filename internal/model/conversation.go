// Package model defines data structures for the helpdesk.
package model

import (
	"time"
)

// Side names one end of a conversation for unread bookkeeping.
type Side string

const (
	SideAdmin   Side = "admin"
	SideStudent Side = "student"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideAdmin || s == SideStudent
}

// Conversation is the single thread between one student and the administrators.
type Conversation struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	AdminID         *string   `json:"admin_id,omitempty"`
	LastMessage     *string   `json:"last_message"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadByAdmin   int       `json:"unread_by_admin"`
	UnreadByStudent int       `json:"unread_by_student"`
	CreatedAt       time.Time `json:"created_at"`
}

// Unread returns the unread counter for the given side.
func (c *Conversation) Unread(side Side) int {
	if side == SideAdmin {
		return c.UnreadByAdmin
	}
	return c.UnreadByStudent
}

// ConversationSummary is a conversation annotated with the student's display name.
type ConversationSummary struct {
	Conversation
	StudentName string `json:"student_name"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
	// UnreadTotal sums unread_by_admin across all conversations.
	UnreadTotal int `json:"unread_total"`
}

// UnreadResponse carries the unread badge count for one side.
type UnreadResponse struct {
	ConversationID string `json:"conversation_id"`
	Unread         int    `json:"unread"`
}
