// Package store defines the persistence gateway the services run on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/campusdesk/helpdesk/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// ConversationStore persists conversations. At most one conversation exists per student.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindConversationByStudent(ctx context.Context, studentID string) (*model.Conversation, error)
	// UpsertConversation inserts conv unless the student already has a
	// conversation, in which case the existing row is returned and created is false.
	UpsertConversation(ctx context.Context, conv *model.Conversation) (stored *model.Conversation, created bool, err error)
	// ListConversations returns every conversation, most recent activity first.
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ResetUnread(ctx context.Context, id string, side model.Side) (*model.Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	// AppendMessage inserts msg and, in the same transaction, sets the
	// conversation preview and increments the recipient's unread counter.
	AppendMessage(ctx context.Context, msg *model.Message, recipient model.Side) (*model.Conversation, error)
	// ListMessages returns a conversation's messages ordered by creation time.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// MarkRead flags every message not sent by readerID as read and returns how many changed.
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
	// RecentMessages returns the newest messages across all conversations.
	RecentMessages(ctx context.Context, limit int) ([]model.Message, error)
}

// ProblemStore persists problem tickets.
type ProblemStore interface {
	CreateProblem(ctx context.Context, p *model.Problem) error
	GetProblem(ctx context.Context, id string) (*model.Problem, error)
	// ListProblems returns problems newest first; an empty submitter returns all.
	ListProblems(ctx context.Context, submittedBy string) ([]model.Problem, error)
	UpdateProblemStatus(ctx context.Context, id string, status model.ProblemStatus, at time.Time) (*model.Problem, error)
}

// UserStore persists accounts, roles and profiles.
type UserStore interface {
	// CreateAccount writes the user, role and profile rows together.
	CreateAccount(ctx context.Context, account *model.NewAccount) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	GetRole(ctx context.Context, userID string) (model.Role, error)
	// FirstAdmin returns the id of an administrator, or ErrNotFound.
	FirstAdmin(ctx context.Context) (string, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdateProfileName(ctx context.Context, userID, fullName string) (*model.Profile, error)
	SetAvatarURL(ctx context.Context, userID string, url *string) (*model.Profile, error)
	CountProfiles(ctx context.Context) (int, error)
	// ListUserSummaries returns every profile with its role and problem count.
	ListUserSummaries(ctx context.Context) ([]model.UserSummary, error)
}

// Store is the full persistence gateway.
type Store interface {
	ConversationStore
	MessageStore
	ProblemStore
	UserStore

	Ping(ctx context.Context) error
	Close()
}
