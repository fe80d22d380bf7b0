// Package memory provides an in-process persistence gateway. It backs the
// server when no database is configured and serves as the fake in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/store"
)

// Store keeps all rows in maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*model.Conversation
	byStudent     map[string]string // student id -> conversation id
	messages      map[string][]*model.Message
	problems      map[string]*model.Problem
	users         map[string]*model.User
	byEmail       map[string]string
	roles         map[string]model.Role
	profiles      map[string]*model.Profile
	adminOrder    []string
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		byStudent:     make(map[string]string),
		messages:      make(map[string][]*model.Message),
		problems:      make(map[string]*model.Problem),
		users:         make(map[string]*model.User),
		byEmail:       make(map[string]string),
		roles:         make(map[string]model.Role),
		profiles:      make(map[string]*model.Profile),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *conv
	return &c, nil
}

// FindConversationByStudent returns the student's conversation.
func (s *Store) FindConversationByStudent(ctx context.Context, studentID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byStudent[studentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s.conversations[id]
	return &c, nil
}

// UpsertConversation inserts conv unless the student already has one.
func (s *Store) UpsertConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byStudent[conv.StudentID]; ok {
		c := *s.conversations[id]
		return &c, false, nil
	}

	stored := *conv
	s.conversations[stored.ID] = &stored
	s.byStudent[stored.StudentID] = stored.ID

	c := stored
	return &c, true, nil
}

// ListConversations returns all conversations, most recent activity first.
func (s *Store) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		convs = append(convs, *conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastMessageAt.Equal(convs[j].LastMessageAt) {
			return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
		}
		return convs[i].ID > convs[j].ID
	})
	return convs, nil
}

// ResetUnread zeroes one side's unread counter.
func (s *Store) ResetUnread(ctx context.Context, id string, side model.Side) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if side == model.SideAdmin {
		conv.UnreadByAdmin = 0
	} else {
		conv.UnreadByStudent = 0
	}
	c := *conv
	return &c, nil
}

// AppendMessage inserts msg and updates the conversation under one lock.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message, recipient model.Side) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, store.ErrNotFound
	}

	m := *msg
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &m)

	preview := m.Content
	conv.LastMessage = &preview
	conv.LastMessageAt = m.CreatedAt
	if recipient == model.SideAdmin {
		conv.UnreadByAdmin++
	} else {
		conv.UnreadByStudent++
	}

	c := *conv
	return &c, nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]model.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		msgs = append(msgs, *m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(&msgs[j]) })
	return msgs, nil
}

// MarkRead flags messages not sent by readerID as read.
func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			updated++
		}
	}
	return updated, nil
}

// RecentMessages returns the newest messages across conversations.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []model.Message
	for _, msgs := range s.messages {
		for _, m := range msgs {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[j].Before(&all[i]) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CreateProblem stores a new problem.
func (s *Store) CreateProblem(ctx context.Context, p *model.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.problems[p.ID]; exists {
		return store.ErrConflict
	}
	stored := *p
	s.problems[p.ID] = &stored
	return nil
}

// GetProblem returns a problem by id.
func (s *Store) GetProblem(ctx context.Context, id string) (*model.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.problems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

// ListProblems returns problems newest first, optionally for one submitter.
func (s *Store) ListProblems(ctx context.Context, submittedBy string) ([]model.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Problem
	for _, p := range s.problems {
		if submittedBy == "" || p.SubmittedBy == submittedBy {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// UpdateProblemStatus sets a problem's status.
func (s *Store) UpdateProblemStatus(ctx context.Context, id string, status model.ProblemStatus, at time.Time) (*model.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.problems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = at
	out := *p
	return &out, nil
}

// CreateAccount stores a user with its role and profile.
func (s *Store) CreateAccount(ctx context.Context, account *model.NewAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.User.Email)
	if _, exists := s.byEmail[email]; exists {
		return store.ErrConflict
	}
	if _, exists := s.users[account.User.ID]; exists {
		return store.ErrConflict
	}

	u := account.User
	p := account.Profile
	s.users[u.ID] = &u
	s.byEmail[email] = u.ID
	s.roles[u.ID] = account.Role
	s.profiles[u.ID] = &p
	if account.Role == model.RoleAdmin {
		s.adminOrder = append(s.adminOrder, u.ID)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetUserByEmail returns a user by case-insensitive email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *s.users[id]
	return &out, nil
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// GetRole returns a user's role.
func (s *Store) GetRole(ctx context.Context, userID string) (model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return role, nil
}

// FirstAdmin returns the earliest registered administrator.
func (s *Store) FirstAdmin(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.adminOrder) == 0 {
		return "", store.ErrNotFound
	}
	return s.adminOrder[0], nil
}

// GetProfile returns a user's profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

// UpdateProfileName renames a user.
func (s *Store) UpdateProfileName(ctx context.Context, userID, fullName string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.FullName = fullName
	out := *p
	return &out, nil
}

// SetAvatarURL sets or clears a user's avatar.
func (s *Store) SetAvatarURL(ctx context.Context, userID string, url *string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if url == nil {
		p.AvatarURL = nil
	} else {
		v := *url
		p.AvatarURL = &v
	}
	out := *p
	return &out, nil
}

// CountProfiles returns the number of profiles.
func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles), nil
}

// ListUserSummaries returns every profile with role and problem count, oldest first.
func (s *Store) ListUserSummaries(ctx context.Context) ([]model.UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, p := range s.problems {
		counts[p.SubmittedBy]++
	}

	out := make([]model.UserSummary, 0, len(s.profiles))
	for userID, p := range s.profiles {
		role, ok := s.roles[userID]
		if !ok {
			role = model.RoleStudent
		}
		out = append(out, model.UserSummary{
			ID:           p.ID,
			UserID:       userID,
			FullName:     p.FullName,
			Role:         role,
			ProblemCount: counts[userID],
			CreatedAt:    p.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
