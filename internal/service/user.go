package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/store"
)

// UserService lists accounts for administrators.
type UserService struct {
	users store.UserStore
}

// NewUserService creates a new user service.
func NewUserService(users store.UserStore) *UserService {
	return &UserService{users: users}
}

// List returns every user with role and problem count, filtered by a
// case-insensitive name search.
func (s *UserService) List(ctx context.Context, search string) ([]model.UserSummary, error) {
	all, err := s.users.ListUserSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]model.UserSummary, 0, len(all))
	for _, u := range all {
		if search == "" || strings.Contains(strings.ToLower(u.FullName), search) {
			out = append(out, u)
		}
	}
	return out, nil
}

// Name returns a user's display name, or UnknownName.
func (s *UserService) Name(ctx context.Context, userID string) string {
	p, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return UnknownName
	}
	return p.FullName
}
