package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// AvatarExtensions are the accepted avatar file types.
var AvatarExtensions = []string{"jpg", "jpeg", "png", "gif"}

// BlobStore stores public files.
type BlobStore interface {
	// Put writes r under key and returns the public URL.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyFromURL maps a public URL back to its key.
	KeyFromURL(url string) (string, bool)
}

// ProfileService manages the caller's profile and avatar.
type ProfileService struct {
	users  store.UserStore
	blobs  BlobStore
	logger *logger.Logger
}

// NewProfileService creates a new profile service.
func NewProfileService(users store.UserStore, blobs BlobStore, log *logger.Logger) *ProfileService {
	return &ProfileService{users: users, blobs: blobs, logger: log.Named("profiles")}
}

// Get returns a user's profile.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpdateName renames a user.
func (s *ProfileService) UpdateName(ctx context.Context, userID, fullName string) (*model.Profile, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, invalid("full_name", "name cannot be empty")
	}
	p, err := s.users.UpdateProfileName(ctx, userID, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// AvatarKey returns the storage key of a user's avatar.
func AvatarKey(userID, filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if !slices.Contains(AvatarExtensions, ext) {
		return "", invalid("avatar", "must be a JPG, PNG or GIF image")
	}
	return userID + "/avatar." + ext, nil
}

// UploadAvatar replaces a user's avatar with the uploaded file.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID, filename string, r io.Reader) (*model.Profile, error) {
	key, err := AvatarKey(userID, filename)
	if err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.removeBlob(ctx, current.AvatarURL)

	url, err := s.blobs.Put(ctx, key, r)
	if err != nil {
		return nil, fmt.Errorf("failed to store avatar: %w", err)
	}

	p, err := s.users.SetAvatarURL(ctx, userID, &url)
	if err != nil {
		return nil, fmt.Errorf("failed to update avatar: %w", err)
	}
	return p, nil
}

// RemoveAvatar deletes a user's avatar.
func (s *ProfileService) RemoveAvatar(ctx context.Context, userID string) (*model.Profile, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.removeBlob(ctx, current.AvatarURL)

	p, err := s.users.SetAvatarURL(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to clear avatar: %w", err)
	}
	return p, nil
}

func (s *ProfileService) removeBlob(ctx context.Context, url *string) {
	if url == nil {
		return
	}
	key, ok := s.blobs.KeyFromURL(*url)
	if !ok {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete old avatar", zap.String("key", key), zap.Error(err))
	}
}
