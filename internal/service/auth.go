package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// Account field bounds.
const (
	PasswordMin = 6
	FullNameMin = 2
)

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
	Name string     `json:"name"`
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    Clock
}

// NewTokens creates a token issuer.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for id.
func (t *Tokens) Issue(id model.Identity) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: id.Role,
		Name: id.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token and returns the identity it carries.
func (t *Tokens) Parse(tokenString string) (model.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return model.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return model.Identity{}, errors.New("invalid token claims")
	}
	return model.Identity{UserID: claims.Subject, Role: claims.Role, Name: claims.Name}, nil
}

// AuthService handles sign-up, sign-in and password changes.
type AuthService struct {
	users  store.UserStore
	tokens *Tokens
	logger *logger.Logger
	now    Clock
	cost   int

	adminSignUp bool
}

// NewAuthService creates a new auth service.
func NewAuthService(users store.UserStore, tokens *Tokens, log *logger.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		logger: log.Named("auth"),
		now:    utcNow,
		cost:   bcrypt.DefaultCost,
	}
}

// SetHashCost overrides the bcrypt cost used for new password hashes.
func (s *AuthService) SetHashCost(cost int) {
	s.cost = cost
}

// AllowAdminSignUp lets Register create administrator accounts.
func (s *AuthService) AllowAdminSignUp(allow bool) {
	s.adminSignUp = allow
}

// Register is the public sign-up. Administrator accounts are refused unless
// AllowAdminSignUp is set; operators create them with SignUp instead.
func (s *AuthService) Register(ctx context.Context, req model.SignUpRequest) (*model.AuthResponse, error) {
	if req.Role == model.RoleAdmin && !s.adminSignUp {
		return nil, fmt.Errorf("admin sign-up is disabled: %w", ErrForbidden)
	}
	return s.SignUp(ctx, req)
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		return invalid("email", "please enter a valid email address")
	}
	return nil
}

func validatePassword(field, password string) error {
	if utf8.RuneCountInString(password) < PasswordMin {
		return invalid(field, "must be at least %d characters", PasswordMin)
	}
	return nil
}

// ValidateSignUp checks a sign-up request and returns it normalized.
func ValidateSignUp(req model.SignUpRequest) (model.SignUpRequest, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Role == "" {
		req.Role = model.RoleStudent
	}

	if err := validateEmail(req.Email); err != nil {
		return req, err
	}
	if err := validatePassword("password", req.Password); err != nil {
		return req, err
	}
	if utf8.RuneCountInString(req.FullName) < FullNameMin {
		return req, invalid("full_name", "must be at least %d characters", FullNameMin)
	}
	if !req.Role.Valid() {
		return req, invalid("role", "must be student or admin")
	}
	return req, nil
}

// SignUp creates the user, role and profile and signs the caller in.
func (s *AuthService) SignUp(ctx context.Context, req model.SignUpRequest) (*model.AuthResponse, error) {
	req, err := ValidateSignUp(req)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	userID := newID()
	account := &model.NewAccount{
		User:    model.User{ID: userID, Email: req.Email, PasswordHash: string(hash), CreatedAt: now},
		Role:    req.Role,
		Profile: model.Profile{ID: newID(), UserID: userID, FullName: req.FullName, CreatedAt: now},
	}
	if err := s.users.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("email already registered: %w", err)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account created", zap.String("user_id", userID), zap.String("role", string(req.Role)))
	return s.issue(model.Identity{UserID: userID, Role: req.Role, Name: req.FullName})
}

// SignIn verifies credentials and issues a token.
func (s *AuthService) SignIn(ctx context.Context, req model.SignInRequest) (*model.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", req.Password); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	id, err := s.Identity(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.issue(id)
}

// Identity loads the role and display name of a user.
func (s *AuthService) Identity(ctx context.Context, userID string) (model.Identity, error) {
	role, err := s.users.GetRole(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		role = model.RoleStudent
	} else if err != nil {
		return model.Identity{}, fmt.Errorf("failed to get role: %w", err)
	}

	name := ""
	if p, err := s.users.GetProfile(ctx, userID); err == nil {
		name = p.FullName
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Identity{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return model.Identity{UserID: userID, Role: role, Name: name}, nil
}

// ChangePassword replaces the caller's password.
func (s *AuthService) ChangePassword(ctx context.Context, id model.Identity, req model.ChangePasswordRequest) error {
	if req.NewPassword == "" || req.ConfirmPassword == "" {
		return invalid("new_password", "please fill in all password fields")
	}
	if req.NewPassword != req.ConfirmPassword {
		return invalid("confirm_password", "passwords do not match")
	}
	if err := validatePassword("new_password", req.NewPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, id.UserID, string(hash)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	s.logger.Info("password changed", zap.String("user_id", id.UserID))
	return nil
}

func (s *AuthService) issue(id model.Identity) (*model.AuthResponse, error) {
	token, expires, err := s.tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	return &model.AuthResponse{Token: token, ExpiresAt: expires, Identity: id}, nil
}
