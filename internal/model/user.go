package model

import (
	"time"
)

// Role is the portal role of a user.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Side returns the conversation side a role speaks for.
func (r Role) Side() Side {
	if r == RoleAdmin {
		return SideAdmin
	}
	return SideStudent
}

// Identity is the authenticated caller, passed explicitly into accessors.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
}

// IsAdmin reports whether the caller is an administrator.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// User is an account with credentials.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds display data for a user.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is one row of the administrators' user table.
type UserSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	ProblemCount int       `json:"problem_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAccount is everything created at sign-up.
type NewAccount struct {
	User    User
	Role    Role
	Profile Profile
}

// SignUpRequest is the request to create an account.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	FullName string `json:"full_name"`
}

// SignInRequest is the request to sign in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries an issued token and the caller's identity.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  Identity  `json:"identity"`
}

// ChangePasswordRequest is the request to change the caller's password.
type ChangePasswordRequest struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// UpdateProfileRequest is the request to rename the caller.
type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}
