package handler

import (
	"net/http"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// AuthHandler handles sign-up, sign-in and the caller's own account.
type AuthHandler struct {
	service *service.AuthService
	logger  *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *service.AuthService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: log}
}

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req model.SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to sign up")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req model.SignInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.SignIn(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to sign in")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Me handles GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.Identity(r.Context(), identity(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load identity")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// ChangePassword handles PUT /api/v1/me/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req model.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), identity(r), req); err != nil {
		writeServiceError(w, h.logger, err, "failed to change password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
