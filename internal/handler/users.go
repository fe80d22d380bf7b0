package handler

import (
	"net/http"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// UserHandler lists accounts for administrators.
type UserHandler struct {
	service *service.UserService
	logger  *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc *service.UserService, log *logger.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: log}
}

// List handles GET /api/v1/users?search=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.UserSummary{"users": users})
}
