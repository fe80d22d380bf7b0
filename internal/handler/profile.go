package handler

import (
	"errors"
	"net/http"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// MaxAvatarBytes caps avatar uploads.
const MaxAvatarBytes = 2 << 20

// ProfileHandler handles the caller's profile.
type ProfileHandler struct {
	service *service.ProfileService
	logger  *logger.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(svc *service.ProfileService, log *logger.Logger) *ProfileHandler {
	return &ProfileHandler{service: svc, logger: log}
}

// Get handles GET /api/v1/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), identity(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update handles PUT /api/v1/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateName(r.Context(), identity(r).UserID, req.FullName)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UploadAvatar handles PUT /api/v1/profile/avatar with a multipart "avatar" file.
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAvatarBytes+64<<10)
	if err := r.ParseMultipartForm(MaxAvatarBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image must be smaller than 2MB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing avatar file")
		return
	}
	defer file.Close()

	if header.Size > MaxAvatarBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image must be smaller than 2MB")
		return
	}

	p, err := h.service.UploadAvatar(r.Context(), identity(r).UserID, header.Filename, file)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to upload avatar")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RemoveAvatar handles DELETE /api/v1/profile/avatar
func (h *ProfileHandler) RemoveAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.RemoveAvatar(r.Context(), identity(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to remove avatar")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
