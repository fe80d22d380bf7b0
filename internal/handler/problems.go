package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// ProblemHandler handles problem endpoints.
type ProblemHandler struct {
	service *service.ProblemService
	feed    realtime.Feed
	logger  *logger.Logger
}

// NewProblemHandler creates a new problem handler.
func NewProblemHandler(svc *service.ProblemService, feed realtime.Feed, log *logger.Logger) *ProblemHandler {
	return &ProblemHandler{service: svc, feed: feed, logger: log}
}

// Submit handles POST /api/v1/problems
func (h *ProblemHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitProblemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Submit(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to submit problem")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /api/v1/problems. Administrators see every problem and
// may filter with ?status=, ?category= and ?search=. Students see their own.
func (h *ProblemHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.fetcher(r)(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list problems")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stream handles GET /api/v1/problems/stream. It sends the same list as
// List on connect and again after every relevant problem change.
func (h *ProblemHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identity(r)

	filter := model.ChangeFilter{Table: model.TableProblems}
	if !id.IsAdmin() {
		filter.Scope = id.UserID
	}
	fetch := h.fetcher(r)

	stream, ok := startSSE(w)
	if !ok {
		return
	}
	defer stream.close()

	err := watchWithHeartbeat(ctx, stream, func(ctx context.Context) error {
		return chat.Watch(ctx, h.feed, filter, fetch,
			func(resp *model.ListProblemsResponse) error {
				return stream.send("problems", resp)
			},
			h.logger,
		)
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("problem stream ended", zap.Error(err))
	}
}

func (h *ProblemHandler) fetcher(r *http.Request) func(context.Context) (*model.ListProblemsResponse, error) {
	id := identity(r)
	if !id.IsAdmin() {
		return func(ctx context.Context) (*model.ListProblemsResponse, error) {
			return h.service.ListForStudent(ctx, id.UserID)
		}
	}

	q := r.URL.Query()
	filter := model.ProblemFilter{
		Status:   model.ProblemStatus(q.Get("status")),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	return func(ctx context.Context) (*model.ListProblemsResponse, error) {
		return h.service.List(ctx, filter)
	}
}

// Categories handles GET /api/v1/problems/categories
func (h *ProblemHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

// UpdateStatus handles PATCH /api/v1/problems/{id}/status
func (h *ProblemHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update problem")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
