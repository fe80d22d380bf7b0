package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// DashboardHandler serves the administrators' dashboard.
type DashboardHandler struct {
	service *service.DashboardService
	feed    realtime.Feed
	logger  *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(svc *service.DashboardService, feed realtime.Feed, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{service: svc, feed: feed, logger: log}
}

// Stats handles GET /api/v1/dashboard/stats
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Timeline handles GET /api/v1/dashboard/timeline
func (h *DashboardHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := h.service.ProblemsOverTime(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load timeline")
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

// Categories handles GET /api/v1/dashboard/categories
func (h *DashboardHandler) Categories(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.CategoryBreakdown(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load categories")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Statuses handles GET /api/v1/dashboard/statuses
func (h *DashboardHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.StatusBreakdown(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load statuses")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Activity handles GET /api/v1/dashboard/activity
func (h *DashboardHandler) Activity(w http.ResponseWriter, r *http.Request) {
	activity, err := h.service.RecentActivity(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load activity")
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// ActivityStream handles GET /api/v1/dashboard/activity/stream. The feed is
// reloaded after every problem change and every new message.
func (h *DashboardHandler) ActivityStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stream, ok := startSSE(w)
	if !ok {
		return
	}
	defer stream.close()

	filters := []model.ChangeFilter{
		{Table: model.TableProblems},
		{Table: model.TableMessages, Type: model.ChangeInsert},
	}
	err := watchWithHeartbeat(ctx, stream, func(ctx context.Context) error {
		return chat.WatchAny(ctx, h.feed, filters,
			h.service.RecentActivity,
			func(activity []model.Activity) error {
				return stream.send("activity", activity)
			},
			h.logger,
		)
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("activity stream ended", zap.Error(err))
	}
}
