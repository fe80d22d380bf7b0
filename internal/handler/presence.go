package handler

import (
	"context"
	"net/http"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

// PresenceHandler answers who is online from a server-side observer.
type PresenceHandler struct {
	tracker *chat.Tracker
}

// NewPresenceHandler creates a presence handler backed by an observing tracker.
func NewPresenceHandler(tracker *chat.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// Run keeps the online gauge in step with the tracker until ctx is done.
func (h *PresenceHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.tracker.Changed():
			metrics.PresenceOnline.Set(float64(len(h.tracker.OnlineUserIDs())))
		}
	}
}

// Online handles GET /api/v1/presence
func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &model.PresenceResponse{Online: h.tracker.OnlineUserIDs()})
}
