package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

// HeartbeatInterval is how often idle SSE streams send a heartbeat.
const HeartbeatInterval = 30 * time.Second

// sseStream is an open server-sent event response. It is safe for
// concurrent use.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE switches the response to an event stream. It writes an error
// response and returns false when the writer cannot stream.
func startSSE(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncrementSSEConnections()
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(event string, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sendSSEEvent(s.w, s.flusher, event, data)
}

func (s *sseStream) heartbeat() error {
	return s.send("heartbeat", &model.HeartbeatEvent{Timestamp: time.Now().UTC()})
}

func (s *sseStream) close() {
	metrics.DecrementSSEConnections()
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
