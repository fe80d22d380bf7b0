package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

type stubParser map[string]model.Identity

func (s stubParser) Parse(token string) (model.Identity, error) {
	id, ok := s[token]
	if !ok {
		return model.Identity{}, errors.New("bad token")
	}
	return id, nil
}

var tokens = stubParser{
	"admin-token":   {UserID: "a1", Role: model.RoleAdmin, Name: "Ada"},
	"student-token": {UserID: "s1", Role: model.RoleStudent, Name: "Sam"},
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentity(r.Context())
	w.Write([]byte(id.UserID))
}

func TestAuth(t *testing.T) {
	h := Auth(tokens)(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{"bearer header", "Bearer admin-token", "", http.StatusOK, "a1"},
		{"lowercase scheme", "bearer student-token", "", http.StatusOK, "s1"},
		{"query token", "", "student-token", http.StatusOK, "s1"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer nope", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := Auth(tokens)(RequireRole(model.RoleAdmin)(http.HandlerFunc(echoUser)))

	for token, want := range map[string]int{
		"admin-token":   http.StatusOK,
		"student-token": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", token, rec.Code, want)
		}
	}
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(Auth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "corr-123" {
		t.Errorf("correlation id in context = %q", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID header = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a generated correlation id")
	}
}

func TestRateLimitByUser(t *testing.T) {
	h := Auth(tokens)(RateLimit(2, time.Minute)(http.HandlerFunc(echoUser)))

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/problems", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	do("student-token")
	do("student-token")
	if code := do("student-token"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", code)
	}
	if code := do("admin-token"); code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", code)
	}
}

func TestValidateID(t *testing.T) {
	r := chi.NewRouter()
	r.With(ValidateID("id")).Get("/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {})

	for path, want := range map[string]int{
		"/conversations/0190a3c2-7b1e-7cc0-9d2a-1f2e3d4c5b6a": http.StatusOK,
		"/conversations/not-a-uuid":                           http.StatusBadRequest,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
}
