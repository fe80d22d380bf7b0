package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/internal/storage"
	"github.com/campusdesk/helpdesk/internal/store/memory"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

type testServer struct {
	handler http.Handler
	ready   *error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, true)
}

func newTestServerWith(t *testing.T, adminSignUp bool) *testServer {
	t.Helper()
	log := logger.NewNop()
	st := memory.New()
	feed := realtime.NewHub()
	presence := realtime.NewPresenceHub()

	blobs, err := storage.NewLocal(t.TempDir(), "/avatars")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	observer := chat.NewTracker(presence, time.Hour, log)
	if err := observer.Observe(context.Background()); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	t.Cleanup(func() { observer.Leave() })

	tokens := service.NewTokens("test-secret", time.Hour)
	auth := service.NewAuthService(st, tokens, log)
	auth.SetHashCost(bcrypt.MinCost)
	auth.AllowAdminSignUp(adminSignUp)

	conversations := service.NewConversationService(st, st, feed, log)
	messages := service.NewMessageService(st, conversations, feed, log)

	var readyErr error
	ts := &testServer{ready: &readyErr}
	ts.handler = NewRouter(Services{
		Tokens:        tokens,
		Auth:          auth,
		Conversations: conversations,
		Messages:      messages,
		Problems:      service.NewProblemService(st, st, feed, log),
		Dashboard:     service.NewDashboardService(st, st, st),
		Users:         service.NewUserService(st),
		Profiles:      service.NewProfileService(st, blobs, log),
		Replies:       service.NewReplyService(messages, conversations, nil, log),
		Feed:          feed,
		Presence:      presence,
		Observer:      observer,
		Avatars:       blobs.Handler(),
		AvatarPath:    "/avatars",
		Checks: []Check{
			{Name: "store", Ping: st.Ping},
			{Name: "feed", Ping: func(context.Context) error { return readyErr }},
		},
	}, Options{
		CORSAllowedOrigins: []string{"https://*", "http://*"},
		RateLimitRequests:  1000,
		RateLimitWindow:    time.Minute,
		Chat:               ChatOptions{PresenceHeartbeat: time.Hour, TypingTimeout: time.Second},
	}, log)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (ts *testServer) signUp(t *testing.T, email string, role model.Role, name string) model.AuthResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", model.SignUpRequest{
		Email: email, Password: "secret123", Role: role, FullName: name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
	return decode[model.AuthResponse](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}

	*ts.ready = errors.New("nats down")
	rec := ts.do(t, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing check = %d, want 503", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", model.SignUpRequest{
		Email: "SAM@campus.edu", Password: "secret123", FullName: "Sam Again",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", model.SignUpRequest{
		Email: "not-an-email", Password: "secret123", FullName: "Nobody",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid signup = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signin", "", model.SignInRequest{Email: "sam@campus.edu", Password: "wrong-password"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signin", "", model.SignInRequest{Email: "sam@campus.edu", Password: "secret123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("signin = %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/me", student.Token, nil)
	me := decode[model.Identity](t, rec)
	if me.UserID != student.Identity.UserID || me.Role != model.RoleStudent || me.Name != "Sam Student" {
		t.Errorf("me = %+v", me)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("me without token = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/me/password", student.Token, model.ChangePasswordRequest{NewPassword: "newpass1", ConfirmPassword: "different"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched passwords = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPut, "/api/v1/me/password", student.Token, model.ChangePasswordRequest{NewPassword: "newpass1", ConfirmPassword: "newpass1"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("change password = %d, want 204", rec.Code)
	}
}

func TestAdminSignUpDisabled(t *testing.T) {
	ts := newTestServerWith(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", model.SignUpRequest{
		Email: "ada@campus.edu", Password: "secret123", Role: model.RoleAdmin, FullName: "Ada Admin",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("admin signup = %d, want 403", rec.Code)
	}
	ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")
}

func TestConversationsAndMessages(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "ada@campus.edu", model.RoleAdmin, "Ada Admin")
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")
	other := ts.signUp(t, "olive@campus.edu", model.RoleStudent, "Olive Other")

	rec := ts.do(t, http.MethodPost, "/api/v1/conversations/mine", student.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mine = %d: %s", rec.Code, rec.Body.String())
	}
	conv := decode[model.Conversation](t, rec)
	if conv.AdminID == nil || *conv.AdminID != admin.Identity.UserID {
		t.Errorf("conversation admin = %v, want %s", conv.AdminID, admin.Identity.UserID)
	}

	again := decode[model.Conversation](t, ts.do(t, http.MethodPost, "/api/v1/conversations/mine", student.Token, nil))
	if again.ID != conv.ID {
		t.Errorf("second find-or-create returned %s, want %s", again.ID, conv.ID)
	}

	if rec := ts.do(t, http.MethodPost, "/api/v1/conversations/mine", admin.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("admin find-or-create = %d, want 403", rec.Code)
	}

	base := "/api/v1/conversations/" + conv.ID
	rec = ts.do(t, http.MethodPost, base+"/messages", student.Token, model.SendMessageRequest{Content: "  My wifi is down  "})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d: %s", rec.Code, rec.Body.String())
	}
	if msg := decode[model.Message](t, rec); msg.Content != "My wifi is down" {
		t.Errorf("content = %q, want trimmed", msg.Content)
	}

	if rec := ts.do(t, http.MethodPost, base+"/messages", student.Token, model.SendMessageRequest{Content: "   "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank message = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, base+"/messages", other.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("other student reading = %d, want 403", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/conversations/not-a-uuid", student.Token, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/conversations/0190a3c2-7b1e-7cc0-9d2a-1f2e3d4c5b6a", admin.Token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing conversation = %d, want 404", rec.Code)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/conversations", student.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("student listing all = %d, want 403", rec.Code)
	}
	list := decode[model.ListConversationsResponse](t, ts.do(t, http.MethodGet, "/api/v1/conversations", admin.Token, nil))
	if list.Total != 1 || list.Conversations[0].StudentName != "Sam Student" || list.Conversations[0].UnreadByAdmin != 1 {
		t.Errorf("admin list = %+v", list)
	}

	read := decode[model.MarkReadResponse](t, ts.do(t, http.MethodPost, base+"/read", admin.Token, nil))
	if read.Updated != 1 {
		t.Errorf("read updated %d, want 1", read.Updated)
	}
	got := decode[model.Conversation](t, ts.do(t, http.MethodGet, base, admin.Token, nil))
	if got.UnreadByAdmin != 0 {
		t.Errorf("UnreadByAdmin = %d after read", got.UnreadByAdmin)
	}

	msgs := decode[model.ListMessagesResponse](t, ts.do(t, http.MethodGet, base+"/messages", student.Token, nil))
	if len(msgs.Messages) != 1 || !msgs.Messages[0].IsRead {
		t.Errorf("messages = %+v", msgs.Messages)
	}

	if rec := ts.do(t, http.MethodPost, base+"/messages", admin.Token, model.SendMessageRequest{Content: "Restart the router"}); rec.Code != http.StatusCreated {
		t.Fatalf("admin send = %d: %s", rec.Code, rec.Body.String())
	}
	unread := decode[model.UnreadResponse](t, ts.do(t, http.MethodGet, "/api/v1/conversations/mine/unread", student.Token, nil))
	if unread.ConversationID != conv.ID || unread.Unread != 1 {
		t.Errorf("student unread = %+v, want 1", unread)
	}

	if rec := ts.do(t, http.MethodPost, base+"/suggest-reply", admin.Token, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("suggest-reply without LLM = %d, want 503", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/suggest-reply", student.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("student suggest-reply = %d, want 403", rec.Code)
	}
}

func TestProblemsAndDashboard(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "ada@campus.edu", model.RoleAdmin, "Ada Admin")
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")

	rec := ts.do(t, http.MethodPost, "/api/v1/problems", student.Token, model.SubmitProblemRequest{Title: "Wifi", Description: "short", Category: "technical"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid problem = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/problems", student.Token, model.SubmitProblemRequest{
		Title: "Wifi keeps dropping", Description: "The dorm wifi drops every ten minutes.", Category: "technical", IsUrgent: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d: %s", rec.Code, rec.Body.String())
	}
	problem := decode[model.Problem](t, rec)
	if problem.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", problem.Status)
	}

	mine := decode[model.ListProblemsResponse](t, ts.do(t, http.MethodGet, "/api/v1/problems", student.Token, nil))
	if mine.Total != 1 || mine.Problems[0].SubmitterName != "Sam Student" {
		t.Errorf("student list = %+v", mine)
	}

	filtered := decode[model.ListProblemsResponse](t, ts.do(t, http.MethodGet, "/api/v1/problems?status=resolved", admin.Token, nil))
	if filtered.Total != 0 {
		t.Errorf("resolved filter returned %d problems", filtered.Total)
	}

	status := "/api/v1/problems/" + problem.ID + "/status"
	if rec := ts.do(t, http.MethodPatch, status, student.Token, model.UpdateStatusRequest{Status: model.StatusResolved}); rec.Code != http.StatusForbidden {
		t.Errorf("student status change = %d, want 403", rec.Code)
	}
	if rec := ts.do(t, http.MethodPatch, status, admin.Token, model.UpdateStatusRequest{Status: "closed"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPatch, status, admin.Token, model.UpdateStatusRequest{Status: model.StatusResolved})
	if rec.Code != http.StatusOK {
		t.Fatalf("status change = %d: %s", rec.Code, rec.Body.String())
	}

	cats := decode[map[string][]string](t, ts.do(t, http.MethodGet, "/api/v1/problems/categories", admin.Token, nil))
	if len(cats["categories"]) != 1 || cats["categories"][0] != "technical" {
		t.Errorf("categories = %v", cats)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/dashboard/stats", student.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("student dashboard = %d, want 403", rec.Code)
	}
	stats := decode[model.DashboardStats](t, ts.do(t, http.MethodGet, "/api/v1/dashboard/stats", admin.Token, nil))
	if stats.TotalProblems != 1 || stats.UrgentProblems != 1 || stats.ActiveUsers != 2 {
		t.Errorf("stats = %+v", stats)
	}

	timeline := decode[model.Timeline](t, ts.do(t, http.MethodGet, "/api/v1/dashboard/timeline", admin.Token, nil))
	if len(timeline.Days) != service.TimelineDays || timeline.Total != 1 || timeline.Resolved != 1 {
		t.Errorf("timeline = %+v", timeline)
	}

	statuses := decode[[]model.CountEntry](t, ts.do(t, http.MethodGet, "/api/v1/dashboard/statuses", admin.Token, nil))
	if len(statuses) != 1 || statuses[0].Name != string(model.StatusResolved) {
		t.Errorf("statuses = %+v", statuses)
	}

	activity := decode[[]model.Activity](t, ts.do(t, http.MethodGet, "/api/v1/dashboard/activity", admin.Token, nil))
	if len(activity) != 1 || activity[0].Type != model.ActivityProblem {
		t.Errorf("activity = %+v", activity)
	}

	users := decode[map[string][]model.UserSummary](t, ts.do(t, http.MethodGet, "/api/v1/users?search=sam", admin.Token, nil))
	if len(users["users"]) != 1 || users["users"][0].ProblemCount != 1 {
		t.Errorf("users = %+v", users)
	}
}

func TestProfileAvatar(t *testing.T) {
	ts := newTestServer(t)
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")

	upload := func(filename string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("avatar", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte("GIF89a fake image"))
		mw.Close()

		req := httptest.NewRequest(http.MethodPut, "/api/v1/profile/avatar", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+student.Token)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := upload("notes.txt"); rec.Code != http.StatusBadRequest {
		t.Errorf("text upload = %d, want 400", rec.Code)
	}

	rec := upload("me.gif")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	profile := decode[model.Profile](t, rec)
	want := "/avatars/" + student.Identity.UserID + "/avatar.gif"
	if profile.AvatarURL == nil || *profile.AvatarURL != want {
		t.Fatalf("avatar url = %v, want %s", profile.AvatarURL, want)
	}

	rec = ts.do(t, http.MethodGet, want, "", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "GIF89a") {
		t.Errorf("serving avatar = %d %q", rec.Code, rec.Body.String())
	}

	profile = decode[model.Profile](t, ts.do(t, http.MethodDelete, "/api/v1/profile/avatar", student.Token, nil))
	if profile.AvatarURL != nil {
		t.Errorf("avatar not removed: %s", *profile.AvatarURL)
	}
	if rec := ts.do(t, http.MethodGet, want, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("removed avatar still served: %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/profile", student.Token, model.UpdateProfileRequest{FullName: "  Samuel  "})
	if p := decode[model.Profile](t, rec); p.FullName != "Samuel" {
		t.Errorf("renamed to %q", p.FullName)
	}
}

func readSSEEvent(t *testing.T, r *bufio.Reader) (string, []byte) {
	t.Helper()
	var event string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return event, []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestProblemStream(t *testing.T) {
	ts := newTestServer(t)
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/problems/stream?token="+student.Token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	event, data := readSSEEvent(t, r)
	var list model.ListProblemsResponse
	json.Unmarshal(data, &list)
	if event != "problems" || list.Total != 0 {
		t.Fatalf("first event = %s %s", event, data)
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/problems", student.Token, model.SubmitProblemRequest{
		Title: "Projector broken", Description: "Room 204 projector shows no signal.", Category: "facilities",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d", rec.Code)
	}

	event, data = readSSEEvent(t, r)
	json.Unmarshal(data, &list)
	if event != "problems" || list.Total != 1 {
		t.Errorf("second event = %s %s", event, data)
	}
}

func openSSE(t *testing.T, srv *httptest.Server, path, token string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path+"?token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s = %d", path, resp.StatusCode)
	}
	return bufio.NewReader(resp.Body)
}

// awaitSSE reads events until one named event decodes into a value accepted
// by ok.
func awaitSSE[T any](t *testing.T, r *bufio.Reader, event string, ok func(T) bool) T {
	t.Helper()
	for {
		name, data := readSSEEvent(t, r)
		if name != event {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode %s event: %v", event, err)
		}
		if ok(v) {
			return v
		}
	}
}

func TestStudentUnreadStream(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "ada@campus.edu", model.RoleAdmin, "Ada Admin")
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")

	srv := httptest.NewServer(ts.handler)
	// Registered before openSSE so open streams are closed first.
	t.Cleanup(srv.Close)

	if rec := ts.do(t, http.MethodGet, "/api/v1/conversations/mine/stream", admin.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("admin unread stream = %d, want 403", rec.Code)
	}

	r := openSSE(t, srv, "/api/v1/conversations/mine/stream", student.Token)
	awaitSSE(t, r, "unread", func(u model.UnreadResponse) bool { return u.ConversationID == "" && u.Unread == 0 })

	conv := decode[model.Conversation](t, ts.do(t, http.MethodPost, "/api/v1/conversations/mine", student.Token, nil))
	awaitSSE(t, r, "unread", func(u model.UnreadResponse) bool { return u.ConversationID == conv.ID })

	for _, body := range []string{"Have you tried a restart?", "Also check the cable."} {
		if rec := ts.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", admin.Token, model.SendMessageRequest{Content: body}); rec.Code != http.StatusCreated {
			t.Fatalf("admin send = %d", rec.Code)
		}
	}
	awaitSSE(t, r, "unread", func(u model.UnreadResponse) bool { return u.Unread == 2 })

	if rec := ts.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", student.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("read = %d", rec.Code)
	}
	awaitSSE(t, r, "unread", func(u model.UnreadResponse) bool { return u.Unread == 0 })
}

func TestAdminConversationStreamCarriesUnreadTotal(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "ada@campus.edu", model.RoleAdmin, "Ada Admin")
	sam := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")
	olive := ts.signUp(t, "olive@campus.edu", model.RoleStudent, "Olive Other")

	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	r := openSSE(t, srv, "/api/v1/conversations/stream", admin.Token)
	awaitSSE(t, r, "conversations", func(l model.ListConversationsResponse) bool { return l.Total == 0 })

	for _, s := range []struct {
		token string
		msgs  []string
	}{
		{sam.Token, []string{"Wifi is down", "Still down"}},
		{olive.Token, []string{"Locked out of the portal"}},
	} {
		conv := decode[model.Conversation](t, ts.do(t, http.MethodPost, "/api/v1/conversations/mine", s.token, nil))
		for _, body := range s.msgs {
			if rec := ts.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", s.token, model.SendMessageRequest{Content: body}); rec.Code != http.StatusCreated {
				t.Fatalf("send = %d", rec.Code)
			}
		}
	}
	list := awaitSSE(t, r, "conversations", func(l model.ListConversationsResponse) bool { return l.UnreadTotal == 3 })
	if list.Total != 2 {
		t.Errorf("total = %d, want 2", list.Total)
	}

	one := decode[model.ListConversationsResponse](t, ts.do(t, http.MethodGet, "/api/v1/conversations", admin.Token, nil))
	if one.UnreadTotal != 3 {
		t.Errorf("list unread_total = %d, want 3", one.UnreadTotal)
	}
}

func TestActivityStream(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "ada@campus.edu", model.RoleAdmin, "Ada Admin")
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")

	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	if rec := ts.do(t, http.MethodGet, "/api/v1/dashboard/activity/stream", student.Token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("student activity stream = %d, want 403", rec.Code)
	}

	r := openSSE(t, srv, "/api/v1/dashboard/activity/stream", admin.Token)
	awaitSSE(t, r, "activity", func(a []model.Activity) bool { return len(a) == 0 })

	rec := ts.do(t, http.MethodPost, "/api/v1/problems", student.Token, model.SubmitProblemRequest{
		Title: "Heating broken", Description: "Library second floor is freezing.", Category: "facilities",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d", rec.Code)
	}
	awaitSSE(t, r, "activity", func(a []model.Activity) bool {
		return len(a) == 1 && a[0].Type == model.ActivityProblem
	})

	conv := decode[model.Conversation](t, ts.do(t, http.MethodPost, "/api/v1/conversations/mine", student.Token, nil))
	if rec := ts.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", student.Token, model.SendMessageRequest{Content: "Any update on the heating?"}); rec.Code != http.StatusCreated {
		t.Fatalf("send = %d", rec.Code)
	}
	awaitSSE(t, r, "activity", func(a []model.Activity) bool {
		for _, item := range a {
			if item.Type == model.ActivityMessage {
				return len(a) == 2
			}
		}
		return false
	})
}

func TestChatSocket(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "ada@campus.edu", model.RoleAdmin, "Ada Admin")
	student := ts.signUp(t, "sam@campus.edu", model.RoleStudent, "Sam Student")
	conv := decode[model.Conversation](t, ts.do(t, http.MethodPost, "/api/v1/conversations/mine", student.Token, nil))

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?conversation_id=" + conv.ID

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"&token="+admin.Token+"x", nil); err == nil {
		t.Fatal("dial with a bad token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token response = %v", resp)
	}

	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"&token="+student.Token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	next := func(match func(serverFrame) bool) serverFrame {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			var frame serverFrame
			if err := ws.ReadJSON(&frame); err != nil {
				t.Fatalf("read frame: %v", err)
			}
			if match(frame) {
				return frame
			}
		}
	}

	first := next(func(f serverFrame) bool { return f.Type == "state" })
	if first.State.Peer.ID != admin.Identity.UserID || first.State.Peer.Name != "Ada Admin" {
		t.Errorf("peer = %+v", first.State.Peer)
	}

	ws.WriteJSON(clientFrame{Type: FrameSend, Content: "   "})
	ws.WriteJSON(clientFrame{Type: FrameSend, Content: "Hello from the socket"})
	got := next(func(f serverFrame) bool { return f.Type == "state" && len(f.State.Messages) == 1 })
	if got.State.Messages[0].Content != "Hello from the socket" || got.State.ScrollSeq == 0 {
		t.Errorf("state after send = %+v", got.State)
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", admin.Token,
		model.SendMessageRequest{Content: "Hi Sam, looking into it"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin send = %d: %s", rec.Code, rec.Body.String())
	}
	got = next(func(f serverFrame) bool { return f.Type == "state" && len(f.State.Messages) == 2 })
	if got.State.Messages[1].SenderID != admin.Identity.UserID {
		t.Errorf("second message = %+v", got.State.Messages[1])
	}

	ws.WriteJSON(clientFrame{Type: "wave"})
	if f := next(func(f serverFrame) bool { return f.Type == "error" }); f.Error != "unknown frame type" {
		t.Errorf("error frame = %+v", f)
	}
}
