package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/internal/store/memory"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeMessages serves a fixed history and records acknowledgements.
type fakeMessages struct {
	mu      sync.Mutex
	history []model.Message
	acks    int
	sent    []model.Message
}

func (f *fakeMessages) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.history...), nil
}

func (f *fakeMessages) Send(ctx context.Context, sender model.Identity, conversationID, body string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := model.Message{
		ID:             "sent-" + body,
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		Content:        body,
		CreatedAt:      base.Add(time.Hour),
	}
	f.sent = append(f.sent, msg)
	return &msg, nil
}

func (f *fakeMessages) Acknowledge(ctx context.Context, reader model.Identity, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return 0, nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func publishMessage(t *testing.T, feed realtime.Feed, msg model.Message) {
	t.Helper()
	change, err := model.NewChange(model.TableMessages, model.ChangeInsert, msg.ConversationID, msg)
	if err != nil {
		t.Fatalf("NewChange: %v", err)
	}
	if err := feed.Publish(context.Background(), change); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestSessionMergesInOrderWithoutDuplicates(t *testing.T) {
	hub := realtime.NewHub()
	msgs := &fakeMessages{history: []model.Message{
		{ID: "m1", ConversationID: "c1", CreatedAt: base},
		{ID: "m3", ConversationID: "c1", CreatedAt: base.Add(2 * time.Minute)},
	}}
	reader := model.Identity{UserID: "s1", Role: model.RoleStudent}

	s, err := OpenSession(context.Background(), msgs, hub, reader, "c1", logger.NewNop())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer s.Close()

	if msgs.acks != 1 {
		t.Errorf("acknowledged %d times on open, want 1", msgs.acks)
	}

	publishMessage(t, hub, model.Message{ID: "m2", ConversationID: "c1", CreatedAt: base.Add(time.Minute)})
	publishMessage(t, hub, model.Message{ID: "m3", ConversationID: "c1", CreatedAt: base.Add(2 * time.Minute)})
	publishMessage(t, hub, model.Message{ID: "x1", ConversationID: "c2", CreatedAt: base})

	want := []string{"m1", "m2", "m3"}
	eventually(t, "m2 to be merged", func() bool { return s.Len() == 3 })
	if got := ids(s.Messages()); !equal(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}

	sent, err := s.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	publishMessage(t, hub, *sent)

	time.Sleep(20 * time.Millisecond)
	if got := ids(s.Messages()); !equal(got, []string{"m1", "m2", "m3", "sent-hello"}) {
		t.Errorf("after send, messages = %v", got)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	hub := realtime.NewHub()
	s, err := OpenSession(context.Background(), &fakeMessages{}, hub, model.Identity{UserID: "a1", Role: model.RoleAdmin}, "c1", logger.NewNop())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	s.Close()
	s.Close()

	select {
	case <-s.Done():
	default:
		t.Error("session not done after Close")
	}
}

func TestSessionWithServices(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()
	st := memory.New()
	hub := realtime.NewHub()

	admin := model.Identity{UserID: "admin-1", Role: model.RoleAdmin, Name: "Ada"}
	student := model.Identity{UserID: "student-1", Role: model.RoleStudent, Name: "Sam"}
	for _, id := range []model.Identity{admin, student} {
		if err := st.CreateAccount(ctx, &model.NewAccount{
			User:    model.User{ID: id.UserID, Email: id.UserID + "@campus.edu", CreatedAt: base},
			Role:    id.Role,
			Profile: model.Profile{ID: "p-" + id.UserID, UserID: id.UserID, FullName: id.Name, CreatedAt: base},
		}); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}

	conversations := service.NewConversationService(st, st, hub, log)
	messages := service.NewMessageService(st, conversations, hub, log)

	conv, err := conversations.FindOrCreate(ctx, student.UserID)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if _, err := messages.Send(ctx, admin, conv.ID, "Welcome to the helpdesk"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	s, err := OpenSession(ctx, messages, hub, student, conv.ID, log)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer s.Close()

	got, _ := conversations.Get(ctx, conv.ID)
	if got.UnreadByStudent != 0 {
		t.Errorf("UnreadByStudent = %d after open, want 0", got.UnreadByStudent)
	}

	if _, err := messages.Send(ctx, admin, conv.ID, "Any update?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	eventually(t, "admin message to arrive", func() bool { return s.Len() == 2 })

	if _, err := s.Send(ctx, "   "); !errors.Is(err, service.ErrEmptyMessage) {
		t.Errorf("blank send: err = %v, want ErrEmptyMessage", err)
	}
}

func TestTypingClearsAfterQuietPeriod(t *testing.T) {
	typing := NewTyping(60 * time.Millisecond)
	defer typing.Stop()

	if typing.Active() {
		t.Fatal("typing active before any keystroke")
	}
	typing.Keystroke()
	if !typing.Active() {
		t.Fatal("typing not active after keystroke")
	}

	time.Sleep(30 * time.Millisecond)
	typing.Keystroke()
	time.Sleep(40 * time.Millisecond)
	if !typing.Active() {
		t.Error("keystroke should restart the quiet period")
	}

	eventually(t, "typing to clear", func() bool { return !typing.Active() })

	typing.Keystroke()
	typing.Clear()
	if typing.Active() {
		t.Error("Clear did not unset the flag")
	}
}

func TestTrackerSeesPeers(t *testing.T) {
	presence := realtime.NewPresenceHub()
	log := logger.NewNop()
	ctx := context.Background()

	alice := NewTracker(presence, time.Hour, log)
	if err := alice.Join(ctx, "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer alice.Leave()

	if err := alice.Join(ctx, "alice"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("second Join: err = %v, want ErrAlreadyJoined", err)
	}

	bob := NewTracker(presence, time.Hour, log)
	if err := bob.Join(ctx, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	eventually(t, "alice to see bob", func() bool { return alice.IsOnline("bob") })
	eventually(t, "bob to see alice", func() bool { return bob.IsOnline("alice") })

	watcher := NewTracker(presence, time.Hour, log)
	if err := watcher.Observe(ctx); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer watcher.Leave()
	eventually(t, "observer snapshot", func() bool {
		return equal(watcher.OnlineUserIDs(), []string{"alice", "bob"})
	})

	if err := bob.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	eventually(t, "bob to go offline", func() bool { return !alice.IsOnline("bob") })
	if bob.IsOnline("alice") {
		t.Error("a tracker that left should report nobody online")
	}
}

func TestTrackerRejoinOutlivesEarlierContext(t *testing.T) {
	presence := realtime.NewPresenceHub()
	log := logger.NewNop()

	watcher := NewTracker(presence, time.Hour, log)
	if err := watcher.Observe(context.Background()); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer watcher.Leave()

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	carol := NewTracker(presence, time.Hour, log)
	if err := carol.Join(first, "carol"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := carol.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := carol.Join(context.Background(), "carol"); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	defer carol.Leave()
	eventually(t, "carol online after rejoin", func() bool { return watcher.IsOnline("carol") })

	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	if !watcher.IsOnline("carol") || !carol.IsOnline("carol") {
		t.Error("cancelling the first join's context tore down the current membership")
	}
}

// slowPresence holds Join until release is closed.
type slowPresence struct {
	realtime.Presence
	entered chan struct{}
	release chan struct{}
}

func (p *slowPresence) Join(ctx context.Context, channel string) (realtime.Membership, error) {
	close(p.entered)
	<-p.release
	return p.Presence.Join(ctx, channel)
}

func TestTrackerReadsDoNotWaitForJoin(t *testing.T) {
	presence := &slowPresence{
		Presence: realtime.NewPresenceHub(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	tracker := NewTracker(presence, time.Hour, logger.NewNop())

	joined := make(chan error, 1)
	go func() { joined <- tracker.Join(context.Background(), "dana") }()
	<-presence.entered

	read := make(chan []string, 1)
	go func() { read <- tracker.OnlineUserIDs() }()
	select {
	case ids := <-read:
		if len(ids) != 0 {
			t.Errorf("online before join completed: %v", ids)
		}
	case <-time.After(time.Second):
		t.Fatal("OnlineUserIDs blocked behind a pending join")
	}
	if err := tracker.Join(context.Background(), "dana"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("concurrent Join: err = %v, want ErrAlreadyJoined", err)
	}

	close(presence.release)
	if err := <-joined; err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer tracker.Leave()
	eventually(t, "dana online", func() bool { return tracker.IsOnline("dana") })
}

func TestWatchRefetchesOnChange(t *testing.T) {
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	fetches := 0
	emitted := make(chan int, 8)

	filter := model.ChangeFilter{Table: model.TableProblems, Scope: "s1"}
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, hub, filter, func(context.Context) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			fetches++
			if fetches == 2 {
				return 0, errors.New("temporary failure")
			}
			return fetches, nil
		}, func(n int) error {
			emitted <- n
			return nil
		}, logger.NewNop())
	}()

	if n := <-emitted; n != 1 {
		t.Fatalf("first emit = %d, want 1", n)
	}

	hub.Publish(ctx, model.Change{Table: model.TableProblems, Type: model.ChangeInsert, Scope: "s1"})
	eventually(t, "failed refetch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fetches == 2
	})
	select {
	case n := <-emitted:
		t.Fatalf("failed fetch emitted %d", n)
	default:
	}

	hub.Publish(ctx, model.Change{Table: model.TableProblems, Type: model.ChangeUpdate, Scope: "s2"})
	hub.Publish(ctx, model.Change{Table: model.TableProblems, Type: model.ChangeUpdate, Scope: "s1"})
	select {
	case n := <-emitted:
		if n != 3 {
			t.Errorf("emit after change = %d, want 3", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no emit after matching change")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}

func TestWatchStopsOnEmitError(t *testing.T) {
	hub := realtime.NewHub()
	boom := errors.New("client gone")
	err := Watch(context.Background(), hub, model.ChangeFilter{Table: model.TableConversations},
		func(context.Context) (string, error) { return "state", nil },
		func(string) error { return boom },
		logger.NewNop())
	if !errors.Is(err, boom) {
		t.Errorf("Watch returned %v, want the emit error", err)
	}
}

func TestWatchAnyRefetchesOnEitherTable(t *testing.T) {
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	fetches := 0
	emitted := make(chan int, 8)
	filters := []model.ChangeFilter{
		{Table: model.TableProblems},
		{Table: model.TableMessages, Type: model.ChangeInsert},
	}

	done := make(chan error, 1)
	go func() {
		done <- WatchAny(ctx, hub, filters, func(context.Context) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			fetches++
			return fetches, nil
		}, func(n int) error {
			emitted <- n
			return nil
		}, logger.NewNop())
	}()

	next := func(want int) {
		t.Helper()
		select {
		case n := <-emitted:
			if n != want {
				t.Errorf("emit = %d, want %d", n, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no emit %d", want)
		}
	}
	next(1)

	hub.Publish(ctx, model.Change{Table: model.TableProblems, Type: model.ChangeInsert})
	next(2)
	hub.Publish(ctx, model.Change{Table: model.TableMessages, Type: model.ChangeInsert})
	next(3)

	hub.Publish(ctx, model.Change{Table: model.TableConversations, Type: model.ChangeUpdate})
	hub.Publish(ctx, model.Change{Table: model.TableMessages, Type: model.ChangeUpdate})
	time.Sleep(50 * time.Millisecond)
	select {
	case n := <-emitted:
		t.Errorf("unmatched change caused emit %d", n)
	default:
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("WatchAny returned %v, want context.Canceled", err)
	}
}

func TestViewState(t *testing.T) {
	hub := realtime.NewHub()
	presence := realtime.NewPresenceHub()
	log := logger.NewNop()
	ctx := context.Background()

	msgs := &fakeMessages{history: []model.Message{{ID: "m1", ConversationID: "c1", SenderID: "a1", CreatedAt: base}}}
	student := model.Identity{UserID: "s1", Role: model.RoleStudent}

	session, err := OpenSession(ctx, msgs, hub, student, "c1", log)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	tracker := NewTracker(presence, time.Hour, log)
	if err := tracker.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer tracker.Leave()

	view := NewView(session, tracker, NewTyping(time.Second), "a1", "Ada")
	defer view.Close()

	state := view.State()
	if state.Peer.Online {
		t.Error("peer online before joining")
	}
	if len(state.Messages) != 1 || state.ScrollSeq != 1 {
		t.Errorf("initial state = %+v", state)
	}

	admin := NewTracker(presence, time.Hour, log)
	if err := admin.Join(ctx, "a1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer admin.Leave()
	eventually(t, "peer to come online", func() bool { return view.State().Peer.Online })

	if msg, err := view.Submit(ctx, "  \n "); msg != nil || err != nil {
		t.Errorf("blank Submit = %v, %v; want no-op", msg, err)
	}
	if len(msgs.sent) != 0 {
		t.Errorf("blank Submit reached the accessor")
	}

	view.Keystroke()
	if !view.State().Typing {
		t.Error("typing not shown after keystroke")
	}

	if _, err := view.Submit(ctx, "thanks"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, "scroll to advance", func() bool { return view.State().ScrollSeq == 2 })
	state = view.State()
	if len(state.Messages) != 2 || state.Typing {
		t.Errorf("after submit, state = %+v", state)
	}

	view.Close()
	view.Close()
}
