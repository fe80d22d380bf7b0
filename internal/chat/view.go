package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
)

// Peer is the other side of the conversation as the view shows it.
type Peer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// ViewState is everything a chat screen renders.
type ViewState struct {
	Peer      Peer            `json:"peer"`
	Messages  []model.Message `json:"messages"`
	ScrollSeq uint64          `json:"scroll_seq"`
	Typing    bool            `json:"typing"`
}

// View composes a session, the presence tracker and the typing flag.
type View struct {
	session *Session
	tracker *Tracker
	typing  *Typing
	peer    Peer

	mu        sync.Mutex
	scrollSeq uint64

	changes chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewView starts a view of the conversation with peerID.
func NewView(session *Session, tracker *Tracker, typing *Typing, peerID, peerName string) *View {
	v := &View{
		session: session,
		tracker: tracker,
		typing:  typing,
		peer:    Peer{ID: peerID, Name: peerName},
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if session.Len() > 0 {
		v.scrollSeq = 1
	}
	go v.run()
	return v
}

func (v *View) run() {
	defer close(v.done)
	for {
		select {
		case <-v.stop:
			return
		case <-v.session.Done():
			return
		case <-v.session.Changed():
			v.mu.Lock()
			v.scrollSeq++
			v.mu.Unlock()
		case <-v.tracker.Changed():
		case <-v.typing.Changed():
		}
		realtime.Offer(v.changes, struct{}{})
	}
}

// Changes signals whenever State would return something new. Signals coalesce.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

// Done is closed when the view stops updating.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// State returns the current view. ScrollSeq grows each time the message
// list grows, which is when the screen should scroll to the bottom.
func (v *View) State() ViewState {
	v.mu.Lock()
	seq := v.scrollSeq
	v.mu.Unlock()

	peer := v.peer
	peer.Online = peer.ID != "" && v.tracker.IsOnline(peer.ID)
	return ViewState{
		Peer:      peer,
		Messages:  v.session.Messages(),
		ScrollSeq: seq,
		Typing:    v.typing.Active(),
	}
}

// Submit sends text when it has any non-blank content. Blank input is ignored.
func (v *View) Submit(ctx context.Context, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	msg, err := v.session.Send(ctx, text)
	if err != nil {
		return nil, err
	}
	v.typing.Clear()
	return msg, nil
}

// Keystroke records local typing.
func (v *View) Keystroke() {
	v.typing.Keystroke()
}

// MarkRead marks the peer's messages read.
func (v *View) MarkRead(ctx context.Context) (int, error) {
	return v.session.MarkRead(ctx)
}

// Close stops the view and its session and typing timer. The tracker is
// left to its owner.
func (v *View) Close() {
	v.once.Do(func() {
		close(v.stop)
		<-v.done
		v.typing.Stop()
		v.session.Close()
	})
}
