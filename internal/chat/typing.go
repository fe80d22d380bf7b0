package chat

import (
	"sync"
	"time"

	"github.com/campusdesk/helpdesk/internal/realtime"
)

// Typing is a local typing flag that clears itself after a quiet period.
// It is never sent to the peer.
type Typing struct {
	timeout time.Duration

	mu      sync.Mutex
	active  bool
	gen     uint64
	timer   *time.Timer
	changed chan struct{}
}

// NewTyping creates an indicator that clears after timeout without keystrokes.
func NewTyping(timeout time.Duration) *Typing {
	return &Typing{timeout: timeout, changed: make(chan struct{}, 1)}
}

// Keystroke sets the flag and restarts the quiet period.
func (t *Typing) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })

	if !t.active {
		t.active = true
		realtime.Offer(t.changed, struct{}{})
	}
}

func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.active {
		return
	}
	t.active = false
	realtime.Offer(t.changed, struct{}{})
}

// Active reports whether the flag is set.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Changed signals when the flag flips. Signals coalesce.
func (t *Typing) Changed() <-chan struct{} {
	return t.changed
}

// Clear unsets the flag at once.
func (t *Typing) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.active {
		t.active = false
		realtime.Offer(t.changed, struct{}{})
	}
}

// Stop cancels the pending timer.
func (t *Typing) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
}
