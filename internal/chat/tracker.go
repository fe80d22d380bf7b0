package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// OnlineChannel is the shared presence channel.
const OnlineChannel = "online-users"

// ErrAlreadyJoined is returned when a tracker joins twice.
var ErrAlreadyJoined = errors.New("tracker already joined")

// Tracker keeps the set of online user ids current.
type Tracker struct {
	presence  realtime.Presence
	heartbeat time.Duration
	logger    *logger.Logger
	now       func() time.Time

	mu         sync.RWMutex
	online     map[string]struct{}
	membership realtime.Membership
	joining    bool
	cancel     context.CancelFunc
	done       chan struct{}
	stopAfter  func() bool

	changed chan struct{}
}

// NewTracker creates a tracker that re-publishes its record every heartbeat.
func NewTracker(presence realtime.Presence, heartbeat time.Duration, log *logger.Logger) *Tracker {
	return &Tracker{
		presence:  presence,
		heartbeat: heartbeat,
		logger:    log.Named("presence"),
		now:       func() time.Time { return time.Now().UTC() },
		online:    make(map[string]struct{}),
		changed:   make(chan struct{}, 1),
	}
}

// Join enters the online channel and publishes userID once joined.
func (t *Tracker) Join(ctx context.Context, userID string) error {
	return t.start(ctx, userID)
}

// Observe enters the online channel without publishing a record.
func (t *Tracker) Observe(ctx context.Context) error {
	return t.start(ctx, "")
}

func (t *Tracker) start(ctx context.Context, userID string) error {
	t.mu.Lock()
	if t.membership != nil || t.joining {
		t.mu.Unlock()
		return ErrAlreadyJoined
	}
	t.joining = true
	t.mu.Unlock()

	// Join and Track may be network round trips; readers must not wait on them.
	m, err := t.presence.Join(ctx, OnlineChannel)
	if err == nil && userID != "" {
		if err = m.Track(ctx, model.PresenceRecord{UserID: userID, OnlineAt: t.now()}); err != nil {
			m.Close()
		}
	}
	if err != nil {
		t.mu.Lock()
		t.joining = false
		t.mu.Unlock()
		return fmt.Errorf("failed to join presence channel: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.joining = false
	t.membership, t.cancel, t.done = m, cancel, done
	t.mu.Unlock()
	go t.run(loopCtx, m, userID, done)

	// The callback is bound to this membership so a later Join outlives ctx.
	stop := context.AfterFunc(ctx, func() { t.leave(m) })
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.membership == m {
		t.stopAfter = stop
	} else {
		stop()
	}
	return nil
}

func (t *Tracker) run(ctx context.Context, m realtime.Membership, userID string, done chan struct{}) {
	defer close(done)

	var beat <-chan time.Time
	if userID != "" {
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-m.Syncs():
			t.apply(state)
		case <-beat:
			if err := m.Track(ctx, model.PresenceRecord{UserID: userID, OnlineAt: t.now()}); err != nil && ctx.Err() == nil {
				t.logger.Warn("presence heartbeat failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
}

// apply replaces the online set with the snapshot's user ids.
func (t *Tracker) apply(state model.PresenceState) {
	ids := state.UserIDs()
	t.mu.Lock()
	t.online = ids
	t.mu.Unlock()
	realtime.Offer(t.changed, struct{}{})
}

// IsOnline reports whether userID is in the latest snapshot.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUserIDs returns the latest snapshot's user ids, sorted.
func (t *Tracker) OnlineUserIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Changed signals after each snapshot. Signals coalesce.
func (t *Tracker) Changed() <-chan struct{} {
	return t.changed
}

// Leave exits the channel and removes this member's record.
func (t *Tracker) Leave() error {
	return t.leave(nil)
}

// leave tears down the current membership, or only target when it is set.
func (t *Tracker) leave(target realtime.Membership) error {
	t.mu.Lock()
	m, cancel, done, stopAfter := t.membership, t.cancel, t.done, t.stopAfter
	if m == nil || (target != nil && m != target) {
		t.mu.Unlock()
		return nil
	}
	t.membership, t.cancel, t.done, t.stopAfter = nil, nil, nil, nil
	t.mu.Unlock()

	if stopAfter != nil {
		stopAfter()
	}
	cancel()
	<-done

	t.mu.Lock()
	if t.membership == nil && !t.joining {
		t.online = make(map[string]struct{})
	}
	t.mu.Unlock()
	return m.Close()
}
