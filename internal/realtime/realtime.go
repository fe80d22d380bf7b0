// Package realtime defines the change-notification feed and presence
// channels the chat and list screens run on, with in-process hubs.
package realtime

import (
	"context"
	"sync"

	"github.com/campusdesk/helpdesk/internal/model"
)

// SubscriptionBuffer is how many undelivered changes a subscription holds
// before further changes are dropped for it.
const SubscriptionBuffer = 128

// Feed publishes row-level changes and delivers them to subscribers.
type Feed interface {
	Publish(ctx context.Context, change model.Change) error
	// Subscribe delivers every later change matching filter until the
	// subscription is closed or ctx is done.
	Subscribe(ctx context.Context, filter model.ChangeFilter) (*Subscription, error)
}

// Presence hands out memberships in named presence channels.
type Presence interface {
	// Join enters channel. The first value on Syncs is the channel state at
	// the time the membership was confirmed.
	Join(ctx context.Context, channel string) (Membership, error)
}

// Membership is one connection's place in a presence channel.
type Membership interface {
	// Track publishes rec as this member's state, replacing any earlier record.
	Track(ctx context.Context, rec model.PresenceRecord) error
	// Syncs carries full channel snapshots. Only the latest undelivered
	// snapshot is kept.
	Syncs() <-chan model.PresenceState
	// Close leaves the channel and removes this member's record.
	Close() error
}

// Subscription is a live feed subscription.
type Subscription struct {
	C <-chan model.Change

	ch        chan model.Change
	mu        sync.Mutex
	closed    bool
	once      sync.Once
	stop      func()
	stopAfter func() bool
}

// NewSubscription returns a subscription closed when ctx is done, and the
// function that feeds it. stop runs once when the subscription closes.
func NewSubscription(ctx context.Context, stop func()) (*Subscription, func(model.Change)) {
	ch := make(chan model.Change, SubscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, stop: stop}
	// AfterFunc may run Close right away when ctx is already done.
	stopAfter := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	s.stopAfter = stopAfter
	s.mu.Unlock()
	return s, s.deliver
}

func (s *Subscription) deliver(c model.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- c:
	default:
	}
}

// Close ends the subscription and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		stopAfter := s.stopAfter
		s.mu.Unlock()
		if stopAfter != nil {
			stopAfter()
		}
		if s.stop != nil {
			s.stop()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Offer replaces any pending value in a capacity-1 channel with v.
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Copy returns a deep copy of state.
func Copy(state model.PresenceState) model.PresenceState {
	out := make(model.PresenceState, len(state))
	for k, recs := range state {
		out[k] = append([]model.PresenceRecord(nil), recs...)
	}
	return out
}
