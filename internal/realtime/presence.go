package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/campusdesk/helpdesk/internal/model"
)

// PresenceHub is an in-process Presence. A member's record is removed when
// its membership closes.
type PresenceHub struct {
	mu       sync.Mutex
	channels map[string]*presenceChannel
}

type presenceChannel struct {
	state   model.PresenceState
	members map[string]*hubMembership
}

var _ Presence = (*PresenceHub)(nil)

// NewPresenceHub creates an in-process presence hub.
func NewPresenceHub() *PresenceHub {
	return &PresenceHub{channels: make(map[string]*presenceChannel)}
}

// Join enters channel and immediately receives its current state.
func (h *PresenceHub) Join(ctx context.Context, channel string) (Membership, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channel]
	if !ok {
		ch = &presenceChannel{state: model.PresenceState{}, members: make(map[string]*hubMembership)}
		h.channels[channel] = ch
	}

	m := &hubMembership{
		hub:     h,
		channel: channel,
		key:     uuid.NewString(),
		syncs:   make(chan model.PresenceState, 1),
	}
	ch.members[m.key] = m
	Offer(m.syncs, Copy(ch.state))
	// stopAfter is guarded by h.mu; a Close fired by a done ctx waits for it.
	m.stopAfter = context.AfterFunc(ctx, func() { m.Close() })
	return m, nil
}

// broadcast must be called with h.mu held.
func (h *PresenceHub) broadcast(ch *presenceChannel) {
	for _, m := range ch.members {
		Offer(m.syncs, Copy(ch.state))
	}
}

type hubMembership struct {
	hub       *PresenceHub
	channel   string
	key       string
	syncs     chan model.PresenceState
	once      sync.Once
	stopAfter func() bool // guarded by hub.mu
}

func (m *hubMembership) Track(ctx context.Context, rec model.PresenceRecord) error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	ch, ok := m.hub.channels[m.channel]
	if !ok {
		return nil
	}
	if _, member := ch.members[m.key]; !member {
		return nil
	}
	ch.state[m.key] = []model.PresenceRecord{rec}
	m.hub.broadcast(ch)
	return nil
}

func (m *hubMembership) Syncs() <-chan model.PresenceState {
	return m.syncs
}

func (m *hubMembership) Close() error {
	m.once.Do(func() {
		m.hub.mu.Lock()
		defer m.hub.mu.Unlock()

		if m.stopAfter != nil {
			m.stopAfter()
		}

		ch, ok := m.hub.channels[m.channel]
		if !ok {
			return
		}
		delete(ch.members, m.key)
		_, tracked := ch.state[m.key]
		delete(ch.state, m.key)
		if len(ch.members) == 0 {
			delete(m.hub.channels, m.channel)
			return
		}
		if tracked {
			m.hub.broadcast(ch)
		}
	})
	return nil
}
