package realtime

import (
	"context"
	"sync"

	"github.com/campusdesk/helpdesk/internal/model"
)

// Hub is an in-process Feed.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]hubSub
}

type hubSub struct {
	filter  model.ChangeFilter
	deliver func(model.Change)
}

var _ Feed = (*Hub)(nil)

// NewHub creates an in-process feed.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]hubSub)}
}

// Publish fans change out to every matching subscriber.
func (h *Hub) Publish(ctx context.Context, change model.Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.filter.Matches(change) {
			sub.deliver(change)
		}
	}
	return nil
}

// Subscribe registers a subscriber for changes matching filter.
func (h *Hub) Subscribe(ctx context.Context, filter model.ChangeFilter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub, deliver := NewSubscription(ctx, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	})
	h.subs[id] = hubSub{filter: filter, deliver: deliver}
	return sub, nil
}
