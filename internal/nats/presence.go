package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// PresenceBucket is the key-value bucket holding presence records.
const PresenceBucket = "presence"

// Presence is a realtime.Presence on a JetStream key-value bucket. Keys are
// <channel>.<member>; records older than the TTL are ignored.
type Presence struct {
	kv     jetstream.KeyValue
	ttl    time.Duration
	logger *logger.Logger
}

var _ realtime.Presence = (*Presence)(nil)

// NewPresence ensures the presence bucket exists.
func NewPresence(ctx context.Context, client *Client, ttl time.Duration, log *logger.Logger) (*Presence, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, PresenceBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      PresenceBucket,
			Description: "Online presence records",
			TTL:         ttl,
			Storage:     jetstream.MemoryStorage,
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open presence bucket: %w", err)
	}

	return &Presence{kv: kv, ttl: ttl, logger: log.Named("presence")}, nil
}

// PresenceKey returns the bucket key of a member in a channel.
func PresenceKey(channel, member string) string {
	return token(channel) + "." + member
}

// Join watches channel and returns a membership fed by the watch.
func (p *Presence) Join(ctx context.Context, channel string) (realtime.Membership, error) {
	watchCtx, cancel := context.WithCancel(context.Background())
	watcher, err := p.kv.Watch(watchCtx, token(channel)+".*")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch presence: %w", err)
	}

	m := &membership{
		presence: p,
		key:      PresenceKey(channel, uuid.NewString()),
		records:  make(map[string]model.PresenceRecord),
		syncs:    make(chan model.PresenceState, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(watchCtx, watcher)

	stopAfter := context.AfterFunc(ctx, func() { m.Close() })
	m.mu.Lock()
	m.stopAfter = stopAfter
	m.mu.Unlock()
	return m, nil
}

type membership struct {
	presence *Presence
	key      string

	mu        sync.Mutex
	records   map[string]model.PresenceRecord
	tracked   bool
	ready     bool
	stopAfter func() bool

	syncs  chan model.PresenceState
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (m *membership) run(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer close(m.done)
	defer watcher.Stop()

	prune := time.NewTicker(m.presence.ttl / 2)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if m.pruneStale(time.Now()) {
				m.emit()
			}
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			// A nil entry marks the end of the initial values.
			if entry == nil {
				m.mu.Lock()
				m.ready = true
				m.mu.Unlock()
				m.emit()
				continue
			}
			m.apply(entry)
			m.mu.Lock()
			ready := m.ready
			m.mu.Unlock()
			if ready {
				m.emit()
			}
		}
	}
}

func (m *membership) apply(entry jetstream.KeyValueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		delete(m.records, entry.Key())
	default:
		var rec model.PresenceRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			m.presence.logger.Warn("ignoring undecodable presence record", zap.String("key", entry.Key()), zap.Error(err))
			return
		}
		m.records[entry.Key()] = rec
	}
}

func (m *membership) pruneStale(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := false
	for key, rec := range m.records {
		if now.Sub(rec.OnlineAt) > m.presence.ttl {
			delete(m.records, key)
			pruned = true
		}
	}
	return pruned
}

func (m *membership) emit() {
	m.mu.Lock()
	state := snapshot(m.records, time.Now(), m.presence.ttl)
	m.mu.Unlock()
	realtime.Offer(m.syncs, state)
}

// snapshot groups fresh records by member key.
func snapshot(records map[string]model.PresenceRecord, now time.Time, ttl time.Duration) model.PresenceState {
	state := make(model.PresenceState, len(records))
	for key, rec := range records {
		if now.Sub(rec.OnlineAt) > ttl {
			continue
		}
		member := key
		if i := strings.LastIndexByte(key, '.'); i >= 0 {
			member = key[i+1:]
		}
		state[member] = append(state[member], rec)
	}
	return state
}

func (m *membership) Track(ctx context.Context, rec model.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}
	if _, err := m.presence.kv.Put(ctx, m.key, data); err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	m.mu.Lock()
	m.tracked = true
	m.mu.Unlock()
	return nil
}

func (m *membership) Syncs() <-chan model.PresenceState {
	return m.syncs
}

func (m *membership) Close() error {
	var err error
	m.once.Do(func() {
		m.mu.Lock()
		tracked, stopAfter := m.tracked, m.stopAfter
		m.mu.Unlock()
		if stopAfter != nil {
			stopAfter()
		}

		if tracked {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if derr := m.presence.kv.Delete(ctx, m.key); derr != nil {
				err = fmt.Errorf("failed to remove presence record: %w", derr)
			}
		}
		m.cancel()
		<-m.done
	})
	return err
}
