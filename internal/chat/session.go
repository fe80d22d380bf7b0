// Package chat holds the live pieces of a chat screen: the message
// session, the presence tracker, the typing indicator and the view that
// composes them.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// Messages is the message accessor a session runs on.
type Messages interface {
	List(ctx context.Context, conversationID string) ([]model.Message, error)
	Send(ctx context.Context, sender model.Identity, conversationID, body string) (*model.Message, error)
	Acknowledge(ctx context.Context, reader model.Identity, conversationID string) (int, error)
}

// Session is one reader's live copy of a conversation's messages.
type Session struct {
	reader         model.Identity
	conversationID string
	messages       Messages
	sub            *realtime.Subscription
	logger         *logger.Logger

	mu    sync.RWMutex
	items []model.Message
	ids   map[string]struct{}

	changed chan struct{}
	done    chan struct{}
}

// OpenSession loads the conversation, marks it read for reader and keeps
// the copy current from feed until Close or ctx is done.
func OpenSession(ctx context.Context, messages Messages, feed realtime.Feed, reader model.Identity, conversationID string, log *logger.Logger) (*Session, error) {
	sub, err := feed.Subscribe(ctx, model.ChangeFilter{
		Table: model.TableMessages,
		Type:  model.ChangeInsert,
		Scope: conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	s := &Session{
		reader:         reader,
		conversationID: conversationID,
		messages:       messages,
		sub:            sub,
		logger:         log.Named("session").With(zap.String("conversation_id", conversationID)),
		ids:            make(map[string]struct{}),
		changed:        make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	initial, err := messages.List(ctx, conversationID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	for i := range initial {
		s.insert(initial[i])
	}

	if _, err := messages.Acknowledge(ctx, reader, conversationID); err != nil {
		s.logger.Warn("failed to mark messages read", zap.Error(err))
	}

	go s.run()
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for change := range s.sub.C {
		var msg model.Message
		if err := json.Unmarshal(change.Row, &msg); err != nil {
			s.logger.Warn("ignoring undecodable message change", zap.Error(err))
			continue
		}
		if msg.ConversationID != s.conversationID {
			continue
		}
		if s.insert(msg) {
			realtime.Offer(s.changed, struct{}{})
		}
	}
}

// insert places msg by (created_at, id) unless its id is already present.
func (s *Session) insert(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[msg.ID]; dup {
		return false
	}
	s.ids[msg.ID] = struct{}{}

	i := sort.Search(len(s.items), func(i int) bool { return msg.Before(&s.items[i]) })
	s.items = append(s.items, model.Message{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = msg
	return true
}

// Messages returns a copy of the current sequence.
func (s *Session) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.items...)
}

// Len returns the number of messages held.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Changed signals after the sequence grows. Signals coalesce.
func (s *Session) Changed() <-chan struct{} {
	return s.changed
}

// Send writes a message as the reader. The stored message is merged
// immediately; its feed echo is ignored as a duplicate.
func (s *Session) Send(ctx context.Context, body string) (*model.Message, error) {
	msg, err := s.messages.Send(ctx, s.reader, s.conversationID, body)
	if err != nil {
		return nil, err
	}
	if s.insert(*msg) {
		realtime.Offer(s.changed, struct{}{})
	}
	return msg, nil
}

// MarkRead marks the peer's messages read.
func (s *Session) MarkRead(ctx context.Context) (int, error) {
	return s.messages.Acknowledge(ctx, s.reader, s.conversationID)
}

// Done is closed once the subscription has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the live subscription. It is safe to call more than once.
func (s *Session) Close() {
	s.sub.Close()
	<-s.done
}
