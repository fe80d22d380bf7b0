package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

const (
	// StreamName is the name of the change stream.
	StreamName = "CHANGES"

	// SubjectPrefix is the prefix for all change subjects.
	SubjectPrefix = "changes"

	// emptyToken stands in for an empty subject token.
	emptyToken = "_"
)

// ChangeFeed is a realtime.Feed on a JetStream stream. Subscribers read
// through ordered consumers that start at the newest message.
type ChangeFeed struct {
	client *Client
	logger *logger.Logger
}

var _ realtime.Feed = (*ChangeFeed)(nil)

// NewChangeFeed ensures the change stream exists and returns a feed on it.
func NewChangeFeed(ctx context.Context, client *Client, log *logger.Logger) (*ChangeFeed, error) {
	f := &ChangeFeed{client: client, logger: log.Named("changefeed")}
	if err := f.EnsureStream(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// EnsureStream ensures the change stream exists with proper configuration.
func (f *ChangeFeed) EnsureStream(ctx context.Context) error {
	js := f.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Description: "Row-level change notifications",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// ChangeSubject returns the subject a change is published on.
func ChangeSubject(c model.Change) string {
	return strings.Join([]string{SubjectPrefix, token(string(c.Table)), token(string(c.Type)), token(c.Scope)}, ".")
}

// FilterSubject returns the subject filter for f; empty fields match any token.
func FilterSubject(f model.ChangeFilter) string {
	wild := func(s string) string {
		if s == "" {
			return "*"
		}
		return token(s)
	}
	return strings.Join([]string{SubjectPrefix, wild(string(f.Table)), wild(string(f.Type)), wild(f.Scope)}, ".")
}

func token(s string) string {
	if s == "" {
		return emptyToken
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// Publish publishes a change to JetStream.
func (f *ChangeFeed) Publish(ctx context.Context, change model.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	if _, err := f.client.JetStream().Publish(ctx, ChangeSubject(change), data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe delivers changes published after the call that match filter.
func (f *ChangeFeed) Subscribe(ctx context.Context, filter model.ChangeFilter) (*realtime.Subscription, error) {
	subject := FilterSubject(filter)

	consumer, err := f.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	stopper := &consumeStopper{}
	sub, deliver := realtime.NewSubscription(ctx, stopper.stop)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var change model.Change
		if err := json.Unmarshal(msg.Data(), &change); err != nil {
			f.logger.Warn("dropping undecodable change", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		deliver(change)
	})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to consume changes: %w", err)
	}
	stopper.attach(cc)
	return sub, nil
}

// consumeStopper stops a consume context that may be attached after the
// subscription it belongs to has already closed.
type consumeStopper struct {
	mu      sync.Mutex
	cc      jetstream.ConsumeContext
	stopped bool
}

func (s *consumeStopper) attach(cc jetstream.ConsumeContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cc = cc
	if s.stopped {
		cc.Stop()
	}
}

func (s *consumeStopper) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cc != nil {
		s.cc.Stop()
	}
}
