package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// Watch keeps a derived view current: it emits fetch's result once, then
// refetches and emits again after every burst of changes matching filter.
// A failed fetch is logged and the previous state stays in place. Watch
// returns when ctx is done, the subscription ends or emit fails.
func Watch[T any](ctx context.Context, feed realtime.Feed, filter model.ChangeFilter, fetch func(context.Context) (T, error), emit func(T) error, log *logger.Logger) error {
	return WatchAny(ctx, feed, []model.ChangeFilter{filter}, fetch, emit, log)
}

// WatchAny is Watch over several filters; a change matching any of them
// triggers one refetch.
func WatchAny[T any](ctx context.Context, feed realtime.Feed, filters []model.ChangeFilter, fetch func(context.Context) (T, error), emit func(T) error, log *logger.Logger) error {
	changed := make(chan struct{}, 1)
	ended := make(chan struct{}, len(filters))

	tables := make([]string, 0, len(filters))
	for _, filter := range filters {
		sub, err := feed.Subscribe(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", filter.Table, err)
		}
		defer sub.Close()
		tables = append(tables, string(filter.Table))

		go func() {
			for range sub.C {
				realtime.Offer(changed, struct{}{})
			}
			ended <- struct{}{}
		}()
	}
	table := strings.Join(tables, ",")

	refresh := func() error {
		v, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("refetch failed, keeping previous state",
				zap.String("table", table),
				zap.Error(err),
			)
			return nil
		}
		return emit(v)
	}

	if err := refresh(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ended:
			return ctx.Err()
		case <-changed:
			if err := refresh(); err != nil {
				return err
			}
		}
	}
}
