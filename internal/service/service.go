// Package service provides business logic for the helpdesk.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock returns the current time. Services use it so tests can pin time.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// publisher emits change notifications after successful writes. A failed
// publish is logged; the write it reports has already committed.
type publisher struct {
	feed   realtime.Feed
	logger *logger.Logger
}

func (p publisher) publish(ctx context.Context, table model.Table, typ model.ChangeType, scope string, row any) {
	if p.feed == nil {
		return
	}
	change, err := model.NewChange(table, typ, scope, row)
	if err != nil {
		p.logger.Error("failed to encode change", zap.String("table", string(table)), zap.Error(err))
		return
	}
	if err := p.feed.Publish(ctx, change); err != nil {
		p.logger.Error("failed to publish change",
			zap.String("table", string(table)),
			zap.String("type", string(typ)),
			zap.String("scope", scope),
			zap.Error(err),
		)
		return
	}
	metrics.ChangesPublished.WithLabelValues(string(table), string(typ)).Inc()
}
