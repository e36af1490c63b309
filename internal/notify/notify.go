// Package notify records user-facing alerts and fans them out to live sinks.
//
// The emitter never deduplicates: callers only emit on genuine transitions
// (a limit that was not crossed before and now is, a goal that just
// completed). Notifications are kept most recent first.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/metrics"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// ErrNotFound is returned by MarkRead for an unknown notification id.
var ErrNotFound = errors.New("notify: notification not found")

// Sink receives notifications after they have been committed.
type Sink interface {
	Publish(ctx context.Context, n model.Notification) error
}

// Emitter appends notifications to a user's ledger and publishes them.
type Emitter struct {
	Now   func() time.Time
	sinks []Sink
	log   *zap.Logger
}

// NewEmitter creates an emitter that publishes to the given sinks.
func NewEmitter(log *zap.Logger, sinks ...Sink) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{
		Now:   time.Now,
		sinks: sinks,
		log:   log,
	}
}

// Emit prepends a new unread notification to l and returns it.
func (e *Emitter) Emit(l *model.Ledger, kind model.NotificationKind, title, message string) model.Notification {
	n := model.Notification{
		ID:        uuid.New().String(),
		UserID:    l.UserID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: e.Now().UTC(),
	}
	l.Notifications = append([]model.Notification{n}, l.Notifications...)
	metrics.NotificationsEmitted.WithLabelValues(string(kind)).Inc()
	return n
}

// MarkRead flags one notification as read.
func MarkRead(l *model.Ledger, id string) error {
	for i := range l.Notifications {
		if l.Notifications[i].ID == id {
			l.Notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

// Clear removes all notifications of l.
func Clear(l *model.Ledger) {
	l.Notifications = nil
}

// Publish delivers committed notifications to every sink. Sink failures are
// logged and do not fail the caller; the notification is already stored.
func (e *Emitter) Publish(ctx context.Context, ns []model.Notification) {
	for _, n := range ns {
		for _, s := range e.sinks {
			if err := s.Publish(ctx, n); err != nil {
				e.log.Warn("notification sink failed",
					zap.String("user_id", n.UserID),
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
			}
		}
	}
}
