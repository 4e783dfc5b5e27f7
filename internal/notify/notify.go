// Package notify delivers committed workflow changes to interested parties.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"aurora/internal/domain"
)

// Notice describes one committed operation and the timeline entries it wrote.
type Notice struct {
	Event   string
	ActorID string
	Entries []domain.TimelineEntry
}

// Notifier is called only after the operation's transaction committed.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) error {
	if l.Logger == nil {
		return nil
	}
	attrs := []any{slog.String("event", n.Event), slog.String("actor_id", n.ActorID)}
	for _, e := range n.Entries {
		attrs = append(attrs, slog.Group("entry",
			slog.String("entity_type", e.EntityType),
			slog.String("entity_id", e.EntityID),
			slog.String("field", e.Field),
			slog.String("from", e.From),
			slog.String("to", e.To),
		))
	}
	l.Logger.InfoContext(ctx, "notice", attrs...)
	return nil
}

// Multi fans a notice out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventName is the routing key of a timeline entry: entity_type.field, or
// entity_type.action for entries without a field.
func EventName(e domain.TimelineEntry) string {
	if e.Field != "" {
		return e.EntityType + "." + e.Field
	}
	return e.EntityType + "." + string(e.Action)
}
