// Package engine owns every state change of the inscription workflow. Each
// operation runs in one transaction together with its timeline entries.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"aurora/internal/config"
	"aurora/internal/db"
	"aurora/internal/domain"
	"aurora/internal/notify"
	"aurora/internal/repo"
	"aurora/internal/timeline"
)

// SystemActor is recorded for changes made by background jobs.
const SystemActor = "system:scheduler"

const defaultListLimit = 50

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Timeline timeline.Writer
	Reader   timeline.Reader
	Config   *config.Config
	Now      func() time.Time
	Logger   *slog.Logger
	Notifier notify.Notifier
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Timeline: timeline.Writer{Dialect: dialect},
		Reader:   timeline.Reader{DB: conn, Dialect: dialect},
		Config:   cfg,
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// record appends entries in tx, stamping them with actor and time.
func (e Engine) record(ctx context.Context, tx *sql.Tx, actorID string, at time.Time, entries ...domain.TimelineEntry) ([]domain.TimelineEntry, error) {
	out := make([]domain.TimelineEntry, 0, len(entries))
	for _, entry := range entries {
		entry.ActorID = actorID
		entry.At = at
		saved, err := e.Timeline.Record(ctx, tx, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

// notify runs after commit. Failures are logged, never returned.
func (e Engine) notify(ctx context.Context, event, actorID string, entries []domain.TimelineEntry) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, notify.Notice{Event: event, ActorID: actorID, Entries: entries}); err != nil {
		e.logger().Warn("notify failed", "event", event, "err", err)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, repo.ErrVersionConflict) || errors.Is(err, repo.ErrDuplicate)
}

// retryOnConflict runs op a second time when it lost an optimistic race.
// A second loss becomes ConcurrentModificationError.
func (e Engine) retryOnConflict(entity, id string, op func() error) error {
	err := op()
	if !isConflict(err) {
		return err
	}
	e.logger().Debug("retrying after concurrent modification", "entity", entity, "id", id)
	err = op()
	if isConflict(err) {
		return ConcurrentModificationError{Entity: entity, ID: id}
	}
	return err
}

// notFound maps repo.ErrNotFound to a NotFoundError for the named entity.
func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func requireActor(actorID string) error {
	var v validator
	v.required("actor_id", actorID)
	return v.err()
}
