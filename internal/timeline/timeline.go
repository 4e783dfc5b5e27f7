// Package timeline stores the append-only, per-entity log of field-level changes.
package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"

	"aurora/internal/db"
	"aurora/internal/domain"
)

const defaultPageSize = 100

var columns = []string{"id", "entity_type", "entity_id", "action", "field", "from_value", "to_value", "actor_id", "occurred_at"}

// Writer appends entries inside the caller's transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

// Record appends one entry. ID and At are filled when empty.
func (w Writer) Record(ctx context.Context, tx *sql.Tx, e domain.TimelineEntry) (domain.TimelineEntry, error) {
	if e.EntityType == "" || e.EntityID == "" {
		return e, errors.New("timeline entry requires entity type and id")
	}
	if e.At.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		e.At = now()
	}
	e.At = e.At.UTC().Truncate(time.Microsecond)
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Action == "" {
		e.Action = domain.ActionUpdated
	}
	q, args, err := w.Dialect.Builder().Insert("timeline_entries").
		Columns(columns...).
		Values(e.ID, e.EntityType, e.EntityID, string(e.Action), nullable(e.Field), nullable(e.From), nullable(e.To), e.ActorID, domain.FormatTime(e.At)).
		ToSql()
	if err != nil {
		return e, err
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return e, fmt.Errorf("record timeline entry: %w", err)
	}
	return e, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Reader lists entries. It never mutates the log.
type Reader struct {
	DB       *sql.DB
	Dialect  db.Dialect
	PageSize int
}

type Cursor struct {
	At time.Time
	ID string
}

func (c Cursor) IsZero() bool { return c.ID == "" }

// String encodes the cursor as "at|id".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return domain.FormatTime(c.At) + "|" + c.ID
}

func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Cursor{}, fmt.Errorf("invalid cursor")
	}
	t, err := domain.ParseTime(parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return Cursor{At: t, ID: parts[1]}, nil
}

type Query struct {
	EntityType string
	EntityID   string
	After      Cursor
	Limit      int
}

// Page returns up to q.Limit entries after q.After in ascending (at, id) order,
// plus the cursor of the last entry when more may follow.
func (r Reader) Page(ctx context.Context, q Query) ([]domain.TimelineEntry, Cursor, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = r.pageSize()
	}
	b := r.Dialect.Builder().Select(columns...).From("timeline_entries")
	if q.EntityType != "" {
		b = b.Where(sq.Eq{"entity_type": q.EntityType})
	}
	if q.EntityID != "" {
		b = b.Where(sq.Eq{"entity_id": q.EntityID})
	}
	if !q.After.IsZero() {
		c := domain.FormatTime(q.After.At)
		b = b.Where(sq.Or{
			sq.Gt{"occurred_at": c},
			sq.And{sq.Eq{"occurred_at": c}, sq.Gt{"id": q.After.ID}},
		})
	}
	b = b.OrderBy("occurred_at", "id").Limit(uint64(limit + 1))
	items, err := r.fetch(ctx, b)
	if err != nil {
		return nil, Cursor{}, err
	}
	var next Cursor
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		next = Cursor{At: last.At, ID: last.ID}
	}
	return items, next, nil
}

// ListByEntity yields every entry of one entity in ascending time order. The
// sequence is lazy, fetching one page at a time, and restartable: each range
// starts again from the first entry.
func (r Reader) ListByEntity(ctx context.Context, entityType, entityID string) iter.Seq2[domain.TimelineEntry, error] {
	return r.scan(ctx, Query{EntityType: entityType, EntityID: entityID})
}

// All yields every entry matching q from q.After on.
func (r Reader) All(ctx context.Context, q Query) iter.Seq2[domain.TimelineEntry, error] {
	return r.scan(ctx, q)
}

func (r Reader) scan(ctx context.Context, q Query) iter.Seq2[domain.TimelineEntry, error] {
	return func(yield func(domain.TimelineEntry, error) bool) {
		page := q
		page.Limit = r.pageSize()
		for {
			items, next, err := r.Page(ctx, page)
			if err != nil {
				yield(domain.TimelineEntry{}, err)
				return
			}
			for _, e := range items {
				if !yield(e, nil) {
					return
				}
			}
			if next.IsZero() {
				return
			}
			page.After = next
		}
	}
}

// After returns up to limit entries of every entity with an id greater than afterID.
// Ids are ULIDs so this is a feed in creation order.
func (r Reader) After(ctx context.Context, afterID string, limit int) ([]domain.TimelineEntry, error) {
	if limit <= 0 {
		limit = r.pageSize()
	}
	b := r.Dialect.Builder().Select(columns...).From("timeline_entries")
	if afterID != "" {
		b = b.Where(sq.Gt{"id": afterID})
	}
	return r.fetch(ctx, b.OrderBy("id").Limit(uint64(limit)))
}

// LatestID returns the greatest entry id, or "" for an empty log.
func (r Reader) LatestID(ctx context.Context) (string, error) {
	q, args, err := r.Dialect.Builder().Select("COALESCE(MAX(id), '')").From("timeline_entries").ToSql()
	if err != nil {
		return "", err
	}
	var id string
	err = r.DB.QueryRowContext(ctx, q, args...).Scan(&id)
	return id, err
}

func (r Reader) pageSize() int {
	if r.PageSize > 0 {
		return r.PageSize
	}
	return defaultPageSize
}

// fetch reads the whole result before returning so no rows stay open while callers yield.
func (r Reader) fetch(ctx context.Context, b sq.SelectBuilder) ([]domain.TimelineEntry, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		var action, atText string
		var field, from, to sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &field, &from, &to, &e.ActorID, &atText); err != nil {
			return nil, err
		}
		e.Action = domain.Action(action)
		e.Field = field.String
		e.From = from.String
		e.To = to.String
		if e.At, err = domain.ParseTime(atText); err != nil {
			return nil, fmt.Errorf("timeline entry %s: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
