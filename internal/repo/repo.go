package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"aurora/internal/db"
	"aurora/internal/domain"
)

// Repo is the storage boundary. Every read it exposes filters to active rows.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate")
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) sb() sq.StatementBuilderType {
	return r.Dialect.Builder()
}

func exec(ctx context.Context, q Querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil && db.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return res, err
}

func query(ctx context.Context, q Querier, b sq.SelectBuilder) (*sql.Rows, error) {
	text, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, text, args...)
}

// scanOne runs b and scans the single row into dest, mapping no rows to ErrNotFound.
func scanOne(ctx context.Context, q Querier, b sq.SelectBuilder, dest ...any) error {
	text, args, err := b.ToSql()
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, text, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// expectOne maps a zero-row write to the given sentinel.
func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func ts(t time.Time) string {
	return domain.FormatTime(t)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// timeCol scans a persisted timestamp into a time.Time.
type timeCol struct{ dst *time.Time }

func (c timeCol) Scan(src any) error {
	switch v := src.(type) {
	case string:
		t, err := domain.ParseTime(v)
		if err != nil {
			return err
		}
		*c.dst = t
	case []byte:
		t, err := domain.ParseTime(string(v))
		if err != nil {
			return err
		}
		*c.dst = t
	case time.Time:
		*c.dst = v.UTC()
	case nil:
		return errors.New("unexpected NULL timestamp")
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func at(dst *time.Time) timeCol {
	return timeCol{dst: dst}
}

type Page struct {
	Limit           int
	CursorCreatedAt time.Time
	CursorID        string
}

func (p Page) hasCursor() bool {
	return p.CursorID != "" && !p.CursorCreatedAt.IsZero()
}

// descAfter restricts a created_at DESC, id DESC listing to rows after the cursor.
func descAfter(b sq.SelectBuilder, createdCol, idCol string, p Page) sq.SelectBuilder {
	if !p.hasCursor() {
		return b
	}
	c := ts(p.CursorCreatedAt)
	return b.Where(sq.Or{
		sq.Lt{createdCol: c},
		sq.And{sq.Eq{createdCol: c}, sq.Lt{idCol: p.CursorID}},
	})
}
