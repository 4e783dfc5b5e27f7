package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"aurora/internal/db"
	"aurora/internal/domain"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Migration is one embedded sql/NNNN_name.sql file.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

func loadMigrations() ([]Migration, error) {
	names, err := fsGlob("sql/*.sql")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]string, len(names))
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		prefix, _, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be NNNN_description.sql", base)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s: bad version %q", base, prefix)
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", base, v, prev)
		}
		seen[v] = base
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Name: base, UpSQL: string(body)})
	}
	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

func fsGlob(pattern string) ([]string, error) {
	entries, err := migrationsFS.ReadDir(path.Dir(pattern))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		full := path.Join(path.Dir(pattern), e.Name())
		if ok, _ := path.Match(pattern, full); ok && !e.IsDir() {
			names = append(names, full)
		}
	}
	return names, nil
}

// Migrate applies every pending migration, each in its own transaction, and
// returns the highest applied version. Applied versions are kept in
// schema_migrations.
func Migrate(conn *sql.DB, dialect db.Dialect) (int, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return 0, err
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(conn, dialect)
	if err != nil {
		return 0, err
	}
	current := 0
	if len(applied) > 0 {
		current = slices.Max(applied)
	}
	for _, m := range migrations {
		if slices.Contains(applied, m.Version) {
			continue
		}
		if err := apply(conn, dialect, m); err != nil {
			return current, err
		}
		current = max(current, m.Version)
	}
	return current, nil
}

func appliedVersions(conn *sql.DB, dialect db.Dialect) ([]int, error) {
	q, args, err := dialect.Builder().Select("version").From("schema_migrations").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func apply(conn *sql.DB, dialect db.Dialect, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(m.UpSQL); err != nil {
		return fmt.Errorf("migration %s: %w", m.Name, err)
	}
	q, args, err := dialect.Builder().Insert("schema_migrations").
		Columns("version", "name", "applied_at").
		Values(m.Version, m.Name, domain.FormatTime(time.Now())).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return tx.Commit()
}
