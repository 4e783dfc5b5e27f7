package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"aurora/internal/domain"
)

var agentColumns = []string{"id", "name", "owner_user_id", "created_at", "updated_at"}

func (r Repo) selectAgents() sq.SelectBuilder {
	return r.sb().Select(agentColumns...).From("agents").Where(sq.Eq{"deleted_at": nil})
}

func scanAgent(scan func(...any) error) (domain.Agent, error) {
	var a domain.Agent
	err := scan(&a.ID, &a.Name, &a.OwnerUserID, at(&a.CreatedAt), at(&a.UpdatedAt))
	a.Lifecycle = domain.Active()
	return a, err
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := exec(ctx, tx, r.sb().Insert("agents").
		Columns("id", "name", "owner_user_id", "created_at", "updated_at").
		Values(a.ID, a.Name, a.OwnerUserID, ts(a.CreatedAt), ts(a.UpdatedAt)))
	return err
}

func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	res, err := exec(ctx, tx, r.sb().Update("agents").
		Set("name", a.Name).
		Set("updated_at", ts(a.UpdatedAt)).
		Where(sq.Eq{"id": a.ID, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

func (r Repo) SoftDeleteAgent(ctx context.Context, tx *sql.Tx, id string, when time.Time) error {
	res, err := exec(ctx, tx, r.sb().Update("agents").
		Set("deleted_at", ts(when)).
		Set("updated_at", ts(when)).
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return r.getAgent(ctx, r.DB, id)
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return r.getAgent(ctx, tx, id)
}

func (r Repo) getAgent(ctx context.Context, q Querier, id string) (domain.Agent, error) {
	var a domain.Agent
	err := scanOne(ctx, q, r.selectAgents().Where(sq.Eq{"id": id}),
		&a.ID, &a.Name, &a.OwnerUserID, at(&a.CreatedAt), at(&a.UpdatedAt))
	a.Lifecycle = domain.Active()
	return a, err
}

// CountAgentsByOwnerTx counts the active agents of a user.
func (r Repo) CountAgentsByOwnerTx(ctx context.Context, tx *sql.Tx, ownerUserID string) (int, error) {
	var n int
	err := scanOne(ctx, tx, r.sb().Select("count(*)").From("agents").
		Where(sq.Eq{"owner_user_id": ownerUserID, "deleted_at": nil}), &n)
	return n, err
}

type AgentFilters struct {
	OwnerUserID string
	Page
}

func (r Repo) ListAgents(ctx context.Context, f AgentFilters) ([]domain.Agent, error) {
	b := r.selectAgents()
	if f.OwnerUserID != "" {
		b = b.Where(sq.Eq{"owner_user_id": f.OwnerUserID})
	}
	b = descAfter(b, "created_at", "id", f.Page).OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	rows, err := query(ctx, r.DB, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
