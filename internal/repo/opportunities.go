package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"aurora/internal/db"
	"aurora/internal/domain"
)

var opportunityColumns = []string{"id", "name", "slug", "created_by", "open_at", "close_at", "created_at", "updated_at"}

var phaseColumns = []string{"id", "opportunity_id", "sequence_number", "name", "opens_at", "closes_at", "created_at"}

func (r Repo) selectOpportunities() sq.SelectBuilder {
	return r.sb().Select(opportunityColumns...).From("opportunities").Where(sq.Eq{"deleted_at": nil})
}

func opportunityDest(o *domain.Opportunity) []any {
	return []any{&o.ID, &o.Name, &o.Slug, &o.CreatedBy, at(&o.OpenAt), at(&o.CloseAt), at(&o.CreatedAt), at(&o.UpdatedAt)}
}

func phaseDest(p *domain.Phase) []any {
	return []any{&p.ID, &p.OpportunityID, &p.SequenceNumber, &p.Name, at(&p.OpensAt), at(&p.ClosesAt), at(&p.CreatedAt)}
}

func (r Repo) InsertOpportunity(ctx context.Context, tx *sql.Tx, o domain.Opportunity) error {
	_, err := exec(ctx, tx, r.sb().Insert("opportunities").
		Columns(opportunityColumns...).
		Values(o.ID, o.Name, o.Slug, o.CreatedBy, ts(o.OpenAt), ts(o.CloseAt), ts(o.CreatedAt), ts(o.UpdatedAt)))
	return err
}

func (r Repo) InsertPhase(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	_, err := exec(ctx, tx, r.sb().Insert("phases").
		Columns(phaseColumns...).
		Values(p.ID, p.OpportunityID, p.SequenceNumber, p.Name, ts(p.OpensAt), ts(p.ClosesAt), ts(p.CreatedAt)))
	return err
}

func (r Repo) UpdateOpportunity(ctx context.Context, tx *sql.Tx, o domain.Opportunity) error {
	res, err := exec(ctx, tx, r.sb().Update("opportunities").
		Set("name", o.Name).
		Set("slug", o.Slug).
		Set("open_at", ts(o.OpenAt)).
		Set("close_at", ts(o.CloseAt)).
		Set("updated_at", ts(o.UpdatedAt)).
		Where(sq.Eq{"id": o.ID, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

func (r Repo) SoftDeleteOpportunity(ctx context.Context, tx *sql.Tx, id string, when time.Time) error {
	res, err := exec(ctx, tx, r.sb().Update("opportunities").
		Set("deleted_at", ts(when)).
		Set("updated_at", ts(when)).
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

// ListOpportunityIDsByCreatorTx returns the active opportunities created by an agent.
func (r Repo) ListOpportunityIDsByCreatorTx(ctx context.Context, tx *sql.Tx, agentID string) ([]string, error) {
	rows, err := query(ctx, tx, r.sb().Select("id").From("opportunities").
		Where(sq.Eq{"created_by": agentID, "deleted_at": nil}).OrderBy("created_at", "id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	return r.getOpportunity(ctx, r.DB, id)
}

func (r Repo) GetOpportunityTx(ctx context.Context, tx *sql.Tx, id string) (domain.Opportunity, error) {
	return r.getOpportunity(ctx, tx, id)
}

func (r Repo) getOpportunity(ctx context.Context, q Querier, id string) (domain.Opportunity, error) {
	var o domain.Opportunity
	if err := scanOne(ctx, q, r.selectOpportunities().Where(sq.Eq{"id": id}), opportunityDest(&o)...); err != nil {
		return o, err
	}
	o.Lifecycle = domain.Active()
	phases, err := r.listPhases(ctx, q, id)
	if err != nil {
		return o, err
	}
	o.Phases = phases
	return o, nil
}

type OpportunityFilters struct {
	CreatedBy string
	Page
}

// ListOpportunities returns active opportunities newest first, without phases.
func (r Repo) ListOpportunities(ctx context.Context, f OpportunityFilters) ([]domain.Opportunity, error) {
	b := r.selectOpportunities()
	if f.CreatedBy != "" {
		b = b.Where(sq.Eq{"created_by": f.CreatedBy})
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
	var res []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		if err := rows.Scan(opportunityDest(&o)...); err != nil {
			return nil, err
		}
		o.Lifecycle = domain.Active()
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) listPhases(ctx context.Context, q Querier, opportunityID string) ([]domain.Phase, error) {
	rows, err := query(ctx, q, r.sb().Select(phaseColumns...).From("phases").
		Where(sq.Eq{"opportunity_id": opportunityID}).OrderBy("sequence_number"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		var p domain.Phase
		if err := rows.Scan(phaseDest(&p)...); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// LockPhaseTx loads a phase whose opportunity is still active and holds the
// phase row until tx ends. On postgres an insert referencing the phase waits
// for that lock; sqlite write transactions are already serialized.
func (r Repo) LockPhaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Phase, error) {
	cols := make([]string, len(phaseColumns))
	for i, c := range phaseColumns {
		cols[i] = "p." + c
	}
	b := r.sb().Select(cols...).From("phases p").
		Join("opportunities o ON o.id = p.opportunity_id").
		Where(sq.Eq{"p.id": id, "o.deleted_at": nil})
	if r.Dialect == db.Postgres {
		b = b.Suffix("FOR UPDATE OF p")
	}
	var p domain.Phase
	err := scanOne(ctx, tx, b, phaseDest(&p)...)
	return p, err
}

func (r Repo) UpdatePhase(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	res, err := exec(ctx, tx, r.sb().Update("phases").
		Set("name", p.Name).
		Set("opens_at", ts(p.OpensAt)).
		Set("closes_at", ts(p.ClosesAt)).
		Where(sq.Eq{"id": p.ID}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

// PhaseReferencedTx reports whether any inscription phase, deleted or not, points at the phase.
func (r Repo) PhaseReferencedTx(ctx context.Context, tx *sql.Tx, phaseID string) (bool, error) {
	var n int
	err := scanOne(ctx, tx, r.sb().Select("count(*)").From("inscription_phases").
		Where(sq.Eq{"phase_id": phaseID}), &n)
	return n > 0, err
}
