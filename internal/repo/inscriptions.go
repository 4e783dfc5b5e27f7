package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"aurora/internal/domain"
)

var inscriptionColumns = []string{"id", "agent_id", "opportunity_id", "created_at", "updated_at"}

var inscriptionPhaseColumns = []string{"id", "inscription_id", "phase_id", "status", "version", "created_at", "updated_at"}

// currentPhaseCond keeps only the highest-sequence active phase of inscription i.
const currentPhaseCond = `p.sequence_number = (SELECT MAX(p2.sequence_number) FROM inscription_phases ip2
JOIN phases p2 ON p2.id = ip2.phase_id
WHERE ip2.inscription_id = i.id AND ip2.deleted_at IS NULL)`

func prefixed(prefix string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return out
}

func inscriptionDest(in *domain.Inscription) []any {
	return []any{&in.ID, &in.AgentID, &in.OpportunityID, at(&in.CreatedAt), at(&in.UpdatedAt)}
}

func inscriptionPhaseDest(ip *domain.InscriptionPhase) []any {
	return []any{&ip.ID, &ip.InscriptionID, &ip.PhaseID, &ip.Status, &ip.Version, at(&ip.CreatedAt), at(&ip.UpdatedAt)}
}

func (r Repo) InsertInscription(ctx context.Context, tx *sql.Tx, in domain.Inscription) error {
	_, err := exec(ctx, tx, r.sb().Insert("inscriptions").
		Columns(inscriptionColumns...).
		Values(in.ID, in.AgentID, in.OpportunityID, ts(in.CreatedAt), ts(in.UpdatedAt)))
	return err
}

// SoftDeleteInscription deletes the inscription and its active phases.
func (r Repo) SoftDeleteInscription(ctx context.Context, tx *sql.Tx, id string, when time.Time) error {
	res, err := exec(ctx, tx, r.sb().Update("inscriptions").
		Set("deleted_at", ts(when)).
		Set("updated_at", ts(when)).
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return err
	}
	if err := expectOne(res, ErrNotFound); err != nil {
		return err
	}
	_, err = exec(ctx, tx, r.sb().Update("inscription_phases").
		Set("deleted_at", ts(when)).
		Set("updated_at", ts(when)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"inscription_id": id, "deleted_at": nil}))
	return err
}

func (r Repo) GetInscription(ctx context.Context, id string) (domain.Inscription, error) {
	return r.getInscription(ctx, r.DB, id)
}

func (r Repo) GetInscriptionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Inscription, error) {
	return r.getInscription(ctx, tx, id)
}

func (r Repo) getInscription(ctx context.Context, q Querier, id string) (domain.Inscription, error) {
	var in domain.Inscription
	err := scanOne(ctx, q, r.sb().Select(inscriptionColumns...).From("inscriptions").
		Where(sq.Eq{"id": id, "deleted_at": nil}), inscriptionDest(&in)...)
	in.Lifecycle = domain.Active()
	return in, err
}

// FindInscriptionTx returns the active inscription of an agent to an opportunity.
func (r Repo) FindInscriptionTx(ctx context.Context, tx *sql.Tx, agentID, opportunityID string) (domain.Inscription, error) {
	var in domain.Inscription
	err := scanOne(ctx, tx, r.sb().Select(inscriptionColumns...).From("inscriptions").
		Where(sq.Eq{"agent_id": agentID, "opportunity_id": opportunityID, "deleted_at": nil}), inscriptionDest(&in)...)
	in.Lifecycle = domain.Active()
	return in, err
}

func (r Repo) InsertInscriptionPhase(ctx context.Context, tx *sql.Tx, ip domain.InscriptionPhase) error {
	_, err := exec(ctx, tx, r.sb().Insert("inscription_phases").
		Columns(inscriptionPhaseColumns...).
		Values(ip.ID, ip.InscriptionID, ip.PhaseID, string(ip.Status), ip.Version, ts(ip.CreatedAt), ts(ip.UpdatedAt)))
	return err
}

// GetInscriptionPhaseTx loads an active inscription phase of an active inscription.
func (r Repo) GetInscriptionPhaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.InscriptionPhase, error) {
	var ip domain.InscriptionPhase
	err := scanOne(ctx, tx, r.sb().Select(prefixed("ip.", inscriptionPhaseColumns)...).
		From("inscription_phases ip").
		Join("inscriptions i ON i.id = ip.inscription_id").
		Where(sq.Eq{"ip.id": id, "ip.deleted_at": nil, "i.deleted_at": nil}), inscriptionPhaseDest(&ip)...)
	ip.Lifecycle = domain.Active()
	return ip, err
}

// CurrentPhaseTx returns the active inscription phase with the highest phase sequence, and its phase.
func (r Repo) CurrentPhaseTx(ctx context.Context, tx *sql.Tx, inscriptionID string) (domain.InscriptionPhase, domain.Phase, error) {
	var (
		ip domain.InscriptionPhase
		p  domain.Phase
	)
	cols := append(prefixed("ip.", inscriptionPhaseColumns), prefixed("p.", phaseColumns)...)
	dest := append(inscriptionPhaseDest(&ip), phaseDest(&p)...)
	err := scanOne(ctx, tx, r.sb().Select(cols...).
		From("inscription_phases ip").
		Join("phases p ON p.id = ip.phase_id").
		Where(sq.Eq{"ip.inscription_id": inscriptionID, "ip.deleted_at": nil}).
		OrderBy("p.sequence_number DESC").
		Limit(1), dest...)
	ip.Lifecycle = domain.Active()
	return ip, p, err
}

func (r Repo) ListInscriptionPhases(ctx context.Context, inscriptionID string) ([]domain.InscriptionPhase, error) {
	rows, err := query(ctx, r.DB, r.sb().Select(prefixed("ip.", inscriptionPhaseColumns)...).
		From("inscription_phases ip").
		Join("phases p ON p.id = ip.phase_id").
		Where(sq.Eq{"ip.inscription_id": inscriptionID, "ip.deleted_at": nil}).
		OrderBy("p.sequence_number"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InscriptionPhase
	for rows.Next() {
		var ip domain.InscriptionPhase
		if err := rows.Scan(inscriptionPhaseDest(&ip)...); err != nil {
			return nil, err
		}
		ip.Lifecycle = domain.Active()
		res = append(res, ip)
	}
	return res, rows.Err()
}

// UpdateInscriptionPhaseStatus writes a new status if the row is still at expectedVersion.
func (r Repo) UpdateInscriptionPhaseStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, expectedVersion int, when time.Time) error {
	res, err := exec(ctx, tx, r.sb().Update("inscription_phases").
		Set("status", string(status)).
		Set("updated_at", ts(when)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "version": expectedVersion, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrVersionConflict)
}

// TouchInscriptionPhase bumps the version so concurrent writers of the same row conflict.
func (r Repo) TouchInscriptionPhase(ctx context.Context, tx *sql.Tx, id string, expectedVersion int, when time.Time) error {
	res, err := exec(ctx, tx, r.sb().Update("inscription_phases").
		Set("updated_at", ts(when)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "version": expectedVersion, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrVersionConflict)
}

func (r Repo) SoftDeleteInscriptionPhase(ctx context.Context, tx *sql.Tx, id string, expectedVersion int, when time.Time) error {
	res, err := exec(ctx, tx, r.sb().Update("inscription_phases").
		Set("deleted_at", ts(when)).
		Set("updated_at", ts(when)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "version": expectedVersion, "deleted_at": nil}))
	if err != nil {
		return err
	}
	return expectOne(res, ErrVersionConflict)
}

type InscriptionFilters struct {
	OpportunityID string
	AgentID       string
	Page
}

// ListInscriptionSummaries returns active inscriptions with their current phase, newest first.
func (r Repo) ListInscriptionSummaries(ctx context.Context, f InscriptionFilters) ([]domain.InscriptionSummary, error) {
	cols := append(prefixed("i.", inscriptionColumns),
		"ip.id", "ip.phase_id", "p.sequence_number", "p.name", "ip.status", "ip.version", "ip.updated_at")
	b := r.sb().Select(cols...).
		From("inscriptions i").
		Join("inscription_phases ip ON ip.inscription_id = i.id AND ip.deleted_at IS NULL").
		Join("phases p ON p.id = ip.phase_id").
		Where(sq.Eq{"i.deleted_at": nil}).
		Where(currentPhaseCond)
	if f.OpportunityID != "" {
		b = b.Where(sq.Eq{"i.opportunity_id": f.OpportunityID})
	}
	if f.AgentID != "" {
		b = b.Where(sq.Eq{"i.agent_id": f.AgentID})
	}
	b = descAfter(b, "i.created_at", "i.id", f.Page).OrderBy("i.created_at DESC", "i.id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	rows, err := query(ctx, r.DB, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InscriptionSummary
	for rows.Next() {
		var s domain.InscriptionSummary
		c := &s.Current
		dest := append(inscriptionDest(&s.Inscription),
			&c.InscriptionPhaseID, &c.PhaseID, &c.SequenceNumber, &c.Name, &c.Status, &c.Version, at(&c.UpdatedAt))
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		s.Lifecycle = domain.Active()
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListAdvanceCandidates returns inscriptions whose current phase is approved and
// whose next phase is open at now.
func (r Repo) ListAdvanceCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	n := ts(now)
	b := r.sb().Select("i.id").
		From("inscriptions i").
		Join("opportunities o ON o.id = i.opportunity_id AND o.deleted_at IS NULL").
		Join("inscription_phases ip ON ip.inscription_id = i.id AND ip.deleted_at IS NULL").
		Join("phases p ON p.id = ip.phase_id").
		Where(sq.Eq{"i.deleted_at": nil, "ip.status": string(domain.StatusApproved)}).
		Where(currentPhaseCond).
		Where(`EXISTS (SELECT 1 FROM phases np WHERE np.opportunity_id = i.opportunity_id
AND np.sequence_number = (SELECT MIN(p3.sequence_number) FROM phases p3 WHERE p3.opportunity_id = i.opportunity_id AND p3.sequence_number > p.sequence_number)
AND np.opens_at <= ? AND np.closes_at > ?)`, n, n).
		OrderBy("i.created_at", "i.id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := query(ctx, r.DB, b)
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
