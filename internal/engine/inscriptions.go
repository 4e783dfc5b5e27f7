package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"aurora/internal/domain"
	"aurora/internal/repo"
)

// CreateInscription registers an agent to an opportunity at its first phase.
func (e Engine) CreateInscription(ctx context.Context, agentID, opportunityID, actorID string) (domain.Inscription, error) {
	var v validator
	v.required("agent_id", agentID)
	v.required("opportunity_id", opportunityID)
	v.required("actor_id", actorID)
	if err := v.err(); err != nil {
		return domain.Inscription{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inscription{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetAgentTx(ctx, tx, agentID); err != nil {
		return domain.Inscription{}, notFound(err, domain.EntityAgent, agentID)
	}
	o, err := e.Repo.GetOpportunityTx(ctx, tx, opportunityID)
	if err != nil {
		return domain.Inscription{}, notFound(err, domain.EntityOpportunity, opportunityID)
	}
	_, err = e.Repo.FindInscriptionTx(ctx, tx, agentID, opportunityID)
	switch {
	case err == nil:
		return domain.Inscription{}, DuplicateInscriptionError{AgentID: agentID, OpportunityID: opportunityID}
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Inscription{}, err
	}
	now := e.now()
	if len(o.Phases) == 0 || !o.Phases[0].OpenAt(now) {
		return domain.Inscription{}, OpportunityClosedError{OpportunityID: opportunityID}
	}
	first := o.Phases[0]

	in := domain.Inscription{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		OpportunityID: opportunityID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lifecycle:     domain.Active(),
	}
	ip := domain.InscriptionPhase{
		ID:            uuid.NewString(),
		InscriptionID: in.ID,
		PhaseID:       first.ID,
		Status:        domain.StatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lifecycle:     domain.Active(),
	}
	if err := e.Repo.InsertInscription(ctx, tx, in); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Inscription{}, DuplicateInscriptionError{AgentID: agentID, OpportunityID: opportunityID}
		}
		return domain.Inscription{}, fmt.Errorf("insert inscription: %w", err)
	}
	if err := e.Repo.InsertInscriptionPhase(ctx, tx, ip); err != nil {
		return domain.Inscription{}, fmt.Errorf("insert inscription phase: %w", err)
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityInscription,
		EntityID:   in.ID,
		Action:     domain.ActionCreated,
		Field:      "phase",
		To:         first.ID,
	})
	if err != nil {
		return domain.Inscription{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Inscription{}, err
	}
	in.Phases = []domain.InscriptionPhase{ip}
	e.notify(ctx, "inscription.created", actorID, entries)
	return in, nil
}

// Advance moves an inscription whose current phase is approved to the next
// phase, provided that phase is open now.
func (e Engine) Advance(ctx context.Context, inscriptionID, actorID string) (domain.InscriptionPhase, error) {
	if err := requireActor(actorID); err != nil {
		return domain.InscriptionPhase{}, err
	}
	var (
		next    domain.InscriptionPhase
		entries []domain.TimelineEntry
	)
	err := e.retryOnConflict(domain.EntityInscription, inscriptionID, func() error {
		var err error
		next, entries, err = e.advanceOnce(ctx, inscriptionID, actorID)
		return err
	})
	if err != nil {
		return domain.InscriptionPhase{}, err
	}
	e.notify(ctx, "inscription.advanced", actorID, entries)
	return next, nil
}

func (e Engine) advanceOnce(ctx context.Context, inscriptionID, actorID string) (domain.InscriptionPhase, []domain.TimelineEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInscriptionTx(ctx, tx, inscriptionID)
	if err != nil {
		return domain.InscriptionPhase{}, nil, notFound(err, domain.EntityInscription, inscriptionID)
	}
	cur, curPhase, err := e.Repo.CurrentPhaseTx(ctx, tx, in.ID)
	if err != nil {
		return domain.InscriptionPhase{}, nil, notFound(err, domain.EntityInscription, inscriptionID)
	}
	if cur.Status != domain.StatusApproved {
		return domain.InscriptionPhase{}, nil, NotEligibleError{InscriptionID: in.ID, Status: cur.Status}
	}
	o, err := e.Repo.GetOpportunityTx(ctx, tx, in.OpportunityID)
	if err != nil {
		return domain.InscriptionPhase{}, nil, notFound(err, domain.EntityOpportunity, in.OpportunityID)
	}
	nextPhase, ok := phaseAfter(o.Phases, curPhase.SequenceNumber)
	if !ok {
		return domain.InscriptionPhase{}, nil, NoNextPhaseError{InscriptionID: in.ID}
	}
	now := e.now()
	if !nextPhase.OpenAt(now) {
		return domain.InscriptionPhase{}, nil, PhaseNotOpenError{
			PhaseID:  nextPhase.ID,
			OpensAt:  domain.FormatTime(nextPhase.OpensAt),
			ClosesAt: domain.FormatTime(nextPhase.ClosesAt),
		}
	}
	// claim the current row so a concurrent advance of the same inscription conflicts
	if err := e.Repo.TouchInscriptionPhase(ctx, tx, cur.ID, cur.Version, now); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	next := domain.InscriptionPhase{
		ID:            uuid.NewString(),
		InscriptionID: in.ID,
		PhaseID:       nextPhase.ID,
		Status:        domain.StatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lifecycle:     domain.Active(),
	}
	if err := e.Repo.InsertInscriptionPhase(ctx, tx, next); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityInscription,
		EntityID:   in.ID,
		Field:      "phase",
		From:       curPhase.ID,
		To:         nextPhase.ID,
	})
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	return next, entries, nil
}

// AdvanceCandidates lists inscriptions whose current phase is approved and
// whose next phase is open now.
func (e Engine) AdvanceCandidates(ctx context.Context, limit int) ([]string, error) {
	return e.Repo.ListAdvanceCandidates(ctx, e.now(), limit)
}

// phaseAfter returns the phase with the lowest sequence number above seq.
func phaseAfter(phases []domain.Phase, seq int) (domain.Phase, bool) {
	var (
		best  domain.Phase
		found bool
	)
	for _, p := range phases {
		if p.SequenceNumber <= seq {
			continue
		}
		if !found || p.SequenceNumber < best.SequenceNumber {
			best, found = p, true
		}
	}
	return best, found
}

// SetStatus changes the status of one inscription phase. Setting the status it
// already has succeeds without writing anything.
func (e Engine) SetStatus(ctx context.Context, inscriptionPhaseID string, status domain.Status, actorID string) (domain.InscriptionPhase, error) {
	var v validator
	v.required("inscription_phase_id", inscriptionPhaseID)
	v.required("actor_id", actorID)
	if !status.Valid() {
		v.add("status", fmt.Sprintf("must be one of %v", domain.Statuses()))
	}
	if err := v.err(); err != nil {
		return domain.InscriptionPhase{}, err
	}
	var (
		ip      domain.InscriptionPhase
		entries []domain.TimelineEntry
	)
	err := e.retryOnConflict(domain.EntityInscriptionPhase, inscriptionPhaseID, func() error {
		var err error
		ip, entries, err = e.setStatusOnce(ctx, inscriptionPhaseID, status, actorID)
		return err
	})
	if err != nil {
		return domain.InscriptionPhase{}, err
	}
	if len(entries) > 0 {
		e.notify(ctx, "inscription_phase.status_changed", actorID, entries)
	}
	return ip, nil
}

func (e Engine) setStatusOnce(ctx context.Context, id string, status domain.Status, actorID string) (domain.InscriptionPhase, []domain.TimelineEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	defer tx.Rollback()

	ip, err := e.Repo.GetInscriptionPhaseTx(ctx, tx, id)
	if err != nil {
		return domain.InscriptionPhase{}, nil, notFound(err, domain.EntityInscriptionPhase, id)
	}
	if ip.Status == status {
		return ip, nil, nil
	}
	if !domain.CanTransition(ip.Status, status) {
		return domain.InscriptionPhase{}, nil, IllegalTransitionError{From: ip.Status, To: status}
	}
	now := e.now()
	if err := e.Repo.UpdateInscriptionPhaseStatus(ctx, tx, ip.ID, status, ip.Version, now); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityInscriptionPhase,
		EntityID:   ip.ID,
		Field:      "status",
		From:       string(ip.Status),
		To:         string(status),
	})
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	ip.Status = status
	ip.Version++
	ip.UpdatedAt = now
	return ip, entries, nil
}

// RollbackPhase undoes the last advance by soft-deleting the current
// inscription phase. It returns the phase that is current afterwards.
func (e Engine) RollbackPhase(ctx context.Context, inscriptionID, actorID string) (domain.InscriptionPhase, error) {
	if err := requireActor(actorID); err != nil {
		return domain.InscriptionPhase{}, err
	}
	var (
		prev    domain.InscriptionPhase
		entries []domain.TimelineEntry
	)
	err := e.retryOnConflict(domain.EntityInscription, inscriptionID, func() error {
		var err error
		prev, entries, err = e.rollbackOnce(ctx, inscriptionID, actorID)
		return err
	})
	if err != nil {
		return domain.InscriptionPhase{}, err
	}
	e.notify(ctx, "inscription.rolled_back", actorID, entries)
	return prev, nil
}

func (e Engine) rollbackOnce(ctx context.Context, inscriptionID, actorID string) (domain.InscriptionPhase, []domain.TimelineEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInscriptionTx(ctx, tx, inscriptionID)
	if err != nil {
		return domain.InscriptionPhase{}, nil, notFound(err, domain.EntityInscription, inscriptionID)
	}
	cur, curPhase, err := e.Repo.CurrentPhaseTx(ctx, tx, in.ID)
	if err != nil {
		return domain.InscriptionPhase{}, nil, notFound(err, domain.EntityInscription, inscriptionID)
	}
	now := e.now()
	if err := e.Repo.SoftDeleteInscriptionPhase(ctx, tx, cur.ID, cur.Version, now); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	prev, prevPhase, err := e.Repo.CurrentPhaseTx(ctx, tx, in.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.InscriptionPhase{}, nil, NoPreviousPhaseError{InscriptionID: in.ID}
	}
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityInscription,
		EntityID:   in.ID,
		Field:      "phase",
		From:       curPhase.ID,
		To:         prevPhase.ID,
	})
	if err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InscriptionPhase{}, nil, err
	}
	return prev, entries, nil
}

// ListInscriptions returns every active inscription of an opportunity with
// its current phase, newest first.
func (e Engine) ListInscriptions(ctx context.Context, opportunityID string) ([]domain.InscriptionSummary, error) {
	if _, err := e.Repo.GetOpportunity(ctx, opportunityID); err != nil {
		return nil, notFound(err, domain.EntityOpportunity, opportunityID)
	}
	return e.Repo.ListInscriptionSummaries(ctx, repo.InscriptionFilters{OpportunityID: opportunityID})
}

// ListInscriptionsPage is ListInscriptions restricted to one page.
func (e Engine) ListInscriptionsPage(ctx context.Context, opportunityID string, page repo.Page) ([]domain.InscriptionSummary, error) {
	if _, err := e.Repo.GetOpportunity(ctx, opportunityID); err != nil {
		return nil, notFound(err, domain.EntityOpportunity, opportunityID)
	}
	page.Limit = limitOrDefault(page.Limit)
	return e.Repo.ListInscriptionSummaries(ctx, repo.InscriptionFilters{OpportunityID: opportunityID, Page: page})
}

// GetInscription returns the inscription with its active phases in phase order.
func (e Engine) GetInscription(ctx context.Context, id string) (domain.Inscription, error) {
	in, err := e.Repo.GetInscription(ctx, id)
	if err != nil {
		return domain.Inscription{}, notFound(err, domain.EntityInscription, id)
	}
	in.Phases, err = e.Repo.ListInscriptionPhases(ctx, id)
	if err != nil {
		return domain.Inscription{}, err
	}
	return in, nil
}

func (e Engine) RemoveInscription(ctx context.Context, id, actorID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.now()
	if err := e.Repo.SoftDeleteInscription(ctx, tx, id, now); err != nil {
		return notFound(err, domain.EntityInscription, id)
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityInscription,
		EntityID:   id,
		Action:     domain.ActionDeleted,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notify(ctx, "inscription.removed", actorID, entries)
	return nil
}
