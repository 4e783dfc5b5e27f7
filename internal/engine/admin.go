package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"aurora/internal/domain"
	"aurora/internal/repo"
	"aurora/internal/timeline"
)

type AgentInput struct {
	Name        string
	OwnerUserID string
}

// AgentUpdate holds the fields to change; nil means unchanged.
type AgentUpdate struct {
	Name *string
}

func (e Engine) CreateAgent(ctx context.Context, in AgentInput, actorID string) (domain.Agent, error) {
	var v validator
	v.name("name", in.Name)
	v.required("owner_user_id", in.OwnerUserID)
	v.required("actor_id", actorID)
	if err := v.err(); err != nil {
		return domain.Agent{}, err
	}
	now := e.now()
	a := domain.Agent{
		ID:          uuid.NewString(),
		Name:        in.Name,
		OwnerUserID: in.OwnerUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Lifecycle:   domain.Active(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityAgent, EntityID: a.ID, Action: domain.ActionCreated, Field: "name", To: a.Name,
	})
	if err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	e.notify(ctx, "agent.created", actorID, entries)
	return a, nil
}

func (e Engine) UpdateAgent(ctx context.Context, id string, upd AgentUpdate, actorID string) (domain.Agent, error) {
	var v validator
	if upd.Name != nil {
		v.name("name", *upd.Name)
	}
	v.required("actor_id", actorID)
	if err := v.err(); err != nil {
		return domain.Agent{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, id)
	if err != nil {
		return domain.Agent{}, notFound(err, domain.EntityAgent, id)
	}
	var changes []domain.TimelineEntry
	if upd.Name != nil && *upd.Name != a.Name {
		changes = append(changes, fieldChange(domain.EntityAgent, a.ID, "name", a.Name, *upd.Name))
		a.Name = *upd.Name
	}
	if len(changes) == 0 {
		return a, nil
	}
	now := e.now()
	a.UpdatedAt = now
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, notFound(err, domain.EntityAgent, id)
	}
	entries, err := e.record(ctx, tx, actorID, now, changes...)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	e.notify(ctx, "agent.updated", actorID, entries)
	return a, nil
}

func (e Engine) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	a, err := e.Repo.GetAgent(ctx, id)
	return a, notFound(err, domain.EntityAgent, id)
}

func (e Engine) ListAgents(ctx context.Context, f repo.AgentFilters) ([]domain.Agent, error) {
	f.Limit = limitOrDefault(f.Limit)
	return e.Repo.ListAgents(ctx, f)
}

// RemoveAgent soft-deletes an agent and every opportunity it created. A user
// always keeps at least one agent.
func (e Engine) RemoveAgent(ctx context.Context, id, actorID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, id)
	if err != nil {
		return notFound(err, domain.EntityAgent, id)
	}
	n, err := e.Repo.CountAgentsByOwnerTx(ctx, tx, a.OwnerUserID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return LastAgentError{AgentID: a.ID, OwnerUserID: a.OwnerUserID}
	}
	oppIDs, err := e.Repo.ListOpportunityIDsByCreatorTx(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	now := e.now()
	deletions := make([]domain.TimelineEntry, 0, len(oppIDs)+1)
	for _, oid := range oppIDs {
		if err := e.Repo.SoftDeleteOpportunity(ctx, tx, oid, now); err != nil {
			return fmt.Errorf("remove opportunity %s: %w", oid, err)
		}
		deletions = append(deletions, domain.TimelineEntry{EntityType: domain.EntityOpportunity, EntityID: oid, Action: domain.ActionDeleted})
	}
	if err := e.Repo.SoftDeleteAgent(ctx, tx, a.ID, now); err != nil {
		return notFound(err, domain.EntityAgent, id)
	}
	deletions = append(deletions, domain.TimelineEntry{EntityType: domain.EntityAgent, EntityID: a.ID, Action: domain.ActionDeleted})
	entries, err := e.record(ctx, tx, actorID, now, deletions...)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notify(ctx, "agent.removed", actorID, entries)
	return nil
}

type PhaseInput struct {
	Name           string
	SequenceNumber int
	OpensAt        time.Time
	ClosesAt       time.Time
}

type OpportunityInput struct {
	Name      string
	CreatedBy string
	OpenAt    time.Time
	CloseAt   time.Time
	Phases    []PhaseInput
}

type OpportunityUpdate struct {
	Name    *string
	OpenAt  *time.Time
	CloseAt *time.Time
}

type PhaseUpdate struct {
	Name     *string
	OpensAt  *time.Time
	ClosesAt *time.Time
}

// validateOpportunity checks the input and fills zero sequence numbers with 1..n.
func validateOpportunity(in *OpportunityInput, actorID string) error {
	var v validator
	v.name("name", in.Name)
	v.required("created_by", in.CreatedBy)
	v.required("actor_id", actorID)
	v.window("open_at", "close_at", in.OpenAt, in.CloseAt)
	if len(in.Phases) == 0 {
		v.add("phases", "at least one phase is required")
		return v.err()
	}
	zero := 0
	for _, p := range in.Phases {
		if p.SequenceNumber == 0 {
			zero++
		}
	}
	switch zero {
	case len(in.Phases):
		for i := range in.Phases {
			in.Phases[i].SequenceNumber = i + 1
		}
	case 0:
	default:
		v.add("phases", "sequence_number must be set on every phase or on none")
	}
	for i, p := range in.Phases {
		prefix := "phases[" + strconv.Itoa(i) + "]"
		v.name(prefix+".name", p.Name)
		v.window(prefix+".opens_at", prefix+".closes_at", p.OpensAt, p.ClosesAt)
		if p.SequenceNumber < 0 {
			v.add(prefix+".sequence_number", "must be positive")
		}
		if i > 0 && zero == 0 && p.SequenceNumber <= in.Phases[i-1].SequenceNumber {
			v.add(prefix+".sequence_number", "must be greater than the previous phase")
		}
	}
	return v.err()
}

func (e Engine) CreateOpportunity(ctx context.Context, in OpportunityInput, actorID string) (domain.Opportunity, error) {
	if err := validateOpportunity(&in, actorID); err != nil {
		return domain.Opportunity{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Opportunity{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetAgentTx(ctx, tx, in.CreatedBy); err != nil {
		return domain.Opportunity{}, notFound(err, domain.EntityAgent, in.CreatedBy)
	}
	now := e.now()
	o := domain.Opportunity{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Slug:      slug.Make(in.Name),
		CreatedBy: in.CreatedBy,
		OpenAt:    in.OpenAt.UTC(),
		CloseAt:   in.CloseAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
		Lifecycle: domain.Active(),
	}
	if err := e.Repo.InsertOpportunity(ctx, tx, o); err != nil {
		return domain.Opportunity{}, fmt.Errorf("insert opportunity: %w", err)
	}
	for _, pin := range in.Phases {
		p := domain.Phase{
			ID:             uuid.NewString(),
			OpportunityID:  o.ID,
			SequenceNumber: pin.SequenceNumber,
			Name:           pin.Name,
			OpensAt:        pin.OpensAt.UTC(),
			ClosesAt:       pin.ClosesAt.UTC(),
			CreatedAt:      now,
		}
		if err := e.Repo.InsertPhase(ctx, tx, p); err != nil {
			return domain.Opportunity{}, fmt.Errorf("insert phase: %w", err)
		}
		o.Phases = append(o.Phases, p)
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityOpportunity, EntityID: o.ID, Action: domain.ActionCreated, Field: "name", To: o.Name,
	})
	if err != nil {
		return domain.Opportunity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Opportunity{}, err
	}
	e.notify(ctx, "opportunity.created", actorID, entries)
	return o, nil
}

func (e Engine) UpdateOpportunity(ctx context.Context, id string, upd OpportunityUpdate, actorID string) (domain.Opportunity, error) {
	var v validator
	if upd.Name != nil {
		v.name("name", *upd.Name)
	}
	v.required("actor_id", actorID)
	if err := v.err(); err != nil {
		return domain.Opportunity{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Opportunity{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOpportunityTx(ctx, tx, id)
	if err != nil {
		return domain.Opportunity{}, notFound(err, domain.EntityOpportunity, id)
	}
	var changes []domain.TimelineEntry
	if upd.Name != nil && *upd.Name != o.Name {
		changes = append(changes, fieldChange(domain.EntityOpportunity, o.ID, "name", o.Name, *upd.Name))
		o.Name = *upd.Name
		if s := slug.Make(o.Name); s != o.Slug {
			changes = append(changes, fieldChange(domain.EntityOpportunity, o.ID, "slug", o.Slug, s))
			o.Slug = s
		}
	}
	if upd.OpenAt != nil && !upd.OpenAt.Equal(o.OpenAt) {
		changes = append(changes, timeChange(domain.EntityOpportunity, o.ID, "open_at", o.OpenAt, *upd.OpenAt))
		o.OpenAt = upd.OpenAt.UTC()
	}
	if upd.CloseAt != nil && !upd.CloseAt.Equal(o.CloseAt) {
		changes = append(changes, timeChange(domain.EntityOpportunity, o.ID, "close_at", o.CloseAt, *upd.CloseAt))
		o.CloseAt = upd.CloseAt.UTC()
	}
	v.window("open_at", "close_at", o.OpenAt, o.CloseAt)
	if err := v.err(); err != nil {
		return domain.Opportunity{}, err
	}
	if len(changes) == 0 {
		return o, nil
	}
	now := e.now()
	o.UpdatedAt = now
	if err := e.Repo.UpdateOpportunity(ctx, tx, o); err != nil {
		return domain.Opportunity{}, notFound(err, domain.EntityOpportunity, id)
	}
	entries, err := e.record(ctx, tx, actorID, now, changes...)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Opportunity{}, err
	}
	e.notify(ctx, "opportunity.updated", actorID, entries)
	return o, nil
}

func (e Engine) RemoveOpportunity(ctx context.Context, id, actorID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.now()
	if err := e.Repo.SoftDeleteOpportunity(ctx, tx, id, now); err != nil {
		return notFound(err, domain.EntityOpportunity, id)
	}
	entries, err := e.record(ctx, tx, actorID, now, domain.TimelineEntry{
		EntityType: domain.EntityOpportunity, EntityID: id, Action: domain.ActionDeleted,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notify(ctx, "opportunity.removed", actorID, entries)
	return nil
}

func (e Engine) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	o, err := e.Repo.GetOpportunity(ctx, id)
	return o, notFound(err, domain.EntityOpportunity, id)
}

func (e Engine) ListOpportunities(ctx context.Context, f repo.OpportunityFilters) ([]domain.Opportunity, error) {
	f.Limit = limitOrDefault(f.Limit)
	return e.Repo.ListOpportunities(ctx, f)
}

// UpdatePhase edits a phase that no inscription has reached yet.
func (e Engine) UpdatePhase(ctx context.Context, id string, upd PhaseUpdate, actorID string) (domain.Phase, error) {
	var v validator
	if upd.Name != nil {
		v.name("name", *upd.Name)
	}
	v.required("actor_id", actorID)
	if err := v.err(); err != nil {
		return domain.Phase{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Phase{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.LockPhaseTx(ctx, tx, id)
	if err != nil {
		return domain.Phase{}, notFound(err, domain.EntityPhase, id)
	}
	locked, err := e.Repo.PhaseReferencedTx(ctx, tx, id)
	if err != nil {
		return domain.Phase{}, err
	}
	if locked {
		return domain.Phase{}, PhaseLockedError{PhaseID: id}
	}
	var changes []domain.TimelineEntry
	if upd.Name != nil && *upd.Name != p.Name {
		changes = append(changes, fieldChange(domain.EntityPhase, p.ID, "name", p.Name, *upd.Name))
		p.Name = *upd.Name
	}
	if upd.OpensAt != nil && !upd.OpensAt.Equal(p.OpensAt) {
		changes = append(changes, timeChange(domain.EntityPhase, p.ID, "opens_at", p.OpensAt, *upd.OpensAt))
		p.OpensAt = upd.OpensAt.UTC()
	}
	if upd.ClosesAt != nil && !upd.ClosesAt.Equal(p.ClosesAt) {
		changes = append(changes, timeChange(domain.EntityPhase, p.ID, "closes_at", p.ClosesAt, *upd.ClosesAt))
		p.ClosesAt = upd.ClosesAt.UTC()
	}
	v.window("opens_at", "closes_at", p.OpensAt, p.ClosesAt)
	if err := v.err(); err != nil {
		return domain.Phase{}, err
	}
	if len(changes) == 0 {
		return p, nil
	}
	if err := e.Repo.UpdatePhase(ctx, tx, p); err != nil {
		return domain.Phase{}, notFound(err, domain.EntityPhase, id)
	}
	entries, err := e.record(ctx, tx, actorID, e.now(), changes...)
	if err != nil {
		return domain.Phase{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Phase{}, err
	}
	e.notify(ctx, "phase.updated", actorID, entries)
	return p, nil
}

var timelineEntities = map[string]bool{
	domain.EntityAgent:            true,
	domain.EntityOpportunity:      true,
	domain.EntityPhase:            true,
	domain.EntityInscription:      true,
	domain.EntityInscriptionPhase: true,
}

// ListTimeline returns one page of an entity's timeline, oldest first.
func (e Engine) ListTimeline(ctx context.Context, q timeline.Query) ([]domain.TimelineEntry, timeline.Cursor, error) {
	var v validator
	if !timelineEntities[q.EntityType] {
		v.add("entity_type", "unknown entity type")
	}
	v.required("entity_id", q.EntityID)
	if err := v.err(); err != nil {
		return nil, timeline.Cursor{}, err
	}
	q.Limit = limitOrDefault(q.Limit)
	return e.Reader.Page(ctx, q)
}

func fieldChange(entityType, id, field, from, to string) domain.TimelineEntry {
	return domain.TimelineEntry{EntityType: entityType, EntityID: id, Action: domain.ActionUpdated, Field: field, From: from, To: to}
}

func timeChange(entityType, id, field string, from, to time.Time) domain.TimelineEntry {
	return fieldChange(entityType, id, field, domain.FormatTime(from), domain.FormatTime(to))
}
