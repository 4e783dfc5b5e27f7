package domain

import "time"

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Lifecycle   Lifecycle `json:"lifecycle"`
}

type Opportunity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedBy string    `json:"created_by"`
	OpenAt    time.Time `json:"open_at"`
	CloseAt   time.Time `json:"close_at"`
	Phases    []Phase   `json:"phases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lifecycle Lifecycle `json:"lifecycle"`
}

// Phase is one step of an opportunity's selection pipeline.
type Phase struct {
	ID             string    `json:"id"`
	OpportunityID  string    `json:"opportunity_id"`
	SequenceNumber int       `json:"sequence_number"`
	Name           string    `json:"name"`
	OpensAt        time.Time `json:"opens_at"`
	ClosesAt       time.Time `json:"closes_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// OpenAt reports whether t falls inside the phase window [OpensAt, ClosesAt).
func (p Phase) OpenAt(t time.Time) bool {
	return !t.Before(p.OpensAt) && t.Before(p.ClosesAt)
}

type Inscription struct {
	ID            string             `json:"id"`
	AgentID       string             `json:"agent_id"`
	OpportunityID string             `json:"opportunity_id"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Lifecycle     Lifecycle          `json:"lifecycle"`
	Phases        []InscriptionPhase `json:"phases,omitempty"`
}

// InscriptionPhase records the status of an inscription at one phase.
// Version increases on every write and backs optimistic concurrency.
type InscriptionPhase struct {
	ID            string    `json:"id"`
	InscriptionID string    `json:"inscription_id"`
	PhaseID       string    `json:"phase_id"`
	Status        Status    `json:"status" enum:"pending,approved,rejected,waitlisted"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Lifecycle     Lifecycle `json:"lifecycle"`
}

// CurrentPhase is the highest-sequence active phase an inscription reached.
type CurrentPhase struct {
	InscriptionPhaseID string    `json:"inscription_phase_id"`
	PhaseID            string    `json:"phase_id"`
	SequenceNumber     int       `json:"sequence_number"`
	Name               string    `json:"name"`
	Status             Status    `json:"status" enum:"pending,approved,rejected,waitlisted"`
	Version            int       `json:"version"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// InscriptionSummary is an inscription together with its current phase.
type InscriptionSummary struct {
	Inscription
	Current CurrentPhase `json:"current"`
}

type TimelineEntry struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     Action    `json:"action" enum:"created,updated,deleted"`
	Field      string    `json:"field,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	ActorID    string    `json:"actor_id"`
	At         time.Time `json:"at"`
}

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Entity types used on timeline entries.
const (
	EntityAgent            = "agent"
	EntityOpportunity      = "opportunity"
	EntityPhase            = "phase"
	EntityInscription      = "inscription"
	EntityInscriptionPhase = "inscription_phase"
)
