package engine

import (
	"fmt"
	"strings"

	"aurora/internal/domain"
)

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field-level problem found in an input.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type IllegalTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// NotEligibleError means the current phase is not approved.
type NotEligibleError struct {
	InscriptionID string
	Status        domain.Status
}

func (e NotEligibleError) Error() string {
	return fmt.Sprintf("inscription %s not eligible to advance: current status %s", e.InscriptionID, e.Status)
}

type PhaseNotOpenError struct {
	PhaseID  string
	OpensAt  string
	ClosesAt string
}

func (e PhaseNotOpenError) Error() string {
	return fmt.Sprintf("phase %s is not open (window %s to %s)", e.PhaseID, e.OpensAt, e.ClosesAt)
}

type NoNextPhaseError struct {
	InscriptionID string
}

func (e NoNextPhaseError) Error() string {
	return fmt.Sprintf("inscription %s is at the last phase", e.InscriptionID)
}

type NoPreviousPhaseError struct {
	InscriptionID string
}

func (e NoPreviousPhaseError) Error() string {
	return fmt.Sprintf("inscription %s is at the first phase", e.InscriptionID)
}

type DuplicateInscriptionError struct {
	AgentID       string
	OpportunityID string
}

func (e DuplicateInscriptionError) Error() string {
	return fmt.Sprintf("agent %s already has an inscription to opportunity %s", e.AgentID, e.OpportunityID)
}

type OpportunityClosedError struct {
	OpportunityID string
}

func (e OpportunityClosedError) Error() string {
	return fmt.Sprintf("opportunity %s is not accepting inscriptions", e.OpportunityID)
}

// ConcurrentModificationError is returned when a write lost a race twice in a row.
type ConcurrentModificationError struct {
	Entity string
	ID     string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

type PhaseLockedError struct {
	PhaseID string
}

func (e PhaseLockedError) Error() string {
	return fmt.Sprintf("phase %s is referenced by inscriptions and cannot change", e.PhaseID)
}

type LastAgentError struct {
	AgentID     string
	OwnerUserID string
}

func (e LastAgentError) Error() string {
	return fmt.Sprintf("agent %s is the only agent of user %s", e.AgentID, e.OwnerUserID)
}
