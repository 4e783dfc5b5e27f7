package server

import (
	"time"

	"aurora/internal/domain"
	"aurora/internal/engine"
)

// Request payloads

type CreateAgentRequest struct {
	Name        string `json:"name"`
	OwnerUserID string `json:"owner_user_id"`
}

type UpdateAgentRequest struct {
	Name *string `json:"name,omitempty"`
}

type PhaseRequest struct {
	Name           string    `json:"name"`
	SequenceNumber int       `json:"sequence_number,omitempty" minimum:"0"`
	OpensAt        time.Time `json:"opens_at"`
	ClosesAt       time.Time `json:"closes_at"`
}

type CreateOpportunityRequest struct {
	Name      string         `json:"name"`
	CreatedBy string         `json:"created_by"`
	OpenAt    time.Time      `json:"open_at"`
	CloseAt   time.Time      `json:"close_at"`
	Phases    []PhaseRequest `json:"phases"`
}

type UpdateOpportunityRequest struct {
	Name    *string    `json:"name,omitempty"`
	OpenAt  *time.Time `json:"open_at,omitempty"`
	CloseAt *time.Time `json:"close_at,omitempty"`
}

type UpdatePhaseRequest struct {
	Name     *string    `json:"name,omitempty"`
	OpensAt  *time.Time `json:"opens_at,omitempty"`
	ClosesAt *time.Time `json:"closes_at,omitempty"`
}

type CreateInscriptionRequest struct {
	AgentID string `json:"agent_id"`
}

type SetStatusRequest struct {
	Status domain.Status `json:"status" enum:"pending,approved,rejected,waitlisted"`
}

// Response payloads

type AgentResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PhaseResponse struct {
	ID             string    `json:"id"`
	OpportunityID  string    `json:"opportunity_id"`
	SequenceNumber int       `json:"sequence_number"`
	Name           string    `json:"name"`
	OpensAt        time.Time `json:"opens_at"`
	ClosesAt       time.Time `json:"closes_at"`
}

type OpportunityResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	CreatedBy string          `json:"created_by"`
	OpenAt    time.Time       `json:"open_at"`
	CloseAt   time.Time       `json:"close_at"`
	Phases    []PhaseResponse `json:"phases,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type InscriptionPhaseResponse struct {
	ID            string        `json:"id"`
	InscriptionID string        `json:"inscription_id"`
	PhaseID       string        `json:"phase_id"`
	Status        domain.Status `json:"status" enum:"pending,approved,rejected,waitlisted"`
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type InscriptionResponse struct {
	ID            string                     `json:"id"`
	AgentID       string                     `json:"agent_id"`
	OpportunityID string                     `json:"opportunity_id"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
	Phases        []InscriptionPhaseResponse `json:"phases,omitempty"`
	Current       *domain.CurrentPhase       `json:"current,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type paginatedAgents struct {
	Items      []AgentResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedOpportunities struct {
	Items      []OpportunityResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedInscriptions struct {
	Items      []InscriptionResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedTimeline struct {
	Items      []domain.TimelineEntry `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func agentResponse(a domain.Agent) AgentResponse {
	return AgentResponse{ID: a.ID, Name: a.Name, OwnerUserID: a.OwnerUserID, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

func phaseResponse(p domain.Phase) PhaseResponse {
	return PhaseResponse{
		ID:             p.ID,
		OpportunityID:  p.OpportunityID,
		SequenceNumber: p.SequenceNumber,
		Name:           p.Name,
		OpensAt:        p.OpensAt,
		ClosesAt:       p.ClosesAt,
	}
}

func opportunityResponse(o domain.Opportunity) OpportunityResponse {
	res := OpportunityResponse{
		ID:        o.ID,
		Name:      o.Name,
		Slug:      o.Slug,
		CreatedBy: o.CreatedBy,
		OpenAt:    o.OpenAt,
		CloseAt:   o.CloseAt,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	for _, p := range o.Phases {
		res.Phases = append(res.Phases, phaseResponse(p))
	}
	return res
}

func inscriptionPhaseResponse(ip domain.InscriptionPhase) InscriptionPhaseResponse {
	return InscriptionPhaseResponse{
		ID:            ip.ID,
		InscriptionID: ip.InscriptionID,
		PhaseID:       ip.PhaseID,
		Status:        ip.Status,
		Version:       ip.Version,
		CreatedAt:     ip.CreatedAt,
		UpdatedAt:     ip.UpdatedAt,
	}
}

func inscriptionResponse(in domain.Inscription) InscriptionResponse {
	res := InscriptionResponse{
		ID:            in.ID,
		AgentID:       in.AgentID,
		OpportunityID: in.OpportunityID,
		CreatedAt:     in.CreatedAt,
		UpdatedAt:     in.UpdatedAt,
	}
	for _, ip := range in.Phases {
		res.Phases = append(res.Phases, inscriptionPhaseResponse(ip))
	}
	return res
}

func summaryResponse(s domain.InscriptionSummary) InscriptionResponse {
	res := inscriptionResponse(s.Inscription)
	current := s.Current
	res.Current = &current
	return res
}

func agentInput(req CreateAgentRequest) engine.AgentInput {
	return engine.AgentInput{Name: req.Name, OwnerUserID: req.OwnerUserID}
}

func opportunityInput(req CreateOpportunityRequest) engine.OpportunityInput {
	in := engine.OpportunityInput{
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
		OpenAt:    req.OpenAt,
		CloseAt:   req.CloseAt,
	}
	for _, p := range req.Phases {
		in.Phases = append(in.Phases, engine.PhaseInput{
			Name:           p.Name,
			SequenceNumber: p.SequenceNumber,
			OpensAt:        p.OpensAt,
			ClosesAt:       p.ClosesAt,
		})
	}
	return in
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
