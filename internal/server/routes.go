package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"aurora/internal/domain"
	"aurora/internal/engine"
	"aurora/internal/repo"
	"aurora/internal/timeline"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(principal.Roles),
			Source:  principal.Source,
		}}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAgent(ctx, agentInput(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OwnerUserID string `query:"owner_user_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedAgents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		page, cerr := parsePageCursor(input.Cursor, limit+1)
		if cerr != nil {
			return nil, cerr
		}
		items, err := e.ListAgents(ctx, repo.AgentFilters{OwnerUserID: input.OwnerUserID, Page: page})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		out := make([]AgentResponse, 0, len(items))
		for _, a := range items {
			out = append(out, agentResponse(a))
		}
		return &struct {
			Body paginatedAgents `json:"body"`
		}{Body: paginatedAgents{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, err := e.GetAgent(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{agent_id}",
		Summary:     "Update agent",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AgentID string             `path:"agent_id"`
		Body    UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAgent(ctx, input.AgentID, engine.AgentUpdate{Name: input.Body.Name}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-agent",
		Method:        http.MethodDelete,
		Path:          "/agents/{agent_id}",
		Summary:       "Remove agent and the opportunities it created",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveAgent(ctx, input.AgentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerOpportunities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-opportunity",
		Method:        http.MethodPost,
		Path:          "/opportunities",
		Summary:       "Create opportunity with its phases",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateOpportunityRequest `json:"body"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOpportunity(ctx, opportunityInput(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-opportunities",
		Method:      http.MethodGet,
		Path:        "/opportunities",
		Summary:     "List opportunities",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CreatedBy string `query:"created_by"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedOpportunities `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		page, cerr := parsePageCursor(input.Cursor, limit+1)
		if cerr != nil {
			return nil, cerr
		}
		items, err := e.ListOpportunities(ctx, repo.OpportunityFilters{CreatedBy: input.CreatedBy, Page: page})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		out := make([]OpportunityResponse, 0, len(items))
		for _, o := range items {
			out = append(out, opportunityResponse(o))
		}
		return &struct {
			Body paginatedOpportunities `json:"body"`
		}{Body: paginatedOpportunities{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-opportunity",
		Method:      http.MethodGet,
		Path:        "/opportunities/{opportunity_id}",
		Summary:     "Get opportunity with phases",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		o, err := e.GetOpportunity(ctx, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-opportunity",
		Method:      http.MethodPatch,
		Path:        "/opportunities/{opportunity_id}",
		Summary:     "Update opportunity",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		OpportunityID string                   `path:"opportunity_id"`
		Body          UpdateOpportunityRequest `json:"body"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		upd := engine.OpportunityUpdate{Name: input.Body.Name, OpenAt: input.Body.OpenAt, CloseAt: input.Body.CloseAt}
		o, err := e.UpdateOpportunity(ctx, input.OpportunityID, upd, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-opportunity",
		Method:        http.MethodDelete,
		Path:          "/opportunities/{opportunity_id}",
		Summary:       "Remove opportunity",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveOpportunity(ctx, input.OpportunityID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-phase",
		Method:      http.MethodPatch,
		Path:        "/phases/{phase_id}",
		Summary:     "Update a phase no inscription has reached",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PhaseID string             `path:"phase_id"`
		Body    UpdatePhaseRequest `json:"body"`
	}) (*struct {
		Body PhaseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		upd := engine.PhaseUpdate{Name: input.Body.Name, OpensAt: input.Body.OpensAt, ClosesAt: input.Body.ClosesAt}
		p, err := e.UpdatePhase(ctx, input.PhaseID, upd, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PhaseResponse `json:"body"`
		}{Body: phaseResponse(p)}, nil
	})
}

func registerInscriptions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-inscription",
		Method:        http.MethodPost,
		Path:          "/opportunities/{opportunity_id}/inscriptions",
		Summary:       "Inscribe an agent into the first phase",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		OpportunityID string                   `path:"opportunity_id"`
		Body          CreateInscriptionRequest `json:"body"`
	}) (*struct {
		Body InscriptionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.CreateInscription(ctx, input.Body.AgentID, input.OpportunityID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InscriptionResponse `json:"body"`
		}{Body: inscriptionResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inscriptions",
		Method:      http.MethodGet,
		Path:        "/opportunities/{opportunity_id}/inscriptions",
		Summary:     "List inscriptions with their current phase",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*struct {
		Body paginatedInscriptions `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		page, cerr := parsePageCursor(input.Cursor, limit+1)
		if cerr != nil {
			return nil, cerr
		}
		items, err := e.ListInscriptionsPage(ctx, input.OpportunityID, page)
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		out := make([]InscriptionResponse, 0, len(items))
		for _, s := range items {
			out = append(out, summaryResponse(s))
		}
		return &struct {
			Body paginatedInscriptions `json:"body"`
		}{Body: paginatedInscriptions{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inscription",
		Method:      http.MethodGet,
		Path:        "/inscriptions/{inscription_id}",
		Summary:     "Get inscription with its phases",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InscriptionID string `path:"inscription_id"`
	}) (*struct {
		Body InscriptionResponse `json:"body"`
	}, error) {
		in, err := e.GetInscription(ctx, input.InscriptionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InscriptionResponse `json:"body"`
		}{Body: inscriptionResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-inscription",
		Method:        http.MethodDelete,
		Path:          "/inscriptions/{inscription_id}",
		Summary:       "Remove inscription",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		InscriptionID string `path:"inscription_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveInscription(ctx, input.InscriptionID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-inscription",
		Method:      http.MethodPost,
		Path:        "/inscriptions/{inscription_id}/advance",
		Summary:     "Advance to the next phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		InscriptionID string `path:"inscription_id"`
	}) (*struct {
		Body InscriptionPhaseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ip, err := e.Advance(ctx, input.InscriptionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InscriptionPhaseResponse `json:"body"`
		}{Body: inscriptionPhaseResponse(ip)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-inscription",
		Method:      http.MethodPost,
		Path:        "/inscriptions/{inscription_id}/rollback",
		Summary:     "Return to the previous phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		InscriptionID string `path:"inscription_id"`
	}) (*struct {
		Body InscriptionPhaseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ip, err := e.RollbackPhase(ctx, input.InscriptionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InscriptionPhaseResponse `json:"body"`
		}{Body: inscriptionPhaseResponse(ip)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-inscription-phase-status",
		Method:      http.MethodPut,
		Path:        "/inscription-phases/{inscription_phase_id}/status",
		Summary:     "Set status at the current phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		InscriptionPhaseID string           `path:"inscription_phase_id"`
		Body               SetStatusRequest `json:"body"`
	}) (*struct {
		Body InscriptionPhaseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ip, err := e.SetStatus(ctx, input.InscriptionPhaseID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InscriptionPhaseResponse `json:"body"`
		}{Body: inscriptionPhaseResponse(ip)}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-timeline",
		Method:      http.MethodGet,
		Path:        "/timeline/{entity_type}/{entity_id}",
		Summary:     "List timeline entries of one entity, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		EntityID   string `path:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTimeline `json:"body"`
	}, error) {
		after, err := timeline.ParseCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
		}
		items, next, err := e.ListTimeline(ctx, timeline.Query{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			After:      after,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.TimelineEntry{}
		}
		return &struct {
			Body paginatedTimeline `json:"body"`
		}{Body: paginatedTimeline{Items: items, NextCursor: next.String()}}, nil
	})
}
