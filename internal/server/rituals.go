package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/repo"
)

func registerRecommendations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "workload",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/profiles/{profile_id}/workload",
		Summary:     "Workload score of a member, 0 to 100",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		ProfileID string `path:"profile_id"`
	}) (*out[WorkloadResponse], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "recommend.read"); err != nil {
			return nil, err
		}
		score, err := e.CalculateWorkloadScore(ctx, input.FoundryID, input.ProfileID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(WorkloadResponse{ProfileID: input.ProfileID, WorkloadScore: score}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-assignees",
		Method:      http.MethodPost,
		Path:        "/foundries/{foundry_id}/assignees/suggest",
		Summary:     "Rank members for a task by skills and workload",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body SuggestRequest
	}) (*out[SuggestionList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "recommend.read"); err != nil {
			return nil, err
		}
		items, err := e.SuggestTaskAssignees(ctx, engine.SuggestOptions{
			FoundryID: input.FoundryID,
			Required:  input.Body.RequiredSkills,
			Preferred: input.Body.PreferredSkills,
			Exclude:   input.Body.Exclude,
			Limit:     input.Body.Limit,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(SuggestionList{Items: nonNilSlice(items)}), nil
	})
}

func registerRituals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-standup",
		Method:      http.MethodPost,
		Path:        "/foundries/{foundry_id}/standups",
		Summary:     "Submit or replace your standup for a day",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body StandupRequest
	}) (*out[domain.Standup], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SubmitStandup(ctx, engine.StandupInput{
			FoundryID: input.FoundryID,
			Date:      input.Body.Date,
			Yesterday: input.Body.Yesterday,
			Today:     input.Body.Today,
			Blockers:  input.Body.Blockers,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-standups",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/standups",
		Summary:     "Standups for a day",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Date string `query:"date" format:"date" doc:"defaults to today (UTC)"`
	}) (*out[StandupList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "profile.read"); err != nil {
			return nil, err
		}
		items, err := e.ListStandups(ctx, input.FoundryID, input.Date)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(StandupList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-standup-today",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/standups/today",
		Summary:     "Your standup for today, null when not submitted",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *FoundryParam) (*out[StandupResponse], error) {
		actorID, err := requirePermission(ctx, e, input.FoundryID, "profile.read")
		if err != nil {
			return nil, err
		}
		s, err := e.GetMyTodayStandup(ctx, input.FoundryID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(StandupResponse{Standup: s}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-presence",
		Method:      http.MethodPut,
		Path:        "/foundries/{foundry_id}/presence",
		Summary:     "Set your presence",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body PresenceRequest
	}) (*out[domain.Presence], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpsertPresence(ctx, engine.PresenceInput{
			FoundryID:     input.FoundryID,
			Status:        input.Body.Status,
			StatusMessage: input.Body.StatusMessage,
			Timezone:      input.Body.Timezone,
			CurrentTaskID: input.Body.CurrentTaskID,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-presence",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/presence",
		Summary:     "Presence of every member",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *FoundryParam) (*out[PresenceList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "profile.read"); err != nil {
			return nil, err
		}
		items, err := e.ListPresence(ctx, input.FoundryID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(PresenceList{Items: nonNilSlice(items)}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/events",
		Summary:     "Event log, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Before     int64  `query:"before" doc:"return events with a smaller id"`
		Limit      int    `query:"limit"`
	}) (*out[EventList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "foundry.events.read"); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			FoundryID:  input.FoundryID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     input.Before,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := EventList{Items: nonNilSlice(items)}
		if len(items) == limit {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return reply(resp), nil
	})
}
