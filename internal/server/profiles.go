package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foundry/internal/domain"
	"foundry/internal/engine"
)

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/profiles",
		Summary:       "Create a profile and add it to the foundry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body CreateProfileRequest
	}) (*out[domain.Profile], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{
			ID:            input.Body.ID,
			FullName:      input.Body.FullName,
			Kind:          input.Body.Kind,
			Role:          input.Body.Role,
			Skills:        input.Body.Skills,
			CapacityScore: input.Body.CapacityScore,
			FoundryID:     input.FoundryID,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/profiles",
		Summary:     "List foundry members",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *FoundryParam) (*out[MemberList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "profile.read"); err != nil {
			return nil, err
		}
		items, err := e.ListProfiles(ctx, input.FoundryID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(MemberList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/profiles/{profile_id}",
		Summary:     "Get a foundry member",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		ProfileID string `path:"profile_id"`
	}) (*out[domain.Member], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "profile.read"); err != nil {
			return nil, err
		}
		m, err := e.Repo.GetMember(ctx, e.DB, input.FoundryID, input.ProfileID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/members",
		Summary:       "Add an existing profile to the foundry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body AddMemberRequest
	}) (*out[domain.Member], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddMember(ctx, input.FoundryID, input.Body.ProfileID, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		m, err := e.Repo.GetMember(ctx, e.DB, input.FoundryID, input.Body.ProfileID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/teams",
		Summary:       "Create a team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body CreateTeamRequest
	}) (*out[domain.Team], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTeam(ctx, input.FoundryID, input.Body.Name, input.Body.MemberIDs, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/teams",
		Summary:     "List teams",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *FoundryParam) (*out[TeamList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "profile.read"); err != nil {
			return nil, err
		}
		items, err := e.ListTeams(ctx, input.FoundryID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(TeamList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-team-member",
		Method:      http.MethodPost,
		Path:        "/foundries/{foundry_id}/teams/{team_id}/members",
		Summary:     "Add a member to a team",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		TeamID string `path:"team_id"`
		Body   AddMemberRequest
	}) (*out[domain.Team], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		team, err := e.Repo.GetTeam(ctx, e.DB, input.TeamID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if team.FoundryID != input.FoundryID {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("team %s not found in foundry %s", input.TeamID, input.FoundryID), nil)
		}
		team, err = e.AddTeamMember(ctx, input.TeamID, input.Body.ProfileID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(team), nil
	})

	registerAPIKeys(api, e)
}

type ProfileParam struct {
	ProfileID string `path:"profile_id"`
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/profiles/{profile_id}/api-keys",
		Summary:       "Issue an API key for your own profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileParam
		Body CreateAPIKeyRequest
	}) (*out[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, key, err := e.CreateAPIKey(ctx, input.ProfileID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(APIKeyResponse{Key: raw, APIKey: key}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/api-keys",
		Summary:     "List your API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *ProfileParam) (*out[APIKeyList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ProfileID != actorID {
			return nil, handleError(ctx, engine.ErrNotTaskActor)
		}
		keys, err := e.ListAPIKeys(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(APIKeyList{Items: nonNilSlice(keys)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/profiles/{profile_id}/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileParam
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ProfileID != actorID {
			return nil, handleError(ctx, engine.ErrNotTaskActor)
		}
		if err := e.DeleteAPIKey(ctx, input.KeyID, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}
